package system

import "github.com/code-payments/counter-client/pkg/solana"

// Custom error codes returned by the system program.
//
// Reference: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/program/src/system_instruction.rs#L15
const (
	ErrorAccountAlreadyInUse solana.CustomError = iota
	ErrorResultWithNegativeLamports
	ErrorInvalidProgramID
	ErrorInvalidAccountDataLength
	ErrorMaxSeedLengthExceeded
	ErrorAddressWithSeedMismatch
)

// IsAccountAlreadyInUse reports whether err is the system program rejecting
// the creation of an account that already exists.
func IsAccountAlreadyInUse(err *solana.TransactionError) bool {
	return hasCustomError(err, ErrorAccountAlreadyInUse)
}

// IsResultWithNegativeLamports reports whether err is the system program
// rejecting a debit larger than the source balance.
func IsResultWithNegativeLamports(err *solana.TransactionError) bool {
	return hasCustomError(err, ErrorResultWithNegativeLamports)
}

func hasCustomError(err *solana.TransactionError, code solana.CustomError) bool {
	if err == nil || err.InstructionError() == nil {
		return false
	}

	custom := err.InstructionError().CustomError()
	return custom != nil && *custom == code
}
