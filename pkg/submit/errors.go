package submit

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/code-payments/counter-client/pkg/solana"
	"github.com/code-payments/counter-client/pkg/solana/system"
)

// ErrTimedOut indicates the transaction did not reach the requested
// commitment in time. It may still land.
var ErrTimedOut = errors.New("timed out waiting for transaction confirmation")

// RejectedError is a transaction failure reported by the chain, either by
// preflight simulation or after the transaction landed.
type RejectedError struct {
	Signature solana.Signature

	// Err is the error payload as reported by the chain.
	Err *solana.TransactionError

	// Logs are the program logs that accompanied the failure, if any.
	Logs []string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("transaction %s rejected: %v", e.Signature, e.Err)
}

func (e *RejectedError) Unwrap() error {
	if e.Err == nil {
		return nil
	}
	return e.Err
}

// IsAccountAlreadyInUse reports whether err is the chain refusing to create
// an account whose address is already in use.
func IsAccountAlreadyInUse(err error) bool {
	rejected, ok := asRejected(err)
	return ok && system.IsAccountAlreadyInUse(rejected.Err)
}

// IsInsufficientFunds reports whether err is the chain refusing a transaction
// because an account could not cover the fee or a transfer.
func IsInsufficientFunds(err error) bool {
	rejected, ok := asRejected(err)
	if !ok || rejected.Err == nil {
		return false
	}

	txErr := rejected.Err
	switch txErr.ErrorKey() {
	case solana.TransactionErrorInsufficientFundsForFee, solana.TransactionErrorInsufficientFundsForRent:
		return true
	}

	if system.IsResultWithNegativeLamports(txErr) {
		return true
	}
	ixnErr := txErr.InstructionError()
	return ixnErr != nil && ixnErr.ErrorKey() == solana.InstructionErrorInsufficientFunds
}

func asRejected(err error) (*RejectedError, bool) {
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		return nil, false
	}
	return rejected, true
}
