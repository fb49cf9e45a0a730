package solanatest

import (
	"bytes"
	"crypto/ed25519"

	"github.com/mr-tron/base58"

	"github.com/code-payments/counter-client/pkg/counter"
	"github.com/code-payments/counter-client/pkg/solana"
	compute_budget "github.com/code-payments/counter-client/pkg/solana/computebudget"
	"github.com/code-payments/counter-client/pkg/solana/system"
)

const maxPermittedDataLength = 10 * 1024 * 1024

func systemProgramKey() ed25519.PublicKey {
	return append(ed25519.PublicKey(nil), system.ProgramKey[:]...)
}

// systemProgram implements the CreateAccount and Transfer instructions of the
// system program.
func systemProgram(inv *Invocation) error {
	inv.UnitsConsumed = 150

	if lamports, err := system.DecodeTransfer(inv.Data); err == nil {
		if len(inv.Accounts) < 2 {
			return Fail(solana.InstructionErrorNotEnoughAccountKeys)
		}
		return transfer(inv, inv.Accounts[0], inv.Accounts[1], lamports)
	}

	create, err := system.DecodeCreateAccount(inv.Data)
	if err != nil {
		return Fail(solana.InstructionErrorInvalidInstructionData)
	}
	if len(inv.Accounts) < 2 {
		return Fail(solana.InstructionErrorNotEnoughAccountKeys)
	}

	funder, target := inv.Accounts[0], inv.Accounts[1]
	if target.Lamports > 0 {
		inv.Log("Create Account: account %s already in use", base58.Encode(target.PublicKey))
		return system.ErrorAccountAlreadyInUse
	}
	if !target.IsSigner {
		inv.Log("Allocate: 'to' account %s must sign", base58.Encode(target.PublicKey))
		return Fail(solana.InstructionErrorMissingRequiredSignature)
	}
	if len(target.Data) != 0 || !bytes.Equal(target.Owner, systemProgramKey()) {
		inv.Log("Allocate: account %s already in use", base58.Encode(target.PublicKey))
		return system.ErrorAccountAlreadyInUse
	}
	if create.Size > maxPermittedDataLength {
		return system.ErrorInvalidAccountDataLength
	}

	target.Data = make([]byte, create.Size)
	target.Owner = append(ed25519.PublicKey(nil), create.Owner...)
	return transfer(inv, funder, target, create.Lamports)
}

func transfer(inv *Invocation, from, to *AccountRef, lamports uint64) error {
	if !from.IsSigner {
		inv.Log("Transfer: `from` account %s must sign", base58.Encode(from.PublicKey))
		return Fail(solana.InstructionErrorMissingRequiredSignature)
	}
	if len(from.Data) != 0 {
		inv.Log("Transfer: `from` must not carry data")
		return Fail(solana.InstructionErrorInvalidArgument)
	}
	if lamports > from.Lamports {
		inv.Log("Transfer: insufficient lamports %d, need %d", from.Lamports, lamports)
		return system.ErrorResultWithNegativeLamports
	}

	from.Lamports -= lamports
	to.Lamports += lamports
	return nil
}

func computeBudgetProgram(inv *Invocation) error {
	inv.UnitsConsumed = 150

	if _, err := compute_budget.ParseSetComputeUnitLimitIxnData(inv.Data); err == nil {
		return nil
	}
	if _, err := compute_budget.ParseSetComputeUnitPriceIxnData(inv.Data); err == nil {
		return nil
	}
	return Fail(solana.InstructionErrorInvalidInstructionData)
}

// CounterProgram executes the counter program against the instruction's
// first account. An instruction with no accounts and no data is the hello
// world entrypoint, which only logs a greeting.
func CounterProgram(inv *Invocation) error {
	inv.UnitsConsumed = 300

	if len(inv.Accounts) == 0 {
		if len(inv.Data) == 0 {
			inv.Log("Hello, world!")
			return nil
		}
		return Fail(solana.InstructionErrorNotEnoughAccountKeys)
	}

	account := inv.Accounts[0]
	if !bytes.Equal(account.Owner, inv.Program) {
		inv.Log("counter account %s is not owned by the program", base58.Encode(account.PublicKey))
		return Fail(solana.InstructionErrorIncorrectProgramID)
	}
	if !account.IsWritable {
		return Fail(solana.InstructionErrorInvalidArgument)
	}

	cmd, err := counter.ParseCommand(inv.Data)
	if err != nil {
		return Fail(solana.InstructionErrorInvalidInstructionData)
	}
	if err := counter.Process(inv.Data, account.Data); err != nil {
		return Fail(solana.InstructionErrorInvalidAccountData)
	}

	value, _ := counter.DecodeCounter(account.Data)
	inv.Log("%s: counter = %d", cmd, value)
	return nil
}
