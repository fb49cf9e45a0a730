package solanatest

import (
	"bytes"
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/code-payments/counter-client/pkg/solana"
)

const (
	// LamportsPerSignature is the base fee charged per transaction signature.
	LamportsPerSignature = 5000

	rentAccountOverhead   = 128
	rentLamportsPerByteYr = 3480
	rentExemptionYears    = 2

	defaultComputeUnitLimit = 200_000
)

// RentExemption returns the minimum balance exempting an account holding size
// bytes of data from rent.
func RentExemption(size uint64) uint64 {
	return (size + rentAccountOverhead) * rentLamportsPerByteYr * rentExemptionYears
}

// Account is the state of a single account on the fake chain.
type Account struct {
	Lamports   uint64
	Owner      ed25519.PublicKey
	Data       []byte
	Executable bool
}

func (a *Account) clone() *Account {
	c := *a
	c.Owner = append(ed25519.PublicKey(nil), a.Owner...)
	c.Data = append([]byte(nil), a.Data...)
	return &c
}

// AccountRef is an account as seen by an executing instruction.
type AccountRef struct {
	*Account

	PublicKey  ed25519.PublicKey
	IsSigner   bool
	IsWritable bool
}

// Invocation is a single instruction being executed by a Program.
type Invocation struct {
	Program  ed25519.PublicKey
	Accounts []*AccountRef
	Data     []byte

	// UnitsConsumed is reported in the program's logs and the transaction
	// metadata.
	UnitsConsumed uint64

	logs []string
}

// Log appends a program log message.
func (i *Invocation) Log(format string, args ...interface{}) {
	i.logs = append(i.logs, "Program log: "+fmt.Sprintf(format, args...))
}

// Program executes an instruction. Returning a solana.CustomError, or an
// error from Fail, surfaces the corresponding InstructionError.
type Program func(inv *Invocation) error

type builtin struct {
	run Program

	// Builtins don't report compute consumption in their logs.
	native bool
}

type instructionKeyError solana.InstructionErrorKey

func (e instructionKeyError) Error() string {
	return string(e)
}

// Fail returns an error that surfaces as the given instruction error.
func Fail(key solana.InstructionErrorKey) error {
	return instructionKeyError(key)
}

type execution struct {
	err          *solana.TransactionError
	logs         []string
	fee          uint64
	preBalances  []uint64
	postBalances []uint64
	unitsUsed    uint64
}

// execute runs txn against a working copy of the chain state, committing it
// only if every instruction succeeds. The fee is charged in either case once
// the payer can cover it.
//
// Must be called with c.mu held.
func (c *Chain) execute(txn *solana.Transaction) *execution {
	m := txn.Message
	exec := &execution{
		fee: LamportsPerSignature * uint64(m.Header.NumSignatures),
	}

	payer := c.accounts[base58.Encode(m.Accounts[0])]
	if payer == nil {
		exec.err = solana.NewTransactionError(solana.TransactionErrorAccountNotFound)
		return exec
	}
	if payer.Lamports < exec.fee {
		exec.err = solana.NewTransactionError(solana.TransactionErrorInsufficientFundsForFee)
		return exec
	}

	working := make([]*Account, len(m.Accounts))
	for i, key := range m.Accounts {
		if existing, ok := c.accounts[base58.Encode(key)]; ok {
			working[i] = existing.clone()
		} else {
			working[i] = &Account{Owner: systemProgramKey()}
		}
		exec.preBalances = append(exec.preBalances, working[i].Lamports)
	}
	working[0].Lamports -= exec.fee

	for index, ci := range m.Instructions {
		program := m.Accounts[ci.ProgramIndex]
		programID := base58.Encode(program)

		p, ok := c.programs[programID]
		if !ok {
			exec.err = solana.NewTransactionError(solana.TransactionErrorProgramAccountNotFound)
			break
		}

		inv := &Invocation{
			Program: program,
			Data:    ci.Data,
		}
		before := make([]*Account, len(ci.Accounts))
		for i, accountIndex := range ci.Accounts {
			inv.Accounts = append(inv.Accounts, &AccountRef{
				Account:    working[accountIndex],
				PublicKey:  m.Accounts[accountIndex],
				IsSigner:   isSigner(m, int(accountIndex)),
				IsWritable: isWritable(m, int(accountIndex)),
			})
			before[i] = working[accountIndex].clone()
		}

		exec.logs = append(exec.logs, fmt.Sprintf("Program %s invoke [1]", programID))
		err := p.run(inv)
		if err == nil {
			err = checkModifications(inv, before)
		}
		exec.logs = append(exec.logs, inv.logs...)
		exec.unitsUsed += inv.UnitsConsumed
		if !p.native {
			exec.logs = append(exec.logs, fmt.Sprintf("Program %s consumed %d of %d compute units", programID, inv.UnitsConsumed, defaultComputeUnitLimit))
		}

		if err != nil {
			exec.logs = append(exec.logs, fmt.Sprintf("Program %s failed: %s", programID, instructionErr(err)))
			exec.err, _ = solana.TransactionErrorFromInstructionError(&solana.InstructionError{
				Index: index,
				Err:   instructionErr(err),
			})
			break
		}
		exec.logs = append(exec.logs, fmt.Sprintf("Program %s success", programID))
	}

	if exec.err == nil {
		exec.err = checkRent(working)
	}

	if exec.err != nil {
		// Only the fee sticks.
		payer.Lamports -= exec.fee
		for i := range m.Accounts {
			balance := exec.preBalances[i]
			if i == 0 {
				balance -= exec.fee
			}
			exec.postBalances = append(exec.postBalances, balance)
		}
		return exec
	}

	for i, key := range m.Accounts {
		exec.postBalances = append(exec.postBalances, working[i].Lamports)

		// Accounts drained of lamports are garbage collected.
		if working[i].Lamports == 0 {
			delete(c.accounts, base58.Encode(key))
			continue
		}
		c.accounts[base58.Encode(key)] = working[i]
	}
	return exec
}

// checkModifications enforces that an instruction only changed what the
// runtime allows it to.
func checkModifications(inv *Invocation, before []*Account) error {
	for i, ref := range inv.Accounts {
		prev := before[i]

		changed := !bytes.Equal(prev.Data, ref.Data) || !bytes.Equal(prev.Owner, ref.Owner) || prev.Lamports != ref.Lamports
		if changed && !ref.IsWritable {
			return Fail(solana.InstructionErrorReadonlyDataModified)
		}
		if !bytes.Equal(prev.Data, ref.Data) && !bytes.Equal(prev.Owner, inv.Program) {
			return Fail(solana.InstructionErrorExternalAccountDataModified)
		}
	}
	return nil
}

func checkRent(accounts []*Account) *solana.TransactionError {
	for _, a := range accounts {
		if a.Executable || a.Lamports == 0 {
			continue
		}
		if a.Lamports < RentExemption(uint64(len(a.Data))) && len(a.Data) > 0 {
			return solana.NewTransactionError(solana.TransactionErrorInsufficientFundsForRent)
		}
	}
	return nil
}

func instructionErr(err error) error {
	var custom solana.CustomError
	if errors.As(err, &custom) {
		return custom
	}

	var key instructionKeyError
	if errors.As(err, &key) {
		return key
	}

	return instructionKeyError(solana.InstructionErrorProgramFailedToComplete)
}

func isSigner(m solana.Message, index int) bool {
	return index < int(m.Header.NumSignatures)
}

func isWritable(m solana.Message, index int) bool {
	if isSigner(m, index) {
		return index < int(m.Header.NumSignatures-m.Header.NumReadonlySigned)
	}
	return index < len(m.Accounts)-int(m.Header.NumReadOnly)
}
