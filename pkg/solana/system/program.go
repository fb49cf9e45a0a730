// Package system encodes and decodes the system program instructions used to
// provision accounts.
package system

import (
	"bytes"
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/counter-client/pkg/solana"
	"github.com/code-payments/counter-client/pkg/solana/binary"
)

// ProgramKey is the address of the system program,
// 11111111111111111111111111111111.
var ProgramKey [ed25519.PublicKeySize]byte

const (
	commandCreateAccount uint32 = iota
	commandAssign
	commandTransfer
)

const createAccountDataSize = 4 + 8 + 8 + ed25519.PublicKeySize

// CreateAccount returns an instruction that funds a new account at address
// with lamports, allocates size bytes for it and assigns it to owner.
//
// Accounts:
//  0. [WRITE, SIGNER] funding account
//  1. [WRITE, SIGNER] new account
//
// Reference: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/src/system_instruction.rs#L58-L72
func CreateAccount(funder, address, owner ed25519.PublicKey, lamports, size uint64) solana.Instruction {
	data := make([]byte, createAccountDataSize)

	var offset int
	binary.PutUint32(data[offset:], commandCreateAccount, &offset)
	binary.PutUint64(data[offset:], lamports, &offset)
	binary.PutUint64(data[offset:], size, &offset)
	binary.PutKey32(data[offset:], owner, &offset)

	return solana.NewInstruction(
		ProgramKey[:],
		data,
		solana.NewAccountMeta(funder, true),
		solana.NewAccountMeta(address, true),
	)
}

type DecompiledCreateAccount struct {
	Funder  ed25519.PublicKey
	Address ed25519.PublicKey

	Lamports uint64
	Size     uint64
	Owner    ed25519.PublicKey
}

// DecodeCreateAccount parses the data of a CreateAccount instruction.
func DecodeCreateAccount(data []byte) (*DecompiledCreateAccount, error) {
	if len(data) < 4 {
		return nil, solana.ErrIncorrectInstruction
	}

	var offset int
	var command uint32
	binary.GetUint32(data, &command, &offset)
	if command != commandCreateAccount {
		return nil, solana.ErrIncorrectInstruction
	}
	if len(data) != createAccountDataSize {
		return nil, errors.Errorf("invalid instruction data size: %d", len(data))
	}

	v := &DecompiledCreateAccount{}
	binary.GetUint64(data[offset:], &v.Lamports, &offset)
	binary.GetUint64(data[offset:], &v.Size, &offset)
	binary.GetKey32(data[offset:], &v.Owner, &offset)
	return v, nil
}

// DecompileCreateAccount parses the CreateAccount instruction at index in m.
func DecompileCreateAccount(m solana.Message, index int) (*DecompiledCreateAccount, error) {
	if index >= len(m.Instructions) {
		return nil, errors.Errorf("instruction doesn't exist at %d", index)
	}

	i := m.Instructions[index]
	if !bytes.Equal(m.Accounts[i.ProgramIndex], ProgramKey[:]) {
		return nil, solana.ErrIncorrectProgram
	}

	v, err := DecodeCreateAccount(i.Data)
	if err != nil {
		return nil, err
	}

	if len(i.Accounts) != 2 {
		return nil, errors.Errorf("invalid number of accounts: %d", len(i.Accounts))
	}
	v.Funder = m.Accounts[i.Accounts[0]]
	v.Address = m.Accounts[i.Accounts[1]]

	return v, nil
}

// Transfer returns an instruction that moves lamports between two system
// owned accounts.
//
// Accounts:
//  0. [WRITE, SIGNER] funding account
//  1. [WRITE] recipient account
func Transfer(from, to ed25519.PublicKey, lamports uint64) solana.Instruction {
	data := make([]byte, 4+8)

	var offset int
	binary.PutUint32(data[offset:], commandTransfer, &offset)
	binary.PutUint64(data[offset:], lamports, &offset)

	return solana.NewInstruction(
		ProgramKey[:],
		data,
		solana.NewAccountMeta(from, true),
		solana.NewAccountMeta(to, false),
	)
}

// DecodeTransfer parses the data of a Transfer instruction and returns the
// amount transferred.
func DecodeTransfer(data []byte) (uint64, error) {
	if len(data) < 4 {
		return 0, solana.ErrIncorrectInstruction
	}

	var offset int
	var command uint32
	binary.GetUint32(data, &command, &offset)
	if command != commandTransfer {
		return 0, solana.ErrIncorrectInstruction
	}
	if len(data) != 4+8 {
		return 0, errors.Errorf("invalid instruction data size: %d", len(data))
	}

	var lamports uint64
	binary.GetUint64(data[offset:], &lamports, &offset)
	return lamports, nil
}
