package counter

import (
	"bytes"
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/counter-client/pkg/solana"
)

// NewInstruction returns an instruction executing cmd against the counter
// account. The counter is the only account: writable and not a signer.
func NewInstruction(program, counter ed25519.PublicKey, cmd Command) solana.Instruction {
	return solana.NewInstruction(
		program,
		cmd.Marshal(),
		solana.NewAccountMeta(counter, false),
	)
}

func InitInstruction(program, counter ed25519.PublicKey) solana.Instruction {
	return NewInstruction(program, counter, Init())
}

func IncrementInstruction(program, counter ed25519.PublicKey) solana.Instruction {
	return NewInstruction(program, counter, Increment())
}

func AddInstruction(program, counter ed25519.PublicKey, amount uint64) solana.Instruction {
	return NewInstruction(program, counter, Add(amount))
}

// Instructions returns one instruction per command, in order.
func Instructions(program, counter ed25519.PublicKey, cmds ...Command) []solana.Instruction {
	instructions := make([]solana.Instruction, len(cmds))
	for i, cmd := range cmds {
		instructions[i] = NewInstruction(program, counter, cmd)
	}
	return instructions
}

// HelloInstruction returns an invocation of program with no accounts and no
// data.
func HelloInstruction(program ed25519.PublicKey) solana.Instruction {
	return solana.NewInstruction(program, []byte{})
}

type DecompiledInstruction struct {
	Counter ed25519.PublicKey
	Command Command
}

// DecompileInstruction parses the counter instruction at index in m.
func DecompileInstruction(m solana.Message, index int, program ed25519.PublicKey) (*DecompiledInstruction, error) {
	if index >= len(m.Instructions) {
		return nil, errors.Errorf("instruction doesn't exist at %d", index)
	}

	i := m.Instructions[index]
	if !bytes.Equal(m.Accounts[i.ProgramIndex], program) {
		return nil, solana.ErrIncorrectProgram
	}
	if len(i.Accounts) != 1 {
		return nil, errors.Errorf("invalid number of accounts: %d", len(i.Accounts))
	}

	cmd, err := ParseCommand(i.Data)
	if err != nil {
		return nil, err
	}

	return &DecompiledInstruction{
		Counter: m.Accounts[i.Accounts[0]],
		Command: cmd,
	}, nil
}
