// Package counter implements the client side of the counter program: the
// instruction encoding, the account layout, and the state transitions the
// program applies.
package counter

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/code-payments/counter-client/pkg/solana/binary"
)

// Opcode is the first byte of every counter instruction.
type Opcode uint8

const (
	OpcodeInit Opcode = iota
	OpcodeIncrement
	OpcodeAdd
)

func (o Opcode) String() string {
	switch o {
	case OpcodeInit:
		return "init"
	case OpcodeIncrement:
		return "increment"
	case OpcodeAdd:
		return "add"
	}
	return fmt.Sprintf("unknown(%d)", uint8(o))
}

// payloadSize is the number of bytes that follow the opcode.
func (o Opcode) payloadSize() (int, bool) {
	switch o {
	case OpcodeInit, OpcodeIncrement:
		return 0, true
	case OpcodeAdd:
		return 8, true
	}
	return 0, false
}

var (
	ErrUnknownOpcode      = errors.New("unknown opcode")
	ErrInvalidCommandData = errors.New("invalid command data")
)

// Command is a single counter instruction. Amount is only meaningful for
// OpcodeAdd.
type Command struct {
	Opcode Opcode
	Amount uint64
}

// Init resets the counter to zero.
func Init() Command {
	return Command{Opcode: OpcodeInit}
}

// Increment adds one to the counter.
func Increment() Command {
	return Command{Opcode: OpcodeIncrement}
}

// Add adds amount to the counter.
func Add(amount uint64) Command {
	return Command{Opcode: OpcodeAdd, Amount: amount}
}

// Marshal returns the instruction data for the command.
func (c Command) Marshal() []byte {
	size, _ := c.Opcode.payloadSize()
	data := make([]byte, 1+size)

	var offset int
	binary.PutUint8(data[offset:], uint8(c.Opcode), &offset)
	if c.Opcode == OpcodeAdd {
		binary.PutUint64(data[offset:], c.Amount, &offset)
	}

	return data
}

// ParseCommand decodes instruction data into a Command.
func ParseCommand(data []byte) (Command, error) {
	if len(data) == 0 {
		return Command{}, errors.Wrap(ErrInvalidCommandData, "missing opcode")
	}

	opcode := Opcode(data[0])
	size, ok := opcode.payloadSize()
	if !ok {
		return Command{}, errors.Wrapf(ErrUnknownOpcode, "opcode %d", data[0])
	}
	if len(data) != 1+size {
		return Command{}, errors.Wrapf(ErrInvalidCommandData, "%s expects %d payload bytes, got %d", opcode, size, len(data)-1)
	}

	cmd := Command{Opcode: opcode}
	if opcode == OpcodeAdd {
		offset := 1
		binary.GetUint64(data[offset:], &cmd.Amount, &offset)
	}
	return cmd, nil
}

// Apply returns the counter value after executing the command against v.
// Arithmetic wraps at 2^64, matching the program.
func (c Command) Apply(v uint64) uint64 {
	switch c.Opcode {
	case OpcodeInit:
		return 0
	case OpcodeIncrement:
		return v + 1
	case OpcodeAdd:
		return v + c.Amount
	}
	return v
}

func (c Command) String() string {
	if c.Opcode == OpcodeAdd {
		return fmt.Sprintf("add(%d)", c.Amount)
	}
	return c.Opcode.String()
}

// Simulate applies cmds in order to an uninitialized counter and returns the
// resulting value.
func Simulate(cmds ...Command) uint64 {
	var v uint64
	for _, cmd := range cmds {
		v = cmd.Apply(v)
	}
	return v
}

// EncodeInit returns the instruction data for OpcodeInit.
func EncodeInit() []byte {
	return Init().Marshal()
}

// EncodeIncrement returns the instruction data for OpcodeIncrement.
func EncodeIncrement() []byte {
	return Increment().Marshal()
}

// EncodeAdd returns the instruction data for OpcodeAdd.
func EncodeAdd(amount uint64) []byte {
	return Add(amount).Marshal()
}
