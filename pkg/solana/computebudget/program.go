// Package compute_budget builds instructions that set the compute limit and
// priority fee of a transaction.
package compute_budget

import (
	"bytes"
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/counter-client/pkg/solana"
	"github.com/code-payments/counter-client/pkg/solana/binary"
)

// ProgramKey is ComputeBudget111111111111111111111111111111.
var ProgramKey = ed25519.PublicKey{3, 6, 70, 111, 229, 33, 23, 50, 255, 236, 173, 186, 114, 195, 155, 231, 188, 140, 229, 187, 197, 247, 18, 107, 44, 67, 155, 58, 64, 0, 0, 0}

const (
	commandSetComputeUnitLimit uint8 = 2
	commandSetComputeUnitPrice uint8 = 3
)

var ErrInvalidInstructionData = errors.New("invalid compute budget instruction data")

// SetComputeUnitLimit caps the compute units the transaction may consume.
func SetComputeUnitLimit(computeUnitLimit uint32) solana.Instruction {
	data := make([]byte, 1+4)

	var offset int
	binary.PutUint8(data[offset:], commandSetComputeUnitLimit, &offset)
	binary.PutUint32(data[offset:], computeUnitLimit, &offset)

	return solana.NewInstruction(ProgramKey, data)
}

// SetComputeUnitPrice sets the priority fee, in micro-lamports per compute
// unit.
func SetComputeUnitPrice(microLamports uint64) solana.Instruction {
	data := make([]byte, 1+8)

	var offset int
	binary.PutUint8(data[offset:], commandSetComputeUnitPrice, &offset)
	binary.PutUint64(data[offset:], microLamports, &offset)

	return solana.NewInstruction(ProgramKey, data)
}

// IsComputeBudgetInstruction reports whether program is the compute budget
// program.
func IsComputeBudgetInstruction(program ed25519.PublicKey) bool {
	return bytes.Equal(program, ProgramKey)
}

func ParseSetComputeUnitLimitIxnData(data []byte) (uint32, error) {
	if len(data) != 1+4 || data[0] != commandSetComputeUnitLimit {
		return 0, ErrInvalidInstructionData
	}

	offset := 1
	var limit uint32
	binary.GetUint32(data[offset:], &limit, &offset)
	return limit, nil
}

func ParseSetComputeUnitPriceIxnData(data []byte) (uint64, error) {
	if len(data) != 1+8 || data[0] != commandSetComputeUnitPrice {
		return 0, ErrInvalidInstructionData
	}

	offset := 1
	var price uint64
	binary.GetUint64(data[offset:], &price, &offset)
	return price, nil
}
