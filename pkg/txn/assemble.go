// Package txn assembles ordered instructions into a single legacy transaction
// together with the keys required to sign it.
package txn

import (
	"bytes"
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/code-payments/counter-client/pkg/solana"
)

var ErrEmptyTransaction = errors.New("transaction has no instructions")

// MissingSignerError indicates an instruction requires a signature from an
// account whose private key was not provided.
type MissingSignerError struct {
	PublicKey ed25519.PublicKey
}

func (e *MissingSignerError) Error() string {
	return fmt.Sprintf("missing private key for required signer %s", base58.Encode(e.PublicKey))
}

// Assembled is an unsigned transaction ready for submission.
type Assembled struct {
	// Transaction is compiled, but carries neither a blockhash nor signatures.
	Transaction solana.Transaction

	// Instructions are in execution order.
	Instructions []solana.Instruction

	// Signers holds one key per required signature, fee payer first.
	Signers []ed25519.PrivateKey
}

// Payer returns the fee payer, or nil if a was not built by Assemble.
func (a *Assembled) Payer() ed25519.PublicKey {
	if a == nil || len(a.Signers) == 0 || len(a.Signers[0]) != ed25519.PrivateKeySize {
		return nil
	}
	return a.Signers[0].Public().(ed25519.PublicKey)
}

// Assemble composes instructions, in the given order, into one transaction
// paid for by payer.
//
// The required signers are the payer plus every account marked as a signer by
// any instruction, deduplicated. Each must have a key in signers, and keys
// that no instruction requires are not attached.
func Assemble(payer ed25519.PrivateKey, instructions []solana.Instruction, signers ...ed25519.PrivateKey) (*Assembled, error) {
	if len(instructions) == 0 {
		return nil, ErrEmptyTransaction
	}
	if len(payer) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid fee payer key")
	}

	payerKey := payer.Public().(ed25519.PublicKey)
	required := []ed25519.PrivateKey{payer}
	seen := map[string]struct{}{
		string(payerKey): {},
	}

	for _, ixn := range instructions {
		for _, pub := range ixn.Signers() {
			if _, ok := seen[string(pub)]; ok {
				continue
			}
			seen[string(pub)] = struct{}{}

			key := findKey(pub, signers)
			if key == nil {
				return nil, &MissingSignerError{PublicKey: pub}
			}
			required = append(required, key)
		}
	}

	ordered := make([]solana.Instruction, len(instructions))
	copy(ordered, instructions)

	return &Assembled{
		Transaction:  solana.NewLegacyTransaction(payerKey, ordered...),
		Instructions: ordered,
		Signers:      required,
	}, nil
}

func findKey(pub ed25519.PublicKey, keys []ed25519.PrivateKey) ed25519.PrivateKey {
	for _, k := range keys {
		if len(k) != ed25519.PrivateKeySize {
			continue
		}
		if bytes.Equal(k.Public().(ed25519.PublicKey), pub) {
			return k
		}
	}
	return nil
}
