// Package provision creates fresh, rent exempt accounts owned by a program.
package provision

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/counter-client/pkg/metrics"
	"github.com/code-payments/counter-client/pkg/solana"
	"github.com/code-payments/counter-client/pkg/solana/system"
)

const metricsComponent = "Provision"

// Account is a newly generated account and the instruction that creates it.
//
// The account doesn't exist on chain until Instruction lands. PrivateKey must
// sign that transaction.
type Account struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey

	Lamports uint64
	Space    uint64

	Instruction solana.Instruction
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithEntropy sets the source of the seeds account keys are derived from.
func WithEntropy(r io.Reader) Option {
	return func(p *Provisioner) {
		p.entropy = r
	}
}

// Provisioner sizes and builds account creation instructions.
type Provisioner struct {
	log     *logrus.Entry
	sc      solana.Client
	entropy io.Reader
}

func New(sc solana.Client, opts ...Option) *Provisioner {
	p := &Provisioner{
		log:     logrus.StandardLogger().WithField("type", "provision/provisioner"),
		sc:      sc,
		entropy: rand.Reader,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Provision generates a fresh keypair and returns the instruction that funds
// it with the rent exempt minimum for space bytes from funder, allocates the
// space and assigns it to owner.
//
// Insufficient funder balance and address collisions are only detected by the
// chain when the instruction is submitted.
func (p *Provisioner) Provision(ctx context.Context, funder, owner ed25519.PublicKey, space uint64) (*Account, error) {
	span := metrics.StartSpan(ctx, metricsComponent, "Provision")
	defer span.End()

	account, err := func() (*Account, error) {
		if len(funder) != ed25519.PublicKeySize {
			return nil, errors.New("invalid funder")
		}
		if len(owner) != ed25519.PublicKeySize {
			return nil, errors.New("invalid owner")
		}

		lamports, err := p.sc.GetMinimumBalanceForRentExemption(space)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get rent exemption balance")
		}

		seed := make([]byte, ed25519.SeedSize)
		if _, err := io.ReadFull(p.entropy, seed); err != nil {
			return nil, errors.Wrap(err, "failed to generate account key")
		}
		priv := ed25519.NewKeyFromSeed(seed)
		pub := priv.Public().(ed25519.PublicKey)

		return &Account{
			PublicKey:   pub,
			PrivateKey:  priv,
			Lamports:    lamports,
			Space:       space,
			Instruction: system.CreateAccount(funder, pub, owner, lamports, space),
		}, nil
	}()
	if err != nil {
		span.Fail(err)
		return nil, err
	}

	p.log.WithFields(logrus.Fields{
		"method":   "Provision",
		"account":  base58.Encode(account.PublicKey),
		"owner":    base58.Encode(owner),
		"lamports": account.Lamports,
		"space":    space,
	}).Debug("provisioned account")

	return account, nil
}
