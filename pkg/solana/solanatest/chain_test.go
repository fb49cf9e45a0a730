package solanatest

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/counter-client/pkg/counter"
	"github.com/code-payments/counter-client/pkg/solana"
	"github.com/code-payments/counter-client/pkg/solana/system"
)

type env struct {
	chain   *Chain
	client  solana.Client
	payer   ed25519.PrivateKey
	program ed25519.PublicKey
}

func setup(t *testing.T, opts ...Option) env {
	chain := New(opts...)
	t.Cleanup(chain.Close)

	_, payer, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	program, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	chain.Fund(payer.Public().(ed25519.PublicKey), 1_000_000_000)
	chain.Deploy(program, CounterProgram)

	return env{
		chain:   chain,
		client:  solana.New(chain.URL()),
		payer:   payer,
		program: program,
	}
}

func (e env) signed(t *testing.T, instructions []solana.Instruction, signers ...ed25519.PrivateKey) solana.Transaction {
	bh, err := e.client.GetLatestBlockhash(solana.CommitmentConfirmed)
	require.NoError(t, err)

	txn := solana.NewLegacyTransaction(e.payer.Public().(ed25519.PublicKey), instructions...)
	txn.SetBlockhash(bh)
	require.NoError(t, txn.Sign(append([]ed25519.PrivateKey{e.payer}, signers...)...))
	return txn
}

func TestChain_CounterLifecycle(t *testing.T) {
	e := setup(t)
	payer := e.payer.Public().(ed25519.PublicKey)

	rent, err := e.client.GetMinimumBalanceForRentExemption(counter.AccountSize)
	require.NoError(t, err)
	assert.EqualValues(t, 946560, rent)

	counterPub, counterKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	instructions := append(
		[]solana.Instruction{system.CreateAccount(payer, counterPub, e.program, rent, counter.AccountSize)},
		counter.Instructions(e.program, counterPub, counter.Init(), counter.Increment(), counter.Increment())...,
	)
	txn := e.signed(t, instructions, counterKey)

	sig, err := e.client.SubmitTransaction(txn, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.Equal(t, txn.Signature(), sig)

	// processed, then confirmed
	statuses, err := e.client.GetSignatureStatuses([]solana.Signature{sig})
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	require.NotNil(t, statuses[0])
	assert.False(t, statuses[0].Reached(solana.CommitmentConfirmed))

	statuses, err = e.client.GetSignatureStatuses([]solana.Signature{sig})
	require.NoError(t, err)
	assert.True(t, statuses[0].Reached(solana.CommitmentConfirmed))
	assert.Nil(t, statuses[0].ErrorResult)

	confirmed, err := e.client.GetTransaction(sig, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.Nil(t, confirmed.Err)
	assert.Equal(t, sig, confirmed.Transaction.Signature())
	require.NotNil(t, confirmed.Meta)
	assert.EqualValues(t, 2*LamportsPerSignature, confirmed.Meta.Fee)
	assert.Contains(t, confirmed.Logs(), "Program log: increment: counter = 2")

	info, err := e.client.GetAccountInfo(counterPub, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.Equal(t, e.program, info.Owner)
	assert.EqualValues(t, rent, info.Lamports)

	value, err := counter.DecodeCounter(info.Data)
	require.NoError(t, err)
	assert.EqualValues(t, 2, value)

	balance, err := e.client.GetBalance(payer, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.EqualValues(t, 1_000_000_000-rent-2*LamportsPerSignature, balance)
}

func TestChain_PreflightRejection(t *testing.T) {
	e := setup(t)
	payer := e.payer.Public().(ed25519.PublicKey)

	counterPub, counterKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	e.chain.Fund(counterPub, 1)

	txn := e.signed(t, []solana.Instruction{system.CreateAccount(payer, counterPub, e.program, RentExemption(8), 8)}, counterKey)
	_, err = e.client.SubmitTransaction(txn, solana.CommitmentConfirmed)
	require.Error(t, err)

	txErr, ok := err.(*solana.TransactionError)
	require.True(t, ok, "%T", err)
	assert.True(t, system.IsAccountAlreadyInUse(txErr))
	assert.NotEmpty(t, txErr.Logs())

	// Simulation failures don't charge fees.
	balance, err := e.client.GetBalance(payer, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.EqualValues(t, 1_000_000_000, balance)
	assert.Equal(t, 1, e.chain.Calls("sendTransaction"))
}

func TestChain_SkipPreflightLandsFailure(t *testing.T) {
	e := setup(t)

	counterPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	// Not owned by the program.
	e.chain.SetAccount(counterPub, Account{Lamports: RentExemption(8), Owner: systemProgramKey(), Data: make([]byte, 8)})

	client := solana.New(e.chain.URL(), solana.WithSkipPreflight(true))
	txn := e.signed(t, []solana.Instruction{counter.IncrementInstruction(e.program, counterPub)})

	sig, err := client.SubmitTransaction(txn, solana.CommitmentConfirmed)
	require.NoError(t, err)

	statuses, err := client.GetSignatureStatuses([]solana.Signature{sig})
	require.NoError(t, err)
	require.NotNil(t, statuses[0])
	require.NotNil(t, statuses[0].ErrorResult)

	ixnErr := statuses[0].ErrorResult.InstructionError()
	require.NotNil(t, ixnErr)
	assert.Equal(t, 0, ixnErr.Index)
	assert.Equal(t, solana.InstructionErrorIncorrectProgramID, ixnErr.ErrorKey())

	confirmed, err := client.GetTransaction(sig, solana.CommitmentConfirmed)
	require.NoError(t, err)
	require.NotNil(t, confirmed.Err)
	assert.NotEmpty(t, confirmed.Err.Logs())

	account, ok := e.chain.Account(e.payer.Public().(ed25519.PublicKey))
	require.True(t, ok)
	assert.EqualValues(t, 1_000_000_000-LamportsPerSignature, account.Lamports)
}

func TestChain_Hello(t *testing.T) {
	e := setup(t)

	txn := e.signed(t, []solana.Instruction{counter.HelloInstruction(e.program)})
	sig, err := e.client.SubmitTransaction(txn, solana.CommitmentConfirmed)
	require.NoError(t, err)

	// getTransaction observes the chain as well, so the second query is
	// served.
	_, err = e.client.GetTransaction(sig, solana.CommitmentConfirmed)
	assert.Equal(t, solana.ErrSignatureNotFound, err)

	confirmed, err := e.client.GetTransaction(sig, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.Contains(t, confirmed.Logs(), "Program log: Hello, world!")
}

func TestChain_NeverConfirm(t *testing.T) {
	e := setup(t, WithNeverConfirm())

	txn := e.signed(t, []solana.Instruction{counter.HelloInstruction(e.program)})
	sig, err := e.client.SubmitTransaction(txn, solana.CommitmentConfirmed)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		statuses, err := e.client.GetSignatureStatuses([]solana.Signature{sig})
		require.NoError(t, err)
		require.NotNil(t, statuses[0])
		assert.False(t, statuses[0].Reached(solana.CommitmentConfirmed))
	}
}

func TestChain_RejectsBadSignatures(t *testing.T) {
	e := setup(t)

	txn := e.signed(t, []solana.Instruction{counter.HelloInstruction(e.program)})
	txn.Signatures[0][0] ^= 0xff

	_, err := e.client.SubmitTransaction(txn, solana.CommitmentConfirmed)
	require.Error(t, err)
	_, ok := err.(*solana.TransactionError)
	assert.False(t, ok)
}
