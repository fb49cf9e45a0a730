// Package invoke runs a counter plan end to end: it provisions a counter
// account, assembles and submits a single transaction, and verifies the
// resulting account state against the plan.
package invoke

import (
	"bytes"
	"context"
	"crypto/ed25519"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	xrate "golang.org/x/time/rate"

	"github.com/code-payments/counter-client/pkg/counter"
	"github.com/code-payments/counter-client/pkg/metrics"
	"github.com/code-payments/counter-client/pkg/provision"
	"github.com/code-payments/counter-client/pkg/rate"
	"github.com/code-payments/counter-client/pkg/solana"
	compute_budget "github.com/code-payments/counter-client/pkg/solana/computebudget"
	"github.com/code-payments/counter-client/pkg/submit"
	"github.com/code-payments/counter-client/pkg/txn"
)

const (
	metricsComponent = "Invoke"

	invocationEventName = "CounterInvocation"
)

var (
	ErrInvalidPayer   = errors.New("invalid payer key")
	ErrInvalidProgram = errors.New("invalid program id")

	// ErrUnexpectedOwner indicates the counter account isn't owned by the
	// invoked program after the transaction confirmed.
	ErrUnexpectedOwner = errors.New("counter account has unexpected owner")

	// ErrCounterMismatch indicates the observed counter value differs from
	// the value the plan produces.
	ErrCounterMismatch = errors.New("counter value mismatch")
)

// Result is the outcome of an invocation.
type Result struct {
	Invocation uuid.UUID
	Plan       Plan

	Signature solana.Signature
	Confirmed bool
	Logs      []string
	LogsErr   error

	// Balance is the payer balance observed before submission.
	Balance uint64

	// CounterAccount is nil for hello plans.
	CounterAccount ed25519.PublicKey
	RentLamports   uint64

	Expected uint64
	Observed uint64

	// Verified is set once the observed counter value matches Expected. It is
	// always false for hello plans, which have no state to verify.
	Verified bool

	Submission *submit.Result
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithSolanaClient sets the client used for every RPC call, in place of one
// built from the configured endpoint.
func WithSolanaClient(sc solana.Client) Option {
	return func(i *Invoker) {
		i.sc = sc
	}
}

// WithProvisionOptions configures the account provisioner.
func WithProvisionOptions(opts ...provision.Option) Option {
	return func(i *Invoker) {
		i.provisionOpts = append(i.provisionOpts, opts...)
	}
}

// Invoker runs plans against a single program deployment.
type Invoker struct {
	log  *logrus.Entry
	conf Config

	sc            solana.Client
	provisionOpts []provision.Option
	provisioner   *provision.Provisioner
	submitter     *submit.Client
}

func New(conf Config, opts ...Option) *Invoker {
	i := &Invoker{
		log:  logrus.StandardLogger().WithField("type", "invoke/invoker"),
		conf: conf,
	}
	for _, o := range opts {
		o(i)
	}

	if i.sc == nil {
		i.sc = newSolanaClient(conf)
	}
	i.provisioner = provision.New(i.sc, i.provisionOpts...)
	i.submitter = submit.New(i.sc, submit.Config{
		Commitment:          conf.Commitment,
		ConfirmationTimeout: conf.ConfirmationTimeout,
		PollInterval:        conf.PollInterval,
		LogFetchAttempts:    conf.LogFetchAttempts,
	})
	return i
}

func newSolanaClient(conf Config) solana.Client {
	opts := []solana.Option{solana.WithSkipPreflight(conf.SkipPreflight)}
	if conf.RequestTimeout > 0 {
		opts = append(opts, solana.WithRequestTimeout(conf.RequestTimeout))
	}
	if conf.RequestsPerSecond > 0 {
		opts = append(opts, solana.WithRateLimiter(rate.NewLocalRateLimiter(xrate.Limit(conf.RequestsPerSecond))))
	}
	return solana.New(conf.Endpoint, opts...)
}

// Run executes plan against program in a single transaction paid for by payer.
//
// Stages run in order and the first failure ends the run. Once a transaction
// signature exists the returned Result is non-nil, even alongside an error.
func (i *Invoker) Run(ctx context.Context, payer ed25519.PrivateKey, program ed25519.PublicKey, plan Plan) (*Result, error) {
	span := metrics.StartSpan(ctx, metricsComponent, "Run")

	result := &Result{
		Invocation: uuid.New(),
		Plan:       plan,
		Expected:   plan.Expected(),
	}
	log := i.log.WithFields(logrus.Fields{
		"method":     "Run",
		"invocation": result.Invocation.String(),
		"plan":       plan.String(),
	})

	err := i.run(ctx, log, payer, program, plan, result)
	span.Fail(err)
	span.Annotate(map[string]interface{}{
		"invocation": result.Invocation.String(),
		"plan":       plan.Name,
	})
	elapsed := span.End()

	metrics.RecordEvent(ctx, invocationEventName, map[string]interface{}{
		"invocation":  result.Invocation.String(),
		"plan":        plan.Name,
		"signature":   result.Signature.String(),
		"confirmed":   result.Confirmed,
		"verified":    result.Verified,
		"failed":      err != nil,
		"duration_ms": elapsed.Milliseconds(),
	})

	if err != nil {
		log.WithError(err).Warn("invocation failed")
		if result.Submission == nil {
			return nil, err
		}
		return result, err
	}

	log.WithFields(logrus.Fields{
		"signature": result.Signature.String(),
		"observed":  result.Observed,
	}).Info("invocation complete")
	return result, nil
}

func (i *Invoker) run(ctx context.Context, log *logrus.Entry, payer ed25519.PrivateKey, program ed25519.PublicKey, plan Plan, result *Result) error {
	if len(payer) != ed25519.PrivateKeySize {
		return ErrInvalidPayer
	}
	if len(program) != ed25519.PublicKeySize {
		return ErrInvalidProgram
	}
	payerPub := payer.Public().(ed25519.PublicKey)
	log = log.WithField("payer", base58.Encode(payerPub))

	result.Balance = i.checkBalance(ctx, log, payerPub)

	var instructions []solana.Instruction
	var signers []ed25519.PrivateKey
	if plan.IsHello() {
		instructions = []solana.Instruction{counter.HelloInstruction(program)}
	} else {
		account, err := i.provision(ctx, payerPub, program)
		if err != nil {
			return err
		}
		result.CounterAccount = account.PublicKey
		result.RentLamports = account.Lamports
		log = log.WithField("account", base58.Encode(account.PublicKey))

		instructions = append([]solana.Instruction{account.Instruction}, counter.Instructions(program, account.PublicKey, plan.Commands...)...)
		signers = append(signers, account.PrivateKey)
	}

	assembled, err := i.assemble(ctx, payer, i.withComputeBudget(instructions), signers)
	if err != nil {
		return err
	}

	submission, err := i.submit(ctx, assembled)
	if submission != nil {
		result.Submission = submission
		result.Signature = submission.Signature
		result.Confirmed = submission.Confirmed
		result.Logs = submission.Logs
		result.LogsErr = submission.LogsErr
	}
	if err != nil {
		return err
	}
	log = log.WithField("signature", submission.Signature.String())
	if submission.LogsErr != nil {
		log.WithError(submission.LogsErr).Warn("transaction confirmed without logs")
	}

	if plan.IsHello() {
		return nil
	}

	observed, err := i.verify(ctx, program, result.CounterAccount, result.Expected)
	result.Observed = observed
	if err != nil {
		return err
	}
	result.Verified = true
	return nil
}

// checkBalance reports the payer balance. Insufficient funds are left for the
// chain to detect, so failures are only logged.
func (i *Invoker) checkBalance(ctx context.Context, log *logrus.Entry, payer ed25519.PublicKey) uint64 {
	defer metrics.StartSpan(ctx, metricsComponent, "checkBalance").End()

	balance, err := i.sc.GetBalance(payer, i.conf.Commitment)
	if err != nil {
		log.WithError(err).Warn("failed to get payer balance")
		return 0
	}

	log.WithField("balance", balance).Info("payer balance")
	return balance
}

func (i *Invoker) provision(ctx context.Context, payer, program ed25519.PublicKey) (*provision.Account, error) {
	span := metrics.StartSpan(ctx, metricsComponent, "provision")
	defer span.End()

	account, err := i.provisioner.Provision(ctx, payer, program, counter.AccountSize)
	if err != nil {
		span.Fail(err)
		return nil, errors.Wrap(err, "failed to provision counter account")
	}
	return account, nil
}

// withComputeBudget prepends the configured compute budget instructions.
func (i *Invoker) withComputeBudget(instructions []solana.Instruction) []solana.Instruction {
	var prefix []solana.Instruction
	if i.conf.ComputeUnitLimit > 0 {
		prefix = append(prefix, compute_budget.SetComputeUnitLimit(i.conf.ComputeUnitLimit))
	}
	if i.conf.ComputeUnitPrice > 0 {
		prefix = append(prefix, compute_budget.SetComputeUnitPrice(i.conf.ComputeUnitPrice))
	}
	return append(prefix, instructions...)
}

func (i *Invoker) assemble(ctx context.Context, payer ed25519.PrivateKey, instructions []solana.Instruction, signers []ed25519.PrivateKey) (*txn.Assembled, error) {
	span := metrics.StartSpan(ctx, metricsComponent, "assemble")
	defer span.End()

	assembled, err := txn.Assemble(payer, instructions, signers...)
	if err != nil {
		span.Fail(err)
		return nil, errors.Wrap(err, "failed to assemble transaction")
	}

	span.Annotate(map[string]interface{}{"instructions": len(instructions)})
	return assembled, nil
}

func (i *Invoker) submit(ctx context.Context, assembled *txn.Assembled) (*submit.Result, error) {
	defer metrics.StartSpan(ctx, metricsComponent, "submit").End()

	return i.submitter.Submit(ctx, assembled)
}

// verify reads the counter account back and compares it to expected.
func (i *Invoker) verify(ctx context.Context, program, account ed25519.PublicKey, expected uint64) (uint64, error) {
	span := metrics.StartSpan(ctx, metricsComponent, "verify")
	defer span.End()

	observed, err := func() (uint64, error) {
		info, err := i.sc.GetAccountInfo(account, i.conf.Commitment)
		if err != nil {
			return 0, errors.Wrap(err, "failed to get counter account")
		}
		if !bytes.Equal(info.Owner, program) {
			return 0, errors.Wrapf(ErrUnexpectedOwner, "owned by %s", base58.Encode(info.Owner))
		}

		observed, err := counter.DecodeCounter(info.Data)
		if err != nil {
			return 0, err
		}
		if observed != expected {
			return observed, errors.Wrapf(ErrCounterMismatch, "expected %d, observed %d", expected, observed)
		}
		return observed, nil
	}()
	span.Fail(err)
	return observed, err
}
