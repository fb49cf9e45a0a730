// Package submit signs, submits and confirms assembled transactions, and
// retrieves their execution logs.
package submit

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/counter-client/pkg/metrics"
	"github.com/code-payments/counter-client/pkg/retry"
	"github.com/code-payments/counter-client/pkg/retry/backoff"
	"github.com/code-payments/counter-client/pkg/solana"
	"github.com/code-payments/counter-client/pkg/txn"
)

const (
	metricsComponent = "Submit"

	submissionEventName = "TransactionSubmission"
)

// Config controls how a submission waits for its outcome.
type Config struct {
	// Commitment is the level at which a transaction counts as confirmed.
	Commitment solana.Commitment

	// ConfirmationTimeout bounds the wait for Commitment. Zero means the wait
	// is bounded only by the caller's context.
	ConfirmationTimeout time.Duration

	// PollInterval is the delay between signature status queries.
	PollInterval time.Duration

	// LogFetchAttempts bounds the getTransaction queries made for the logs of
	// a confirmed transaction.
	LogFetchAttempts uint
}

// DefaultConfig matches a local development validator.
var DefaultConfig = Config{
	Commitment:          solana.CommitmentConfirmed,
	ConfirmationTimeout: 30 * time.Second,
	PollInterval:        500 * time.Millisecond,
	LogFetchAttempts:    5,
}

// Result describes the outcome of a submission.
type Result struct {
	Signature solana.Signature

	// State is the terminal state reached, or the last state reached before
	// an error outside the chain's control.
	State       State
	Transitions []State

	Confirmed bool
	Slot      uint64

	// Logs are the program logs of the confirmed transaction. LogsErr is set,
	// and Logs empty, when they could not be retrieved. The transaction is
	// confirmed regardless.
	Logs    []string
	LogsErr error
}

func (r *Result) transition(s State) {
	r.State = s
	r.Transitions = append(r.Transitions, s)
}

// Client drives a transaction from Built to a terminal state.
type Client struct {
	log  *logrus.Entry
	sc   solana.Client
	conf Config
}

func New(sc solana.Client, conf Config) *Client {
	if conf.Commitment == (solana.Commitment{}) {
		conf.Commitment = DefaultConfig.Commitment
	}
	if conf.PollInterval <= 0 {
		conf.PollInterval = DefaultConfig.PollInterval
	}
	if conf.LogFetchAttempts == 0 {
		conf.LogFetchAttempts = DefaultConfig.LogFetchAttempts
	}

	return &Client{
		log:  logrus.StandardLogger().WithField("type", "submit/client"),
		sc:   sc,
		conf: conf,
	}
}

// Submit signs the assembled transaction against a recent blockhash, sends it
// once, and waits for the configured commitment.
//
// Chain failures are returned as *RejectedError and an elapsed confirmation
// wait as ErrTimedOut. Once a signature exists the returned Result is non-nil,
// even alongside an error.
func (c *Client) Submit(ctx context.Context, assembled *txn.Assembled) (*Result, error) {
	if assembled == nil || len(assembled.Instructions) == 0 || len(assembled.Transaction.Message.Instructions) == 0 {
		return nil, txn.ErrEmptyTransaction
	}

	span := metrics.StartSpan(ctx, metricsComponent, "Submit")
	result, err := c.submit(ctx, assembled)
	span.Fail(err)
	if result != nil {
		span.Annotate(map[string]interface{}{
			"signature": result.Signature.String(),
			"state":     result.State.String(),
		})
	}
	elapsed := span.End()

	if result != nil {
		metrics.RecordEvent(ctx, submissionEventName, map[string]interface{}{
			"signature":    result.Signature.String(),
			"state":        result.State.String(),
			"instructions": len(assembled.Instructions),
			"duration_ms":  elapsed.Milliseconds(),
		})
	}

	return result, err
}

func (c *Client) submit(ctx context.Context, assembled *txn.Assembled) (*Result, error) {
	log := c.log.WithField("method", "Submit")

	result := &Result{}
	result.transition(StateBuilt)

	bh, err := c.sc.GetLatestBlockhash(c.conf.Commitment)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get recent blockhash")
	}

	// Work on a copy so the assembled transaction can be submitted again.
	tx := assembled.Transaction
	tx.Signatures = make([]solana.Signature, len(assembled.Transaction.Signatures))
	tx.SetBlockhash(bh)
	if err := tx.Sign(assembled.Signers...); err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}
	if !tx.IsSigned() {
		return nil, errors.New("transaction is missing required signatures")
	}

	result.Signature = tx.Signature()
	result.transition(StateSigned)
	log = log.WithField("signature", result.Signature.String())

	if _, err := c.sc.SubmitTransaction(tx, c.conf.Commitment); err != nil {
		var txErr *solana.TransactionError
		if errors.As(err, &txErr) {
			result.transition(StateSubmitted)
			result.transition(StateRejected)
			log.WithError(txErr).Info("transaction rejected by preflight simulation")
			return result, &RejectedError{
				Signature: result.Signature,
				Err:       txErr,
				Logs:      txErr.Logs(),
			}
		}
		return result, errors.Wrap(err, "failed to submit transaction")
	}
	result.transition(StateSubmitted)
	log.Debug("transaction submitted")

	status, err := c.awaitCommitment(ctx, result.Signature)
	if err != nil {
		result.transition(StateTimedOut)
		log.WithError(err).Warn("transaction outcome unknown")
		return result, err
	}
	result.Slot = status.Slot

	if status.ErrorResult != nil {
		result.transition(StateRejected)

		rejected := &RejectedError{
			Signature: result.Signature,
			Err:       status.ErrorResult,
		}
		if confirmed, err := c.fetchTransaction(ctx, result.Signature); err == nil {
			rejected.Logs = confirmed.Logs()
		} else {
			log.WithError(err).Warn("failed to get logs of rejected transaction")
		}

		log.WithError(status.ErrorResult).Info("transaction failed on chain")
		return result, rejected
	}

	result.transition(StateConfirmed)
	result.Confirmed = true

	confirmed, err := c.fetchTransaction(ctx, result.Signature)
	if err != nil {
		result.LogsErr = err
		log.WithError(err).Warn("failed to get transaction logs")
		return result, nil
	}
	result.Logs = confirmed.Logs()

	log.WithField("slot", result.Slot).Debug("transaction confirmed")
	return result, nil
}

// awaitCommitment polls the signature status until the transaction reaches the
// configured commitment or fails. Failed transactions are returned as soon as
// a status reports them.
// Status queries still in flight when the wait ends are abandoned.
func (c *Client) awaitCommitment(ctx context.Context, sig solana.Signature) (*solana.SignatureStatus, error) {
	if c.conf.ConfirmationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.conf.ConfirmationTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(c.conf.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil, waitError(ctx)
		}

		status, err := c.getSignatureStatus(ctx, sig)
		switch {
		case ctx.Err() != nil:
			return nil, waitError(ctx)
		case err != nil:
			c.log.WithError(err).WithFields(logrus.Fields{
				"method":    "awaitCommitment",
				"signature": sig.String(),
			}).Debug("failed to get signature status")
		case status != nil && (status.ErrorResult != nil || status.Reached(c.conf.Commitment)):
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, waitError(ctx)
		case <-ticker.C:
		}
	}
}

// getSignatureStatus queries the status of sig, giving up when ctx is done. A
// nil status means the node doesn't know the signature yet.
func (c *Client) getSignatureStatus(ctx context.Context, sig solana.Signature) (*solana.SignatureStatus, error) {
	type response struct {
		statuses []*solana.SignatureStatus
		err      error
	}

	// Buffered so the goroutine exits when the query is abandoned.
	responses := make(chan response, 1)
	go func() {
		statuses, err := c.sc.GetSignatureStatuses([]solana.Signature{sig})
		responses <- response{statuses, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-responses:
		if resp.err != nil {
			return nil, resp.err
		}
		if len(resp.statuses) == 0 {
			return nil, nil
		}
		return resp.statuses[0], nil
	}
}

func waitError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return errors.Wrap(ErrTimedOut, "confirmation wait canceled")
	}
	return ErrTimedOut
}

// fetchTransaction retrieves the landed transaction, tolerating the lag
// between a status reporting confirmation and the transaction being served.
func (c *Client) fetchTransaction(ctx context.Context, sig solana.Signature) (solana.ConfirmedTransaction, error) {
	var confirmed solana.ConfirmedTransaction
	_, err := retry.RetryContext(
		ctx,
		func() error {
			var err error
			confirmed, err = c.sc.GetTransaction(sig, c.conf.Commitment)
			return err
		},
		retry.Limit(c.conf.LogFetchAttempts),
		retry.RetriableErrors(solana.ErrSignatureNotFound),
		retry.Backoff(backoff.Constant(c.conf.PollInterval), c.conf.PollInterval),
	)
	if err != nil {
		return confirmed, errors.Wrap(err, "failed to get transaction")
	}
	return confirmed, nil
}
