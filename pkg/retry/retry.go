// Package retry runs actions repeatedly according to composable strategies.
package retry

import (
	"context"

	"github.com/pkg/errors"
)

// Action is a function to be performed in a retriable manner.
type Action func() error

// Retrier retries the provided action.
type Retrier interface {
	Retry(action Action) (uint, error)
}

type retrier struct {
	strategies []Strategy
}

// NewRetrier returns a Retrier that applies strategies to every action it
// runs. Without strategies, actions are retried until they succeed.
func NewRetrier(strategies ...Strategy) Retrier {
	return &retrier{
		strategies: strategies,
	}
}

func (r *retrier) Retry(action Action) (uint, error) {
	return Retry(action, r.strategies...)
}

// Retry runs action until it succeeds or a strategy declines another attempt.
// It returns the number of attempts made and the last error.
//
// Strategies are evaluated in order and evaluation stops at the first one
// that declines, so strategies that sleep belong at the end.
func Retry(action Action, strategies ...Strategy) (uint, error) {
	return RetryContext(context.Background(), action, strategies...)
}

// RetryContext is Retry bounded by ctx. No attempt starts once ctx is done;
// the last action error is then returned, annotated with the context error,
// or the bare context error if no attempt was made.
func RetryContext(ctx context.Context, action Action, strategies ...Strategy) (uint, error) {
	var attempts uint
	var lastErr error
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if lastErr == nil {
				return attempts, ctxErr
			}
			return attempts, errors.Wrap(lastErr, ctxErr.Error())
		}

		attempts++
		lastErr = action()
		if lastErr == nil {
			return attempts, nil
		}

		for _, s := range strategies {
			if !s(attempts, lastErr) {
				return attempts, lastErr
			}
		}
	}
}
