package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-ledger-approvals/internal/errors"
	"github.com/pesio-ai/be-ledger-approvals/internal/logger"
	"github.com/pesio-ai/be-ledger-approvals/internal/repository"
)

// maxUnitOfWorkAttempts bounds re-runs of a unit of work after a retryable
// identifier collision at insert time.
const maxUnitOfWorkAttempts = 3

// runInTx runs fn as one unit of work. fn must reset any state it captures,
// since it is invoked again when the store reports a retryable conflict.
func runInTx(ctx context.Context, store repository.Store, log *logger.Logger, op string, fn func(tx repository.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxUnitOfWorkAttempts; attempt++ {
		err = store.InTransaction(ctx, fn)
		if err == nil || !errors.IsRetryable(err) {
			return err
		}
		log.Debug().
			Err(err).
			Str("operation", op).
			Int("attempt", attempt).
			Msg("Retryable conflict, re-running unit of work")
	}
	return err
}

// RetryOptions configures retry behaviour for best-effort follow-ups.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetirementRetry is used for notification retirement after a
// decision commits.
var DefaultRetirementRetry = RetryOptions{
	MaxAttempts:  3,
	InitialDelay: 50 * time.Millisecond,
	MaxDelay:     time.Second,
	Multiplier:   2.0,
}

// withRetry runs operation with exponential backoff until it succeeds, the
// attempts run out, or ctx is done. It returns the last error.
func withRetry(ctx context.Context, log *logger.Logger, operation func() error, opts RetryOptions) error {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 50 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = time.Second
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = 2.0
	}

	delay := opts.InitialDelay
	var err error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err = operation(); err == nil {
			return nil
		}
		if attempt == opts.MaxAttempts {
			break
		}

		log.Debug().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", opts.MaxAttempts).
			Dur("delay", delay).
			Msg("Operation failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * opts.Multiplier)
			if delay > opts.MaxDelay {
				delay = opts.MaxDelay
			}
		}
	}
	return err
}
