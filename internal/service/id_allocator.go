package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/pesio-ai/be-ledger-approvals/internal/errors"
	"github.com/pesio-ai/be-ledger-approvals/internal/logger"
	"github.com/pesio-ai/be-ledger-approvals/internal/metrics"
	"github.com/pesio-ai/be-ledger-approvals/internal/repository"
)

// IDKind selects the prefix and the existence check used by the allocator.
type IDKind string

const (
	IDKindAccount      IDKind = "account"
	IDKindTransaction  IDKind = "transaction"
	IDKindApproval     IDKind = "approval"
	IDKindNotification IDKind = "notification"
)

var idPrefixes = map[IDKind]string{
	IDKindAccount:      "ACC",
	IDKindTransaction:  "TXN",
	IDKindApproval:     "APP",
	IDKindNotification: "NOT",
}

// RandomSource yields integers in [0, n). *rand.Rand from math/rand/v2
// satisfies it.
type RandomSource interface {
	IntN(n int) int
}

// IdentifierAllocator generates prefixed identifiers with a zero-padded
// random suffix. The existence check only narrows the race; the store's
// primary keys are the real guard and report a retryable conflict.
type IdentifierAllocator struct {
	mu          sync.Mutex
	rnd         RandomSource
	maxAttempts int
	digits      int
	bound       int
	log         *logger.Logger
}

// NewIdentifierAllocator creates an allocator drawing suffixes of the given
// number of digits from rnd.
func NewIdentifierAllocator(rnd RandomSource, maxAttempts, digits int, log *logger.Logger) *IdentifierAllocator {
	bound := 1
	for range digits {
		bound *= 10
	}
	return &IdentifierAllocator{
		rnd:         rnd,
		maxAttempts: maxAttempts,
		digits:      digits,
		bound:       bound,
		log:         log,
	}
}

func (a *IdentifierAllocator) candidate(kind IDKind) string {
	a.mu.Lock()
	n := a.rnd.IntN(a.bound)
	a.mu.Unlock()
	return fmt.Sprintf("%s%0*d", idPrefixes[kind], a.digits, n)
}

// Allocate returns an identifier of the given kind that is not yet present
// in tx. The identifier is not reserved until the caller inserts its record.
func (a *IdentifierAllocator) Allocate(ctx context.Context, tx repository.Tx, kind IDKind) (string, error) {
	if _, ok := idPrefixes[kind]; !ok {
		return "", errors.New(errors.ErrCodeInternal, fmt.Sprintf("unknown identifier kind %q", kind))
	}

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", errors.Wrap(err, errors.ErrCodeInternal, "identifier allocation aborted")
		}

		id := a.candidate(kind)
		taken, err := a.exists(ctx, tx, kind, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}

		metrics.IdentifierCollisions.WithLabelValues(string(kind)).Inc()
		a.log.Debug().
			Str("kind", string(kind)).
			Str("candidate", id).
			Int("attempt", attempt).
			Msg("Identifier collision, retrying")
	}

	return "", errors.ResourceExhausted(fmt.Sprintf("no free %s identifier after %d attempts", kind, a.maxAttempts))
}

func (a *IdentifierAllocator) exists(ctx context.Context, tx repository.Tx, kind IDKind, id string) (bool, error) {
	switch kind {
	case IDKindAccount:
		return tx.AccountExists(ctx, id)
	case IDKindTransaction:
		return tx.TransactionExists(ctx, id)
	case IDKindApproval:
		return tx.ApprovalExists(ctx, id)
	default:
		return tx.NotificationExists(ctx, id)
	}
}
