// Package memory is a single-process Store used for development and tests.
// It enforces the same keys and constraints as the Postgres schema.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/pesio-ai/be-ledger-approvals/internal/errors"
	"github.com/pesio-ai/be-ledger-approvals/internal/repository"
)

// Store serialises units of work behind one mutex. Each unit runs against a
// private copy of the data which replaces the shared copy only on success.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{state: newState(), now: time.Now}
}

// WithClock overrides the timestamp source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// InTransaction runs fn under the store lock and publishes its writes only
// when fn succeeds and ctx is still live.
func (s *Store) InTransaction(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "transaction aborted")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&tx{st: work, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "transaction aborted")
	}

	s.state = work
	return nil
}

type state struct {
	accounts      map[string]repository.Account
	transactions  map[string]repository.Transaction
	approvals     map[string]repository.Approval
	notifications map[string]repository.Notification
	audit         []repository.AuditEntry
	auditSeq      int64
}

func newState() *state {
	return &state{
		accounts:      make(map[string]repository.Account),
		transactions:  make(map[string]repository.Transaction),
		approvals:     make(map[string]repository.Approval),
		notifications: make(map[string]repository.Notification),
	}
}

// clone copies the maps. Stored records are never mutated in place, so the
// values themselves can be shared between copies.
func (s *state) clone() *state {
	return &state{
		accounts:      maps.Clone(s.accounts),
		transactions:  maps.Clone(s.transactions),
		approvals:     maps.Clone(s.approvals),
		notifications: maps.Clone(s.notifications),
		audit:         append([]repository.AuditEntry(nil), s.audit...),
		auditSeq:      s.auditSeq,
	}
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func page[T any](items []T, p repository.Page) []T {
	offset, limit := p.Offset(), p.Limit()
	if offset >= len(items) {
		return make([]T, 0)
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
