package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-ledger-approvals/internal/logger"
	"github.com/pesio-ai/be-ledger-approvals/internal/repository"
	"github.com/pesio-ai/be-ledger-approvals/internal/repository/memory"
)

const testReviewer = "reviewer-1"

// sequenceSource returns 1, 2, 3, ... modulo n.
type sequenceSource struct {
	next int
}

func (s *sequenceSource) IntN(n int) int {
	s.next++
	return s.next % n
}

// fixedSource always returns the same value.
type fixedSource int

func (f fixedSource) IntN(n int) int { return int(f) % n }

type publishedEvent struct {
	eventType  string
	resourceID string
	actorID    string
	recipients []string
	payload    map[string]any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) PublishApprovalEvent(_ context.Context, eventType, _, resourceID, actorID string, recipients []string, payload map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{
		eventType:  eventType,
		resourceID: resourceID,
		actorID:    actorID,
		recipients: recipients,
		payload:    payload,
	})
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.eventType)
	}
	return out
}

// scriptedStore wraps a store and can fail chosen calls to InTransaction or
// substitute the Tx handed to the unit of work.
type scriptedStore struct {
	repository.Store
	mu     sync.Mutex
	calls  int
	fail   func(call int) error
	wrapTx func(tx repository.Tx) repository.Tx
}

func (s *scriptedStore) InTransaction(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()

	if s.fail != nil {
		if err := s.fail(call); err != nil {
			return err
		}
	}
	if s.wrapTx == nil {
		return s.Store.InTransaction(ctx, fn)
	}
	return s.Store.InTransaction(ctx, func(tx repository.Tx) error {
		return fn(s.wrapTx(tx))
	})
}

// staleAccountTx reports every account id as free, as if a concurrent unit
// of work committed the same id after the existence check.
type staleAccountTx struct {
	repository.Tx
}

func (staleAccountTx) AccountExists(context.Context, string) (bool, error) {
	return false, nil
}

type fixture struct {
	mem          *memory.Store
	store        *scriptedStore
	publisher    *recordingPublisher
	ids          *IdentifierAllocator
	notifier     *NotificationDispatcher
	approvals    *ApprovalService
	transactions *TransactionService
	accounts     *AccountService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := logger.NewNop()
	mem := memory.New()
	store := &scriptedStore{Store: mem}
	publisher := &recordingPublisher{}
	ids := NewIdentifierAllocator(&sequenceSource{}, 50, 4, log)
	notifier := NewNotificationDispatcher(store, ids, publisher, log)
	approvals := NewApprovalService(ApprovalServiceConfig{
		Store:           store,
		IDs:             ids,
		Projector:       NewAccountProjector(log),
		Notifier:        notifier,
		Publisher:       publisher,
		DefaultReviewer: testReviewer,
		Retry: RetryOptions{
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   1,
		},
		Logger: log,
	})
	gate := NewHighValueGate(decimal.NewFromInt(100000))

	return &fixture{
		mem:          mem,
		store:        store,
		publisher:    publisher,
		ids:          ids,
		notifier:     notifier,
		approvals:    approvals,
		transactions: NewTransactionService(store, ids, gate, approvals, log),
		accounts:     NewAccountService(store),
	}
}

// seedAccount writes an account directly, bypassing approval.
func (f *fixture) seedAccount(t *testing.T, id, customerID string, status repository.AccountStatus, balance int64) {
	t.Helper()
	err := f.mem.InTransaction(context.Background(), func(tx repository.Tx) error {
		return tx.InsertAccount(context.Background(), &repository.Account{
			ID:           id,
			CustomerName: "Customer " + id,
			CustomerID:   customerID,
			AccountType:  repository.AccountTypeSavings,
			Balance:      decimal.NewFromInt(balance),
			Status:       status,
		})
	})
	require.NoError(t, err)
}

func (f *fixture) account(t *testing.T, id string) *repository.Account {
	t.Helper()
	a, err := f.accounts.Get(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (f *fixture) notifications(t *testing.T) []*repository.Notification {
	t.Helper()
	items, _, err := f.notifier.List(context.Background(), repository.NotificationFilter{Page: repository.Page{Size: repository.MaxPageSize}})
	require.NoError(t, err)
	return items
}

func strPtr(s string) *string { return &s }

func creationRequest(accountID, customerID string) *SubmitAccountCreationRequest {
	return &SubmitAccountCreationRequest{
		Payload: AccountCreationPayload{
			AccountID:    accountID,
			CustomerName: "Asha Rao",
			CustomerID:   customerID,
			AccountType:  repository.AccountTypeSavings,
		},
		SubmittedBy: "officer-1",
	}
}
