//go:build integration

package repository_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pesio-ai/be-ledger-approvals/internal/database"
	"github.com/pesio-ai/be-ledger-approvals/internal/errors"
	"github.com/pesio-ai/be-ledger-approvals/internal/repository"
)

func setupStore(t *testing.T) *repository.PostgresStore {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ledger_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, database.Migrate(connStr, database.Up))

	db, err := database.Open(ctx, connStr, database.Config{MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	return repository.NewPostgresStore(db)
}

func run(t *testing.T, s *repository.PostgresStore, fn func(ctx context.Context, tx repository.Tx) error) error {
	t.Helper()
	ctx := context.Background()
	return s.InTransaction(ctx, func(tx repository.Tx) error { return fn(ctx, tx) })
}

func activeAccount(id, customerID string, balance int64) *repository.Account {
	return &repository.Account{
		ID:           id,
		CustomerName: "Customer " + id,
		CustomerID:   customerID,
		AccountType:  repository.AccountTypeSavings,
		Balance:      decimal.NewFromInt(balance),
		Status:       repository.AccountStatusActive,
	}
}

func TestPostgresAccounts(t *testing.T) {
	s := setupStore(t)

	require.NoError(t, run(t, s, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertAccount(ctx, activeAccount("ACC0001", "CUST0001111", 100))
	}))

	err := run(t, s, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertAccount(ctx, activeAccount("ACC0002", "CUST0001111", 0))
	})
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
	assert.False(t, errors.IsRetryable(err))
	assert.Equal(t, "customer_id", errors.FieldOf(err))

	err = run(t, s, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertAccount(ctx, activeAccount("ACC0001", "CUST0002222", 0))
	})
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
	assert.Equal(t, "account_id", errors.FieldOf(err))

	err = run(t, s, func(ctx context.Context, tx repository.Tx) error {
		a := activeAccount("ACC0003", "CUST0003333", 0)
		a.Balance = decimal.NewFromInt(-1)
		return tx.InsertAccount(ctx, a)
	})
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))

	require.NoError(t, run(t, s, func(ctx context.Context, tx repository.Tx) error {
		a, err := tx.GetAccountForUpdate(ctx, "ACC0001")
		require.NoError(t, err)
		require.NotNil(t, a)
		assert.Equal(t, "100", a.Balance.String())

		a.Balance = decimal.RequireFromString("250.75")
		a.CustomerName = "Renamed"
		return tx.UpdateAccount(ctx, a)
	}))

	require.NoError(t, run(t, s, func(ctx context.Context, tx repository.Tx) error {
		a, err := tx.GetAccount(ctx, "ACC0001")
		require.NoError(t, err)
		assert.Equal(t, "250.75", a.Balance.String())
		assert.Equal(t, "Renamed", a.CustomerName)

		missing, err := tx.GetAccount(ctx, "ACC9999")
		require.NoError(t, err)
		assert.Nil(t, missing)
		return nil
	}))
}

func TestPostgresTransactionConstraints(t *testing.T) {
	s := setupStore(t)
	require.NoError(t, run(t, s, func(ctx context.Context, tx repository.Tx) error {
		require.NoError(t, tx.InsertAccount(ctx, activeAccount("ACC0001", "CUST0001111", 0)))
		return tx.InsertAccount(ctx, activeAccount("ACC0002", "CUST0002222", 0))
	}))

	txn := func(id string, typ repository.TransactionType, to *string) *repository.Transaction {
		return &repository.Transaction{
			ID:          id,
			AccountID:   "ACC0001",
			Type:        typ,
			Amount:      decimal.NewFromInt(10),
			ToAccountID: to,
			Status:      repository.TransactionStatusCompleted,
			Flag:        repository.FlagNormal,
		}
	}
	self := "ACC0001"
	other := "ACC0002"

	err := run(t, s, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertTransaction(ctx, txn("TXN0001", repository.TransactionTypeTransfer, nil))
	})
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))

	err = run(t, s, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertTransaction(ctx, txn("TXN0001", repository.TransactionTypeTransfer, &self))
	})
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))

	require.NoError(t, run(t, s, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertTransaction(ctx, txn("TXN0001", repository.TransactionTypeTransfer, &other))
	}))

	err = run(t, s, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertTransaction(ctx, txn("TXN0001", repository.TransactionTypeDeposit, nil))
	})
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
	assert.True(t, errors.IsRetryable(err))

	require.NoError(t, run(t, s, func(ctx context.Context, tx repository.Tx) error {
		items, total, err := tx.ListTransactions(ctx, repository.TransactionFilter{AccountID: &other})
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
		require.Len(t, items, 1)
		require.NotNil(t, items[0].ToAccountID)
		assert.Equal(t, other, *items[0].ToAccountID)
		return nil
	}))
}

func TestPostgresApprovalLifecycle(t *testing.T) {
	s := setupStore(t)
	accountID := "ACC0001"
	change := json.RawMessage(`{"version":1,"kind":"AccountUpdate","account_update":{"customer_name":"x"}}`)

	require.NoError(t, run(t, s, func(ctx context.Context, tx repository.Tx) error {
		require.NoError(t, tx.InsertAccount(ctx, activeAccount(accountID, "CUST0001111", 0)))
		return tx.InsertApproval(ctx, &repository.Approval{
			ID:             "APP0001",
			Type:           repository.ApprovalTypeAccountUpdate,
			AccountID:      &accountID,
			ReviewerID:     "reviewer-1",
			Decision:       repository.DecisionPending,
			PendingChanges: change,
		})
	}))

	err := run(t, s, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertApproval(ctx, &repository.Approval{
			ID:             "APP0002",
			Type:           repository.ApprovalTypeAccountUpdate,
			AccountID:      &accountID,
			ReviewerID:     "reviewer-1",
			Decision:       repository.DecisionPending,
			PendingChanges: change,
		})
	})
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
	assert.False(t, errors.IsRetryable(err))

	require.NoError(t, run(t, s, func(ctx context.Context, tx repository.Tx) error {
		outstanding, err := tx.GetOutstandingApprovalForAccount(ctx, accountID)
		require.NoError(t, err)
		require.NotNil(t, outstanding)
		assert.Equal(t, "APP0001", outstanding.ID)
		assert.JSONEq(t, string(change), string(outstanding.PendingChanges))

		return tx.InsertNotification(ctx, &repository.Notification{
			ID:         "NOT0001",
			UserID:     "reviewer-1",
			Type:       repository.NotificationTypeApprovalReminder,
			Message:    "Pending approval for account update.",
			Status:     repository.NotificationStatusUnread,
			ApprovalID: strPtr("APP0001"),
		})
	}))

	decidedAt := time.Now().UTC()
	decided := &repository.Approval{ID: "APP0001", Decision: repository.DecisionApprove, Comments: "ok", DecidedAt: &decidedAt}
	require.NoError(t, run(t, s, func(ctx context.Context, tx repository.Tx) error {
		pending := repository.DecisionPending
		approve := repository.DecisionApprove
		require.NoError(t, tx.AppendAudit(ctx, &repository.AuditEntry{
			ApprovalID:     "APP0001",
			Action:         repository.AuditActionApproved,
			PerformedBy:    "reviewer-1",
			DecisionBefore: &pending,
			DecisionAfter:  &approve,
			Metadata:       map[string]any{"comments": "ok"},
		}))
		return tx.UpdateApproval(ctx, decided)
	}))

	err = run(t, s, func(ctx context.Context, tx repository.Tx) error {
		return tx.UpdateApproval(ctx, decided)
	})
	assert.Equal(t, errors.ErrCodeInvalidState, errors.CodeOf(err))

	require.NoError(t, run(t, s, func(ctx context.Context, tx repository.Tx) error {
		trail, err := tx.ListAuditByApproval(ctx, "APP0001")
		require.NoError(t, err)
		require.Len(t, trail, 1)
		assert.Equal(t, "ok", trail[0].Metadata["comments"])

		removed, err := tx.DeleteOrphanedNotifications(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, removed)
		return nil
	}))
}

func TestPostgresRollbackOnError(t *testing.T) {
	s := setupStore(t)

	err := run(t, s, func(ctx context.Context, tx repository.Tx) error {
		require.NoError(t, tx.InsertAccount(ctx, activeAccount("ACC0001", "CUST0001111", 0)))
		return errors.InvalidInput("amount", "insufficient funds")
	})
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))

	require.NoError(t, run(t, s, func(ctx context.Context, tx repository.Tx) error {
		found, err := tx.AccountExists(ctx, "ACC0001")
		require.NoError(t, err)
		assert.False(t, found)
		return nil
	}))
}

func strPtr(s string) *string { return &s }
