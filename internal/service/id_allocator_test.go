package service

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-ledger-approvals/internal/errors"
	"github.com/pesio-ai/be-ledger-approvals/internal/logger"
	"github.com/pesio-ai/be-ledger-approvals/internal/metrics"
	"github.com/pesio-ai/be-ledger-approvals/internal/repository"
	"github.com/pesio-ai/be-ledger-approvals/internal/repository/memory"
)

func TestAllocateFormatsPrefixAndPadding(t *testing.T) {
	store := memory.New()
	ids := NewIdentifierAllocator(fixedSource(42), 5, 4, logger.NewNop())

	want := map[IDKind]string{
		IDKindAccount:      "ACC0042",
		IDKindTransaction:  "TXN0042",
		IDKindApproval:     "APP0042",
		IDKindNotification: "NOT0042",
	}
	for kind, id := range want {
		err := store.InTransaction(context.Background(), func(tx repository.Tx) error {
			got, err := ids.Allocate(context.Background(), tx, kind)
			require.NoError(t, err)
			assert.Equal(t, id, got)
			return nil
		})
		require.NoError(t, err)
	}
}

func TestAllocateSkipsTakenIdentifiers(t *testing.T) {
	store := memory.New()
	ids := NewIdentifierAllocator(&sequenceSource{}, 5, 4, logger.NewNop())
	collisions := testutil.ToFloat64(metrics.IdentifierCollisions.WithLabelValues(string(IDKindAccount)))

	err := store.InTransaction(context.Background(), func(tx repository.Tx) error {
		ctx := context.Background()
		require.NoError(t, tx.InsertAccount(ctx, &repository.Account{ID: "ACC0001", CustomerID: "CUST0001111"}))
		require.NoError(t, tx.InsertAccount(ctx, &repository.Account{ID: "ACC0002", CustomerID: "CUST0002222"}))

		got, err := ids.Allocate(ctx, tx, IDKindAccount)
		require.NoError(t, err)
		assert.Equal(t, "ACC0003", got)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, collisions+2, testutil.ToFloat64(metrics.IdentifierCollisions.WithLabelValues(string(IDKindAccount))))
}

func TestAllocateExhaustsAfterBoundedAttempts(t *testing.T) {
	store := memory.New()
	ids := NewIdentifierAllocator(fixedSource(7), 3, 4, logger.NewNop())

	err := store.InTransaction(context.Background(), func(tx repository.Tx) error {
		ctx := context.Background()
		require.NoError(t, tx.InsertAccount(ctx, &repository.Account{ID: "ACC0007", CustomerID: "CUST0007777"}))

		_, err := ids.Allocate(ctx, tx, IDKindAccount)
		return err
	})
	assert.Equal(t, errors.ErrCodeResourceExhausted, errors.CodeOf(err))
}

func TestAllocateRejectsUnknownKind(t *testing.T) {
	store := memory.New()
	ids := NewIdentifierAllocator(fixedSource(1), 3, 4, logger.NewNop())

	err := store.InTransaction(context.Background(), func(tx repository.Tx) error {
		_, err := ids.Allocate(context.Background(), tx, IDKind("ledger"))
		return err
	})
	assert.Equal(t, errors.ErrCodeInternal, errors.CodeOf(err))
}
