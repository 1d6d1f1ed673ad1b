package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-ledger-approvals/internal/errors"
	"github.com/pesio-ai/be-ledger-approvals/internal/repository"
)

func TestDeleteAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedAccount(t, "ACC0001", "CUST0001111", repository.AccountStatusActive, 0)

	require.NoError(t, f.accounts.Delete(ctx, "ACC0001"))

	exists, err := f.accounts.Exists(ctx, "ACC0001")
	require.NoError(t, err)
	assert.False(t, exists)

	err = f.accounts.Delete(ctx, "ACC0001")
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestDeleteAccountWithPendingApprovalConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.approvals.SubmitAccountCreation(ctx, creationRequest("ACC0001", "CUST0001234"))
	require.NoError(t, err)

	err = f.accounts.Delete(ctx, "ACC0001")
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
	assert.Contains(t, err.Error(), res.Approval.ID)
	assert.Equal(t, repository.AccountStatusPending, f.account(t, "ACC0001").Status)
}

func TestDeleteAccountWithTransactionsConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedAccount(t, "ACC0001", "CUST0001111", repository.AccountStatusActive, 500)
	f.seedAccount(t, "ACC0002", "CUST0002222", repository.AccountStatusActive, 0)

	_, err := f.transactions.Submit(ctx, &SubmitTransactionRequest{
		AccountID:   "ACC0001",
		Type:        repository.TransactionTypeTransfer,
		Amount:      decimal.NewFromInt(100),
		ToAccountID: strPtr("ACC0002"),
		SubmittedBy: "officer-1",
	})
	require.NoError(t, err)

	// The target of a transfer is guarded as well as the source.
	for _, id := range []string{"ACC0001", "ACC0002"} {
		err = f.accounts.Delete(ctx, id)
		assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err), id)
	}
	assert.Equal(t, "100", f.account(t, "ACC0002").Balance.String())
}
