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

func TestHighValueGateEvaluate(t *testing.T) {
	gate := NewHighValueGate(decimal.NewFromInt(100000))

	tests := []struct {
		name   string
		amount string
		flag   string
		want   GateOutcome
	}{
		{"below threshold", "99999.99", "", GateAutoCommit},
		{"at threshold", "100000", "", GateAutoCommit},
		{"above threshold", "100000.01", "", GateRequiresApproval},
		{"explicit normal flag", "50", repository.FlagNormal, GateAutoCommit},
		{"suspicious flag", "50", repository.FlagSuspicious, GateRequiresApproval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gate.Evaluate(decimal.RequireFromString(tt.amount), tt.flag))
		})
	}
}

func TestSubmitTransactionValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   SubmitTransactionRequest
		field string
	}{
		{
			name:  "unknown type",
			req:   SubmitTransactionRequest{AccountID: "ACC0001", Type: "Refund", Amount: decimal.NewFromInt(10)},
			field: "type",
		},
		{
			name:  "zero amount",
			req:   SubmitTransactionRequest{AccountID: "ACC0001", Type: repository.TransactionTypeDeposit, Amount: decimal.Zero},
			field: "amount",
		},
		{
			name:  "fractional paise",
			req:   SubmitTransactionRequest{AccountID: "ACC0001", Type: repository.TransactionTypeDeposit, Amount: decimal.RequireFromString("1.001")},
			field: "amount",
		},
		{
			name:  "transfer without target",
			req:   SubmitTransactionRequest{AccountID: "ACC0001", Type: repository.TransactionTypeTransfer, Amount: decimal.NewFromInt(10)},
			field: "to_account_id",
		},
		{
			name:  "transfer to self",
			req:   SubmitTransactionRequest{AccountID: "ACC0001", Type: repository.TransactionTypeTransfer, Amount: decimal.NewFromInt(10), ToAccountID: strPtr("ACC0001")},
			field: "to_account_id",
		},
		{
			name:  "deposit with target",
			req:   SubmitTransactionRequest{AccountID: "ACC0001", Type: repository.TransactionTypeDeposit, Amount: decimal.NewFromInt(10), ToAccountID: strPtr("ACC0002")},
			field: "to_account_id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.transactions.Submit(ctx, &tt.req)
			assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))
			assert.Equal(t, tt.field, errors.FieldOf(err))
		})
	}
}

func TestSubmitTransactionAccountChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedAccount(t, "ACC0001", "CUST0001111", repository.AccountStatusPending, 0)

	_, err := f.transactions.Submit(ctx, &SubmitTransactionRequest{AccountID: "ACC4040", Type: repository.TransactionTypeDeposit, Amount: decimal.NewFromInt(10)})
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))

	_, err = f.transactions.Submit(ctx, &SubmitTransactionRequest{AccountID: "ACC0001", Type: repository.TransactionTypeDeposit, Amount: decimal.NewFromInt(10)})
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))
}

func TestSubmitTransactionAutoCommits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedAccount(t, "ACC0001", "CUST0001111", repository.AccountStatusActive, 1000)
	f.seedAccount(t, "ACC0002", "CUST0002222", repository.AccountStatusActive, 0)

	res, err := f.transactions.Submit(ctx, &SubmitTransactionRequest{
		AccountID:   "ACC0001",
		Type:        repository.TransactionTypeTransfer,
		Amount:      decimal.RequireFromString("250.50"),
		ToAccountID: strPtr("ACC0002"),
		Description: "rent",
	})
	require.NoError(t, err)

	assert.Equal(t, GateAutoCommit, res.Outcome)
	assert.Nil(t, res.Approval)
	assert.Equal(t, repository.TransactionStatusCompleted, res.Transaction.Status)
	assert.Equal(t, repository.FlagNormal, res.Transaction.Flag)
	assert.Regexp(t, `^TXN\d{4}$`, res.Transaction.ID)

	assert.Equal(t, "749.5", f.account(t, "ACC0001").Balance.String())
	assert.Equal(t, "250.5", f.account(t, "ACC0002").Balance.String())
	assert.Empty(t, f.notifications(t))

	stored, err := f.transactions.Get(ctx, res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, "rent", stored.Description)
}

func TestSubmitTransactionInsufficientFundsPersistsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedAccount(t, "ACC0001", "CUST0001111", repository.AccountStatusActive, 100)

	_, err := f.transactions.Submit(ctx, &SubmitTransactionRequest{
		AccountID: "ACC0001",
		Type:      repository.TransactionTypeWithdrawal,
		Amount:    decimal.NewFromInt(500),
	})
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))

	_, total, err := f.transactions.List(ctx, repository.TransactionFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Equal(t, "100", f.account(t, "ACC0001").Balance.String())
}

func TestHighValueTransactionRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedAccount(t, "ACC0001", "CUST0001111", repository.AccountStatusActive, 500000)

	res, err := f.transactions.Submit(ctx, &SubmitTransactionRequest{
		AccountID:   "ACC0001",
		Type:        repository.TransactionTypeWithdrawal,
		Amount:      decimal.NewFromInt(150000),
		SubmittedBy: "teller-7",
	})
	require.NoError(t, err)

	assert.Equal(t, GateRequiresApproval, res.Outcome)
	assert.Equal(t, repository.TransactionStatusPending, res.Transaction.Status)
	assert.Equal(t, repository.FlagHighValue, res.Transaction.Flag)
	require.NotNil(t, res.Approval)
	assert.Equal(t, repository.ApprovalTypeHighValueTransaction, res.Approval.Type)
	assert.Nil(t, res.Approval.AccountID)
	require.NotNil(t, res.Approval.TransactionID)
	assert.Equal(t, res.Transaction.ID, *res.Approval.TransactionID)

	notes := f.notifications(t)
	require.Len(t, notes, 2)
	byType := map[repository.NotificationType]*repository.Notification{}
	for _, n := range notes {
		byType[n.Type] = n
		assert.Equal(t, testReviewer, n.UserID)
	}
	alert := byType[repository.NotificationTypeSuspiciousActivity]
	require.NotNil(t, alert)
	require.NotNil(t, alert.TransactionID)
	assert.Equal(t, res.Transaction.ID, *alert.TransactionID)
	assert.Equal(t, "High-value Withdrawal transaction of ₹150,000.00 has been initiated and requires approval.", alert.Message)
	require.NotNil(t, byType[repository.NotificationTypeApprovalReminder])

	_, err = f.approvals.Decide(ctx, &DecideRequest{ApprovalID: res.Approval.ID, Decision: repository.DecisionReject})
	require.NoError(t, err)

	txn, err := f.transactions.Get(ctx, res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.TransactionStatusRejected, txn.Status)
	assert.Empty(t, f.notifications(t))
	assert.Equal(t, "500000", f.account(t, "ACC0001").Balance.String())

	assert.Equal(t, []string{EventApprovalRequested, EventSuspiciousActivity, EventApprovalRejected}, f.publisher.types())
}

func TestHighValueTransactionApprovedPostsBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedAccount(t, "ACC0001", "CUST0001111", repository.AccountStatusActive, 500000)
	f.seedAccount(t, "ACC0002", "CUST0002222", repository.AccountStatusActive, 0)

	res, err := f.transactions.Submit(ctx, &SubmitTransactionRequest{
		AccountID:   "ACC0001",
		Type:        repository.TransactionTypeTransfer,
		Amount:      decimal.NewFromInt(200000),
		ToAccountID: strPtr("ACC0002"),
	})
	require.NoError(t, err)
	assert.Equal(t, "500000", f.account(t, "ACC0001").Balance.String())

	_, err = f.approvals.Decide(ctx, &DecideRequest{ApprovalID: res.Approval.ID, Decision: repository.DecisionApprove})
	require.NoError(t, err)

	txn, err := f.transactions.Get(ctx, res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.TransactionStatusCompleted, txn.Status)
	assert.Equal(t, "300000", f.account(t, "ACC0001").Balance.String())
	assert.Equal(t, "200000", f.account(t, "ACC0002").Balance.String())
	assert.Empty(t, f.notifications(t))
}

func TestHighValueTransactionApprovedWithoutFundsFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedAccount(t, "ACC0001", "CUST0001111", repository.AccountStatusActive, 1000)

	res, err := f.transactions.Submit(ctx, &SubmitTransactionRequest{
		AccountID: "ACC0001",
		Type:      repository.TransactionTypeWithdrawal,
		Amount:    decimal.NewFromInt(150000),
	})
	require.NoError(t, err)

	approval, err := f.approvals.Decide(ctx, &DecideRequest{ApprovalID: res.Approval.ID, Decision: repository.DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, repository.DecisionApprove, approval.Decision)

	txn, err := f.transactions.Get(ctx, res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.TransactionStatusFailed, txn.Status)
	assert.Equal(t, "1000", f.account(t, "ACC0001").Balance.String())

	details, err := f.approvals.Details(ctx, res.Approval.ID)
	require.NoError(t, err)
	require.Len(t, details.AuditTrail, 2)
	assert.Equal(t, "amount: insufficient funds", details.AuditTrail[1].Metadata["failure"])
}

func TestFlaggedTransactionKeepsCallerFlag(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "ACC0001", "CUST0001111", repository.AccountStatusActive, 1000)

	res, err := f.transactions.Submit(context.Background(), &SubmitTransactionRequest{
		AccountID: "ACC0001",
		Type:      repository.TransactionTypeDeposit,
		Amount:    decimal.NewFromInt(10),
		Flag:      repository.FlagSuspicious,
	})
	require.NoError(t, err)
	assert.Equal(t, GateRequiresApproval, res.Outcome)
	assert.Equal(t, repository.FlagSuspicious, res.Transaction.Flag)
}

func TestListTransactionsByAccountIncludesIncomingTransfers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedAccount(t, "ACC0001", "CUST0001111", repository.AccountStatusActive, 1000)
	f.seedAccount(t, "ACC0002", "CUST0002222", repository.AccountStatusActive, 1000)

	_, err := f.transactions.Submit(ctx, &SubmitTransactionRequest{AccountID: "ACC0001", Type: repository.TransactionTypeTransfer, Amount: decimal.NewFromInt(5), ToAccountID: strPtr("ACC0002")})
	require.NoError(t, err)
	_, err = f.transactions.Submit(ctx, &SubmitTransactionRequest{AccountID: "ACC0001", Type: repository.TransactionTypeDeposit, Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)

	items, total, err := f.transactions.List(ctx, repository.TransactionFilter{AccountID: strPtr("ACC0002")})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, repository.TransactionTypeTransfer, items[0].Type)
}
