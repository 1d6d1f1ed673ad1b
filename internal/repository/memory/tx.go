package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/pesio-ai/be-ledger-approvals/internal/errors"
	"github.com/pesio-ai/be-ledger-approvals/internal/repository"
)

type tx struct {
	st  *state
	now func() time.Time
}

var _ repository.Tx = (*tx)(nil)

func collision(kind string) error {
	return errors.Retryable(errors.Conflict(fmt.Sprintf("%s identifier collision", kind)))
}

func newestFirst[T any](created func(T) time.Time, id func(T) string) func(a, b T) int {
	return func(a, b T) int {
		if c := created(b).Compare(created(a)); c != 0 {
			return c
		}
		return cmp.Compare(id(a), id(b))
	}
}

// ── accounts ──────────────────────────────────────────────────────────────────

func (t *tx) AccountExists(_ context.Context, id string) (bool, error) {
	_, ok := t.st.accounts[id]
	return ok, nil
}

func (t *tx) CustomerIDExists(_ context.Context, customerID string) (bool, error) {
	for _, a := range t.st.accounts {
		if a.CustomerID == customerID {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) GetAccount(_ context.Context, id string) (*repository.Account, error) {
	a, ok := t.st.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (t *tx) GetAccountForUpdate(ctx context.Context, id string) (*repository.Account, error) {
	return t.GetAccount(ctx, id)
}

func (t *tx) checkAccount(a *repository.Account) error {
	if a.Balance.IsNegative() {
		return errors.InvalidInput("balance", "balance cannot be negative")
	}
	for id, other := range t.st.accounts {
		if id != a.ID && other.CustomerID == a.CustomerID {
			return errors.ConflictOn("customer_id", "customer id already exists")
		}
	}
	return nil
}

func (t *tx) InsertAccount(_ context.Context, a *repository.Account) error {
	if _, ok := t.st.accounts[a.ID]; ok {
		return errors.ConflictOn("account_id", "account id already exists")
	}
	if err := t.checkAccount(a); err != nil {
		return err
	}
	a.CreatedAt = t.now()
	t.st.accounts[a.ID] = *a
	return nil
}

func (t *tx) UpdateAccount(_ context.Context, a *repository.Account) error {
	current, ok := t.st.accounts[a.ID]
	if !ok {
		return errors.NotFound("account", a.ID)
	}
	if err := t.checkAccount(a); err != nil {
		return err
	}
	updated := *a
	updated.CreatedAt = current.CreatedAt
	t.st.accounts[a.ID] = updated
	return nil
}

func (t *tx) DeleteAccount(_ context.Context, id string) (bool, error) {
	if _, ok := t.st.accounts[id]; !ok {
		return false, nil
	}
	for _, txn := range t.st.transactions {
		if txn.AccountID == id || (txn.ToAccountID != nil && *txn.ToAccountID == id) {
			return false, errors.InvalidInput("account_id", "violates transactions_account_id_fkey")
		}
	}
	delete(t.st.accounts, id)
	return true, nil
}

func (t *tx) ListAccounts(_ context.Context, f repository.AccountFilter) ([]*repository.Account, int64, error) {
	matched := make([]*repository.Account, 0)
	for _, a := range t.st.accounts {
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		matched = append(matched, &a)
	}
	slices.SortFunc(matched, newestFirst(
		func(a *repository.Account) time.Time { return a.CreatedAt },
		func(a *repository.Account) string { return a.ID },
	))
	return page(matched, f.Page), int64(len(matched)), nil
}

// ── transactions ──────────────────────────────────────────────────────────────

func copyTransaction(t repository.Transaction) *repository.Transaction {
	t.ToAccountID = cloneString(t.ToAccountID)
	return &t
}

func (t *tx) TransactionExists(_ context.Context, id string) (bool, error) {
	_, ok := t.st.transactions[id]
	return ok, nil
}

func (t *tx) GetTransaction(_ context.Context, id string) (*repository.Transaction, error) {
	txn, ok := t.st.transactions[id]
	if !ok {
		return nil, nil
	}
	return copyTransaction(txn), nil
}

func (t *tx) GetTransactionForUpdate(ctx context.Context, id string) (*repository.Transaction, error) {
	return t.GetTransaction(ctx, id)
}

func (t *tx) InsertTransaction(_ context.Context, txn *repository.Transaction) error {
	if _, ok := t.st.transactions[txn.ID]; ok {
		return collision("transaction")
	}
	if _, ok := t.st.accounts[txn.AccountID]; !ok {
		return errors.InvalidInput("account_id", "referenced record does not exist")
	}
	if !txn.Amount.IsPositive() {
		return errors.InvalidInput("amount", "violates transactions_amount_check")
	}
	if (txn.Type == repository.TransactionTypeTransfer) != (txn.ToAccountID != nil) {
		return errors.InvalidInput("transfer_target", "violates transactions_transfer_target_chk")
	}
	if txn.ToAccountID != nil {
		if *txn.ToAccountID == txn.AccountID {
			return errors.InvalidInput("distinct_target", "violates transactions_distinct_target_chk")
		}
		if _, ok := t.st.accounts[*txn.ToAccountID]; !ok {
			return errors.InvalidInput("to_account_id", "referenced record does not exist")
		}
	}
	txn.CreatedAt = t.now()
	t.st.transactions[txn.ID] = *copyTransaction(*txn)
	return nil
}

func (t *tx) UpdateTransaction(_ context.Context, txn *repository.Transaction) error {
	current, ok := t.st.transactions[txn.ID]
	if !ok {
		return errors.NotFound("transaction", txn.ID)
	}
	current.Status = txn.Status
	current.Flag = txn.Flag
	t.st.transactions[txn.ID] = current
	return nil
}

func (t *tx) ListTransactions(_ context.Context, f repository.TransactionFilter) ([]*repository.Transaction, int64, error) {
	matched := make([]*repository.Transaction, 0)
	for _, txn := range t.st.transactions {
		if f.AccountID != nil && txn.AccountID != *f.AccountID &&
			(txn.ToAccountID == nil || *txn.ToAccountID != *f.AccountID) {
			continue
		}
		if f.Type != nil && txn.Type != *f.Type {
			continue
		}
		if f.Status != nil && txn.Status != *f.Status {
			continue
		}
		if f.Flag != nil && txn.Flag != *f.Flag {
			continue
		}
		matched = append(matched, copyTransaction(txn))
	}
	slices.SortFunc(matched, newestFirst(
		func(t *repository.Transaction) time.Time { return t.CreatedAt },
		func(t *repository.Transaction) string { return t.ID },
	))
	return page(matched, f.Page), int64(len(matched)), nil
}

// ── approvals ─────────────────────────────────────────────────────────────────

func copyApproval(a repository.Approval) *repository.Approval {
	a.TransactionID = cloneString(a.TransactionID)
	a.AccountID = cloneString(a.AccountID)
	a.PendingChanges = cloneBytes(a.PendingChanges)
	a.DecidedAt = cloneTime(a.DecidedAt)
	return &a
}

func (t *tx) ApprovalExists(_ context.Context, id string) (bool, error) {
	_, ok := t.st.approvals[id]
	return ok, nil
}

func (t *tx) GetApproval(_ context.Context, id string) (*repository.Approval, error) {
	a, ok := t.st.approvals[id]
	if !ok {
		return nil, nil
	}
	return copyApproval(a), nil
}

func (t *tx) GetApprovalForUpdate(ctx context.Context, id string) (*repository.Approval, error) {
	return t.GetApproval(ctx, id)
}

func (t *tx) GetOutstandingApprovalForAccount(_ context.Context, accountID string) (*repository.Approval, error) {
	for _, a := range t.st.approvals {
		if a.AccountID != nil && *a.AccountID == accountID && a.Decision == repository.DecisionPending {
			return copyApproval(a), nil
		}
	}
	return nil, nil
}

func (t *tx) InsertApproval(ctx context.Context, a *repository.Approval) error {
	if _, ok := t.st.approvals[a.ID]; ok {
		return collision("approval")
	}
	if a.AccountID != nil && a.Decision == repository.DecisionPending {
		outstanding, err := t.GetOutstandingApprovalForAccount(ctx, *a.AccountID)
		if err != nil {
			return err
		}
		if outstanding != nil {
			return errors.Conflict("account already has a pending approval")
		}
	}
	if a.TransactionID != nil {
		if _, ok := t.st.transactions[*a.TransactionID]; !ok {
			return errors.InvalidInput("transaction_id", "referenced record does not exist")
		}
	}
	a.CreatedAt = t.now()
	t.st.approvals[a.ID] = *copyApproval(*a)
	return nil
}

func (t *tx) UpdateApproval(_ context.Context, a *repository.Approval) error {
	current, ok := t.st.approvals[a.ID]
	if !ok || current.Decision != repository.DecisionPending {
		return errors.InvalidState("approval " + a.ID + " has already been decided")
	}
	current.Decision = a.Decision
	current.Comments = a.Comments
	current.DecidedAt = cloneTime(a.DecidedAt)
	t.st.approvals[a.ID] = current
	return nil
}

func (t *tx) ListApprovals(_ context.Context, f repository.ApprovalFilter) ([]*repository.Approval, int64, error) {
	matched := make([]*repository.Approval, 0)
	for _, a := range t.st.approvals {
		if f.Decision != nil && a.Decision != *f.Decision {
			continue
		}
		if f.Type != nil && a.Type != *f.Type {
			continue
		}
		if f.ReviewerID != nil && a.ReviewerID != *f.ReviewerID {
			continue
		}
		matched = append(matched, copyApproval(a))
	}
	slices.SortFunc(matched, newestFirst(
		func(a *repository.Approval) time.Time { return a.CreatedAt },
		func(a *repository.Approval) string { return a.ID },
	))
	return page(matched, f.Page), int64(len(matched)), nil
}

// ── notifications ─────────────────────────────────────────────────────────────

func copyNotification(n repository.Notification) *repository.Notification {
	n.ApprovalID = cloneString(n.ApprovalID)
	n.TransactionID = cloneString(n.TransactionID)
	return &n
}

func (t *tx) NotificationExists(_ context.Context, id string) (bool, error) {
	_, ok := t.st.notifications[id]
	return ok, nil
}

func (t *tx) GetNotification(_ context.Context, id string) (*repository.Notification, error) {
	n, ok := t.st.notifications[id]
	if !ok {
		return nil, nil
	}
	return copyNotification(n), nil
}

func (t *tx) GetNotificationByApproval(_ context.Context, approvalID string) (*repository.Notification, error) {
	for _, n := range t.st.notifications {
		if n.ApprovalID != nil && *n.ApprovalID == approvalID {
			return copyNotification(n), nil
		}
	}
	return nil, nil
}

func (t *tx) GetNotificationByTransaction(_ context.Context, transactionID string) (*repository.Notification, error) {
	for _, n := range t.st.notifications {
		if n.TransactionID != nil && *n.TransactionID == transactionID {
			return copyNotification(n), nil
		}
	}
	return nil, nil
}

func (t *tx) InsertNotification(ctx context.Context, n *repository.Notification) error {
	if _, ok := t.st.notifications[n.ID]; ok {
		return collision("notification")
	}
	if n.ApprovalID != nil && n.TransactionID != nil {
		return errors.InvalidInput("single_reference", "violates notifications_single_reference_chk")
	}
	if n.ApprovalID != nil {
		if _, ok := t.st.approvals[*n.ApprovalID]; !ok {
			return errors.InvalidInput("approval_id", "referenced record does not exist")
		}
		existing, err := t.GetNotificationByApproval(ctx, *n.ApprovalID)
		if err != nil {
			return err
		}
		if existing != nil {
			return errors.Conflict("approval already has a notification")
		}
	}
	if n.TransactionID != nil {
		if _, ok := t.st.transactions[*n.TransactionID]; !ok {
			return errors.InvalidInput("transaction_id", "referenced record does not exist")
		}
		existing, err := t.GetNotificationByTransaction(ctx, *n.TransactionID)
		if err != nil {
			return err
		}
		if existing != nil {
			return errors.Conflict("transaction already has a notification")
		}
	}
	n.CreatedAt = t.now()
	t.st.notifications[n.ID] = *copyNotification(*n)
	return nil
}

func (t *tx) UpdateNotification(_ context.Context, n *repository.Notification) error {
	current, ok := t.st.notifications[n.ID]
	if !ok {
		return errors.NotFound("notification", n.ID)
	}
	current.Status = n.Status
	t.st.notifications[n.ID] = current
	return nil
}

func (t *tx) DeleteNotification(_ context.Context, id string) (bool, error) {
	if _, ok := t.st.notifications[id]; !ok {
		return false, nil
	}
	delete(t.st.notifications, id)
	return true, nil
}

func (t *tx) DeleteAllNotifications(_ context.Context) (int64, error) {
	n := int64(len(t.st.notifications))
	clear(t.st.notifications)
	return n, nil
}

func (t *tx) DeleteOrphanedNotifications(_ context.Context) (int64, error) {
	var removed int64
	for id, n := range t.st.notifications {
		orphaned := false
		if n.ApprovalID != nil {
			if a, ok := t.st.approvals[*n.ApprovalID]; ok && a.Decision != repository.DecisionPending {
				orphaned = true
			}
		}
		if n.TransactionID != nil {
			if txn, ok := t.st.transactions[*n.TransactionID]; ok && txn.Status != repository.TransactionStatusPending {
				orphaned = true
			}
		}
		if orphaned {
			delete(t.st.notifications, id)
			removed++
		}
	}
	return removed, nil
}

func (t *tx) ListNotifications(_ context.Context, f repository.NotificationFilter) ([]*repository.Notification, int64, error) {
	matched := make([]*repository.Notification, 0)
	for _, n := range t.st.notifications {
		if f.UserID != nil && n.UserID != *f.UserID {
			continue
		}
		if f.Type != nil && n.Type != *f.Type {
			continue
		}
		if f.Status != nil && n.Status != *f.Status {
			continue
		}
		matched = append(matched, copyNotification(n))
	}
	slices.SortFunc(matched, newestFirst(
		func(n *repository.Notification) time.Time { return n.CreatedAt },
		func(n *repository.Notification) string { return n.ID },
	))
	return page(matched, f.Page), int64(len(matched)), nil
}

// ── audit ─────────────────────────────────────────────────────────────────────

func (t *tx) AppendAudit(_ context.Context, entry *repository.AuditEntry) error {
	if _, ok := t.st.approvals[entry.ApprovalID]; !ok {
		return errors.InvalidInput("approval_id", "referenced record does not exist")
	}
	t.st.auditSeq++
	entry.ID = t.st.auditSeq
	entry.PerformedAt = t.now()

	stored := *entry
	stored.Metadata = maps.Clone(entry.Metadata)
	t.st.audit = append(t.st.audit, stored)
	return nil
}

func (t *tx) ListAuditByApproval(_ context.Context, approvalID string) ([]*repository.AuditEntry, error) {
	entries := make([]*repository.AuditEntry, 0)
	for _, e := range t.st.audit {
		if e.ApprovalID == approvalID {
			entries = append(entries, &e)
		}
	}
	return entries, nil
}
