package repository

import "context"

// AccountRepository persists accounts. Optional lookups return (nil, nil)
// when the row is absent.
type AccountRepository interface {
	AccountExists(ctx context.Context, id string) (bool, error)
	CustomerIDExists(ctx context.Context, customerID string) (bool, error)
	GetAccount(ctx context.Context, id string) (*Account, error)
	// GetAccountForUpdate also locks the row until the transaction ends.
	GetAccountForUpdate(ctx context.Context, id string) (*Account, error)
	InsertAccount(ctx context.Context, a *Account) error
	UpdateAccount(ctx context.Context, a *Account) error
	DeleteAccount(ctx context.Context, id string) (bool, error)
	ListAccounts(ctx context.Context, f AccountFilter) ([]*Account, int64, error)
}

type TransactionRepository interface {
	TransactionExists(ctx context.Context, id string) (bool, error)
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	GetTransactionForUpdate(ctx context.Context, id string) (*Transaction, error)
	InsertTransaction(ctx context.Context, t *Transaction) error
	UpdateTransaction(ctx context.Context, t *Transaction) error
	ListTransactions(ctx context.Context, f TransactionFilter) ([]*Transaction, int64, error)
}

type ApprovalRepository interface {
	ApprovalExists(ctx context.Context, id string) (bool, error)
	GetApproval(ctx context.Context, id string) (*Approval, error)
	GetApprovalForUpdate(ctx context.Context, id string) (*Approval, error)
	GetOutstandingApprovalForAccount(ctx context.Context, accountID string) (*Approval, error)
	InsertApproval(ctx context.Context, a *Approval) error
	// UpdateApproval writes the decision fields. It only succeeds while the
	// stored decision is still Pending and returns INVALID_STATE otherwise.
	UpdateApproval(ctx context.Context, a *Approval) error
	ListApprovals(ctx context.Context, f ApprovalFilter) ([]*Approval, int64, error)
}

type NotificationRepository interface {
	NotificationExists(ctx context.Context, id string) (bool, error)
	GetNotification(ctx context.Context, id string) (*Notification, error)
	GetNotificationByApproval(ctx context.Context, approvalID string) (*Notification, error)
	GetNotificationByTransaction(ctx context.Context, transactionID string) (*Notification, error)
	InsertNotification(ctx context.Context, n *Notification) error
	UpdateNotification(ctx context.Context, n *Notification) error
	DeleteNotification(ctx context.Context, id string) (bool, error)
	DeleteAllNotifications(ctx context.Context) (int64, error)
	// DeleteOrphanedNotifications removes notifications whose approval or
	// transaction is no longer Pending.
	DeleteOrphanedNotifications(ctx context.Context) (int64, error)
	ListNotifications(ctx context.Context, f NotificationFilter) ([]*Notification, int64, error)
}

type AuditRepository interface {
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAuditByApproval(ctx context.Context, approvalID string) ([]*AuditEntry, error)
}

// Tx is the set of repositories bound to one unit of work.
type Tx interface {
	AccountRepository
	TransactionRepository
	ApprovalRepository
	NotificationRepository
	AuditRepository
}

// Store runs units of work. fn's writes are committed together when it
// returns nil and discarded otherwise.
type Store interface {
	InTransaction(ctx context.Context, fn func(tx Tx) error) error
}
