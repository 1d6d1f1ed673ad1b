package repository

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ── Enumerations ──────────────────────────────────────────────────────────────

type AccountType string

const (
	AccountTypeSavings AccountType = "Savings"
	AccountTypeCurrent AccountType = "Current"
)

func (t AccountType) Valid() bool {
	return t == AccountTypeSavings || t == AccountTypeCurrent
}

type AccountStatus string

const (
	AccountStatusActive  AccountStatus = "Active"
	AccountStatusClosed  AccountStatus = "Closed"
	AccountStatusPending AccountStatus = "Pending"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusActive, AccountStatusClosed, AccountStatusPending:
		return true
	}
	return false
}

type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "Deposit"
	TransactionTypeWithdrawal TransactionType = "Withdrawal"
	TransactionTypeTransfer   TransactionType = "Transfer"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeWithdrawal, TransactionTypeTransfer:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "Completed"
	TransactionStatusPending   TransactionStatus = "Pending"
	TransactionStatusRejected  TransactionStatus = "Rejected"
	TransactionStatusFailed    TransactionStatus = "Failed"
)

// Risk flags carried on a transaction. Callers may supply other values;
// anything other than FlagNormal routes the transaction through approval.
const (
	FlagNormal     = "Normal"
	FlagSuspicious = "Suspicious"
	FlagHighValue  = "HighValue"
)

type ApprovalType string

const (
	ApprovalTypeAccountCreation      ApprovalType = "AccountCreation"
	ApprovalTypeAccountUpdate        ApprovalType = "AccountUpdate"
	ApprovalTypeHighValueTransaction ApprovalType = "HighValueTransaction"
)

func (t ApprovalType) Valid() bool {
	switch t {
	case ApprovalTypeAccountCreation, ApprovalTypeAccountUpdate, ApprovalTypeHighValueTransaction:
		return true
	}
	return false
}

// Decision is the approval state. Pending is the only non-terminal value.
type Decision string

const (
	DecisionPending Decision = "Pending"
	DecisionApprove Decision = "Approve"
	DecisionReject  Decision = "Reject"
)

type NotificationType string

const (
	NotificationTypeApprovalReminder   NotificationType = "ApprovalReminder"
	NotificationTypeSuspiciousActivity NotificationType = "SuspiciousActivity"
)

type NotificationStatus string

const (
	NotificationStatusUnread NotificationStatus = "Unread"
	NotificationStatusRead   NotificationStatus = "Read"
)

func (s NotificationStatus) Valid() bool {
	return s == NotificationStatusUnread || s == NotificationStatusRead
}

// ── Records ───────────────────────────────────────────────────────────────────

// Account is a customer ledger account.
type Account struct {
	ID           string          `json:"id"`
	CustomerName string          `json:"customer_name"`
	CustomerID   string          `json:"customer_id"`
	AccountType  AccountType     `json:"account_type"`
	Balance      decimal.Decimal `json:"balance"`
	Status       AccountStatus   `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Transaction is a posted or proposed balance movement.
type Transaction struct {
	ID          string            `json:"id"`
	AccountID   string            `json:"account_id"`
	Type        TransactionType   `json:"type"`
	Amount      decimal.Decimal   `json:"amount"`
	ToAccountID *string           `json:"to_account_id,omitempty"`
	Description string            `json:"description"`
	Status      TransactionStatus `json:"status"`
	Flag        string            `json:"flag"`
	SubmittedBy string            `json:"submitted_by,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Approval is a proposed mutation awaiting a reviewer's decision.
// PendingChanges holds the versioned envelope captured at submission.
type Approval struct {
	ID             string          `json:"id"`
	Type           ApprovalType    `json:"type"`
	TransactionID  *string         `json:"transaction_id,omitempty"`
	AccountID      *string         `json:"account_id,omitempty"`
	ReviewerID     string          `json:"reviewer_id"`
	Decision       Decision        `json:"decision"`
	Comments       string          `json:"comments"`
	PendingChanges json.RawMessage `json:"pending_changes"`
	SubmittedBy    string          `json:"submitted_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	DecidedAt      *time.Time      `json:"decided_at,omitempty"`
}

// Notification is a reviewer-facing message tied to at most one approval
// or transaction.
type Notification struct {
	ID            string             `json:"id"`
	UserID        string             `json:"user_id"`
	Type          NotificationType   `json:"type"`
	Message       string             `json:"message"`
	Status        NotificationStatus `json:"status"`
	ApprovalID    *string            `json:"approval_id,omitempty"`
	TransactionID *string            `json:"transaction_id,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

// Audit actions.
const (
	AuditActionSubmitted = "submitted"
	AuditActionApproved  = "approved"
	AuditActionRejected  = "rejected"
)

// AuditEntry is one immutable record in the approval audit log.
type AuditEntry struct {
	ID             int64          `json:"id"`
	ApprovalID     string         `json:"approval_id"`
	Action         string         `json:"action"`
	PerformedBy    string         `json:"performed_by"`
	PerformedAt    time.Time      `json:"performed_at"`
	DecisionBefore *Decision      `json:"decision_before,omitempty"`
	DecisionAfter  *Decision      `json:"decision_after,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ── Filters ───────────────────────────────────────────────────────────────────

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

func (p Page) Offset() int {
	n := p.Normalize()
	return (n.Number - 1) * n.Size
}

func (p Page) Limit() int {
	return p.Normalize().Size
}

type AccountFilter struct {
	Status *AccountStatus
	Page   Page
}

type TransactionFilter struct {
	AccountID *string
	Type      *TransactionType
	Status    *TransactionStatus
	Flag      *string
	Page      Page
}

type ApprovalFilter struct {
	Decision   *Decision
	Type       *ApprovalType
	ReviewerID *string
	Page       Page
}

type NotificationFilter struct {
	UserID *string
	Type   *NotificationType
	Status *NotificationStatus
	Page   Page
}
