package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/pesio-ai/be-ledger-approvals/internal/errors"
	"github.com/pesio-ai/be-ledger-approvals/internal/logger"
	"github.com/pesio-ai/be-ledger-approvals/internal/metrics"
	"github.com/pesio-ai/be-ledger-approvals/internal/repository"
)

// NotificationDispatcher creates reviewer notifications for approvals and
// gated transactions and removes them once the trigger is resolved.
type NotificationDispatcher struct {
	store     repository.Store
	ids       *IdentifierAllocator
	publisher EventPublisher
	log       *logger.Logger
}

// NewNotificationDispatcher creates a dispatcher. publisher may be nil.
func NewNotificationDispatcher(store repository.Store, ids *IdentifierAllocator, publisher EventPublisher, log *logger.Logger) *NotificationDispatcher {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &NotificationDispatcher{store: store, ids: ids, publisher: publisher, log: log}
}

// ApprovalMessage returns the reviewer-facing sentence for an approval type.
func ApprovalMessage(t repository.ApprovalType) string {
	switch t {
	case repository.ApprovalTypeAccountCreation:
		return "Pending approval for new account creation."
	case repository.ApprovalTypeAccountUpdate:
		return "Pending approval for account update."
	case repository.ApprovalTypeHighValueTransaction:
		return "Pending approval for high-value transaction."
	default:
		return "Pending approval request."
	}
}

// HighValueMessage returns the alert text for a gated transaction.
func HighValueMessage(t repository.TransactionType, amount decimal.Decimal) string {
	return fmt.Sprintf("High-value %s transaction of ₹%s has been initiated and requires approval.", t, formatAmount(amount))
}

var amountPrinter = message.NewPrinter(language.English)

// formatAmount renders two decimals with comma thousands separators.
func formatAmount(d decimal.Decimal) string {
	rounded := d.Abs().Round(2)
	_, frac, _ := strings.Cut(rounded.StringFixed(2), ".")

	sign := ""
	if d.IsNegative() && !rounded.IsZero() {
		sign = "-"
	}
	return amountPrinter.Sprintf("%s%d.%s", sign, rounded.IntPart(), frac)
}

// ── in-transaction operations ────────────────────────────────────────────────

func (d *NotificationDispatcher) notifyForApproval(ctx context.Context, tx repository.Tx, batch *eventBatch, approvalID, reviewerID string, approvalType repository.ApprovalType) (*repository.Notification, error) {
	id, err := d.ids.Allocate(ctx, tx, IDKindNotification)
	if err != nil {
		return nil, err
	}

	n := &repository.Notification{
		ID:         id,
		UserID:     reviewerID,
		Type:       repository.NotificationTypeApprovalReminder,
		Message:    ApprovalMessage(approvalType),
		Status:     repository.NotificationStatusUnread,
		ApprovalID: &approvalID,
	}
	if err := tx.InsertNotification(ctx, n); err != nil {
		return nil, err
	}

	batch.add(pendingEvent{
		eventType:    EventApprovalRequested,
		resourceType: "approval",
		resourceID:   approvalID,
		recipients:   recipients(reviewerID),
		payload: map[string]any{
			"notification_id": n.ID,
			"approval_type":   string(approvalType),
			"message":         n.Message,
		},
	})
	return n, nil
}

func (d *NotificationDispatcher) notifyForHighValueTransaction(ctx context.Context, tx repository.Tx, batch *eventBatch, transactionID, reviewerID string, amount decimal.Decimal, txnType repository.TransactionType) (*repository.Notification, error) {
	id, err := d.ids.Allocate(ctx, tx, IDKindNotification)
	if err != nil {
		return nil, err
	}

	n := &repository.Notification{
		ID:            id,
		UserID:        reviewerID,
		Type:          repository.NotificationTypeSuspiciousActivity,
		Message:       HighValueMessage(txnType, amount),
		Status:        repository.NotificationStatusUnread,
		TransactionID: &transactionID,
	}
	if err := tx.InsertNotification(ctx, n); err != nil {
		return nil, err
	}

	batch.add(pendingEvent{
		eventType:    EventSuspiciousActivity,
		resourceType: "transaction",
		resourceID:   transactionID,
		recipients:   recipients(reviewerID),
		payload: map[string]any{
			"notification_id":  n.ID,
			"transaction_type": string(txnType),
			"amount":           amount.StringFixed(2),
			"message":          n.Message,
		},
	})
	return n, nil
}

func (d *NotificationDispatcher) retireForApprovalTx(ctx context.Context, tx repository.Tx, approvalID string) (bool, error) {
	n, err := tx.GetNotificationByApproval(ctx, approvalID)
	if err != nil || n == nil {
		return false, err
	}
	return tx.DeleteNotification(ctx, n.ID)
}

func (d *NotificationDispatcher) retireForTransactionTx(ctx context.Context, tx repository.Tx, transactionID string) (bool, error) {
	n, err := tx.GetNotificationByTransaction(ctx, transactionID)
	if err != nil || n == nil {
		return false, err
	}
	return tx.DeleteNotification(ctx, n.ID)
}

// ── standalone operations ────────────────────────────────────────────────────

// NotifyForApproval creates an ApprovalReminder for an existing approval.
func (d *NotificationDispatcher) NotifyForApproval(ctx context.Context, approvalID, reviewerID string, approvalType repository.ApprovalType) (*repository.Notification, error) {
	if reviewerID == "" {
		return nil, errors.InvalidInput("reviewer_id", "reviewer is required")
	}

	var (
		n     *repository.Notification
		batch *eventBatch
	)
	err := runInTx(ctx, d.store, d.log, "notify_for_approval", func(tx repository.Tx) error {
		batch = &eventBatch{}
		found, err := tx.ApprovalExists(ctx, approvalID)
		if err != nil {
			return err
		}
		if !found {
			return errors.NotFound("approval", approvalID)
		}
		n, err = d.notifyForApproval(ctx, tx, batch, approvalID, reviewerID, approvalType)
		return err
	})
	if err != nil {
		return nil, err
	}

	batch.publish(ctx, d.publisher)
	return n, nil
}

// NotifyForHighValueTransaction creates a SuspiciousActivity alert for an
// existing transaction.
func (d *NotificationDispatcher) NotifyForHighValueTransaction(ctx context.Context, transactionID, reviewerID string, amount decimal.Decimal, txnType repository.TransactionType) (*repository.Notification, error) {
	if reviewerID == "" {
		return nil, errors.InvalidInput("reviewer_id", "reviewer is required")
	}

	var (
		n     *repository.Notification
		batch *eventBatch
	)
	err := runInTx(ctx, d.store, d.log, "notify_for_transaction", func(tx repository.Tx) error {
		batch = &eventBatch{}
		found, err := tx.TransactionExists(ctx, transactionID)
		if err != nil {
			return err
		}
		if !found {
			return errors.NotFound("transaction", transactionID)
		}
		n, err = d.notifyForHighValueTransaction(ctx, tx, batch, transactionID, reviewerID, amount, txnType)
		return err
	})
	if err != nil {
		return nil, err
	}

	batch.publish(ctx, d.publisher)
	return n, nil
}

// RetireForApproval deletes the notification tied to an approval. A missing
// notification is not an error.
func (d *NotificationDispatcher) RetireForApproval(ctx context.Context, approvalID string) error {
	return d.store.InTransaction(ctx, func(tx repository.Tx) error {
		_, err := d.retireForApprovalTx(ctx, tx, approvalID)
		return err
	})
}

// RetireForTransaction deletes the notification tied to a transaction. A
// missing notification is not an error.
func (d *NotificationDispatcher) RetireForTransaction(ctx context.Context, transactionID string) error {
	return d.store.InTransaction(ctx, func(tx repository.Tx) error {
		_, err := d.retireForTransactionTx(ctx, tx, transactionID)
		return err
	})
}

// retireResolved removes the notifications of a decided approval and, for
// high-value approvals, of its transaction. Failures are retried with
// backoff and then left for SweepOrphaned.
func (d *NotificationDispatcher) retireResolved(ctx context.Context, approval *repository.Approval, opts RetryOptions) {
	err := withRetry(ctx, d.log, func() error {
		return d.store.InTransaction(ctx, func(tx repository.Tx) error {
			if _, err := d.retireForApprovalTx(ctx, tx, approval.ID); err != nil {
				return err
			}
			if approval.TransactionID != nil {
				if _, err := d.retireForTransactionTx(ctx, tx, *approval.TransactionID); err != nil {
					return err
				}
			}
			return nil
		})
	}, opts)
	if err != nil {
		metrics.NotificationRetirementFailures.Inc()
		d.log.Warn().Err(err).
			Str("approval_id", approval.ID).
			Msg("Failed to retire notifications; leaving them for the sweeper")
	}
}

// MarkRead sets a notification's read status.
func (d *NotificationDispatcher) MarkRead(ctx context.Context, notificationID string, status repository.NotificationStatus) (*repository.Notification, error) {
	if !status.Valid() {
		return nil, errors.InvalidInput("status", "status must be Unread or Read")
	}

	var n *repository.Notification
	err := d.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		n, err = tx.GetNotification(ctx, notificationID)
		if err != nil {
			return err
		}
		if n == nil {
			return errors.NotFound("notification", notificationID)
		}
		n.Status = status
		return tx.UpdateNotification(ctx, n)
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// ClearAll deletes every notification.
func (d *NotificationDispatcher) ClearAll(ctx context.Context) (int64, error) {
	var removed int64
	err := d.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		removed, err = tx.DeleteAllNotifications(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}

	d.log.Info().Int64("removed", removed).Msg("All notifications cleared")
	return removed, nil
}

// SweepOrphaned deletes notifications whose approval or transaction has
// already been resolved.
func (d *NotificationDispatcher) SweepOrphaned(ctx context.Context) (int64, error) {
	var removed int64
	err := d.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		removed, err = tx.DeleteOrphanedNotifications(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}

	metrics.NotificationsSwept.Add(float64(removed))
	if removed > 0 {
		d.log.Info().Int64("removed", removed).Msg("Orphaned notifications swept")
	}
	return removed, nil
}

// Get returns a notification or NOT_FOUND.
func (d *NotificationDispatcher) Get(ctx context.Context, id string) (*repository.Notification, error) {
	var n *repository.Notification
	err := d.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		n, err = tx.GetNotification(ctx, id)
		if err == nil && n == nil {
			err = errors.NotFound("notification", id)
		}
		return err
	})
	return n, err
}

// List returns one page of notifications.
func (d *NotificationDispatcher) List(ctx context.Context, f repository.NotificationFilter) ([]*repository.Notification, int64, error) {
	var (
		items []*repository.Notification
		total int64
	)
	err := d.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		items, total, err = tx.ListNotifications(ctx, f)
		return err
	})
	return items, total, err
}
