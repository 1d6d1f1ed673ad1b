package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ledger-approvals/internal/errors"
)

type notificationRepo struct {
	q querier
}

const notificationColumns = `id, user_id, type, message, status, approval_id, transaction_id, created_at`

func (r *notificationRepo) NotificationExists(ctx context.Context, id string) (bool, error) {
	return exists(ctx, r.q, `SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1)`, id)
}

func (r *notificationRepo) GetNotification(ctx context.Context, id string) (*Notification, error) {
	return r.get(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)
}

func (r *notificationRepo) GetNotificationByApproval(ctx context.Context, approvalID string) (*Notification, error) {
	return r.get(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE approval_id = $1`, approvalID)
}

func (r *notificationRepo) GetNotificationByTransaction(ctx context.Context, transactionID string) (*Notification, error) {
	return r.get(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE transaction_id = $1`, transactionID)
}

func (r *notificationRepo) get(ctx context.Context, query, arg string) (*Notification, error) {
	n, err := scanNotification(r.q.QueryRow(ctx, query, arg))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err, "failed to get notification")
	}
	return n, nil
}

func (r *notificationRepo) InsertNotification(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications
		    (id, user_id, type, message, status, approval_id, transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	err := r.q.QueryRow(ctx, query,
		n.ID,
		n.UserID,
		n.Type,
		n.Message,
		n.Status,
		n.ApprovalID,
		n.TransactionID,
	).Scan(&n.CreatedAt)
	if err != nil {
		return mapError(err, "failed to insert notification")
	}
	return nil
}

// UpdateNotification writes the read status; the rest of a notification is
// immutable.
func (r *notificationRepo) UpdateNotification(ctx context.Context, n *Notification) error {
	tag, err := r.q.Exec(ctx, `UPDATE notifications SET status = $2 WHERE id = $1`, n.ID, n.Status)
	if err != nil {
		return mapError(err, "failed to update notification")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("notification", n.ID)
	}
	return nil
}

func (r *notificationRepo) DeleteNotification(ctx context.Context, id string) (bool, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return false, mapError(err, "failed to delete notification")
	}
	return tag.RowsAffected() > 0, nil
}

func (r *notificationRepo) DeleteAllNotifications(ctx context.Context) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM notifications`)
	if err != nil {
		return 0, mapError(err, "failed to clear notifications")
	}
	return tag.RowsAffected(), nil
}

func (r *notificationRepo) DeleteOrphanedNotifications(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM notifications n
		WHERE (n.approval_id IS NOT NULL AND EXISTS (
		           SELECT 1 FROM approvals a
		           WHERE a.id = n.approval_id AND a.decision <> 'Pending'))
		   OR (n.transaction_id IS NOT NULL AND EXISTS (
		           SELECT 1 FROM transactions t
		           WHERE t.id = n.transaction_id AND t.status <> 'Pending'))
	`

	tag, err := r.q.Exec(ctx, query)
	if err != nil {
		return 0, mapError(err, "failed to sweep notifications")
	}
	return tag.RowsAffected(), nil
}

// ListNotifications returns one page, newest first.
func (r *notificationRepo) ListNotifications(ctx context.Context, f NotificationFilter) ([]*Notification, int64, error) {
	w := &whereBuilder{}
	if f.UserID != nil {
		w.add("user_id = $%d", *f.UserID)
	}
	if f.Type != nil {
		w.add("type = $%d", *f.Type)
	}
	if f.Status != nil {
		w.add("status = $%d", *f.Status)
	}

	var total int64
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM notifications`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, mapError(err, "failed to count notifications")
	}

	limit, args := w.page(f.Page)
	rows, err := r.q.Query(ctx, `SELECT `+notificationColumns+` FROM notifications`+w.sql()+` ORDER BY created_at DESC, id`+limit, args...)
	if err != nil {
		return nil, 0, mapError(err, "failed to list notifications")
	}
	defer rows.Close()

	notifications := make([]*Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, mapError(err, "failed to scan notification")
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapError(err, "failed to list notifications")
	}
	return notifications, total, nil
}

func scanNotification(row rowScanner) (*Notification, error) {
	n := &Notification{}
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.Type,
		&n.Message,
		&n.Status,
		&n.ApprovalID,
		&n.TransactionID,
		&n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return n, nil
}
