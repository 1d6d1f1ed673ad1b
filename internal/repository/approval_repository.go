package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ledger-approvals/internal/errors"
)

// approvalRepo manages approval requests. The one-pending-per-account rule
// is backed by the approvals_one_pending_per_account partial unique index,
// so two concurrent submissions cannot both insert.
type approvalRepo struct {
	q querier
}

const approvalColumns = `
	id, type, transaction_id, account_id, reviewer_id,
	decision, comments, pending_changes::text,
	submitted_by, created_at, decided_at`

func (r *approvalRepo) ApprovalExists(ctx context.Context, id string) (bool, error) {
	return exists(ctx, r.q, `SELECT EXISTS (SELECT 1 FROM approvals WHERE id = $1)`, id)
}

// GetApproval returns nil when no approval exists.
func (r *approvalRepo) GetApproval(ctx context.Context, id string) (*Approval, error) {
	return r.get(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = $1`, id)
}

// GetApprovalForUpdate locks the approval row so concurrent deciders queue
// behind the first one.
func (r *approvalRepo) GetApprovalForUpdate(ctx context.Context, id string) (*Approval, error) {
	return r.get(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = $1 FOR UPDATE`, id)
}

// GetOutstandingApprovalForAccount returns the Pending approval targeting an
// account, or nil.
func (r *approvalRepo) GetOutstandingApprovalForAccount(ctx context.Context, accountID string) (*Approval, error) {
	query := `SELECT ` + approvalColumns + `
		FROM approvals
		WHERE account_id = $1
		  AND decision = 'Pending'
		ORDER BY created_at DESC
		LIMIT 1`
	return r.get(ctx, query, accountID)
}

func (r *approvalRepo) get(ctx context.Context, query, arg string) (*Approval, error) {
	a, err := scanApproval(r.q.QueryRow(ctx, query, arg))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err, "failed to get approval")
	}
	return a, nil
}

func (r *approvalRepo) InsertApproval(ctx context.Context, a *Approval) error {
	query := `
		INSERT INTO approvals
		    (id, type, transaction_id, account_id, reviewer_id,
		     decision, comments, pending_changes, submitted_by)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8::jsonb, $9)
		RETURNING created_at
	`

	err := r.q.QueryRow(ctx, query,
		a.ID,
		a.Type,
		a.TransactionID,
		a.AccountID,
		a.ReviewerID,
		a.Decision,
		a.Comments,
		string(a.PendingChanges),
		a.SubmittedBy,
	).Scan(&a.CreatedAt)
	if err != nil {
		return mapError(err, "failed to insert approval")
	}
	return nil
}

// UpdateApproval is conditional on the stored decision still being Pending,
// which makes the decision write-once even without a prior row lock.
func (r *approvalRepo) UpdateApproval(ctx context.Context, a *Approval) error {
	query := `
		UPDATE approvals
		SET decision   = $2,
		    comments   = $3,
		    decided_at = $4
		WHERE id = $1
		  AND decision = 'Pending'
	`

	tag, err := r.q.Exec(ctx, query, a.ID, a.Decision, a.Comments, a.DecidedAt)
	if err != nil {
		return mapError(err, "failed to update approval")
	}
	if tag.RowsAffected() == 0 {
		return errors.InvalidState("approval " + a.ID + " has already been decided")
	}
	return nil
}

// ListApprovals returns one page, newest first.
func (r *approvalRepo) ListApprovals(ctx context.Context, f ApprovalFilter) ([]*Approval, int64, error) {
	w := &whereBuilder{}
	if f.Decision != nil {
		w.add("decision = $%d", *f.Decision)
	}
	if f.Type != nil {
		w.add("type = $%d", *f.Type)
	}
	if f.ReviewerID != nil {
		w.add("reviewer_id = $%d", *f.ReviewerID)
	}

	var total int64
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM approvals`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, mapError(err, "failed to count approvals")
	}

	limit, args := w.page(f.Page)
	rows, err := r.q.Query(ctx, `SELECT `+approvalColumns+` FROM approvals`+w.sql()+` ORDER BY created_at DESC, id`+limit, args...)
	if err != nil {
		return nil, 0, mapError(err, "failed to list approvals")
	}
	defer rows.Close()

	approvals := make([]*Approval, 0)
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, 0, mapError(err, "failed to scan approval")
		}
		approvals = append(approvals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapError(err, "failed to list approvals")
	}
	return approvals, total, nil
}

func scanApproval(row rowScanner) (*Approval, error) {
	a := &Approval{}
	var pending string
	err := row.Scan(
		&a.ID,
		&a.Type,
		&a.TransactionID,
		&a.AccountID,
		&a.ReviewerID,
		&a.Decision,
		&a.Comments,
		&pending,
		&a.SubmittedBy,
		&a.CreatedAt,
		&a.DecidedAt,
	)
	if err != nil {
		return nil, err
	}
	a.PendingChanges = []byte(pending)
	return a, nil
}
