package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ledger-approvals/internal/errors"
)

type transactionRepo struct {
	q querier
}

const transactionColumns = `id, account_id, type, amount::text, to_account_id, description, status, flag, submitted_by, created_at`

func (r *transactionRepo) TransactionExists(ctx context.Context, id string) (bool, error) {
	return exists(ctx, r.q, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, id)
}

// GetTransaction returns nil when no transaction exists.
func (r *transactionRepo) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	return r.get(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
}

func (r *transactionRepo) GetTransactionForUpdate(ctx context.Context, id string) (*Transaction, error) {
	return r.get(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
}

func (r *transactionRepo) get(ctx context.Context, query, id string) (*Transaction, error) {
	t, err := scanTransaction(r.q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err, "failed to get transaction")
	}
	return t, nil
}

func (r *transactionRepo) InsertTransaction(ctx context.Context, t *Transaction) error {
	query := `
		INSERT INTO transactions
		    (id, account_id, type, amount, to_account_id,
		     description, status, flag, submitted_by)
		VALUES ($1, $2, $3, $4::numeric, $5,
		        $6, $7, $8, $9)
		RETURNING created_at
	`

	err := r.q.QueryRow(ctx, query,
		t.ID,
		t.AccountID,
		t.Type,
		t.Amount.String(),
		t.ToAccountID,
		t.Description,
		t.Status,
		t.Flag,
		t.SubmittedBy,
	).Scan(&t.CreatedAt)
	if err != nil {
		return mapError(err, "failed to insert transaction")
	}
	return nil
}

// UpdateTransaction writes status and flag; the monetary fields of a
// transaction never change after submission.
func (r *transactionRepo) UpdateTransaction(ctx context.Context, t *Transaction) error {
	query := `
		UPDATE transactions
		SET status = $2,
		    flag   = $3
		WHERE id = $1
	`

	tag, err := r.q.Exec(ctx, query, t.ID, t.Status, t.Flag)
	if err != nil {
		return mapError(err, "failed to update transaction")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("transaction", t.ID)
	}
	return nil
}

// ListTransactions returns one page, newest first.
func (r *transactionRepo) ListTransactions(ctx context.Context, f TransactionFilter) ([]*Transaction, int64, error) {
	w := &whereBuilder{}
	if f.AccountID != nil {
		w.add("(account_id = $%[1]d OR to_account_id = $%[1]d)", *f.AccountID)
	}
	if f.Type != nil {
		w.add("type = $%d", *f.Type)
	}
	if f.Status != nil {
		w.add("status = $%d", *f.Status)
	}
	if f.Flag != nil {
		w.add("flag = $%d", *f.Flag)
	}

	var total int64
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, mapError(err, "failed to count transactions")
	}

	limit, args := w.page(f.Page)
	rows, err := r.q.Query(ctx, `SELECT `+transactionColumns+` FROM transactions`+w.sql()+` ORDER BY created_at DESC, id`+limit, args...)
	if err != nil {
		return nil, 0, mapError(err, "failed to list transactions")
	}
	defer rows.Close()

	txns := make([]*Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, mapError(err, "failed to scan transaction")
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapError(err, "failed to list transactions")
	}
	return txns, total, nil
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	t := &Transaction{}
	var amount string
	err := row.Scan(
		&t.ID,
		&t.AccountID,
		&t.Type,
		&amount,
		&t.ToAccountID,
		&t.Description,
		&t.Status,
		&t.Flag,
		&t.SubmittedBy,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if t.Amount, err = parseDecimal(amount); err != nil {
		return nil, err
	}
	return t, nil
}
