package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ledger-approvals/internal/errors"
)

type accountRepo struct {
	q querier
}

const accountColumns = `id, customer_name, customer_id, account_type, balance::text, status, created_at`

// AccountExists reports whether an account with the given id exists.
func (r *accountRepo) AccountExists(ctx context.Context, id string) (bool, error) {
	return exists(ctx, r.q, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id)
}

// CustomerIDExists reports whether any account already uses customerID.
func (r *accountRepo) CustomerIDExists(ctx context.Context, customerID string) (bool, error) {
	return exists(ctx, r.q, `SELECT EXISTS (SELECT 1 FROM accounts WHERE customer_id = $1)`, customerID)
}

// GetAccount returns nil when no account exists.
func (r *accountRepo) GetAccount(ctx context.Context, id string) (*Account, error) {
	return r.get(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (r *accountRepo) GetAccountForUpdate(ctx context.Context, id string) (*Account, error) {
	return r.get(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
}

func (r *accountRepo) get(ctx context.Context, query, id string) (*Account, error) {
	a, err := scanAccount(r.q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err, "failed to get account")
	}
	return a, nil
}

// InsertAccount stores a new account and reads back its creation time.
func (r *accountRepo) InsertAccount(ctx context.Context, a *Account) error {
	query := `
		INSERT INTO accounts (id, customer_name, customer_id, account_type, balance, status)
		VALUES ($1, $2, $3, $4, $5::numeric, $6)
		RETURNING created_at
	`

	err := r.q.QueryRow(ctx, query,
		a.ID,
		a.CustomerName,
		a.CustomerID,
		a.AccountType,
		a.Balance.String(),
		a.Status,
	).Scan(&a.CreatedAt)
	if err != nil {
		return mapError(err, "failed to insert account")
	}
	return nil
}

// UpdateAccount overwrites every mutable column.
func (r *accountRepo) UpdateAccount(ctx context.Context, a *Account) error {
	query := `
		UPDATE accounts
		SET customer_name = $2,
		    customer_id   = $3,
		    account_type  = $4,
		    balance       = $5::numeric,
		    status        = $6
		WHERE id = $1
	`

	tag, err := r.q.Exec(ctx, query,
		a.ID,
		a.CustomerName,
		a.CustomerID,
		a.AccountType,
		a.Balance.String(),
		a.Status,
	)
	if err != nil {
		return mapError(err, "failed to update account")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("account", a.ID)
	}
	return nil
}

// DeleteAccount reports whether a row was removed.
func (r *accountRepo) DeleteAccount(ctx context.Context, id string) (bool, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return false, mapError(err, "failed to delete account")
	}
	return tag.RowsAffected() > 0, nil
}

// ListAccounts returns one page of accounts, newest first, plus the total.
func (r *accountRepo) ListAccounts(ctx context.Context, f AccountFilter) ([]*Account, int64, error) {
	w := &whereBuilder{}
	if f.Status != nil {
		w.add("status = $%d", *f.Status)
	}

	var total int64
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, mapError(err, "failed to count accounts")
	}

	limit, args := w.page(f.Page)
	rows, err := r.q.Query(ctx, `SELECT `+accountColumns+` FROM accounts`+w.sql()+` ORDER BY created_at DESC, id`+limit, args...)
	if err != nil {
		return nil, 0, mapError(err, "failed to list accounts")
	}
	defer rows.Close()

	accounts := make([]*Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, 0, mapError(err, "failed to scan account")
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapError(err, "failed to list accounts")
	}
	return accounts, total, nil
}

func scanAccount(row rowScanner) (*Account, error) {
	a := &Account{}
	var balance string
	err := row.Scan(
		&a.ID,
		&a.CustomerName,
		&a.CustomerID,
		&a.AccountType,
		&balance,
		&a.Status,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if a.Balance, err = parseDecimal(balance); err != nil {
		return nil, err
	}
	return a, nil
}
