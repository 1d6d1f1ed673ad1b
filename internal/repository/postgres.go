package repository

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ledger-approvals/internal/database"
	"github.com/pesio-ai/be-ledger-approvals/internal/errors"
)

// querier is satisfied by both pgx.Tx and the pool.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore runs units of work against Postgres.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a Store over the given pool.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// InTransaction binds every repository to one pgx transaction.
func (s *PostgresStore) InTransaction(ctx context.Context, fn func(tx Tx) error) error {
	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(newPgTx(tx))
	})
	if err == nil {
		return nil
	}
	var appErr *errors.Error
	if stderrors.As(err, &appErr) {
		return err
	}
	return errors.Wrap(err, errors.ErrCodeInternal, "transaction failed")
}

type pgTx struct {
	*accountRepo
	*transactionRepo
	*approvalRepo
	*notificationRepo
	*auditRepo
}

func newPgTx(q querier) *pgTx {
	return &pgTx{
		accountRepo:      &accountRepo{q: q},
		transactionRepo:  &transactionRepo{q: q},
		approvalRepo:     &approvalRepo{q: q},
		notificationRepo: &notificationRepo{q: q},
		auditRepo:        &auditRepo{q: q},
	}
}

var _ Tx = (*pgTx)(nil)

// ── error mapping ─────────────────────────────────────────────────────────────

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// Constraints backing identifiers the service allocates itself. A duplicate
// on one of these is a random collision and the whole unit of work can be
// retried with a fresh identifier.
var allocatedKeyConstraints = map[string]string{
	"transactions_pkey":  "transaction",
	"approvals_pkey":     "approval",
	"notifications_pkey": "notification",
}

var uniqueConstraintMessages = map[string]string{
	"accounts_pkey":                     "account id already exists",
	"accounts_customer_id_key":          "customer id already exists",
	"approvals_one_pending_per_account": "account already has a pending approval",
	"notifications_approval_id_key":     "approval already has a notification",
	"notifications_transaction_id_key":  "transaction already has a notification",
}

// Account keys may be officer-supplied or allocated, so the caller decides
// whether a duplicate is retryable by looking at the field.
var uniqueConstraintFields = map[string]string{
	"accounts_pkey":            "account_id",
	"accounts_customer_id_key": "customer_id",
}

// mapError converts driver errors into the service taxonomy.
func mapError(err error, msg string) error {
	var pgErr *pgconn.PgError
	if !stderrors.As(err, &pgErr) {
		return errors.Wrap(err, errors.ErrCodeInternal, msg)
	}

	switch pgErr.Code {
	case pgUniqueViolation:
		if kind, ok := allocatedKeyConstraints[pgErr.ConstraintName]; ok {
			return errors.Retryable(errors.Conflict(fmt.Sprintf("%s identifier collision", kind)))
		}
		if m, ok := uniqueConstraintMessages[pgErr.ConstraintName]; ok {
			return errors.ConflictOn(uniqueConstraintFields[pgErr.ConstraintName], m)
		}
		return errors.Conflict(pgErr.Message)
	case pgForeignKeyViolation:
		return errors.InvalidInput(constraintField(pgErr.ConstraintName), "violates "+pgErr.ConstraintName)
	case pgCheckViolation:
		return errors.InvalidInput(constraintField(pgErr.ConstraintName), "violates "+pgErr.ConstraintName)
	}
	return errors.Wrap(err, errors.ErrCodeInternal, msg)
}

// constraintField guesses the column from a constraint named
// <table>_<column>_<suffix>.
func constraintField(name string) string {
	parts := strings.Split(name, "_")
	if len(parts) < 3 {
		return ""
	}
	return strings.Join(parts[1:len(parts)-1], "_")
}

// ── shared helpers ────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, errors.ErrCodeInternal, "failed to parse numeric value")
	}
	return d, nil
}

// whereBuilder accumulates AND-ed predicates with positional arguments.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *whereBuilder) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (w *whereBuilder) page(p Page) (string, []any) {
	n := len(w.args)
	args := append(append([]any{}, w.args...), p.Limit(), p.Offset())
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", n+1, n+2), args
}

func exists(ctx context.Context, q querier, query, id string) (bool, error) {
	var found bool
	if err := q.QueryRow(ctx, query, id).Scan(&found); err != nil {
		return false, mapError(err, "failed to check existence")
	}
	return found, nil
}
