package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ledger-approvals/internal/errors"
	"github.com/pesio-ai/be-ledger-approvals/internal/logger"
	"github.com/pesio-ai/be-ledger-approvals/internal/metrics"
	"github.com/pesio-ai/be-ledger-approvals/internal/repository"
)

// GateOutcome is the gate's verdict on a submitted transaction.
type GateOutcome string

const (
	GateAutoCommit       GateOutcome = "AutoCommit"
	GateRequiresApproval GateOutcome = "RequiresApproval"
)

// HighValueGate decides whether a transaction needs a reviewer.
type HighValueGate struct {
	threshold decimal.Decimal
}

func NewHighValueGate(threshold decimal.Decimal) *HighValueGate {
	return &HighValueGate{threshold: threshold}
}

// Evaluate requires approval for amounts above the threshold and for any
// caller-supplied flag other than Normal.
func (g *HighValueGate) Evaluate(amount decimal.Decimal, flag string) GateOutcome {
	if amount.GreaterThan(g.threshold) {
		return GateRequiresApproval
	}
	if flag != "" && flag != repository.FlagNormal {
		return GateRequiresApproval
	}
	return GateAutoCommit
}

// TransactionService accepts balance movements and routes high-value ones
// through approval.
type TransactionService struct {
	store     repository.Store
	ids       *IdentifierAllocator
	gate      *HighValueGate
	approvals *ApprovalService
	log       *logger.Logger
}

func NewTransactionService(store repository.Store, ids *IdentifierAllocator, gate *HighValueGate, approvals *ApprovalService, log *logger.Logger) *TransactionService {
	return &TransactionService{
		store:     store,
		ids:       ids,
		gate:      gate,
		approvals: approvals,
		log:       log,
	}
}

// SubmitTransactionRequest is a proposed balance movement.
type SubmitTransactionRequest struct {
	AccountID   string                     `json:"account_id"`
	Type        repository.TransactionType `json:"type"`
	Amount      decimal.Decimal            `json:"amount"`
	ToAccountID *string                    `json:"to_account_id,omitempty"`
	Description string                     `json:"description"`
	Flag        string                     `json:"flag,omitempty"`
	ReviewerID  string                     `json:"reviewer_id,omitempty"`
	SubmittedBy string                     `json:"-"`
}

func (r *SubmitTransactionRequest) Validate() error {
	if strings.TrimSpace(r.AccountID) == "" {
		return errors.InvalidInput("account_id", "account id is required")
	}
	if !r.Type.Valid() {
		return errors.InvalidInput("type", "type must be Deposit, Withdrawal or Transfer")
	}
	if !r.Amount.IsPositive() {
		return errors.InvalidInput("amount", "amount must be greater than zero")
	}
	if !r.Amount.Equal(r.Amount.Round(2)) {
		return errors.InvalidInput("amount", "amount cannot have more than two decimal places")
	}
	if r.Type == repository.TransactionTypeTransfer {
		if r.ToAccountID == nil || *r.ToAccountID == "" {
			return errors.InvalidInput("to_account_id", "transfer requires a target account")
		}
		if *r.ToAccountID == r.AccountID {
			return errors.InvalidInput("to_account_id", "target account must differ from source account")
		}
	} else if r.ToAccountID != nil {
		return errors.InvalidInput("to_account_id", "only transfers may name a target account")
	}
	return nil
}

// SubmitTransactionResult reports how the transaction was handled. Approval
// is set only when the gate required review.
type SubmitTransactionResult struct {
	Transaction *repository.Transaction `json:"transaction"`
	Outcome     GateOutcome             `json:"outcome"`
	Approval    *repository.Approval    `json:"approval,omitempty"`
}

// Submit validates a transaction and either posts it immediately or parks
// it behind a HighValueTransaction approval.
func (s *TransactionService) Submit(ctx context.Context, req *SubmitTransactionRequest) (*SubmitTransactionResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	outcome := s.gate.Evaluate(req.Amount, req.Flag)

	var reviewer string
	if outcome == GateRequiresApproval {
		var err error
		if reviewer, err = s.approvals.reviewerFor(req.ReviewerID); err != nil {
			return nil, err
		}
	}

	var (
		result *SubmitTransactionResult
		batch  *eventBatch
	)
	err := runInTx(ctx, s.store, s.log, "submit_transaction", func(tx repository.Tx) error {
		batch = &eventBatch{}

		if err := requireActive(ctx, tx, req.AccountID); err != nil {
			return err
		}
		if req.ToAccountID != nil {
			if err := requireActive(ctx, tx, *req.ToAccountID); err != nil {
				return err
			}
		}

		id, err := s.ids.Allocate(ctx, tx, IDKindTransaction)
		if err != nil {
			return err
		}

		txn := &repository.Transaction{
			ID:          id,
			AccountID:   req.AccountID,
			Type:        req.Type,
			Amount:      req.Amount,
			ToAccountID: req.ToAccountID,
			Description: req.Description,
			SubmittedBy: req.SubmittedBy,
		}

		if outcome == GateAutoCommit {
			txn.Flag = repository.FlagNormal
			if err := postTransaction(ctx, tx, snapshotOf(txn)); err != nil {
				return err
			}
			txn.Status = repository.TransactionStatusCompleted
			if err := tx.InsertTransaction(ctx, txn); err != nil {
				return err
			}
			result = &SubmitTransactionResult{Transaction: txn, Outcome: outcome}
			return nil
		}

		txn.Flag = repository.FlagHighValue
		if req.Flag != "" && req.Flag != repository.FlagNormal {
			txn.Flag = req.Flag
		}
		approval, err := s.approvals.submitHighValueTransaction(ctx, tx, batch, txn, reviewer, req.SubmittedBy)
		if err != nil {
			return err
		}
		result = &SubmitTransactionResult{Transaction: txn, Outcome: outcome, Approval: approval}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.GateOutcomes.WithLabelValues(string(outcome)).Inc()
	if result.Approval != nil {
		s.approvals.afterSubmit(ctx, batch, result.Approval)
	}

	s.log.Info().
		Str("transaction_id", result.Transaction.ID).
		Str("type", string(result.Transaction.Type)).
		Str("amount", result.Transaction.Amount.StringFixed(2)).
		Str("status", string(result.Transaction.Status)).
		Str("outcome", string(outcome)).
		Msg("Transaction submitted")

	return result, nil
}

func requireActive(ctx context.Context, tx repository.Tx, accountID string) error {
	a, err := tx.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if a == nil {
		return errors.NotFound("account", accountID)
	}
	if a.Status != repository.AccountStatusActive {
		return errors.InvalidInput("account_id", "account "+a.ID+" is "+string(a.Status))
	}
	return nil
}

// Get returns a transaction or NOT_FOUND.
func (s *TransactionService) Get(ctx context.Context, id string) (*repository.Transaction, error) {
	var txn *repository.Transaction
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		txn, err = tx.GetTransaction(ctx, id)
		if err == nil && txn == nil {
			err = errors.NotFound("transaction", id)
		}
		return err
	})
	return txn, err
}

// List returns one page of transactions, newest first.
func (s *TransactionService) List(ctx context.Context, f repository.TransactionFilter) ([]*repository.Transaction, int64, error) {
	var (
		items []*repository.Transaction
		total int64
	)
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		items, total, err = tx.ListTransactions(ctx, f)
		return err
	})
	return items, total, err
}
