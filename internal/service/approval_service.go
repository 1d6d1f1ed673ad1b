package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ledger-approvals/internal/errors"
	"github.com/pesio-ai/be-ledger-approvals/internal/logger"
	"github.com/pesio-ai/be-ledger-approvals/internal/metrics"
	"github.com/pesio-ai/be-ledger-approvals/internal/repository"
)

// retirementTimeout bounds post-commit notification cleanup, which runs
// detached from the caller's deadline.
const retirementTimeout = 5 * time.Second

// ApprovalService owns the approval state machine: submission, pending
// change capture and decision application.
type ApprovalService struct {
	store           repository.Store
	ids             *IdentifierAllocator
	projector       *AccountProjector
	notifier        *NotificationDispatcher
	publisher       EventPublisher
	defaultReviewer string
	retry           RetryOptions
	log             *logger.Logger
	now             func() time.Time
}

// ApprovalServiceConfig carries the collaborators of an ApprovalService.
type ApprovalServiceConfig struct {
	Store           repository.Store
	IDs             *IdentifierAllocator
	Projector       *AccountProjector
	Notifier        *NotificationDispatcher
	Publisher       EventPublisher
	DefaultReviewer string
	Retry           RetryOptions
	Logger          *logger.Logger
}

func NewApprovalService(cfg ApprovalServiceConfig) *ApprovalService {
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = nopPublisher{}
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetirementRetry
	}
	return &ApprovalService{
		store:           cfg.Store,
		ids:             cfg.IDs,
		projector:       cfg.Projector,
		notifier:        cfg.Notifier,
		publisher:       publisher,
		defaultReviewer: cfg.DefaultReviewer,
		retry:           retry,
		log:             cfg.Logger,
		now:             time.Now,
	}
}

func (s *ApprovalService) reviewerFor(requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	if s.defaultReviewer != "" {
		return s.defaultReviewer, nil
	}
	return "", errors.InvalidInput("reviewer_id", "reviewer is required")
}

// ── submission ───────────────────────────────────────────────────────────────

// SubmitAccountCreationRequest proposes a new account for review.
type SubmitAccountCreationRequest struct {
	Payload     AccountCreationPayload
	ReviewerID  string
	SubmittedBy string
}

// AccountCreationResult is the Pending account and the approval guarding it.
type AccountCreationResult struct {
	Account  *repository.Account  `json:"account"`
	Approval *repository.Approval `json:"approval"`
}

// SubmitAccountCreation stores a Pending account with zero balance and an
// AccountCreation approval for it.
func (s *ApprovalService) SubmitAccountCreation(ctx context.Context, req *SubmitAccountCreationRequest) (*AccountCreationResult, error) {
	if err := req.Payload.Validate(); err != nil {
		return nil, err
	}
	reviewer, err := s.reviewerFor(req.ReviewerID)
	if err != nil {
		return nil, err
	}

	var (
		result *AccountCreationResult
		batch  *eventBatch
	)
	err = runInTx(ctx, s.store, s.log, "submit_account_creation", func(tx repository.Tx) error {
		batch = &eventBatch{}
		payload := req.Payload
		allocated := payload.AccountID == ""

		if allocated {
			id, err := s.ids.Allocate(ctx, tx, IDKindAccount)
			if err != nil {
				return err
			}
			payload.AccountID = id
		} else {
			exists, err := tx.AccountExists(ctx, payload.AccountID)
			if err != nil {
				return err
			}
			if exists {
				return errors.Conflict(fmt.Sprintf("account %s already exists", payload.AccountID))
			}
		}

		taken, err := tx.CustomerIDExists(ctx, payload.CustomerID)
		if err != nil {
			return err
		}
		if taken {
			return errors.Conflict(fmt.Sprintf("customer id %s already exists", payload.CustomerID))
		}

		account := &repository.Account{
			ID:           payload.AccountID,
			CustomerName: payload.CustomerName,
			CustomerID:   payload.CustomerID,
			AccountType:  payload.AccountType,
			Balance:      decimal.Zero,
			Status:       repository.AccountStatusPending,
		}
		if err := tx.InsertAccount(ctx, account); err != nil {
			if allocated && errors.Is(err, errors.ErrCodeConflict) && errors.FieldOf(err) == "account_id" {
				metrics.IdentifierCollisions.WithLabelValues(string(IDKindAccount)).Inc()
				return errors.Retryable(errors.Conflict("account identifier collision"))
			}
			return err
		}

		approval, err := s.insertApproval(ctx, tx, batch, creationChange(&payload), &account.ID, nil, reviewer, req.SubmittedBy)
		if err != nil {
			return err
		}

		result = &AccountCreationResult{Account: account, Approval: approval}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterSubmit(ctx, batch, result.Approval)
	return result, nil
}

// SubmitAccountUpdateRequest proposes changes to an existing account.
type SubmitAccountUpdateRequest struct {
	AccountID   string
	Payload     AccountUpdatePayload
	ReviewerID  string
	SubmittedBy string
}

// SubmitAccountUpdate stores an AccountUpdate approval. The account itself
// is not modified until the approval is decided.
func (s *ApprovalService) SubmitAccountUpdate(ctx context.Context, req *SubmitAccountUpdateRequest) (*repository.Approval, error) {
	if err := req.Payload.Validate(); err != nil {
		return nil, err
	}
	reviewer, err := s.reviewerFor(req.ReviewerID)
	if err != nil {
		return nil, err
	}

	var (
		approval *repository.Approval
		batch    *eventBatch
	)
	err = runInTx(ctx, s.store, s.log, "submit_account_update", func(tx repository.Tx) error {
		batch = &eventBatch{}

		account, err := tx.GetAccountForUpdate(ctx, req.AccountID)
		if err != nil {
			return err
		}
		if account == nil {
			return errors.NotFound("account", req.AccountID)
		}

		outstanding, err := tx.GetOutstandingApprovalForAccount(ctx, account.ID)
		if err != nil {
			return err
		}
		if outstanding != nil {
			return errors.Conflict(fmt.Sprintf("account %s already has pending approval %s", account.ID, outstanding.ID))
		}

		if id := req.Payload.CustomerID; id != nil && *id != account.CustomerID {
			taken, err := tx.CustomerIDExists(ctx, *id)
			if err != nil {
				return err
			}
			if taken {
				return errors.Conflict(fmt.Sprintf("customer id %s already exists", *id))
			}
		}

		payload := req.Payload
		approval, err = s.insertApproval(ctx, tx, batch, updateChange(&payload), &account.ID, nil, reviewer, req.SubmittedBy)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterSubmit(ctx, batch, approval)
	return approval, nil
}

// submitHighValueTransaction stores txn as Pending together with a
// HighValueTransaction approval and both reviewer notifications. It runs
// inside the caller's unit of work.
func (s *ApprovalService) submitHighValueTransaction(ctx context.Context, tx repository.Tx, batch *eventBatch, txn *repository.Transaction, reviewerID, submittedBy string) (*repository.Approval, error) {
	txn.Status = repository.TransactionStatusPending
	if err := tx.InsertTransaction(ctx, txn); err != nil {
		return nil, err
	}

	approval, err := s.insertApproval(ctx, tx, batch, transactionChange(snapshotOf(txn)), nil, &txn.ID, reviewerID, submittedBy)
	if err != nil {
		return nil, err
	}

	if _, err := s.notifier.notifyForHighValueTransaction(ctx, tx, batch, txn.ID, reviewerID, txn.Amount, txn.Type); err != nil {
		return nil, err
	}
	return approval, nil
}

func (s *ApprovalService) insertApproval(ctx context.Context, tx repository.Tx, batch *eventBatch, change *PendingChange, accountID, transactionID *string, reviewerID, submittedBy string) (*repository.Approval, error) {
	encoded, err := change.Encode()
	if err != nil {
		return nil, err
	}

	id, err := s.ids.Allocate(ctx, tx, IDKindApproval)
	if err != nil {
		return nil, err
	}

	approval := &repository.Approval{
		ID:             id,
		Type:           change.Kind,
		TransactionID:  transactionID,
		AccountID:      accountID,
		ReviewerID:     reviewerID,
		Decision:       repository.DecisionPending,
		PendingChanges: encoded,
		SubmittedBy:    submittedBy,
	}
	if err := tx.InsertApproval(ctx, approval); err != nil {
		return nil, err
	}

	pending := repository.DecisionPending
	if err := tx.AppendAudit(ctx, &repository.AuditEntry{
		ApprovalID:    approval.ID,
		Action:        repository.AuditActionSubmitted,
		PerformedBy:   submittedBy,
		DecisionAfter: &pending,
		Metadata: map[string]any{
			"type":        string(approval.Type),
			"reviewer_id": reviewerID,
		},
	}); err != nil {
		return nil, err
	}

	if _, err := s.notifier.notifyForApproval(ctx, tx, batch, approval.ID, reviewerID, approval.Type); err != nil {
		return nil, err
	}
	return approval, nil
}

func (s *ApprovalService) afterSubmit(ctx context.Context, batch *eventBatch, approval *repository.Approval) {
	metrics.ApprovalsSubmitted.WithLabelValues(string(approval.Type)).Inc()
	batch.publish(ctx, s.publisher)

	s.log.Info().
		Str("approval_id", approval.ID).
		Str("type", string(approval.Type)).
		Str("reviewer_id", approval.ReviewerID).
		Msg("Approval submitted")
}

// ── decision ─────────────────────────────────────────────────────────────────

// DecideRequest records a reviewer's verdict.
type DecideRequest struct {
	ApprovalID string
	Decision   repository.Decision
	Comments   string
	DecidedBy  string
}

// Decide applies the decision's effects and closes the approval in one unit
// of work. Notification cleanup follows the commit and never undoes it.
func (s *ApprovalService) Decide(ctx context.Context, req *DecideRequest) (*repository.Approval, error) {
	if req.Decision != repository.DecisionApprove && req.Decision != repository.DecisionReject {
		return nil, errors.InvalidState(fmt.Sprintf("decision must be Approve or Reject, got %q", req.Decision))
	}

	var approval *repository.Approval
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		approval, err = tx.GetApprovalForUpdate(ctx, req.ApprovalID)
		if err != nil {
			return err
		}
		if approval == nil {
			return errors.NotFound("approval", req.ApprovalID)
		}
		if approval.Decision != repository.DecisionPending {
			return errors.InvalidState(fmt.Sprintf("approval %s has already been decided (%s)", approval.ID, approval.Decision))
		}

		change, err := DecodePendingChange(approval.PendingChanges, approval.Type)
		if err != nil {
			return err
		}

		effect, err := s.applyDecision(ctx, tx, approval, change, req.Decision)
		if err != nil {
			return err
		}

		before := repository.DecisionPending
		after := req.Decision
		action := repository.AuditActionApproved
		if req.Decision == repository.DecisionReject {
			action = repository.AuditActionRejected
		}
		metadata := map[string]any{"comments": req.Comments}
		for k, v := range effect {
			metadata[k] = v
		}
		if err := tx.AppendAudit(ctx, &repository.AuditEntry{
			ApprovalID:     approval.ID,
			Action:         action,
			PerformedBy:    req.DecidedBy,
			DecisionBefore: &before,
			DecisionAfter:  &after,
			Metadata:       metadata,
		}); err != nil {
			return err
		}

		decidedAt := s.now().UTC()
		approval.Decision = req.Decision
		approval.Comments = req.Comments
		approval.DecidedAt = &decidedAt
		return tx.UpdateApproval(ctx, approval)
	})
	if err != nil {
		return nil, err
	}

	metrics.ApprovalsDecided.WithLabelValues(string(approval.Type), string(approval.Decision)).Inc()
	s.log.Info().
		Str("approval_id", approval.ID).
		Str("type", string(approval.Type)).
		Str("decision", string(approval.Decision)).
		Str("decided_by", req.DecidedBy).
		Msg("Approval decided")

	s.publishDecision(ctx, approval, req.DecidedBy)

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), retirementTimeout)
	defer cancel()
	s.notifier.retireResolved(rctx, approval, s.retry)

	return approval, nil
}

// applyDecision performs the type-specific effects and returns details for
// the audit entry.
func (s *ApprovalService) applyDecision(ctx context.Context, tx repository.Tx, approval *repository.Approval, change *PendingChange, decision repository.Decision) (map[string]any, error) {
	approve := decision == repository.DecisionApprove

	switch approval.Type {
	case repository.ApprovalTypeAccountCreation:
		if approve {
			account, err := s.projector.ApplyCreation(ctx, tx, change.AccountCreation)
			if err != nil {
				return nil, err
			}
			return map[string]any{"account_id": account.ID, "account_status": string(account.Status)}, nil
		}
		if _, err := tx.DeleteAccount(ctx, change.AccountCreation.AccountID); err != nil {
			return nil, err
		}
		return map[string]any{"account_id": change.AccountCreation.AccountID, "account_deleted": true}, nil

	case repository.ApprovalTypeAccountUpdate:
		if approval.AccountID == nil {
			return nil, errors.New(errors.ErrCodeInternal, "account update approval has no account")
		}
		if !approve {
			return map[string]any{"account_id": *approval.AccountID}, nil
		}
		account, err := s.projector.ApplyUpdate(ctx, tx, *approval.AccountID, change.AccountUpdate)
		if err != nil {
			return nil, err
		}
		return map[string]any{"account_id": account.ID, "account_status": string(account.Status)}, nil

	case repository.ApprovalTypeHighValueTransaction:
		return s.resolveTransaction(ctx, tx, approval, change.Transaction, approve)
	}

	return nil, errors.New(errors.ErrCodeInternal, fmt.Sprintf("unknown approval type %q", approval.Type))
}

func (s *ApprovalService) resolveTransaction(ctx context.Context, tx repository.Tx, approval *repository.Approval, snapshot *TransactionSnapshot, approve bool) (map[string]any, error) {
	txn, err := tx.GetTransactionForUpdate(ctx, snapshot.TransactionID)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, errors.NotFound("transaction", snapshot.TransactionID)
	}
	if txn.Status != repository.TransactionStatusPending {
		return nil, errors.InvalidState(fmt.Sprintf("transaction %s is %s, not Pending", txn.ID, txn.Status))
	}

	effect := map[string]any{"transaction_id": txn.ID}
	switch {
	case !approve:
		txn.Status = repository.TransactionStatusRejected
	default:
		err := postTransaction(ctx, tx, snapshot)
		switch {
		case err == nil:
			txn.Status = repository.TransactionStatusCompleted
		case errors.Is(err, errors.ErrCodeValidation):
			txn.Status = repository.TransactionStatusFailed
			effect["failure"] = err.Error()
			s.log.Warn().
				Err(err).
				Str("approval_id", approval.ID).
				Str("transaction_id", txn.ID).
				Msg("Approved transaction could not be posted")
		default:
			return nil, err
		}
	}

	if err := tx.UpdateTransaction(ctx, txn); err != nil {
		return nil, err
	}
	effect["transaction_status"] = string(txn.Status)
	return effect, nil
}

func (s *ApprovalService) publishDecision(ctx context.Context, approval *repository.Approval, decidedBy string) {
	eventType := EventApprovalApproved
	if approval.Decision == repository.DecisionReject {
		eventType = EventApprovalRejected
	}

	payload := map[string]any{
		"approval_type": string(approval.Type),
		"decision":      string(approval.Decision),
		"comments":      approval.Comments,
	}
	if approval.AccountID != nil {
		payload["account_id"] = *approval.AccountID
	}
	if approval.TransactionID != nil {
		payload["transaction_id"] = *approval.TransactionID
	}

	s.publisher.PublishApprovalEvent(ctx, eventType, "approval", approval.ID, decidedBy, recipients(approval.SubmittedBy), payload)
}

// ── reads ────────────────────────────────────────────────────────────────────

// Get returns an approval or NOT_FOUND.
func (s *ApprovalService) Get(ctx context.Context, id string) (*repository.Approval, error) {
	var approval *repository.Approval
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		approval, err = tx.GetApproval(ctx, id)
		if err == nil && approval == nil {
			err = errors.NotFound("approval", id)
		}
		return err
	})
	return approval, err
}

// List returns one page of approvals, newest first.
func (s *ApprovalService) List(ctx context.Context, f repository.ApprovalFilter) ([]*repository.Approval, int64, error) {
	var (
		items []*repository.Approval
		total int64
	)
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		items, total, err = tx.ListApprovals(ctx, f)
		return err
	})
	return items, total, err
}

// ApprovalDetails is an approval with its decoded pending change and
// audit trail.
type ApprovalDetails struct {
	Approval      *repository.Approval     `json:"approval"`
	PendingChange *PendingChange           `json:"pending_change"`
	AuditTrail    []*repository.AuditEntry `json:"audit_trail"`
}

// Details returns the approval, its pending change and its audit trail.
func (s *ApprovalService) Details(ctx context.Context, id string) (*ApprovalDetails, error) {
	details := &ApprovalDetails{}
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		approval, err := tx.GetApproval(ctx, id)
		if err != nil {
			return err
		}
		if approval == nil {
			return errors.NotFound("approval", id)
		}

		change, err := DecodePendingChange(approval.PendingChanges, approval.Type)
		if err != nil {
			return err
		}

		trail, err := tx.ListAuditByApproval(ctx, id)
		if err != nil {
			return err
		}

		details.Approval = approval
		details.PendingChange = change
		details.AuditTrail = trail
		return nil
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}
