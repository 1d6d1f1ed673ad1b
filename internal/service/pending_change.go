package service

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ledger-approvals/internal/errors"
	"github.com/pesio-ai/be-ledger-approvals/internal/repository"
)

// PendingChangeVersion is the envelope schema written by this build.
const PendingChangeVersion = 1

const minCustomerIDLength = 7

var accountIDPattern = regexp.MustCompile(`^ACC\d{4,}$`)

// PendingChange is the envelope stored in Approval.PendingChanges. Exactly
// one payload is set and it must agree with Kind.
type PendingChange struct {
	Version         int                     `json:"version"`
	Kind            repository.ApprovalType `json:"kind"`
	AccountCreation *AccountCreationPayload `json:"account_creation,omitempty"`
	AccountUpdate   *AccountUpdatePayload   `json:"account_update,omitempty"`
	Transaction     *TransactionSnapshot    `json:"transaction,omitempty"`
}

// AccountCreationPayload proposes a new account. AccountID may be left
// empty to have one allocated.
type AccountCreationPayload struct {
	AccountID    string                 `json:"account_id"`
	CustomerName string                 `json:"customer_name"`
	CustomerID   string                 `json:"customer_id"`
	AccountType  repository.AccountType `json:"account_type"`
}

func (p *AccountCreationPayload) Validate() error {
	if p.AccountID != "" && !accountIDPattern.MatchString(p.AccountID) {
		return errors.InvalidInput("account_id", "account id must be ACC followed by at least 4 digits")
	}
	if strings.TrimSpace(p.CustomerName) == "" {
		return errors.InvalidInput("customer_name", "customer name is required")
	}
	if len(p.CustomerID) < minCustomerIDLength {
		return errors.InvalidInput("customer_id", fmt.Sprintf("customer id must be at least %d characters", minCustomerIDLength))
	}
	if !p.AccountType.Valid() {
		return errors.InvalidInput("account_type", "account type must be Savings or Current")
	}
	return nil
}

// AccountUpdatePayload carries only the fields being changed.
type AccountUpdatePayload struct {
	CustomerName *string                   `json:"customer_name,omitempty"`
	CustomerID   *string                   `json:"customer_id,omitempty"`
	AccountType  *repository.AccountType   `json:"account_type,omitempty"`
	Status       *repository.AccountStatus `json:"status,omitempty"`
}

func (p *AccountUpdatePayload) Validate() error {
	if p.CustomerName == nil && p.CustomerID == nil && p.AccountType == nil && p.Status == nil {
		return errors.InvalidInput("payload", "at least one field must be updated")
	}
	if p.CustomerName != nil && strings.TrimSpace(*p.CustomerName) == "" {
		return errors.InvalidInput("customer_name", "customer name cannot be empty")
	}
	if p.CustomerID != nil && len(*p.CustomerID) < minCustomerIDLength {
		return errors.InvalidInput("customer_id", fmt.Sprintf("customer id must be at least %d characters", minCustomerIDLength))
	}
	if p.AccountType != nil && !p.AccountType.Valid() {
		return errors.InvalidInput("account_type", "account type must be Savings or Current")
	}
	if p.Status != nil && *p.Status != repository.AccountStatusActive && *p.Status != repository.AccountStatusClosed {
		return errors.InvalidInput("status", "status must be Active or Closed")
	}
	return nil
}

// TransactionSnapshot is the gated transaction as submitted.
type TransactionSnapshot struct {
	TransactionID string                     `json:"transaction_id"`
	AccountID     string                     `json:"account_id"`
	Type          repository.TransactionType `json:"type"`
	Amount        decimal.Decimal            `json:"amount"`
	ToAccountID   *string                    `json:"to_account_id,omitempty"`
	Description   string                     `json:"description"`
	Flag          string                     `json:"flag"`
}

func snapshotOf(t *repository.Transaction) *TransactionSnapshot {
	return &TransactionSnapshot{
		TransactionID: t.ID,
		AccountID:     t.AccountID,
		Type:          t.Type,
		Amount:        t.Amount,
		ToAccountID:   t.ToAccountID,
		Description:   t.Description,
		Flag:          t.Flag,
	}
}

func creationChange(p *AccountCreationPayload) *PendingChange {
	return &PendingChange{Version: PendingChangeVersion, Kind: repository.ApprovalTypeAccountCreation, AccountCreation: p}
}

func updateChange(p *AccountUpdatePayload) *PendingChange {
	return &PendingChange{Version: PendingChangeVersion, Kind: repository.ApprovalTypeAccountUpdate, AccountUpdate: p}
}

func transactionChange(s *TransactionSnapshot) *PendingChange {
	return &PendingChange{Version: PendingChangeVersion, Kind: repository.ApprovalTypeHighValueTransaction, Transaction: s}
}

// Encode serialises the envelope for storage.
func (c *PendingChange) Encode() (json.RawMessage, error) {
	if err := c.check(c.Kind); err != nil {
		return nil, err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to encode pending change")
	}
	return data, nil
}

// DecodePendingChange parses a stored envelope and verifies that it
// matches the approval type it was stored under.
func DecodePendingChange(raw json.RawMessage, want repository.ApprovalType) (*PendingChange, error) {
	c := &PendingChange{}
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to decode pending change")
	}
	if c.Version != PendingChangeVersion {
		return nil, errors.New(errors.ErrCodeInternal, fmt.Sprintf("unsupported pending change version %d", c.Version))
	}
	if err := c.check(want); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *PendingChange) check(want repository.ApprovalType) error {
	if c.Kind != want {
		return errors.New(errors.ErrCodeInternal, fmt.Sprintf("pending change kind %q does not match approval type %q", c.Kind, want))
	}

	set := 0
	for _, present := range []bool{c.AccountCreation != nil, c.AccountUpdate != nil, c.Transaction != nil} {
		if present {
			set++
		}
	}

	var ok bool
	switch c.Kind {
	case repository.ApprovalTypeAccountCreation:
		ok = c.AccountCreation != nil
	case repository.ApprovalTypeAccountUpdate:
		ok = c.AccountUpdate != nil
	case repository.ApprovalTypeHighValueTransaction:
		ok = c.Transaction != nil
	}
	if !ok || set != 1 {
		return errors.New(errors.ErrCodeInternal, fmt.Sprintf("pending change payload does not match kind %q", c.Kind))
	}
	return nil
}
