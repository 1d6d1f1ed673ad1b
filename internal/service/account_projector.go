package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ledger-approvals/internal/errors"
	"github.com/pesio-ai/be-ledger-approvals/internal/logger"
	"github.com/pesio-ai/be-ledger-approvals/internal/repository"
)

// AccountProjector applies approved account payloads to stored accounts.
// It runs inside the deciding unit of work and never commits on its own.
type AccountProjector struct {
	log *logger.Logger
}

func NewAccountProjector(log *logger.Logger) *AccountProjector {
	return &AccountProjector{log: log}
}

// ApplyCreation activates the Pending account named by payload. If the
// account row is gone it is materialized from the payload with a zero
// balance.
func (p *AccountProjector) ApplyCreation(ctx context.Context, tx repository.Tx, payload *AccountCreationPayload) (*repository.Account, error) {
	account, err := tx.GetAccountForUpdate(ctx, payload.AccountID)
	if err != nil {
		return nil, err
	}

	if account == nil {
		taken, err := tx.CustomerIDExists(ctx, payload.CustomerID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, errors.Conflict(fmt.Sprintf("customer id %s already exists", payload.CustomerID))
		}

		account = &repository.Account{
			ID:           payload.AccountID,
			CustomerName: payload.CustomerName,
			CustomerID:   payload.CustomerID,
			AccountType:  payload.AccountType,
			Balance:      decimal.Zero,
			Status:       repository.AccountStatusActive,
		}
		if err := tx.InsertAccount(ctx, account); err != nil {
			return nil, err
		}

		p.log.Warn().
			Str("account_id", account.ID).
			Msg("Pending account missing at approval, materialized from payload")
		return account, nil
	}

	if account.Status != repository.AccountStatusPending {
		return nil, errors.InvalidState(fmt.Sprintf("account %s is %s, not Pending", account.ID, account.Status))
	}

	account.Status = repository.AccountStatusActive
	if err := tx.UpdateAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// ApplyUpdate overlays the fields present in payload onto the account.
// Balance is never touched.
func (p *AccountProjector) ApplyUpdate(ctx context.Context, tx repository.Tx, accountID string, payload *AccountUpdatePayload) (*repository.Account, error) {
	account, err := tx.GetAccountForUpdate(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, errors.NotFound("account", accountID)
	}

	if payload.CustomerID != nil && *payload.CustomerID != account.CustomerID {
		taken, err := tx.CustomerIDExists(ctx, *payload.CustomerID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, errors.Conflict(fmt.Sprintf("customer id %s already exists", *payload.CustomerID))
		}
	}

	updated := overlay(*account, payload)
	if err := tx.UpdateAccount(ctx, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func overlay(a repository.Account, p *AccountUpdatePayload) repository.Account {
	if p.CustomerName != nil {
		a.CustomerName = *p.CustomerName
	}
	if p.CustomerID != nil {
		a.CustomerID = *p.CustomerID
	}
	if p.AccountType != nil {
		a.AccountType = *p.AccountType
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
	return a
}
