package service

import (
	"context"
	"fmt"

	"github.com/pesio-ai/be-ledger-approvals/internal/errors"
	"github.com/pesio-ai/be-ledger-approvals/internal/repository"
)

// AccountService serves account reads and deletion. Accounts are otherwise
// only written through approvals and transactions.
type AccountService struct {
	store repository.Store
}

func NewAccountService(store repository.Store) *AccountService {
	return &AccountService{store: store}
}

func (s *AccountService) Get(ctx context.Context, id string) (*repository.Account, error) {
	var account *repository.Account
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		account, err = tx.GetAccount(ctx, id)
		if err == nil && account == nil {
			err = errors.NotFound("account", id)
		}
		return err
	})
	return account, err
}

func (s *AccountService) List(ctx context.Context, f repository.AccountFilter) ([]*repository.Account, int64, error) {
	var (
		items []*repository.Account
		total int64
	)
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		items, total, err = tx.ListAccounts(ctx, f)
		return err
	})
	return items, total, err
}

func (s *AccountService) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		exists, err = tx.AccountExists(ctx, id)
		return err
	})
	return exists, err
}

func (s *AccountService) CustomerIDExists(ctx context.Context, customerID string) (bool, error) {
	var exists bool
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		exists, err = tx.CustomerIDExists(ctx, customerID)
		return err
	})
	return exists, err
}

// Delete removes an account that has no outstanding approval and no
// transactions on either side of a transfer.
func (s *AccountService) Delete(ctx context.Context, id string) error {
	return s.store.InTransaction(ctx, func(tx repository.Tx) error {
		account, err := tx.GetAccountForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if account == nil {
			return errors.NotFound("account", id)
		}

		outstanding, err := tx.GetOutstandingApprovalForAccount(ctx, id)
		if err != nil {
			return err
		}
		if outstanding != nil {
			return errors.Conflict(fmt.Sprintf("account %s has pending approval %s", id, outstanding.ID))
		}

		_, total, err := tx.ListTransactions(ctx, repository.TransactionFilter{
			AccountID: &id,
			Page:      repository.Page{Number: 1, Size: 1},
		})
		if err != nil {
			return err
		}
		if total > 0 {
			return errors.Conflict(fmt.Sprintf("account %s has transactions", id))
		}

		deleted, err := tx.DeleteAccount(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return errors.NotFound("account", id)
		}
		return nil
	})
}
