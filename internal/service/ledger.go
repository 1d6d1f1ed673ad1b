package service

import (
	"context"
	"fmt"

	"github.com/pesio-ai/be-ledger-approvals/internal/errors"
	"github.com/pesio-ai/be-ledger-approvals/internal/repository"
)

// postTransaction moves balances for a transaction. Accounts are locked in
// id order so concurrent transfers between the same pair cannot deadlock.
func postTransaction(ctx context.Context, tx repository.Tx, s *TransactionSnapshot) error {
	ids := []string{s.AccountID}
	if s.ToAccountID != nil {
		if *s.ToAccountID < s.AccountID {
			ids = []string{*s.ToAccountID, s.AccountID}
		} else {
			ids = append(ids, *s.ToAccountID)
		}
	}

	locked := make(map[string]*repository.Account, len(ids))
	for _, id := range ids {
		a, err := tx.GetAccountForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a == nil {
			return errors.NotFound("account", id)
		}
		if a.Status != repository.AccountStatusActive {
			return errors.InvalidInput("account_id", fmt.Sprintf("account %s is %s", a.ID, a.Status))
		}
		locked[id] = a
	}

	source := locked[s.AccountID]
	switch s.Type {
	case repository.TransactionTypeDeposit:
		source.Balance = source.Balance.Add(s.Amount)
	case repository.TransactionTypeWithdrawal, repository.TransactionTypeTransfer:
		if source.Balance.LessThan(s.Amount) {
			return errors.InvalidInput("amount", "insufficient funds")
		}
		source.Balance = source.Balance.Sub(s.Amount)
	default:
		return errors.InvalidInput("type", fmt.Sprintf("unknown transaction type %q", s.Type))
	}
	if err := tx.UpdateAccount(ctx, source); err != nil {
		return err
	}

	if s.Type == repository.TransactionTypeTransfer {
		target := locked[*s.ToAccountID]
		target.Balance = target.Balance.Add(s.Amount)
		if err := tx.UpdateAccount(ctx, target); err != nil {
			return err
		}
	}
	return nil
}
