package service

import (
	"context"
	"fmt"

	"github.com/cleared-dev/moneypipe/internal/accounts"
	"github.com/cleared-dev/moneypipe/internal/model"
	"github.com/cleared-dev/moneypipe/internal/store"
)

// Collision is a transaction whose fingerprint is already taken.
type Collision struct {
	ID   int64
	Hash string
}

// BackfillResult reports a hash backfill run.
type BackfillResult struct {
	Checked    int
	Updated    int
	Collisions []Collision
}

// BackfillHashes fingerprints stored transactions that have no hash.
// Transactions whose fingerprint already exists are left without one and
// reported as collisions.
func (s *Service) BackfillHashes(ctx context.Context) (*BackfillResult, error) {
	res := &BackfillResult{}
	s.log.Debug().Strs("fields", s.hasher.Fields()).Msg("backfilling transaction hashes")
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		txns, err := tx.ListTransactions(ctx, model.TransactionFilter{MissingHash: true})
		if err != nil {
			return err
		}
		res.Checked = len(txns)

		for _, t := range txns {
			hash := s.hasher.Fingerprint(model.NewEntity(t))
			taken, err := tx.HashExists(ctx, hash)
			if err != nil {
				return err
			}
			if taken {
				res.Collisions = append(res.Collisions, Collision{ID: t.ID, Hash: hash})
				s.log.Warn().Int64("id", t.ID).Str("hash", hash).Msg("duplicate fingerprint, hash not assigned")
				continue
			}
			t.Hash = hash
			if err := tx.UpdateTransaction(ctx, t); err != nil {
				return err
			}
			res.Updated++
		}
		return nil
	})
	if err != nil {
		return nil, &model.PersistenceError{Op: "backfill hashes", Attempted: res.Checked, Err: err}
	}
	s.log.Info().
		Int("checked", res.Checked).
		Int("updated", res.Updated).
		Int("collisions", len(res.Collisions)).
		Msg("hash backfill complete")
	return res, nil
}

// AddBankAccount registers an owned account for internal-transfer detection.
func (s *Service) AddBankAccount(ctx context.Context, a *model.BankAccount) error {
	if a.IBAN == "" {
		return model.ValidationErrors{{Field: "iban", Message: "is required"}}
	}
	if err := s.store.CreateBankAccount(ctx, a); err != nil {
		return fmt.Errorf("adding bank account: %w", err)
	}
	return nil
}

// ListBankAccounts returns all registered accounts.
func (s *Service) ListBankAccounts(ctx context.Context) ([]model.BankAccount, error) {
	return s.store.ListBankAccounts(ctx)
}

// OwnedIBANs returns the IBANs treated as the account holder's own: the
// configured ones plus every registered bank account.
func (s *Service) OwnedIBANs(ctx context.Context) ([]string, error) {
	accts, err := s.store.ListBankAccounts(ctx)
	if err != nil {
		return nil, err
	}
	return accounts.FromAccounts(s.owned, accts).IBANs(), nil
}
