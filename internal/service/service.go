// Package service orchestrates the transaction pipeline around storage.
package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cleared-dev/moneypipe/internal/fingerprint"
	"github.com/cleared-dev/moneypipe/internal/model"
	"github.com/cleared-dev/moneypipe/internal/pipeline"
	"github.com/cleared-dev/moneypipe/internal/rules"
	"github.com/cleared-dev/moneypipe/internal/store"
)

// Options configures a Service.
type Options struct {
	PrimaryIBAN         string
	SubAccountIBAN      string
	OwnedIBANs          []string
	IncludeCounterparty bool
}

// Service imports, reprocesses and recategorizes transactions.
type Service struct {
	store    *store.Store
	pipeline *pipeline.Pipeline
	engine   *rules.Engine
	hasher   *fingerprint.Hasher
	owned    []string
	log      zerolog.Logger

	newBatchID func() string
}

// New creates a Service whose pipeline reads rules and bank accounts from st.
func New(st *store.Store, opts Options, log zerolog.Logger) *Service {
	p := pipeline.Default(pipeline.Options{
		PrimaryIBAN:         opts.PrimaryIBAN,
		SubAccountIBAN:      opts.SubAccountIBAN,
		OwnedIBANs:          opts.OwnedIBANs,
		IncludeCounterparty: opts.IncludeCounterparty,
		Accounts:            st,
		Rules:               st,
	}, log)
	return &Service{
		store:      st,
		pipeline:   p,
		engine:     rules.NewEngine(log),
		hasher:     fingerprint.New(opts.IncludeCounterparty),
		owned:      opts.OwnedIBANs,
		log:        log.With().Str("component", "service").Logger(),
		newBatchID: uuid.NewString,
	}
}

// ImportResult summarizes one import batch.
type ImportResult struct {
	BatchID      string
	Received     int
	Inserted     int
	Duplicates   int
	Transactions []*model.Transaction
}

// ImportAndSave runs raws through the pipeline and stores them in one
// storage transaction. Records whose fingerprint is already stored, or
// appears earlier in the same batch, are skipped and counted as duplicates.
func (s *Service) ImportAndSave(ctx context.Context, raws []model.RawRecord) (*ImportResult, error) {
	res := &ImportResult{BatchID: s.newBatchID(), Received: len(raws)}
	log := s.log.With().Str("batch", res.BatchID).Logger()

	recs := make([]*model.Record, len(raws))
	for i, raw := range raws {
		recs[i] = model.NewRaw(raw)
	}
	if err := s.pipeline.ProcessMany(ctx, recs); err != nil {
		return nil, fmt.Errorf("processing import: %w", err)
	}

	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		seen := make(map[string]bool, len(recs))
		for i, rec := range recs {
			t, unknown := rec.ToTransaction()
			if len(unknown) > 0 {
				log.Warn().Int("index", i).Strs("fields", unknown).Msg("ignoring unknown fields")
			}
			t.ImportBatch = res.BatchID

			if t.Hash == "" {
				log.Warn().Int("index", i).Msg("record has no transaction hash")
			} else {
				if seen[t.Hash] {
					res.Duplicates++
					continue
				}
				seen[t.Hash] = true
				exists, err := tx.HashExists(ctx, t.Hash)
				if err != nil {
					return err
				}
				if exists {
					res.Duplicates++
					continue
				}
			}

			inserted, err := tx.InsertTransaction(ctx, t)
			if err != nil {
				return err
			}
			if !inserted {
				res.Duplicates++
				continue
			}
			res.Transactions = append(res.Transactions, t)
		}
		return nil
	})
	if err != nil {
		return nil, &model.PersistenceError{Op: "import", Attempted: len(raws), Err: err}
	}

	res.Inserted = len(res.Transactions)
	log.Info().
		Int("received", res.Received).
		Int("inserted", res.Inserted).
		Int("duplicates", res.Duplicates).
		Msg("import committed")
	return res, nil
}

// ProcessExisting reruns the pipeline over stored transactions selected by
// filter and commits once. When stages are named only those run.
func (s *Service) ProcessExisting(ctx context.Context, filter model.TransactionFilter, stages ...string) (int, error) {
	p := s.pipeline
	if len(stages) > 0 {
		var err error
		if p, err = s.pipeline.Only(stages...); err != nil {
			return 0, err
		}
	}
	return p.ProcessPersisted(ctx, s.store, filter)
}

// ApplyRules categorizes every uncategorized stored transaction.
func (s *Service) ApplyRules(ctx context.Context) (int, error) {
	return s.ProcessExisting(ctx, model.TransactionFilter{Uncategorized: true})
}

// ApplyRule evaluates one rule against all stored transactions and assigns
// its category to every match, replacing any existing category. Returns the
// number of matches.
func (s *Service) ApplyRule(ctx context.Context, ruleID int64) (int, error) {
	rule, err := s.store.GetRule(ctx, ruleID)
	if err != nil {
		return 0, err
	}

	var scanned, matched int
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		scanned, matched, err = s.assign(ctx, tx, rule)
		return err
	})
	if err != nil {
		return 0, &model.PersistenceError{Op: "apply rule", Attempted: scanned, Err: err}
	}
	s.log.Info().Int64("rule_id", ruleID).Int("matched", matched).Msg("rule applied")
	return matched, nil
}

// assign categorizes every stored transaction matching rule. It returns the
// number of transactions evaluated and the number matched.
func (s *Service) assign(ctx context.Context, tx *store.Tx, rule *model.Rule) (scanned, matched int, err error) {
	txns, err := tx.ListTransactions(ctx, model.TransactionFilter{})
	if err != nil {
		return 0, 0, err
	}
	for _, t := range txns {
		if !s.engine.EvaluateRule(model.NewEntity(t), rule) {
			continue
		}
		t.Categorize(rule.CategoryID, rule.ID)
		if err := tx.UpdateTransaction(ctx, t); err != nil {
			return len(txns), matched, err
		}
		matched++
	}
	return len(txns), matched, nil
}

// SetCategory assigns a category to one transaction by hand. A nil
// categoryID clears it. The rule reference is dropped so later rule updates
// and reverts leave the manual choice alone.
func (s *Service) SetCategory(ctx context.Context, id int64, categoryID *int64) (*model.Transaction, error) {
	if categoryID != nil && *categoryID <= 0 {
		return nil, model.ValidationErrors{{Field: "category_id", Message: "must be positive"}}
	}
	var txn *model.Transaction
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		if txn, err = tx.GetTransaction(ctx, id); err != nil {
			return err
		}
		txn.CategoryID = categoryID
		txn.RuleID = nil
		return tx.UpdateTransaction(ctx, txn)
	})
	if err != nil {
		return nil, &model.PersistenceError{Op: "set category", Attempted: 1, Err: err}
	}
	s.log.Info().Int64("transaction_id", id).Msg("category set manually")
	return txn, nil
}
