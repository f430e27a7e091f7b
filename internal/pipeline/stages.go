package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cleared-dev/moneypipe/internal/accounts"
	"github.com/cleared-dev/moneypipe/internal/fingerprint"
	"github.com/cleared-dev/moneypipe/internal/model"
	"github.com/cleared-dev/moneypipe/internal/normalize"
	"github.com/cleared-dev/moneypipe/internal/rules"
)

// Stage names used by Default.
const (
	StageNormalize        = "normalize"
	StageHash             = "hash"
	StageInternalTransfer = "internal_transfer"
	StageApplyRules       = "apply_rules"
)

// RuleSource supplies rules in priority order. *store.Store implements it.
type RuleSource interface {
	ListRules(ctx context.Context) ([]*model.Rule, error)
}

// AccountSource supplies registered bank accounts. *store.Store implements it.
type AccountSource interface {
	ListBankAccounts(ctx context.Context) ([]model.BankAccount, error)
}

// StaticRules is a RuleSource over a fixed slice.
type StaticRules []*model.Rule

// ListRules returns the slice unchanged.
func (s StaticRules) ListRules(context.Context) ([]*model.Rule, error) { return s, nil }

// NormalizeStage cleans dates, amounts, text and the sub-account IBAN.
type NormalizeStage struct {
	n *normalize.Normalizer
}

// NewNormalizeStage wraps n.
func NewNormalizeStage(n *normalize.Normalizer) *NormalizeStage {
	return &NormalizeStage{n: n}
}

func (s *NormalizeStage) Name() string { return StageNormalize }

func (s *NormalizeStage) Process(_ context.Context, rec *model.Record) error {
	return s.n.Normalize(rec)
}

// HashStage sets transaction_hash on records that have none. An empty hash
// counts as none.
type HashStage struct {
	h *fingerprint.Hasher
}

// NewHashStage wraps h.
func NewHashStage(h *fingerprint.Hasher) *HashStage {
	return &HashStage{h: h}
}

func (s *HashStage) Name() string { return StageHash }

func (s *HashStage) Process(_ context.Context, rec *model.Record) error {
	if h, ok := rec.Text(model.FieldTransactionHash); ok && h != "" {
		return nil
	}
	return rec.Set(model.FieldTransactionHash, s.h.Fingerprint(rec))
}

// InternalTransferStage flags transfers between owned accounts.
type InternalTransferStage struct {
	configured []string
	src        AccountSource
	log        zerolog.Logger

	owned *accounts.OwnedSet
}

// NewInternalTransferStage classifies against the configured IBANs plus the
// accounts in src. src may be nil.
func NewInternalTransferStage(configured []string, src AccountSource, log zerolog.Logger) *InternalTransferStage {
	return &InternalTransferStage{
		configured: configured,
		src:        src,
		log:        log.With().Str("stage", StageInternalTransfer).Logger(),
	}
}

func (s *InternalTransferStage) Name() string { return StageInternalTransfer }

// BeginBatch reloads the owned account set. On failure only the configured
// IBANs are used for this batch.
func (s *InternalTransferStage) BeginBatch(ctx context.Context) error {
	s.owned = accounts.NewOwnedSet(s.configured...)
	if s.src == nil {
		return nil
	}
	accts, err := s.src.ListBankAccounts(ctx)
	if err != nil {
		return fmt.Errorf("loading bank accounts: %w", err)
	}
	s.owned = accounts.FromAccounts(s.configured, accts)
	s.log.Debug().Int("owned", s.owned.Len()).Msg("owned accounts loaded")
	return nil
}

func (s *InternalTransferStage) Process(ctx context.Context, rec *model.Record) error {
	if s.owned == nil {
		if err := s.BeginBatch(ctx); err != nil {
			s.log.Warn().Err(err).Msg("using configured IBANs only")
		}
	}
	iban, _ := rec.Text(model.FieldIBAN)
	counterparty, _ := rec.Text(model.FieldCounterpartyIBAN)
	return rec.Set(model.FieldIsInternalTransfer, s.owned.Classify(iban, counterparty))
}

// ApplyRulesStage categorizes uncategorized records with the first matching
// rule.
type ApplyRulesStage struct {
	engine *rules.Engine
	src    RuleSource
	log    zerolog.Logger

	loaded bool
	rules  []*model.Rule
}

// NewApplyRulesStage evaluates the rules supplied by src.
func NewApplyRulesStage(engine *rules.Engine, src RuleSource, log zerolog.Logger) *ApplyRulesStage {
	return &ApplyRulesStage{
		engine: engine,
		src:    src,
		log:    log.With().Str("stage", StageApplyRules).Logger(),
	}
}

func (s *ApplyRulesStage) Name() string { return StageApplyRules }

// BeginBatch reloads rules. When they cannot be loaded no rule matches for
// the rest of the batch.
func (s *ApplyRulesStage) BeginBatch(ctx context.Context) error {
	s.loaded = true
	s.rules = nil
	if s.src == nil {
		return nil
	}
	rs, err := s.src.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("loading rules: %w: %w", model.ErrStaleReference, err)
	}
	s.rules = rs
	return nil
}

func (s *ApplyRulesStage) Process(ctx context.Context, rec *model.Record) error {
	if !s.loaded {
		if err := s.BeginBatch(ctx); err != nil {
			s.log.Warn().Err(err).Msg("no rules applied")
		}
	}
	if _, categorized := rec.Get(model.FieldCategoryID); categorized {
		return nil
	}
	sel := s.engine.Apply(rec, s.rules)
	if !sel.Matched {
		return nil
	}
	if err := rec.Set(model.FieldCategoryID, sel.CategoryID); err != nil {
		return err
	}
	return rec.Set(model.FieldRuleID, sel.RuleID)
}

// Options configures Default.
type Options struct {
	PrimaryIBAN         string
	SubAccountIBAN      string
	OwnedIBANs          []string
	IncludeCounterparty bool
	Accounts            AccountSource
	Rules               RuleSource
}

// Default builds Normalize → Hash → InternalTransfer → ApplyRules.
func Default(opts Options, log zerolog.Logger) *Pipeline {
	return New(log,
		NewNormalizeStage(normalize.NewNormalizer(opts.PrimaryIBAN, opts.SubAccountIBAN, log)),
		NewHashStage(fingerprint.New(opts.IncludeCounterparty)),
		NewInternalTransferStage(opts.OwnedIBANs, opts.Accounts, log),
		NewApplyRulesStage(rules.NewEngine(log), opts.Rules, log),
	)
}
