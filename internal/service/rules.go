package service

import (
	"context"
	"fmt"

	"github.com/cleared-dev/moneypipe/internal/model"
	"github.com/cleared-dev/moneypipe/internal/rules"
	"github.com/cleared-dev/moneypipe/internal/store"
)

// CreateRule validates and stores r. It does not touch existing
// transactions; call ApplyRules or ApplyRule afterwards.
func (s *Service) CreateRule(ctx context.Context, r *model.Rule) error {
	for i := range r.Conditions {
		r.Conditions[i].Sequence = i
	}
	if err := rules.ValidateRule(r); err != nil {
		return err
	}
	if err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.CreateRule(ctx, r)
	}); err != nil {
		return fmt.Errorf("creating rule: %w", err)
	}
	s.log.Info().Int64("rule_id", r.ID).Str("name", r.Name).Msg("rule created")
	return nil
}

// ListRules returns all rules in priority order.
func (s *Service) ListRules(ctx context.Context) ([]*model.Rule, error) {
	return s.store.ListRules(ctx)
}

// LoadRules stores rules read from a rules file. Rules whose name already
// exists are skipped. Returns the number created and skipped.
func (s *Service) LoadRules(ctx context.Context, rs []*model.Rule) (created, skipped int, err error) {
	existing, err := s.store.ListRules(ctx)
	if err != nil {
		return 0, 0, err
	}
	names := make(map[string]bool, len(existing))
	for _, r := range existing {
		names[r.Name] = true
	}

	for _, r := range rs {
		if err := rules.ValidateRule(r); err != nil {
			return 0, 0, fmt.Errorf("rule %q: %w", r.Name, err)
		}
	}

	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		for _, r := range rs {
			if names[r.Name] {
				skipped++
				continue
			}
			if err := tx.CreateRule(ctx, r); err != nil {
				return err
			}
			names[r.Name] = true
			created++
		}
		return nil
	})
	if err != nil {
		return 0, 0, &model.PersistenceError{Op: "load rules", Attempted: len(rs), Err: err}
	}
	return created, skipped, nil
}

// RuleUpdate holds the fields to change on a rule. Nil fields keep their
// current value. A non-nil Conditions replaces all conditions.
type RuleUpdate struct {
	Name            *string
	CategoryID      *int64
	LogicalOperator *model.LogicalOperator
	Conditions      []model.Condition
	// Reapply re-evaluates the updated rule against all transactions.
	// Nil means true.
	Reapply *bool
}

// ReapplyResult reports the effect of a rule update.
type ReapplyResult struct {
	Rule     *model.Rule
	Reverted int64
	Matched  int
}

// UpdateRule changes a rule and re-derives its categorizations. Every
// transaction attributed to the rule is reverted to uncategorized, then the
// updated rule is evaluated against all transactions so loosened rules
// claim new matches and tightened rules release old ones. Everything runs
// in one storage transaction.
func (s *Service) UpdateRule(ctx context.Context, id int64, upd RuleUpdate) (*ReapplyResult, error) {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		rule.Name = *upd.Name
	}
	if upd.CategoryID != nil {
		rule.CategoryID = *upd.CategoryID
	}
	if upd.LogicalOperator != nil {
		rule.LogicalOperator = *upd.LogicalOperator
	}
	if upd.Conditions != nil {
		rule.Conditions = make([]model.Condition, len(upd.Conditions))
		for i, c := range upd.Conditions {
			c.ID = 0
			c.RuleID = rule.ID
			c.Sequence = i
			rule.Conditions[i] = c
		}
	}
	if err := rules.ValidateRule(rule); err != nil {
		return nil, err
	}
	reapply := upd.Reapply == nil || *upd.Reapply

	res := &ReapplyResult{Rule: rule}
	var scanned int
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		n, err := tx.ClearRuleAttribution(ctx, rule.ID, false)
		if err != nil {
			return err
		}
		res.Reverted = n
		if err := tx.UpdateRule(ctx, rule); err != nil {
			return err
		}
		if !reapply {
			return nil
		}
		scanned, res.Matched, err = s.assign(ctx, tx, rule)
		return err
	})
	if err != nil {
		attempted := int(res.Reverted)
		if scanned > 0 {
			attempted = scanned
		}
		return nil, &model.PersistenceError{Op: "update rule", Attempted: attempted, Err: err}
	}

	s.log.Info().
		Int64("rule_id", rule.ID).
		Int64("reverted", res.Reverted).
		Int("matched", res.Matched).
		Msg("rule updated")
	return res, nil
}

// DeleteRule removes a rule. Transactions it categorized keep their
// category but lose the rule reference. Returns the number detached.
func (s *Service) DeleteRule(ctx context.Context, id int64) (int64, error) {
	var detached int64
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		detached, err = tx.ClearRuleAttribution(ctx, id, true)
		if err != nil {
			return err
		}
		return tx.DeleteRule(ctx, id)
	})
	if err != nil {
		return 0, &model.PersistenceError{Op: fmt.Sprintf("delete rule %d", id), Attempted: int(detached), Err: err}
	}
	s.log.Info().Int64("rule_id", id).Int64("detached", detached).Msg("rule deleted")
	return detached, nil
}

// RevertRule removes the category from every transaction the rule assigned
// without changing the rule. Returns the number of transactions reset.
func (s *Service) RevertRule(ctx context.Context, id int64) (int64, error) {
	var reverted int64
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		reverted, err = tx.ClearRuleAttribution(ctx, id, false)
		return err
	})
	if err != nil {
		return 0, &model.PersistenceError{Op: fmt.Sprintf("revert rule %d", id), Attempted: int(reverted), Err: err}
	}
	s.log.Info().Int64("rule_id", id).Int64("reverted", reverted).Msg("rule reverted")
	return reverted, nil
}
