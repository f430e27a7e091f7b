package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cleared-dev/moneypipe/internal/model"
)

// CreateRule stores r with its conditions and fills in ids and timestamps.
// Run it inside a Tx so the rule and its conditions land together.
func (o *ops) CreateRule(ctx context.Context, r *model.Rule) error {
	ts := o.timestamp()
	err := o.queryRow(ctx,
		`INSERT INTO rules (name, category_id, logical_operator, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?) RETURNING id`,
		r.Name, r.CategoryID, string(r.LogicalOperator), ts, ts,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("inserting rule %q: %w", r.Name, err)
	}
	r.CreatedAt = parseTimestamp(ts)
	r.UpdatedAt = r.CreatedAt
	return o.insertConditions(ctx, r)
}

// UpdateRule rewrites the rule row and replaces its conditions.
func (o *ops) UpdateRule(ctx context.Context, r *model.Rule) error {
	ts := o.timestamp()
	res, err := o.exec(ctx,
		`UPDATE rules SET name = ?, category_id = ?, logical_operator = ?, updated_at = ? WHERE id = ?`,
		r.Name, r.CategoryID, string(r.LogicalOperator), ts, r.ID)
	if err != nil {
		return fmt.Errorf("updating rule %d: %w", r.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("rule %d: %w", r.ID, model.ErrNotFound)
	}
	r.UpdatedAt = parseTimestamp(ts)

	if _, err := o.exec(ctx, `DELETE FROM rule_conditions WHERE rule_id = ?`, r.ID); err != nil {
		return fmt.Errorf("replacing conditions of rule %d: %w", r.ID, err)
	}
	return o.insertConditions(ctx, r)
}

func (o *ops) insertConditions(ctx context.Context, r *model.Rule) error {
	for i := range r.Conditions {
		c := &r.Conditions[i]
		c.RuleID = r.ID
		err := o.queryRow(ctx,
			`INSERT INTO rule_conditions (rule_id, field, operator, value, sequence)
			VALUES (?, ?, ?, ?, ?) RETURNING id`,
			c.RuleID, c.Field, string(c.Operator), c.Value, c.Sequence,
		).Scan(&c.ID)
		if err != nil {
			return fmt.Errorf("inserting condition %d of rule %d: %w", i, r.ID, err)
		}
	}
	return nil
}

// DeleteRule removes a rule and its conditions. Transactions referencing it
// must be detached first with ClearRuleAttribution.
func (o *ops) DeleteRule(ctx context.Context, id int64) error {
	if _, err := o.exec(ctx, `DELETE FROM rule_conditions WHERE rule_id = ?`, id); err != nil {
		return fmt.Errorf("deleting conditions of rule %d: %w", id, err)
	}
	res, err := o.exec(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting rule %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("rule %d: %w", id, model.ErrNotFound)
	}
	return nil
}

// GetRule returns one rule with its conditions in sequence order.
func (o *ops) GetRule(ctx context.Context, id int64) (*model.Rule, error) {
	var (
		r                model.Rule
		op               string
		created, updated string
	)
	err := o.queryRow(ctx,
		`SELECT id, name, category_id, logical_operator, created_at, updated_at FROM rules WHERE id = ?`, id,
	).Scan(&r.ID, &r.Name, &r.CategoryID, &op, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying rule %d: %w", id, err)
	}
	r.LogicalOperator = model.LogicalOperator(op)
	r.CreatedAt = parseTimestamp(created)
	r.UpdatedAt = parseTimestamp(updated)

	conds, err := o.listConditions(ctx, &id)
	if err != nil {
		return nil, err
	}
	r.Conditions = conds[id]
	return &r, nil
}

// ListRules returns every rule in creation order, conditions attached.
func (o *ops) ListRules(ctx context.Context) ([]*model.Rule, error) {
	rows, err := o.query(ctx,
		`SELECT id, name, category_id, logical_operator, created_at, updated_at
		FROM rules ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var out []*model.Rule
	for rows.Next() {
		var (
			r                model.Rule
			op               string
			created, updated string
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.CategoryID, &op, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning rule: %w", err)
		}
		r.LogicalOperator = model.LogicalOperator(op)
		r.CreatedAt = parseTimestamp(created)
		r.UpdatedAt = parseTimestamp(updated)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading rules: %w", err)
	}
	rows.Close()

	conds, err := o.listConditions(ctx, nil)
	if err != nil {
		return nil, err
	}
	for _, r := range out {
		r.Conditions = conds[r.ID]
	}
	return out, nil
}

// listConditions returns conditions grouped by rule id. A nil ruleID loads all.
func (o *ops) listConditions(ctx context.Context, ruleID *int64) (map[int64][]model.Condition, error) {
	q := `SELECT id, rule_id, field, operator, value, sequence FROM rule_conditions`
	var args []any
	if ruleID != nil {
		q += ` WHERE rule_id = ?`
		args = append(args, *ruleID)
	}
	q += ` ORDER BY rule_id, sequence, id`

	rows, err := o.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rule conditions: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]model.Condition)
	for rows.Next() {
		var c model.Condition
		var op string
		if err := rows.Scan(&c.ID, &c.RuleID, &c.Field, &op, &c.Value, &c.Sequence); err != nil {
			return nil, fmt.Errorf("scanning rule condition: %w", err)
		}
		c.Operator = model.Operator(op)
		out[c.RuleID] = append(out[c.RuleID], c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading rule conditions: %w", err)
	}
	return out, nil
}
