package model

import "time"

// LogicalOperator combines the conditions of a rule.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// Operator compares a record field against a condition value.
type Operator string

const (
	OpEquals     Operator = "equals"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
)

// Rule maps transactions matching its conditions to one category.
type Rule struct {
	ID              int64
	Name            string
	CategoryID      int64
	LogicalOperator LogicalOperator
	Conditions      []Condition
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Condition is a single predicate of a rule.
type Condition struct {
	ID       int64
	RuleID   int64
	Field    string
	Operator Operator
	Value    string
	Sequence int // display order only
}
