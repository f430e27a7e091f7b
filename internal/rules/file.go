package rules

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cleared-dev/moneypipe/internal/model"
)

// File is the on-disk layout of rules/categorization-rules.yaml.
type File struct {
	Rules []FileRule `yaml:"rules"`
}

// FileRule is one rule entry in a rules file.
type FileRule struct {
	Name            string          `yaml:"name"`
	CategoryID      int64           `yaml:"category_id"`
	LogicalOperator string          `yaml:"logical_operator,omitempty"`
	Conditions      []FileCondition `yaml:"conditions"`
}

// FileCondition is one condition of a FileRule.
type FileCondition struct {
	Field    string `yaml:"field"`
	Operator string `yaml:"operator"`
	Value    string `yaml:"value"`
}

// DefaultFile is the rules file path relative to the project root.
const DefaultFile = "rules/categorization-rules.yaml"

// LoadFile reads and validates a rules file.
func LoadFile(path string) ([]*model.Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening rules file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a rules document. Condition sequence follows document order.
func Parse(r io.Reader) ([]*model.Rule, error) {
	var doc File
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}

	out := make([]*model.Rule, 0, len(doc.Rules))
	for i, fr := range doc.Rules {
		rule := fr.toRule()
		if err := ValidateRule(rule); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i+1, fr.Name, err)
		}
		out = append(out, rule)
	}
	return out, nil
}

func (fr FileRule) toRule() *model.Rule {
	rule := &model.Rule{
		Name:            fr.Name,
		CategoryID:      fr.CategoryID,
		LogicalOperator: model.LogicalOperator(fr.LogicalOperator),
	}
	for i, fc := range fr.Conditions {
		rule.Conditions = append(rule.Conditions, model.Condition{
			Field:    fc.Field,
			Operator: model.Operator(fc.Operator),
			Value:    fc.Value,
			Sequence: i,
		})
	}
	return rule
}

// Marshal renders rules in the rules file layout.
func Marshal(rs []*model.Rule) ([]byte, error) {
	doc := File{Rules: make([]FileRule, 0, len(rs))}
	for _, r := range rs {
		fr := FileRule{Name: r.Name, CategoryID: r.CategoryID, LogicalOperator: string(r.LogicalOperator)}
		for _, c := range r.Conditions {
			fr.Conditions = append(fr.Conditions, FileCondition{Field: c.Field, Operator: string(c.Operator), Value: c.Value})
		}
		doc.Rules = append(doc.Rules, fr)
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling rules: %w", err)
	}
	return data, nil
}
