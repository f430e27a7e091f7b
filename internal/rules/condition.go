package rules

import (
	"strings"

	"github.com/cleared-dev/moneypipe/internal/model"
)

// FieldReader exposes the string form of a record field.
// *model.Record implements it.
type FieldReader interface {
	Text(field string) (string, bool)
}

// EvaluateCondition reports whether rec satisfies c. A missing field or an
// unknown operator never matches. Both sides compare case-insensitively.
func EvaluateCondition(rec FieldReader, c model.Condition) bool {
	text, ok := rec.Text(c.Field)
	if !ok {
		return false
	}
	got := strings.ToLower(text)
	want := strings.ToLower(c.Value)

	switch c.Operator {
	case model.OpEquals:
		return got == want
	case model.OpContains:
		return strings.Contains(got, want)
	case model.OpStartsWith:
		return strings.HasPrefix(got, want)
	case model.OpEndsWith:
		return strings.HasSuffix(got, want)
	}
	return false
}
