package rules

import (
	"fmt"
	"strings"

	"github.com/cleared-dev/moneypipe/internal/model"
)

var conditionFields = map[string]bool{
	model.FieldID:                 true,
	model.FieldBookingDate:        true,
	model.FieldValueDate:          true,
	model.FieldStatus:             true,
	model.FieldPayer:              true,
	model.FieldPayee:              true,
	model.FieldPurpose:            true,
	model.FieldTransactionType:    true,
	model.FieldIBAN:               true,
	model.FieldCounterpartyIBAN:   true,
	model.FieldAmount:             true,
	model.FieldCreditorID:         true,
	model.FieldMandateReference:   true,
	model.FieldCustomerReference:  true,
	model.FieldCategoryID:         true,
	model.FieldRuleID:             true,
	model.FieldTransactionHash:    true,
	model.FieldIsInternalTransfer: true,
	model.FieldImportBatch:        true,
}

// ValidateRule checks that a rule is complete before it is stored. An empty
// logical operator is normalized to AND. All violations are returned together
// as model.ValidationErrors.
func ValidateRule(r *model.Rule) error {
	var errs model.ValidationErrors

	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, model.ValidationError{Field: "name", Message: "is required"})
	}
	if r.CategoryID <= 0 {
		errs = append(errs, model.ValidationError{Field: "category_id", Message: "is required"})
	}

	switch r.LogicalOperator {
	case "":
		r.LogicalOperator = model.LogicalAnd
	case model.LogicalAnd, model.LogicalOr:
	default:
		errs = append(errs, model.ValidationError{
			Field:   "logical_operator",
			Message: fmt.Sprintf("must be AND or OR, got %q", r.LogicalOperator),
		})
	}

	for i, c := range r.Conditions {
		prefix := fmt.Sprintf("conditions[%d]", i)
		if c.Field == "" {
			errs = append(errs, model.ValidationError{Field: prefix + ".field", Message: "is required"})
		} else if !conditionFields[c.Field] {
			errs = append(errs, model.ValidationError{Field: prefix + ".field", Message: fmt.Sprintf("unknown field %q", c.Field)})
		}
		switch c.Operator {
		case "":
			errs = append(errs, model.ValidationError{Field: prefix + ".operator", Message: "is required"})
		case model.OpEquals, model.OpContains, model.OpStartsWith, model.OpEndsWith:
		default:
			errs = append(errs, model.ValidationError{Field: prefix + ".operator", Message: fmt.Sprintf("unknown operator %q", c.Operator)})
		}
		if c.Value == "" {
			errs = append(errs, model.ValidationError{Field: prefix + ".value", Message: "is required"})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
