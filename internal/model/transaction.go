package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Field names shared by raw records, rule conditions and the fingerprint.
const (
	FieldID                 = "id"
	FieldBookingDate        = "booking_date"
	FieldValueDate          = "value_date"
	FieldStatus             = "status"
	FieldPayer              = "payer"
	FieldPayee              = "payee"
	FieldPurpose            = "purpose"
	FieldTransactionType    = "transaction_type"
	FieldIBAN               = "iban"
	FieldCounterpartyIBAN   = "counterparty_iban"
	FieldAmount             = "amount"
	FieldCreditorID         = "creditor_id"
	FieldMandateReference   = "mandate_reference"
	FieldCustomerReference  = "customer_reference"
	FieldCategoryID         = "category_id"
	FieldRuleID             = "rule_id"
	FieldTransactionHash    = "transaction_hash"
	FieldIsInternalTransfer = "is_internal_transfer"
	FieldImportBatch        = "import_batch"
)

// Transaction is a persisted bank transaction.
type Transaction struct {
	ID                 int64
	BookingDate        *time.Time
	ValueDate          *time.Time
	Status             string
	Payer              string
	Payee              string
	Purpose            string
	TransactionType    string
	IBAN               string
	CounterpartyIBAN   string
	Amount             decimal.Decimal
	AmountRaw          string // original text when Amount could not be parsed
	CreditorID         string
	MandateReference   string
	CustomerReference  string
	CategoryID         *int64
	RuleID             *int64
	Hash               string // empty = not fingerprinted yet
	IsInternalTransfer bool
	ImportBatch        string
}

// ClearCategorization removes the category and the rule that assigned it.
func (t *Transaction) ClearCategorization() {
	t.CategoryID = nil
	t.RuleID = nil
}

// Categorize assigns a category on behalf of a rule.
func (t *Transaction) Categorize(categoryID, ruleID int64) {
	t.CategoryID = &categoryID
	t.RuleID = &ruleID
}

// IsCategorized reports whether a category is set.
func (t *Transaction) IsCategorized() bool {
	return t.CategoryID != nil
}

// TransactionFilter selects persisted transactions. Zero value selects all.
type TransactionFilter struct {
	IDs           []int64
	RuleID        *int64
	CategoryID    *int64
	Uncategorized bool
	Categorized   bool
	MissingHash   bool
	// Booking date bounds, inclusive by calendar day. Rows without a booking
	// date never match a bound.
	StartDate *time.Time
	EndDate   *time.Time
	// Amount bounds, inclusive. Rows whose amount could not be parsed never
	// match a bound.
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
}

// AmountInRange reports whether t satisfies the amount bounds of f.
func (f TransactionFilter) AmountInRange(t *Transaction) bool {
	if f.MinAmount == nil && f.MaxAmount == nil {
		return true
	}
	if t.AmountRaw != "" {
		return false
	}
	if f.MinAmount != nil && t.Amount.LessThan(*f.MinAmount) {
		return false
	}
	if f.MaxAmount != nil && t.Amount.GreaterThan(*f.MaxAmount) {
		return false
	}
	return true
}
