package model

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// RawRecord is an untyped transaction as produced by an import adapter.
type RawRecord map[string]any

// Kind tells which representation a Record holds.
type Kind int

const (
	KindRaw Kind = iota
	KindEntity
)

func (k Kind) String() string {
	if k == KindEntity {
		return "entity"
	}
	return "raw"
}

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02T15:04:05"
)

// Record wraps either a RawRecord or a persisted Transaction. All field
// access goes through Get/Set so pipeline stages never branch on the shape.
type Record struct {
	kind   Kind
	raw    RawRecord
	entity *Transaction
}

// NewRaw wraps an import-time mapping. The map is mutated in place.
func NewRaw(m RawRecord) *Record {
	if m == nil {
		m = RawRecord{}
	}
	return &Record{kind: KindRaw, raw: m}
}

// NewEntity wraps a persisted transaction. The struct is mutated in place.
func NewEntity(t *Transaction) *Record {
	return &Record{kind: KindEntity, entity: t}
}

// Kind returns the representation held by r.
func (r *Record) Kind() Kind { return r.kind }

// Raw returns the wrapped mapping, or nil for entities.
func (r *Record) Raw() RawRecord { return r.raw }

// Get returns the value of field. ok is false when the field is absent or null.
func (r *Record) Get(field string) (any, bool) {
	if r.kind == KindRaw {
		v, ok := r.raw[field]
		if !ok || v == nil {
			return nil, false
		}
		return v, true
	}
	return r.entityGet(field)
}

func (r *Record) entityGet(field string) (any, bool) {
	t := r.entity
	switch field {
	case FieldID:
		return t.ID, t.ID != 0
	case FieldBookingDate:
		return derefTime(t.BookingDate)
	case FieldValueDate:
		return derefTime(t.ValueDate)
	case FieldStatus:
		return t.Status, true
	case FieldPayer:
		return t.Payer, true
	case FieldPayee:
		return t.Payee, true
	case FieldPurpose:
		return t.Purpose, true
	case FieldTransactionType:
		return t.TransactionType, true
	case FieldIBAN:
		return t.IBAN, true
	case FieldCounterpartyIBAN:
		return t.CounterpartyIBAN, true
	case FieldAmount:
		if t.AmountRaw != "" {
			return t.AmountRaw, true
		}
		return t.Amount, true
	case FieldCreditorID:
		return t.CreditorID, true
	case FieldMandateReference:
		return t.MandateReference, true
	case FieldCustomerReference:
		return t.CustomerReference, true
	case FieldCategoryID:
		return derefInt(t.CategoryID)
	case FieldRuleID:
		return derefInt(t.RuleID)
	case FieldTransactionHash:
		return t.Hash, t.Hash != ""
	case FieldIsInternalTransfer:
		return t.IsInternalTransfer, true
	case FieldImportBatch:
		return t.ImportBatch, t.ImportBatch != ""
	}
	return nil, false
}

// Set stores v under field. Entities reject unknown fields and values of the
// wrong type; raw records accept anything.
func (r *Record) Set(field string, v any) error {
	if r.kind == KindRaw {
		r.raw[field] = v
		return nil
	}
	return r.entitySet(field, v)
}

func (r *Record) entitySet(field string, v any) error {
	t := r.entity
	var err error
	switch field {
	case FieldBookingDate:
		t.BookingDate, err = toTime(v)
	case FieldValueDate:
		t.ValueDate, err = toTime(v)
	case FieldStatus:
		t.Status, err = toString(v)
	case FieldPayer:
		t.Payer, err = toString(v)
	case FieldPayee:
		t.Payee, err = toString(v)
	case FieldPurpose:
		t.Purpose, err = toString(v)
	case FieldTransactionType:
		t.TransactionType, err = toString(v)
	case FieldIBAN:
		t.IBAN, err = toString(v)
	case FieldCounterpartyIBAN:
		t.CounterpartyIBAN, err = toString(v)
	case FieldCreditorID:
		t.CreditorID, err = toString(v)
	case FieldMandateReference:
		t.MandateReference, err = toString(v)
	case FieldCustomerReference:
		t.CustomerReference, err = toString(v)
	case FieldTransactionHash:
		t.Hash, err = toString(v)
	case FieldImportBatch:
		t.ImportBatch, err = toString(v)
	case FieldAmount:
		err = setAmount(t, v)
	case FieldCategoryID:
		t.CategoryID, err = toInt(v)
	case FieldRuleID:
		t.RuleID, err = toInt(v)
	case FieldIsInternalTransfer:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("field %s: expected bool, got %T", field, v)
		}
		t.IsInternalTransfer = b
	default:
		return fmt.Errorf("unknown transaction field %q", field)
	}
	if err != nil {
		return fmt.Errorf("field %s: %w", field, err)
	}
	return nil
}

// Text returns the string form of field used for comparisons and hashing.
func (r *Record) Text(field string) (string, bool) {
	v, ok := r.Get(field)
	if !ok {
		return "", false
	}
	return FormatValue(v), true
}

// Clone returns an independent copy of r.
func (r *Record) Clone() *Record {
	if r.kind == KindRaw {
		m := make(RawRecord, len(r.raw))
		for k, v := range r.raw {
			m[k] = v
		}
		return &Record{kind: KindRaw, raw: m}
	}
	cp := *r.entity
	cp.BookingDate = copyTime(r.entity.BookingDate)
	cp.ValueDate = copyTime(r.entity.ValueDate)
	cp.CategoryID = copyInt(r.entity.CategoryID)
	cp.RuleID = copyInt(r.entity.RuleID)
	return &Record{kind: KindEntity, entity: &cp}
}

// Restore overwrites r with the contents of a snapshot taken by Clone. The
// underlying map or struct keeps its identity.
func (r *Record) Restore(snapshot *Record) {
	if r.kind != snapshot.kind {
		return
	}
	if r.kind == KindRaw {
		for k := range r.raw {
			delete(r.raw, k)
		}
		for k, v := range snapshot.raw {
			r.raw[k] = v
		}
		return
	}
	*r.entity = *snapshot.Clone().entity
}

// ToTransaction converts r into a Transaction. For raw records it also
// returns the keys that do not correspond to a transaction field.
func (r *Record) ToTransaction() (*Transaction, []string) {
	if r.kind == KindEntity {
		return r.entity, nil
	}
	t := &Transaction{}
	target := NewEntity(t)
	var unknown []string
	for k, v := range r.raw {
		if v == nil {
			continue
		}
		if err := target.Set(k, coerce(k, v)); err != nil {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	return t, unknown
}

// FormatValue renders a field value the way conditions and fingerprints see it.
func FormatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case time.Time:
		return FormatDate(x)
	case *time.Time:
		if x == nil {
			return ""
		}
		return FormatDate(*x)
	case decimal.Decimal:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// FormatDate renders date-only values as 2006-01-02 and timestamps with their time.
func FormatDate(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(dateLayout)
	}
	return t.Format(timestampLayout)
}

// ParseStoredDate reverses FormatDate.
func ParseStoredDate(s string) (time.Time, error) {
	if len(s) > len(dateLayout) {
		return time.Parse(timestampLayout, s)
	}
	return time.Parse(dateLayout, s)
}

// coerce adapts raw values of non-string kinds to what entitySet accepts.
func coerce(field string, v any) any {
	switch field {
	case FieldAmount:
		switch x := v.(type) {
		case float64:
			return decimal.NewFromFloat(x)
		case int:
			return decimal.NewFromInt(int64(x))
		case int64:
			return decimal.NewFromInt(x)
		}
		return v
	case FieldBookingDate, FieldValueDate:
		if s, ok := v.(string); ok {
			t, err := ParseStoredDate(s)
			if err != nil {
				return nil
			}
			return t
		}
		return v
	case FieldCategoryID, FieldRuleID, FieldIsInternalTransfer:
		return v
	}
	if _, ok := v.(string); ok {
		return v
	}
	return FormatValue(v)
}

func setAmount(t *Transaction, v any) error {
	switch x := v.(type) {
	case decimal.Decimal:
		t.Amount = x
		t.AmountRaw = ""
	case string:
		t.Amount = decimal.Zero
		t.AmountRaw = x
	case nil:
		t.Amount = decimal.Zero
		t.AmountRaw = ""
	default:
		return fmt.Errorf("expected decimal or string, got %T", v)
	}
	return nil
}

func toString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case nil:
		return "", nil
	}
	return "", fmt.Errorf("expected string, got %T", v)
}

func toTime(v any) (*time.Time, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &x, nil
	case *time.Time:
		return copyTime(x), nil
	}
	return nil, fmt.Errorf("expected time, got %T", v)
}

func toInt(v any) (*int64, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case int64:
		return &x, nil
	case *int64:
		return copyInt(x), nil
	case int:
		n := int64(x)
		return &n, nil
	}
	return nil, fmt.Errorf("expected integer, got %T", v)
}

func derefTime(t *time.Time) (any, bool) {
	if t == nil {
		return nil, false
	}
	return *t, true
}

func derefInt(n *int64) (any, bool) {
	if n == nil {
		return nil, false
	}
	return *n, true
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func copyInt(n *int64) *int64 {
	if n == nil {
		return nil
	}
	cp := *n
	return &cp
}
