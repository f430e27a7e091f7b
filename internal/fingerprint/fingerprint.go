// Package fingerprint derives the duplicate-suppression key of a transaction.
package fingerprint

import (
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/cleared-dev/moneypipe/internal/model"
)

// Delimiter separates field values in the digest input.
const Delimiter = "|"

// Fields are always part of the fingerprint, in this order.
var Fields = []string{
	model.FieldBookingDate,
	model.FieldValueDate,
	model.FieldAmount,
	model.FieldPayee,
	model.FieldPayer,
	model.FieldPurpose,
	model.FieldTransactionType,
	model.FieldIBAN,
}

// CounterpartyFields are appended when counterparty data is included.
var CounterpartyFields = []string{
	model.FieldCounterpartyIBAN,
	model.FieldCreditorID,
	model.FieldMandateReference,
}

// Reader is satisfied by *model.Record.
type Reader interface {
	Text(field string) (string, bool)
}

// Hasher computes fingerprints over a fixed field list.
type Hasher struct {
	fields []string
}

// New returns a Hasher over Fields, plus CounterpartyFields when
// includeCounterparty is set.
func New(includeCounterparty bool) *Hasher {
	fields := append([]string(nil), Fields...)
	if includeCounterparty {
		fields = append(fields, CounterpartyFields...)
	}
	return &Hasher{fields: fields}
}

// Fields returns the fields hashed by h.
func (h *Hasher) Fields() []string {
	return append([]string(nil), h.fields...)
}

// Input returns the delimited string that Fingerprint digests. Missing
// fields contribute an empty string.
func (h *Hasher) Input(rec Reader) string {
	parts := make([]string, len(h.fields))
	for i, f := range h.fields {
		parts[i], _ = rec.Text(f)
	}
	return strings.Join(parts, Delimiter)
}

// Fingerprint returns the XXH3-128 digest of rec as 32 lowercase hex chars.
func (h *Hasher) Fingerprint(rec Reader) string {
	sum := xxh3.HashString128(h.Input(rec))
	return fmt.Sprintf("%016x%016x", sum.Hi, sum.Lo)
}
