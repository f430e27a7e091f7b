// Package normalize cleans raw statement values into canonical form: dates,
// amounts, free text and the sub-account IBAN alias.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/moneypipe/internal/model"
)

const timestampLayout = "2006-01-02T15:04:05"

// dateLayouts are tried in order for values without a time part.
var dateLayouts = []string{"02.01.06", "02.01.2006", "2006-01-02"}

// TextFields are trimmed of surrounding whitespace.
var TextFields = []string{
	model.FieldPayer,
	model.FieldPayee,
	model.FieldPurpose,
	model.FieldStatus,
	model.FieldTransactionType,
	model.FieldCreditorID,
	model.FieldMandateReference,
	model.FieldCustomerReference,
}

// ParseDate parses a statement date. A "T" marks a timestamp; anything else
// is read as a date. Returns nil when s matches no known layout.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if strings.Contains(s, "T") {
		t, err := time.Parse(timestampLayout, s)
		if err != nil {
			return nil
		}
		return &t
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// ParseAmount parses a German-formatted amount: "." groups thousands and ","
// separates decimals, so "-1.234,56" reads as -1234.56.
func ParseAmount(s string) (decimal.Decimal, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '.':
			return -1
		case ',':
			return '.'
		}
		return r
	}, s)
	if clean == "" {
		return decimal.Zero, fmt.Errorf("parsing amount %q: empty", s)
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return d, nil
}

// CanonicalIBAN uppercases an IBAN and strips all whitespace.
func CanonicalIBAN(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

// Normalizer applies all cleaning steps to one record.
type Normalizer struct {
	primaryIBAN string
	subIBAN     string
	log         zerolog.Logger
}

// NewNormalizer creates a Normalizer that rewrites subIBAN to primaryIBAN.
// Aliasing is disabled when either is empty.
func NewNormalizer(primaryIBAN, subIBAN string, log zerolog.Logger) *Normalizer {
	return &Normalizer{
		primaryIBAN: strings.TrimSpace(primaryIBAN),
		subIBAN:     CanonicalIBAN(subIBAN),
		log:         log.With().Str("component", "normalize").Logger(),
	}
}

// Normalize cleans rec in place. Malformed values never fail the record:
// bad dates become null and bad amounts keep their original text.
func (n *Normalizer) Normalize(rec *model.Record) error {
	for _, f := range TextFields {
		if err := n.trim(rec, f); err != nil {
			return err
		}
	}
	for _, f := range []string{model.FieldBookingDate, model.FieldValueDate} {
		if err := n.date(rec, f); err != nil {
			return err
		}
	}
	if err := n.amount(rec); err != nil {
		return err
	}
	return n.alias(rec)
}

func (n *Normalizer) trim(rec *model.Record, field string) error {
	v, ok := rec.Get(field)
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	if trimmed := strings.TrimSpace(s); trimmed != s {
		return rec.Set(field, trimmed)
	}
	return nil
}

func (n *Normalizer) date(rec *model.Record, field string) error {
	v, ok := rec.Get(field)
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	t := ParseDate(s)
	if t == nil {
		n.log.Warn().Str("field", field).Str("value", s).Msg("unparsable date, clearing")
		return rec.Set(field, nil)
	}
	return rec.Set(field, *t)
}

func (n *Normalizer) amount(rec *model.Record) error {
	v, ok := rec.Get(model.FieldAmount)
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	d, err := ParseAmount(s)
	if err != nil {
		n.log.Warn().Err(err).Msg("keeping original amount")
		return nil
	}
	return rec.Set(model.FieldAmount, d)
}

func (n *Normalizer) alias(rec *model.Record) error {
	if n.primaryIBAN == "" || n.subIBAN == "" {
		return nil
	}
	iban, ok := rec.Text(model.FieldIBAN)
	if !ok || CanonicalIBAN(iban) != n.subIBAN {
		return nil
	}
	return rec.Set(model.FieldIBAN, n.primaryIBAN)
}
