package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/cleared-dev/moneypipe/internal/model"
)

// DKBParser parses DKB giro account exports: semicolon separated, the
// account IBAN in the first metadata row and the column header on line 5.
type DKBParser struct{}

const (
	dkbHeaderRow  = 4
	dkbColIBAN    = 1
	dkbColAmount  = "Betrag (€)"
	dkbColBooking = "Buchungsdatum"
)

// dkbColumns maps export headers to record fields. Values are passed on
// verbatim; dates and amounts are normalized by the pipeline.
var dkbColumns = map[string]string{
	dkbColBooking:          model.FieldBookingDate,
	"Wertstellung":         model.FieldValueDate,
	"Status":               model.FieldStatus,
	"Zahlungspflichtige*r": model.FieldPayer,
	"Zahlungsempfänger*in": model.FieldPayee,
	"Verwendungszweck":     model.FieldPurpose,
	"Umsatztyp":            model.FieldTransactionType,
	"IBAN":                 model.FieldCounterpartyIBAN,
	dkbColAmount:           model.FieldAmount,
	"Gläubiger-ID":         model.FieldCreditorID,
	"Mandatsreferenz":      model.FieldMandateReference,
	"Kundenreferenz":       model.FieldCustomerReference,
}

// Format returns the parser name.
func (p *DKBParser) Format() string { return "dkb" }

// Parse reads a DKB export. Every record carries the statement IBAN as its
// own iban.
func (p *DKBParser) Parse(r io.Reader) (*Statement, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading dkb CSV: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\ufeff"))

	// metadata rows are counted by physical line
	lines := strings.SplitN(string(data), "\n", dkbHeaderRow+1)
	if len(lines) <= dkbHeaderRow {
		return nil, fmt.Errorf("dkb CSV has %d lines, expected metadata and a header", len(lines))
	}
	meta, err := readDKB(strings.TrimRight(lines[0], "\r"))
	if err != nil {
		return nil, fmt.Errorf("reading dkb metadata: %w", err)
	}
	if len(meta) == 0 || len(meta[0]) <= dkbColIBAN {
		return nil, fmt.Errorf("dkb CSV: no account IBAN in first row")
	}
	st := &Statement{AccountIBAN: strings.TrimSpace(meta[0][dkbColIBAN])}

	rows, err := readDKB(lines[dkbHeaderRow])
	if err != nil {
		return nil, fmt.Errorf("reading dkb CSV: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("dkb CSV: missing header")
	}

	header := rows[0]
	cols := make(map[int]string, len(header))
	hasAmount := false
	for i, h := range header {
		h = strings.TrimSpace(h)
		if field, ok := dkbColumns[h]; ok {
			cols[i] = field
			hasAmount = hasAmount || h == dkbColAmount
		}
	}
	if !hasAmount {
		return nil, fmt.Errorf("dkb CSV: missing %q column", dkbColAmount)
	}

	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		if len(row) != len(header) {
			return nil, fmt.Errorf("row %d: expected %d fields, got %d", i+dkbHeaderRow+2, len(header), len(row))
		}
		rec := model.RawRecord{model.FieldIBAN: st.AccountIBAN}
		for idx, field := range cols {
			rec[field] = row[idx]
		}
		st.Records = append(st.Records, rec)
	}
	return st, nil
}

func readDKB(text string) ([][]string, error) {
	cr := csv.NewReader(strings.NewReader(text))
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr.ReadAll()
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
