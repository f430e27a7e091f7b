package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/moneypipe/internal/model"
)

const transactionColumns = `id, booking_date, value_date, status, payer, payee, purpose,
	transaction_type, iban, counterparty_iban, amount, amount_raw, creditor_id,
	mandate_reference, customer_reference, category_id, rule_id, transaction_hash,
	is_internal_transfer, import_batch`

// InsertTransaction stores t and sets its ID. It reports false without error
// when a row with the same transaction hash already exists.
func (o *ops) InsertTransaction(ctx context.Context, t *model.Transaction) (bool, error) {
	const q = `INSERT INTO transactions (booking_date, value_date, status, payer, payee,
		purpose, transaction_type, iban, counterparty_iban, amount, amount_raw, creditor_id,
		mandate_reference, customer_reference, category_id, rule_id, transaction_hash,
		is_internal_transfer, import_batch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (transaction_hash) DO NOTHING
		RETURNING id`

	err := o.queryRow(ctx, q,
		dateValue(t.BookingDate), dateValue(t.ValueDate), t.Status, t.Payer, t.Payee,
		t.Purpose, t.TransactionType, t.IBAN, t.CounterpartyIBAN, t.Amount, t.AmountRaw,
		t.CreditorID, t.MandateReference, t.CustomerReference, nullInt(t.CategoryID),
		nullInt(t.RuleID), nullString(t.Hash), t.IsInternalTransfer, t.ImportBatch,
	).Scan(&t.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inserting transaction: %w", err)
	}
	return true, nil
}

// HashExists reports whether a transaction with hash is stored.
func (o *ops) HashExists(ctx context.Context, hash string) (bool, error) {
	var n int
	err := o.queryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE transaction_hash = ?`, hash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking transaction hash: %w", err)
	}
	return n > 0, nil
}

// GetTransaction returns one transaction by id.
func (o *ops) GetTransaction(ctx context.Context, id int64) (*model.Transaction, error) {
	rows, err := o.ListTransactions(ctx, model.TransactionFilter{IDs: []int64{id}})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("transaction %d: %w", id, model.ErrNotFound)
	}
	return rows[0], nil
}

// ListTransactions returns the transactions selected by f, ordered by id.
// All rows are read before returning so callers may update them within the
// same transaction.
func (o *ops) ListTransactions(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, error) {
	var where []string
	var args []any
	if len(f.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	if f.RuleID != nil {
		where = append(where, "rule_id = ?")
		args = append(args, *f.RuleID)
	}
	if f.CategoryID != nil {
		where = append(where, "category_id = ?")
		args = append(args, *f.CategoryID)
	}
	if f.Uncategorized {
		where = append(where, "category_id IS NULL")
	}
	if f.Categorized {
		where = append(where, "category_id IS NOT NULL")
	}
	// dates are stored as 2006-01-02 or 2006-01-02T15:04:05, which sort lexically
	if f.StartDate != nil {
		where = append(where, "booking_date >= ?")
		args = append(args, f.StartDate.Format(time.DateOnly))
	}
	if f.EndDate != nil {
		where = append(where, "booking_date < ?")
		args = append(args, f.EndDate.AddDate(0, 0, 1).Format(time.DateOnly))
	}
	if f.MissingHash {
		where = append(where, "(transaction_hash IS NULL OR transaction_hash = '')")
	}

	q := "SELECT " + transactionColumns + " FROM transactions"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"

	rows, err := o.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	var out []*model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		if !f.AmountInRange(t) {
			continue
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading transactions: %w", err)
	}
	return out, nil
}

// UpdateTransaction writes every mutable column of t.
func (o *ops) UpdateTransaction(ctx context.Context, t *model.Transaction) error {
	const q = `UPDATE transactions SET booking_date = ?, value_date = ?, status = ?, payer = ?,
		payee = ?, purpose = ?, transaction_type = ?, iban = ?, counterparty_iban = ?,
		amount = ?, amount_raw = ?, creditor_id = ?, mandate_reference = ?,
		customer_reference = ?, category_id = ?, rule_id = ?, transaction_hash = ?,
		is_internal_transfer = ?, import_batch = ?
		WHERE id = ?`

	res, err := o.exec(ctx, q,
		dateValue(t.BookingDate), dateValue(t.ValueDate), t.Status, t.Payer, t.Payee,
		t.Purpose, t.TransactionType, t.IBAN, t.CounterpartyIBAN, t.Amount, t.AmountRaw,
		t.CreditorID, t.MandateReference, t.CustomerReference, nullInt(t.CategoryID),
		nullInt(t.RuleID), nullString(t.Hash), t.IsInternalTransfer, t.ImportBatch, t.ID,
	)
	if err != nil {
		return fmt.Errorf("updating transaction %d: %w", t.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("transaction %d: %w", t.ID, model.ErrNotFound)
	}
	return nil
}

// ClearRuleAttribution detaches every transaction from ruleID. With
// keepCategory the category stays; otherwise it is cleared too. Returns the
// number of rows changed.
func (o *ops) ClearRuleAttribution(ctx context.Context, ruleID int64, keepCategory bool) (int64, error) {
	q := `UPDATE transactions SET rule_id = NULL, category_id = NULL WHERE rule_id = ?`
	if keepCategory {
		q = `UPDATE transactions SET rule_id = NULL WHERE rule_id = ?`
	}
	res, err := o.exec(ctx, q, ruleID)
	if err != nil {
		return 0, fmt.Errorf("clearing rule %d attribution: %w", ruleID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clearing rule %d attribution: %w", ruleID, err)
	}
	return n, nil
}

// CountTransactions returns the number of stored transactions.
func (o *ops) CountTransactions(ctx context.Context) (int, error) {
	var n int
	if err := o.queryRow(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting transactions: %w", err)
	}
	return n, nil
}

func scanTransaction(rows *sql.Rows) (*model.Transaction, error) {
	var (
		t                  model.Transaction
		booking, valueDate sql.NullString
		categoryID, ruleID sql.NullInt64
		hash               sql.NullString
		amount             decimal.Decimal
	)
	err := rows.Scan(&t.ID, &booking, &valueDate, &t.Status, &t.Payer, &t.Payee, &t.Purpose,
		&t.TransactionType, &t.IBAN, &t.CounterpartyIBAN, &amount, &t.AmountRaw,
		&t.CreditorID, &t.MandateReference, &t.CustomerReference, &categoryID, &ruleID,
		&hash, &t.IsInternalTransfer, &t.ImportBatch)
	if err != nil {
		return nil, fmt.Errorf("scanning transaction: %w", err)
	}
	t.BookingDate = parseDate(booking)
	t.ValueDate = parseDate(valueDate)
	t.Amount = amount
	t.CategoryID = intPtr(categoryID)
	t.RuleID = intPtr(ruleID)
	t.Hash = hash.String
	return &t, nil
}

func dateValue(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: model.FormatDate(*t), Valid: true}
}

func parseDate(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := model.ParseStoredDate(s.String)
	if err != nil {
		return nil
	}
	return &t
}
