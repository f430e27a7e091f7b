package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/cleared-dev/moneypipe/internal/model"
)

// CreateBankAccount registers an owned account. A second account with the
// same IBAN returns model.ErrDuplicate.
func (o *ops) CreateBankAccount(ctx context.Context, a *model.BankAccount) error {
	ts := o.timestamp()
	err := o.queryRow(ctx,
		`INSERT INTO bank_accounts (iban, name, description, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (iban) DO NOTHING
		RETURNING id`,
		strings.TrimSpace(a.IBAN), a.Name, a.Description, ts,
	).Scan(&a.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("bank account %s: %w", a.IBAN, model.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("inserting bank account: %w", err)
	}
	a.CreatedAt = parseTimestamp(ts)
	return nil
}

// ListBankAccounts returns all registered accounts ordered by id.
func (o *ops) ListBankAccounts(ctx context.Context) ([]model.BankAccount, error) {
	rows, err := o.query(ctx, `SELECT id, iban, name, description, created_at FROM bank_accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying bank accounts: %w", err)
	}
	defer rows.Close()

	var out []model.BankAccount
	for rows.Next() {
		var a model.BankAccount
		var created string
		if err := rows.Scan(&a.ID, &a.IBAN, &a.Name, &a.Description, &created); err != nil {
			return nil, fmt.Errorf("scanning bank account: %w", err)
		}
		a.CreatedAt = parseTimestamp(created)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading bank accounts: %w", err)
	}
	return out, nil
}
