package model

import "time"

// BankAccount is an account owned by the user. Its IBAN joins the owned set
// used for internal-transfer detection.
type BankAccount struct {
	ID          int64
	IBAN        string
	Name        string
	Description string
	CreatedAt   time.Time
}
