package fingerprint

import (
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/moneypipe/internal/model"
)

var hexDigest = regexp.MustCompile(`^[0-9a-f]{32}$`)

func sample() model.RawRecord {
	return model.RawRecord{
		model.FieldBookingDate:      time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		model.FieldAmount:           decimal.RequireFromString("-50.00"),
		model.FieldPayee:            "Landlord",
		model.FieldPurpose:          "Rent January",
		model.FieldCounterpartyIBAN: "DE00111122223333444455",
	}
}

func TestInput(t *testing.T) {
	h := New(false)
	assert.Equal(t, "2024-01-05||-50|Landlord||Rent January||", h.Input(model.NewRaw(sample())))
}

func TestFingerprint_Stable(t *testing.T) {
	h := New(false)
	first := h.Fingerprint(model.NewRaw(sample()))
	assert.Regexp(t, hexDigest, first)

	for i := 0; i < 5; i++ {
		assert.Equal(t, first, h.Fingerprint(model.NewRaw(sample())))
	}
}

func TestFingerprint_RawAndEntityAgree(t *testing.T) {
	h := New(false)
	raw := model.NewRaw(sample())
	txn, _ := raw.ToTransaction()
	assert.Equal(t, h.Fingerprint(raw), h.Fingerprint(model.NewEntity(txn)))
}

func TestFingerprint_FieldChangesDigest(t *testing.T) {
	h := New(false)
	base := h.Fingerprint(model.NewRaw(sample()))

	changed := sample()
	changed[model.FieldPurpose] = "Rent February"
	assert.NotEqual(t, base, h.Fingerprint(model.NewRaw(changed)))
}

func TestFingerprint_Counterparty(t *testing.T) {
	other := sample()
	other[model.FieldCounterpartyIBAN] = "DE99999999999999999999"

	without := New(false)
	assert.Equal(t,
		without.Fingerprint(model.NewRaw(sample())),
		without.Fingerprint(model.NewRaw(other)),
		"counterparty is ignored by default")

	with := New(true)
	require.Len(t, with.Fields(), 11)
	assert.NotEqual(t,
		with.Fingerprint(model.NewRaw(sample())),
		with.Fingerprint(model.NewRaw(other)))
}
