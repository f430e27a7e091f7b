package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/moneypipe/internal/model"
	"github.com/cleared-dev/moneypipe/internal/store"
)

const (
	primaryIBAN = "DE12345678901234567890"
	subIBAN     = "DE09876543210987654321"
)

type funcStage struct {
	name string
	fn   func(*model.Record) error
}

func (s funcStage) Name() string { return s.name }

func (s funcStage) Process(_ context.Context, rec *model.Record) error { return s.fn(rec) }

type countingRules struct {
	calls int
	rules []*model.Rule
	err   error
}

func (c *countingRules) ListRules(context.Context) ([]*model.Rule, error) {
	c.calls++
	return c.rules, c.err
}

func rentRule() *model.Rule {
	return &model.Rule{
		ID: 1, Name: "Rent", CategoryID: 7, LogicalOperator: model.LogicalAnd,
		Conditions: []model.Condition{{RuleID: 1, Field: model.FieldPurpose, Operator: model.OpContains, Value: "rent"}},
	}
}

func defaultOpts(src RuleSource) Options {
	return Options{
		PrimaryIBAN:    primaryIBAN,
		SubAccountIBAN: subIBAN,
		OwnedIBANs:     []string{primaryIBAN, subIBAN},
		Rules:          src,
	}
}

func TestDefault_Order(t *testing.T) {
	p := Default(defaultOpts(nil), zerolog.Nop())
	assert.Equal(t, []string{StageNormalize, StageHash, StageInternalTransfer, StageApplyRules}, p.Names())
}

func TestAddRemove(t *testing.T) {
	p := Default(defaultOpts(nil), zerolog.Nop())

	assert.True(t, p.Remove(StageHash))
	assert.False(t, p.Remove(StageHash))
	assert.Equal(t, []string{StageNormalize, StageInternalTransfer, StageApplyRules}, p.Names())

	p.Add(funcStage{name: "tag", fn: func(r *model.Record) error { return r.Set("tag", "x") }})
	assert.Equal(t, "tag", p.Names()[3])
}

func TestOnly_KeepsSelectedStages(t *testing.T) {
	p := Default(defaultOpts(StaticRules{rentRule()}), zerolog.Nop())

	only, err := p.Only(StageApplyRules, StageNormalize)
	require.NoError(t, err)
	assert.Equal(t, []string{StageNormalize, StageApplyRules}, only.Names(), "original order kept")
	assert.Len(t, p.Names(), 4, "source pipeline untouched")

	raw := model.RawRecord{model.FieldAmount: "-50,00", model.FieldPurpose: " Rent "}
	only.ProcessOne(context.Background(), model.NewRaw(raw))
	assert.Equal(t, int64(7), raw[model.FieldCategoryID])
	assert.NotContains(t, raw, model.FieldTransactionHash)
	assert.NotContains(t, raw, model.FieldIsInternalTransfer)

	_, err = p.Only("bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown stage "bogus"`)
}

func TestHashStage_EmptyHashIsMissing(t *testing.T) {
	p := Default(defaultOpts(nil), zerolog.Nop())
	raw := model.RawRecord{
		model.FieldBookingDate:     "2024-01-05",
		model.FieldAmount:          "-50,00",
		model.FieldPurpose:         "Rent",
		model.FieldTransactionHash: "",
	}
	p.ProcessOne(context.Background(), model.NewRaw(raw))
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), raw[model.FieldTransactionHash])
}

func TestProcessOne_EndToEnd(t *testing.T) {
	p := Default(defaultOpts(StaticRules{rentRule()}), zerolog.Nop())
	raw := model.RawRecord{
		model.FieldBookingDate: "2024-01-05",
		model.FieldAmount:      "-50,00",
		model.FieldPayee:       "Landlord",
		model.FieldPurpose:     "Rent January",
	}
	p.ProcessOne(context.Background(), model.NewRaw(raw))

	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), raw[model.FieldTransactionHash])
	assert.True(t, decimal.NewFromInt(-50).Equal(raw[model.FieldAmount].(decimal.Decimal)))
	assert.Equal(t, int64(7), raw[model.FieldCategoryID])
	assert.Equal(t, int64(1), raw[model.FieldRuleID])
	assert.Equal(t, false, raw[model.FieldIsInternalTransfer])
}

func TestProcessOne_HashStable(t *testing.T) {
	p := Default(defaultOpts(nil), zerolog.Nop())
	mk := func() model.RawRecord {
		return model.RawRecord{
			model.FieldBookingDate: "05.01.24",
			model.FieldAmount:      "-1.500,00",
			model.FieldPayee:       " Landlord ",
			model.FieldIBAN:        subIBAN,
		}
	}
	a, b := mk(), mk()
	p.ProcessOne(context.Background(), model.NewRaw(a))
	p.ProcessOne(context.Background(), model.NewRaw(b))
	assert.Equal(t, a[model.FieldTransactionHash], b[model.FieldTransactionHash])
	assert.Equal(t, primaryIBAN, a[model.FieldIBAN])
}

func TestProcessOne_InternalTransfer(t *testing.T) {
	p := Default(defaultOpts(nil), zerolog.Nop())
	raw := model.RawRecord{
		model.FieldIBAN:             primaryIBAN,
		model.FieldCounterpartyIBAN: subIBAN,
	}
	p.ProcessOne(context.Background(), model.NewRaw(raw))
	assert.Equal(t, true, raw[model.FieldIsInternalTransfer])
}

func TestProcessMany_FailingStageIsolated(t *testing.T) {
	p := New(zerolog.Nop(),
		funcStage{name: "upper", fn: func(r *model.Record) error { return r.Set("seen", true) }},
		funcStage{name: "broken", fn: func(r *model.Record) error {
			if v, _ := r.Text(model.FieldPayee); v == "bad" {
				_ = r.Set(model.FieldPayee, "half-written")
				return errors.New("boom")
			}
			return r.Set("broken_ran", true)
		}},
		funcStage{name: "panicky", fn: func(r *model.Record) error {
			if v, _ := r.Text(model.FieldPayee); v == "panic" {
				_ = r.Set("partial", 1)
				panic("kaboom")
			}
			return nil
		}},
		funcStage{name: "last", fn: func(r *model.Record) error { return r.Set("last", true) }},
	)

	good := model.RawRecord{model.FieldPayee: "good"}
	bad := model.RawRecord{model.FieldPayee: "bad"}
	panics := model.RawRecord{model.FieldPayee: "panic"}
	require.NoError(t, p.ProcessMany(context.Background(), []*model.Record{
		model.NewRaw(good), model.NewRaw(bad), model.NewRaw(panics),
	}))

	assert.Equal(t, true, good["broken_ran"])
	assert.Equal(t, true, good["last"])

	assert.Equal(t, "bad", bad[model.FieldPayee], "failed stage changes are rolled back")
	assert.NotContains(t, bad, "broken_ran")
	assert.Equal(t, true, bad["seen"])
	assert.Equal(t, true, bad["last"])

	assert.NotContains(t, panics, "partial")
	assert.Equal(t, true, panics["last"])
}

func TestProcessMany_Cancelled(t *testing.T) {
	p := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.ProcessMany(ctx, []*model.Record{model.NewRaw(nil)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestApplyRules_ReloadsPerBatch(t *testing.T) {
	src := &countingRules{}
	p := Default(defaultOpts(src), zerolog.Nop())
	ctx := context.Background()

	first := model.RawRecord{model.FieldPurpose: "Rent"}
	require.NoError(t, p.ProcessMany(ctx, []*model.Record{model.NewRaw(first), model.NewRaw(model.RawRecord{})}))
	assert.Equal(t, 1, src.calls)
	assert.NotContains(t, first, model.FieldCategoryID)

	src.rules = []*model.Rule{rentRule()}
	second := model.RawRecord{model.FieldPurpose: "Rent"}
	require.NoError(t, p.ProcessMany(ctx, []*model.Record{model.NewRaw(second)}))
	assert.Equal(t, 2, src.calls)
	assert.Equal(t, int64(7), second[model.FieldCategoryID])
}

func TestApplyRules_LoadFailureFailsClosed(t *testing.T) {
	src := &countingRules{rules: []*model.Rule{rentRule()}, err: errors.New("db gone")}
	p := Default(defaultOpts(src), zerolog.Nop())

	raw := model.RawRecord{model.FieldPurpose: "Rent"}
	p.ProcessOne(context.Background(), model.NewRaw(raw))
	assert.NotContains(t, raw, model.FieldCategoryID)
	assert.Contains(t, raw, model.FieldTransactionHash, "other stages still run")
}

func TestApplyRules_SkipsCategorized(t *testing.T) {
	p := Default(defaultOpts(StaticRules{rentRule()}), zerolog.Nop())
	cat := int64(3)
	txn := &model.Transaction{Purpose: "Rent", CategoryID: &cat, Hash: "kept"}
	p.ProcessOne(context.Background(), model.NewEntity(txn))
	assert.Equal(t, int64(3), *txn.CategoryID)
	assert.Nil(t, txn.RuleID)
	assert.Equal(t, "kept", txn.Hash)
}

func TestProcessPersisted(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, store.Config{DSN: filepath.Join(t.TempDir(), "db.sqlite")}, zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()

	rule := rentRule()
	rule.ID = 0
	rule.Conditions[0].RuleID = 0
	require.NoError(t, st.CreateRule(ctx, rule))

	rent := &model.Transaction{Purpose: " Rent March ", IBAN: subIBAN}
	other := &model.Transaction{Purpose: "Groceries", Hash: "fixed"}
	for _, txn := range []*model.Transaction{rent, other} {
		_, err := st.InsertTransaction(ctx, txn)
		require.NoError(t, err)
	}

	p := Default(Options{
		PrimaryIBAN:    primaryIBAN,
		SubAccountIBAN: subIBAN,
		Accounts:       st,
		Rules:          st,
	}, zerolog.Nop())
	n, err := p.ProcessPersisted(ctx, st, model.TransactionFilter{Uncategorized: true})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := st.GetTransaction(ctx, rent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rent March", got.Purpose)
	assert.Equal(t, primaryIBAN, got.IBAN)
	assert.Len(t, got.Hash, 32)
	require.NotNil(t, got.CategoryID)
	assert.Equal(t, int64(7), *got.CategoryID)
	assert.Equal(t, rule.ID, *got.RuleID)

	got, err = st.GetTransaction(ctx, other.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CategoryID)
	assert.Equal(t, "fixed", got.Hash)
}

func TestProcessPersisted_StorageFailure(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, store.Config{DSN: filepath.Join(t.TempDir(), "db.sqlite")}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Close())

	p := New(zerolog.Nop())
	_, err = p.ProcessPersisted(ctx, st, model.TransactionFilter{})
	var perr *model.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "process persisted", perr.Op)
}
