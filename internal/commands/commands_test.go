package commands

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/moneypipe/internal/config"
	"github.com/cleared-dev/moneypipe/internal/importlog"
	"github.com/cleared-dev/moneypipe/internal/model"
	"github.com/cleared-dev/moneypipe/internal/store"
)

const (
	statementIBAN = "DE12345678901234567890"
	savingsIBAN   = "DE09876543210987654321"
)

const rulesYAML = `rules:
  - name: Rent
    category_id: 7
    conditions:
      - field: purpose
        operator: contains
        value: rent
`

func runMoneypipe(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func newProject(t *testing.T) string {
	t.Helper()
	for _, k := range []string{config.EnvPrimaryIBAN, config.EnvSubAccountIBAN, config.EnvDBDriver, config.EnvDBDSN, config.EnvLogLevel, config.EnvLogPretty, config.EnvIncludeCounterparty} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	_, err := runMoneypipe(t, "init", dir)
	require.NoError(t, err)
	return dir
}

func copyStatement(t *testing.T, dst string) {
	t.Helper()
	data, err := os.ReadFile("../../testdata/dkb_statement.csv")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dst, data, 0o644))
}

// storedByAmount reads the project database and indexes transactions by
// amount, which is unique in the sample statement.
func storedByAmount(t *testing.T, dir string) map[string]*model.Transaction {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, store.Config{DSN: filepath.Join(dir, "data", "moneypipe.db")}, zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()

	txs, err := st.ListTransactions(ctx, model.TransactionFilter{})
	require.NoError(t, err)
	out := make(map[string]*model.Transaction, len(txs))
	for _, txn := range txs {
		out[txn.Amount.StringFixed(2)] = txn
	}
	return out
}

func TestInit_CreatesStructure(t *testing.T) {
	dir := newProject(t)

	for _, d := range []string{"rules", "logs", "data", "import", filepath.Join("import", "processed")} {
		info, err := os.Stat(filepath.Join(dir, d))
		require.NoError(t, err, "directory %s should exist", d)
		assert.True(t, info.IsDir(), "%s should be a directory", d)
	}

	cfg, err := config.Load(filepath.Join(dir, config.FileName))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	data, err := os.ReadFile(filepath.Join(dir, "rules", "categorization-rules.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "rules: []\n", string(data))
}

func TestInit_IBANFlags(t *testing.T) {
	dir := t.TempDir()
	_, err := runMoneypipe(t, "init", dir, "--primary-iban", "DE11", "--sub-account-iban", "DE22")
	require.NoError(t, err)

	cfg, err := config.Load(filepath.Join(dir, config.FileName))
	require.NoError(t, err)
	assert.Equal(t, "DE11", cfg.Accounts.PrimaryIBAN)
	assert.Equal(t, "DE22", cfg.Accounts.SubAccountIBAN)
}

func TestInit_RefusesExistingProject(t *testing.T) {
	dir := newProject(t)
	_, err := runMoneypipe(t, "init", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestImport_ScanAndDedupe(t *testing.T) {
	dir := newProject(t)
	copyStatement(t, filepath.Join(dir, "import", "jan.csv"))

	out, err := runMoneypipe(t, "--repo", dir, "import")
	require.NoError(t, err)
	assert.Contains(t, out, "jan.csv: 5 received, 5 inserted, 0 duplicates")

	_, err = os.Stat(filepath.Join(dir, "import", "processed", "jan.csv"))
	require.NoError(t, err, "scanned file moved to processed/")

	out, err = runMoneypipe(t, "--repo", dir, "import", filepath.Join(dir, "import", "processed", "jan.csv"))
	require.NoError(t, err)
	assert.Contains(t, out, "jan.csv: 5 received, 0 inserted, 5 duplicates")

	entries, err := importlog.Read(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, importlog.ActionImport, entries[0].Action)
	assert.Equal(t, 5, entries[1].Duplicates)
	assert.NotEqual(t, entries[0].BatchID, entries[1].BatchID)
}

func TestImport_NothingToImport(t *testing.T) {
	dir := newProject(t)
	out, err := runMoneypipe(t, "--repo", dir, "import")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to import.")
}

func TestImport_UnknownFormat(t *testing.T) {
	dir := newProject(t)
	_, err := runMoneypipe(t, "--repo", dir, "import", "--format", "mt940")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown format "mt940"`)
}

func TestImport_KeepLeavesFile(t *testing.T) {
	dir := newProject(t)
	copyStatement(t, filepath.Join(dir, "import", "jan.csv"))

	_, err := runMoneypipe(t, "--repo", dir, "import", "--keep")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "import", "jan.csv"))
	assert.NoError(t, err)
}

func TestRules_Lifecycle(t *testing.T) {
	dir := newProject(t)
	copyStatement(t, filepath.Join(dir, "import", "jan.csv"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules", "categorization-rules.yaml"), []byte(rulesYAML), 0o644))

	_, err := runMoneypipe(t, "--repo", dir, "import")
	require.NoError(t, err)

	out, err := runMoneypipe(t, "--repo", dir, "rules", "load")
	require.NoError(t, err)
	assert.Contains(t, out, "Created 1 rules, skipped 0 existing.")

	out, err = runMoneypipe(t, "--repo", dir, "rules", "load")
	require.NoError(t, err)
	assert.Contains(t, out, "Created 0 rules, skipped 1 existing.")

	out, err = runMoneypipe(t, "--repo", dir, "rules", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Rent")
	assert.Contains(t, out, "category=7")
	assert.Contains(t, out, `purpose contains "rent"`)

	out, err = runMoneypipe(t, "--repo", dir, "rules", "apply")
	require.NoError(t, err)
	assert.Contains(t, out, "Processed 5 uncategorized transactions.")

	out, err = runMoneypipe(t, "--repo", dir, "rules", "apply", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Rule 1 matched 1 transactions.")

	out, err = runMoneypipe(t, "--repo", dir, "rules", "update", "1", "--condition", "purpose:contains:groceries")
	require.NoError(t, err)
	assert.Contains(t, out, "Updated rule 1: reverted 1, matched 1.")

	out, err = runMoneypipe(t, "--repo", dir, "rules", "update", "1", "--category", "9", "--no-reapply")
	require.NoError(t, err)
	assert.Contains(t, out, "reverted 1, matched 0.")

	out, err = runMoneypipe(t, "--repo", dir, "rules", "apply", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "matched 1")

	out, err = runMoneypipe(t, "--repo", dir, "rules", "delete", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted rule 1, detached 1 transactions.")

	out, err = runMoneypipe(t, "--repo", dir, "rules", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No rules.")
}

func TestRules_InvalidInput(t *testing.T) {
	dir := newProject(t)

	_, err := runMoneypipe(t, "--repo", dir, "rules", "apply", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid rule id")

	_, err = runMoneypipe(t, "--repo", dir, "rules", "update", "1", "--condition", "purpose-rent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field:operator:value")

	_, err = runMoneypipe(t, "--repo", dir, "rules", "delete", "42")
	require.Error(t, err)
}

func TestReprocess(t *testing.T) {
	dir := newProject(t)
	copyStatement(t, filepath.Join(dir, "import", "jan.csv"))
	_, err := runMoneypipe(t, "--repo", dir, "import")
	require.NoError(t, err)

	out, err := runMoneypipe(t, "--repo", dir, "reprocess")
	require.NoError(t, err)
	assert.Contains(t, out, "Reprocessed 5 transactions.")

	out, err = runMoneypipe(t, "--repo", dir, "reprocess", "--uncategorized")
	require.NoError(t, err)
	assert.Contains(t, out, "Reprocessed 5 transactions.")

	entries, err := importlog.Read(dir)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, importlog.ActionReprocess, entries[2].Action)
}

// importForReprocess imports the sample statement, then adds a rent rule and
// registers both statement IBANs so neither categorization nor transfer
// detection has happened yet.
func importForReprocess(t *testing.T) string {
	t.Helper()
	dir := newProject(t)
	copyStatement(t, filepath.Join(dir, "import", "jan.csv"))
	_, err := runMoneypipe(t, "--repo", dir, "import")
	require.NoError(t, err)

	_, err = runMoneypipe(t, "--repo", dir, "rules", "add", "--name", "Rent", "--category", "7", "--condition", "purpose:contains:rent")
	require.NoError(t, err)
	for _, iban := range []string{statementIBAN, savingsIBAN} {
		_, err = runMoneypipe(t, "--repo", dir, "accounts", "add", iban)
		require.NoError(t, err)
	}

	got := storedByAmount(t, dir)
	require.Nil(t, got["-500.00"].CategoryID)
	require.False(t, got["-1000.00"].IsInternalTransfer)
	return dir
}

func TestReprocess_OnlyTransfers(t *testing.T) {
	dir := importForReprocess(t)

	out, err := runMoneypipe(t, "--repo", dir, "reprocess", "--only-transfers")
	require.NoError(t, err)
	assert.Contains(t, out, "Reprocessed 5 transactions.")

	got := storedByAmount(t, dir)
	assert.True(t, got["-1000.00"].IsInternalTransfer)
	assert.Nil(t, got["-500.00"].CategoryID, "rules must not run")

	entries, err := importlog.Read(dir)
	require.NoError(t, err)
	assert.Equal(t, "internal_transfer", entries[len(entries)-1].Source)
}

func TestReprocess_OnlyRules(t *testing.T) {
	dir := importForReprocess(t)

	out, err := runMoneypipe(t, "--repo", dir, "reprocess", "--only-rules")
	require.NoError(t, err)
	assert.Contains(t, out, "Reprocessed 5 transactions.")

	got := storedByAmount(t, dir)
	require.NotNil(t, got["-500.00"].CategoryID)
	assert.Equal(t, int64(7), *got["-500.00"].CategoryID)
	assert.False(t, got["-1000.00"].IsInternalTransfer, "transfer detection must not run")
}

func TestReprocess_CombinedStages(t *testing.T) {
	dir := importForReprocess(t)

	_, err := runMoneypipe(t, "--repo", dir, "reprocess", "--only-rules", "--only-transfers")
	require.NoError(t, err)

	got := storedByAmount(t, dir)
	assert.NotNil(t, got["-500.00"].CategoryID)
	assert.True(t, got["-1000.00"].IsInternalTransfer)
}

func TestReprocess_Filters(t *testing.T) {
	dir := importForReprocess(t)

	out, err := runMoneypipe(t, "--repo", dir, "reprocess", "--only-transfers", "--end-date", "2024-01-06")
	require.NoError(t, err)
	assert.Contains(t, out, "Reprocessed 1 transactions.")

	out, err = runMoneypipe(t, "--repo", dir, "reprocess", "--only-transfers", "--start-date", "2024-01-08", "--end-date", "2024-01-10")
	require.NoError(t, err)
	assert.Contains(t, out, "Reprocessed 2 transactions.")

	out, err = runMoneypipe(t, "--repo", dir, "reprocess", "--only-transfers", "--min-amount=-100", "--max-amount=0")
	require.NoError(t, err)
	assert.Contains(t, out, "Reprocessed 2 transactions.")

	// The savings row lies outside the window, so it stays unflagged.
	assert.False(t, storedByAmount(t, dir)["-1000.00"].IsInternalTransfer)

	_, err = runMoneypipe(t, "--repo", dir, "reprocess", "--only-rules", "--category-id", "null", "--max-amount=-400", "--min-amount=-600")
	require.NoError(t, err)
	got := storedByAmount(t, dir)
	require.NotNil(t, got["-500.00"].CategoryID)

	out, err = runMoneypipe(t, "--repo", dir, "reprocess", "--category-id", "not_null")
	require.NoError(t, err)
	assert.Contains(t, out, "Reprocessed 1 transactions.")

	out, err = runMoneypipe(t, "--repo", dir, "reprocess", "--category-id", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "Reprocessed 1 transactions.")

	out, err = runMoneypipe(t, "--repo", dir, "reprocess", "--category-id", "null")
	require.NoError(t, err)
	assert.Contains(t, out, "Reprocessed 4 transactions.")
}

func TestReprocess_InvalidFlags(t *testing.T) {
	dir := newProject(t)

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"--start-date", "05.01.2024"}, "--start-date: expected YYYY-MM-DD"},
		{[]string{"--end-date", "soon"}, "--end-date: expected YYYY-MM-DD"},
		{[]string{"--category-id", "groceries"}, "--category-id"},
		{[]string{"--min-amount", "lots"}, "--min-amount"},
	}
	for _, tt := range tests {
		_, err := runMoneypipe(t, append([]string{"--repo", dir, "reprocess"}, tt.args...)...)
		require.Error(t, err, "%v", tt.args)
		assert.Contains(t, err.Error(), tt.want)
	}
}

func TestRules_AddExportRevert(t *testing.T) {
	dir := newProject(t)
	copyStatement(t, filepath.Join(dir, "import", "jan.csv"))
	_, err := runMoneypipe(t, "--repo", dir, "import")
	require.NoError(t, err)

	out, err := runMoneypipe(t, "--repo", dir, "rules", "add", "--name", "Rent", "--category", "7", "--condition", "purpose:contains:rent")
	require.NoError(t, err)
	assert.Contains(t, out, "Created rule 1 (Rent).")

	_, err = runMoneypipe(t, "--repo", dir, "rules", "add", "--name", "Broken", "--category", "7", "--condition", "purpose:resembles:rent")
	require.Error(t, err)

	out, err = runMoneypipe(t, "--repo", dir, "rules", "export")
	require.NoError(t, err)
	assert.Contains(t, out, "name: Rent")
	assert.Contains(t, out, "value: rent")

	path := filepath.Join(dir, "exported.yaml")
	out, err = runMoneypipe(t, "--repo", dir, "rules", "export", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 1 rules")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: Rent")

	out, err = runMoneypipe(t, "--repo", dir, "rules", "apply", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Rule 1 matched 1 transactions.")

	out, err = runMoneypipe(t, "--repo", dir, "rules", "revert", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Reverted rule 1, reset 1 transactions.")
	assert.Nil(t, storedByAmount(t, dir)["-500.00"].CategoryID)

	out, err = runMoneypipe(t, "--repo", dir, "rules", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Rent", "revert keeps the rule")
}

func TestTransactionsCategorize(t *testing.T) {
	dir := newProject(t)
	copyStatement(t, filepath.Join(dir, "import", "jan.csv"))
	_, err := runMoneypipe(t, "--repo", dir, "import")
	require.NoError(t, err)

	id := storedByAmount(t, dir)["-42.17"].ID

	out, err := runMoneypipe(t, "--repo", dir, "transactions", "categorize", strconv.FormatInt(id, 10), "12")
	require.NoError(t, err)
	assert.Contains(t, out, "now in category 12.")
	got := storedByAmount(t, dir)["-42.17"]
	require.NotNil(t, got.CategoryID)
	assert.Equal(t, int64(12), *got.CategoryID)
	assert.Nil(t, got.RuleID)

	out, err = runMoneypipe(t, "--repo", dir, "transactions", "categorize", strconv.FormatInt(id, 10), "null")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared category")
	assert.Nil(t, storedByAmount(t, dir)["-42.17"].CategoryID)

	_, err = runMoneypipe(t, "--repo", dir, "transactions", "categorize", "999", "3")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = runMoneypipe(t, "--repo", dir, "transactions", "categorize", "abc", "3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid transaction id")

	_, err = runMoneypipe(t, "--repo", dir, "transactions", "categorize", "1", "food")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid category id")
}

func TestLog(t *testing.T) {
	dir := newProject(t)

	out, err := runMoneypipe(t, "--repo", dir, "log")
	require.NoError(t, err)
	assert.Contains(t, out, "No batches logged.")

	copyStatement(t, filepath.Join(dir, "import", "jan.csv"))
	_, err = runMoneypipe(t, "--repo", dir, "import")
	require.NoError(t, err)
	_, err = runMoneypipe(t, "--repo", dir, "reprocess")
	require.NoError(t, err)

	out, err = runMoneypipe(t, "--repo", dir, "log")
	require.NoError(t, err)
	assert.Contains(t, out, "import")
	assert.Contains(t, out, "received=5 inserted=5")
	assert.Contains(t, out, "reprocess")

	out, err = runMoneypipe(t, "--repo", dir, "log", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "reprocess")
	assert.NotContains(t, out, "jan.csv")
}

func TestAccountsOwned(t *testing.T) {
	for _, k := range []string{config.EnvPrimaryIBAN, config.EnvSubAccountIBAN, config.EnvDBDriver, config.EnvDBDSN, config.EnvLogLevel, config.EnvLogPretty, config.EnvIncludeCounterparty} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	_, err := runMoneypipe(t, "init", dir, "--primary-iban", statementIBAN)
	require.NoError(t, err)

	_, err = runMoneypipe(t, "--repo", dir, "accounts", "add", savingsIBAN)
	require.NoError(t, err)

	out, err := runMoneypipe(t, "--repo", dir, "accounts", "owned")
	require.NoError(t, err)
	assert.Equal(t, savingsIBAN+"\n"+statementIBAN+"\n", out)
}

func TestAccounts(t *testing.T) {
	dir := newProject(t)

	out, err := runMoneypipe(t, "--repo", dir, "accounts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No bank accounts registered.")

	out, err = runMoneypipe(t, "--repo", dir, "accounts", "add", "DE55500105175407324931", "--name", "Savings")
	require.NoError(t, err)
	assert.Contains(t, out, "Added account 1")

	_, err = runMoneypipe(t, "--repo", dir, "accounts", "add", "DE55500105175407324931")
	require.Error(t, err)

	out, err = runMoneypipe(t, "--repo", dir, "accounts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "DE55500105175407324931")
	assert.Contains(t, out, "Savings")
}

func TestHashesBackfill_NothingMissing(t *testing.T) {
	dir := newProject(t)
	copyStatement(t, filepath.Join(dir, "import", "jan.csv"))
	_, err := runMoneypipe(t, "--repo", dir, "import")
	require.NoError(t, err)

	out, err := runMoneypipe(t, "--repo", dir, "hashes", "backfill")
	require.NoError(t, err)
	assert.Contains(t, out, "Checked 0, updated 0, collisions 0.")
}

func TestVersion(t *testing.T) {
	out, err := runMoneypipe(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "moneypipe version dev")
}
