package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the project configuration file at the repository root.
const FileName = "moneypipe.yaml"

// Environment variables that override the file.
const (
	EnvPrimaryIBAN         = "MONEYPIPE_PRIMARY_IBAN"
	EnvSubAccountIBAN      = "MONEYPIPE_SUB_ACCOUNT_IBAN"
	EnvDBDriver            = "MONEYPIPE_DB_DRIVER"
	EnvDBDSN               = "MONEYPIPE_DB_DSN"
	EnvLogLevel            = "MONEYPIPE_LOG_LEVEL"
	EnvLogPretty           = "MONEYPIPE_LOG_PRETTY"
	EnvIncludeCounterparty = "MONEYPIPE_FINGERPRINT_COUNTERPARTY"
)

// Config represents the top-level moneypipe.yaml configuration.
type Config struct {
	Accounts    AccountsConfig    `yaml:"accounts"`
	Database    DatabaseConfig    `yaml:"database"`
	Log         LogConfig         `yaml:"log"`
	Fingerprint FingerprintConfig `yaml:"fingerprint"`
	Import      ImportConfig      `yaml:"import"`
}

// AccountsConfig names the account holder's own IBANs.
type AccountsConfig struct {
	PrimaryIBAN    string   `yaml:"primary_iban"`
	SubAccountIBAN string   `yaml:"sub_account_iban"`
	Owned          []string `yaml:"owned,omitempty"` // extra IBANs treated as internal
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`    // file path for sqlite, connection string for postgres
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// FingerprintConfig controls which fields feed the transaction hash.
type FingerprintConfig struct {
	IncludeCounterparty bool `yaml:"include_counterparty"`
}

// ImportConfig controls statement import.
type ImportConfig struct {
	Format string `yaml:"format"`
}

// Load reads a moneypipe.yaml file from disk.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with sensible defaults for a new project.
func Default() *Config {
	return &Config{
		Accounts: AccountsConfig{
			PrimaryIBAN:    "DE12345678901234567890",
			SubAccountIBAN: "DE09876543210987654321",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "data/moneypipe.db",
		},
		Log: LogConfig{
			Level: "info",
		},
		Import: ImportConfig{
			Format: "dkb",
		},
	}
}

// OwnedIBANs returns every configured IBAN that belongs to the account holder.
func (c *Config) OwnedIBANs() []string {
	var out []string
	for _, iban := range append([]string{c.Accounts.PrimaryIBAN, c.Accounts.SubAccountIBAN}, c.Accounts.Owned...) {
		if strings.TrimSpace(iban) != "" {
			out = append(out, iban)
		}
	}
	return out
}

// ApplyEnv overrides fields from the process environment and from an optional
// .env file in root. Process variables win over the file.
func (c *Config) ApplyEnv(root string) error {
	file, err := godotenv.Read(filepath.Join(root, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading .env: %w", err)
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, true
		}
		v, ok := file[key]
		return v, ok && v != ""
	}

	setString := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	setString(EnvPrimaryIBAN, &c.Accounts.PrimaryIBAN)
	setString(EnvSubAccountIBAN, &c.Accounts.SubAccountIBAN)
	setString(EnvDBDriver, &c.Database.Driver)
	setString(EnvDBDSN, &c.Database.DSN)
	setString(EnvLogLevel, &c.Log.Level)

	for key, dst := range map[string]*bool{
		EnvLogPretty:           &c.Log.Pretty,
		EnvIncludeCounterparty: &c.Fingerprint.IncludeCounterparty,
	} {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
	}
	return nil
}

// DatabaseDSN resolves a relative sqlite path against the project root.
func (c *Config) DatabaseDSN(root string) string {
	dsn := c.Database.DSN
	if c.Database.Driver != "sqlite" || filepath.IsAbs(dsn) || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return dsn
	}
	return filepath.Join(root, dsn)
}
