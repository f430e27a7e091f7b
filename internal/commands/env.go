package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/moneypipe/internal/config"
	"github.com/cleared-dev/moneypipe/internal/logger"
	"github.com/cleared-dev/moneypipe/internal/service"
	"github.com/cleared-dev/moneypipe/internal/store"
)

type rootOptions struct {
	repo string
}

// env is everything a command needs to talk to a project.
type env struct {
	root  string
	cfg   *config.Config
	log   zerolog.Logger
	store *store.Store
	svc   *service.Service
}

// openEnv loads configuration for the project at opts.repo, opens its
// database and builds the service. A missing moneypipe.yaml falls back to
// defaults. Callers must Close the env.
func openEnv(cmd *cobra.Command, opts *rootOptions) (*env, error) {
	root, err := filepath.Abs(opts.repo)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	cfg, err := config.Load(filepath.Join(root, config.FileName))
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(root); err != nil {
		return nil, err
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		Out:    cmd.ErrOrStderr(),
	})

	st, err := store.Open(cmd.Context(), store.Config{
		Driver: cfg.Database.Driver,
		DSN:    cfg.DatabaseDSN(root),
	}, log)
	if err != nil {
		return nil, err
	}

	svc := service.New(st, service.Options{
		PrimaryIBAN:         cfg.Accounts.PrimaryIBAN,
		SubAccountIBAN:      cfg.Accounts.SubAccountIBAN,
		OwnedIBANs:          cfg.OwnedIBANs(),
		IncludeCounterparty: cfg.Fingerprint.IncludeCounterparty,
	}, log)

	return &env{root: root, cfg: cfg, log: log, store: st, svc: svc}, nil
}

func (e *env) Close() error {
	return e.store.Close()
}
