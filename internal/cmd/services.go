package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/quantmind-br/pahkat/internal/config"
	"github.com/quantmind-br/pahkat/internal/db"
	"github.com/quantmind-br/pahkat/internal/engine"
	"github.com/quantmind-br/pahkat/internal/fsops"
	"github.com/quantmind-br/pahkat/internal/helpers"
	"github.com/quantmind-br/pahkat/internal/hub"
	"github.com/quantmind-br/pahkat/internal/paths"
	"github.com/quantmind-br/pahkat/internal/privileged"
	"github.com/quantmind-br/pahkat/internal/transaction"
	"github.com/quantmind-br/pahkat/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// services bundles what transaction commands share: the catalog database,
// the hub and the executors routing to it
type services struct {
	cfg      *config.Config
	log      *zerolog.Logger
	db       *db.DB
	paths    *paths.Resolver
	hub      *hub.Hub
	direct   *transaction.Direct
	proxy    *transaction.Proxy
	executor transaction.Executor
}

type serviceOptions struct {
	// interactive allows prompting before the helper is started
	interactive bool
	runner      helpers.CommandRunner
}

func openDatabase(ctx context.Context, cfg *config.Config) (*db.DB, error) {
	fs := afero.NewOsFs()
	if err := fsops.EnsureDir(fs, filepath.Dir(cfg.Paths.DBFile), 0o755); err != nil {
		return nil, err
	}
	database, err := db.New(ctx, cfg.Paths.DBFile)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return database, nil
}

func newLocalEngine(cfg *config.Config, store engine.Store, log *zerolog.Logger) *engine.Local {
	return engine.NewLocal(store, afero.NewOsFs(), paths.NewResolver(cfg), log)
}

func newServices(ctx context.Context, cfg *config.Config, log *zerolog.Logger, opts serviceOptions) (*services, error) {
	database, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	h := hub.New(log, hub.WithIdleTimeout(cfg.Transactions.IdleTimeout))
	direct := transaction.NewDirect(h, newLocalEngine(cfg, database, log), log)

	resolver := paths.NewResolver(cfg)
	client := privileged.NewClient(resolver.SocketPath())

	runner := opts.runner
	if runner == nil {
		runner = helpers.NewOSCommandRunner()
	}
	installer := &privileged.CommandInstaller{
		Command: cfg.Helper.InstallCommand,
		Runner:  runner,
		Ready: func(ctx context.Context) error {
			_, err := client.Version(ctx)
			return err
		},
		Logger: log,
	}
	if opts.interactive {
		installer.Confirm = ui.ConfirmPrompt
	}

	proxy := transaction.NewProxy(h, client, installer, transaction.ProxyConfig{
		ExpectedVersion: privileged.ProtocolVersion,
		CheckTimeout:    cfg.Helper.CheckTimeout,
		ConfigPath:      cfg.File,
	}, log)

	return &services{
		cfg:      cfg,
		log:      log,
		db:       database,
		paths:    resolver,
		hub:      h,
		direct:   direct,
		proxy:    proxy,
		executor: transaction.NewDispatcher(direct, proxy, log),
	}, nil
}

// Close waits for in-process transactions and releases the relay and
// database
func (s *services) Close() error {
	s.direct.Wait()
	return errors.Join(s.proxy.Close(), s.db.Close())
}
