package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/quantmind-br/pahkat/internal/config"
	"github.com/quantmind-br/pahkat/internal/core"
	"github.com/quantmind-br/pahkat/internal/db"
	"github.com/quantmind-br/pahkat/internal/hub"
	"github.com/quantmind-br/pahkat/internal/logging"
	"github.com/quantmind-br/pahkat/internal/paths"
	"github.com/quantmind-br/pahkat/internal/privileged"
	"github.com/quantmind-br/pahkat/internal/transaction"
	"github.com/quantmind-br/pahkat/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewHelperCmd creates the privileged helper command group
func NewHelperCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "helper",
		Short: "Run or inspect the privileged helper",
	}

	cmd.AddCommand(newHelperServeCmd(cfg, log))
	cmd.AddCommand(newHelperStatusCmd(cfg))
	return cmd
}

func newHelperServeCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var (
		socket   string
		jsonLogs bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve system-scope transactions on the helper socket",
		Long: `Serve system-scope transactions on a Unix socket. The helper normally
runs as root and is started on demand by the first system-scope command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if jsonLogs {
				log = logging.NewLogger(logging.Config{
					Level:     cfg.Logging.Level,
					LogFile:   cfg.Paths.LogFile,
					Component: "helper",
					JSON:      true,
				})
			}
			if socket == "" {
				socket = paths.NewResolver(cfg).SocketPath()
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			engines := newEngineFactory(cfg, log)
			defer engines.Close()

			h := hub.New(log, hub.WithIdleTimeout(cfg.Transactions.IdleTimeout))
			helper := privileged.NewHelper(h, engines.Engine, log)

			allowed := allowedUIDs(cfg.Helper.AllowedUIDs)
			server := privileged.NewServer(socket, log,
				privileged.WithAuthorizer(privileged.UIDAuthorizer(allowed)))
			helper.Register(server)

			log.Info().
				Str("socket", socket).
				Str("version", privileged.ProtocolVersion).
				Uints32("allowed_uids", allowed).
				Msg("privileged helper starting")

			err := server.Serve(ctx)
			helper.Wait()
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("serve helper: %w", err)
			}
			log.Info().Msg("privileged helper stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&socket, "socket", "", "socket path (defaults to helper.socket_path)")
	cmd.Flags().BoolVar(&jsonLogs, "json-logs", false, "write structured JSON logs")
	return cmd
}

func newHelperStatusCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the privileged helper is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), helperCheckTimeout(cfg))
			defer cancel()

			socket := paths.NewResolver(cfg).SocketPath()
			status, err := privileged.NewClient(socket).Status(ctx)
			out := cmd.OutOrStdout()
			if err != nil {
				ui.FprintWarning(out, "helper not running at %s: %v", socket, err)
				return &ExitError{Code: core.ExitHelperUnavailable, Err: fmt.Errorf("%w: %w", transaction.ErrHelperUnavailable, err)}
			}

			ui.FprintSuccess(out, "helper running (pid %d)", status.PID)
			fmt.Fprintf(out, "  version: %s\n", status.Version)
			if status.Version != privileged.ProtocolVersion {
				ui.FprintWarning(out, "helper speaks %s, this client expects %s", status.Version, privileged.ProtocolVersion)
			}
			ids := make([]string, len(status.Live))
			for i, id := range status.Live {
				ids[i] = strconv.FormatUint(uint64(id), 10)
			}
			if len(ids) == 0 {
				fmt.Fprintln(out, "  live transactions: none")
			} else {
				fmt.Fprintf(out, "  live transactions: %s\n", strings.Join(ids, ", "))
			}
			return nil
		},
	}
}

// allowedUIDs adds the invoking user when the helper was started by sudo
// and no explicit list is configured
func allowedUIDs(configured []uint32) []uint32 {
	if len(configured) > 0 {
		return configured
	}
	if raw := os.Getenv("SUDO_UID"); raw != "" {
		if uid, err := strconv.ParseUint(raw, 10, 32); err == nil {
			return []uint32{uint32(uid)}
		}
	}
	return nil
}

// engineFactory builds one engine per client configuration file, each with
// its own catalog database
type engineFactory struct {
	base *config.Config
	log  *zerolog.Logger

	mu  sync.Mutex
	dbs []*db.DB
}

func newEngineFactory(base *config.Config, log *zerolog.Logger) *engineFactory {
	return &engineFactory{base: base, log: log}
}

// Engine implements privileged.EngineFactory
func (f *engineFactory) Engine(configPath string) (transaction.Engine, error) {
	cfg := f.base
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	database, err := openDatabase(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.dbs = append(f.dbs, database)
	f.mu.Unlock()

	f.log.Debug().Str("config", configPath).Str("db", cfg.Paths.DBFile).Msg("engine created")
	return newLocalEngine(cfg, database, f.log), nil
}

// Close closes every database opened by the factory
func (f *engineFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for _, database := range f.dbs {
		errs = append(errs, database.Close())
	}
	f.dbs = nil
	return errors.Join(errs...)
}
