package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/quantmind-br/pahkat/internal/config"
	"github.com/quantmind-br/pahkat/internal/core"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewInstallCmd creates the install command
func NewInstallCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var (
		system      bool
		yes         bool
		noProgress  bool
		timeoutSecs int
	)

	cmd := &cobra.Command{
		Use:   "install <package>...",
		Short: "Install packages",
		Long: `Install one or more packages from the catalog in a single transaction.

Packages are named by key URL or by catalog ID. With --system the
transaction runs in the privileged helper, which is started on demand.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if timeoutSecs > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSecs)*time.Second)
				defer cancel()
			}

			interactive := !yes && isTerminal(os.Stdin)
			svc, err := newServices(ctx, cfg, log, serviceOptions{interactive: interactive})
			if err != nil {
				return err
			}
			defer svc.Close()

			scope := scopeFor(system)
			actions := make([]core.PackageAction, 0, len(args))
			for _, arg := range args {
				key, err := catalogKey(ctx, svc.db, arg, interactive)
				if err != nil {
					return &ExitError{Code: core.ExitInvalidArgs, Err: err}
				}
				actions = append(actions, core.Install(key, scope))
			}

			log.Info().
				Int("packages", len(actions)).
				Str("scope", string(scope)).
				Msg("starting installation")

			err = runTransaction(ctx, cmd.OutOrStdout(), svc.executor, actions, !noProgress && isTerminal(os.Stdout), log)
			if err != nil {
				log.Error().Err(err).Msg("installation failed")
				return fmt.Errorf("install: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&system, "system", "s", false, "install for all users through the privileged helper")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not prompt")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "do not draw download progress bars")
	cmd.Flags().IntVar(&timeoutSecs, "timeout", 0, "transaction timeout in seconds (0 disables)")

	return cmd
}
