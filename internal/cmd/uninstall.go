package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/quantmind-br/pahkat/internal/config"
	"github.com/quantmind-br/pahkat/internal/core"
	"github.com/quantmind-br/pahkat/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewUninstallCmd creates the uninstall command
func NewUninstallCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var (
		system bool
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "uninstall <package>...",
		Short: "Uninstall packages",
		Long:  `Uninstall packages by key URL, package ID, name or install ID in a single transaction.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			interactive := !yes && isTerminal(os.Stdin)
			svc, err := newServices(ctx, cfg, log, serviceOptions{interactive: interactive})
			if err != nil {
				return err
			}
			defer svc.Close()

			scope := scopeFor(system)
			actions := make([]core.PackageAction, 0, len(args))
			names := make([]string, 0, len(args))
			for _, arg := range args {
				install, err := installedRecord(ctx, svc.db, arg, scope)
				if err != nil {
					return &ExitError{Code: core.ExitInvalidArgs, Err: err}
				}
				actions = append(actions, core.Uninstall(install.Key, scope))
				names = append(names, install.Name)
			}

			if interactive {
				ok, err := ui.ConfirmDangerousAction("uninstall", strings.Join(names, ", "))
				if err != nil {
					return err
				}
				if !ok {
					ui.PrintInfo("Nothing uninstalled")
					return nil
				}
			}

			log.Info().
				Strs("packages", names).
				Str("scope", string(scope)).
				Msg("starting uninstallation")

			if err := runTransaction(ctx, cmd.OutOrStdout(), svc.executor, actions, false, log); err != nil {
				log.Error().Err(err).Msg("uninstallation failed")
				return fmt.Errorf("uninstall: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&system, "system", "s", false, "uninstall a system-wide package through the privileged helper")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not prompt")

	return cmd
}
