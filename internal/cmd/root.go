package cmd

import (
	"github.com/quantmind-br/pahkat/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command
func NewRootCmd(cfg *config.Config, log *zerolog.Logger, version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pahkat",
		Short: "Package manager client",
		Long: `pahkat installs and removes packages from a catalog in transactions.
User-scope transactions run in-process; system-scope transactions run in
the privileged helper.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(NewInstallCmd(cfg, log))
	cmd.AddCommand(NewUninstallCmd(cfg, log))
	cmd.AddCommand(NewListCmd(cfg, log))
	cmd.AddCommand(NewInfoCmd(cfg, log))
	cmd.AddCommand(NewCatalogCmd(cfg, log))
	cmd.AddCommand(NewHelperCmd(cfg, log))
	cmd.AddCommand(NewDoctorCmd(cfg, log))
	cmd.AddCommand(NewCompletionCmd(cfg, log))
	cmd.AddCommand(NewVersionCmd(version))

	return cmd
}
