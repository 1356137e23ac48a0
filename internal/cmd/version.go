package cmd

import (
	"fmt"

	"github.com/quantmind-br/pahkat/internal/privileged"
	"github.com/spf13/cobra"
)

// NewVersionCmd creates the version command
func NewVersionCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pahkat version %s (helper protocol %s)\n", version, privileged.ProtocolVersion)
		},
	}

	return cmd
}
