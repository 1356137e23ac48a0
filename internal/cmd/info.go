package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/quantmind-br/pahkat/internal/config"
	"github.com/quantmind-br/pahkat/internal/core"
	"github.com/quantmind-br/pahkat/internal/db"
	"github.com/quantmind-br/pahkat/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewInfoCmd creates the info command
func NewInfoCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <package>",
		Short: "Show package information",
		Long:  `Show the catalog entry of a package and where it is installed.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			database, err := openDatabase(ctx, cfg)
			if err != nil {
				return &ExitError{Code: core.ExitDatabase, Err: err}
			}
			defer func() { _ = database.Close() }()

			key, err := catalogKey(ctx, database, args[0], false)
			if err != nil {
				return &ExitError{Code: core.ExitInvalidArgs, Err: err}
			}

			pkg, err := database.GetPackage(ctx, key)
			if err != nil && !errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("get package: %w", err)
			}

			var installs []db.Install
			for _, scope := range []core.Scope{core.ScopeUser, core.ScopeSystem} {
				install, err := database.FindInstall(ctx, key, scope)
				if errors.Is(err, db.ErrNotFound) {
					continue
				}
				if err != nil {
					return fmt.Errorf("find install: %w", err)
				}
				installs = append(installs, *install)
			}

			if pkg == nil && len(installs) == 0 {
				err := fmt.Errorf("%s: %w", key, errNoMatch)
				return &ExitError{Code: core.ExitInvalidArgs, Err: err}
			}

			printPackageInfo(cmd.OutOrStdout(), key, pkg, installs)

			log.Debug().Str("package", key.String()).Int("installs", len(installs)).Msg("displayed package info")
			return nil
		},
	}

	return cmd
}

func printPackageInfo(out io.Writer, key core.PackageKey, pkg *db.Package, installs []db.Install) {
	kv := func(k, v string) {
		ui.Bold.Fprintf(out, "%s: ", k)
		fmt.Fprintln(out, v)
	}

	ui.Bold.Fprintf(out, "Package %s\n", key.ID)
	kv("Key", key.String())
	kv("Repository", key.Repository)
	kv("Channel", key.Channel)

	fmt.Fprintln(out)
	if pkg == nil {
		ui.Muted.Fprintln(out, "Not in catalog")
	} else {
		kv("Name", pkg.Name)
		kv("Version", orDash(pkg.Version))
		kv("Size", fmt.Sprintf("%d bytes", pkg.Size))
		kv("Payload", pkg.Payload)
		if pkg.RequiresReboot {
			kv("Requires Reboot", "yes")
		}
	}

	for _, install := range installs {
		fmt.Fprintln(out)
		ui.Highlight.Fprintf(out, "Installed (%s)\n", install.Scope)
		kv("Version", orDash(install.Version))
		kv("Install ID", install.InstallID)
		kv("Install Date", install.InstallDate.Format("2006-01-02 15:04:05"))
		kv("Install Path", install.InstallPath)
		printMetadata(out, install.Metadata)
	}
}

func printMetadata(out io.Writer, metadata map[string]any) {
	if len(metadata) == 0 {
		return
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  %s: %v\n", strings.ReplaceAll(k, "_", " "), metadata[k])
	}
}
