package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/quantmind-br/pahkat/internal/config"
	"github.com/quantmind-br/pahkat/internal/core"
	"github.com/quantmind-br/pahkat/internal/db"
	"github.com/quantmind-br/pahkat/internal/security"
	"github.com/quantmind-br/pahkat/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// NewCatalogCmd creates the catalog command group
func NewCatalogCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the package catalog",
	}

	cmd.AddCommand(newCatalogAddCmd(cfg, log))
	cmd.AddCommand(newCatalogListCmd(cfg))
	cmd.AddCommand(newCatalogRemoveCmd(cfg, log))
	return cmd
}

func newCatalogAddCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var (
		name    string
		version string
		payload string
		reboot  bool
	)

	cmd := &cobra.Command{
		Use:   "add <package-key>",
		Short: "Add or replace a catalog entry",
		Example: `  pahkat catalog add https://pahkat.example.org/main/packages/editor \
    --name Editor --version 2.1.0 --payload /srv/payloads/editor-2.1.0.tar`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := core.ParsePackageKey(args[0])
			if err != nil {
				return &ExitError{Code: core.ExitInvalidArgs, Err: err}
			}
			if err := security.ValidateVersion(version); err != nil {
				return &ExitError{Code: core.ExitInvalidArgs, Err: err}
			}

			payload, err = filepath.Abs(payload)
			if err != nil {
				return &ExitError{Code: core.ExitInvalidArgs, Err: err}
			}
			if err := security.ValidateAbsolutePath(payload); err != nil {
				return &ExitError{Code: core.ExitInvalidArgs, Err: err}
			}
			info, err := afero.NewOsFs().Stat(payload)
			if err != nil {
				return &ExitError{Code: core.ExitInvalidArgs, Err: fmt.Errorf("payload: %w", err)}
			}
			if name == "" {
				name = key.ID
			}

			ctx := context.Background()
			database, err := openDatabase(ctx, cfg)
			if err != nil {
				return &ExitError{Code: core.ExitDatabase, Err: err}
			}
			defer database.Close()

			pkg := &db.Package{
				Key:            key,
				Name:           name,
				Version:        version,
				Payload:        "file://" + payload,
				Size:           info.Size(),
				RequiresReboot: reboot,
			}
			if err := database.PutPackage(ctx, pkg); err != nil {
				return &ExitError{Code: core.ExitDatabase, Err: err}
			}

			log.Info().Str("package", key.String()).Str("version", version).Msg("catalog entry saved")
			ui.FprintSuccess(cmd.OutOrStdout(), "%s %s added to catalog", name, version)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the package ID)")
	cmd.Flags().StringVar(&version, "version", "", "package version")
	cmd.Flags().StringVar(&payload, "payload", "", "path to the package payload")
	cmd.Flags().BoolVar(&reboot, "requires-reboot", false, "installing requires a reboot")
	_ = cmd.MarkFlagRequired("version")
	_ = cmd.MarkFlagRequired("payload")

	return cmd
}

func newCatalogListCmd(cfg *config.Config) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list [query]",
		Short: "List catalog entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			database, err := openDatabase(ctx, cfg)
			if err != nil {
				return &ExitError{Code: core.ExitDatabase, Err: err}
			}
			defer database.Close()

			pkgs, err := database.ListPackages(ctx)
			if err != nil {
				return &ExitError{Code: core.ExitDatabase, Err: err}
			}

			if len(args) == 1 {
				ids := make([]string, len(pkgs))
				for i, pkg := range pkgs {
					ids[i] = pkg.Key.ID
				}
				ranked := ui.FuzzyRank(args[0], ids)
				matched := make([]db.Package, 0, len(ranked))
				for _, idx := range ranked {
					matched = append(matched, pkgs[idx])
				}
				pkgs = matched
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				type entry struct {
					Key            string `json:"key"`
					Name           string `json:"name"`
					Version        string `json:"version"`
					Size           int64  `json:"size"`
					RequiresReboot bool   `json:"requires_reboot"`
				}
				entries := make([]entry, len(pkgs))
				for i, pkg := range pkgs {
					entries[i] = entry{pkg.Key.String(), pkg.Name, pkg.Version, pkg.Size, pkg.RequiresReboot}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			if len(pkgs) == 0 {
				fmt.Fprintln(out, "Catalog is empty")
				return nil
			}

			table := tablewriter.NewTable(out,
				tablewriter.WithHeader([]string{"ID", "Name", "Version", "Size", "Repository"}),
				tablewriter.WithAlignment(tw.MakeAlign(5, tw.AlignLeft)),
				tablewriter.WithSymbols(tw.NewSymbols(tw.StyleNone)),
			)
			for _, pkg := range pkgs {
				table.Append(pkg.Key.ID, pkg.Name, pkg.Version, strconv.FormatInt(pkg.Size, 10), pkg.Key.Repository)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	return cmd
}

func newCatalogRemoveCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <package-key>",
		Short: "Remove a catalog entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := core.ParsePackageKey(args[0])
			if err != nil {
				return &ExitError{Code: core.ExitInvalidArgs, Err: err}
			}

			ctx := context.Background()
			database, err := openDatabase(ctx, cfg)
			if err != nil {
				return &ExitError{Code: core.ExitDatabase, Err: err}
			}
			defer database.Close()

			if err := database.DeletePackage(ctx, key); err != nil {
				return fmt.Errorf("remove %s: %w", key, err)
			}
			log.Info().Str("package", key.String()).Msg("catalog entry removed")
			ui.FprintSuccess(cmd.OutOrStdout(), "%s removed from catalog", key.ID)
			return nil
		},
	}
}
