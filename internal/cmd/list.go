package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/quantmind-br/pahkat/internal/config"
	"github.com/quantmind-br/pahkat/internal/core"
	"github.com/quantmind-br/pahkat/internal/db"
	"github.com/quantmind-br/pahkat/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// installView is the JSON shape of an install record
type installView struct {
	InstallID   string         `json:"install_id"`
	Key         string         `json:"key"`
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Scope       core.Scope     `json:"scope"`
	InstallPath string         `json:"install_path"`
	InstallDate string         `json:"install_date"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewListCmd creates the list command
func NewListCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var (
		jsonOutput  bool
		filterScope string
		filterName  string
		sortBy      string
		showDetails bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed packages",
		Long:  `List installed packages in both scopes with filtering and sorting options.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			if filterScope != "" && !core.Scope(filterScope).Valid() {
				return &ExitError{Code: core.ExitInvalidArgs, Err: fmt.Errorf("invalid scope %q", filterScope)}
			}

			database, err := openDatabase(ctx, cfg)
			if err != nil {
				return &ExitError{Code: core.ExitDatabase, Err: err}
			}
			defer database.Close()

			installs, err := database.ListInstalls(ctx)
			if err != nil {
				return &ExitError{Code: core.ExitDatabase, Err: fmt.Errorf("list installs: %w", err)}
			}

			filtered := filterInstalls(installs, core.Scope(filterScope), filterName)
			if filterName == "" {
				sortInstalls(filtered, sortBy)
			}

			log.Debug().Int("total", len(installs)).Int("shown", len(filtered)).Msg("listing installs")

			out := cmd.OutOrStdout()
			if jsonOutput {
				views := make([]installView, len(filtered))
				for i, install := range filtered {
					views[i] = toInstallView(install)
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(views)
			}

			if len(filtered) == 0 {
				if filterScope != "" || filterName != "" {
					fmt.Fprintln(out, "No packages found matching filters")
				} else {
					fmt.Fprintln(out, "No packages installed")
				}
				return nil
			}

			printSummary(out, installs, filtered)
			if showDetails {
				printDetailedTable(out, filtered)
			} else {
				printCompactTable(out, filtered)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	cmd.Flags().StringVar(&filterScope, "scope", "", "filter by scope (user, system)")
	cmd.Flags().StringVar(&filterName, "name", "", "filter by name (fuzzy match, best first)")
	cmd.Flags().StringVar(&sortBy, "sort", "name", "sort by: name, scope, date, version")
	cmd.Flags().BoolVarP(&showDetails, "details", "d", false, "show detailed information")

	return cmd
}

func toInstallView(install db.Install) installView {
	return installView{
		InstallID:   install.InstallID,
		Key:         install.Key.String(),
		Name:        install.Name,
		Version:     install.Version,
		Scope:       install.Scope,
		InstallPath: install.InstallPath,
		InstallDate: install.InstallDate.Format("2006-01-02T15:04:05Z07:00"),
		Metadata:    install.Metadata,
	}
}

// filterInstalls keeps installs in scope whose name fuzzily matches name.
// With a name filter the result is ordered by match quality.
func filterInstalls(installs []db.Install, scope core.Scope, name string) []db.Install {
	scoped := make([]db.Install, 0, len(installs))
	for _, install := range installs {
		if scope != "" && install.Scope != scope {
			continue
		}
		scoped = append(scoped, install)
	}
	if name == "" {
		return scoped
	}

	names := make([]string, len(scoped))
	for i, install := range scoped {
		names[i] = install.Name
	}
	ranked := ui.FuzzyRank(name, names)
	filtered := make([]db.Install, 0, len(ranked))
	for _, idx := range ranked {
		filtered = append(filtered, scoped[idx])
	}
	return filtered
}

// sortInstalls sorts installs by the specified field
func sortInstalls(installs []db.Install, sortBy string) {
	byName := func(i, j int) bool {
		return strings.ToLower(installs[i].Name) < strings.ToLower(installs[j].Name)
	}

	switch strings.ToLower(sortBy) {
	case "scope":
		sort.SliceStable(installs, func(i, j int) bool {
			if installs[i].Scope == installs[j].Scope {
				return byName(i, j)
			}
			return installs[i].Scope < installs[j].Scope
		})
	case "date":
		sort.SliceStable(installs, func(i, j int) bool {
			return installs[i].InstallDate.After(installs[j].InstallDate)
		})
	case "version":
		sort.SliceStable(installs, func(i, j int) bool {
			if installs[i].Version == installs[j].Version {
				return byName(i, j)
			}
			return installs[i].Version < installs[j].Version
		})
	default:
		sort.SliceStable(installs, byName)
	}
}

func printSummary(out io.Writer, all, filtered []db.Install) {
	counts := make(map[core.Scope]int)
	for _, install := range all {
		counts[install.Scope]++
	}

	ui.Bold.Fprintln(out, "Installed Packages")
	fmt.Fprintf(out, "Total: %d packages", len(all))
	if len(filtered) != len(all) {
		fmt.Fprintf(out, " (showing %d filtered)", len(filtered))
	}
	fmt.Fprintf(out, "  %s: %d | %s: %d\n\n",
		ui.ColorizeScope(core.ScopeUser), counts[core.ScopeUser],
		ui.ColorizeScope(core.ScopeSystem), counts[core.ScopeSystem])
}

func printCompactTable(out io.Writer, installs []db.Install) {
	table := tablewriter.NewTable(out,
		tablewriter.WithHeader([]string{"Name", "Scope", "Version", "Install Date"}),
		tablewriter.WithAlignment(tw.MakeAlign(4, tw.AlignLeft)),
		tablewriter.WithSymbols(tw.NewSymbols(tw.StyleNone)),
	)

	for _, install := range installs {
		table.Append(
			install.Name,
			ui.ColorizeScope(install.Scope),
			orDash(install.Version),
			install.InstallDate.Format("2006-01-02 15:04"),
		)
	}

	table.Render()
}

func printDetailedTable(out io.Writer, installs []db.Install) {
	table := tablewriter.NewTable(out,
		tablewriter.WithHeader([]string{"Name", "Scope", "Version", "Install Date", "Install ID", "Path"}),
		tablewriter.WithAlignment(tw.MakeAlign(6, tw.AlignLeft)),
		tablewriter.WithSymbols(tw.NewSymbols(tw.StyleLight)),
	)

	for _, install := range installs {
		path := install.InstallPath
		if len(path) > 40 {
			path = "..." + path[len(path)-37:]
		}

		table.Append(
			install.Name,
			ui.ColorizeScope(install.Scope),
			orDash(install.Version),
			install.InstallDate.Format("2006-01-02"),
			install.InstallID,
			path,
		)
	}

	table.Render()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
