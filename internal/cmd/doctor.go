package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quantmind-br/pahkat/internal/config"
	"github.com/quantmind-br/pahkat/internal/db"
	"github.com/quantmind-br/pahkat/internal/fsops"
	"github.com/quantmind-br/pahkat/internal/helpers"
	"github.com/quantmind-br/pahkat/internal/paths"
	"github.com/quantmind-br/pahkat/internal/privileged"
	"github.com/quantmind-br/pahkat/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// doctorEnv is what the doctor checks run against
type doctorEnv struct {
	cfg    *config.Config
	fs     afero.Fs
	runner helpers.CommandRunner
	helper interface {
		Version(ctx context.Context) (string, error)
	}
}

// NewDoctorCmd creates the doctor command
func NewDoctorCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, storage and the privileged helper",
		RunE: func(cmd *cobra.Command, args []string) error {
			env := doctorEnv{
				cfg:    cfg,
				fs:     afero.NewOsFs(),
				runner: helpers.NewOSCommandRunner(),
				helper: privileged.NewClient(paths.NewResolver(cfg).SocketPath()),
			}
			issues, warnings := runDoctor(cmd.Context(), cmd.OutOrStdout(), env, verbose)

			log.Debug().Int("issues", len(issues)).Int("warnings", len(warnings)).Msg("doctor finished")
			if len(issues) > 0 {
				return fmt.Errorf("system check failed with %d issue(s)", len(issues))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose output with integrity checks")

	return cmd
}

func runDoctor(ctx context.Context, out io.Writer, env doctorEnv, verbose bool) (issues, warnings []string) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := env.cfg

	ui.Bold.Fprintln(out, "Directories")
	dirs := []struct {
		path string
		name string
	}{
		{cfg.Paths.DataDir, "Data directory"},
		{filepath.Dir(cfg.Paths.DBFile), "Database directory"},
		{cfg.Paths.CacheDir, "Cache directory"},
		{cfg.Paths.UserInstallDir, "User install directory"},
	}
	for _, dir := range dirs {
		if err := checkDirectory(env.fs, dir.path); err != nil {
			ui.FprintError(out, "%s: %s (%v)", dir.name, dir.path, err)
			issues = append(issues, fmt.Sprintf("directory not accessible: %s", dir.path))
			continue
		}
		ui.FprintSuccess(out, "%s: %s", dir.name, dir.path)
	}
	if fsops.Exists(env.fs, cfg.Paths.SystemInstallDir) {
		ui.FprintSuccess(out, "System install directory: %s", cfg.Paths.SystemInstallDir)
	} else {
		fmt.Fprintf(out, "%s System install directory: %s (created by the helper)\n", ui.Arrow, cfg.Paths.SystemInstallDir)
	}
	fmt.Fprintln(out)

	ui.Bold.Fprintln(out, "Database")
	database, err := db.New(ctx, cfg.Paths.DBFile)
	if err != nil {
		ui.FprintError(out, "Database: %v", err)
		issues = append(issues, fmt.Sprintf("cannot open database: %v", err))
	} else {
		defer database.Close()
		ui.FprintSuccess(out, "Database: %s", cfg.Paths.DBFile)

		pkgs, perr := database.ListPackages(ctx)
		installs, ierr := database.ListInstalls(ctx)
		if perr != nil || ierr != nil {
			ui.FprintWarning(out, "cannot read database contents")
			warnings = append(warnings, "cannot read database contents")
		} else {
			fmt.Fprintf(out, "%s Catalog entries: %d, installs: %d\n", ui.Arrow, len(pkgs), len(installs))
			if verbose {
				broken := checkInstallIntegrity(env.fs, installs)
				for _, install := range broken {
					ui.FprintWarning(out, "%s (%s) is missing %s", install.Name, install.Scope, install.InstallPath)
				}
				if len(broken) > 0 {
					warnings = append(warnings, fmt.Sprintf("%d installs have missing files", len(broken)))
				}
			}
		}
	}
	fmt.Fprintln(out)

	ui.Bold.Fprintln(out, "Privileged helper")
	checkCtx, cancel := context.WithTimeout(ctx, helperCheckTimeout(cfg))
	version, err := env.helper.Version(checkCtx)
	cancel()
	switch {
	case err != nil:
		fmt.Fprintf(out, "%s Helper not running (started on demand)\n", ui.Arrow)
	case version != privileged.ProtocolVersion:
		ui.FprintWarning(out, "helper speaks %s, expected %s", version, privileged.ProtocolVersion)
		warnings = append(warnings, "helper version mismatch")
	default:
		ui.FprintSuccess(out, "Helper running: %s", version)
	}

	command := cfg.Helper.InstallCommand
	if command == "" {
		command = privileged.DefaultInstallCommand
	}
	if fields := strings.Fields(command); len(fields) > 0 && fields[0] != "{self}" {
		if env.runner.CommandExists(fields[0]) {
			ui.FprintSuccess(out, "%s: found", fields[0])
		} else {
			ui.FprintWarning(out, "%s: not found, system-scope transactions cannot start the helper", fields[0])
			warnings = append(warnings, fmt.Sprintf("helper install command %s not found", fields[0]))
		}
	}
	fmt.Fprintln(out)

	if cfg.File != "" {
		fmt.Fprintf(out, "%s Config file: %s\n", ui.Arrow, cfg.File)
	} else {
		fmt.Fprintf(out, "%s No config file, using defaults\n", ui.Arrow)
	}
	for _, name := range []string{"XDG_DATA_HOME", "XDG_CACHE_HOME", "NO_COLOR"} {
		if value := os.Getenv(name); value != "" {
			fmt.Fprintf(out, "%s %s: %s\n", ui.Arrow, name, value)
		}
	}
	fmt.Fprintln(out)

	if len(issues) == 0 {
		ui.FprintSuccess(out, "All critical checks passed")
	} else {
		ui.FprintError(out, "Found %d issue(s)", len(issues))
		for _, issue := range issues {
			fmt.Fprintf(out, "  %s %s\n", ui.Bullet, issue)
		}
	}
	if len(warnings) > 0 {
		ui.FprintWarning(out, "Found %d warning(s)", len(warnings))
		for _, w := range warnings {
			fmt.Fprintf(out, "  %s %s\n", ui.Bullet, w)
		}
	}

	return issues, warnings
}

func helperCheckTimeout(cfg *config.Config) time.Duration {
	if cfg.Helper.CheckTimeout > 0 {
		return cfg.Helper.CheckTimeout
	}
	return time.Second
}

// checkDirectory creates path if needed and checks that it is writable
func checkDirectory(fs afero.Fs, path string) error {
	if path == "" {
		return fmt.Errorf("not configured")
	}
	if err := fsops.EnsureDir(fs, path, 0o755); err != nil {
		return err
	}
	if !fsops.IsDir(fs, path) {
		return fmt.Errorf("not a directory")
	}
	return fsops.CheckWritable(fs, path)
}

// checkInstallIntegrity returns installs whose files are gone
func checkInstallIntegrity(fs afero.Fs, installs []db.Install) []db.Install {
	var broken []db.Install
	for _, install := range installs {
		if install.InstallPath != "" && !fsops.Exists(fs, install.InstallPath) {
			broken = append(broken, install)
		}
	}
	return broken
}
