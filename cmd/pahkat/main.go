package main

import (
	"context"
	"fmt"
	"os"

	"github.com/quantmind-br/pahkat/internal/cmd"
	"github.com/quantmind-br/pahkat/internal/config"
	"github.com/quantmind-br/pahkat/internal/logging"
	"github.com/quantmind-br/pahkat/internal/ui"
)

var version = "dev"

func main() {
	os.Exit(run(context.Background(), os.Args[1:]))
}

func run(ctx context.Context, args []string) int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}

	ui.InitColors(cfg.Logging.Color)
	log := logging.NewLogger(logging.Config{
		Level:     cfg.Logging.Level,
		LogFile:   cfg.Paths.LogFile,
		Color:     cfg.Logging.Color,
		Component: "cli",
	})

	rootCmd := cmd.NewRootCmd(cfg, log, version)
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Debug().Err(err).Msg("command failed")
		ui.PrintError("%v", err)
		return cmd.ExitCode(err)
	}
	return 0
}

// loadConfig reads PAHKAT_CONFIG when set, otherwise the default locations
func loadConfig() (*config.Config, error) {
	if path := os.Getenv("PAHKAT_CONFIG"); path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
