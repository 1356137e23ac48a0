package cmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/quantmind-br/pahkat/internal/config"
	"github.com/quantmind-br/pahkat/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const editorKey = "https://pahkat.example.org/main/packages/editor"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Paths: config.PathsConfig{
			DataDir:          filepath.Join(dir, "data"),
			DBFile:           filepath.Join(dir, "data", "pahkat.db"),
			CacheDir:         filepath.Join(dir, "cache"),
			UserInstallDir:   filepath.Join(dir, "packages"),
			SystemInstallDir: filepath.Join(dir, "system"),
		},
		Helper: config.HelperConfig{
			SocketPath:     filepath.Join(dir, "missing.sock"),
			InstallCommand: "false",
		},
	}
}

func testLogger() *zerolog.Logger {
	log := zerolog.New(io.Discard)
	return &log
}

// execute runs the root command with args and returns its output
func execute(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	ui.DisableColors()

	root := NewRootCmd(cfg, testLogger(), "test")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func writePayload(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "editor.bin")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func addEditor(t *testing.T, cfg *config.Config) {
	t.Helper()
	_, err := execute(t, cfg, "catalog", "add", editorKey,
		"--name", "Editor", "--version", "2.1.0", "--payload", writePayload(t, "editor payload"))
	require.NoError(t, err)
}

func findCommand(root *cobra.Command, name string) *cobra.Command {
	for _, c := range root.Commands() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}
