package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/quantmind-br/pahkat/internal/helpers"
	"github.com/quantmind-br/pahkat/internal/privileged"
	"github.com/quantmind-br/pahkat/internal/ui"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHelper struct {
	version string
	err     error
}

func (s stubHelper) Version(context.Context) (string, error) {
	return s.version, s.err
}

func TestDoctorHealthy(t *testing.T) {
	ui.DisableColors()
	cfg := testConfig(t)
	cfg.Helper.InstallCommand = "sudo -b {self} helper serve"

	var buf bytes.Buffer
	issues, warnings := runDoctor(context.Background(), &buf, doctorEnv{
		cfg:    cfg,
		fs:     afero.NewOsFs(),
		runner: &helpers.MockCommandRunner{CommandExistsFunc: func(string) bool { return true }},
		helper: stubHelper{version: privileged.ProtocolVersion},
	}, true)

	assert.Empty(t, issues)
	assert.Empty(t, warnings)
	assert.Contains(t, buf.String(), "Helper running: pahkat-helper/1")
	assert.Contains(t, buf.String(), "All critical checks passed")
}

func TestDoctorReportsProblems(t *testing.T) {
	ui.DisableColors()
	cfg := testConfig(t)
	cfg.Helper.InstallCommand = "sudo -b {self} helper serve"

	// Directory checks fail on a read-only filesystem; the database itself
	// is opened on disk.
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	require.NoError(t, os.MkdirAll(cfg.Paths.DataDir, 0o755))

	var buf bytes.Buffer
	issues, warnings := runDoctor(context.Background(), &buf, doctorEnv{
		cfg:    cfg,
		fs:     fs,
		runner: &helpers.MockCommandRunner{},
		helper: stubHelper{version: "pahkat-helper/0"},
	}, false)

	assert.Len(t, issues, 4)
	assert.Len(t, warnings, 2)
	assert.Contains(t, buf.String(), "sudo: not found")
}

func TestDoctorHelperNotRunning(t *testing.T) {
	ui.DisableColors()
	cfg := testConfig(t)

	var buf bytes.Buffer
	_, warnings := runDoctor(context.Background(), &buf, doctorEnv{
		cfg:    cfg,
		fs:     afero.NewOsFs(),
		runner: &helpers.MockCommandRunner{CommandExistsFunc: func(string) bool { return true }},
		helper: stubHelper{err: errors.New("dial: no such file")},
	}, false)

	assert.Empty(t, warnings)
	assert.Contains(t, buf.String(), "Helper not running")
}
