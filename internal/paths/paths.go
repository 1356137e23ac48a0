package paths

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/quantmind-br/pahkat/internal/config"
	"github.com/quantmind-br/pahkat/internal/core"
)

// Resolver computes pahkat's default locations from HOME and the
// configuration. Configured values win over the HOME-derived defaults.
type Resolver struct {
	homeDir string
	cfg     *config.Config
}

// NewResolver creates a Resolver for the current user's HOME
func NewResolver(cfg *config.Config) *Resolver {
	homeDir, _ := os.UserHomeDir()
	return &Resolver{
		homeDir: homeDir,
		cfg:     cfg,
	}
}

// NewResolverWithHome creates a Resolver with an explicit homeDir
func NewResolverWithHome(cfg *config.Config, homeDir string) *Resolver {
	return &Resolver{
		homeDir: homeDir,
		cfg:     cfg,
	}
}

// HomeDir returns the resolved HOME directory
func (r *Resolver) HomeDir() string {
	return r.homeDir
}

// DataDir returns the pahkat data directory
func (r *Resolver) DataDir() string {
	if r.cfg != nil && r.cfg.Paths.DataDir != "" {
		return r.cfg.Paths.DataDir
	}
	return filepath.Join(r.homeDir, ".local", "share", "pahkat")
}

// CacheDir returns the directory payloads are downloaded into
func (r *Resolver) CacheDir() string {
	if r.cfg != nil && r.cfg.Paths.CacheDir != "" {
		return r.cfg.Paths.CacheDir
	}
	return filepath.Join(r.homeDir, ".cache", "pahkat")
}

// InstallDir returns the root that packages of the given scope install into
func (r *Resolver) InstallDir(scope core.Scope) string {
	if scope == core.ScopeSystem {
		if r.cfg != nil && r.cfg.Paths.SystemInstallDir != "" {
			return r.cfg.Paths.SystemInstallDir
		}
		return filepath.Join("/opt", "pahkat", "packages")
	}
	if r.cfg != nil && r.cfg.Paths.UserInstallDir != "" {
		return r.cfg.Paths.UserInstallDir
	}
	return filepath.Join(r.DataDir(), "packages")
}

// PackageDir returns where a package is installed in a scope
func (r *Resolver) PackageDir(key core.PackageKey, scope core.Scope) string {
	return filepath.Join(r.InstallDir(scope), key.ID)
}

// PayloadPath returns the cache location of a package version's payload
func (r *Resolver) PayloadPath(key core.PackageKey, version string) string {
	return filepath.Join(r.CacheDir(), key.ID, fmt.Sprintf("%s-%s.payload", key.ID, version))
}

// SocketPath returns the privileged helper socket
func (r *Resolver) SocketPath() string {
	if r.cfg != nil && r.cfg.Helper.SocketPath != "" {
		return r.cfg.Helper.SocketPath
	}
	return "/var/run/pahkat-helper.sock"
}
