package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/quantmind-br/pahkat/internal/core"
	"github.com/quantmind-br/pahkat/internal/db"
	"github.com/quantmind-br/pahkat/internal/ui"
)

var errNoMatch = errors.New("no matching package")

// catalogKey resolves a package argument to a catalog key. Key URLs are
// parsed as is; bare IDs are matched against the catalog, falling back to a
// fuzzy pick when interactive.
func catalogKey(ctx context.Context, database *db.DB, arg string, interactive bool) (core.PackageKey, error) {
	if strings.Contains(arg, "://") {
		return core.ParsePackageKey(arg)
	}

	pkgs, err := database.ListPackages(ctx)
	if err != nil {
		return core.PackageKey{}, fmt.Errorf("list catalog: %w", err)
	}

	var exact []db.Package
	for _, pkg := range pkgs {
		if strings.EqualFold(pkg.Key.ID, arg) {
			exact = append(exact, pkg)
		}
	}
	if len(exact) == 1 {
		return exact[0].Key, nil
	}

	candidates := exact
	if len(candidates) == 0 {
		ids := make([]string, len(pkgs))
		for i, pkg := range pkgs {
			ids[i] = pkg.Key.ID
		}
		for _, idx := range ui.FuzzyRank(arg, ids) {
			candidates = append(candidates, pkgs[idx])
		}
	}

	if len(candidates) == 0 {
		return core.PackageKey{}, fmt.Errorf("%s: %w", arg, errNoMatch)
	}
	if !interactive {
		return core.PackageKey{}, fmt.Errorf("%s: %w (did you mean %s?)", arg, errNoMatch, candidates[0].Key)
	}

	labels := make([]string, len(candidates))
	for i, pkg := range candidates {
		labels[i] = fmt.Sprintf("%s %s (%s)", pkg.Key.ID, pkg.Version, pkg.Key.Repository)
	}
	idx, _, err := ui.SelectPrompt(fmt.Sprintf("Select package for %q", arg), labels)
	if err != nil {
		return core.PackageKey{}, err
	}
	return candidates[idx].Key, nil
}

// installedRecord finds the install of arg in scope by install ID, key URL,
// package ID or display name
func installedRecord(ctx context.Context, database *db.DB, arg string, scope core.Scope) (*db.Install, error) {
	if strings.Contains(arg, "://") {
		key, err := core.ParsePackageKey(arg)
		if err != nil {
			return nil, err
		}
		return database.FindInstall(ctx, key, scope)
	}

	installs, err := database.ListInstalls(ctx)
	if err != nil {
		return nil, fmt.Errorf("list installs: %w", err)
	}

	var matches []db.Install
	for _, install := range installs {
		if install.Scope != scope {
			continue
		}
		if install.InstallID == arg || strings.EqualFold(install.Key.ID, arg) || strings.EqualFold(install.Name, arg) {
			matches = append(matches, install)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%s is not installed (%s): %w", arg, scope, db.ErrNotFound)
	case 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("%s is ambiguous, use the package key: %d installs match", arg, len(matches))
	}
}

func scopeFor(system bool) core.Scope {
	if system {
		return core.ScopeSystem
	}
	return core.ScopeUser
}
