package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quantmind-br/pahkat/internal/core"
)

// Package is a catalog entry: something that can be installed
type Package struct {
	Key            core.PackageKey
	Name           string
	Version        string
	Payload        string
	Size           int64
	RequiresReboot bool
	AddedAt        time.Time
}

const packageColumns = `package_key, name, version, payload, size, requires_reboot, added_at`

// PutPackage adds a catalog entry or replaces the one with the same key
func (db *DB) PutPackage(ctx context.Context, pkg *Package) error {
	if pkg.AddedAt.IsZero() {
		pkg.AddedAt = time.Now()
	}

	query := `
INSERT INTO packages (package_key, repository, package_id, name, version, payload, size, requires_reboot, added_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(package_key) DO UPDATE SET
    name = excluded.name,
    version = excluded.version,
    payload = excluded.payload,
    size = excluded.size,
    requires_reboot = excluded.requires_reboot
	`

	_, err := db.write.ExecContext(ctx, query,
		pkg.Key.String(),
		pkg.Key.Repository,
		pkg.Key.ID,
		pkg.Name,
		pkg.Version,
		pkg.Payload,
		pkg.Size,
		pkg.RequiresReboot,
		pkg.AddedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert package: %w", err)
	}
	return nil
}

// GetPackage retrieves a catalog entry by key
func (db *DB) GetPackage(ctx context.Context, key core.PackageKey) (*Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE package_key = ?`

	pkg, err := scanPackage(db.read.QueryRowContext(ctx, query, key.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("package %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query package: %w", err)
	}
	return pkg, nil
}

// ListPackages returns the catalog ordered by package id
func (db *DB) ListPackages(ctx context.Context) ([]Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages ORDER BY package_id, package_key`

	rows, err := db.read.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query packages: %w", err)
	}
	defer rows.Close()

	var pkgs []Package
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		pkgs = append(pkgs, *pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return pkgs, nil
}

// DeletePackage removes a catalog entry
func (db *DB) DeletePackage(ctx context.Context, key core.PackageKey) error {
	result, err := db.write.ExecContext(ctx, "DELETE FROM packages WHERE package_key = ?", key.String())
	if err != nil {
		return fmt.Errorf("delete package: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("package %s: %w", key, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPackage(row rowScanner) (*Package, error) {
	var pkg Package
	var rawKey string
	if err := row.Scan(
		&rawKey,
		&pkg.Name,
		&pkg.Version,
		&pkg.Payload,
		&pkg.Size,
		&pkg.RequiresReboot,
		&pkg.AddedAt,
	); err != nil {
		return nil, err
	}

	key, err := core.ParsePackageKey(rawKey)
	if err != nil {
		return nil, fmt.Errorf("stored key %q: %w", rawKey, err)
	}
	pkg.Key = key
	return &pkg, nil
}
