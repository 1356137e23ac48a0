package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quantmind-br/pahkat/internal/core"
)

// Install records a package installed into one scope
type Install struct {
	InstallID   string
	Key         core.PackageKey
	Name        string
	Version     string
	Scope       core.Scope
	InstallPath string
	InstallDate time.Time
	Metadata    map[string]any
}

const installColumns = `install_id, package_key, name, version, scope, install_path, install_date, metadata`

// CreateInstall adds an install record
func (db *DB) CreateInstall(ctx context.Context, install *Install) error {
	metadataJSON, err := json.Marshal(install.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if install.InstallDate.IsZero() {
		install.InstallDate = time.Now()
	}

	query := `
INSERT INTO installs (` + installColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = db.write.ExecContext(ctx, query,
		install.InstallID,
		install.Key.String(),
		install.Name,
		install.Version,
		string(install.Scope),
		install.InstallPath,
		install.InstallDate,
		string(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("insert install: %w", err)
	}
	return nil
}

// GetInstall retrieves an install record by ID
func (db *DB) GetInstall(ctx context.Context, installID string) (*Install, error) {
	query := `SELECT ` + installColumns + ` FROM installs WHERE install_id = ?`
	install, err := scanInstall(db.read.QueryRowContext(ctx, query, installID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("install %s: %w", installID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query install: %w", err)
	}
	return install, nil
}

// FindInstall retrieves the install record of a package in a scope
func (db *DB) FindInstall(ctx context.Context, key core.PackageKey, scope core.Scope) (*Install, error) {
	query := `SELECT ` + installColumns + ` FROM installs WHERE package_key = ? AND scope = ?`
	install, err := scanInstall(db.read.QueryRowContext(ctx, query, key.String(), string(scope)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s (%s): %w", key, scope, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query install: %w", err)
	}
	return install, nil
}

// ListInstalls retrieves all install records, newest first
func (db *DB) ListInstalls(ctx context.Context) ([]Install, error) {
	query := `SELECT ` + installColumns + ` FROM installs ORDER BY install_date DESC`

	rows, err := db.read.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query installs: %w", err)
	}
	defer rows.Close()

	var installs []Install
	for rows.Next() {
		install, err := scanInstall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan install: %w", err)
		}
		installs = append(installs, *install)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return installs, nil
}

// DeleteInstall removes an install record
func (db *DB) DeleteInstall(ctx context.Context, installID string) error {
	result, err := db.write.ExecContext(ctx, "DELETE FROM installs WHERE install_id = ?", installID)
	if err != nil {
		return fmt.Errorf("delete install: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("install %s: %w", installID, ErrNotFound)
	}
	return nil
}

func scanInstall(row rowScanner) (*Install, error) {
	var install Install
	var rawKey, scope string
	var metadataJSON sql.NullString

	if err := row.Scan(
		&install.InstallID,
		&rawKey,
		&install.Name,
		&install.Version,
		&scope,
		&install.InstallPath,
		&install.InstallDate,
		&metadataJSON,
	); err != nil {
		return nil, err
	}

	key, err := core.ParsePackageKey(rawKey)
	if err != nil {
		return nil, fmt.Errorf("stored key %q: %w", rawKey, err)
	}
	install.Key = key
	if err := install.Scope.UnmarshalText([]byte(scope)); err != nil {
		return nil, fmt.Errorf("stored scope: %w", err)
	}

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &install.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &install, nil
}
