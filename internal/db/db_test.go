package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quantmind-br/pahkat/internal/core"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(context.Background(), t.TempDir()+"/test.db")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPackageOperations(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	key := core.MustParsePackageKey("https://pahkat.uit.no/main/packages/speller-sme?platform=macos")
	pkg := &Package{
		Key:            key,
		Name:           "Northern Sámi speller",
		Version:        "1.0.0",
		Payload:        "/srv/payloads/speller-sme.pkg",
		Size:           2048,
		RequiresReboot: true,
	}

	if err := db.PutPackage(ctx, pkg); err != nil {
		t.Fatalf("Failed to put package: %v", err)
	}

	got, err := db.GetPackage(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get package: %v", err)
	}
	if got.Key != key {
		t.Errorf("GetPackage() Key = %v, want %v", got.Key, key)
	}
	if got.Name != pkg.Name || got.Size != 2048 || !got.RequiresReboot {
		t.Errorf("GetPackage() = %+v, want %+v", got, pkg)
	}

	// Upsert replaces the version
	pkg.Version = "1.1.0"
	if err := db.PutPackage(ctx, pkg); err != nil {
		t.Fatalf("Failed to update package: %v", err)
	}
	pkgs, err := db.ListPackages(ctx)
	if err != nil {
		t.Fatalf("Failed to list packages: %v", err)
	}
	if len(pkgs) != 1 || pkgs[0].Version != "1.1.0" {
		t.Errorf("ListPackages() = %+v, want one package at 1.1.0", pkgs)
	}

	if err := db.DeletePackage(ctx, key); err != nil {
		t.Fatalf("Failed to delete package: %v", err)
	}
	if _, err := db.GetPackage(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPackage() after delete error = %v, want ErrNotFound", err)
	}
	if err := db.DeletePackage(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeletePackage() twice error = %v, want ErrNotFound", err)
	}
}

func TestPackageLookupIgnoresDefaultChannel(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	stored := core.MustParsePackageKey("https://pahkat.uit.no/main/packages/speller-sme")
	if err := db.PutPackage(ctx, &Package{Key: stored, Name: "A", Version: "1", Payload: "/p"}); err != nil {
		t.Fatalf("Failed to put package: %v", err)
	}

	lookup := core.MustParsePackageKey("https://PAHKAT.uit.no/main/packages/speller-sme?channel=stable")
	if _, err := db.GetPackage(ctx, lookup); err != nil {
		t.Errorf("GetPackage() with equivalent key error = %v", err)
	}
}

func TestInstallOperations(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	key := core.MustParsePackageKey("https://pahkat.uit.no/main/packages/keyboard-sme")
	install := &Install{
		InstallID:   "4b0a2f0e-8d1c-4c7e-9a55-0d7c4fbb2d11",
		Key:         key,
		Name:        "Sámi keyboard",
		Version:     "2.0",
		Scope:       core.ScopeUser,
		InstallPath: "/home/user/.local/share/pahkat/keyboard-sme",
		InstallDate: time.Now(),
		Metadata:    map[string]any{"payload": "keyboard-sme.pkg"},
	}

	if err := db.CreateInstall(ctx, install); err != nil {
		t.Fatalf("Failed to create install: %v", err)
	}

	got, err := db.GetInstall(ctx, install.InstallID)
	if err != nil {
		t.Fatalf("Failed to get install: %v", err)
	}
	if got.Key != key || got.Scope != core.ScopeUser {
		t.Errorf("GetInstall() = %+v", got)
	}
	if got.Metadata["payload"] != "keyboard-sme.pkg" {
		t.Errorf("GetInstall() Metadata = %v", got.Metadata)
	}

	found, err := db.FindInstall(ctx, key, core.ScopeUser)
	if err != nil {
		t.Fatalf("Failed to find install: %v", err)
	}
	if found.InstallID != install.InstallID {
		t.Errorf("FindInstall() InstallID = %v, want %v", found.InstallID, install.InstallID)
	}
	if _, err := db.FindInstall(ctx, key, core.ScopeSystem); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindInstall() in other scope error = %v, want ErrNotFound", err)
	}

	// One install per package and scope
	dup := *install
	dup.InstallID = "other"
	if err := db.CreateInstall(ctx, &dup); err == nil {
		t.Error("CreateInstall() duplicate package and scope succeeded")
	}

	installs, err := db.ListInstalls(ctx)
	if err != nil {
		t.Fatalf("Failed to list installs: %v", err)
	}
	if len(installs) != 1 {
		t.Errorf("ListInstalls() len = %d, want 1", len(installs))
	}

	if err := db.DeleteInstall(ctx, install.InstallID); err != nil {
		t.Fatalf("Failed to delete install: %v", err)
	}
	if _, err := db.GetInstall(ctx, install.InstallID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetInstall() after delete error = %v, want ErrNotFound", err)
	}
}

func TestSchemaIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/reopen.db"

	first, err := New(ctx, path)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	first.Close()

	second, err := New(ctx, path)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer second.Close()

	if second.Path() != path {
		t.Errorf("Path() = %q, want %q", second.Path(), path)
	}
}
