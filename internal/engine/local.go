// Package engine performs package transactions against the local catalog
// and filesystem.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/quantmind-br/pahkat/internal/core"
	"github.com/quantmind-br/pahkat/internal/db"
	"github.com/quantmind-br/pahkat/internal/events"
	"github.com/quantmind-br/pahkat/internal/fsops"
	"github.com/quantmind-br/pahkat/internal/paths"
	"github.com/quantmind-br/pahkat/internal/transaction"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

var (
	// ErrNotInCatalog is returned for installs of unknown packages
	ErrNotInCatalog = errors.New("package not in catalog")
	// ErrNotInstalled is returned for uninstalls of packages not installed
	// in the requested scope
	ErrNotInstalled = errors.New("package not installed")
	// ErrAlreadyInstalled is returned for installs into a scope that
	// already holds the package
	ErrAlreadyInstalled = errors.New("package already installed")
	// ErrDuplicateAction is returned when a transaction names the same
	// package and scope twice
	ErrDuplicateAction = errors.New("duplicate action")
)

// Store is the catalog and install record storage the engine needs
type Store interface {
	GetPackage(ctx context.Context, key core.PackageKey) (*db.Package, error)
	FindInstall(ctx context.Context, key core.PackageKey, scope core.Scope) (*db.Install, error)
	CreateInstall(ctx context.Context, install *db.Install) error
	DeleteInstall(ctx context.Context, installID string) error
}

// Local runs transactions on this machine
type Local struct {
	store     Store
	fs        afero.Fs
	paths     *paths.Resolver
	logger    *zerolog.Logger
	chunkSize int
}

var _ transaction.Engine = (*Local)(nil)

// Option configures a Local engine
type Option func(*Local)

// WithChunkSize sets the download progress granularity
func WithChunkSize(n int) Option {
	return func(l *Local) {
		l.chunkSize = n
	}
}

// NewLocal creates a local engine
func NewLocal(store Store, fs afero.Fs, resolver *paths.Resolver, logger *zerolog.Logger, opts ...Option) *Local {
	l := &Local{
		store:     store,
		fs:        fs,
		paths:     resolver,
		logger:    logger,
		chunkSize: fsops.DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Resolve checks every action against the catalog and install records
func (l *Local) Resolve(ctx context.Context, actions []core.PackageAction) (*transaction.Resolution, error) {
	res := &transaction.Resolution{Actions: make([]core.ResolvedAction, 0, len(actions))}
	seen := make(map[core.PackageKey]map[core.Scope]bool)

	for _, action := range actions {
		if seen[action.Key][action.Target] {
			return nil, packageErr(action.Key, "resolve", ErrDuplicateAction)
		}
		if seen[action.Key] == nil {
			seen[action.Key] = make(map[core.Scope]bool)
		}
		seen[action.Key][action.Target] = true

		resolved, reboot, err := l.resolve(ctx, action)
		if err != nil {
			return nil, err
		}
		res.Actions = append(res.Actions, resolved)
		res.RequiresReboot = res.RequiresReboot || reboot
	}

	return res, nil
}

func (l *Local) resolve(ctx context.Context, action core.PackageAction) (core.ResolvedAction, bool, error) {
	resolved := core.ResolvedAction{PackageAction: action}

	installed, err := l.store.FindInstall(ctx, action.Key, action.Target)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return resolved, false, packageErr(action.Key, "resolve", err)
	}

	switch action.Action {
	case core.VerbInstall:
		if installed != nil {
			return resolved, false, packageErr(action.Key, "resolve", ErrAlreadyInstalled)
		}
		pkg, err := l.store.GetPackage(ctx, action.Key)
		if errors.Is(err, db.ErrNotFound) {
			return resolved, false, packageErr(action.Key, "resolve", ErrNotInCatalog)
		}
		if err != nil {
			return resolved, false, packageErr(action.Key, "resolve", err)
		}
		resolved.Name = pkg.Name
		resolved.Version = pkg.Version
		return resolved, pkg.RequiresReboot, nil

	case core.VerbUninstall:
		if installed == nil {
			return resolved, false, packageErr(action.Key, "resolve", ErrNotInstalled)
		}
		resolved.Name = installed.Name
		resolved.Version = installed.Version
		return resolved, false, nil
	}

	return resolved, false, packageErr(action.Key, "resolve", fmt.Errorf("unsupported action %q", action.Action))
}

// Run downloads every install payload, then performs the actions in order.
// Any failure undoes the actions already performed.
func (l *Local) Run(ctx context.Context, res *transaction.Resolution, report transaction.Reporter) error {
	payloads := make(map[core.PackageKey]string)
	for _, action := range res.Actions {
		if action.Action != core.VerbInstall {
			continue
		}
		path, err := l.download(ctx, action, report)
		if err != nil {
			return err
		}
		payloads[action.Key] = path
	}

	undo := transaction.NewUndoStack(l.logger)
	var cleanups []func()

	for _, action := range res.Actions {
		if err := ctx.Err(); err != nil {
			l.unwind(undo)
			return err
		}

		var err error
		switch action.Action {
		case core.VerbInstall:
			report(events.InstallStarted{Key: action.Key})
			err = l.install(ctx, action, payloads[action.Key], undo, report)
		case core.VerbUninstall:
			report(events.UninstallStarted{Key: action.Key})
			var cleanup func()
			cleanup, err = l.uninstall(ctx, action, undo)
			if cleanup != nil {
				cleanups = append(cleanups, cleanup)
			}
		}

		if err != nil {
			l.unwind(undo)
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}

	undo.Discard()
	for _, cleanup := range cleanups {
		cleanup()
	}
	return nil
}

func (l *Local) unwind(undo *transaction.UndoStack) {
	if err := undo.Unwind(); err != nil {
		l.logger.Error().Err(err).Msg("rollback incomplete")
	}
}

func (l *Local) download(ctx context.Context, action core.ResolvedAction, report transaction.Reporter) (string, error) {
	pkg, err := l.store.GetPackage(ctx, action.Key)
	if err != nil {
		return "", packageErr(action.Key, "download", err)
	}

	dst := l.paths.PayloadPath(action.Key, pkg.Version)
	if err := fsops.EnsureDir(l.fs, filepath.Dir(dst), 0o755); err != nil {
		return "", packageErr(action.Key, "download", err)
	}

	if info, err := l.fs.Stat(dst); err == nil && (pkg.Size == 0 || info.Size() == pkg.Size) {
		l.logger.Debug().Str("package", action.Key.ID).Str("path", dst).Msg("payload cached")
		size := uint64(info.Size())
		report(events.DownloadProgress{Key: action.Key, Current: size, Total: size})
		report(events.DownloadComplete{Key: action.Key})
		return dst, nil
	}

	src := strings.TrimPrefix(pkg.Payload, "file://")
	_, err = fsops.CopyFile(ctx, l.fs, src, dst, l.chunkSize, func(written, total int64) {
		report(events.DownloadProgress{Key: action.Key, Current: uint64(written), Total: uint64(total)})
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", packageErr(action.Key, "download", err)
	}

	l.logger.Debug().Str("package", action.Key.ID).Str("path", dst).Msg("payload downloaded")
	report(events.DownloadComplete{Key: action.Key})
	return dst, nil
}

func (l *Local) install(ctx context.Context, action core.ResolvedAction, payload string, undo *transaction.UndoStack, report transaction.Reporter) error {
	dir := l.paths.PackageDir(action.Key, action.Target)
	if fsops.Exists(l.fs, dir) {
		return packageErr(action.Key, "install", fmt.Errorf("%s already exists", dir))
	}
	if err := fsops.EnsureDir(l.fs, dir, 0o755); err != nil {
		return packageErr(action.Key, "install", err)
	}
	undo.Push("remove "+dir, func() error { return l.fs.RemoveAll(dir) })

	target := filepath.Join(dir, filepath.Base(payload))
	if _, err := fsops.CopyFile(ctx, l.fs, payload, target, l.chunkSize, nil); err != nil {
		return packageErr(action.Key, "install", err)
	}
	msg := "copied payload"
	report(events.Progress{Key: action.Key, Message: &msg, Current: 1, Total: 2})

	record := &db.Install{
		InstallID:   uuid.NewString(),
		Key:         action.Key,
		Name:        action.Name,
		Version:     action.Version,
		Scope:       action.Target,
		InstallPath: dir,
		Metadata:    map[string]any{"payload": filepath.Base(payload)},
	}
	if err := l.store.CreateInstall(ctx, record); err != nil {
		return packageErr(action.Key, "install", err)
	}
	undo.Push("forget "+record.InstallID, func() error {
		return l.store.DeleteInstall(context.Background(), record.InstallID)
	})
	msg = "recorded install"
	report(events.Progress{Key: action.Key, Message: &msg, Current: 2, Total: 2})

	l.logger.Info().
		Str("package", action.Key.ID).
		Str("scope", string(action.Target)).
		Str("version", action.Version).
		Msg("package installed")
	return nil
}

// uninstall moves the package aside so it can be restored on rollback. The
// returned cleanup deletes it once the transaction has committed.
func (l *Local) uninstall(ctx context.Context, action core.ResolvedAction, undo *transaction.UndoStack) (func(), error) {
	record, err := l.store.FindInstall(ctx, action.Key, action.Target)
	if err != nil {
		return nil, packageErr(action.Key, "uninstall", err)
	}

	var cleanup func()
	if fsops.Exists(l.fs, record.InstallPath) {
		backup := record.InstallPath + ".removing"
		if err := l.fs.Rename(record.InstallPath, backup); err != nil {
			return nil, packageErr(action.Key, "uninstall", err)
		}
		undo.Push("restore "+record.InstallPath, func() error {
			return l.fs.Rename(backup, record.InstallPath)
		})
		cleanup = func() {
			if err := l.fs.RemoveAll(backup); err != nil {
				l.logger.Warn().Err(err).Str("path", backup).Msg("failed to remove uninstalled files")
			}
		}
	}

	if err := l.store.DeleteInstall(ctx, record.InstallID); err != nil {
		return cleanup, packageErr(action.Key, "uninstall", err)
	}
	undo.Push("restore record "+record.InstallID, func() error {
		return l.store.CreateInstall(context.Background(), record)
	})

	l.logger.Info().
		Str("package", action.Key.ID).
		Str("scope", string(action.Target)).
		Msg("package uninstalled")
	return cleanup, nil
}
