// Package events defines the transaction lifecycle events exchanged between
// executors, the transaction hub and consumers, together with the JSON wire
// encoding used across the privileged helper boundary.
package events

import (
	"fmt"

	"github.com/quantmind-br/pahkat/internal/core"
)

// Event is one step in the lifecycle of a transaction. The set of
// implementations is closed; switch on the concrete type.
type Event interface {
	isEvent()
	// Kind returns the wire discriminator of the event
	Kind() string
}

// Started is emitted once the engine has accepted and resolved a transaction
type Started struct {
	Actions        []core.ResolvedAction
	RequiresReboot bool
}

// DownloadProgress reports bytes downloaded for one package. Zero bytes is a
// valid state.
type DownloadProgress struct {
	Key     core.PackageKey
	Current uint64
	Total   uint64
}

// DownloadComplete marks the end of a package download
type DownloadComplete struct {
	Key core.PackageKey
}

// InstallStarted marks the start of a package installation
type InstallStarted struct {
	Key core.PackageKey
}

// UninstallStarted marks the start of a package removal
type UninstallStarted struct {
	Key core.PackageKey
}

// Progress is an informational progress message for one package
type Progress struct {
	Key     core.PackageKey
	Message *string
	Current uint64
	Total   uint64
}

// Error terminates a transaction with a failure. Key is set when the
// failure is attributable to one package.
type Error struct {
	Key     *core.PackageKey
	Message *string
}

// Completed terminates a transaction successfully
type Completed struct{}

// Cancelled terminates a transaction that was cancelled before completing
type Cancelled struct{}

// Dispose is the sentinel that closes a transaction after its terminal event
type Dispose struct{}

func (Started) isEvent()          {}
func (DownloadProgress) isEvent() {}
func (DownloadComplete) isEvent() {}
func (InstallStarted) isEvent()   {}
func (UninstallStarted) isEvent() {}
func (Progress) isEvent()         {}
func (Error) isEvent()            {}
func (Completed) isEvent()        {}
func (Cancelled) isEvent()        {}
func (Dispose) isEvent()          {}

// Wire discriminators
const (
	KindStarted          = "started"
	KindDownloadProgress = "downloadProgress"
	KindDownloadComplete = "downloadComplete"
	KindInstallStarted   = "installing"
	KindUninstallStarted = "uninstalling"
	KindProgress         = "progress"
	KindError            = "error"
	KindCompleted        = "complete"
	KindCancelled        = "cancel"
	KindDispose          = "dispose"
)

func (Started) Kind() string          { return KindStarted }
func (DownloadProgress) Kind() string { return KindDownloadProgress }
func (DownloadComplete) Kind() string { return KindDownloadComplete }
func (InstallStarted) Kind() string   { return KindInstallStarted }
func (UninstallStarted) Kind() string { return KindUninstallStarted }
func (Progress) Kind() string         { return KindProgress }
func (Error) Kind() string            { return KindError }
func (Completed) Kind() string        { return KindCompleted }
func (Cancelled) Kind() string        { return KindCancelled }
func (Dispose) Kind() string          { return KindDispose }

// DefaultErrorMessage is used when an Error event carries no message
const DefaultErrorMessage = "transaction failed"

// ErrorText returns the message of e or DefaultErrorMessage
func (e Error) ErrorText() string {
	if e.Message == nil || *e.Message == "" {
		return DefaultErrorMessage
	}
	return *e.Message
}

// NewError builds an Error event. A zero key is treated as absent.
func NewError(key core.PackageKey, message string) Error {
	ev := Error{Message: &message}
	if !key.IsZero() {
		ev.Key = &key
	}
	return ev
}

// IsTerminal reports whether ev ends a transaction
func IsTerminal(ev Event) bool {
	switch ev.(type) {
	case Completed, Error, Cancelled, Dispose:
		return true
	default:
		return false
	}
}

// PackageOf returns the package an event refers to, if any
func PackageOf(ev Event) (core.PackageKey, bool) {
	switch e := ev.(type) {
	case DownloadProgress:
		return e.Key, true
	case DownloadComplete:
		return e.Key, true
	case InstallStarted:
		return e.Key, true
	case UninstallStarted:
		return e.Key, true
	case Progress:
		return e.Key, true
	case Error:
		if e.Key != nil {
			return *e.Key, true
		}
	}
	return core.PackageKey{}, false
}

// Describe renders ev for logs
func Describe(ev Event) string {
	switch e := ev.(type) {
	case Started:
		return fmt.Sprintf("started (%d actions, reboot=%t)", len(e.Actions), e.RequiresReboot)
	case DownloadProgress:
		return fmt.Sprintf("download %s %d/%d", e.Key.ID, e.Current, e.Total)
	case Error:
		return "error: " + e.ErrorText()
	default:
		if key, ok := PackageOf(ev); ok {
			return ev.Kind() + " " + key.ID
		}
		return ev.Kind()
	}
}
