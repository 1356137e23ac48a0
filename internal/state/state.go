// Package state reduces a transaction's ordered event stream into a
// displayable snapshot. Reduce is pure: it never mutates its input and
// performs no I/O, so it can run anywhere events are available.
package state

import (
	"maps"

	"github.com/quantmind-br/pahkat/internal/core"
	"github.com/quantmind-br/pahkat/internal/events"
)

// Status is the top-level state of a transaction
type Status int

const (
	StatusNotStarted Status = iota
	StatusInProgress
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not started"
	case StatusInProgress:
		return "in progress"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// PhaseKind is the stage of an in-progress transaction
type PhaseKind int

const (
	PhaseDownloading PhaseKind = iota
	PhaseInstalling
	PhaseCompleted
)

func (p PhaseKind) String() string {
	switch p {
	case PhaseDownloading:
		return "downloading"
	case PhaseInstalling:
		return "installing"
	case PhaseCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// DownloadState is the (current, total) byte pair of one download
type DownloadState struct {
	Current uint64
	Total   uint64
}

// Phase describes what an in-progress transaction is doing
type Phase struct {
	Kind PhaseKind
	// Downloads is set while Kind is PhaseDownloading
	Downloads map[core.PackageKey]DownloadState
	// Current is the package being processed while Kind is PhaseInstalling
	Current core.PackageKey
}

// State is the reduced view of a transaction. The zero value is NotStarted.
type State struct {
	Status         Status
	Actions        []core.ResolvedAction
	RequiresReboot bool
	Phase          Phase
	// Message is set when Status is StatusError
	Message string
}

// NotStarted returns the initial state
func NotStarted() State {
	return State{Status: StatusNotStarted}
}

// IsTerminal reports whether no event other than a fresh Started can
// change s
func (s State) IsTerminal() bool {
	return s.Status == StatusError ||
		(s.Status == StatusInProgress && s.Phase.Kind == PhaseCompleted)
}

// CancelledMessage is the error message recorded for a cancelled transaction
const CancelledMessage = "transaction cancelled"

// Reduce folds ev into current and returns the resulting state.
//
// Started always replaces the state. Error (and Cancelled) always wins.
// Every other event only applies while the transaction is in progress and
// not yet completed; otherwise it is ignored.
func Reduce(current State, ev events.Event) State {
	switch e := ev.(type) {
	case events.Started:
		downloads := make(map[core.PackageKey]DownloadState)
		for _, action := range e.Actions {
			if action.Action == core.VerbInstall {
				downloads[action.Key] = DownloadState{}
			}
		}
		actions := make([]core.ResolvedAction, len(e.Actions))
		copy(actions, e.Actions)
		return State{
			Status:         StatusInProgress,
			Actions:        actions,
			RequiresReboot: e.RequiresReboot,
			Phase:          Phase{Kind: PhaseDownloading, Downloads: downloads},
		}

	case events.Error:
		return State{Status: StatusError, Message: e.ErrorText()}

	case events.Cancelled:
		return State{Status: StatusError, Message: CancelledMessage}
	}

	if current.Status != StatusInProgress || current.Phase.Kind == PhaseCompleted {
		return current
	}

	switch e := ev.(type) {
	case events.DownloadProgress:
		if current.Phase.Kind != PhaseDownloading {
			return current
		}
		// only install actions have a download entry
		if _, ok := current.Phase.Downloads[e.Key]; !ok {
			return current
		}
		next := current
		next.Phase.Downloads = maps.Clone(current.Phase.Downloads)
		next.Phase.Downloads[e.Key] = DownloadState{Current: e.Current, Total: e.Total}
		return next

	case events.InstallStarted:
		next := current
		next.Phase = Phase{Kind: PhaseInstalling, Current: e.Key}
		return next

	case events.UninstallStarted:
		next := current
		next.Phase = Phase{Kind: PhaseInstalling, Current: e.Key}
		return next

	case events.Completed:
		next := current
		next.Phase = Phase{Kind: PhaseCompleted}
		return next
	}

	// DownloadComplete, Progress and Dispose are informational here
	return current
}

// Fold reduces a whole event sequence starting from initial
func Fold(initial State, evs ...events.Event) State {
	s := initial
	for _, ev := range evs {
		s = Reduce(s, ev)
	}
	return s
}
