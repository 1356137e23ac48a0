package state

import (
	"testing"

	"github.com/quantmind-br/pahkat/internal/core"
	"github.com/quantmind-br/pahkat/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pkgA = core.MustParsePackageKey("https://pahkat.uit.no/main/packages/speller-sme")
	pkgB = core.MustParsePackageKey("https://pahkat.uit.no/main/packages/keyboard-sme")
	pkgC = core.MustParsePackageKey("https://pahkat.uit.no/main/packages/speller-smj")
)

func resolved(action core.PackageAction, name string) core.ResolvedAction {
	return core.ResolvedAction{PackageAction: action, Name: name, Version: "1.0.0"}
}

func startedWith(actions ...core.ResolvedAction) events.Started {
	return events.Started{Actions: actions}
}

func TestReduceStarted(t *testing.T) {
	started := events.Started{
		Actions: []core.ResolvedAction{
			resolved(core.Install(pkgA, core.ScopeUser), "A"),
			resolved(core.Uninstall(pkgB, core.ScopeUser), "B"),
			resolved(core.Install(pkgC, core.ScopeSystem), "C"),
		},
		RequiresReboot: true,
	}

	s := Reduce(NotStarted(), started)

	assert.Equal(t, StatusInProgress, s.Status)
	assert.True(t, s.RequiresReboot)
	assert.Equal(t, started.Actions, s.Actions)
	assert.Equal(t, PhaseDownloading, s.Phase.Kind)
	assert.Equal(t, map[core.PackageKey]DownloadState{
		pkgA: {},
		pkgC: {},
	}, s.Phase.Downloads)
}

func TestReduceStartedSupersedesPreviousState(t *testing.T) {
	failed := State{Status: StatusError, Message: "boom"}
	s := Reduce(failed, startedWith(resolved(core.Install(pkgA, core.ScopeUser), "A")))
	assert.Equal(t, StatusInProgress, s.Status)
	assert.Empty(t, s.Message)

	completed := Fold(NotStarted(), startedWith(), events.Completed{})
	s = Reduce(completed, startedWith(resolved(core.Install(pkgB, core.ScopeUser), "B")))
	assert.Equal(t, PhaseDownloading, s.Phase.Kind)
	assert.Contains(t, s.Phase.Downloads, pkgB)
}

func TestReduceDownloadProgress(t *testing.T) {
	s := Fold(NotStarted(),
		startedWith(resolved(core.Install(pkgA, core.ScopeUser), "A")),
		events.DownloadProgress{Key: pkgA, Current: 50, Total: 100},
	)
	assert.Equal(t, DownloadState{Current: 50, Total: 100}, s.Phase.Downloads[pkgA])

	// ignored once installing
	s = Fold(s, events.InstallStarted{Key: pkgA}, events.DownloadProgress{Key: pkgA, Current: 1, Total: 2})
	assert.Equal(t, PhaseInstalling, s.Phase.Kind)
	assert.Nil(t, s.Phase.Downloads)

	// ignored when not started
	assert.Equal(t, NotStarted(), Reduce(NotStarted(), events.DownloadProgress{Key: pkgA, Current: 1, Total: 2}))
}

func TestReduceDownloadProgressUnknownKey(t *testing.T) {
	started := Fold(NotStarted(), startedWith(
		resolved(core.Install(pkgA, core.ScopeUser), "A"),
		resolved(core.Uninstall(pkgB, core.ScopeUser), "B"),
	))

	s := Reduce(started, events.DownloadProgress{Key: pkgB, Current: 5, Total: 10})
	assert.Equal(t, started, s)
	assert.Len(t, s.Phase.Downloads, 1)
	assert.NotContains(t, s.Phase.Downloads, pkgB)

	s = Reduce(s, events.DownloadProgress{Key: pkgC, Current: 1, Total: 1})
	assert.Equal(t, started, s)
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	before := Reduce(NotStarted(), startedWith(resolved(core.Install(pkgA, core.ScopeUser), "A")))
	after := Reduce(before, events.DownloadProgress{Key: pkgA, Current: 10, Total: 20})

	assert.Equal(t, DownloadState{}, before.Phase.Downloads[pkgA])
	assert.Equal(t, DownloadState{Current: 10, Total: 20}, after.Phase.Downloads[pkgA])
}

func TestReduceInstallingTracksOnlyCurrent(t *testing.T) {
	s := Fold(NotStarted(),
		startedWith(
			resolved(core.Install(pkgA, core.ScopeUser), "A"),
			resolved(core.Uninstall(pkgB, core.ScopeUser), "B"),
		),
		events.InstallStarted{Key: pkgA},
		events.UninstallStarted{Key: pkgB},
	)
	assert.Equal(t, Phase{Kind: PhaseInstalling, Current: pkgB}, s.Phase)
}

func TestReduceInformationalEventsAreNoOps(t *testing.T) {
	s := Fold(NotStarted(), startedWith(resolved(core.Install(pkgA, core.ScopeUser), "A")))
	msg := "copying"

	assert.Equal(t, s, Reduce(s, events.DownloadComplete{Key: pkgA}))
	assert.Equal(t, s, Reduce(s, events.Progress{Key: pkgA, Message: &msg, Current: 1, Total: 2}))
	assert.Equal(t, s, Reduce(s, events.Dispose{}))
}

func TestReduceCompletedIsFinal(t *testing.T) {
	s := Fold(NotStarted(),
		startedWith(resolved(core.Install(pkgA, core.ScopeUser), "A")),
		events.Completed{},
	)
	require.Equal(t, PhaseCompleted, s.Phase.Kind)
	assert.True(t, s.IsTerminal())

	for _, ev := range []events.Event{
		events.DownloadProgress{Key: pkgA, Current: 1, Total: 1},
		events.InstallStarted{Key: pkgA},
		events.UninstallStarted{Key: pkgA},
		events.Completed{},
	} {
		assert.Equal(t, s, Reduce(s, ev), "event %T changed a completed state", ev)
	}

	// Completed before Started is ignored
	assert.Equal(t, NotStarted(), Reduce(NotStarted(), events.Completed{}))
}

func TestReduceErrorDominance(t *testing.T) {
	msg := "disk full"
	failed := Fold(NotStarted(),
		startedWith(resolved(core.Install(pkgA, core.ScopeUser), "A")),
		events.Error{Key: &pkgA, Message: &msg},
	)
	assert.Equal(t, State{Status: StatusError, Message: "disk full"}, failed)

	for _, ev := range []events.Event{
		events.DownloadProgress{Key: pkgA, Current: 1, Total: 1},
		events.DownloadComplete{Key: pkgA},
		events.InstallStarted{Key: pkgA},
		events.UninstallStarted{Key: pkgA},
		events.Completed{},
		events.Dispose{},
	} {
		assert.Equal(t, failed, Reduce(failed, ev), "event %T changed an error state", ev)
	}

	assert.Equal(t, StatusInProgress, Reduce(failed, startedWith()).Status)
}

func TestReduceErrorDefaultMessage(t *testing.T) {
	s := Reduce(NotStarted(), events.Error{})
	assert.Equal(t, State{Status: StatusError, Message: events.DefaultErrorMessage}, s)
}

func TestReduceCancelled(t *testing.T) {
	s := Fold(NotStarted(), startedWith(), events.Cancelled{})
	assert.Equal(t, StatusError, s.Status)
	assert.Equal(t, CancelledMessage, s.Message)
}

func TestReduceDeterministic(t *testing.T) {
	seq := []events.Event{
		startedWith(
			resolved(core.Install(pkgA, core.ScopeUser), "A"),
			resolved(core.Install(pkgC, core.ScopeUser), "C"),
		),
		events.DownloadProgress{Key: pkgA, Current: 10, Total: 100},
		events.DownloadProgress{Key: pkgC, Current: 5, Total: 10},
		events.DownloadComplete{Key: pkgA},
	}

	first := Fold(NotStarted(), seq...)
	second := Fold(NotStarted(), seq...)
	assert.Equal(t, first, second)

	for _, ev := range seq {
		assert.Equal(t, Reduce(first, ev), Reduce(first, ev))
	}
}

func TestScenarioDirectSuccess(t *testing.T) {
	s := Fold(NotStarted(),
		startedWith(resolved(core.Install(pkgA, core.ScopeUser), "A")),
		events.DownloadProgress{Key: pkgA, Current: 50, Total: 100},
		events.DownloadProgress{Key: pkgA, Current: 100, Total: 100},
		events.InstallStarted{Key: pkgA},
		events.Completed{},
	)

	assert.Equal(t, StatusInProgress, s.Status)
	assert.Equal(t, PhaseCompleted, s.Phase.Kind)
}

func TestScenarioProxyErrorMidTransaction(t *testing.T) {
	msg := "disk full"
	for _, prefix := range [][]events.Event{
		{},
		{events.DownloadProgress{Key: pkgB, Current: 1, Total: 2}},
		{events.InstallStarted{Key: pkgB}},
	} {
		seq := append([]events.Event{startedWith(resolved(core.Install(pkgB, core.ScopeSystem), "B"))}, prefix...)
		seq = append(seq, events.Error{Key: &pkgB, Message: &msg})

		s := Fold(NotStarted(), seq...)
		assert.Equal(t, State{Status: StatusError, Message: "disk full"}, s)
	}
}

func TestScenarioCancellationRace(t *testing.T) {
	msg := "cancelled by helper"
	start := startedWith(resolved(core.Install(pkgA, core.ScopeSystem), "A"))

	completedThenError := Fold(NotStarted(), start, events.Completed{}, events.Error{Message: &msg})
	assert.Equal(t, StatusError, completedThenError.Status)
	assert.Equal(t, msg, completedThenError.Message)

	errorThenCompleted := Fold(NotStarted(), start, events.Error{Message: &msg}, events.Completed{})
	assert.Equal(t, completedThenError, errorThenCompleted)
}
