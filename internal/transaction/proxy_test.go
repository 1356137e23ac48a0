package transaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quantmind-br/pahkat/internal/core"
	"github.com/quantmind-br/pahkat/internal/events"
	"github.com/quantmind-br/pahkat/internal/hub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProxy(h *hub.Hub, svc *fakeService, installer Installer) *Proxy {
	p := NewProxy(h, svc, installer, ProxyConfig{
		ExpectedVersion: "test",
		CheckTimeout:    50 * time.Millisecond,
		ConfigPath:      "/etc/pahkat/config.toml",
	}, nopLogger())
	return p
}

func systemInstall(key core.PackageKey) []core.PackageAction {
	return []core.PackageAction{core.Install(key, core.ScopeSystem)}
}

func TestProxySuccessUsesLocalIDs(t *testing.T) {
	h := newTestHub()
	svc := newFakeService()
	svc.onProcess = func(s *fakeService, id core.TransactionID) {
		s.push(id, events.Started{Actions: []core.ResolvedAction{{PackageAction: core.Install(keyB, core.ScopeSystem), Name: "B", Version: "2.0"}}})
		s.push(id, events.DownloadProgress{Key: keyB, Current: 1, Total: 2})
		s.push(id, events.InstallStarted{Key: keyB})
		s.push(id, events.Completed{})
		s.push(id, events.Dispose{})
	}
	p := newTestProxy(h, svc, nil)
	defer p.Close()

	handle, err := p.Submit(context.Background(), systemInstall(keyB))
	require.NoError(t, err)
	assert.Equal(t, core.TransactionID(1), handle.ID())

	got := drain(t, handle)
	assert.Equal(t, []string{
		events.KindStarted,
		events.KindDownloadProgress,
		events.KindInstallStarted,
		events.KindCompleted,
	}, kinds(got))
	assert.NoError(t, handle.Err())
	assert.Equal(t, "/etc/pahkat/config.toml", svc.configPath)
}

func TestProxyRemoteErrorKeepsPackageKey(t *testing.T) {
	svc := newFakeService()
	svc.onProcess = func(s *fakeService, id core.TransactionID) {
		s.push(id, events.Started{})
		s.push(id, events.NewError(keyB, "disk full"))
		s.push(id, events.Dispose{})
	}
	p := newTestProxy(newTestHub(), svc, nil)
	defer p.Close()

	handle, err := p.Submit(context.Background(), systemInstall(keyB))
	require.NoError(t, err)

	got := drain(t, handle)
	require.Equal(t, []string{events.KindStarted, events.KindError}, kinds(got))
	failed := got[1].(events.Error)
	require.NotNil(t, failed.Key)
	assert.Equal(t, keyB, *failed.Key)
	assert.Equal(t, "disk full", failed.ErrorText())
}

func TestProxyInstallerRunsAtMostOnce(t *testing.T) {
	svc := newFakeService()
	svc.versionErr = errors.New("connection refused")
	installer := &countingInstaller{}
	p := newTestProxy(newTestHub(), svc, installer)
	defer p.Close()

	_, err := p.Submit(context.Background(), systemInstall(keyB))
	assert.ErrorIs(t, err, ErrHelperUnavailable)

	_, err = p.Submit(context.Background(), systemInstall(keyB))
	assert.ErrorIs(t, err, ErrHelperUnavailable)

	assert.Equal(t, 1, installer.Calls())
}

func TestProxyInstallerMakesHelperAvailable(t *testing.T) {
	svc := newFakeService()
	svc.versionErr = errors.New("connection refused")
	svc.onProcess = func(s *fakeService, id core.TransactionID) {
		s.push(id, events.Started{})
		s.push(id, events.Completed{})
	}
	installer := &countingInstaller{fix: func() {
		svc.mu.Lock()
		svc.versionErr = nil
		svc.mu.Unlock()
	}}
	p := newTestProxy(newTestHub(), svc, installer)
	defer p.Close()

	handle, err := p.Submit(context.Background(), systemInstall(keyB))
	require.NoError(t, err)
	assert.NoError(t, handle.Wait(context.Background()))
	assert.Equal(t, 1, installer.Calls())
}

func TestProxyConcurrentSubmitWaitsForInstall(t *testing.T) {
	svc := newFakeService()
	svc.versionErr = errors.New("connection refused")
	svc.onProcess = func(s *fakeService, id core.TransactionID) {
		s.push(id, events.Started{})
		s.push(id, events.Completed{})
	}
	started := make(chan struct{})
	release := make(chan struct{})
	installer := &countingInstaller{fix: func() {
		close(started)
		<-release
		svc.mu.Lock()
		svc.versionErr = nil
		svc.mu.Unlock()
	}}
	p := newTestProxy(newTestHub(), svc, installer)
	defer p.Close()

	errs := make(chan error, 2)
	submit := func() {
		handle, err := p.Submit(context.Background(), systemInstall(keyB))
		if err == nil {
			err = handle.Wait(context.Background())
		}
		errs <- err
	}

	go submit()
	<-started
	go submit()

	// the second submit must not fail while the install is running
	select {
	case err := <-errs:
		t.Fatalf("submit returned during install: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	assert.Equal(t, 1, installer.Calls())
}

func TestProxyWaitingForInstallHonoursContext(t *testing.T) {
	svc := newFakeService()
	svc.versionErr = errors.New("connection refused")
	started := make(chan struct{})
	release := make(chan struct{})
	installer := &countingInstaller{fix: func() {
		close(started)
		<-release
	}}
	p := newTestProxy(newTestHub(), svc, installer)
	defer p.Close()
	defer close(release)

	go func() { _ = p.EnsureAvailable(context.Background()) }()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.EnsureAvailable(ctx)
	require.ErrorIs(t, err, ErrHelperUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, installer.Calls())
}

func TestProxyInstallerFailure(t *testing.T) {
	svc := newFakeService()
	svc.versionErr = errors.New("connection refused")
	p := newTestProxy(newTestHub(), svc, &countingInstaller{err: errors.New("user declined")})
	defer p.Close()

	_, err := p.Submit(context.Background(), systemInstall(keyB))
	require.ErrorIs(t, err, ErrHelperUnavailable)
	assert.Contains(t, err.Error(), "user declined")
}

func TestProxyVersionMismatch(t *testing.T) {
	svc := newFakeService()
	svc.version = "old"
	p := newTestProxy(newTestHub(), svc, nil)
	defer p.Close()

	_, err := p.Submit(context.Background(), systemInstall(keyB))
	require.ErrorIs(t, err, ErrHelperUnavailable)

	var mismatch *VersionMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "old", mismatch.Got)
	assert.Equal(t, "test", mismatch.Want)
}

func TestProxyCheckTimeout(t *testing.T) {
	svc := newFakeService()
	svc.blockCheck = true
	p := newTestProxy(newTestHub(), svc, nil)
	defer p.Close()

	start := time.Now()
	err := p.EnsureAvailable(context.Background())
	assert.ErrorIs(t, err, ErrHelperUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestProxyRelayLossFailsLiveTransactions(t *testing.T) {
	h := newTestHub()
	svc := newFakeService()
	svc.onProcess = func(s *fakeService, id core.TransactionID) {
		s.push(id, events.Started{})
		s.push(id, events.DownloadProgress{Key: keyB, Current: 1, Total: 10})
		s.stream.fail <- errors.New("broken pipe")
	}
	p := newTestProxy(h, svc, nil)
	defer p.Close()

	handle, err := p.Submit(context.Background(), systemInstall(keyB))
	require.NoError(t, err)

	got := drain(t, handle)
	require.NotEmpty(t, got)
	last := got[len(got)-1].(events.Error)
	assert.Equal(t, ConnectionLostMessage, last.ErrorText())

	var txErr *hub.TransactionError
	require.ErrorAs(t, handle.Err(), &txErr)
	assert.False(t, h.IsLive(handle.ID()))
}

func TestProxyProcessFailure(t *testing.T) {
	svc := newFakeService()
	svc.processErr = errors.New("helper busy")
	p := newTestProxy(newTestHub(), svc, nil)
	defer p.Close()

	handle, err := p.Submit(context.Background(), systemInstall(keyB))
	require.NoError(t, err)

	got := drain(t, handle)
	require.Equal(t, []string{events.KindError}, kinds(got))
	assert.Contains(t, got[0].(events.Error).ErrorText(), "helper busy")

	assert.ErrorIs(t, p.Cancel(context.Background(), handle.ID()), ErrUnknownTransaction)
}

func TestProxyCancelForwardsRemoteID(t *testing.T) {
	svc := newFakeService()
	p := newTestProxy(newTestHub(), svc, nil)
	defer p.Close()

	handle, err := p.Submit(context.Background(), systemInstall(keyB))
	require.NoError(t, err)
	defer handle.Close()

	require.NoError(t, handle.Cancel(context.Background()))

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, []core.TransactionID{100}, svc.cancelled)
}

func TestProxyWatchFailure(t *testing.T) {
	svc := newFakeService()
	svc.watchErr = errors.New("no stream")
	p := newTestProxy(newTestHub(), svc, nil)
	defer p.Close()

	_, err := p.Submit(context.Background(), systemInstall(keyB))
	assert.ErrorIs(t, err, ErrHelperUnavailable)
}

func TestProxyDropsEventsForUnknownTransactions(t *testing.T) {
	svc := newFakeService()
	svc.onProcess = func(s *fakeService, id core.TransactionID) {
		s.push(999, events.InstallStarted{Key: keyA})
		s.push(id, events.Started{})
		s.push(id, events.Completed{})
	}
	p := newTestProxy(newTestHub(), svc, nil)
	defer p.Close()

	handle, err := p.Submit(context.Background(), systemInstall(keyB))
	require.NoError(t, err)
	assert.Equal(t, []string{events.KindStarted, events.KindCompleted}, kinds(drain(t, handle)))
}
