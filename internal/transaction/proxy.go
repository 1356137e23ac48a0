package transaction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quantmind-br/pahkat/internal/core"
	"github.com/quantmind-br/pahkat/internal/events"
	"github.com/quantmind-br/pahkat/internal/hub"
	"github.com/rs/zerolog"
)

// ConnectionLostMessage is reported for proxied transactions whose event
// relay broke before they terminated
const ConnectionLostMessage = "connection to privileged helper lost"

// Service is the RPC surface of the privileged helper
type Service interface {
	Version(ctx context.Context) (string, error)
	CreateTransaction(ctx context.Context, actions []core.PackageAction, configPath string) (core.TransactionID, error)
	ProcessTransaction(ctx context.Context, id core.TransactionID) error
	CancelTransaction(ctx context.Context, id core.TransactionID) error
	// Watch opens the inbound push stream of progress notifications
	Watch(ctx context.Context) (PushStream, error)
}

// PushStream delivers (transaction ID, wire payload) notifications from the
// helper until it fails or is closed
type PushStream interface {
	Recv() (core.TransactionID, []byte, error)
	Close() error
}

// Installer installs or starts the privileged helper. Implementations may
// ask the user for authorization.
type Installer interface {
	Install(ctx context.Context) error
}

// VersionMismatchError reports a helper speaking another protocol version
type VersionMismatchError struct {
	Got  string
	Want string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("helper version %q does not match expected %q", e.Got, e.Want)
}

// ProxyConfig configures a Proxy
type ProxyConfig struct {
	// ExpectedVersion is the helper protocol version this client speaks
	ExpectedVersion string
	// CheckTimeout bounds the availability check; a timeout counts as
	// not installed
	CheckTimeout time.Duration
	// ConfigPath is forwarded to the helper with every transaction
	ConfigPath string
}

// Proxy forwards transactions to the privileged helper and republishes the
// helper's progress notifications on the local hub under local IDs
type Proxy struct {
	hub       *hub.Hub
	svc       Service
	installer Installer
	cfg       ProxyConfig
	logger    *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	relayMu sync.Mutex

	mu          sync.Mutex
	installDone chan struct{}
	installErr  error
	relayUp     bool
	relayStream PushStream
	toLocal     map[core.TransactionID]core.TransactionID
	toRemote    map[core.TransactionID]core.TransactionID
}

// NewProxy creates a proxy executor. Close releases the event relay.
func NewProxy(h *hub.Hub, svc Service, installer Installer, cfg ProxyConfig, logger *zerolog.Logger) *Proxy {
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Proxy{
		hub:       h,
		svc:       svc,
		installer: installer,
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		toLocal:   make(map[core.TransactionID]core.TransactionID),
		toRemote:  make(map[core.TransactionID]core.TransactionID),
	}
}

// Submit forwards actions to the helper. It returns once the helper has
// assigned an ID and processing was requested.
func (p *Proxy) Submit(ctx context.Context, actions []core.PackageAction) (*Handle, error) {
	if err := validateActions(actions); err != nil {
		return nil, err
	}

	if err := p.EnsureAvailable(ctx); err != nil {
		return nil, err
	}

	if err := p.ensureRelay(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHelperUnavailable, err)
	}

	remote, err := p.svc.CreateTransaction(ctx, actions, p.cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	local, err := p.hub.Allocate()
	if err != nil {
		if cerr := p.svc.CancelTransaction(ctx, remote); cerr != nil {
			p.logger.Warn().Err(cerr).Uint32("remote_id", uint32(remote)).Msg("failed to cancel orphaned transaction")
		}
		return nil, fmt.Errorf("allocate transaction id: %w", err)
	}

	p.mu.Lock()
	p.toLocal[remote] = local
	p.toRemote[local] = remote
	p.mu.Unlock()

	sub := p.hub.Subscribe(ctx, local)

	p.logger.Info().
		Uint32("transaction_id", uint32(local)).
		Uint32("remote_id", uint32(remote)).
		Int("actions", len(actions)).
		Msg("privileged transaction created")

	if err := p.svc.ProcessTransaction(ctx, remote); err != nil {
		p.logger.Error().Err(err).Uint32("remote_id", uint32(remote)).Msg("process transaction failed")
		p.unmap(remote)
		p.hub.Publish(local, events.NewError(core.PackageKey{}, fmt.Sprintf("process transaction: %v", err)))
		p.hub.Publish(local, events.Dispose{})
	}

	return newHandle(local, sub, p.Cancel), nil
}

// Cancel asks the helper to cancel the transaction known locally as id.
// The helper reports the outcome through the relay.
func (p *Proxy) Cancel(ctx context.Context, id core.TransactionID) error {
	p.mu.Lock()
	remote, ok := p.toRemote[id]
	p.mu.Unlock()
	if !ok {
		return ErrUnknownTransaction
	}
	if err := p.svc.CancelTransaction(ctx, remote); err != nil {
		return fmt.Errorf("cancel remote transaction %d: %w", remote, err)
	}
	return nil
}

// EnsureAvailable checks the helper version and, at most once per
// process, runs the installer when the helper is missing or outdated.
// Callers arriving while the install runs wait for its result.
func (p *Proxy) EnsureAvailable(ctx context.Context) error {
	err := p.checkVersion(ctx)
	if err == nil {
		return nil
	}
	if p.installer == nil {
		return fmt.Errorf("%w: %w", ErrHelperUnavailable, err)
	}

	p.mu.Lock()
	first := p.installDone == nil
	if first {
		p.installDone = make(chan struct{})
	}
	done := p.installDone
	p.mu.Unlock()

	if first {
		p.logger.Warn().Err(err).Msg("privileged helper not available, installing")
		ierr := p.installer.Install(ctx)
		p.mu.Lock()
		p.installErr = ierr
		p.mu.Unlock()
		close(done)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for helper install: %w", ErrHelperUnavailable, ctx.Err())
	}

	p.mu.Lock()
	ierr := p.installErr
	p.mu.Unlock()
	if ierr != nil {
		return fmt.Errorf("%w: install helper: %w", ErrHelperUnavailable, ierr)
	}

	if err := p.checkVersion(ctx); err != nil {
		return fmt.Errorf("%w: after install: %w", ErrHelperUnavailable, err)
	}
	if first {
		p.logger.Info().Msg("privileged helper installed")
	}
	return nil
}

// Close stops the event relay
func (p *Proxy) Close() error {
	p.cancel()
	p.mu.Lock()
	stream := p.relayStream
	p.mu.Unlock()
	if stream != nil {
		return stream.Close()
	}
	return nil
}

func (p *Proxy) checkVersion(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CheckTimeout)
	defer cancel()

	version, err := p.svc.Version(ctx)
	if err != nil {
		return fmt.Errorf("check helper version: %w", err)
	}
	if version != p.cfg.ExpectedVersion {
		return &VersionMismatchError{Got: version, Want: p.cfg.ExpectedVersion}
	}
	return nil
}

func (p *Proxy) ensureRelay() error {
	p.relayMu.Lock()
	defer p.relayMu.Unlock()

	p.mu.Lock()
	up := p.relayUp
	p.mu.Unlock()
	if up {
		return nil
	}

	if err := p.ctx.Err(); err != nil {
		return fmt.Errorf("proxy closed: %w", err)
	}

	stream, err := p.svc.Watch(p.ctx)
	if err != nil {
		return fmt.Errorf("open event relay: %w", err)
	}

	p.mu.Lock()
	p.relayUp = true
	p.relayStream = stream
	p.mu.Unlock()

	go p.relay(stream)
	return nil
}

func (p *Proxy) relay(stream PushStream) {
	for {
		remote, payload, err := stream.Recv()
		if err != nil {
			p.relayFailed(stream, err)
			return
		}

		payloadID, ev, err := events.UnmarshalWire(payload)
		if err != nil {
			p.logger.Warn().Err(err).Uint32("remote_id", uint32(remote)).Msg("dropping undecodable helper event")
			continue
		}
		if payloadID != remote {
			p.logger.Warn().
				Uint32("remote_id", uint32(remote)).
				Uint32("payload_id", uint32(payloadID)).
				Msg("helper event id mismatch, using frame id")
		}

		p.mu.Lock()
		local, ok := p.toLocal[remote]
		if ok && events.IsTerminal(ev) {
			delete(p.toLocal, remote)
			delete(p.toRemote, local)
		}
		p.mu.Unlock()

		if !ok {
			p.logger.Debug().
				Uint32("remote_id", uint32(remote)).
				Str("event", ev.Kind()).
				Msg("dropping event for unknown transaction")
			continue
		}

		p.hub.Publish(local, ev)
	}
}

func (p *Proxy) relayFailed(stream PushStream, err error) {
	_ = stream.Close()

	p.mu.Lock()
	if p.relayStream == stream {
		p.relayUp = false
		p.relayStream = nil
	}
	orphans := make([]core.TransactionID, 0, len(p.toRemote))
	for local := range p.toRemote {
		orphans = append(orphans, local)
	}
	p.toLocal = make(map[core.TransactionID]core.TransactionID)
	p.toRemote = make(map[core.TransactionID]core.TransactionID)
	p.mu.Unlock()

	if p.ctx.Err() != nil {
		p.logger.Debug().Msg("event relay closed")
	} else {
		p.logger.Error().Err(err).Int("orphaned", len(orphans)).Msg("event relay failed")
	}

	for _, local := range orphans {
		p.hub.Publish(local, events.NewError(core.PackageKey{}, ConnectionLostMessage))
		p.hub.Publish(local, events.Dispose{})
	}
}

func (p *Proxy) unmap(remote core.TransactionID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if local, ok := p.toLocal[remote]; ok {
		delete(p.toRemote, local)
	}
	delete(p.toLocal, remote)
}
