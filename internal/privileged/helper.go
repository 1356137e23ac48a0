package privileged

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/quantmind-br/pahkat/internal/core"
	"github.com/quantmind-br/pahkat/internal/events"
	"github.com/quantmind-br/pahkat/internal/hub"
	"github.com/quantmind-br/pahkat/internal/security"
	"github.com/quantmind-br/pahkat/internal/transaction"
	"github.com/rs/zerolog"
)

// ErrNotOwner is returned when a peer addresses a transaction created by
// another user
var ErrNotOwner = errors.New("transaction belongs to another user")

// EngineFactory returns the engine for transactions created with the given
// client configuration file. An empty path means the helper's own.
type EngineFactory func(configPath string) (transaction.Engine, error)

// Helper runs forwarded transactions in the privileged process. Engines are
// created per client configuration and share one hub, so IDs stay unique.
type Helper struct {
	hub     *hub.Hub
	engines EngineFactory
	logger  *zerolog.Logger

	mu        sync.Mutex
	executors map[string]*transaction.Direct
	owners    map[core.TransactionID]owner
	watchers  map[*watcher]struct{}
}

// owner records which executor runs a transaction and who created it
type owner struct {
	direct *transaction.Direct
	peer   Peer
}

// watcher is one event stream. It learns the creator of every transaction
// created while it is open, so it can forward only what its peer may see.
type watcher struct {
	peer Peer

	mu     sync.Mutex
	owners map[core.TransactionID]Peer
}

func (w *watcher) add(id core.TransactionID, p Peer) {
	w.mu.Lock()
	w.owners[id] = p
	w.mu.Unlock()
}

// allow reports whether the event for id may be sent. Dispose is the last
// event of a transaction, so the entry is dropped after it.
func (w *watcher) allow(id core.TransactionID, ev events.Event) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.owners[id]
	if _, last := ev.(events.Dispose); last {
		delete(w.owners, id)
	}
	if !w.peer.Known || w.peer.UID == 0 {
		return true
	}
	return ok && w.peer.MayAccess(p)
}

// NewHelper creates a helper publishing on h
func NewHelper(h *hub.Hub, engines EngineFactory, logger *zerolog.Logger) *Helper {
	return &Helper{
		hub:       h,
		engines:   engines,
		logger:    logger,
		executors: make(map[string]*transaction.Direct),
		owners:    make(map[core.TransactionID]owner),
		watchers:  make(map[*watcher]struct{}),
	}
}

// Register installs the helper actions on s
func (h *Helper) Register(s *Server) {
	s.Handle(ActionVersion, h.handleVersion)
	s.Handle(ActionStatus, h.handleStatus)
	s.Handle(ActionCreateTransaction, h.handleCreate)
	s.Handle(ActionProcessTransaction, h.handleProcess)
	s.Handle(ActionCancelTransaction, h.handleCancel)
	s.HandleStream(ActionWatch, h.streamEvents)
}

// Wait blocks until every running transaction has finished
func (h *Helper) Wait() {
	h.mu.Lock()
	executors := make([]*transaction.Direct, 0, len(h.executors))
	for _, d := range h.executors {
		executors = append(executors, d)
	}
	h.mu.Unlock()

	for _, d := range executors {
		d.Wait()
	}
}

func (h *Helper) handleVersion(context.Context, []byte) (any, error) {
	return versionResult{Version: ProtocolVersion}, nil
}

func (h *Helper) handleStatus(context.Context, []byte) (any, error) {
	return Status{Version: ProtocolVersion, PID: os.Getpid(), Live: h.hub.Live()}, nil
}

func (h *Helper) handleCreate(ctx context.Context, raw []byte) (any, error) {
	var req createRequest
	if err := unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("invalid create request: %w", err)
	}
	if req.ConfigPath != "" {
		if err := security.ValidateAbsolutePath(req.ConfigPath); err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
	}

	direct, err := h.executor(req.ConfigPath)
	if err != nil {
		return nil, err
	}

	id, err := direct.Create(ctx, req.Actions)
	if err != nil {
		return nil, err
	}

	peer := PeerFromContext(ctx)

	h.mu.Lock()
	for owned := range h.owners {
		if !h.hub.IsLive(owned) {
			delete(h.owners, owned)
		}
	}
	h.owners[id] = owner{direct: direct, peer: peer}
	for w := range h.watchers {
		w.add(id, peer)
	}
	h.mu.Unlock()

	h.logger.Info().
		Uint32("transaction_id", uint32(id)).
		Uint32("peer_uid", peer.UID).
		Int("actions", len(req.Actions)).
		Str("config", req.ConfigPath).
		Msg("forwarded transaction created")

	return createResult{ID: id}, nil
}

func (h *Helper) handleProcess(ctx context.Context, raw []byte) (any, error) {
	direct, id, err := h.lookup(ctx, raw)
	if err != nil {
		return nil, err
	}
	return nil, direct.Process(id)
}

func (h *Helper) handleCancel(ctx context.Context, raw []byte) (any, error) {
	direct, id, err := h.lookup(ctx, raw)
	if err != nil {
		return nil, err
	}
	return nil, direct.Cancel(ctx, id)
}

func (h *Helper) lookup(ctx context.Context, raw []byte) (*transaction.Direct, core.TransactionID, error) {
	var req idRequest
	if err := unmarshal(raw, &req); err != nil {
		return nil, 0, fmt.Errorf("invalid request: %w", err)
	}

	h.mu.Lock()
	o, ok := h.owners[req.ID]
	h.mu.Unlock()
	if !ok {
		return nil, 0, fmt.Errorf("transaction %d: %w", req.ID, transaction.ErrUnknownTransaction)
	}

	peer := PeerFromContext(ctx)
	if !peer.MayAccess(o.peer) {
		h.logger.Warn().
			Uint32("transaction_id", uint32(req.ID)).
			Uint32("peer_uid", peer.UID).
			Uint32("owner_uid", o.peer.UID).
			Msg("rejected access to another user's transaction")
		return nil, 0, fmt.Errorf("transaction %d: %w", req.ID, ErrNotOwner)
	}
	return o.direct, req.ID, nil
}

func (h *Helper) executor(configPath string) (*transaction.Direct, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if d, ok := h.executors[configPath]; ok {
		return d, nil
	}

	engine, err := h.engines(configPath)
	if err != nil {
		return nil, fmt.Errorf("load engine: %w", err)
	}

	d := transaction.NewDirect(h.hub, engine, h.logger)
	h.executors[configPath] = d
	return d, nil
}

// streamEvents subscribes to the hub before the client is acknowledged and
// then forwards the events of transactions the peer may see until either
// side goes away
func (h *Helper) streamEvents(ctx context.Context, _ []byte) (Streamer, error) {
	w := &watcher{peer: PeerFromContext(ctx), owners: make(map[core.TransactionID]Peer)}

	ctx, cancel := context.WithCancel(ctx)
	feed := h.hub.Watch(ctx)

	h.mu.Lock()
	for id, o := range h.owners {
		w.owners[id] = o.peer
	}
	h.watchers[w] = struct{}{}
	h.mu.Unlock()

	return func(conn net.Conn) {
		defer cancel()
		defer feed.Close()
		defer func() {
			h.mu.Lock()
			delete(h.watchers, w)
			h.mu.Unlock()
		}()

		// The client never writes after its request; a read returning
		// means it hung up.
		go func() {
			_, _ = io.Copy(io.Discard, conn)
			cancel()
		}()

		enc := newEncoder(conn)
		for {
			select {
			case env, ok := <-feed.Events():
				if !ok {
					if err := feed.Err(); err != nil && !errors.Is(err, context.Canceled) {
						h.logger.Warn().Err(err).Msg("event feed ended")
					}
					return
				}
				if !w.allow(env.ID, env.Event) {
					continue
				}
				payload, err := events.MarshalWire(env.ID, env.Event)
				if err != nil {
					h.logger.Error().Err(err).Str("event", env.Event.Kind()).Msg("failed to encode event")
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := enc.Encode(Frame{ID: env.ID, Payload: payload}); err != nil {
					h.logger.Debug().Err(err).Msg("watch client went away")
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}, nil
}
