package transaction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quantmind-br/pahkat/internal/core"
	"github.com/quantmind-br/pahkat/internal/events"
	"github.com/quantmind-br/pahkat/internal/hub"
	"github.com/rs/zerolog"
)

var (
	keyA = core.MustParsePackageKey("https://pahkat.uit.no/main/packages/speller-sme")
	keyB = core.MustParsePackageKey("https://pahkat.uit.no/main/packages/keyboard-sme")
)

func nopLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

func newTestHub() *hub.Hub {
	return hub.New(nopLogger())
}

func drain(t *testing.T, h *Handle) []events.Event {
	t.Helper()
	var got []events.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("transaction did not terminate")
			return nil
		}
	}
}

func kinds(evs []events.Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind()
	}
	return out
}

type packageError struct {
	key core.PackageKey
	msg string
}

func (e *packageError) Error() string               { return e.msg }
func (e *packageError) PackageKey() core.PackageKey { return e.key }

// fakeEngine reports script for every run, then returns err. When block is
// set it waits for cancellation after reporting.
type fakeEngine struct {
	script     []events.Event
	err        error
	resolveErr error
	block      bool
	started    chan struct{}
}

func (e *fakeEngine) Resolve(_ context.Context, actions []core.PackageAction) (*Resolution, error) {
	if e.resolveErr != nil {
		return nil, e.resolveErr
	}
	res := &Resolution{}
	for _, a := range actions {
		res.Actions = append(res.Actions, core.ResolvedAction{PackageAction: a, Name: a.Key.ID, Version: "1.0.0"})
	}
	return res, nil
}

func (e *fakeEngine) Run(ctx context.Context, _ *Resolution, report Reporter) error {
	for _, ev := range e.script {
		report(ev)
	}
	if e.started != nil {
		close(e.started)
	}
	if e.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return e.err
}

type frame struct {
	id      core.TransactionID
	payload []byte
}

type fakeStream struct {
	frames chan frame
	closed chan struct{}
	once   sync.Once
	fail   chan error
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		frames: make(chan frame, 64),
		closed: make(chan struct{}),
		fail:   make(chan error, 1),
	}
}

func (s *fakeStream) Recv() (core.TransactionID, []byte, error) {
	select {
	case f := <-s.frames:
		return f.id, f.payload, nil
	case err := <-s.fail:
		return 0, nil, err
	case <-s.closed:
		return 0, nil, context.Canceled
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// fakeService is an in-memory helper. onProcess scripts what the helper
// pushes for a processed transaction.
type fakeService struct {
	mu         sync.Mutex
	version    string
	versionErr error
	blockCheck bool
	nextID     core.TransactionID
	stream     *fakeStream
	watchErr   error
	processErr error
	cancelled  []core.TransactionID
	configPath string
	onProcess  func(s *fakeService, id core.TransactionID)
}

func newFakeService() *fakeService {
	return &fakeService{version: "test", nextID: 100, stream: newFakeStream()}
}

func (s *fakeService) Version(ctx context.Context) (string, error) {
	s.mu.Lock()
	version, err, block := s.version, s.versionErr, s.blockCheck
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return version, err
}

func (s *fakeService) CreateTransaction(_ context.Context, _ []core.PackageAction, configPath string) (core.TransactionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configPath = configPath
	id := s.nextID
	s.nextID++
	return id, nil
}

func (s *fakeService) ProcessTransaction(_ context.Context, id core.TransactionID) error {
	if s.processErr != nil {
		return s.processErr
	}
	if s.onProcess != nil {
		go s.onProcess(s, id)
	}
	return nil
}

func (s *fakeService) CancelTransaction(_ context.Context, id core.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, id)
	return nil
}

func (s *fakeService) Watch(context.Context) (PushStream, error) {
	if s.watchErr != nil {
		return nil, s.watchErr
	}
	return s.stream, nil
}

func (s *fakeService) push(id core.TransactionID, ev events.Event) {
	payload, err := events.MarshalWire(id, ev)
	if err != nil {
		panic(err)
	}
	s.stream.frames <- frame{id: id, payload: payload}
}

type countingInstaller struct {
	mu    sync.Mutex
	calls int
	err   error
	fix   func()
}

func (i *countingInstaller) Install(context.Context) error {
	i.mu.Lock()
	i.calls++
	i.mu.Unlock()
	if i.err != nil {
		return i.err
	}
	if i.fix != nil {
		i.fix()
	}
	return nil
}

func (i *countingInstaller) Calls() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.calls
}

var errBoom = errors.New("boom")
