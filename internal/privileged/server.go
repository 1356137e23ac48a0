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

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
)

// ActionFunc handles one request. raw is the whole CBOR request including
// the action field. A non-nil result is placed in the response data.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// StreamFunc prepares a stream for one request. The returned Streamer owns
// the connection once the server has acknowledged the request, and returns
// when the stream ends. An error is sent to the client instead of the ack.
type StreamFunc func(ctx context.Context, raw []byte) (Streamer, error)

// Streamer writes stream frames to conn
type Streamer func(conn net.Conn)

// Authorizer decides whether the peer on conn may use the server
type Authorizer func(conn net.Conn) error

const (
	readTimeout    = 30 * time.Second
	writeTimeout   = 10 * time.Second
	maxRequestSize = 1024 * 1024
)

// Server serves the helper protocol on a Unix socket. Each connection
// carries one request; stream actions keep the connection open.
type Server struct {
	socketPath string
	socketMode os.FileMode
	handlers   map[string]ActionFunc
	streams    map[string]StreamFunc
	authorize  Authorizer
	logger     *zerolog.Logger

	active sync.WaitGroup
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithAuthorizer rejects connections for which auth returns an error
func WithAuthorizer(auth Authorizer) ServerOption {
	return func(s *Server) {
		s.authorize = auth
	}
}

// WithSocketMode sets the permissions of the socket file
func WithSocketMode(mode os.FileMode) ServerOption {
	return func(s *Server) {
		s.socketMode = mode
	}
}

// NewServer creates a server that will listen on socketPath
func NewServer(socketPath string, logger *zerolog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		socketPath: socketPath,
		socketMode: 0o660,
		handlers:   make(map[string]ActionFunc),
		streams:    make(map[string]StreamFunc),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle registers a request-response action. Panics on duplicates.
func (s *Server) Handle(action string, fn ActionFunc) {
	s.mustBeNew(action)
	s.handlers[action] = fn
}

// HandleStream registers a streaming action. Panics on duplicates.
func (s *Server) HandleStream(action string, fn StreamFunc) {
	s.mustBeNew(action)
	s.streams[action] = fn
}

func (s *Server) mustBeNew(action string) {
	_, dup := s.handlers[action]
	_, dupStream := s.streams[action]
	if dup || dupStream {
		panic(fmt.Sprintf("privileged.Server: duplicate handler for action %q", action))
	}
}

// Serve accepts connections until ctx is cancelled, then waits for active
// connections to finish. A stale socket file is replaced; the socket file
// is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	if err := os.Chmod(s.socketPath, s.socketMode); err != nil {
		return fmt.Errorf("chmod socket %s: %w", s.socketPath, err)
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info().Str("path", s.socketPath).Msg("helper listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error().Err(err).Msg("accept failed")
			continue
		}

		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.active.Wait()
	s.logger.Info().Msg("helper stopped")
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if s.authorize != nil {
		if err := s.authorize(conn); err != nil {
			s.logger.Warn().Err(err).Msg("rejected connection")
			s.writeError(conn, "permission denied")
			return
		}
	}

	ctx = WithPeer(ctx, connPeer(conn))

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	var raw cbor.RawMessage
	if err := newDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	var header struct {
		Action string `cbor:"action"`
	}
	if err := unmarshal(raw, &header); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, "missing required field: action")
		return
	}

	if stream, ok := s.streams[header.Action]; ok {
		streamer, err := stream(ctx, []byte(raw))
		if err != nil {
			s.writeError(conn, err.Error())
			return
		}
		s.logger.Debug().Str("action", header.Action).Msg("stream opened")
		if !s.writeSuccess(conn, nil) {
			// A closed connection makes the streamer release its resources.
			conn.Close()
		}
		streamer(conn)
		s.logger.Debug().Str("action", header.Action).Msg("stream closed")
		return
	}

	handler, ok := s.handlers[header.Action]
	if !ok {
		s.writeError(conn, fmt.Sprintf("unknown action %q", header.Action))
		return
	}

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		s.logger.Debug().Err(err).Str("action", header.Action).Msg("action failed")
		s.writeError(conn, err.Error())
		return
	}

	s.writeSuccess(conn, result)
}

func (s *Server) writeError(conn net.Conn, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := newEncoder(conn).Encode(Response{OK: false, Error: message}); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write error response")
	}
}

func (s *Server) writeSuccess(conn net.Conn, result any) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}
	if result != nil {
		data, err := marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("internal: marshal response: %v", err))
			return false
		}
		response.Data = data
	}

	if err := newEncoder(conn).Encode(response); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write response")
		return false
	}
	_ = conn.SetWriteDeadline(time.Time{})
	return true
}
