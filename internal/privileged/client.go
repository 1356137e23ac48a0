package privileged

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/quantmind-br/pahkat/internal/core"
	"github.com/quantmind-br/pahkat/internal/transaction"
)

const (
	dialTimeout         = 5 * time.Second
	responseReadTimeout = 45 * time.Second
	maxResponseSize     = 1024 * 1024
)

// Client talks to the helper. It implements transaction.Service.
type Client struct {
	socketPath string
}

var _ transaction.Service = (*Client)(nil)

// NewClient creates a client for the helper listening on socketPath
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Version returns the helper's protocol version
func (c *Client) Version(ctx context.Context) (string, error) {
	var result versionResult
	if err := c.Call(ctx, ActionVersion, nil, &result); err != nil {
		return "", err
	}
	return result.Version, nil
}

// Status returns the helper's status
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var status Status
	if err := c.Call(ctx, ActionStatus, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// CreateTransaction registers actions with the helper and returns its ID
func (c *Client) CreateTransaction(ctx context.Context, actions []core.PackageAction, configPath string) (core.TransactionID, error) {
	var result createResult
	err := c.Call(ctx, ActionCreateTransaction, map[string]any{
		"actions":     actions,
		"config_path": configPath,
	}, &result)
	if err != nil {
		return 0, err
	}
	return result.ID, nil
}

// ProcessTransaction starts a created transaction
func (c *Client) ProcessTransaction(ctx context.Context, id core.TransactionID) error {
	return c.Call(ctx, ActionProcessTransaction, map[string]any{"id": id}, nil)
}

// CancelTransaction asks the helper to cancel a transaction
func (c *Client) CancelTransaction(ctx context.Context, id core.TransactionID) error {
	return c.Call(ctx, ActionCancelTransaction, map[string]any{"id": id}, nil)
}

// Call sends one request and decodes the response data into result
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("call %q: %w", action, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := newEncoder(conn).Encode(request(action, fields)); err != nil {
		return fmt.Errorf("call %q: write request: %w", action, err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		_ = unixConn.CloseWrite()
	}

	response, err := readResponse(conn)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("call %q: %w", action, ctx.Err())
		}
		return fmt.Errorf("call %q: %w", action, err)
	}
	if !response.OK {
		return &ServiceError{Action: action, Message: response.Error}
	}

	if result != nil && len(response.Data) > 0 {
		if err := unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("call %q: decode response: %w", action, err)
		}
	}
	return nil
}

// Watch opens the helper's event stream
func (c *Client) Watch(ctx context.Context) (transaction.PushStream, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}

	if err := newEncoder(conn).Encode(request(ActionWatch, nil)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("watch: write request: %w", err)
	}

	dec := newDecoder(conn)
	_ = conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var ack Response
	if err := dec.Decode(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("watch: read response: %w", err)
	}
	if !ack.OK {
		conn.Close()
		return nil, &ServiceError{Action: ActionWatch, Message: ack.Error}
	}
	_ = conn.SetReadDeadline(time.Time{})

	s := &watchStream{conn: conn, dec: dec}
	context.AfterFunc(ctx, func() { _ = s.Close() })
	return s, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", c.socketPath, err)
	}
	return conn, nil
}

func request(action string, fields map[string]any) map[string]any {
	req := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		req[k] = v
	}
	req["action"] = action
	return req
}

func readResponse(conn net.Conn) (*Response, error) {
	_ = conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := newDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &response, nil
}

type watchStream struct {
	conn net.Conn
	dec  *cbor.Decoder
	once sync.Once
}

func (s *watchStream) Recv() (core.TransactionID, []byte, error) {
	var frame Frame
	if err := s.dec.Decode(&frame); err != nil {
		return 0, nil, fmt.Errorf("read frame: %w", err)
	}
	return frame.ID, frame.Payload, nil
}

func (s *watchStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.conn.Close()
	})
	return err
}
