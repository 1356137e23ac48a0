// Package privileged implements the privileged helper: a CBOR request
// protocol on a Unix socket that runs system-scoped transactions on behalf
// of unprivileged clients and streams their progress back.
package privileged

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/quantmind-br/pahkat/internal/core"
)

// ProtocolVersion is reported by the helper and checked by clients before
// any transaction is forwarded. Bump it on any incompatible change.
const ProtocolVersion = "pahkat-helper/1"

// DefaultSocketPath is where the helper listens unless configured otherwise
const DefaultSocketPath = "/var/run/pahkat-helper.sock"

// Actions understood by the helper
const (
	ActionVersion            = "version"
	ActionStatus             = "status"
	ActionCreateTransaction  = "create_transaction"
	ActionProcessTransaction = "process_transaction"
	ActionCancelTransaction  = "cancel_transaction"
	ActionWatch              = "watch"
)

// Response is the envelope of every reply. A watch stream starts with a
// Response and continues with Frames.
type Response struct {
	OK    bool            `cbor:"ok"`
	Error string          `cbor:"error,omitempty"`
	Data  cbor.RawMessage `cbor:"data,omitempty"`
}

// Frame is one progress notification on a watch stream. Payload holds the
// JSON wire form of the event.
type Frame struct {
	ID      core.TransactionID `cbor:"id"`
	Payload []byte             `cbor:"payload"`
}

// ServiceError is a failure reported by the helper
type ServiceError struct {
	Action  string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("helper error on %q: %s", e.Action, e.Message)
}

type versionResult struct {
	Version string `cbor:"version"`
}

// Status describes a running helper
type Status struct {
	Version string               `cbor:"version"`
	PID     int                  `cbor:"pid"`
	Live    []core.TransactionID `cbor:"live"`
}

type createRequest struct {
	Actions    []core.PackageAction `cbor:"actions"`
	ConfigPath string               `cbor:"config_path,omitempty"`
}

type createResult struct {
	ID core.TransactionID `cbor:"id"`
}

type idRequest struct {
	ID core.TransactionID `cbor:"id"`
}
