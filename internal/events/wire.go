package events

import (
	"encoding/json"
	"fmt"

	"github.com/quantmind-br/pahkat/internal/core"
)

// wireMessage is the JSON shape exchanged with the privileged helper. One
// struct covers every variant; optional fields are pointers so that absent
// values survive a round trip.
type wireMessage struct {
	Type           string                `json:"type"`
	ID             core.TransactionID    `json:"id"`
	PackageKey     *core.PackageKey      `json:"packageKey,omitempty"`
	Actions        []core.ResolvedAction `json:"actions,omitempty"`
	RequiresReboot *bool                 `json:"requiresReboot,omitempty"`
	Current        *uint64               `json:"current,omitempty"`
	Total          *uint64               `json:"total,omitempty"`
	Message        *string               `json:"message,omitempty"`
	Error          *wireError            `json:"error,omitempty"`
}

type wireError struct {
	Message *string `json:"message,omitempty"`
}

// MarshalWire encodes an event for transaction id
func MarshalWire(id core.TransactionID, ev Event) ([]byte, error) {
	msg := wireMessage{Type: ev.Kind(), ID: id}

	switch e := ev.(type) {
	case Started:
		actions := e.Actions
		if actions == nil {
			actions = []core.ResolvedAction{}
		}
		msg.Actions = actions
		msg.RequiresReboot = &e.RequiresReboot
	case DownloadProgress:
		msg.PackageKey = &e.Key
		msg.Current = &e.Current
		msg.Total = &e.Total
	case DownloadComplete:
		msg.PackageKey = &e.Key
	case InstallStarted:
		msg.PackageKey = &e.Key
	case UninstallStarted:
		msg.PackageKey = &e.Key
	case Progress:
		msg.PackageKey = &e.Key
		msg.Message = e.Message
		msg.Current = &e.Current
		msg.Total = &e.Total
	case Error:
		msg.PackageKey = e.Key
		msg.Error = &wireError{Message: e.Message}
	case Completed, Cancelled, Dispose:
	default:
		return nil, fmt.Errorf("marshal event: unsupported type %T", ev)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", ev.Kind(), err)
	}
	return data, nil
}

// UnmarshalWire decodes a wire payload into its transaction id and event
func UnmarshalWire(data []byte) (core.TransactionID, Event, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return 0, nil, fmt.Errorf("unmarshal event: %w", err)
	}

	requireKey := func() (core.PackageKey, error) {
		if msg.PackageKey == nil || msg.PackageKey.IsZero() {
			return core.PackageKey{}, fmt.Errorf("unmarshal event %q: missing packageKey", msg.Type)
		}
		return *msg.PackageKey, nil
	}

	var ev Event
	switch msg.Type {
	case KindStarted:
		started := Started{Actions: msg.Actions}
		if started.Actions == nil {
			started.Actions = []core.ResolvedAction{}
		}
		if msg.RequiresReboot != nil {
			started.RequiresReboot = *msg.RequiresReboot
		}
		ev = started
	case KindDownloadProgress:
		key, err := requireKey()
		if err != nil {
			return 0, nil, err
		}
		ev = DownloadProgress{Key: key, Current: deref(msg.Current), Total: deref(msg.Total)}
	case KindDownloadComplete:
		key, err := requireKey()
		if err != nil {
			return 0, nil, err
		}
		ev = DownloadComplete{Key: key}
	case KindInstallStarted:
		key, err := requireKey()
		if err != nil {
			return 0, nil, err
		}
		ev = InstallStarted{Key: key}
	case KindUninstallStarted:
		key, err := requireKey()
		if err != nil {
			return 0, nil, err
		}
		ev = UninstallStarted{Key: key}
	case KindProgress:
		key, err := requireKey()
		if err != nil {
			return 0, nil, err
		}
		ev = Progress{Key: key, Message: msg.Message, Current: deref(msg.Current), Total: deref(msg.Total)}
	case KindError:
		e := Error{Key: msg.PackageKey}
		if msg.Error != nil {
			e.Message = msg.Error.Message
		}
		ev = e
	case KindCompleted:
		ev = Completed{}
	case KindCancelled:
		ev = Cancelled{}
	case KindDispose:
		ev = Dispose{}
	case "":
		return 0, nil, fmt.Errorf("unmarshal event: missing type")
	default:
		return 0, nil, fmt.Errorf("unmarshal event: unknown type %q", msg.Type)
	}

	return msg.ID, ev, nil
}

func deref(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}
