package privileged

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
)

// ErrNoPeerCredentials is returned where the platform cannot identify the
// peer of a Unix socket
var ErrNoPeerCredentials = errors.New("peer credentials unavailable on this platform")

// PeerUID returns the user ID of the process on the other end of conn
func PeerUID(conn net.Conn) (uint32, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return 0, fmt.Errorf("not a unix socket connection: %T", conn)
	}

	raw, err := unixConn.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("access socket: %w", err)
	}

	var uid uint32
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		uid, credErr = peerUID(int(fd))
	}); err != nil {
		return 0, fmt.Errorf("access socket: %w", err)
	}
	if credErr != nil {
		return 0, credErr
	}
	return uid, nil
}

// UIDAuthorizer admits root and the listed users. An empty list admits any
// local user. Where peer credentials are unavailable the socket file mode
// is the only guard.
func UIDAuthorizer(allowed []uint32) Authorizer {
	return func(conn net.Conn) error {
		uid, err := PeerUID(conn)
		if errors.Is(err, ErrNoPeerCredentials) {
			return nil
		}
		if err != nil {
			return err
		}
		if uid == 0 || len(allowed) == 0 || slices.Contains(allowed, uid) {
			return nil
		}
		return fmt.Errorf("uid %d is not allowed", uid)
	}
}

// Peer identifies the client behind a request. Known is false where the
// platform cannot report peer credentials.
type Peer struct {
	UID   uint32
	Known bool
}

type peerKey struct{}

// WithPeer returns a context carrying the requesting peer
func WithPeer(ctx context.Context, p Peer) context.Context {
	return context.WithValue(ctx, peerKey{}, p)
}

// PeerFromContext returns the peer stored by WithPeer, or an unknown peer
func PeerFromContext(ctx context.Context) Peer {
	p, _ := ctx.Value(peerKey{}).(Peer)
	return p
}

// MayAccess reports whether p may see or control a transaction created by
// owner. Root may access everything; unidentified peers are not restricted.
func (p Peer) MayAccess(owner Peer) bool {
	if !p.Known || !owner.Known || p.UID == 0 {
		return true
	}
	return p.UID == owner.UID
}

func connPeer(conn net.Conn) Peer {
	uid, err := PeerUID(conn)
	if err != nil {
		return Peer{}
	}
	return Peer{UID: uid, Known: true}
}
