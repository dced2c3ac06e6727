// Package transport defines the facade the tunnel core needs from an
// identity-bearing, multiplexed, secure transport: dial/accept
// sessions carrying a peer NodeIdentity, open/accept reliable
// bidirectional and unidirectional streams, send/receive unreliable
// datagrams, and close with an application-defined numeric code.
//
// The tunnel core depends only on this interface. Two concrete
// backends live under ./quic and ./tcpbox.
package transport

import (
	"context"
	"io"

	"github.com/cestef/punch/internal/identity"
	"github.com/cestef/punch/internal/wire"
)

// ALPN is the application protocol identifier negotiated at session
// setup.
const ALPN = "punch/0"

// Endpoint dials out to and accepts sessions from peers.
type Endpoint interface {
	// NodeIdentity is this endpoint's own identity.
	NodeIdentity() identity.NodeIdentity

	// Dial opens a session to the peer identified by id. Implementations
	// surface failures as ordinary errors; a *puncherr.ConnectionClosed
	// specifically signals the remote closed the session with an
	// application code.
	Dial(ctx context.Context, id identity.NodeIdentity) (Session, error)

	// Accept blocks until a new identity-bearing session arrives.
	Accept(ctx context.Context) (Session, error)

	Close() error
}

// Session is one authenticated, multiplexed connection to a peer.
type Session interface {
	PeerIdentity() identity.NodeIdentity

	OpenBi(ctx context.Context) (SendStream, RecvStream, error)
	AcceptBi(ctx context.Context) (SendStream, RecvStream, error)

	OpenUni(ctx context.Context) (SendStream, error)
	AcceptUni(ctx context.Context) (RecvStream, error)

	SendDatagram(b []byte) error
	ReceiveDatagram(ctx context.Context) ([]byte, error)
	DatagramMTU() int

	// Close ends the session with an application-defined code and
	// human-readable reason.
	Close(code wire.CloseCode, reason string) error

	// Done is closed when the session ends, by either side.
	Done() <-chan struct{}

	// CloseCode reports the code the session was closed with, valid
	// only after Done() has fired. ok is false for a transport-level
	// failure with no application close code.
	CloseCode() (code wire.CloseCode, ok bool)
}

// SendStream is a reliable, ordered, one-directional byte sink.
type SendStream interface {
	io.Writer
	io.Closer
}

// RecvStream is a reliable, ordered, one-directional byte source.
type RecvStream interface {
	io.Reader
}
