// Package puncherr collects the tunnel's named error kinds:
// package-level sentinels for the simple cases, small structs where
// the caller needs to carry a close code or an operation name.
package puncherr

import (
	"errors"
	"fmt"

	"github.com/cestef/punch/internal/wire"
)

var (
	ErrInvalidTarget = errors.New("target is neither a known host nor a valid node identity")
	ErrInteractive   = errors.New("prompt cancelled")
	ErrInvalidInput  = errors.New("handshake bytes missing or out of range")
)

// ConnectionClosed reports the remote peer closed the session with a
// known application close code.
type ConnectionClosed struct {
	Code wire.CloseCode
}

func (e *ConnectionClosed) Error() string {
	return fmt.Sprintf("connection closed: %s", e.Code.Reason())
}

// Transport wraps a failure surfaced by the transport layer (dial,
// accept, stream, or datagram operations).
type Transport struct {
	Op  string
	Err error
}

func (e *Transport) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *Transport) Unwrap() error { return e.Err }
