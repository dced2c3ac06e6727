package client

import (
	"time"

	"github.com/cestef/punch/internal/puncherr"
	"github.com/cestef/punch/internal/transport"
	"github.com/cestef/punch/internal/wire"
)

// Handshake sends the two handshake datagrams and then waits up to
// authWindow for the server to reject the session.
// If the session closes within the window, the transport close code
// is translated into the matching CloseCode and returned as a
// ConnectionClosed error. Otherwise the session is considered
// authorized.
func Handshake(sess transport.Session, protocol wire.Protocol, remotePort uint16, authWindow time.Duration) error {
	if err := sess.SendDatagram(wire.EncodeProtocolDatagram(protocol)); err != nil {
		return &puncherr.Transport{Op: "send protocol datagram", Err: err}
	}
	if err := sess.SendDatagram(wire.EncodePortDatagram(remotePort)); err != nil {
		return &puncherr.Transport{Op: "send port datagram", Err: err}
	}

	select {
	case <-sess.Done():
		code, ok := sess.CloseCode()
		if !ok {
			code = wire.Unknown
		}
		return &puncherr.ConnectionClosed{Code: code}
	case <-time.After(authWindow):
		return nil
	}
}
