// Package bridge copies bytes between a local TCP/UDP socket and a
// remote multiplexed stream. It knows nothing about sessions,
// identities, or authorization; it is handed already-open endpoints
// and runs until one side is done.
package bridge

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/op/go-logging"

	"github.com/cestef/punch/internal/transport"
)

var log = logging.MustGetLogger("bridge")

// udpBufferSize is the fixed read-buffer size for both UDP directions.
const udpBufferSize = 65536

// TCP runs a bidirectional byte copy between a local TCP connection
// and a remote stream until either side reports EOF or error. The
// first half-close half-shuts-down the other side's write; once both
// directions are done, it returns. Errors are logged, never returned:
// a bridge failure must never tear down the owning session.
func TCP(local *net.TCPConn, send transport.SendStream, recv transport.RecvStream) {
	done := make(chan struct{}, 2)

	go func() {
		defer func() { done <- struct{}{} }()
		if _, err := io.Copy(send, local); err != nil && !isClosedErr(err) {
			log.Warningf("tcp bridge local->remote: %v", err)
		}
		send.Close()
	}()

	go func() {
		defer func() { done <- struct{}{} }()
		if _, err := io.Copy(local, recv); err != nil && !isClosedErr(err) {
			log.Warningf("tcp bridge remote->local: %v", err)
		}
		local.CloseWrite()
	}()

	<-done
	<-done
	local.Close()
}

// UDPForward is the server→local direction: it reads framed chunks off
// an inbound unidirectional stream and emits each chunk as one UDP
// datagram to a socket connected to 127.0.0.1:port. Stops on EOF or
// error.
func UDPForward(recv transport.RecvStream, conn *net.UDPConn) {
	defer conn.Close()
	buf := make([]byte, udpBufferSize)
	for {
		n, err := recv.Read(buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				log.Warningf("udp forward write: %v", werr)
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Warningf("udp forward read: %v", err)
			}
			return
		}
	}
}

// UDPIngest is the client→remote direction: it reads datagrams off a
// local UDP socket and writes each one as a single write onto an
// outbound unidirectional stream, dropping any packet larger than the
// transport's datagram MTU. Stops when ctx is cancelled or the socket
// errors.
func UDPIngest(ctx context.Context, conn *net.UDPConn, send transport.SendStream, mtu int) {
	defer send.Close()
	buf := make([]byte, udpBufferSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := conn.Read(buf)
		if err != nil {
			if !isClosedErr(err) {
				log.Warningf("udp ingest read: %v", err)
			}
			return
		}
		if n > mtu {
			log.Warningf("udp ingest: dropping %d byte packet exceeding mtu %d", n, mtu)
			continue
		}
		if _, err := send.Write(buf[:n]); err != nil {
			log.Warningf("udp ingest write: %v", err)
			return
		}
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
