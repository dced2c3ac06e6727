// Package client implements the tunnel client: target resolution,
// dial-with-retry, handshake, and local TCP/UDP bridging.
package client

import (
	"context"
	"fmt"
	"net"

	"github.com/cestef/punch/internal/bridge"
	"github.com/cestef/punch/internal/transport"
	"github.com/cestef/punch/internal/wire"
)

// Session bridges one local listener (or UDP socket) to one remote
// transport session for the lifetime of the tunnel.
type Session struct {
	sess       transport.Session
	protocol   wire.Protocol
	localPort  uint16
	remotePort uint16
}

func NewSession(sess transport.Session, protocol wire.Protocol, localPort, remotePort uint16) *Session {
	return &Session{sess: sess, protocol: protocol, localPort: localPort, remotePort: remotePort}
}

// Run binds the local socket and bridges traffic until ctx is
// cancelled or the session ends, whichever comes first.
func (s *Session) Run(ctx context.Context) error {
	switch s.protocol {
	case wire.Tcp:
		return s.runTCP(ctx)
	case wire.Udp:
		return s.runUDP(ctx)
	default:
		return fmt.Errorf("unsupported protocol %s", s.protocol)
	}
}

func (s *Session) runTCP(ctx context.Context) error {
	ln, err := net.Listen("tcp", localAddr(s.localPort))
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	go func() {
		<-s.sess.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-s.sess.Done():
				return nil
			default:
				return err
			}
		}
		go func(conn net.Conn) {
			send, recv, err := s.sess.OpenBi(ctx)
			if err != nil {
				log.Warningf("open bi stream: %v", err)
				conn.Close()
				return
			}
			bridge.TCP(conn.(*net.TCPConn), send, recv)
		}(conn)
	}
}

func (s *Session) runUDP(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", localAddr(s.localPort))
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}

	send, err := s.sess.OpenUni(ctx)
	if err != nil {
		conn.Close()
		return err
	}

	done := make(chan struct{})
	go func() {
		bridge.UDPIngest(ctx, conn, send, s.sess.DatagramMTU())
		close(done)
	}()

	select {
	case <-ctx.Done():
	case <-s.sess.Done():
	case <-done:
	}
	conn.Close()
	return nil
}

func localAddr(port uint16) string {
	return net.JoinHostPort("127.0.0.1", fmt.Sprint(port))
}
