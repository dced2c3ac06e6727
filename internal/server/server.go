// Package server implements the tunnel server: the accept pipeline,
// per-peer intent recording, and the stream-accept loop that
// dispatches to the bridge engine.
package server

import (
	"context"
	"fmt"
	"net"

	"github.com/op/go-logging"

	"github.com/cestef/punch/internal/authz"
	"github.com/cestef/punch/internal/bridge"
	"github.com/cestef/punch/internal/config"
	"github.com/cestef/punch/internal/identity"
	"github.com/cestef/punch/internal/intent"
	"github.com/cestef/punch/internal/transport"
	"github.com/cestef/punch/internal/wire"
)

var log = logging.MustGetLogger("server")

// Acceptor is the slice of a transport endpoint the server needs:
// it only ever accepts inbound sessions.
type Acceptor interface {
	Accept(ctx context.Context) (transport.Session, error)
}

// Server accepts sessions on ep, authorizes each against the config
// loaded fresh through mgr, and bridges accepted streams to loopback
// sockets.
type Server struct {
	ep      Acceptor
	mgr     *config.Manager
	intents *intent.Table
	audit   *Audit
}

func New(ep Acceptor, mgr *config.Manager, maxConnections int) *Server {
	return &Server{
		ep:      ep,
		mgr:     mgr,
		intents: intent.NewTable(maxConnections),
		audit:   NewAudit(),
	}
}

// Run accepts sessions until ctx is cancelled. Each session is handled
// on its own goroutine; a single session's failure never tears down
// the accept loop.
func (s *Server) Run(ctx context.Context) error {
	for {
		sess, err := s.ep.Accept(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		go s.handleSession(ctx, sess)
	}
}

// handleSession runs the accept pipeline:
// Received -> AuthCheck -> ProtocolKnown -> IntentRecorded ->
// AcceptStreams/Terminated, with per-transition close-and-drop
// failure actions.
func (s *Server) handleSession(ctx context.Context, sess transport.Session) {
	peer := sess.PeerIdentity()
	s.audit.Event("Received", peer, "ok")

	cfg, err := s.mgr.LoadServerConfig()
	if err != nil {
		log.Errorf("load server config: %v", err)
		sess.Close(wire.Unknown, "server misconfigured")
		s.audit.Event("AuthCheck", peer, "config-error")
		return
	}
	az, err := authz.New(cfg)
	if err != nil {
		log.Errorf("build authorizer: %v", err)
		sess.Close(wire.Unknown, "server misconfigured")
		s.audit.Event("AuthCheck", peer, "config-error")
		return
	}

	if !az.IsAuthorized(peer) {
		log.Warningf("rejecting unauthorized peer %s", peer.Short())
		sess.Close(wire.Unauthorized, wire.Unauthorized.Reason())
		s.audit.Event("AuthCheck", peer, "unauthorized")
		return
	}
	s.audit.Event("AuthCheck", peer, "authorized")

	if !s.intents.TryAcquire() {
		log.Warningf("rejecting %s: at capacity (%d active)", peer.Short(), s.intents.Active())
		sess.Close(wire.Unknown, "server at capacity")
		s.audit.Event("AuthorizedPending", peer, "at-capacity")
		return
	}
	defer s.intents.Release()

	protoDatagram, err := sess.ReceiveDatagram(ctx)
	if err != nil {
		log.Warningf("%s: failed to read protocol datagram: %v", peer.Short(), err)
		sess.Close(wire.InvalidProtocol, wire.InvalidProtocol.Reason())
		s.audit.Event("ProtocolKnown", peer, "read-error")
		return
	}
	protocol, err := wire.DecodeProtocolDatagram(protoDatagram)
	if err != nil {
		log.Warningf("%s: invalid protocol datagram: %v", peer.Short(), err)
		sess.Close(wire.InvalidProtocol, wire.InvalidProtocol.Reason())
		s.audit.Event("ProtocolKnown", peer, "invalid")
		return
	}
	s.audit.Event("ProtocolKnown", peer, protocol.String())

	portDatagram, err := sess.ReceiveDatagram(ctx)
	if err != nil {
		log.Warningf("%s: failed to read port datagram: %v", peer.Short(), err)
		sess.Close(wire.InvalidPort, wire.InvalidPort.Reason())
		s.audit.Event("IntentRecorded", peer, "read-error")
		return
	}
	port, err := wire.DecodePortDatagram(portDatagram)
	if err != nil {
		log.Warningf("%s: invalid port datagram: %v", peer.Short(), err)
		sess.Close(wire.InvalidPort, wire.InvalidPort.Reason())
		s.audit.Event("IntentRecorded", peer, "invalid")
		return
	}
	if !az.IsPortAllowed(port) {
		log.Warningf("%s: requested port %d outside allowed range", peer.Short(), port)
		sess.Close(wire.InvalidPort, wire.InvalidPort.Reason())
		s.audit.Event("IntentRecorded", peer, "port-not-allowed")
		return
	}

	s.intents.Record(peer, intent.PeerIntent{Port: port, Protocol: protocol})
	defer s.intents.Remove(peer)
	s.audit.Event("IntentRecorded", peer, fmt.Sprintf("%s:%d", protocol, port))

	log.Noticef("accepted %s session for %s on port %d", protocol, peer.Short(), port)
	s.acceptStreams(ctx, sess, peer, protocol, port)
	s.audit.Event("Terminated", peer, "closed")
}

// acceptStreams runs the biased stream-accept loop: bidirectional
// streams are dispatched for Tcp intents, unidirectional streams for
// Udp intents; the other combination is a protocol error, logged and
// dropped. Streams are handled concurrently and independently.
func (s *Server) acceptStreams(ctx context.Context, sess transport.Session, peer identity.NodeIdentity, protocol wire.Protocol, port uint16) {
	biDone := make(chan struct{})
	uniDone := make(chan struct{})

	go func() {
		defer close(biDone)
		for {
			send, recv, err := sess.AcceptBi(ctx)
			if err != nil {
				return
			}
			if protocol != wire.Tcp {
				log.Warningf("%s: dropping bidirectional stream on a %s session", peer.Short(), protocol)
				send.Close()
				continue
			}
			go s.bridgeTCP(peer, port, send, recv)
		}
	}()

	go func() {
		defer close(uniDone)
		for {
			recv, err := sess.AcceptUni(ctx)
			if err != nil {
				return
			}
			if protocol != wire.Udp {
				log.Warningf("%s: dropping unidirectional stream on a %s session", peer.Short(), protocol)
				continue
			}
			go s.bridgeUDP(peer, port, recv)
		}
	}()

	<-sess.Done()
	<-biDone
	<-uniDone
}

func (s *Server) bridgeTCP(peer identity.NodeIdentity, port uint16, send transport.SendStream, recv transport.RecvStream) {
	conn, err := net.Dial("tcp", loopback(port))
	if err != nil {
		log.Warningf("%s: dial loopback port %d: %v", peer.Short(), port, err)
		send.Close()
		return
	}
	bridge.TCP(conn.(*net.TCPConn), send, recv)
}

func (s *Server) bridgeUDP(peer identity.NodeIdentity, port uint16, recv transport.RecvStream) {
	addr, err := net.ResolveUDPAddr("udp", loopback(port))
	if err != nil {
		log.Warningf("%s: resolve loopback port %d: %v", peer.Short(), port, err)
		return
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		log.Warningf("%s: dial loopback udp port %d: %v", peer.Short(), port, err)
		return
	}
	bridge.UDPForward(recv, conn)
}

func loopback(port uint16) string {
	return net.JoinHostPort("127.0.0.1", fmt.Sprint(port))
}
