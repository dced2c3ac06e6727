// Package quic is the production Transport backend: QUIC sessions
// over a self-signed, identity-pinned TLS configuration. There is no
// certificate authority — the host certificate is generated fresh
// from the node's own Ed25519 key, and the peer's NodeIdentity is
// recovered from that leaf certificate inside VerifyPeerCertificate.
// Trust is decided afterwards, at the application layer: the server's
// allowlist of peer identities (internal/authz).
package quic

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"github.com/cestef/punch/internal/identity"
	"github.com/cestef/punch/internal/transport"
	"github.com/cestef/punch/internal/wire"
)

// peerIdentityHolder carries the peer identity that
// VerifyPeerCertificate recovers synchronously during the TLS
// handshake, since quic-go does not thread custom values through it.
type peerIdentityHolder struct {
	mu sync.Mutex
	id identity.NodeIdentity
	ok bool
}

func (h *peerIdentityHolder) set(id identity.NodeIdentity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.id, h.ok = id, true
}

func (h *peerIdentityHolder) get() (identity.NodeIdentity, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id, h.ok
}

// Endpoint is a quic-go-backed transport.Endpoint bound to one UDP
// socket.
type Endpoint struct {
	sk  identity.SecretKey
	ln  *quicgo.Listener
	cfg *quicgo.Config
}

// Listen binds addr (e.g. "0.0.0.0:0") and starts accepting QUIC
// connections authenticated by sk's self-signed certificate.
func Listen(addr string, sk identity.SecretKey) (*Endpoint, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve udp addr: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}

	holder := &peerIdentityHolder{}
	tlsCfg, err := serverTLSConfig(sk, holder)
	if err != nil {
		udpConn.Close()
		return nil, err
	}

	qCfg := &quicgo.Config{
		EnableDatagrams: true,
		KeepAlivePeriod: 10 * time.Second,
		MaxIdleTimeout:  60 * time.Second,
	}

	ln, err := quicgo.Listen(udpConn, tlsCfg, qCfg)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("quic listen: %w", err)
	}

	return &Endpoint{sk: sk, ln: ln, cfg: qCfg}, nil
}

func (e *Endpoint) NodeIdentity() identity.NodeIdentity { return e.sk.Public() }

func (e *Endpoint) Close() error { return e.ln.Close() }

func (e *Endpoint) Accept(ctx context.Context) (transport.Session, error) {
	conn, err := e.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	peer, ok := peerIdentityFromConn(conn)
	if !ok {
		conn.CloseWithError(0, "missing peer identity")
		return nil, errors.New("quic: accepted connection without a recoverable peer identity")
	}
	return newSession(conn, peer), nil
}

// Dial connects to addr, which the caller resolves out of band; id is
// the identity the caller expects to authenticate, verified against
// the certificate the peer presents.
func (e *Endpoint) Dial(ctx context.Context, id identity.NodeIdentity, addr string) (transport.Session, error) {
	holder := &peerIdentityHolder{}
	tlsCfg, err := clientTLSConfig(e.sk, id, holder)
	if err != nil {
		return nil, err
	}
	conn, err := quicgo.DialAddr(ctx, addr, tlsCfg, e.cfg)
	if err != nil {
		return nil, fmt.Errorf("quic dial: %w", err)
	}
	peer, ok := holder.get()
	if !ok || peer != id {
		conn.CloseWithError(0, "peer identity mismatch")
		return nil, fmt.Errorf("quic: dialed %s but peer did not present a matching certificate", id.Short())
	}
	return newSession(conn, peer), nil
}

func peerIdentityFromConn(conn *quicgo.Conn) (identity.NodeIdentity, bool) {
	state := conn.ConnectionState().TLS
	if len(state.PeerCertificates) == 0 {
		return identity.NodeIdentity{}, false
	}
	return identityFromCert(state.PeerCertificates[0])
}

func identityFromCert(cert *x509.Certificate) (identity.NodeIdentity, bool) {
	pub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return identity.NodeIdentity{}, false
	}
	var id identity.NodeIdentity
	copy(id[:], pub)
	return id, true
}

// Session wraps a *quic.Conn as a transport.Session.
type Session struct {
	conn *quicgo.Conn
	peer identity.NodeIdentity

	closeOnce sync.Once
	done      chan struct{}
	code      wire.CloseCode
	hasCode   bool
}

func newSession(conn *quicgo.Conn, peer identity.NodeIdentity) *Session {
	s := &Session{conn: conn, peer: peer, done: make(chan struct{})}
	go s.watchClosed()
	return s
}

func (s *Session) watchClosed() {
	<-s.conn.Context().Done()
	var appErr *quicgo.ApplicationError
	if errors.As(context.Cause(s.conn.Context()), &appErr) {
		s.code = wire.CloseCodeFromVarint(uint64(appErr.ErrorCode))
		s.hasCode = true
	}
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) PeerIdentity() identity.NodeIdentity { return s.peer }

func (s *Session) OpenBi(ctx context.Context) (transport.SendStream, transport.RecvStream, error) {
	st, err := s.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, nil, err
	}
	return st, st, nil
}

func (s *Session) AcceptBi(ctx context.Context) (transport.SendStream, transport.RecvStream, error) {
	st, err := s.conn.AcceptStream(ctx)
	if err != nil {
		return nil, nil, err
	}
	return st, st, nil
}

func (s *Session) OpenUni(ctx context.Context) (transport.SendStream, error) {
	st, err := s.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Session) AcceptUni(ctx context.Context) (transport.RecvStream, error) {
	st, err := s.conn.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Session) SendDatagram(b []byte) error {
	return s.conn.SendDatagram(b)
}

func (s *Session) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return s.conn.ReceiveDatagram(ctx)
}

// datagramMTU is the guaranteed-safe QUIC datagram payload size:
// quic-go does not expose the negotiated maximum, and 1200 bytes fits
// every path the minimum QUIC packet size can traverse.
const datagramMTU = 1200

func (s *Session) DatagramMTU() int {
	return datagramMTU
}

func (s *Session) Close(code wire.CloseCode, reason string) error {
	err := s.conn.CloseWithError(quicgo.ApplicationErrorCode(code.Varint()), reason)
	s.code = code
	s.hasCode = true
	s.closeOnce.Do(func() { close(s.done) })
	return err
}

func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) CloseCode() (wire.CloseCode, bool) { return s.code, s.hasCode }

// serverTLSConfig builds a self-signed, Ed25519-keyed certificate for
// sk and a peer verifier that recovers the dialer's identity from
// whatever certificate it presents, accepting any identity at the TLS
// layer — authorization happens afterwards in internal/authz.
func serverTLSConfig(sk identity.SecretKey, holder *peerIdentityHolder) (*tls.Config, error) {
	cert, err := selfSignedCert(sk)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates:          []tls.Certificate{cert},
		ClientAuth:            tls.RequireAnyClientCert,
		InsecureSkipVerify:    true,
		NextProtos:            []string{transport.ALPN},
		VerifyPeerCertificate: pinVerifier(holder),
	}, nil
}

// clientTLSConfig builds a client-side config that presents sk's own
// certificate and pins the expected server identity.
func clientTLSConfig(sk identity.SecretKey, want identity.NodeIdentity, holder *peerIdentityHolder) (*tls.Config, error) {
	cert, err := selfSignedCert(sk)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates:          []tls.Certificate{cert},
		InsecureSkipVerify:    true,
		NextProtos:            []string{transport.ALPN},
		VerifyPeerCertificate: pinVerifier(holder),
		ServerName:            want.String(),
	}, nil
}

// pinVerifier recovers the peer's NodeIdentity from the leaf
// certificate's Ed25519 public key and stashes it on holder. No CA
// chain is validated; the caller compares the recovered identity
// against its authorized-keys allowlist (server) or the identity it
// dialed (client).
func pinVerifier(holder *peerIdentityHolder) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("quic: peer presented no certificate")
		}
		cert, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("quic: parse peer certificate: %w", err)
		}
		id, ok := identityFromCert(cert)
		if !ok {
			return errors.New("quic: peer certificate is not an Ed25519 key")
		}
		if !ed25519.Verify(ed25519.PublicKey(id[:]), cert.RawTBSCertificate, cert.Signature) {
			return errors.New("quic: peer certificate is not self-signed by its own key")
		}
		holder.set(id)
		return nil
	}
}

func selfSignedCert(sk identity.SecretKey) (tls.Certificate, error) {
	pub := sk.Ed25519().Public().(ed25519.PublicKey)
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return tls.Certificate{}, err
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: identity.NodeIdentity(pub).String()},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, sk.Ed25519())
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create self-signed certificate: %w", err)
	}
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  sk.Ed25519(),
	}, nil
}
