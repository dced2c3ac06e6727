// Package tcpbox is a Transport backend over plain TCP, used by the
// test suite for deterministic loopback sessions without the
// self-signed-TLS/QUIC plumbing internal/transport/quic needs.
//
// The handshake is an ephemeral X25519 exchange via
// golang.org/x/crypto/nacl/box, authenticated by an Ed25519 signature
// over the ephemeral public key so each side proves it owns the
// NodeIdentity it claims. The shared secret then seals
// length-prefixed frames with nacl/secretbox. Streams and the single
// best-effort "datagram" channel are multiplexed over that encrypted
// connection with github.com/hashicorp/yamux.
package tcpbox

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/cestef/punch/internal/identity"
	"github.com/cestef/punch/internal/transport"
	"github.com/cestef/punch/internal/wire"
	"github.com/hashicorp/yamux"
)

// Registry maps node identities to dialable loopback addresses, a
// minimal in-process stand-in for peer discovery. Only meaningful
// within a single process/test.
type Registry struct {
	mu   sync.Mutex
	addr map[identity.NodeIdentity]string
}

func NewRegistry() *Registry {
	return &Registry{addr: make(map[identity.NodeIdentity]string)}
}

func (r *Registry) register(id identity.NodeIdentity, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addr[id] = addr
}

func (r *Registry) lookup(id identity.NodeIdentity) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.addr[id]
	return a, ok
}

// Endpoint is a tcpbox Transport endpoint bound to one TCP listener.
type Endpoint struct {
	sk       identity.SecretKey
	ln       net.Listener
	registry *Registry
}

// Listen binds a loopback TCP listener for sk and registers it in
// registry under its NodeIdentity.
func Listen(sk identity.SecretKey, registry *Registry) (*Endpoint, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	registry.register(sk.Public(), ln.Addr().String())
	return &Endpoint{sk: sk, ln: ln, registry: registry}, nil
}

func (e *Endpoint) NodeIdentity() identity.NodeIdentity { return e.sk.Public() }

func (e *Endpoint) Close() error { return e.ln.Close() }

func (e *Endpoint) Dial(ctx context.Context, id identity.NodeIdentity) (transport.Session, error) {
	addr, ok := e.registry.lookup(id)
	if !ok {
		return nil, fmt.Errorf("tcpbox: no known address for %s", id.Short())
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return handshake(conn, e.sk, &id, true)
}

func (e *Endpoint) Accept(ctx context.Context) (transport.Session, error) {
	conn, err := e.ln.Accept()
	if err != nil {
		return nil, err
	}
	return handshake(conn, e.sk, nil, false)
}

const datagramMTU = 1200

// handshakeFrame is [identity(32)][ephemeral pubkey(32)][signature(64)].
const handshakeFrameLen = 32 + 32 + 64

func handshake(conn net.Conn, sk identity.SecretKey, want *identity.NodeIdentity, dialer bool) (*Session, error) {
	ephPub, ephPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}

	ourID := sk.Public()
	sig := ed25519.Sign(sk.Ed25519(), ephPub[:])

	out := make([]byte, 0, handshakeFrameLen)
	out = append(out, ourID[:]...)
	out = append(out, ephPub[:]...)
	out = append(out, sig...)

	writeDone := make(chan error, 1)
	go func() {
		_, err := conn.Write(out)
		writeDone <- err
	}()

	in := make([]byte, handshakeFrameLen)
	if _, err := io.ReadFull(conn, in); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	if err := <-writeDone; err != nil {
		conn.Close()
		return nil, fmt.Errorf("write handshake: %w", err)
	}

	var peerID identity.NodeIdentity
	copy(peerID[:], in[:32])
	var peerEphPub [32]byte
	copy(peerEphPub[:], in[32:64])
	peerSig := in[64:128]

	if !ed25519.Verify(ed25519.PublicKey(peerID[:]), peerEphPub[:], peerSig) {
		conn.Close()
		return nil, errors.New("tcpbox: peer handshake signature invalid")
	}
	if want != nil && peerID != *want {
		conn.Close()
		return nil, fmt.Errorf("tcpbox: dialed %s but peer identified as %s", want.Short(), peerID.Short())
	}

	var shared [32]byte
	box.Precompute(&shared, &peerEphPub, ephPriv)

	sealed := &sealedConn{conn: conn, key: shared, isDialer: dialer}
	muxCfg := yamux.DefaultConfig()
	muxCfg.LogOutput = io.Discard

	var sess *yamux.Session
	if dialer {
		sess, err = yamux.Client(sealed, muxCfg)
	} else {
		sess, err = yamux.Server(sealed, muxCfg)
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("yamux: %w", err)
	}

	s := &Session{
		conn:     conn,
		mux:      sess,
		peer:     peerID,
		done:     make(chan struct{}),
		isDialer: dialer,
	}

	// Two dedicated streams ride alongside application streams: one
	// carries best-effort "datagrams", the other carries the
	// application close code the real QUIC backend's CloseWithError
	// delivers natively. The dialer opens both, the acceptor accepts
	// both, in the same order.
	if dialer {
		dgStream, err := sess.OpenStream()
		if err != nil {
			sess.Close()
			return nil, fmt.Errorf("open datagram stream: %w", err)
		}
		s.datagramStream = dgStream
		ctrlStream, err := sess.OpenStream()
		if err != nil {
			sess.Close()
			return nil, fmt.Errorf("open control stream: %w", err)
		}
		s.ctrlStream = ctrlStream
	} else {
		dgStream, err := sess.AcceptStream()
		if err != nil {
			sess.Close()
			return nil, fmt.Errorf("accept datagram stream: %w", err)
		}
		s.datagramStream = dgStream
		ctrlStream, err := sess.AcceptStream()
		if err != nil {
			sess.Close()
			return nil, fmt.Errorf("accept control stream: %w", err)
		}
		s.ctrlStream = ctrlStream
	}

	go s.watchClosed()
	go s.watchCtrl()
	return s, nil
}

// Session is a tcpbox-backed transport.Session.
type Session struct {
	conn           net.Conn
	mux            *yamux.Session
	peer           identity.NodeIdentity
	datagramStream net.Conn
	ctrlStream     net.Conn

	closeOnce sync.Once
	done      chan struct{}
	code      wire.CloseCode
	hasCode   bool
	isDialer  bool
}

func (s *Session) PeerIdentity() identity.NodeIdentity { return s.peer }

func (s *Session) watchClosed() {
	<-s.mux.CloseChan()
	s.closeOnce.Do(func() { close(s.done) })
}

// watchCtrl waits for the peer's Close to announce its code over the
// control stream, the stand-in for CloseWithError's wire-level code
// delivery in the real QUIC backend.
func (s *Session) watchCtrl() {
	hdr := make([]byte, 10)
	if _, err := io.ReadFull(s.ctrlStream, hdr); err != nil {
		return
	}
	code := wire.CloseCode(binary.BigEndian.Uint64(hdr[:8]))
	reasonLen := binary.BigEndian.Uint16(hdr[8:10])
	reason := make([]byte, reasonLen)
	io.ReadFull(s.ctrlStream, reason)

	s.code = code
	s.hasCode = true
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) OpenBi(ctx context.Context) (transport.SendStream, transport.RecvStream, error) {
	st, err := s.mux.OpenStream()
	if err != nil {
		return nil, nil, err
	}
	return st, st, nil
}

func (s *Session) AcceptBi(ctx context.Context) (transport.SendStream, transport.RecvStream, error) {
	st, err := s.mux.AcceptStream()
	if err != nil {
		return nil, nil, err
	}
	return st, st, nil
}

func (s *Session) OpenUni(ctx context.Context) (transport.SendStream, error) {
	st, err := s.mux.OpenStream()
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Session) AcceptUni(ctx context.Context) (transport.RecvStream, error) {
	st, err := s.mux.AcceptStream()
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Session) DatagramMTU() int { return datagramMTU }

func (s *Session) SendDatagram(b []byte) error {
	if len(b) > datagramMTU {
		return fmt.Errorf("tcpbox: datagram of %d bytes exceeds MTU %d", len(b), datagramMTU)
	}
	hdr := make([]byte, 2)
	binary.BigEndian.PutUint16(hdr, uint16(len(b)))
	if _, err := s.datagramStream.Write(hdr); err != nil {
		return err
	}
	_, err := s.datagramStream.Write(b)
	return err
}

func (s *Session) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	hdr := make([]byte, 2)
	if _, err := io.ReadFull(s.datagramStream, hdr); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(hdr)
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.datagramStream, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *Session) Close(code wire.CloseCode, reason string) error {
	s.code = code
	s.hasCode = true

	hdr := make([]byte, 10)
	binary.BigEndian.PutUint64(hdr[:8], code.Varint())
	binary.BigEndian.PutUint16(hdr[8:10], uint16(len(reason)))
	s.ctrlStream.Write(hdr)
	s.ctrlStream.Write([]byte(reason))

	err := s.mux.Close()
	s.closeOnce.Do(func() { close(s.done) })
	return err
}

func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) CloseCode() (wire.CloseCode, bool) { return s.code, s.hasCode }

// sealedConn wraps a net.Conn with nacl/secretbox-sealed,
// length-prefixed frames keyed by the handshake's shared secret. Each
// direction keeps its own monotonically increasing nonce counter so
// the two sides never reuse a nonce under the same key.
type sealedConn struct {
	conn     net.Conn
	key      [32]byte
	isDialer bool

	writeMu  sync.Mutex
	writeCtr uint64

	readMu  sync.Mutex
	readCtr uint64
	readBuf []byte
}

func nonceFor(ctr uint64, fromDialer bool) [24]byte {
	var n [24]byte
	if fromDialer {
		n[0] = 1
	}
	binary.BigEndian.PutUint64(n[16:], ctr)
	return n
}

func (c *sealedConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	nonce := nonceFor(c.writeCtr, c.isDialer)
	c.writeCtr++

	sealed := secretbox.Seal(nil, p, &nonce, &c.key)
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, uint32(len(sealed)))
	if _, err := c.conn.Write(hdr); err != nil {
		return 0, err
	}
	if _, err := c.conn.Write(sealed); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *sealedConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if len(c.readBuf) == 0 {
		hdr := make([]byte, 4)
		if _, err := io.ReadFull(c.conn, hdr); err != nil {
			return 0, err
		}
		n := binary.BigEndian.Uint32(hdr)
		sealed := make([]byte, n)
		if _, err := io.ReadFull(c.conn, sealed); err != nil {
			return 0, err
		}
		nonce := nonceFor(c.readCtr, !c.isDialer)
		c.readCtr++
		opened, ok := secretbox.Open(nil, sealed, &nonce, &c.key)
		if !ok {
			return 0, errors.New("tcpbox: frame authentication failed")
		}
		c.readBuf = opened
	}
	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

func (c *sealedConn) Close() error { return c.conn.Close() }
