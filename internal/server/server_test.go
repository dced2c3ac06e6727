package server

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/cestef/punch/internal/config"
	"github.com/cestef/punch/internal/identity"
	"github.com/cestef/punch/internal/transport/tcpbox"
	"github.com/cestef/punch/internal/wire"
)

func managerAt(t *testing.T, dir string, cfg *config.ServerConfig) *config.Manager {
	t.Helper()
	mgr := config.NewManagerForDir(dir)
	if err := mgr.SaveServerConfig(cfg); err != nil {
		t.Fatal(err)
	}
	return mgr
}

func genKey(t *testing.T) identity.SecretKey {
	t.Helper()
	sk, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	return sk
}

func TestHandleSessionRejectsUnauthorizedPeer(t *testing.T) {
	registry := tcpbox.NewRegistry()
	serverKey := genKey(t)
	serverEp, err := tcpbox.Listen(serverKey, registry)
	if err != nil {
		t.Fatal(err)
	}
	defer serverEp.Close()

	clientKey := genKey(t)
	clientEp, err := tcpbox.Listen(clientKey, registry)
	if err != nil {
		t.Fatal(err)
	}
	defer clientEp.Close()

	cfg := &config.ServerConfig{Settings: config.Settings{MaxConnections: 10, AllowedPorts: [2]int{1024, 65535}}}
	mgr := managerAt(t, t.TempDir(), cfg)
	srv := New(serverEp, mgr, 10)

	go func() {
		sess, err := serverEp.Accept(context.Background())
		if err != nil {
			return
		}
		srv.handleSession(context.Background(), sess)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clientSess, err := clientEp.Dial(ctx, serverKey.Public())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	select {
	case <-clientSess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("expected session to be closed as unauthorized")
	}
	code, ok := clientSess.CloseCode()
	if !ok || code != wire.Unauthorized {
		t.Fatalf("expected Unauthorized close code, got %v ok=%v", code, ok)
	}
}

func TestHandleSessionBridgesAuthorizedTCP(t *testing.T) {
	echoLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer echoLn.Close()
	go func() {
		conn, err := echoLn.Accept()
		if err != nil {
			return
		}
		io.Copy(conn, conn)
	}()
	echoPort := uint16(echoLn.Addr().(*net.TCPAddr).Port)

	registry := tcpbox.NewRegistry()
	serverKey := genKey(t)
	serverEp, err := tcpbox.Listen(serverKey, registry)
	if err != nil {
		t.Fatal(err)
	}
	defer serverEp.Close()

	clientKey := genKey(t)
	clientEp, err := tcpbox.Listen(clientKey, registry)
	if err != nil {
		t.Fatal(err)
	}
	defer clientEp.Close()

	cfg := &config.ServerConfig{
		AuthorizedKeys: []string{clientKey.Public().String()},
		Settings:       config.Settings{MaxConnections: 10, AllowedPorts: [2]int{1024, 65535}},
	}
	mgr := managerAt(t, t.TempDir(), cfg)
	srv := New(serverEp, mgr, 10)

	go func() {
		sess, err := serverEp.Accept(context.Background())
		if err != nil {
			return
		}
		srv.handleSession(context.Background(), sess)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clientSess, err := clientEp.Dial(ctx, serverKey.Public())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if err := clientSess.SendDatagram(wire.EncodeProtocolDatagram(wire.Tcp)); err != nil {
		t.Fatalf("send protocol datagram: %v", err)
	}
	if err := clientSess.SendDatagram(wire.EncodePortDatagram(echoPort)); err != nil {
		t.Fatalf("send port datagram: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	select {
	case <-clientSess.Done():
		t.Fatal("session should remain open for an authorized, in-range request")
	default:
	}

	send, recv, err := clientSess.OpenBi(context.Background())
	if err != nil {
		t.Fatalf("open bi: %v", err)
	}
	if _, err := send.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := io.ReadFull(recv, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("expected echoed hello, got %q", buf)
	}
}

func TestHandleSessionRejectsDisallowedPort(t *testing.T) {
	registry := tcpbox.NewRegistry()
	serverKey := genKey(t)
	serverEp, err := tcpbox.Listen(serverKey, registry)
	if err != nil {
		t.Fatal(err)
	}
	defer serverEp.Close()

	clientKey := genKey(t)
	clientEp, err := tcpbox.Listen(clientKey, registry)
	if err != nil {
		t.Fatal(err)
	}
	defer clientEp.Close()

	cfg := &config.ServerConfig{
		AuthorizedKeys: []string{clientKey.Public().String()},
		Settings:       config.Settings{MaxConnections: 10, AllowedPorts: [2]int{2000, 3000}},
	}
	mgr := managerAt(t, t.TempDir(), cfg)
	srv := New(serverEp, mgr, 10)

	go func() {
		sess, err := serverEp.Accept(context.Background())
		if err != nil {
			return
		}
		srv.handleSession(context.Background(), sess)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clientSess, err := clientEp.Dial(ctx, serverKey.Public())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	clientSess.SendDatagram(wire.EncodeProtocolDatagram(wire.Tcp))
	clientSess.SendDatagram(wire.EncodePortDatagram(80))

	select {
	case <-clientSess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("expected session to close for a disallowed port")
	}
	code, ok := clientSess.CloseCode()
	if !ok || code != wire.InvalidPort {
		t.Fatalf("expected InvalidPort, got %v ok=%v", code, ok)
	}
}

func TestHandleSessionRejectsInvalidProtocolByte(t *testing.T) {
	registry := tcpbox.NewRegistry()
	serverKey := genKey(t)
	serverEp, err := tcpbox.Listen(serverKey, registry)
	if err != nil {
		t.Fatal(err)
	}
	defer serverEp.Close()

	clientKey := genKey(t)
	clientEp, err := tcpbox.Listen(clientKey, registry)
	if err != nil {
		t.Fatal(err)
	}
	defer clientEp.Close()

	cfg := &config.ServerConfig{
		AuthorizedKeys: []string{clientKey.Public().String()},
		Settings:       config.Settings{MaxConnections: 10, AllowedPorts: [2]int{1024, 65535}},
	}
	mgr := managerAt(t, t.TempDir(), cfg)
	srv := New(serverEp, mgr, 10)

	go func() {
		sess, err := serverEp.Accept(context.Background())
		if err != nil {
			return
		}
		srv.handleSession(context.Background(), sess)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clientSess, err := clientEp.Dial(ctx, serverKey.Public())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	clientSess.SendDatagram([]byte{0x42})
	clientSess.SendDatagram(wire.EncodePortDatagram(8080))

	select {
	case <-clientSess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("expected session to close for an invalid protocol byte")
	}
	code, ok := clientSess.CloseCode()
	if !ok || code != wire.InvalidProtocol {
		t.Fatalf("expected InvalidProtocol, got %v ok=%v", code, ok)
	}
	if _, recorded := srv.intents.Lookup(clientKey.Public()); recorded {
		t.Fatal("no intent should be recorded for a rejected session")
	}
}

func TestHandleSessionRefusesBeyondMaxConnections(t *testing.T) {
	registry := tcpbox.NewRegistry()
	serverKey := genKey(t)
	serverEp, err := tcpbox.Listen(serverKey, registry)
	if err != nil {
		t.Fatal(err)
	}
	defer serverEp.Close()

	firstKey := genKey(t)
	firstEp, err := tcpbox.Listen(firstKey, registry)
	if err != nil {
		t.Fatal(err)
	}
	defer firstEp.Close()

	secondKey := genKey(t)
	secondEp, err := tcpbox.Listen(secondKey, registry)
	if err != nil {
		t.Fatal(err)
	}
	defer secondEp.Close()

	cfg := &config.ServerConfig{
		AuthorizedKeys: []string{firstKey.Public().String(), secondKey.Public().String()},
		Settings:       config.Settings{MaxConnections: 1, AllowedPorts: [2]int{1024, 65535}},
	}
	mgr := managerAt(t, t.TempDir(), cfg)
	srv := New(serverEp, mgr, 1)

	go func() {
		for {
			sess, err := serverEp.Accept(context.Background())
			if err != nil {
				return
			}
			go srv.handleSession(context.Background(), sess)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	firstSess, err := firstEp.Dial(ctx, serverKey.Public())
	if err != nil {
		t.Fatalf("first dial: %v", err)
	}
	defer firstSess.Close(0, "")
	firstSess.SendDatagram(wire.EncodeProtocolDatagram(wire.Tcp))
	firstSess.SendDatagram(wire.EncodePortDatagram(8080))

	// Give the first session time to occupy the only slot.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if srv.intents.Active() == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first session never acquired the connection slot")
		}
		time.Sleep(10 * time.Millisecond)
	}

	secondSess, err := secondEp.Dial(ctx, serverKey.Public())
	if err != nil {
		t.Fatalf("second dial: %v", err)
	}
	select {
	case <-secondSess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("expected second session to be refused at capacity")
	}
	if _, recorded := srv.intents.Lookup(secondKey.Public()); recorded {
		t.Fatal("refused session must not record an intent")
	}

	select {
	case <-firstSess.Done():
		t.Fatal("first session should be unaffected by the refusal")
	default:
	}
}

func TestConcurrentStreamsDoNotCrossData(t *testing.T) {
	echoLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer echoLn.Close()
	go func() {
		for {
			conn, err := echoLn.Accept()
			if err != nil {
				return
			}
			go io.Copy(conn, conn)
		}
	}()
	echoPort := uint16(echoLn.Addr().(*net.TCPAddr).Port)

	registry := tcpbox.NewRegistry()
	serverKey := genKey(t)
	serverEp, err := tcpbox.Listen(serverKey, registry)
	if err != nil {
		t.Fatal(err)
	}
	defer serverEp.Close()

	clientKey := genKey(t)
	clientEp, err := tcpbox.Listen(clientKey, registry)
	if err != nil {
		t.Fatal(err)
	}
	defer clientEp.Close()

	cfg := &config.ServerConfig{
		AuthorizedKeys: []string{clientKey.Public().String()},
		Settings:       config.Settings{MaxConnections: 10, AllowedPorts: [2]int{1024, 65535}},
	}
	mgr := managerAt(t, t.TempDir(), cfg)
	srv := New(serverEp, mgr, 10)

	go func() {
		sess, err := serverEp.Accept(context.Background())
		if err != nil {
			return
		}
		srv.handleSession(context.Background(), sess)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clientSess, err := clientEp.Dial(ctx, serverKey.Public())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer clientSess.Close(0, "")

	clientSess.SendDatagram(wire.EncodeProtocolDatagram(wire.Tcp))
	clientSess.SendDatagram(wire.EncodePortDatagram(echoPort))
	time.Sleep(100 * time.Millisecond)

	payloads := []string{"stream-one-payload", "stream-two-payload"}
	type result struct {
		got string
		err error
	}
	results := make(chan result, len(payloads))
	for _, p := range payloads {
		go func(p string) {
			send, recv, err := clientSess.OpenBi(context.Background())
			if err != nil {
				results <- result{err: err}
				return
			}
			if _, err := send.Write([]byte(p)); err != nil {
				results <- result{err: err}
				return
			}
			buf := make([]byte, len(p))
			if _, err := io.ReadFull(recv, buf); err != nil {
				results <- result{err: err}
				return
			}
			results <- result{got: string(buf)}
		}(p)
	}

	seen := map[string]bool{}
	for range payloads {
		r := <-results
		if r.err != nil {
			t.Fatalf("stream failed: %v", r.err)
		}
		seen[r.got] = true
	}
	for _, p := range payloads {
		if !seen[p] {
			t.Fatalf("payload %q was not echoed back intact", p)
		}
	}
}
