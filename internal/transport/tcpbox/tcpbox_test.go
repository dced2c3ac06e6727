package tcpbox

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/cestef/punch/internal/identity"
)

func genKey(t *testing.T) identity.SecretKey {
	t.Helper()
	sk, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	return sk
}

func dialAndAccept(t *testing.T) (client *Endpoint, server *Endpoint, clientSess, serverSess *Session) {
	t.Helper()
	registry := NewRegistry()

	serverKey := genKey(t)
	server, err := Listen(serverKey, registry)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { server.Close() })

	clientKey := genKey(t)
	client, err = Listen(clientKey, registry)
	if err != nil {
		t.Fatalf("listen client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	type acceptResult struct {
		sess *Session
		err  error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		sess, err := server.Accept(context.Background())
		if err != nil {
			accepted <- acceptResult{nil, err}
			return
		}
		accepted <- acceptResult{sess.(*Session), nil}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	dialed, err := client.Dial(ctx, serverKey.Public())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	r := <-accepted
	if r.err != nil {
		t.Fatalf("accept: %v", r.err)
	}
	return client, server, dialed.(*Session), r.sess
}

func TestHandshakeEstablishesIdentityBoundSession(t *testing.T) {
	client, server, clientSess, serverSess := dialAndAccept(t)
	defer client.Close()
	defer server.Close()

	if clientSess.PeerIdentity() != server.NodeIdentity() {
		t.Fatal("client session does not see server's identity")
	}
	if serverSess.PeerIdentity() != client.NodeIdentity() {
		t.Fatal("server session does not see client's identity")
	}
}

func TestDialRejectsWrongIdentity(t *testing.T) {
	registry := NewRegistry()
	serverKey := genKey(t)
	server, err := Listen(serverKey, registry)
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	go func() {
		sess, err := server.Accept(context.Background())
		if err == nil {
			sess.Close(0, "")
		}
	}()

	clientKey := genKey(t)
	client, err := Listen(clientKey, registry)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	wrong := genKey(t).Public()
	registry.register(wrong, server.ln.Addr().String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Dial(ctx, wrong); err == nil {
		t.Fatal("expected dial to a mismatched identity to fail")
	}
}

func TestBidirectionalStreamCarriesData(t *testing.T) {
	client, server, clientSess, serverSess := dialAndAccept(t)
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		send, recv, err := serverSess.AcceptBi(context.Background())
		if err != nil {
			done <- err
			return
		}
		buf := make([]byte, 5)
		if _, err := io.ReadFull(recv, buf); err != nil {
			done <- err
			return
		}
		if string(buf) != "hello" {
			done <- io.ErrUnexpectedEOF
			return
		}
		if _, err := send.Write([]byte("world")); err != nil {
			done <- err
			return
		}
		done <- send.Close()
	}()

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
	if string(buf) != "world" {
		t.Fatalf("unexpected reply: %q", buf)
	}
	if err := <-done; err != nil {
		t.Fatalf("server side: %v", err)
	}
}

func TestDatagramRoundTrip(t *testing.T) {
	client, server, clientSess, serverSess := dialAndAccept(t)
	defer client.Close()
	defer server.Close()

	if err := clientSess.SendDatagram([]byte("ping")); err != nil {
		t.Fatalf("send: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := serverSess.ReceiveDatagram(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(got) != "ping" {
		t.Fatalf("unexpected datagram: %q", got)
	}
}

func TestDatagramExceedingMTUIsRejected(t *testing.T) {
	client, server, clientSess, _ := dialAndAccept(t)
	defer client.Close()
	defer server.Close()

	oversized := make([]byte, datagramMTU+1)
	if err := clientSess.SendDatagram(oversized); err == nil {
		t.Fatal("expected oversized datagram to be rejected")
	}
}

func TestCloseSignalsDoneOnBothSides(t *testing.T) {
	client, server, clientSess, serverSess := dialAndAccept(t)
	defer client.Close()
	defer server.Close()

	clientSess.Close(1, "unauthorized")

	select {
	case <-serverSess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("server session never observed close")
	}
}
