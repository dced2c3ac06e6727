package client

import (
	"context"
	"testing"
	"time"

	"github.com/cestef/punch/internal/identity"
	"github.com/cestef/punch/internal/puncherr"
	"github.com/cestef/punch/internal/transport"
	"github.com/cestef/punch/internal/transport/tcpbox"
	"github.com/cestef/punch/internal/wire"
)

func sessionPair(t *testing.T) (clientSess, serverSess transport.Session) {
	t.Helper()
	registry := tcpbox.NewRegistry()

	serverKey, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	serverEp, err := tcpbox.Listen(serverKey, registry)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { serverEp.Close() })

	clientKey, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	clientEp, err := tcpbox.Listen(clientKey, registry)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { clientEp.Close() })

	accepted := make(chan transport.Session, 1)
	go func() {
		sess, err := serverEp.Accept(context.Background())
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		accepted <- sess
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clientSess, err = clientEp.Dial(ctx, serverKey.Public())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return clientSess, <-accepted
}

func TestHandshakeSucceedsWhenServerStaysQuiet(t *testing.T) {
	clientSess, serverSess := sessionPair(t)
	defer clientSess.Close(0, "")
	defer serverSess.Close(0, "")

	recvDone := make(chan struct{})
	go func() {
		serverSess.ReceiveDatagram(context.Background())
		serverSess.ReceiveDatagram(context.Background())
		close(recvDone)
	}()

	if err := Handshake(clientSess, wire.Tcp, 8080, 50*time.Millisecond); err != nil {
		t.Fatalf("expected handshake to succeed, got %v", err)
	}
	<-recvDone
}

func TestHandshakeFailsWhenServerClosesWithinWindow(t *testing.T) {
	clientSess, serverSess := sessionPair(t)
	defer clientSess.Close(0, "")

	go func() {
		serverSess.ReceiveDatagram(context.Background())
		serverSess.ReceiveDatagram(context.Background())
		serverSess.Close(wire.Unauthorized, wire.Unauthorized.Reason())
	}()

	err := Handshake(clientSess, wire.Tcp, 8080, 2*time.Second)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	var closed *puncherr.ConnectionClosed
	if !asConnectionClosed(err, &closed) {
		t.Fatalf("expected a ConnectionClosed error, got %v (%T)", err, err)
	}
	if closed.Code != wire.Unauthorized {
		t.Fatalf("expected Unauthorized, got %v", closed.Code)
	}
}

func asConnectionClosed(err error, target **puncherr.ConnectionClosed) bool {
	if cc, ok := err.(*puncherr.ConnectionClosed); ok {
		*target = cc
		return true
	}
	return false
}
