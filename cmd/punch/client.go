package main

import (
	"context"
	"errors"
	"time"

	"github.com/op/go-logging"
	"github.com/urfave/cli"

	"github.com/cestef/punch/internal/client"
	"github.com/cestef/punch/internal/config"
	"github.com/cestef/punch/internal/identity"
	"github.com/cestef/punch/internal/logger"
	"github.com/cestef/punch/internal/puncherr"
	"github.com/cestef/punch/internal/supervisor"
	"github.com/cestef/punch/internal/transport"
	"github.com/cestef/punch/internal/transport/quic"
	"github.com/cestef/punch/internal/ui"
	"github.com/cestef/punch/internal/wire"
)

// remoteDialer narrows a quic.Endpoint to the transport.Endpoint
// surface the client core expects: there is no peer-discovery layer,
// so the server's network address is supplied once via --addr and
// fixed for the life of the dialer.
type remoteDialer struct {
	ep   *quic.Endpoint
	addr string
}

func (d *remoteDialer) NodeIdentity() identity.NodeIdentity { return d.ep.NodeIdentity() }

func (d *remoteDialer) Dial(ctx context.Context, id identity.NodeIdentity) (transport.Session, error) {
	return d.ep.Dial(ctx, id, d.addr)
}

func (d *remoteDialer) Accept(ctx context.Context) (transport.Session, error) {
	return d.ep.Accept(ctx)
}

func (d *remoteDialer) Close() error { return d.ep.Close() }

func clientCommand(c *cli.Context) (err error) {
	logger.Setup("punch", logging.INFO)

	if c.NArg() < 2 {
		PrintFatal("usage: punch client <target> <local:remote> [--protocol tcp|udp] --addr <host:port>")
	}
	target := c.Args().Get(0)
	localPort, remotePort, err := client.ParseMapping(c.Args().Get(1))
	if err != nil {
		PrintFatal("%s", err.Error())
	}
	protocol, err := wire.ProtocolFromString(c.String("protocol"))
	if err != nil {
		PrintFatal("%s", err.Error())
	}
	addr := c.String("addr")
	if addr == "" {
		PrintFatal("--addr is required: the network address of the server endpoint")
	}

	sk, err := loadSecretKey(c)
	if err != nil {
		PrintFatal("%s", err.Error())
	}
	mgr, err := config.NewManager()
	if err != nil {
		PrintFatal("%s", err.Error())
	}
	book, err := mgr.LoadClientConfig()
	if err != nil {
		PrintFatal("%s", err.Error())
	}

	id, known, err := client.ResolveTarget(book, target)
	if err != nil {
		if errors.Is(err, puncherr.ErrInvalidTarget) {
			PrintFatal("%q is neither a known host nor a valid node identity", target)
		}
		PrintFatal("%s", err.Error())
	}
	if !known {
		ui.Info("%s is not in your known hosts", ui.Identity(id))
		add, err := ui.Confirm("Add it?")
		if err == nil && add {
			name, err := ui.PromptText("Name for this host:")
			if err != nil {
				PrintFatal("%s", err.Error())
			}
			if _, err := client.AddHost(mgr, book, name, c.String("description"), id, time.Now().Unix()); err != nil {
				PrintFatal("%s", err.Error())
			}
			ui.Success("added %s as %q", ui.Identity(id), name)
		}
	}

	ep, err := quic.Listen("0.0.0.0:0", sk)
	if err != nil {
		PrintFatal("%s", err.Error())
	}
	defer ep.Close()

	retries := client.DefaultMaxRetries
	if book.Settings.MaxRetries > 0 {
		retries = book.Settings.MaxRetries
	}

	ui.Info("connecting to %s at %s", ui.Identity(id), addr)
	sess, err := client.DialWithRetry(context.Background(), &remoteDialer{ep: ep, addr: addr}, id, retries, client.DefaultRetryDelay)
	if err != nil {
		PrintFatal("%s", err.Error())
	}

	if err := client.Handshake(sess, protocol, remotePort, client.DefaultAuthWindow); err != nil {
		var closed *puncherr.ConnectionClosed
		if errors.As(err, &closed) {
			PrintFatal("server refused the tunnel: %s", closed.Code.Reason())
		}
		PrintFatal("%s", err.Error())
	}

	if book.TouchHost(id, time.Now().Unix()) {
		if err := mgr.SaveClientConfig(book); err != nil {
			PrintErr("failed to record last connection: %v", err)
		}
	}

	ui.Success("tunnel up: 127.0.0.1:%d -> %s:%d (%s)", localPort, ui.Identity(id), remotePort, protocol)

	sup := supervisor.New()
	sup.Watch()
	defer sup.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sup.Stop()
		cancel()
	}()

	cs := client.NewSession(sess, protocol, localPort, remotePort)
	if err := cs.Run(ctx); err != nil {
		PrintFatal("%s", err.Error())
	}

	select {
	case <-sess.Done():
		if code, ok := sess.CloseCode(); ok {
			ui.Warning("session closed by server: %s", code.Reason())
		} else {
			ui.Warning("session closed")
		}
	default:
		sess.Close(0, "client shutting down")
		ui.Info("tunnel closed")
	}
	return
}
