package main

import (
	"context"

	"github.com/op/go-logging"
	"github.com/urfave/cli"

	"github.com/cestef/punch/internal/config"
	"github.com/cestef/punch/internal/logger"
	"github.com/cestef/punch/internal/server"
	"github.com/cestef/punch/internal/supervisor"
	"github.com/cestef/punch/internal/transport/quic"
	"github.com/cestef/punch/internal/ui"
)

func serverCommand(c *cli.Context) (err error) {
	logger.Setup("punch", logging.INFO)

	sk, err := loadSecretKey(c)
	if err != nil {
		PrintFatal("%s", err.Error())
	}
	mgr, err := config.NewManager()
	if err != nil {
		PrintFatal("%s", err.Error())
	}
	cfg, err := mgr.LoadServerConfig()
	if err != nil {
		PrintFatal("%s", err.Error())
	}
	if len(cfg.AuthorizedKeys) == 0 {
		ui.Warning("no authorized keys configured, no client will be able to connect")
		ui.Warning("authorize one with: punch auth add <identity>")
	}

	ep, err := quic.Listen(c.String("listen"), sk)
	if err != nil {
		PrintFatal("%s", err.Error())
	}
	defer ep.Close()

	ui.Success("server listening on %s", c.String("listen"))
	ui.Info("node identity: %s", ui.Identity(sk.Public()))

	sup := supervisor.New()
	sup.Watch()
	defer sup.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sup.Stop()
		cancel()
		ep.Close()
	}()

	srv := server.New(ep, mgr, cfg.Settings.MaxConnections)
	if err := srv.Run(ctx); err != nil {
		PrintFatal("%s", err.Error())
	}
	ui.Info("server stopped")
	return
}
