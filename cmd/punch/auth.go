package main

import (
	"fmt"

	"github.com/urfave/cli"

	"github.com/cestef/punch/internal/authz"
	"github.com/cestef/punch/internal/config"
	"github.com/cestef/punch/internal/identity"
	"github.com/cestef/punch/internal/ui"
)

func authListCommand(c *cli.Context) (err error) {
	mgr, err := config.NewManager()
	if err != nil {
		PrintFatal("%s", err.Error())
	}
	cfg, err := mgr.LoadServerConfig()
	if err != nil {
		PrintFatal("%s", err.Error())
	}
	if len(cfg.AuthorizedKeys) == 0 {
		ui.Warning("no authorized keys, add one with: punch auth add <identity>")
		return
	}
	for _, k := range cfg.AuthorizedKeys {
		id, err := identity.ParseNodeIdentity(k)
		if err != nil {
			PrintErr("skipping corrupt entry %q: %v", k, err)
			continue
		}
		fmt.Printf("%s  %s\n", ui.Identity(id), k)
	}
	return
}

func authAddCommand(c *cli.Context) (err error) {
	if c.NArg() < 1 {
		PrintFatal("usage: punch auth add <identity>")
	}
	id, err := identity.ParseNodeIdentity(c.Args().Get(0))
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
	if !authz.Authorize(cfg, id) {
		ui.Info("%s is already authorized", ui.Identity(id))
		return
	}
	if err := mgr.SaveServerConfig(cfg); err != nil {
		PrintFatal("%s", err.Error())
	}
	ui.Success("authorized %s", ui.Identity(id))
	return
}

func authRemoveCommand(c *cli.Context) (err error) {
	if c.NArg() < 1 {
		PrintFatal("usage: punch auth remove <identity>")
	}
	id, err := identity.ParseNodeIdentity(c.Args().Get(0))
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
	if !authz.Revoke(cfg, id) {
		ui.Warning("%s was not authorized", ui.Identity(id))
		return
	}
	if err := mgr.SaveServerConfig(cfg); err != nil {
		PrintFatal("%s", err.Error())
	}
	ui.Success("revoked %s", ui.Identity(id))
	return
}

func authMyKeyCommand(c *cli.Context) (err error) {
	sk, err := loadSecretKey(c)
	if err != nil {
		PrintFatal("%s", err.Error())
	}
	fmt.Println(sk.Public().String())
	return
}
