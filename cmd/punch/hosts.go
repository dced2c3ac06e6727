package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli"

	"github.com/cestef/punch/internal/config"
	"github.com/cestef/punch/internal/format"
	"github.com/cestef/punch/internal/identity"
	"github.com/cestef/punch/internal/ui"
)

func hostsAddCommand(c *cli.Context) (err error) {
	if c.NArg() < 2 {
		PrintFatal("usage: punch hosts add <name> <identity>")
	}
	name := c.Args().Get(0)
	id, err := identity.ParseNodeIdentity(c.Args().Get(1))
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
	h := config.Host{
		Name:        name,
		ID:          id.String(),
		Description: c.String("description"),
		AddedAt:     time.Now().Unix(),
	}
	if err := book.AddHost(h); err != nil {
		PrintFatal("%s", err.Error())
	}
	if err := mgr.SaveClientConfig(book); err != nil {
		PrintFatal("%s", err.Error())
	}
	ui.Success("added %s as %q", ui.Identity(id), name)
	return
}

func hostsRemoveCommand(c *cli.Context) (err error) {
	if c.NArg() < 1 {
		PrintFatal("usage: punch hosts remove <name or identity>")
	}
	mgr, err := config.NewManager()
	if err != nil {
		PrintFatal("%s", err.Error())
	}
	book, err := mgr.LoadClientConfig()
	if err != nil {
		PrintFatal("%s", err.Error())
	}
	h, ok := book.RemoveHost(c.Args().Get(0))
	if !ok {
		PrintFatal("no known host matches %q", c.Args().Get(0))
	}
	if err := mgr.SaveClientConfig(book); err != nil {
		PrintFatal("%s", err.Error())
	}
	ui.Success("removed %q", h.Name)
	return
}

func hostsListCommand(c *cli.Context) (err error) {
	mgr, err := config.NewManager()
	if err != nil {
		PrintFatal("%s", err.Error())
	}
	book, err := mgr.LoadClientConfig()
	if err != nil {
		PrintFatal("%s", err.Error())
	}
	if len(book.Hosts) == 0 {
		ui.Info("no known hosts, add one with: punch hosts add <name> <identity>")
		return
	}
	now := time.Now().Unix()
	for _, h := range book.Hosts {
		id, err := identity.ParseNodeIdentity(h.ID)
		if err != nil {
			PrintErr("skipping corrupt entry %q: %v", h.Name, err)
			continue
		}
		line := fmt.Sprintf("%s  %s", h.Name, ui.Identity(id))
		if h.Description != "" {
			line += fmt.Sprintf("  (%s)", h.Description)
		}
		if h.LastConnected > 0 {
			line += fmt.Sprintf("  last connected %s", format.Duration(now-h.LastConnected))
		} else {
			line += fmt.Sprintf("  added %s", format.Duration(now-h.AddedAt))
		}
		fmt.Println(line)
	}
	return
}
