package main

/*
* CLI to run and control the punch tunnel
 */

import (
	"errors"
	"fmt"
	"os"

	"github.com/atotto/clipboard"
	"github.com/urfave/cli"

	"github.com/cestef/punch/internal/config"
	"github.com/cestef/punch/internal/identity"
	"github.com/cestef/punch/internal/ui"
)

func PrintFatal(msg string, args ...interface{}) {
	PrintErr(msg, args...)
	os.Exit(1)
}

func PrintErr(msg string, args ...interface{}) {
	os.Stderr.WriteString(fmt.Sprintf(msg, args...) + "\n")
}

// loadSecretKey resolves the node key per the global flags:
// --ephemeral generates without persisting, --regenerate overwrites
// the persisted key after confirmation, otherwise the key is read
// from --private-key or $HOME/.punch/private_key (generated lazily on
// first use).
func loadSecretKey(c *cli.Context) (identity.SecretKey, error) {
	ephemeral := c.GlobalBool("ephemeral")
	regenerate := c.GlobalBool("regenerate")
	if ephemeral && regenerate {
		return identity.SecretKey{}, errors.New("--ephemeral and --regenerate are incompatible")
	}

	if ephemeral {
		return identity.Generate()
	}

	path, err := config.PrivateKeyPath(c.GlobalString("private-key"))
	if err != nil {
		return identity.SecretKey{}, err
	}

	if regenerate {
		if _, err := os.Stat(path); err == nil {
			ok, err := ui.Confirm(fmt.Sprintf("Regenerating will overwrite the key at %s and change your identity. Continue?", path))
			if err != nil {
				return identity.SecretKey{}, err
			}
			if !ok {
				return identity.SecretKey{}, errors.New("aborting")
			}
		}
		sk, err := identity.Generate()
		if err != nil {
			return identity.SecretKey{}, err
		}
		if err := identity.Write(path, sk); err != nil {
			return identity.SecretKey{}, err
		}
		ui.Success("generated new identity %s", ui.Identity(sk.Public()))
		return sk, nil
	}

	return identity.Load(path)
}

func idCommand(c *cli.Context) (err error) {
	sk, err := loadSecretKey(c)
	if err != nil {
		PrintFatal("%s", err.Error())
	}
	id := sk.Public()
	if c.Bool("short") {
		fmt.Println(id.Short())
	} else {
		fmt.Println(id.String())
	}
	if c.Bool("copy") {
		if err := clipboard.WriteAll(id.String()); err != nil {
			PrintFatal("%s", err.Error())
		}
		PrintErr("Identity copied to clipboard.")
	}
	return
}

func configCommand(c *cli.Context) (err error) {
	mgr, err := config.NewManager()
	if err != nil {
		PrintFatal("%s", err.Error())
	}
	keyPath, err := config.PrivateKeyPath(c.GlobalString("private-key"))
	if err != nil {
		PrintFatal("%s", err.Error())
	}
	if c.Bool("show-path") {
		fmt.Println(mgr.ServerConfigPath())
		fmt.Println(mgr.ClientConfigPath())
		fmt.Println(keyPath)
		return
	}
	ui.Info("server config: %s", mgr.ServerConfigPath())
	ui.Info("client config: %s", mgr.ClientConfigPath())
	ui.Info("private key:   %s", keyPath)
	return
}

func main() {
	app := cli.NewApp()
	app.Name = "punch"
	app.Usage = "peer-to-peer port forwarding over an identity-authenticated tunnel"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "ephemeral",
			Usage: "Generate a fresh key for this run and do not persist it.",
		},
		cli.StringFlag{
			Name:  "private-key",
			Usage: "Path to the 32-byte private key file.",
		},
		cli.BoolFlag{
			Name:  "regenerate",
			Usage: "Regenerate the persisted private key (asks for confirmation).",
		},
	}
	app.Commands = []cli.Command{
		cli.Command{
			Name:   "server",
			Usage:  "Run the tunnel server until interrupted.",
			Action: serverCommand,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "listen",
					Usage: "UDP address to accept sessions on.",
					Value: "0.0.0.0:4433",
				},
			},
		},
		cli.Command{
			Name:      "client",
			Usage:     "punch client <target> <local:remote> -- forward a local port to a remote peer.",
			ArgsUsage: "<target> <local:remote>",
			Action:    clientCommand,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "protocol",
					Usage: "Tunneled protocol: tcp or udp.",
					Value: "tcp",
				},
				cli.StringFlag{
					Name:  "addr",
					Usage: "Network address of the server endpoint.",
				},
				cli.StringFlag{
					Name:  "description",
					Usage: "Description recorded when adding the target to known hosts.",
				},
			},
		},
		cli.Command{
			Name:   "id",
			Usage:  "Print this node's identity.",
			Action: idCommand,
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "short",
					Usage: "Print the reduced 6+...+6 form.",
				},
				cli.BoolFlag{
					Name:  "copy",
					Usage: "Copy the identity to the clipboard.",
				},
			},
		},
		cli.Command{
			Name:  "hosts",
			Usage: "Manage the known-host book.",
			Subcommands: []cli.Command{
				cli.Command{
					Name:      "add",
					Usage:     "punch hosts add <name> <identity> -- record a peer under a name.",
					ArgsUsage: "<name> <identity>",
					Action:    hostsAddCommand,
					Flags: []cli.Flag{
						cli.StringFlag{
							Name:  "description",
							Usage: "Free-text note stored with the host.",
						},
					},
				},
				cli.Command{
					Name:      "remove",
					Usage:     "punch hosts remove <name or identity> -- forget a peer.",
					ArgsUsage: "<name or identity>",
					Action:    hostsRemoveCommand,
				},
				cli.Command{
					Name:   "list",
					Usage:  "List known hosts.",
					Action: hostsListCommand,
				},
			},
		},
		cli.Command{
			Name:  "auth",
			Usage: "Manage the server's authorized keys.",
			Subcommands: []cli.Command{
				cli.Command{
					Name:   "list",
					Usage:  "List authorized peer identities.",
					Action: authListCommand,
				},
				cli.Command{
					Name:      "add",
					Usage:     "punch auth add <identity> -- allow a peer to connect.",
					ArgsUsage: "<identity>",
					Action:    authAddCommand,
				},
				cli.Command{
					Name:      "remove",
					Usage:     "punch auth remove <identity> -- revoke a peer.",
					ArgsUsage: "<identity>",
					Action:    authRemoveCommand,
				},
				cli.Command{
					Name:   "my-key",
					Usage:  "Print this node's identity for pasting into a server's allowlist.",
					Action: authMyKeyCommand,
				},
			},
		},
		cli.Command{
			Name:   "config",
			Usage:  "Show configuration paths.",
			Action: configCommand,
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "show-path",
					Usage: "Print only the paths, one per line.",
				},
			},
		},
	}
	app.Run(os.Args)
}
