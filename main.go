package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/bootkey-io/bootkey/internal/cmd"
	"github.com/bootkey-io/bootkey/internal/utils"
	"github.com/bootkey-io/bootkey/internal/version"
)

// Swap a host between keyful and keyless boot configurations.
func main() {
	app := cli.NewApp()
	app.Name = "bootkey"
	app.Usage = "reboot a disk-encrypted machine without a passphrase prompt"
	app.Version = version.GetVersion()
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "log at debug level",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "print the operation plan without running it",
		},
	}
	app.Before = func(c *cli.Context) error {
		utils.SetLogger(c.Bool("debug"))
		v := version.Get()
		utils.Log.Debug().Str("commit", v.GitCommit).Str("compiled with", v.GoVersion).Str("version", v.Version).Msg("bootkey")
		return nil
	}
	app.Commands = cmd.Commands

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
