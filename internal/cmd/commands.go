package cmd

import (
	"context"
	"fmt"

	"github.com/spectrocloud-labs/herd"
	"github.com/urfave/cli/v2"

	"github.com/bootkey-io/bootkey/internal/constants"
	"github.com/bootkey-io/bootkey/internal/utils"
	"github.com/bootkey-io/bootkey/pkg/config"
	"github.com/bootkey-io/bootkey/pkg/state"
)

func kernelScopeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "kernels",
			Usage: "comma-separated kernel versions whose initrd to regenerate",
		},
		&cli.BoolFlag{
			Name:  "default-kernel",
			Usage: "regenerate only the initrd of the kernel the boot loader will pick",
		},
	}
}

func newState(scope state.KernelScope) *state.State {
	return &state.State{
		Logger: utils.Log,
		Store: &config.Store{
			Path: constants.SettingsFile,
			Env: config.UpgradeEnv{
				MasterKeyFile:      constants.MasterKeyFile,
				TransientKeyFile:   constants.TransientKeyFile,
				KeyfulSnapshotFile: constants.KeyfulSnapshotFile,
			},
		},
		Keys:   state.Cryptsetup{},
		Initrd: state.Initramfs{},
		Paths:  state.DefaultPaths(),
		Scope:  scope,
	}
}

// run registers one operation on a fresh graph and executes it, honoring the
// global dry-run flag.
func run(c *cli.Context, register func(*state.State, *herd.Graph) error, scope state.KernelScope) error {
	s := newState(scope)
	g := herd.DAG()
	if err := register(s, g); err != nil {
		return err
	}
	if c.Bool("dry-run") {
		fmt.Println(s.WriteDAG(g))
		return nil
	}
	err := g.Run(context.Background())
	utils.Log.Debug().Msg(s.WriteDAG(g))
	return err
}

func scopeFromFlags(c *cli.Context) (state.KernelScope, error) {
	return state.NewKernelScope(c.String("kernels"), c.Bool("default-kernel"))
}

var Commands = []*cli.Command{
	{
		Name:  "configure",
		Usage: "set up the master key and crypttab snapshots",
		Description: `
Generates the long-lived master key, enrolls it on every encrypted device
listed in the crypttab (each device asks for its passphrase once), and
snapshots the keyful and derived keyless mount tables.
`,
		Action: func(c *cli.Context) error {
			return run(c, (*state.State).RegisterConfigure, state.KernelScope{})
		},
	},
	{
		Name:  "unconfigure",
		Usage: "remove the master key, its device slots and all snapshots",
		Action: func(c *cli.Context) error {
			return run(c, (*state.State).RegisterUnconfigure, state.KernelScope{})
		},
	},
	{
		Name:  "enable-once",
		Usage: "enable keyless boot for the next reboot only",
		Flags: kernelScopeFlags(),
		Action: func(c *cli.Context) error {
			scope, err := scopeFromFlags(c)
			if err != nil {
				return err
			}
			return run(c, (*state.State).RegisterEnableOnce, scope)
		},
	},
	{
		Name:  "enable-always",
		Usage: "enable keyless boot until explicitly disabled",
		Flags: kernelScopeFlags(),
		Action: func(c *cli.Context) error {
			scope, err := scopeFromFlags(c)
			if err != nil {
				return err
			}
			return run(c, (*state.State).RegisterEnableAlways, scope)
		},
	},
	{
		Name:  "disable",
		Usage: "return to passphrase-prompting boot",
		Action: func(c *cli.Context) error {
			return run(c, (*state.State).RegisterDisable, state.KernelScope{})
		},
	},
	{
		Name:  "recover",
		Usage: "best-effort disable for a host stranded mid-operation",
		Action: func(c *cli.Context) error {
			return run(c, (*state.State).RegisterRecover, state.KernelScope{})
		},
	},
}
