// Package state implements the keyless-boot state machine. Each top-level
// operation registers a linear chain of named steps on a graph; guards run
// first so a violated precondition aborts before any mutation.
package state

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spectrocloud-labs/herd"

	"github.com/bootkey-io/bootkey/internal/constants"
	"github.com/bootkey-io/bootkey/pkg/config"
	"github.com/bootkey-io/bootkey/pkg/crypttab"
	"github.com/bootkey-io/bootkey/pkg/hook"
)

// KeySlots adds and removes key slots on encrypted devices. Calls block on
// the external key-management utility; a non-zero exit is the error.
type KeySlots interface {
	// AddKey enrolls newKeyFile on device. With an empty authKeyFile the
	// utility prompts the operator for an existing passphrase.
	AddKey(device, authKeyFile, newKeyFile string) error
	RemoveKey(device, keyFile string) error
}

// InitrdBuilder regenerates the boot-time RAM disk image for one kernel
// version, or for every installed kernel when given AllKernels.
type InitrdBuilder interface {
	Regenerate(version string) error
}

// AllKernels is the InitrdBuilder scope covering every installed kernel.
const AllKernels = "all"

// BootDeviceFunc resolves the stable device path backing a mountpoint.
type BootDeviceFunc func(mountpoint, byUUIDDir string) (string, error)

// Paths collects every file the operations touch, parameterized for tests.
type Paths struct {
	Crypttab        string
	KeyfulSnapshot  string
	KeylessSnapshot string
	MasterKey       string
	TransientKey    string
	TransientTail   string
	Keyscript       string
	BootMountpoint  string
	ByUUIDDir       string
	GrubConfig      string
	GrubEnv         string
	HookScript      string
}

func DefaultPaths() Paths {
	return Paths{
		Crypttab:        constants.CrypttabFile,
		KeyfulSnapshot:  constants.KeyfulSnapshotFile,
		KeylessSnapshot: constants.KeylessSnapshotFile,
		MasterKey:       constants.MasterKeyFile,
		TransientKey:    constants.TransientKeyFile,
		TransientTail:   constants.TransientKeyTail,
		Keyscript:       constants.Keyscript,
		BootMountpoint:  constants.BootMountpoint,
		ByUUIDDir:       constants.ByUUIDDir,
		GrubConfig:      constants.GrubConfigFile,
		GrubEnv:         constants.GrubEnvFile,
		HookScript:      constants.HookScript,
	}
}

// State threads one operation's data between its steps.
type State struct {
	Logger zerolog.Logger
	Store  *config.Store
	Keys   KeySlots
	Initrd InitrdBuilder
	Paths  Paths
	Scope  KernelScope

	// BootDevice defaults to crypttab.BootDevice when unset.
	BootDevice BootDeviceFunc

	settings config.Settings
	entries  []crypttab.Entry

	// scopeVersions is the kernel scope resolved during the guard phase,
	// so a bad boot menu aborts an enable before any mutation.
	scopeVersions []string

	// modeSwitch: enable-always found an enable-once host and only had to
	// drop the hook. skipEnable: enable-once found keyless boot already
	// active. Either way the enable steps become no-ops.
	modeSwitch bool
	skipEnable bool

	// recovery mode downgrades fatal cleanup failures to warnings
	recovery        bool
	alreadyRestored bool

	// storeUnreadable: the settings store exists but would not load, so
	// its enabled flags must be stripped from the raw file instead of
	// saved over.
	storeUnreadable bool
}

func (s *State) hook() hook.Hook {
	return hook.Hook{Script: s.Paths.HookScript, Line: constants.HookLine}
}

func (s *State) bootDevice() (string, error) {
	resolve := s.BootDevice
	if resolve == nil {
		resolve = crypttab.BootDevice
	}
	return resolve(s.Paths.BootMountpoint, s.Paths.ByUUIDDir)
}

// WriteDAG renders the operation plan, layer by layer.
func (s *State) WriteDAG(g *herd.Graph) (out string) {
	for i, layer := range g.Analyze() {
		out += fmt.Sprintf("%d.\n", i+1)
		for _, op := range layer {
			if op.Error != nil {
				out += fmt.Sprintf(" <%s> (error: %s)\n", op.Name, op.Error.Error())
			} else {
				out += fmt.Sprintf(" <%s>\n", op.Name)
			}
		}
	}
	return
}

// warnOrFail swallows err with a warning in recovery mode.
func (s *State) warnOrFail(err error, msgContext string) error {
	if err == nil {
		return nil
	}
	if s.recovery {
		s.Logger.Warn().Err(err).Msg(msgContext)
		return nil
	}
	return err
}
