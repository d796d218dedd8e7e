package state

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spectrocloud-labs/herd"

	"github.com/bootkey-io/bootkey/internal/constants"
	"github.com/bootkey-io/bootkey/internal/utils"
	"github.com/bootkey-io/bootkey/pkg/crypttab"
)

// RegisterEnableAlways adds the steps that switch the host to keyless boot
// until an explicit disable.
func (s *State) RegisterEnableAlways(g *herd.Graph) error {
	err := g.Add(constants.OpCheckState, herd.FatalOp, herd.WithCallback(func(_ context.Context) error {
		set, err := s.Store.Load()
		if err != nil {
			return err
		}
		if !set.Configured {
			return constants.ErrNotConfigured
		}
		if set.Enabled {
			installed, err := s.hook().Installed()
			if err != nil {
				return err
			}
			if !installed {
				return constants.ErrAlreadyEnabled
			}
			// enable-once host: dropping the hook is all it takes
			if err := s.hook().Remove(); err != nil {
				return err
			}
			s.Logger.Info().Msg("Keyless boot was enabled for one reboot only, now enabled until disabled")
			s.modeSwitch = true
		}
		s.settings = set
		return nil
	}))
	if err != nil {
		return err
	}
	return s.registerEnableSteps(g)
}

// RegisterEnableOnce is enable-always plus the boot-sequence hook that makes
// the next boot disable keyless mode again. On an already-enabled host only
// the hook is (re-)installed.
func (s *State) RegisterEnableOnce(g *herd.Graph) error {
	err := g.Add(constants.OpCheckState, herd.FatalOp, herd.WithCallback(func(_ context.Context) error {
		set, err := s.Store.Load()
		if err != nil {
			return err
		}
		if !set.Configured {
			return constants.ErrNotConfigured
		}
		if set.Enabled {
			s.skipEnable = true
		}
		s.settings = set
		return nil
	}))
	if err != nil {
		return err
	}
	if err := s.registerEnableSteps(g); err != nil {
		return err
	}
	return g.Add(constants.OpBootHook,
		herd.WithDeps(constants.OpSaveSettings),
		herd.FatalOp,
		herd.WithCallback(func(_ context.Context) error {
			return s.hook().Install()
		}))
}

// registerEnableSteps chains the shared enable machinery behind the guard
// step. Every callback no-ops when the guard flagged a mode switch or an
// already-enabled host.
func (s *State) registerEnableSteps(g *herd.Graph) error {
	skip := func() bool { return s.modeSwitch || s.skipEnable }

	err := g.Add(constants.OpResolveKernels,
		herd.WithDeps(constants.OpCheckState),
		herd.FatalOp,
		herd.WithCallback(func(_ context.Context) error {
			if skip() {
				return nil
			}
			versions, err := s.resolveScope()
			if err != nil {
				return err
			}
			s.scopeVersions = versions
			return nil
		}))
	if err != nil {
		return err
	}

	err = g.Add(constants.OpCheckCrypttab,
		herd.WithDeps(constants.OpResolveKernels),
		herd.FatalOp,
		herd.WithCallback(func(_ context.Context) error {
			if skip() {
				return nil
			}
			live, err := os.ReadFile(s.Paths.Crypttab)
			if err != nil {
				return err
			}
			keyful, err := os.ReadFile(s.Paths.KeyfulSnapshot)
			if err != nil {
				return err
			}
			if !bytes.Equal(live, keyful) {
				return fmt.Errorf("%w: %s was modified since configure, re-run configure", constants.ErrCrypttabMismatch, s.Paths.Crypttab)
			}
			return nil
		}))
	if err != nil {
		return err
	}

	err = g.Add(constants.OpTransientKey,
		herd.WithDeps(constants.OpCheckCrypttab),
		herd.FatalOp,
		herd.WithCallback(func(_ context.Context) error {
			if skip() {
				return nil
			}
			key, err := utils.RandomKey(constants.KeyLength)
			if err != nil {
				return err
			}
			return utils.WriteKeyFile(s.Paths.TransientKey, key)
		}))
	if err != nil {
		return err
	}

	err = g.Add(constants.OpAddKeySlots,
		herd.WithDeps(constants.OpTransientKey),
		herd.FatalOp,
		herd.WithCallback(func(_ context.Context) error {
			if skip() {
				return nil
			}
			for _, fs := range s.settings.Filesystems {
				dev := crypttab.ResolveSource(fs.Source)
				if err := s.Keys.AddKey(dev, s.Paths.MasterKey, s.Paths.TransientKey); err != nil {
					return err
				}
				s.Logger.Info().Str("device", dev).Msg("Transient key enrolled")
			}
			return nil
		}))
	if err != nil {
		return err
	}

	err = g.Add(constants.OpSwapCrypttab,
		herd.WithDeps(constants.OpAddKeySlots),
		herd.FatalOp,
		herd.WithCallback(func(_ context.Context) error {
			if skip() {
				return nil
			}
			return utils.CopyFileAtomic(s.Paths.KeylessSnapshot, s.Paths.Crypttab, 0644)
		}))
	if err != nil {
		return err
	}

	err = g.Add(constants.OpInitrd,
		herd.WithDeps(constants.OpSwapCrypttab),
		herd.FatalOp,
		herd.WithCallback(func(_ context.Context) error {
			if skip() {
				return nil
			}
			for _, v := range s.scopeVersions {
				s.Logger.Info().Str("kernel", v).Msg("Regenerating initrd")
				if err := s.Initrd.Regenerate(v); err != nil {
					return err
				}
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return g.Add(constants.OpSaveSettings,
		herd.WithDeps(constants.OpInitrd),
		herd.FatalOp,
		herd.WithCallback(func(_ context.Context) error {
			if skip() {
				return nil
			}
			// a freshly generated transient key supersedes any
			// legacy v1 marker
			s.settings.V1Key = false
			s.settings.Enabled = true
			s.settings.EnabledAt = time.Now().UTC()
			return s.Store.Save(s.settings)
		}))
}
