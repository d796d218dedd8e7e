package state

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spectrocloud-labs/herd"

	"github.com/bootkey-io/bootkey/internal/constants"
	"github.com/bootkey-io/bootkey/internal/utils"
	"github.com/bootkey-io/bootkey/pkg/crypttab"
)

// RegisterDisable adds the steps that return the host to keyful boot.
func (s *State) RegisterDisable(g *herd.Graph) error {
	s.recovery = false
	return s.registerDisableSteps(g)
}

// RegisterRecover is disable with every guard and cleanup failure downgraded
// to best effort, for hosts stranded halfway through an enable or disable.
// Afterwards keyless boot is off no matter what state the host was in.
func (s *State) RegisterRecover(g *herd.Graph) error {
	s.recovery = true
	return s.registerDisableSteps(g)
}

func (s *State) registerDisableSteps(g *herd.Graph) error {
	err := g.Add(constants.OpCheckState, herd.FatalOp, herd.WithCallback(func(_ context.Context) error {
		set, err := s.Store.Load()
		if err != nil {
			if werr := s.warnOrFail(err, "Settings store unreadable"); werr != nil {
				return werr
			}
			s.storeUnreadable = true
		}
		if !set.Configured {
			if werr := s.warnOrFail(constants.ErrNotConfigured, "Proceeding without settings"); werr != nil {
				return werr
			}
		}
		if !set.Enabled && !s.recovery {
			return constants.ErrNotEnabled
		}
		s.settings = set
		if len(s.settings.Filesystems) == 0 && s.recovery {
			s.recoverFilesystems()
		}
		return nil
	}))
	if err != nil {
		return err
	}

	err = g.Add(constants.OpCheckCrypttab,
		herd.WithDeps(constants.OpCheckState),
		herd.FatalOp,
		herd.WithCallback(func(_ context.Context) error {
			live, err := os.ReadFile(s.Paths.Crypttab)
			if err != nil {
				return s.warnOrFail(err, "Live crypttab unreadable")
			}
			if keyless, err := os.ReadFile(s.Paths.KeylessSnapshot); err == nil && bytes.Equal(live, keyless) {
				return nil
			}
			if keyful, err := os.ReadFile(s.Paths.KeyfulSnapshot); err == nil && bytes.Equal(live, keyful) {
				if s.recovery {
					// a previous disable got as far as rolling
					// back the crypttab
					s.alreadyRestored = true
					return nil
				}
			}
			return s.warnOrFail(
				fmt.Errorf("%w: expected the keyless snapshot", constants.ErrCrypttabMismatch),
				"Continuing with crypttab in unknown state")
		}))
	if err != nil {
		return err
	}

	err = g.Add(constants.OpRemoveKeySlots,
		herd.WithDeps(constants.OpCheckCrypttab),
		herd.FatalOp,
		herd.WithCallback(func(_ context.Context) error {
			var errs *multierror.Error
			for _, fs := range s.settings.Filesystems {
				dev := crypttab.ResolveSource(fs.Source)
				if err := s.Keys.RemoveKey(dev, s.Paths.TransientKey); err != nil {
					errs = multierror.Append(errs, err)
					continue
				}
				s.Logger.Info().Str("device", dev).Msg("Transient key slot removed")
			}
			return s.warnOrFail(errs.ErrorOrNil(), "Leaving unremovable key slots behind")
		}))
	if err != nil {
		return err
	}

	err = g.Add(constants.OpRestoreCrypttab,
		herd.WithDeps(constants.OpRemoveKeySlots),
		herd.FatalOp,
		herd.WithCallback(func(_ context.Context) error {
			if s.alreadyRestored {
				return nil
			}
			err := utils.CopyFileAtomic(s.Paths.KeyfulSnapshot, s.Paths.Crypttab, 0644)
			return s.warnOrFail(err, "Keyful snapshot not restored")
		}))
	if err != nil {
		return err
	}

	err = g.Add(constants.OpInitrd,
		herd.WithDeps(constants.OpRestoreCrypttab),
		herd.FatalOp,
		herd.WithCallback(func(_ context.Context) error {
			versions := []string{AllKernels}
			if !s.recovery && !s.settings.EnabledAt.IsZero() {
				// narrow the rebuild to images predating the
				// activation timestamp
				stale, err := s.staleInitrds()
				if err != nil {
					return err
				}
				versions = stale
			}
			for _, v := range versions {
				s.Logger.Info().Str("kernel", v).Msg("Regenerating initrd")
				if err := s.Initrd.Regenerate(v); err != nil {
					return s.warnOrFail(err, "Initrd regeneration failed")
				}
			}
			return nil
		}))
	if err != nil {
		return err
	}

	err = g.Add(constants.OpTransientKey,
		herd.WithDeps(constants.OpInitrd),
		herd.FatalOp,
		herd.WithCallback(func(_ context.Context) error {
			err := os.Remove(s.Paths.TransientKey)
			if err == nil {
				return nil
			}
			if os.IsNotExist(err) && !s.recovery {
				return fmt.Errorf("transient key already gone, its device slots may still be live: %w", err)
			}
			return s.warnOrFail(err, "Transient key file not removed")
		}))
	if err != nil {
		return err
	}

	err = g.Add(constants.OpSaveSettings,
		herd.WithDeps(constants.OpTransientKey),
		herd.FatalOp,
		herd.WithCallback(func(_ context.Context) error {
			if s.storeUnreadable {
				// the file is still on disk claiming whatever it
				// claimed, strip the enabled flags from it raw
				return s.warnOrFail(s.Store.ClearEnabled(), "Settings store not sanitized")
			}
			if !s.settings.Configured && s.recovery {
				// nothing persisted, nothing to clear
				return nil
			}
			s.settings.Enabled = false
			s.settings.EnabledAt = time.Time{}
			return s.Store.Save(s.settings)
		}))
	if err != nil {
		return err
	}

	return g.Add(constants.OpBootHook,
		herd.WithDeps(constants.OpSaveSettings),
		herd.FatalOp,
		herd.WithCallback(func(_ context.Context) error {
			return s.warnOrFail(s.hook().Remove(), "Boot hook not removed")
		}))
}

// recoverFilesystems re-derives the managed device list from the keyful
// snapshot when the settings store is gone.
func (s *State) recoverFilesystems() {
	content, err := os.ReadFile(s.Paths.KeyfulSnapshot)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("No keyful snapshot, no key slots will be removed")
		return
	}
	entries, err := crypttab.Parse(content)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("Keyful snapshot unparseable, no key slots will be removed")
		return
	}
	s.settings.Filesystems = crypttab.Filesystems(entries)
}
