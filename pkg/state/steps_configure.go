package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/jaypipes/ghw"
	"github.com/spectrocloud-labs/herd"

	"github.com/bootkey-io/bootkey/internal/constants"
	"github.com/bootkey-io/bootkey/internal/utils"
	"github.com/bootkey-io/bootkey/pkg/config"
	"github.com/bootkey-io/bootkey/pkg/crypttab"
)

// RegisterConfigure adds the initial-setup steps: master key generation and
// enrollment plus the keyful/keyless crypttab snapshots.
func (s *State) RegisterConfigure(g *herd.Graph) error {
	err := g.Add(constants.OpCheckState, herd.FatalOp, herd.WithCallback(func(_ context.Context) error {
		set, err := s.Store.Load()
		if err != nil {
			return err
		}
		if set.Configured {
			return constants.ErrAlreadyConfigured
		}
		for _, path := range []string{s.Paths.MasterKey, s.Paths.KeyfulSnapshot, s.Paths.KeylessSnapshot} {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists, run recover or remove it first", path)
			}
		}
		content, err := os.ReadFile(s.Paths.Crypttab)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.Paths.Crypttab, err)
		}
		entries, err := crypttab.Parse(content)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return fmt.Errorf("%s has no manageable entries", s.Paths.Crypttab)
		}
		s.settings = set
		s.entries = entries
		return nil
	}))
	if err != nil {
		return err
	}

	err = g.Add(constants.OpCheckDevices,
		herd.WithDeps(constants.OpCheckState),
		herd.FatalOp,
		herd.WithCallback(func(_ context.Context) error {
			return s.checkDevices()
		}))
	if err != nil {
		return err
	}

	err = g.Add(constants.OpMasterKey,
		herd.WithDeps(constants.OpCheckDevices),
		herd.FatalOp,
		herd.WithCallback(func(_ context.Context) error {
			key, err := utils.RandomKey(constants.KeyLength)
			if err != nil {
				return err
			}
			return utils.WriteKeyFile(s.Paths.MasterKey, key)
		}))
	if err != nil {
		return err
	}

	err = g.Add(constants.OpAddKeySlots,
		herd.WithDeps(constants.OpMasterKey),
		herd.FatalOp,
		herd.WithCallback(func(_ context.Context) error {
			for _, e := range s.entries {
				dev := crypttab.ResolveSource(e.Source)
				if err := s.Keys.AddKey(dev, "", s.Paths.MasterKey); err != nil {
					return err
				}
				s.Logger.Info().Str("device", dev).Msg("Master key enrolled")
			}
			return nil
		}))
	if err != nil {
		return err
	}

	err = g.Add(constants.OpSnapshots,
		herd.WithDeps(constants.OpAddKeySlots),
		herd.FatalOp,
		herd.WithCallback(func(_ context.Context) error {
			if err := os.MkdirAll(filepath.Dir(s.Paths.KeyfulSnapshot), 0755); err != nil {
				return err
			}
			if err := utils.CopyFileAtomic(s.Paths.Crypttab, s.Paths.KeyfulSnapshot, 0644); err != nil {
				return err
			}
			bootDev, err := s.bootDevice()
			if err != nil {
				return err
			}
			keyless := crypttab.DeriveKeyless(s.entries, bootDev, s.Paths.TransientTail, s.Paths.Keyscript)
			return utils.AtomicWrite(s.Paths.KeylessSnapshot, []byte(keyless), 0644)
		}))
	if err != nil {
		return err
	}

	return g.Add(constants.OpSaveSettings,
		herd.WithDeps(constants.OpSnapshots),
		herd.FatalOp,
		herd.WithCallback(func(_ context.Context) error {
			s.settings.Version = config.CurrentVersion
			s.settings.Configured = true
			s.settings.Filesystems = crypttab.Filesystems(s.entries)
			return s.Store.Save(s.settings)
		}))
}

// checkDevices verifies every crypttab source before any key material is
// generated: the spec must parse as a device, the device node must exist,
// and where the block layer can confirm it, it must really be LUKS.
func (s *State) checkDevices() error {
	var blk *ghw.BlockInfo
	blk, err := ghw.Block()
	if err != nil {
		s.Logger.Warn().Err(err).Msg("Block device enumeration unavailable, skipping LUKS check")
		blk = nil
	}

	for _, e := range s.entries {
		if strings.HasPrefix(e.Source, "UUID=") {
			if _, err := uuid.FromString(strings.TrimPrefix(e.Source, "UUID=")); err != nil {
				return fmt.Errorf("entry %s: malformed source UUID %q", e.Target, e.Source)
			}
		}
		dev := crypttab.ResolveSource(e.Source)
		if _, err := os.Stat(dev); err != nil {
			return fmt.Errorf("entry %s: source device %s: %w", e.Target, dev, err)
		}
		if blk == nil {
			continue
		}
		resolved, err := filepath.EvalSymlinks(dev)
		if err != nil {
			resolved = dev
		}
		if part := findPartition(blk, filepath.Base(resolved)); part != nil && part.Type != "crypto_LUKS" {
			return fmt.Errorf("entry %s: %s is %q, not a LUKS device", e.Target, dev, part.Type)
		}
	}
	return nil
}

func findPartition(blk *ghw.BlockInfo, name string) *ghw.Partition {
	for _, disk := range blk.Disks {
		for _, p := range disk.Partitions {
			if p.Name == name {
				return p
			}
		}
	}
	return nil
}

// RegisterUnconfigure adds the teardown steps that return the host to its
// pre-configure state.
func (s *State) RegisterUnconfigure(g *herd.Graph) error {
	err := g.Add(constants.OpCheckState, herd.FatalOp, herd.WithCallback(func(_ context.Context) error {
		set, err := s.Store.Load()
		if err != nil {
			return err
		}
		if !set.Configured {
			return constants.ErrNotConfigured
		}
		if set.Enabled {
			return fmt.Errorf("%w: disable keyless boot first", constants.ErrAlreadyEnabled)
		}
		s.settings = set
		return nil
	}))
	if err != nil {
		return err
	}

	err = g.Add(constants.OpRemoveSnapshots,
		herd.WithDeps(constants.OpCheckState),
		herd.FatalOp,
		herd.WithCallback(func(_ context.Context) error {
			for _, path := range []string{s.Paths.KeylessSnapshot, s.Paths.KeyfulSnapshot} {
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					return err
				}
			}
			return nil
		}))
	if err != nil {
		return err
	}

	err = g.Add(constants.OpRemoveKeySlots,
		herd.WithDeps(constants.OpRemoveSnapshots),
		herd.FatalOp,
		herd.WithCallback(func(_ context.Context) error {
			if s.settings.V1Key {
				// the v1 key predates us and may still be the
				// operator's only non-passphrase unlock, leave
				// its slots alone
				s.Logger.Info().Msg("Legacy v1 key, leaving device key slots in place")
				return nil
			}
			for _, fs := range s.settings.Filesystems {
				dev := crypttab.ResolveSource(fs.Source)
				if err := s.Keys.RemoveKey(dev, s.Paths.MasterKey); err != nil {
					return err
				}
				s.Logger.Info().Str("device", dev).Msg("Master key slot removed")
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return g.Add(constants.OpRemoveSettings,
		herd.WithDeps(constants.OpRemoveKeySlots),
		herd.FatalOp,
		herd.WithCallback(func(_ context.Context) error {
			if err := os.Remove(s.Paths.MasterKey); err != nil && !os.IsNotExist(err) {
				return err
			}
			return s.Store.Remove()
		}))
}
