package config

import (
	"fmt"
	"os"

	"github.com/bootkey-io/bootkey/internal/utils"
	"github.com/bootkey-io/bootkey/pkg/crypttab"
)

// A migration lifts a store from one schema version to the next. Migrations
// chain, so adding a v3 means appending one entry here.
type migration struct {
	from, to int
	run      func(*Store, *Settings) error
}

var migrations = []migration{
	{from: 1, to: 2, run: migrateV1},
}

// upgrade runs every applicable migration in order and persists after each
// completed step. A store already at CurrentVersion is left untouched.
func (s *Store) upgrade(set *Settings) error {
	for _, m := range migrations {
		if set.Version != m.from {
			continue
		}
		utils.Log.Info().Int("from", m.from).Int("to", m.to).Msg("Upgrading settings store")
		if err := m.run(s, set); err != nil {
			return fmt.Errorf("upgrading settings store v%d to v%d: %w", m.from, m.to, err)
		}
		set.Version = m.to
		if err := s.Save(*set); err != nil {
			return err
		}
	}
	return nil
}

// migrateV1 turns the single-key v1 layout into the master/transient split.
// An enabled v1 host keeps its on-disk key working, so the key is copied
// into the master slot and flagged: it is the weaker v1 secret and its
// device slots are shared with the transient role.
func migrateV1(s *Store, set *Settings) error {
	if set.Enabled {
		if err := copyFile(s.Env.TransientKeyFile, s.Env.MasterKeyFile); err != nil {
			return err
		}
		set.V1Key = true
	} else {
		if err := moveFile(s.Env.TransientKeyFile, s.Env.MasterKeyFile); err != nil {
			return err
		}
	}

	// v1 stores never recorded the managed filesystems; recover them from
	// the keyful snapshot
	content, err := os.ReadFile(s.Env.KeyfulSnapshotFile)
	if err != nil {
		return err
	}
	entries, err := crypttab.Parse(content)
	if err != nil {
		return err
	}
	set.Filesystems = crypttab.Filesystems(entries)
	return nil
}
