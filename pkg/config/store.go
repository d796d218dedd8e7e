package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/bootkey-io/bootkey/internal/utils"
)

// UpgradeEnv names the files a schema upgrade has to shuffle around.
type UpgradeEnv struct {
	MasterKeyFile      string
	TransientKeyFile   string
	KeyfulSnapshotFile string
}

// Store loads and saves the settings file at Path. Saves are atomic
// replaces; a reader never observes a half-written store.
type Store struct {
	Path string
	Env  UpgradeEnv
}

// Load reads the store, stamping and upgrading legacy stores on the way.
// A missing file is a fresh, unconfigured host.
func (s *Store) Load() (Settings, error) {
	raw, err := godotenv.Read(s.Path)
	if os.IsNotExist(err) {
		return Settings{Version: CurrentVersion}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("reading settings store: %w", err)
	}

	set, err := settingsFromMap(raw)
	if err != nil {
		return Settings{}, err
	}
	if _, ok := raw["version"]; !ok {
		if set.Configured {
			// pre-versioning store written by a v1 install
			set.Version = 1
		} else {
			set.Version = CurrentVersion
			if err := s.Save(set); err != nil {
				return Settings{}, err
			}
		}
	}
	if err := s.upgrade(&set); err != nil {
		return Settings{}, err
	}
	return set, nil
}

// Save atomically replaces the store with the given settings.
func (s *Store) Save(set Settings) error {
	content, err := godotenv.Marshal(set.toMap())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0755); err != nil {
		return err
	}
	return utils.AtomicWrite(s.Path, []byte(content+"\n"), 0600)
}

// Remove deletes the store file.
func (s *Store) Remove() error {
	return os.Remove(s.Path)
}

// ClearEnabled strips the enabled flags from the raw store file, for
// recovery paths where the store no longer loads as Settings. A missing
// file is a no-op; a file godotenv cannot read at all is removed, since a
// store that may still claim keyless boot is worse than no store.
func (s *Store) ClearEnabled() error {
	raw, err := godotenv.Read(s.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return os.Remove(s.Path)
	}
	delete(raw, "enabled")
	delete(raw, "enabled_at")
	content, err := godotenv.Marshal(raw)
	if err != nil {
		return err
	}
	return utils.AtomicWrite(s.Path, []byte(content+"\n"), 0600)
}

func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// src and dst sit on different filesystems
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
