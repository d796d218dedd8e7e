// Package config persists the versioned settings store that the operations
// thread their state through.
package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bootkey-io/bootkey/pkg/crypttab"
)

// CurrentVersion is the schema version new and upgraded stores carry.
const CurrentVersion = 2

// Settings is the persisted state of the host. Boolean fields are stored
// presence-based: a false flag has no key in the file.
type Settings struct {
	Version    int
	Configured bool
	Enabled    bool
	// EnabledAt is the moment keyless boot was last activated, used to
	// tell stale initrd images from fresh ones.
	EnabledAt time.Time
	// V1Key marks a master key inherited from a v1 store while enabled:
	// it was copied from the weaker on-disk transient key, so its slot
	// must never be treated as exclusively ours.
	V1Key bool
	// Filesystems are the managed encrypted devices, in crypttab order.
	Filesystems []crypttab.Filesystem
}

func (s Settings) toMap() map[string]string {
	m := map[string]string{
		"version": strconv.Itoa(s.Version),
	}
	if s.Configured {
		m["configured"] = "true"
	}
	if s.Enabled {
		m["enabled"] = "true"
	}
	if !s.EnabledAt.IsZero() {
		m["enabled_at"] = s.EnabledAt.UTC().Format(time.RFC3339)
	}
	if s.V1Key {
		m["v1key"] = "true"
	}
	for i, fs := range s.Filesystems {
		m[fmt.Sprintf("target%d", i)] = fs.Target
		m[fmt.Sprintf("source%d", i)] = fs.Source
	}
	return m
}

func settingsFromMap(m map[string]string) (Settings, error) {
	s := Settings{
		Configured: m["configured"] == "true",
		Enabled:    m["enabled"] == "true",
		V1Key:      m["v1key"] == "true",
	}
	if v, ok := m["version"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Settings{}, fmt.Errorf("settings store: bad version %q", v)
		}
		s.Version = n
	}
	if at, ok := m["enabled_at"]; ok {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return Settings{}, fmt.Errorf("settings store: bad enabled_at %q", at)
		}
		s.EnabledAt = t
	}
	// target{i}/source{i} always exist in matching pairs with no gaps
	for i := 0; ; i++ {
		target, hasTarget := m[fmt.Sprintf("target%d", i)]
		source, hasSource := m[fmt.Sprintf("source%d", i)]
		if !hasTarget && !hasSource {
			break
		}
		if hasTarget != hasSource {
			return Settings{}, fmt.Errorf("settings store: broken target%d/source%d pair", i, i)
		}
		s.Filesystems = append(s.Filesystems, crypttab.Filesystem{Target: target, Source: source})
	}
	return s, nil
}
