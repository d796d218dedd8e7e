package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bootkey-io/bootkey/internal/utils"
	"github.com/bootkey-io/bootkey/pkg/grubmenu"
)

// KernelScope selects which initrd images an enable operation regenerates:
// every installed kernel, an explicit version list, or the kernel the boot
// loader will pick by default.
type KernelScope struct {
	Default  bool
	Versions []string
}

// NewKernelScope builds a scope from the command surface. versions is the
// raw comma-separated list; it is mutually exclusive with useDefault, and a
// version string cannot itself contain a comma, so empty elements are
// rejected.
func NewKernelScope(versions string, useDefault bool) (KernelScope, error) {
	if versions != "" && useDefault {
		return KernelScope{}, fmt.Errorf("an explicit kernel list and the default-kernel selector are mutually exclusive")
	}
	if versions == "" {
		return KernelScope{Default: useDefault}, nil
	}
	list := strings.Split(versions, ",")
	if len(utils.CleanupSlice(list)) != len(list) {
		return KernelScope{}, fmt.Errorf("malformed kernel list %q", versions)
	}
	return KernelScope{Versions: list}, nil
}

// resolve turns the scope into concrete regeneration targets. An unset scope
// means every installed kernel.
func (s *State) resolveScope() ([]string, error) {
	if s.Scope.Default {
		k, err := grubmenu.DefaultVersion(s.Paths.GrubConfig, s.Paths.GrubEnv)
		if err != nil {
			return nil, fmt.Errorf("resolving default kernel: %w", err)
		}
		s.Logger.Info().Str("kernel", k.Version).Str("initrd", k.Initrd).Msg("Resolved default boot entry")
		return []string{k.Version}, nil
	}
	if len(s.Scope.Versions) > 0 {
		return utils.UniqueSlice(s.Scope.Versions), nil
	}
	return []string{AllKernels}, nil
}

// staleInitrds lists the kernel versions whose initrd image in the boot
// partition predates the moment keyless boot was enabled.
func (s *State) staleInitrds() ([]string, error) {
	images, err := filepath.Glob(filepath.Join(s.Paths.BootMountpoint, "initrd.img-*"))
	if err != nil {
		return nil, err
	}
	var stale []string
	for _, img := range images {
		info, err := os.Stat(img)
		if err != nil {
			continue
		}
		if info.ModTime().Before(s.settings.EnabledAt) {
			stale = append(stale, strings.TrimPrefix(filepath.Base(img), "initrd.img-"))
		}
	}
	return stale, nil
}
