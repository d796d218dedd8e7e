package crypttab

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/moby/sys/mountinfo"
)

// BootDevice resolves the stable /dev/disk/by-uuid path of the device backing
// the boot mountpoint. The keyless crypttab references the boot partition
// through this path so it survives device renumbering across reboots. This is
// the only place device to UUID resolution happens.
func BootDevice(mountpoint, byUUIDDir string) (string, error) {
	source, err := mountSource(mountpoint)
	if err != nil {
		return "", err
	}
	// udev may still be populating by-uuid on a freshly booted system
	var dev string
	err = retry.Do(
		func() error {
			dev, err = byUUIDLink(byUUIDDir, source)
			return err
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
	)
	return dev, err
}

func mountSource(mountpoint string) (string, error) {
	mounts, err := mountinfo.GetMounts(mountinfo.SingleEntryFilter(mountpoint))
	if err != nil {
		return "", fmt.Errorf("reading mount table: %w", err)
	}
	if len(mounts) == 0 {
		return "", fmt.Errorf("%s is not a mountpoint", mountpoint)
	}
	return mounts[0].Source, nil
}

// byUUIDLink finds the by-uuid symlink whose target shares a basename with
// the given device node.
func byUUIDLink(byUUIDDir, device string) (string, error) {
	links, err := os.ReadDir(byUUIDDir)
	if err != nil {
		return "", fmt.Errorf("listing %s: %w", byUUIDDir, err)
	}
	want := filepath.Base(device)
	for _, link := range links {
		full := filepath.Join(byUUIDDir, link.Name())
		target, err := os.Readlink(full)
		if err != nil {
			continue
		}
		if filepath.Base(target) == want {
			return full, nil
		}
	}
	return "", fmt.Errorf("no %s entry for %s", byUUIDDir, device)
}

// ResolveSource maps a crypttab source spec to a device path.
// UUID=x becomes /dev/disk/by-uuid/x, plain paths pass through.
func ResolveSource(s string) string {
	switch {
	case strings.HasPrefix(s, "UUID="):
		return filepath.Join("/dev/disk/by-uuid", strings.TrimPrefix(s, "UUID="))
	case strings.HasPrefix(s, "LABEL="):
		return filepath.Join("/dev/disk/by-label", strings.TrimPrefix(s, "LABEL="))
	default:
		return s
	}
}
