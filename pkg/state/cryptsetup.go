package state

import (
	"fmt"
	"strings"

	"github.com/bootkey-io/bootkey/internal/utils"
)

// Cryptsetup drives the key slots of LUKS devices through the cryptsetup
// binary.
type Cryptsetup struct{}

func (Cryptsetup) AddKey(device, authKeyFile, newKeyFile string) error {
	if authKeyFile == "" {
		// no authorizing key yet, cryptsetup prompts for a passphrase
		cmd := fmt.Sprintf("cryptsetup luksAddKey %s %s", device, newKeyFile)
		utils.Log.Info().Str("device", device).Msg("Enrolling key, passphrase required")
		if err := utils.Interactive(cmd); err != nil {
			return fmt.Errorf("adding key slot on %s: %w", device, err)
		}
		return nil
	}
	out, err := utils.SH(fmt.Sprintf("cryptsetup luksAddKey --key-file %s %s %s", authKeyFile, device, newKeyFile))
	if err != nil {
		return fmt.Errorf("adding key slot on %s: %w (%s)", device, err, strings.TrimSpace(out))
	}
	return nil
}

func (Cryptsetup) RemoveKey(device, keyFile string) error {
	out, err := utils.SH(fmt.Sprintf("cryptsetup luksRemoveKey %s %s", device, keyFile))
	if err != nil {
		return fmt.Errorf("removing key slot on %s: %w (%s)", device, err, strings.TrimSpace(out))
	}
	return nil
}

// Initramfs regenerates initrd images through update-initramfs.
type Initramfs struct{}

func (Initramfs) Regenerate(version string) error {
	out, err := utils.SH(fmt.Sprintf("update-initramfs -u -k %s", version))
	utils.Log.Debug().Str("out", out).Str("kernel", version).Msg("update-initramfs")
	if err != nil {
		return fmt.Errorf("regenerating initrd for %s: %w (%s)", version, err, strings.TrimSpace(out))
	}
	return nil
}
