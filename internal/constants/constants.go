package constants

import "errors"

var (
	// ErrNotConfigured is returned by operations that need a completed
	// configure run first.
	ErrNotConfigured = errors.New("not configured")
	// ErrAlreadyConfigured is returned by configure on a configured host.
	ErrAlreadyConfigured = errors.New("already configured")
	// ErrAlreadyEnabled is returned by enable-always when keyless boot is
	// active and no mode switch applies.
	ErrAlreadyEnabled = errors.New("keyless boot already enabled")
	// ErrNotEnabled is returned by disable when keyless boot is not active.
	ErrNotEnabled = errors.New("keyless boot not enabled")
	// ErrCrypttabMismatch is returned when the live crypttab does not match
	// the snapshot the operation expects.
	ErrCrypttabMismatch = errors.New("live crypttab does not match snapshot")
)

// Step names for the operation graphs.
const (
	OpCheckState      = "check-state"
	OpCheckCrypttab   = "check-crypttab"
	OpCheckDevices    = "check-devices"
	OpResolveKernels  = "resolve-kernels"
	OpMasterKey       = "master-key"
	OpTransientKey    = "transient-key"
	OpAddKeySlots     = "add-key-slots"
	OpRemoveKeySlots  = "remove-key-slots"
	OpSnapshots       = "write-snapshots"
	OpRemoveSnapshots = "remove-snapshots"
	OpSwapCrypttab    = "swap-crypttab"
	OpRestoreCrypttab = "restore-crypttab"
	OpInitrd          = "regenerate-initrd"
	OpBootHook        = "boot-hook"
	OpSaveSettings    = "save-settings"
	OpRemoveSettings  = "remove-settings"
)

const (
	// SettingsFile is the persisted settings store.
	SettingsFile = "/var/lib/bootkey/settings.conf"
	// MasterKeyFile lives on the encrypted root filesystem.
	MasterKeyFile = "/etc/bootkey/master.key"
	// TransientKeyFile lives unencrypted on the boot partition. Its path
	// relative to the boot mountpoint is what ends up in the keyless
	// crypttab, readable by the keyscript before root is unlocked.
	TransientKeyFile = "/boot/bootkey/transient.key"
	// TransientKeyTail is TransientKeyFile relative to BootMountpoint.
	TransientKeyTail = "/bootkey/transient.key"

	// CrypttabFile is the live mount table consumed at boot.
	CrypttabFile = "/etc/crypttab"
	// KeyfulSnapshotFile is the passphrase-prompting crypttab snapshot.
	KeyfulSnapshotFile = "/var/lib/bootkey/crypttab.keyful"
	// KeylessSnapshotFile is the keyscript-unlocking crypttab snapshot.
	KeylessSnapshotFile = "/var/lib/bootkey/crypttab.keyless"

	// Keyscript is the helper the keyless crypttab points at. It reads the
	// transient key from a device:path keyfile spec.
	Keyscript = "/lib/cryptsetup/scripts/passdev"

	BootMountpoint = "/boot"
	ByUUIDDir      = "/dev/disk/by-uuid"

	GrubConfigFile = "/boot/grub/grub.cfg"
	GrubEnvFile    = "/boot/grub/grubenv"

	// HookScript runs at the end of the boot sequence; the hook line makes
	// an enable-once boot revert itself.
	HookScript = "/etc/rc.local"
	// HookLine is the self-disable directive inserted into HookScript.
	HookLine = "/usr/sbin/bootkey disable"

	// KeyLength is the length of generated master and transient keys.
	KeyLength = 64
)
