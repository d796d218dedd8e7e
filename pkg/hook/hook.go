// Package hook manages the self-disable line in the boot-sequence script
// that turns an enable-once boot back into a keyful one.
package hook

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bootkey-io/bootkey/internal/utils"
)

// Hook installs and removes a single Line in Script. The script keeps its
// shebang and every other line; at most one hook line ever exists.
type Hook struct {
	Script string
	Line   string
}

// shells whose shebang we are willing to edit
var knownShells = map[string]bool{
	"sh":   true,
	"bash": true,
	"dash": true,
	"ksh":  true,
	"zsh":  true,
}

// Installed reports whether the hook line is present. A missing script
// counts as not installed.
func (h Hook) Installed() (bool, error) {
	lines, err := h.read()
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, l := range lines {
		if strings.TrimSpace(l) == h.Line {
			return true, nil
		}
	}
	return false, nil
}

// Install inserts the hook line right after the shebang. Installing an
// already-hooked script is a no-op.
func (h Hook) Install() error {
	lines, err := h.read()
	if err != nil {
		return err
	}
	if err := checkShebang(lines); err != nil {
		return err
	}
	for _, l := range lines {
		if strings.TrimSpace(l) == h.Line {
			return nil
		}
	}
	out := append([]string{lines[0], h.Line}, lines[1:]...)
	return h.write(out)
}

// Remove drops every hook line, keeping the rest of the script byte for
// byte. A missing script or absent line is a no-op.
func (h Hook) Remove() error {
	lines, err := h.read()
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var out []string
	changed := false
	for _, l := range lines {
		if strings.TrimSpace(l) == h.Line {
			changed = true
			continue
		}
		out = append(out, l)
	}
	if !changed {
		return nil
	}
	if err := checkShebang(lines); err != nil {
		return err
	}
	return h.write(out)
}

func (h Hook) read() ([]string, error) {
	data, err := os.ReadFile(h.Script)
	if err != nil {
		return nil, err
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n"), nil
}

func (h Hook) write(lines []string) error {
	data := strings.Join(lines, "\n") + "\n"
	info, err := os.Stat(h.Script)
	if err != nil {
		return err
	}
	return utils.AtomicWrite(h.Script, []byte(data), info.Mode().Perm())
}

func checkShebang(lines []string) error {
	if len(lines) == 0 || !strings.HasPrefix(lines[0], "#!") {
		return fmt.Errorf("boot-sequence script has no shebang, refusing to edit")
	}
	fields := strings.Fields(strings.TrimPrefix(lines[0], "#!"))
	if len(fields) == 0 {
		return fmt.Errorf("boot-sequence script has an empty shebang, refusing to edit")
	}
	interp := filepath.Base(fields[0])
	if interp == "env" && len(fields) > 1 {
		interp = filepath.Base(fields[1])
	}
	if !knownShells[interp] {
		return fmt.Errorf("boot-sequence script interpreter %q is not a known shell, refusing to edit", interp)
	}
	return nil
}
