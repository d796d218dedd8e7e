package grubmenu

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// ErrKernelNotFound means no menu entry matched the selector.
var ErrKernelNotFound = errors.New("no kernel matches the boot menu selector")

// ResolveVersion matches a ">"-delimited selector against the menu paths of
// the configuration and returns the kernel version of the first entry, in
// file order, whose path matches. A fragment matches a context when it is a
// substring of the context's sibling index concatenated with its id, and the
// match only holds when selector and path run out together.
func ResolveVersion(selector string, r io.Reader) (Kernel, error) {
	fragments := strings.Split(selector, ">")

	var found Kernel
	ok := false
	err := Walk(r, func(k Kernel) bool {
		if !pathMatches(fragments, k.Path) {
			return true
		}
		found = k
		ok = true
		return false
	})
	if err != nil {
		return Kernel{}, err
	}
	if !ok {
		return Kernel{}, fmt.Errorf("%w: %q", ErrKernelNotFound, selector)
	}
	return found, nil
}

func pathMatches(fragments []string, path []Context) bool {
	if len(fragments) != len(path) {
		return false
	}
	for i, frag := range fragments {
		ident := fmt.Sprintf("%d%s", path[i].Index, path[i].ID)
		if !strings.Contains(ident, frag) {
			return false
		}
	}
	return true
}

// DefaultSelector reads the default-entry directive from the configuration.
// A literal "saved" is substituted with the saved_entry value persisted in
// the GRUB environment block; if nothing resolves, the first top-level entry
// is the default.
func DefaultSelector(cfgPath, envPath string) (string, error) {
	f, err := os.Open(cfgPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	value := ""
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "set default=") {
			continue
		}
		v := stripQuotes(strings.TrimPrefix(line, "set default="))
		// grub-mkconfig headers assign "${next_entry}" in a branch
		// before the real default; an unexpanded variable cannot
		// name an entry
		if strings.Contains(v, "${") {
			continue
		}
		value = v
		break
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}

	if value == "saved" {
		value = savedEntry(envPath)
	}
	if value == "" {
		value = "0"
	}
	return value, nil
}

// savedEntry reads saved_entry from the environment block. The block is a
// key=value file padded with comment lines, which godotenv skips.
func savedEntry(envPath string) string {
	env, err := godotenv.Read(envPath)
	if err != nil {
		return ""
	}
	return env["saved_entry"]
}

// stripQuotes removes one layer of matching single or double quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// DefaultVersion resolves the kernel the boot loader will pick on its own.
func DefaultVersion(cfgPath, envPath string) (Kernel, error) {
	selector, err := DefaultSelector(cfgPath, envPath)
	if err != nil {
		return Kernel{}, err
	}
	f, err := os.Open(cfgPath)
	if err != nil {
		return Kernel{}, err
	}
	defer f.Close()
	return ResolveVersion(selector, f)
}
