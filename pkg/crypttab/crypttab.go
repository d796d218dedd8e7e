// Package crypttab parses the keyful mount table and derives the keyless
// variant that unlocks through a keyscript instead of a passphrase prompt.
package crypttab

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
)

// Entry is one crypttab line: target source keyfile options.
type Entry struct {
	Target  string
	Source  string
	KeyFile string
	Options string
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %s %s %s", e.Target, e.Source, e.KeyFile, e.Options)
}

// Filesystem is the (target, source) pair of one managed encrypted device.
type Filesystem struct {
	Target string
	Source string
}

// Parse reads a keyful crypttab. Every non-blank, non-comment line must have
// exactly four fields, a literal "none" keyfile and non-empty options that do
// not already name a keyscript. Anything else is a format error.
func Parse(content []byte) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(bytes.NewReader(content))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 4 {
			return nil, fmt.Errorf("crypttab line %d: expected 4 fields, got %d", line, len(fields))
		}
		e := Entry{Target: fields[0], Source: fields[1], KeyFile: fields[2], Options: fields[3]}
		if e.KeyFile != "none" {
			return nil, fmt.Errorf("crypttab line %d: keyfile is %q, only passphrase entries can be managed", line, e.KeyFile)
		}
		if hasKeyscript(e.Options) {
			return nil, fmt.Errorf("crypttab line %d: options already carry a keyscript", line)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func hasKeyscript(options string) bool {
	for _, opt := range strings.Split(options, ",") {
		if strings.HasPrefix(opt, "keyscript=") {
			return true
		}
	}
	return false
}

// Filesystems returns the ordered (target, source) pairs of the entries.
func Filesystems(entries []Entry) []Filesystem {
	fss := make([]Filesystem, 0, len(entries))
	for _, e := range entries {
		fss = append(fss, Filesystem{Target: e.Target, Source: e.Source})
	}
	return fss
}

// DeriveKeyless rewrites keyful entries into their keyless form: the keyfile
// becomes "<bootDevice>:<keyTail>" and the options gain a keyscript that
// knows how to read such a spec. Line order is preserved.
func DeriveKeyless(entries []Entry, bootDevice, keyTail, keyscript string) string {
	var b strings.Builder
	for _, e := range entries {
		out := e
		out.KeyFile = fmt.Sprintf("%s:%s", bootDevice, keyTail)
		out.Options = fmt.Sprintf("%s,keyscript=%s", e.Options, keyscript)
		b.WriteString(out.String())
		b.WriteByte('\n')
	}
	return b.String()
}
