// Package grubmenu reconstructs the menu/submenu hierarchy of a GRUB
// configuration file and resolves the kernel that will actually boot next.
package grubmenu

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"github.com/google/shlex"
)

type EntryType int

const (
	Menu EntryType = iota
	Submenu
)

// Context is one open menu or submenu block on the parse stack. Index is the
// 0-based position among its siblings at the time the block was opened.
type Context struct {
	Title string
	ID    string
	Type  EntryType
	Index int
}

// Kernel pairs the menu path leading to an initrd line with the kernel
// version and initrd path that line names.
type Kernel struct {
	Path    []Context
	Version string
	Initrd  string
}

var initrdRE = regexp.MustCompile(`^initrd\s+(\S*/initrd\.img-(\S+))`)

// flags of menuentry/submenu headers that consume a following argument
var argFlags = map[string]bool{
	"--class":  true,
	"--users":  true,
	"--hotkey": true,
	"--id":     true,
}

// Walk scans a GRUB configuration in a single pass, calling fn for every
// initrd line with the stack of enclosing menu contexts. fn returning false
// stops the scan; re-invoke Walk to restart. Closing braces are matched by a
// bare "}" line only, so a directive with its own brace block inside a menu
// body will desynchronize the stack; well-formed grub-mkconfig output does
// not produce those.
func Walk(r io.Reader, fn func(Kernel) bool) error {
	var stack []Context
	siblings := []int{0}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "menuentry ") && strings.HasSuffix(line, "{"):
			ctx, err := parseHeader(line, "menuentry", Menu, siblings[len(siblings)-1])
			if err != nil {
				return err
			}
			stack = append(stack, ctx)
			siblings = append(siblings, 0)
		case strings.HasPrefix(line, "submenu ") && strings.HasSuffix(line, "{"):
			ctx, err := parseHeader(line, "submenu", Submenu, siblings[len(siblings)-1])
			if err != nil {
				return err
			}
			stack = append(stack, ctx)
			siblings = append(siblings, 0)
		case line == "}":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
				siblings = siblings[:len(siblings)-1]
				siblings[len(siblings)-1]++
			}
		default:
			m := initrdRE.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			// the stack stays as is: an entry body may reference
			// more than one kernel
			k := Kernel{
				Path:    append([]Context(nil), stack...),
				Version: m[2],
				Initrd:  m[1],
			}
			if !fn(k) {
				return nil
			}
		}
	}
	return scanner.Err()
}

func parseHeader(line, keyword string, t EntryType, index int) (Context, error) {
	args := strings.TrimSuffix(strings.TrimPrefix(line, keyword), "{")
	tokens, err := shlex.Split(args)
	if err != nil {
		return Context{}, err
	}

	ctx := Context{Type: t, Index: index}
	var positionals []string
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if strings.HasPrefix(tok, "--") {
			if tok == "--id" && i+1 < len(tokens) {
				ctx.ID = tokens[i+1]
			}
			if argFlags[tok] {
				i++
			}
			continue
		}
		positionals = append(positionals, tok)
	}
	if len(positionals) > 0 {
		ctx.Title = positionals[0]
	}
	// grub-mkconfig emits the id as a trailing positional (behind the
	// $menuentry_id_option indirection); honor it when --id was absent
	if ctx.ID == "" && len(positionals) > 1 {
		ctx.ID = positionals[len(positionals)-1]
	}
	return ctx, nil
}
