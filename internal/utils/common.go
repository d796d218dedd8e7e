package utils

import (
	"os"
	"os/exec"
	"strings"
)

// SH runs a command through sh and returns its combined output.
func SH(c string) (string, error) {
	o, err := exec.Command("/bin/sh", "-c", c).CombinedOutput()
	return string(o), err
}

// Interactive runs a command through sh with the terminal attached, for
// tools that prompt the operator.
func Interactive(c string) error {
	cmd := exec.Command("/bin/sh", "-c", c)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// CleanupSlice removes empty or whitespace-only elements.
func CleanupSlice(s []string) []string {
	var cleaned []string
	for _, item := range s {
		if strings.TrimSpace(item) == "" {
			continue
		}
		cleaned = append(cleaned, item)
	}
	return cleaned
}

// UniqueSlice removes duplicate elements, keeping first-seen order.
func UniqueSlice(s []string) []string {
	seen := make(map[string]struct{}, len(s))
	var unique []string
	for _, item := range s {
		if _, ok := seen[item]; !ok {
			seen[item] = struct{}{}
			unique = append(unique, item)
		}
	}
	return unique
}
