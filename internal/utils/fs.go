package utils

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWrite replaces path with data without it ever being observed
// half-written. The temp file lives in the target directory so the final
// rename stays on one filesystem.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// CopyFileAtomic reads src whole and writes it to dst via AtomicWrite.
func CopyFileAtomic(src, dst string, perm os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return AtomicWrite(dst, data, perm)
}

// keyCharset is every printable ASCII character except space, backslash and
// quotes, so generated keys survive shell quoting and crypttab field rules.
const keyCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789" +
	"!#$%&()*+,-./:;<=>?@[]^_{|}~"

// RandomKey returns n random printable characters from crypto/rand.
func RandomKey(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("gathering entropy: %w", err)
	}
	for i, b := range buf {
		buf[i] = keyCharset[int(b)%len(keyCharset)]
	}
	return string(buf), nil
}

// WriteKeyFile writes a secret 0600 with its directory created 0700.
func WriteKeyFile(path, key string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return AtomicWrite(path, []byte(key), 0600)
}
