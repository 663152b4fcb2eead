// Package fingerprint computes stable content hashes for change and
// duplicate detection. This is change detection, not security: sha256 is
// used because byte-identical files must always produce the same value and
// any single-byte change must produce a different one.
package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
)

// Empty is the fingerprint of zero bytes.
const Empty = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// File computes the fingerprint of a file's full byte content.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// Bytes computes the fingerprint of a byte slice.
func Bytes(b []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(b))
}
