// Package md5 provides the MD5 content fingerprinter. MD5 is used for change
// detection only, and its digests match the website_hash values already stored
// for tracked sites.
package md5

import (
	"crypto/md5" //nolint:gosec // change detection, not a security boundary
	"encoding/hex"
)

// Hasher implements tracker.Hasher using MD5.
type Hasher struct{}

// New returns an MD5 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the 32-character hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := md5.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:]), nil
}
