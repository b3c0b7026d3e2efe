// Package hash selects the content fingerprinter used for change detection.
package hash

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/sitewatch/internal/hash/md5"
	"github.com/JakeFAU/sitewatch/internal/hash/sha256"
	"github.com/JakeFAU/sitewatch/internal/hash/xxhash"
	"github.com/JakeFAU/sitewatch/internal/tracker"
)

// Supported algorithm names.
const (
	AlgorithmMD5    = "md5"
	AlgorithmSHA256 = "sha256"
	AlgorithmXXHash = "xxhash"
)

// New returns the hasher registered under algorithm. An empty name selects MD5.
func New(algorithm string) (tracker.Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "", AlgorithmMD5:
		return md5.New(), nil
	case AlgorithmSHA256:
		return sha256.New(), nil
	case AlgorithmXXHash:
		return xxhash.New(), nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", algorithm)
	}
}
