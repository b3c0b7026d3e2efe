package hash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDigestLengths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		algorithm string
		length    int
	}{
		{algorithm: "", length: 32},
		{algorithm: "md5", length: 32},
		{algorithm: "SHA256", length: 64},
		{algorithm: " xxhash ", length: 16},
	}
	for _, tc := range tests {
		h, err := New(tc.algorithm)
		require.NoError(t, err, tc.algorithm)
		got, err := h.Hash([]byte("page text"))
		require.NoError(t, err)
		require.Len(t, got, tc.length, tc.algorithm)
	}
}

func TestNewUnknownAlgorithm(t *testing.T) {
	t.Parallel()

	_, err := New("crc32")
	require.ErrorContains(t, err, "unknown hash algorithm")
}
