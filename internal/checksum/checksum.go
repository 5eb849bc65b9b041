// Package checksum computes the SHA-256 digests used for node ETags and
// attachment content hashes.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SumReader streams r through SHA-256 and returns the digest and byte count.
func SumReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Parts digests an ordered list of named parts. Each part is framed by its
// name and length so that moving bytes between parts changes the digest.
func Parts(names []string, parts [][]byte) string {
	h := sha256.New()
	var lenBuf [8]byte
	for i, name := range names {
		_, _ = io.WriteString(h, name)
		_, _ = h.Write([]byte{0})
		n := uint64(len(parts[i]))
		for b := 0; b < 8; b++ {
			lenBuf[b] = byte(n >> (8 * b))
		}
		_, _ = h.Write(lenBuf[:])
		_, _ = h.Write(parts[i])
	}
	return hex.EncodeToString(h.Sum(nil))
}
