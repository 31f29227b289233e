// Package hashx computes the content hashes stored in backup manifests.
// Hashes are BLAKE3-256 over the file plaintext, so integrity checks run
// against what the user's data actually was, not against ciphertext.
package hashx

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Size is the digest length in bytes.
const Size = 32

// Sum returns the BLAKE3-256 digest of data.
func Sum(data []byte) [Size]byte {
	return blake3.Sum256(data)
}

// SumHex returns the hex-encoded BLAKE3-256 digest of data. This is the
// form persisted in FileEntry.content_hash.
func SumHex(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Verify recomputes the digest of data and compares it to wantHex.
func Verify(data []byte, wantHex string) error {
	got := SumHex(data)
	if got != wantHex {
		return fmt.Errorf("hash mismatch: got %s, want %s", got, wantHex)
	}
	return nil
}
