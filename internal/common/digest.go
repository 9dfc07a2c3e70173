package common

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sha256Hex digests parts as lowercase hex. Parts are NUL separated so that
// ("ab", "c") and ("a", "bc") never collide.
func Sha256Hex(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
