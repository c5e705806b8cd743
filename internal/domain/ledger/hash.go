package ledger

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash digests a canonical serialization with SHA-256 and returns lowercase
// hex. This is a content-integrity digest, not a MAC; anyone holding the
// payload can recompute it.
func Hash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
