package plan

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest returns the hex SHA-256 digest of serialized bytes, used to
// digest-anchor build state to the plan and overrides files (spec §3).
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
