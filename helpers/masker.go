package helpers

import (
	"encoding/hex"
	"strings"

	"lukechampine.com/blake3"
)

// MaskAddress prepares a sender address for logging. With hash disabled the
// address is only passed through SanitizeForLog. With hash enabled it is replaced by the first
// 16 hex characters of the BLAKE3 digest of its lower-cased form, so the
// same mailbox always maps to the same token regardless of case.
func MaskAddress(address string, hash bool) string {
	if !hash {
		return SanitizeForLog(address)
	}
	sum := blake3.Sum256([]byte(strings.ToLower(address)))
	return "b3:" + hex.EncodeToString(sum[:8])
}
