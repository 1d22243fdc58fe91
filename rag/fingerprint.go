package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const fingerprintLen = 16

// Fingerprint derives the dedup key for passage content: hex digest of the
// lower-cased, whitespace-collapsed text, truncated to 16 chars. Passages
// that differ only in case or spacing share a fingerprint and are treated as
// the same evidence unit everywhere in retrieval and indexing.
func Fingerprint(content string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(content)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}
