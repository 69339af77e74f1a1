package fragment

import (
	"crypto/sha256"
	"fmt"
)

// EntryHash returns the stable identity of one indexable entry: the kind plus
// its primary and secondary text, hashed. The same hash keys both retrieval
// deduplication and the embedding store, so it must never depend on anything
// that changes between runs.
func EntryHash(kind, primary, secondary string) string {
	h := sha256.Sum256([]byte(kind + "\x00" + primary + "\x00" + secondary))
	return fmt.Sprintf("%x", h[:16])
}
