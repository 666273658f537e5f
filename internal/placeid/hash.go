// Package placeid derives a stable identity fingerprint for a place from its
// name and address, independent of the external catalog's own id.
package placeid

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Hash returns the canonical identity hash for a (name, address) pair.
// Case and surrounding/interior whitespace do not affect the result; the
// digest is used for dedup bookkeeping, not security.
func Hash(name, address string) string {
	sum := sha256.Sum256([]byte(canonical(name) + "|" + canonical(address)))
	return hex.EncodeToString(sum[:])
}

// canonical NFC-normalizes, case-folds and collapses whitespace runs so that
// cosmetic variations of the same place name compare equal.
func canonical(s string) string {
	s = norm.NFC.String(s)
	// A Caser is stateful, so a fresh one is needed per call.
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
