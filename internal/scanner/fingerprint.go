package scanner

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Fingerprint derives the stable identity of a finding from the tuple that
// defines it. The same secret reported again in a later scan maps to the
// same hash, which is what makes upserts deduplicate. Commit may be empty
// (the pattern matcher works on a checkout, not history).
func Fingerprint(scannerName, detector, repoFullName, filePath, commit string, line int) string {
	material := strings.Join([]string{
		scannerName, detector, repoFullName, filePath, commit, strconv.Itoa(line),
	}, ":")
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])[:16]
}
