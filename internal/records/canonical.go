package records

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/atopypass/backend/internal/memo"
)

// CanonicalRecord is the exact value set hashed to produce a record's
// content address. Fields are declared in lexicographic key order so the
// serialization is byte-deterministic; two equal-value records always
// canonicalize to the same bytes regardless of how they were constructed.
type CanonicalRecord struct {
	CreatedAt    string `json:"created_at"`
	OwnerAddress string `json:"owner_address"`
	RawText      string `json:"raw_text"`
}

// Canonicalize produces the sorted-key, minified JSON serialization.
func (r CanonicalRecord) Canonicalize() string {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	// Encoding a flat string struct cannot fail.
	_ = encoder.Encode(r)
	return strings.TrimSuffix(buffer.String(), "\n")
}

// HashRecord returns the sha256 content hash of the canonical serialization,
// hex-encoded lowercase. Pure: the caller supplies CreatedAt.
func HashRecord(record CanonicalRecord) memo.Hash {
	digest := sha256.Sum256([]byte(record.Canonicalize()))
	return memo.Hash(hex.EncodeToString(digest[:]))
}
