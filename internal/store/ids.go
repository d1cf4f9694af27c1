package store

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// IDGenerator produces document IDs.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 document IDs.
// It is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
// Panics if UUID generation fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// domainUniqueKey separates find-or-create key hashes from any other hash
// the store might compute.
const domainUniqueKey = "runsystem/unique-key/v1"

// hashKey computes SHA256(domain + 0x00 + collection + 0x00 + key).
func hashKey(collection, key string) string {
	h := sha256.New()
	h.Write([]byte(domainUniqueKey))
	h.Write([]byte{0x00})
	h.Write([]byte(collection))
	h.Write([]byte{0x00})
	h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil))
}
