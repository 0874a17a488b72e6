package llmq

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Identifier is a 32-byte double-SHA-256 hash used throughout the LLMQ
// subsystem to name blocks, quorums, requests and messages.
type Identifier [32]byte

// ZeroID is the null identifier.
var ZeroID Identifier

// HexToIdentifier parses a hex string (big-endian, as displayed) into an Identifier.
func HexToIdentifier(h string) (Identifier, error) {
	var id Identifier
	b, err := hex.DecodeString(h)
	if err != nil {
		return id, err
	}
	if len(b) != len(id) {
		return id, errors.New("llmq: invalid identifier length")
	}
	copy(id[:], b)
	return id, nil
}

func (id Identifier) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the null identifier.
func (id Identifier) IsZero() bool {
	return id == ZeroID
}

// DoubleSHA256 computes the node's standard double-SHA-256 over the
// concatenation of the given byte slices. This is the H(...) function
// referenced throughout spec §3 and §6 (signHash, commitmentHash, modifier).
func DoubleSHA256(parts ...[]byte) Identifier {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	first := h.Sum(nil)
	second := sha256.Sum256(first)
	return Identifier(second)
}

// DomainHash hashes a short ASCII domain tag together with a payload,
// e.g. H("inlock" || prevout) or H("islock" || inputs).
func DomainHash(tag string, payload ...[]byte) Identifier {
	parts := make([][]byte, 0, len(payload)+1)
	parts = append(parts, []byte(tag))
	parts = append(parts, payload...)
	return DoubleSHA256(parts...)
}
