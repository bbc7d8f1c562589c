package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashSize is the length of block and transaction hashes in bytes.
const HashSize = 32

// Hash identifies a block or transaction by its double SHA-256 digest.
type Hash [HashSize]byte

// ZeroHash is the all-zero hash, used as the previous-block reference of
// the genesis block and as the outpoint of coinbase inputs.
var ZeroHash Hash

// HashFromBytes converts a raw 32-byte slice into a Hash.
func HashFromBytes(data []byte) (Hash, error) {
	var h Hash
	if len(data) != HashSize {
		return h, fmt.Errorf("invalid hash length: got %d, want %d", len(data), HashSize)
	}
	copy(h[:], data)
	return h, nil
}

// HashFromString parses a 64-character hex string into a Hash.
func HashFromString(s string) (Hash, error) {
	var h Hash
	data, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash encoding: %w", err)
	}
	return HashFromBytes(data)
}

// IsZero reports whether the hash is all zeroes.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// String returns the full hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns a truncated hex form for log output.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:8])
}

// MarshalJSON encodes the hash as a hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes the hash from a hex string.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := HashFromString(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
