// Package domain defines the core identifiers and scalar types shared by
// every layer of the indexer: hashes, ticks, fixed-point amounts and the
// transaction-graph coordinates (outpoints, locations, inscription ids).
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashSize is the length of a FullHash in bytes.
const HashSize = 32

// FullHash is the SHA-256 hash of an output's locking script. It is the
// canonical address key used throughout the store and holders index.
type FullHash [HashSize]byte

// OpReturnHash is the reserved sentinel owner for burned transferables:
// sha256("BURNED").
var OpReturnHash = FullHash(sha256.Sum256([]byte("BURNED")))

// IsZero reports whether h is the zero value.
func (h FullHash) IsZero() bool {
	return h == FullHash{}
}

// IsBurned reports whether h is the reserved OP_RETURN sentinel.
func (h FullHash) IsBurned() bool {
	return h == OpReturnHash
}

// String returns the hex encoding of the hash.
func (h FullHash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a copy of the hash bytes.
func (h FullHash) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

// MarshalJSON encodes the hash as a hex string.
func (h FullHash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes a hex string into the hash.
func (h *FullHash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*h = FullHash{}
		return nil
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid fullhash hex: %w", err)
	}
	if len(decoded) != HashSize {
		return fmt.Errorf("fullhash must be %d bytes, got %d", HashSize, len(decoded))
	}
	copy(h[:], decoded)
	return nil
}

// HashScript computes the canonical FullHash of a locking script.
func HashScript(script []byte) FullHash {
	return FullHash(sha256.Sum256(script))
}

// HexToFullHash parses a hex string into a FullHash.
func HexToFullHash(s string) (FullHash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return FullHash{}, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != HashSize {
		return FullHash{}, fmt.Errorf("fullhash must be %d bytes, got %d", HashSize, len(b))
	}
	var h FullHash
	copy(h[:], b)
	return h, nil
}

// TxHash is a 32-byte transaction or block hash, displayed as hex in the
// byte order it is stored in (no byte-order reversal).
type TxHash [HashSize]byte

// IsZero reports whether h is the zero value.
func (h TxHash) IsZero() bool {
	return h == TxHash{}
}

// String returns the hex encoding of the hash, most-significant byte first
// as stored (callers that need wire byte-order reversal do it explicitly).
func (h TxHash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalJSON encodes the hash as a hex string.
func (h TxHash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes a hex string into the hash.
func (h *TxHash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*h = TxHash{}
		return nil
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid txhash hex: %w", err)
	}
	if len(decoded) != HashSize {
		return fmt.Errorf("txhash must be %d bytes, got %d", HashSize, len(decoded))
	}
	copy(h[:], decoded)
	return nil
}

// HexToTxHash parses a hex string into a TxHash.
func HexToTxHash(s string) (TxHash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return TxHash{}, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != HashSize {
		return TxHash{}, fmt.Errorf("txhash must be %d bytes, got %d", HashSize, len(b))
	}
	var h TxHash
	copy(h[:], b)
	return h, nil
}
