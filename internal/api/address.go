package api

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/choosenname/bel-20-indexer/config"
	"github.com/choosenname/bel-20-indexer/internal/domain"
)

// ErrInvalidAddress is returned by ResolveScriptHash when none of the
// accepted address formats (on-chain address, raw scripthash hex,
// pubkey hex) matches the input.
var ErrInvalidAddress = errors.New("api: not a valid address, scripthash, or pubkey")

// ErrWrongNetwork is returned when a base58check address decodes
// cleanly but carries a version byte belonging to a different network
// than the one the indexer is running against.
var ErrWrongNetwork = errors.New("api: address belongs to a different network")

// addressVersions names the base58check version bytes this indexer's
// network accepts for pay-to-pubkey-hash and pay-to-script-hash
// addresses. original_source/src/rest/utils.rs delegates this check to
// the bellscoin crate's own Address/Network types; lacking that crate
// here, the version bytes are named directly per network.
type addressVersions struct {
	p2pkh byte
	p2sh  byte
}

var versionsByNetwork = map[config.NetworkType]addressVersions{
	config.Bellscoin: {p2pkh: 0x19, p2sh: 0x1e},
}

// ResolveScriptHash converts one of the three address forms §6.1 accepts
// into the FullHash (sha256 of the locking script) the store is keyed
// by: a raw scripthash (64 hex chars), a compressed (66 hex chars) or
// uncompressed (130 hex chars) public key converted to its P2PK script,
// or a base58check on-chain address converted to its P2PKH/P2SH script.
// network selects which version bytes an on-chain address must carry.
func ResolveScriptHash(input string, network config.NetworkType) (domain.FullHash, error) {
	if h, ok := tryScriptHashHex(input); ok {
		return h, nil
	}
	if h, ok, err := tryPubKeyHex(input); ok || err != nil {
		return h, err
	}
	return addressToScriptHash(input, network)
}

func tryScriptHashHex(input string) (domain.FullHash, bool) {
	if len(input) != 64 {
		return domain.FullHash{}, false
	}
	h, err := domain.HexToFullHash(input)
	if err != nil {
		return domain.FullHash{}, false
	}
	return h, true
}

// tryPubKeyHex recognizes a 33-byte compressed (02/03 prefix) or 65-byte
// uncompressed (04 prefix) public key and returns the scripthash of its
// pay-to-pubkey locking script: <pubkey> OP_CHECKSIG.
func tryPubKeyHex(input string) (domain.FullHash, bool, error) {
	if len(input) != 66 && len(input) != 130 {
		return domain.FullHash{}, false, nil
	}
	pub, err := hex.DecodeString(input)
	if err != nil {
		return domain.FullHash{}, false, nil
	}
	switch {
	case len(pub) == 33 && (pub[0] == 0x02 || pub[0] == 0x03):
	case len(pub) == 65 && pub[0] == 0x04:
	default:
		return domain.FullHash{}, false, nil
	}
	script := p2pkScript(pub)
	return domain.HashScript(script), true, nil
}

// p2pkScript builds <push pubkey> OP_CHECKSIG.
func p2pkScript(pub []byte) []byte {
	script := make([]byte, 0, len(pub)+2)
	script = append(script, byte(len(pub)))
	script = append(script, pub...)
	script = append(script, opCheckSig)
	return script
}

const (
	opDup         = 0x76
	opHash160     = 0xa9
	opEqualVerify = 0x88
	opCheckSig    = 0xac
	opEqual       = 0x87
	opHash160Size = 20
)

// addressToScriptHash base58check-decodes addr, checks its version byte
// against network, and builds the corresponding P2PKH or P2SH locking
// script.
func addressToScriptHash(addr string, network config.NetworkType) (domain.FullHash, error) {
	decoded, err := base58.Decode(addr)
	if err != nil {
		return domain.FullHash{}, fmt.Errorf("%w: %s", ErrInvalidAddress, err)
	}
	if len(decoded) != 1+opHash160Size+4 {
		return domain.FullHash{}, fmt.Errorf("%w: wrong length", ErrInvalidAddress)
	}

	payload, checksum := decoded[:len(decoded)-4], decoded[len(decoded)-4:]
	want := doubleSHA256(payload)[:4]
	if !bytesEqual(checksum, want) {
		return domain.FullHash{}, fmt.Errorf("%w: bad checksum", ErrInvalidAddress)
	}

	versions, ok := versionsByNetwork[network]
	if !ok {
		return domain.FullHash{}, fmt.Errorf("api: unknown network %q", network)
	}

	version, hash160 := payload[0], payload[1:]
	var script []byte
	switch version {
	case versions.p2pkh:
		script = append([]byte{opDup, opHash160, opHash160Size}, hash160...)
		script = append(script, opEqualVerify, opCheckSig)
	case versions.p2sh:
		script = append([]byte{opHash160, opHash160Size}, hash160...)
		script = append(script, opEqual)
	default:
		return domain.FullHash{}, ErrWrongNetwork
	}
	return domain.HashScript(script), nil
}

func doubleSHA256(b []byte) [32]byte {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
