package api

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/mr-tron/base58"

	"github.com/choosenname/bel-20-indexer/config"
	"github.com/choosenname/bel-20-indexer/internal/domain"
)

func encodeAddress(t *testing.T, version byte, hash160 [20]byte) string {
	t.Helper()
	payload := append([]byte{version}, hash160[:]...)
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return base58.Encode(append(payload, second[:4]...))
}

func TestResolveScriptHash_ScriptHashHex(t *testing.T) {
	h := domain.HashScript([]byte("arbitrary script"))
	got, err := ResolveScriptHash(h.String(), config.Bellscoin)
	if err != nil {
		t.Fatalf("ResolveScriptHash: %v", err)
	}
	if got != h {
		t.Fatalf("got %s, want %s", got, h)
	}
}

func TestResolveScriptHash_CompressedPubKey(t *testing.T) {
	pub := make([]byte, 33)
	pub[0] = 0x02
	for i := 1; i < 33; i++ {
		pub[i] = byte(i)
	}
	got, err := ResolveScriptHash(hex.EncodeToString(pub), config.Bellscoin)
	if err != nil {
		t.Fatalf("ResolveScriptHash: %v", err)
	}
	want := domain.HashScript(p2pkScript(pub))
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestResolveScriptHash_UncompressedPubKeyRejectsBadPrefix(t *testing.T) {
	pub := make([]byte, 65)
	pub[0] = 0x05 // not a valid uncompressed prefix
	if _, err := ResolveScriptHash(hex.EncodeToString(pub), config.Bellscoin); err == nil {
		t.Fatal("expected an error for a malformed pubkey-length input")
	}
}

func TestResolveScriptHash_P2PKHAddress(t *testing.T) {
	var hash160 [20]byte
	for i := range hash160 {
		hash160[i] = byte(i + 1)
	}
	addr := encodeAddress(t, versionsByNetwork[config.Bellscoin].p2pkh, hash160)

	got, err := ResolveScriptHash(addr, config.Bellscoin)
	if err != nil {
		t.Fatalf("ResolveScriptHash: %v", err)
	}

	script := append([]byte{opDup, opHash160, opHash160Size}, hash160[:]...)
	script = append(script, opEqualVerify, opCheckSig)
	want := domain.HashScript(script)
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestResolveScriptHash_P2SHAddress(t *testing.T) {
	var hash160 [20]byte
	for i := range hash160 {
		hash160[i] = byte(i + 10)
	}
	addr := encodeAddress(t, versionsByNetwork[config.Bellscoin].p2sh, hash160)

	got, err := ResolveScriptHash(addr, config.Bellscoin)
	if err != nil {
		t.Fatalf("ResolveScriptHash: %v", err)
	}

	script := append([]byte{opHash160, opHash160Size}, hash160[:]...)
	script = append(script, opEqual)
	want := domain.HashScript(script)
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestResolveScriptHash_WrongNetworkVersionByte(t *testing.T) {
	var hash160 [20]byte
	addr := encodeAddress(t, 0x6f, hash160) // testnet-style byte, not Bellscoin's
	if _, err := ResolveScriptHash(addr, config.Bellscoin); err == nil {
		t.Fatal("expected ErrWrongNetwork for a foreign version byte")
	}
}

func TestResolveScriptHash_InvalidInput(t *testing.T) {
	if _, err := ResolveScriptHash("not-an-address-or-hash", config.Bellscoin); err == nil {
		t.Fatal("expected an error for garbage input")
	}
}

