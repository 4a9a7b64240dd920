package tokenstore

import (
	"encoding/binary"
	"fmt"

	"github.com/choosenname/bel-20-indexer/internal/domain"
)

// Column family name prefixes. Each is handed to storage.NewPrefixDB so
// every table lives in its own namespace of one shared storage.DB.
const (
	cfTokenMeta       = "tm"
	cfBalance         = "bal"
	cfActiveTransfer  = "atx"
	cfActiveTransferIdx = "atidx"
	cfHistory         = "hist"
	cfHistoryByTxID   = "htxid"
	cfBlockEvents     = "bevt"
	cfOutpointIndex   = "oidx"
	cfBlockHash       = "bhash"
	cfProofOfHistory  = "poh"
	cfPrevoutCache    = "prevout"
	cfFullHashAddress = "addr"
	cfMeta            = "meta"
)

// Singleton keys inside the meta column family.
var (
	keyLastBlock     = []byte("last_block")
	keyLastHistoryID = []byte("last_history_id")
	keySchemaVersion = []byte("schema_version")
)

// tickKey returns tick padded/truncated to domain.TickSize bytes so every
// key built from it has a stable, comparable length.
func tickKey(tick domain.LowerCaseTick) []byte {
	b := make([]byte, domain.TickSize)
	copy(b, []byte(tick))
	return b
}

// tokenMetaKey is keyed by the canonical lowercase tick alone.
func tokenMetaKey(tick domain.LowerCaseTick) []byte {
	return tickKey(tick)
}

// balanceKey is owner(32) ++ tick(4).
func balanceKey(owner domain.FullHash, tick domain.LowerCaseTick) []byte {
	k := make([]byte, 0, domain.HashSize+domain.TickSize)
	k = append(k, owner.Bytes()...)
	k = append(k, tickKey(tick)...)
	return k
}

// outpointBytes is txid(32) ++ vout_be(4).
func outpointBytes(o domain.Outpoint) []byte {
	b := make([]byte, 0, domain.HashSize+4)
	b = append(b, o.TxID[:]...)
	b = binary.BigEndian.AppendUint32(b, o.Vout)
	return b
}

// locationKey is outpoint(36) ++ offset_be(8): the global, owner-agnostic
// key a transferable's creation Location maps to. A spend names only the
// location it consumes, never the holder, so this must be look-up-able
// without already knowing the owner.
func locationKey(loc domain.Location) []byte {
	k := make([]byte, 0, 36+8)
	k = append(k, outpointBytes(loc.Outpoint)...)
	k = binary.BigEndian.AppendUint64(k, loc.Offset)
	return k
}

// ownerTransferIndexKey is owner(32) ++ locationKey(44), a secondary
// index letting a range scan over an owner's prefix enumerate every
// active transfer it currently holds.
func ownerTransferIndexKey(owner domain.FullHash, loc domain.Location) []byte {
	k := make([]byte, 0, domain.HashSize+44)
	k = append(k, owner.Bytes()...)
	k = append(k, locationKey(loc)...)
	return k
}

func decodeLocationKey(b []byte) (domain.Location, error) {
	if len(b) != 44 {
		return domain.Location{}, fmt.Errorf("tokenstore: malformed location key")
	}
	var txid domain.TxHash
	copy(txid[:], b[:32])
	vout := binary.BigEndian.Uint32(b[32:36])
	offset := binary.BigEndian.Uint64(b[36:44])
	return domain.Location{Outpoint: domain.Outpoint{TxID: txid, Vout: vout}, Offset: offset}, nil
}

// historyKey is owner(32) ++ tick(4) ++ id_be(8): a range scan over the
// owner prefix walks every row for that address, ordered by tick then by
// insertion id.
func historyKey(owner domain.FullHash, tick domain.LowerCaseTick, id uint64) []byte {
	k := make([]byte, 0, domain.HashSize+domain.TickSize+8)
	k = append(k, owner.Bytes()...)
	k = append(k, tickKey(tick)...)
	k = binary.BigEndian.AppendUint64(k, id)
	return k
}

// txidHistoryKey is txid(32) ++ id_be(8): a range scan over the txid
// prefix enumerates every history row touching that transaction,
// ordered by insertion id.
func txidHistoryKey(txid domain.TxHash, id uint64) []byte {
	k := make([]byte, 0, domain.HashSize+8)
	k = append(k, txid[:]...)
	k = binary.BigEndian.AppendUint64(k, id)
	return k
}

func heightKey(height uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, height)
	return b
}
