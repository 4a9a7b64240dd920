package tokenstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/choosenname/bel-20-indexer/internal/domain"
	"github.com/choosenname/bel-20-indexer/internal/storage"
)

// CurrentSchemaVersion is the schema this binary writes and expects to
// read. A store opened with a higher persisted version refuses to start;
// a lower one has its persisted version marker rewritten to this one (no
// data migration runs, since this is the only schema this binary has
// ever had).
const CurrentSchemaVersion = 1

// ErrSchemaTooNew is returned by Open when the store was last written by
// a newer binary than this one.
var ErrSchemaTooNew = errors.New("tokenstore: persisted schema is newer than this binary supports")

// addressCacheSize bounds the owner-hash-to-display-string LRU. Display
// strings are derived once per hash via resolver.Resolve and are
// immutable thereafter, so a modest cache absorbs most repeat lookups
// across history rows in the same block.
const addressCacheSize = 1 << 16

// Store persists every token-protocol entity across a set of column
// families carved out of one shared storage.DB.
type Store struct {
	tokenMeta        *storage.PrefixDB
	balance          *storage.PrefixDB
	activeTransfer   *storage.PrefixDB
	activeTransferIdx *storage.PrefixDB
	history          *storage.PrefixDB
	historyByTxID   *storage.PrefixDB
	blockEvents     *storage.PrefixDB
	outpointIndex   *storage.PrefixDB
	blockHash       *storage.PrefixDB
	poh             *storage.PrefixDB
	prevoutCache    *storage.PrefixDB
	fullHashAddress *storage.PrefixDB
	meta            *storage.PrefixDB

	db           storage.DB
	addressCache *lru.Cache[domain.FullHash, string]
}

// Open wraps db with one PrefixDB per column family and checks the
// persisted schema version, writing CurrentSchemaVersion on a fresh
// store.
func Open(db storage.DB) (*Store, error) {
	cache, err := lru.New[domain.FullHash, string](addressCacheSize)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: allocate address cache: %w", err)
	}

	s := &Store{
		tokenMeta:       storage.NewPrefixDB(db, []byte(cfTokenMeta)),
		balance:         storage.NewPrefixDB(db, []byte(cfBalance)),
		activeTransfer:   storage.NewPrefixDB(db, []byte(cfActiveTransfer)),
		activeTransferIdx: storage.NewPrefixDB(db, []byte(cfActiveTransferIdx)),
		history:          storage.NewPrefixDB(db, []byte(cfHistory)),
		historyByTxID:   storage.NewPrefixDB(db, []byte(cfHistoryByTxID)),
		blockEvents:     storage.NewPrefixDB(db, []byte(cfBlockEvents)),
		outpointIndex:   storage.NewPrefixDB(db, []byte(cfOutpointIndex)),
		blockHash:       storage.NewPrefixDB(db, []byte(cfBlockHash)),
		poh:             storage.NewPrefixDB(db, []byte(cfProofOfHistory)),
		prevoutCache:    storage.NewPrefixDB(db, []byte(cfPrevoutCache)),
		fullHashAddress: storage.NewPrefixDB(db, []byte(cfFullHashAddress)),
		meta:            storage.NewPrefixDB(db, []byte(cfMeta)),
		db:              db,
		addressCache:    cache,
	}

	if err := s.checkSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) checkSchema() error {
	raw, err := s.meta.Get(keySchemaVersion)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("tokenstore: read schema version: %w", err)
	}
	if raw == nil {
		return s.meta.Put(keySchemaVersion, binary.BigEndian.AppendUint32(nil, CurrentSchemaVersion))
	}
	version := binary.BigEndian.Uint32(raw)
	switch {
	case version > CurrentSchemaVersion:
		return fmt.Errorf("%w: persisted=%d binary=%d", ErrSchemaTooNew, version, CurrentSchemaVersion)
	case version < CurrentSchemaVersion:
		// No migrations exist between any released schema and this one,
		// so only the version marker is rewritten.
		return s.meta.Put(keySchemaVersion, binary.BigEndian.AppendUint32(nil, CurrentSchemaVersion))
	default:
		return nil
	}
}

func getJSON[T any](db *storage.PrefixDB, key []byte) (T, error) {
	var out T
	raw, err := db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return out, ErrNotFound
		}
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("tokenstore: decode value: %w", err)
	}
	return out, nil
}

func putJSON(db *storage.PrefixDB, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("tokenstore: encode value: %w", err)
	}
	return db.Put(key, raw)
}

// --- TokenMeta -------------------------------------------------------

// GetTokenMeta returns the deployed token record for tick, or ErrNotFound.
func (s *Store) GetTokenMeta(tick domain.LowerCaseTick) (TokenMeta, error) {
	return getJSON[TokenMeta](s.tokenMeta, tokenMetaKey(tick))
}

// PutTokenMeta creates or overwrites a token's record.
func (s *Store) PutTokenMeta(tick domain.LowerCaseTick, meta TokenMeta) error {
	return putJSON(s.tokenMeta, tokenMetaKey(tick), meta)
}

// DeleteTokenMeta removes a token's record (used only by journal rollback
// when a deploy is unwound).
func (s *Store) DeleteTokenMeta(tick domain.LowerCaseTick) error {
	return s.tokenMeta.Delete(tokenMetaKey(tick))
}

// ForEachTokenMeta walks every deployed token's record in undefined order.
// Callers that need a stable order (listing, sorting, filtering) collect
// into a slice and sort it themselves.
func (s *Store) ForEachTokenMeta(fn func(TokenMeta) error) error {
	return s.tokenMeta.ForEach(nil, func(_, value []byte) error {
		var meta TokenMeta
		if err := json.Unmarshal(value, &meta); err != nil {
			return fmt.Errorf("tokenstore: decode token meta: %w", err)
		}
		return fn(meta)
	})
}

// --- Balance -----------------------------------------------------------

// GetBalance returns owner's balance in tick, or the zero Balance if none
// has ever been recorded.
func (s *Store) GetBalance(owner domain.FullHash, tick domain.LowerCaseTick) (Balance, error) {
	bal, err := getJSON[Balance](s.balance, balanceKey(owner, tick))
	if errors.Is(err, ErrNotFound) {
		return Balance{}, nil
	}
	return bal, err
}

// PutBalance stores owner's balance in tick.
func (s *Store) PutBalance(owner domain.FullHash, tick domain.LowerCaseTick, bal Balance) error {
	return putJSON(s.balance, balanceKey(owner, tick), bal)
}

// ForEachBalance walks every tick owner has ever had a balance recorded
// for, including zero balances left behind by a fully-spent mint or
// send. balanceKey is owner++tick, so a prefix scan on owner's bytes
// needs no secondary index.
func (s *Store) ForEachBalance(owner domain.FullHash, fn func(domain.LowerCaseTick, Balance) error) error {
	prefix := owner.Bytes()
	return s.balance.ForEach(prefix, func(key, value []byte) error {
		if len(key) != len(prefix)+domain.TickSize {
			return fmt.Errorf("tokenstore: malformed balance key")
		}
		var bal Balance
		if err := json.Unmarshal(value, &bal); err != nil {
			return fmt.Errorf("tokenstore: decode balance: %w", err)
		}
		return fn(domain.LowerCaseTick(key[len(prefix):]), bal)
	})
}

// ForEachAllBalances walks every (owner, tick, balance) record in the
// store regardless of owner, used at startup to rebuild the in-memory
// holders projection from what was last persisted.
func (s *Store) ForEachAllBalances(fn func(domain.FullHash, domain.LowerCaseTick, Balance) error) error {
	return s.balance.ForEach(nil, func(key, value []byte) error {
		if len(key) != domain.HashSize+domain.TickSize {
			return fmt.Errorf("tokenstore: malformed balance key")
		}
		var owner domain.FullHash
		copy(owner[:], key[:domain.HashSize])
		tick := domain.LowerCaseTick(key[domain.HashSize:])

		var bal Balance
		if err := json.Unmarshal(value, &bal); err != nil {
			return fmt.Errorf("tokenstore: decode balance: %w", err)
		}
		return fn(owner, tick, bal)
	})
}

// --- Active transfers ----------------------------------------------------
//
// A transferable is keyed globally by its creation Location, not by
// owner: a Transferred action names only the location it spends (§4.5),
// so the primary lookup must work without knowing who currently holds
// it. A secondary owner-prefixed index supports "list what this address
// holds" queries (§6.1 /address/{addr}).

// GetActiveTransfer returns the transferable recorded at loc, or
// ErrNotFound if it was never created or has already been spent.
func (s *Store) GetActiveTransfer(loc domain.Location) (ActiveTransfer, error) {
	return getJSON[ActiveTransfer](s.activeTransfer, locationKey(loc))
}

// PutActiveTransfer records a newly created transferable and indexes it
// under its owner.
func (s *Store) PutActiveTransfer(loc domain.Location, at ActiveTransfer) error {
	if err := putJSON(s.activeTransfer, locationKey(loc), at); err != nil {
		return err
	}
	return s.activeTransferIdx.Put(ownerTransferIndexKey(at.Owner, loc), nil)
}

// DeleteActiveTransfer removes a transferable once it is spent (consumed
// by a Transferred action) or unwound by journal rollback. owner is the
// holder it was indexed under, needed to clean up the secondary index.
func (s *Store) DeleteActiveTransfer(owner domain.FullHash, loc domain.Location) error {
	if err := s.activeTransfer.Delete(locationKey(loc)); err != nil {
		return err
	}
	return s.activeTransferIdx.Delete(ownerTransferIndexKey(owner, loc))
}

// ForEachActiveTransfer walks every active transferable owned by owner.
func (s *Store) ForEachActiveTransfer(owner domain.FullHash, fn func(domain.Location, ActiveTransfer) error) error {
	prefix := owner.Bytes()
	return s.activeTransferIdx.ForEach(prefix, func(key, _ []byte) error {
		loc, err := decodeLocationKey(key[len(prefix):])
		if err != nil {
			return err
		}
		at, err := s.GetActiveTransfer(loc)
		if err != nil {
			return fmt.Errorf("tokenstore: active transfer index points to missing row: %w", err)
		}
		return fn(loc, at)
	})
}

// --- History -------------------------------------------------------------

// AppendHistory stores row under owner's AddressTokenId key and indexes
// it by block height and by the outpoint that produced it.
func (s *Store) AppendHistory(row HistoryRow, height uint32, produced domain.Outpoint) error {
	key := historyKey(row.Owner(), row.Tick, row.ID)
	if err := putJSON(s.history, key, row); err != nil {
		return err
	}
	if err := s.appendBlockEvent(height, key); err != nil {
		return err
	}
	if !produced.IsZero() {
		if err := s.outpointIndex.Put(outpointBytes(produced), key); err != nil {
			return fmt.Errorf("tokenstore: index history by outpoint: %w", err)
		}
	}
	if row.TxID != "" {
		txid, err := domain.HexToTxHash(row.TxID)
		if err != nil {
			return fmt.Errorf("tokenstore: index history by txid: %w", err)
		}
		if err := s.historyByTxID.Put(txidHistoryKey(txid, row.ID), key); err != nil {
			return fmt.Errorf("tokenstore: index history by txid: %w", err)
		}
	}
	return nil
}

// DeleteHistory removes a history row filed under owner/tick/id, along
// with its txid index entry if it has one. Used by journal rollback.
func (s *Store) DeleteHistory(owner domain.FullHash, tick domain.LowerCaseTick, id uint64) error {
	key := historyKey(owner, tick, id)
	if raw, err := s.history.Get(key); err == nil {
		var row HistoryRow
		if jsonErr := json.Unmarshal(raw, &row); jsonErr == nil && row.TxID != "" {
			if txid, hexErr := domain.HexToTxHash(row.TxID); hexErr == nil {
				_ = s.historyByTxID.Delete(txidHistoryKey(txid, id))
			}
		}
	}
	return s.history.Delete(key)
}

// ForEachHistoryByTxID walks every history row touching txid, in
// insertion-id order.
func (s *Store) ForEachHistoryByTxID(txid domain.TxHash, fn func(HistoryRow) error) error {
	return s.historyByTxID.ForEach(txid[:], func(_, rowKey []byte) error {
		row, err := s.HistoryRowByKey(rowKey)
		if err != nil {
			return fmt.Errorf("tokenstore: txid index points to missing row: %w", err)
		}
		return fn(row)
	})
}

// GetHistory fetches a single history row by its filing coordinates.
func (s *Store) GetHistory(owner domain.FullHash, tick domain.LowerCaseTick, id uint64) (HistoryRow, error) {
	row, err := getJSON[HistoryRow](s.history, historyKey(owner, tick, id))
	if err != nil {
		return row, err
	}
	return row.WithOwner(owner), nil
}

// ForEachHistoryByOwner walks every history row filed under owner, in
// (tick, id) order.
func (s *Store) ForEachHistoryByOwner(owner domain.FullHash, fn func(HistoryRow) error) error {
	prefix := owner.Bytes()
	return s.history.ForEach(prefix, func(_, value []byte) error {
		var row HistoryRow
		if err := json.Unmarshal(value, &row); err != nil {
			return fmt.Errorf("tokenstore: decode history row: %w", err)
		}
		return fn(row.WithOwner(owner))
	})
}

// HistoryPageByOwnerTick returns up to limit rows for (owner, tick) in
// descending id order, starting strictly below beforeID (or from the
// newest row if beforeID is 0), for the §6.1 /address/{addr}/history
// cursor.
func (s *Store) HistoryPageByOwnerTick(owner domain.FullHash, tick domain.LowerCaseTick, beforeID uint64, limit int) ([]HistoryRow, error) {
	prefix := append(owner.Bytes(), tickKey(tick)...)
	rng := storage.Range{Lo: prefix, Hi: storage.PrefixUpperBound(prefix)}
	if beforeID > 0 {
		rng.Hi = binary.BigEndian.AppendUint64(append([]byte{}, prefix...), beforeID)
		rng.HiExclusive = true
	}

	var rows []HistoryRow
	err := s.history.RangeScan(rng, storage.Reverse, func(_, value []byte) error {
		if len(rows) >= limit {
			return errStopIteration
		}
		var row HistoryRow
		if err := json.Unmarshal(value, &row); err != nil {
			return fmt.Errorf("tokenstore: decode history row: %w", err)
		}
		rows = append(rows, row.WithOwner(owner))
		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return nil, err
	}
	return rows, nil
}

// errStopIteration is a sentinel returned by a ForEach/RangeScan callback
// to end iteration early without surfacing an error to the caller.
var errStopIteration = errors.New("tokenstore: stop iteration")

// HistoryKeyByOutpoint returns the history row key indexed under a
// produced outpoint, used to resolve spends back to their owning row.
func (s *Store) HistoryKeyByOutpoint(o domain.Outpoint) ([]byte, error) {
	key, err := s.outpointIndex.Get(outpointBytes(o))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return key, nil
}

// DeleteOutpointIndex removes the outpoint-to-history-key mapping, used
// by journal rollback.
func (s *Store) DeleteOutpointIndex(o domain.Outpoint) error {
	return s.outpointIndex.Delete(outpointBytes(o))
}

// HistoryRowKey returns the key a history row for (owner, tick, id) is
// filed under. Exported so the block pipeline can build the block-event
// key lists a WriteBatch commit needs without reaching into this
// package's private key encoding.
func HistoryRowKey(owner domain.FullHash, tick domain.LowerCaseTick, id uint64) []byte {
	return historyKey(owner, tick, id)
}

// --- Block events (POH input ordering) ------------------------------------

// appendBlockEvent appends a history key to the ordered list recorded for
// height, preserving insertion (i.e. history id) order.
func (s *Store) appendBlockEvent(height uint32, historyRowKey []byte) error {
	existing, err := s.blockEvents.Get(heightKey(height))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("tokenstore: read block events: %w", err)
	}
	existing = append(existing, historyRowKey...)
	return s.blockEvents.Put(heightKey(height), existing)
}

// BlockEventKeys returns the history row keys recorded for height, in
// insertion order, each owner(32) ++ tick(4) ++ id(8) = 44 bytes long.
func (s *Store) BlockEventKeys(height uint32) ([][]byte, error) {
	raw, err := s.blockEvents.Get(heightKey(height))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	const keyLen = domain.HashSize + domain.TickSize + 8
	if len(raw)%keyLen != 0 {
		return nil, fmt.Errorf("tokenstore: malformed block events for height %d", height)
	}
	out := make([][]byte, 0, len(raw)/keyLen)
	for i := 0; i < len(raw); i += keyLen {
		out = append(out, raw[i:i+keyLen])
	}
	return out, nil
}

// DeleteBlockEvents removes the event list for height, used when a block
// is rolled back.
func (s *Store) DeleteBlockEvents(height uint32) error {
	return s.blockEvents.Delete(heightKey(height))
}

// HistoryRowByKey decodes a raw history-CF key (as returned by
// BlockEventKeys) back into its row.
func (s *Store) HistoryRowByKey(key []byte) (HistoryRow, error) {
	if len(key) != domain.HashSize+domain.TickSize+8 {
		return HistoryRow{}, fmt.Errorf("tokenstore: malformed history key")
	}
	var owner domain.FullHash
	copy(owner[:], key[:domain.HashSize])
	row, err := getJSON[HistoryRow](s.history, key)
	if err != nil {
		return HistoryRow{}, err
	}
	return row.WithOwner(owner), nil
}

// --- Block hash / proof of history -----------------------------------------

// PutBlockHash records the canonical hash seen at height.
func (s *Store) PutBlockHash(height uint32, hash domain.TxHash) error {
	return s.blockHash.Put(heightKey(height), hash[:])
}

// GetBlockHash returns the hash recorded at height, or ErrNotFound.
func (s *Store) GetBlockHash(height uint32) (domain.TxHash, error) {
	raw, err := s.blockHash.Get(heightKey(height))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.TxHash{}, ErrNotFound
		}
		return domain.TxHash{}, err
	}
	var h domain.TxHash
	copy(h[:], raw)
	return h, nil
}

// DeleteBlockHash removes the hash recorded at height, used on rollback.
func (s *Store) DeleteBlockHash(height uint32) error {
	return s.blockHash.Delete(heightKey(height))
}

// PutProofOfHistory records POH_h for height.
func (s *Store) PutProofOfHistory(height uint32, poh [32]byte) error {
	return s.poh.Put(heightKey(height), poh[:])
}

// GetProofOfHistory returns POH_h for height, or ErrNotFound.
func (s *Store) GetProofOfHistory(height uint32) ([32]byte, error) {
	var out [32]byte
	raw, err := s.poh.Get(heightKey(height))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return out, ErrNotFound
		}
		return out, err
	}
	copy(out[:], raw)
	return out, nil
}

// DeleteProofOfHistory removes POH_h, used on rollback.
func (s *Store) DeleteProofOfHistory(height uint32) error {
	return s.poh.Delete(heightKey(height))
}

// --- Prevout cache -----------------------------------------------------

// TxOut is the minimal spend information the resolver's prevout cache
// needs to keep: value and locking script.
type TxOut struct {
	Value        uint64 `json:"value"`
	LockingScript []byte `json:"script"`
}

// PutPrevout caches the spent output referenced by o.
func (s *Store) PutPrevout(o domain.Outpoint, out TxOut) error {
	return putJSON(s.prevoutCache, outpointBytes(o), out)
}

// GetPrevout returns the cached output for o, or ErrNotFound.
func (s *Store) GetPrevout(o domain.Outpoint) (TxOut, error) {
	return getJSON[TxOut](s.prevoutCache, outpointBytes(o))
}

// DeletePrevout evicts the cache entry for o once every transferable it
// could have carried is fully resolved.
func (s *Store) DeletePrevout(o domain.Outpoint) error {
	return s.prevoutCache.Delete(outpointBytes(o))
}

// --- Address display cache ------------------------------------------------

// ResolveAddress returns the display string for a script hash, invoking
// resolve on a cache miss and persisting the result both in the LRU and
// on disk so restarts don't need to re-derive it.
func (s *Store) ResolveAddress(owner domain.FullHash, resolve func() (string, error)) (string, error) {
	if addr, ok := s.addressCache.Get(owner); ok {
		return addr, nil
	}
	if raw, err := s.fullHashAddress.Get(owner.Bytes()); err == nil {
		addr := string(raw)
		s.addressCache.Add(owner, addr)
		return addr, nil
	}
	addr, err := resolve()
	if err != nil {
		return "", err
	}
	if err := s.fullHashAddress.Put(owner.Bytes(), []byte(addr)); err != nil {
		return "", fmt.Errorf("tokenstore: persist address: %w", err)
	}
	s.addressCache.Add(owner, addr)
	return addr, nil
}

// GetResolvedAddress returns an owner's already-resolved display string,
// or ErrNotFound if ResolveAddress has never been called for it. Unlike
// ResolveAddress it never calls into the chain's address codec, so it is
// safe for read-only query paths (the API layer) that must not block on
// or trigger a resolution.
func (s *Store) GetResolvedAddress(owner domain.FullHash) (string, error) {
	if addr, ok := s.addressCache.Get(owner); ok {
		return addr, nil
	}
	raw, err := s.fullHashAddress.Get(owner.Bytes())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	addr := string(raw)
	s.addressCache.Add(owner, addr)
	return addr, nil
}

// ForEachResolvedAddress walks every display address ever persisted by
// ResolveAddress, in undefined order, for the §6.1 /all-addresses dump.
func (s *Store) ForEachResolvedAddress(fn func(string) error) error {
	return s.fullHashAddress.ForEach(nil, func(_, value []byte) error {
		return fn(string(value))
	})
}

// --- Singletons: last block height, last history id -----------------------

// LastBlock returns the last indexed height, or (0, false) if none.
func (s *Store) LastBlock() (uint32, bool, error) {
	raw, err := s.meta.Get(keyLastBlock)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if raw == nil {
		return 0, false, nil
	}
	return binary.BigEndian.Uint32(raw), true, nil
}

// PutLastBlock records the last indexed height.
func (s *Store) PutLastBlock(height uint32) error {
	return s.meta.Put(keyLastBlock, binary.BigEndian.AppendUint32(nil, height))
}

// LastHistoryID returns the last-assigned history row id, or 0 if none.
func (s *Store) LastHistoryID() (uint64, error) {
	raw, err := s.meta.Get(keyLastHistoryID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if raw == nil {
		return 0, nil
	}
	return binary.BigEndian.Uint64(raw), nil
}

// PutLastHistoryID records the last-assigned history row id.
func (s *Store) PutLastHistoryID(id uint64) error {
	return s.meta.Put(keyLastHistoryID, binary.BigEndian.AppendUint64(nil, id))
}

// WriteBatch accumulates writes across every column family for one atomic
// commit, the shape the block pipeline's persist step (§4.6 step 6) needs:
// a block's token-meta, balance, active-transfer, history, block-event,
// outpoint-index and block-hash/POH writes all land or none do.
type WriteBatch struct {
	raw storage.Batch
}

func cfKey(cf string, key []byte) []byte {
	out := make([]byte, 0, len(cf)+len(key))
	out = append(out, cf...)
	out = append(out, key...)
	return out
}

func putJSONBatch(b storage.Batch, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("tokenstore: encode value: %w", err)
	}
	return b.Put(key, raw)
}

// NewWriteBatch starts a cross-column-family atomic batch.
func (s *Store) NewWriteBatch() *WriteBatch {
	return &WriteBatch{raw: s.db.NewBatch()}
}

// Commit applies every accumulated write atomically.
func (b *WriteBatch) Commit() error {
	return b.raw.Commit()
}

func (b *WriteBatch) PutTokenMeta(tick domain.LowerCaseTick, meta TokenMeta) error {
	return putJSONBatch(b.raw, cfKey(cfTokenMeta, tokenMetaKey(tick)), meta)
}

func (b *WriteBatch) DeleteTokenMeta(tick domain.LowerCaseTick) error {
	return b.raw.Delete(cfKey(cfTokenMeta, tokenMetaKey(tick)))
}

func (b *WriteBatch) PutBalance(owner domain.FullHash, tick domain.LowerCaseTick, bal Balance) error {
	return putJSONBatch(b.raw, cfKey(cfBalance, balanceKey(owner, tick)), bal)
}

func (b *WriteBatch) PutActiveTransfer(loc domain.Location, at ActiveTransfer) error {
	if err := putJSONBatch(b.raw, cfKey(cfActiveTransfer, locationKey(loc)), at); err != nil {
		return err
	}
	return b.raw.Put(cfKey(cfActiveTransferIdx, ownerTransferIndexKey(at.Owner, loc)), nil)
}

func (b *WriteBatch) DeleteActiveTransfer(owner domain.FullHash, loc domain.Location) error {
	if err := b.raw.Delete(cfKey(cfActiveTransfer, locationKey(loc))); err != nil {
		return err
	}
	return b.raw.Delete(cfKey(cfActiveTransferIdx, ownerTransferIndexKey(owner, loc)))
}

func (b *WriteBatch) PutHistory(row HistoryRow) error {
	return putJSONBatch(b.raw, cfKey(cfHistory, historyKey(row.Owner(), row.Tick, row.ID)), row)
}

func (b *WriteBatch) DeleteHistory(owner domain.FullHash, tick domain.LowerCaseTick, id uint64) error {
	return b.raw.Delete(cfKey(cfHistory, historyKey(owner, tick, id)))
}

// PutBlockEvents overwrites the ordered history-key list recorded for
// height. Callers build the full list (existing-plus-new, in id order)
// before calling this, since a write batch cannot read its own writes.
func (b *WriteBatch) PutBlockEvents(height uint32, historyRowKeys [][]byte) error {
	flat := make([]byte, 0, len(historyRowKeys)*(domain.HashSize+domain.TickSize+8))
	for _, k := range historyRowKeys {
		flat = append(flat, k...)
	}
	return b.raw.Put(cfKey(cfBlockEvents, heightKey(height)), flat)
}

func (b *WriteBatch) DeleteBlockEvents(height uint32) error {
	return b.raw.Delete(cfKey(cfBlockEvents, heightKey(height)))
}

func (b *WriteBatch) PutOutpointIndex(o domain.Outpoint, historyRowKey []byte) error {
	return b.raw.Put(cfKey(cfOutpointIndex, outpointBytes(o)), historyRowKey)
}

func (b *WriteBatch) DeleteOutpointIndex(o domain.Outpoint) error {
	return b.raw.Delete(cfKey(cfOutpointIndex, outpointBytes(o)))
}

func (b *WriteBatch) PutBlockHash(height uint32, hash domain.TxHash) error {
	return b.raw.Put(cfKey(cfBlockHash, heightKey(height)), hash[:])
}

func (b *WriteBatch) DeleteBlockHash(height uint32) error {
	return b.raw.Delete(cfKey(cfBlockHash, heightKey(height)))
}

func (b *WriteBatch) PutProofOfHistory(height uint32, poh [32]byte) error {
	return b.raw.Put(cfKey(cfProofOfHistory, heightKey(height)), poh[:])
}

func (b *WriteBatch) DeleteProofOfHistory(height uint32) error {
	return b.raw.Delete(cfKey(cfProofOfHistory, heightKey(height)))
}

func (b *WriteBatch) PutLastBlock(height uint32) error {
	return b.raw.Put(cfKey(cfMeta, keyLastBlock), binary.BigEndian.AppendUint32(nil, height))
}

func (b *WriteBatch) PutLastHistoryID(id uint64) error {
	return b.raw.Put(cfKey(cfMeta, keyLastHistoryID), binary.BigEndian.AppendUint64(nil, id))
}
