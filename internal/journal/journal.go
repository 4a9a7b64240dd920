// Package journal keeps a rolling window of per-block undo records and
// replays them in reverse to roll the token store back to an earlier
// height when the upstream chain reorganizes.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/choosenname/bel-20-indexer/internal/domain"
	"github.com/choosenname/bel-20-indexer/internal/holders"
	"github.com/choosenname/bel-20-indexer/internal/interpreter"
	"github.com/choosenname/bel-20-indexer/internal/storage"
	"github.com/choosenname/bel-20-indexer/internal/tokenstore"
)

// Window bounds how many trailing blocks can be undone. A reorg deeper
// than this can no longer be rolled back incrementally and needs a full
// resync from the source adapter.
const Window = 30

var cfJournal = []byte("journal:")

// ErrTooDeep is returned by Rollback when toHeight is further back than
// any record the window still holds.
var ErrTooDeep = errors.New("journal: rollback target exceeds the retained window")

// Journal persists the inverse operations of every block still within
// Window and replays them in reverse during Rollback.
type Journal struct {
	records *storage.PrefixDB
	store   *tokenstore.Store
	holders *holders.Index
}

// New builds a Journal over db's own keyspace, applying rollbacks
// against store and idx.
func New(db storage.DB, store *tokenstore.Store, idx *holders.Index) *Journal {
	return &Journal{
		records: storage.NewPrefixDB(db, cfJournal),
		store:   store,
		holders: idx,
	}
}

func heightKey(height uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, height)
}

// record is the JSON shape persisted per block.
type record struct {
	Height              uint32        `json:"height"`
	LastHistoryIDBefore uint64        `json:"last_history_id_before"`
	Ops                 []opEnvelope  `json:"ops"`
}

// opEnvelope is a tagged union over every inverse operation a block can
// produce: the four the interpreter emits directly, plus the
// history-row removals the pipeline's history expansion implies.
type opEnvelope struct {
	Kind string `json:"kind"`

	RemoveDeployed     *interpreter.RemoveDeployed     `json:"remove_deployed,omitempty"`
	RemoveMint         *interpreter.RemoveMint         `json:"remove_mint,omitempty"`
	RemoveTransfer     *interpreter.RemoveTransfer     `json:"remove_transfer,omitempty"`
	RestoreTransferred *interpreter.RestoreTransferred `json:"restore_transferred,omitempty"`
	RemoveHistory      *removeHistoryOp                `json:"remove_history,omitempty"`
}

type removeHistoryOp struct {
	Owner    domain.FullHash      `json:"owner"`
	Tick     domain.LowerCaseTick `json:"tick"`
	ID       uint64               `json:"id"`
	Outpoint domain.Outpoint      `json:"outpoint"`
}

const (
	kindRemoveDeployed     = "remove_deployed"
	kindRemoveMint         = "remove_mint"
	kindRemoveTransfer     = "remove_transfer"
	kindRestoreTransferred = "restore_transferred"
	kindRemoveHistory      = "remove_history"
)

func encodeInterpreterOp(op interpreter.JournalOp) (opEnvelope, error) {
	switch o := op.(type) {
	case interpreter.RemoveDeployed:
		return opEnvelope{Kind: kindRemoveDeployed, RemoveDeployed: &o}, nil
	case interpreter.RemoveMint:
		return opEnvelope{Kind: kindRemoveMint, RemoveMint: &o}, nil
	case interpreter.RemoveTransfer:
		return opEnvelope{Kind: kindRemoveTransfer, RemoveTransfer: &o}, nil
	case interpreter.RestoreTransferred:
		return opEnvelope{Kind: kindRestoreTransferred, RestoreTransferred: &o}, nil
	default:
		return opEnvelope{}, fmt.Errorf("journal: unknown interpreter op type %T", op)
	}
}

// Commit records one block's worth of inverse operations. ops are the
// interpreter's direct output; rows and produced are the pipeline's
// expanded history and the outpoints they were filed under, used to
// derive the history-row removals a rollback needs.
func (j *Journal) Commit(height uint32, lastHistoryIDBefore uint64, ops []interpreter.JournalOp, rows []tokenstore.HistoryRow, produced []domain.Outpoint) error {
	rec := record{Height: height, LastHistoryIDBefore: lastHistoryIDBefore}

	for _, op := range ops {
		env, err := encodeInterpreterOp(op)
		if err != nil {
			return err
		}
		rec.Ops = append(rec.Ops, env)
	}
	for i, row := range rows {
		rec.Ops = append(rec.Ops, opEnvelope{
			Kind: kindRemoveHistory,
			RemoveHistory: &removeHistoryOp{
				Owner: row.Owner(), Tick: row.Tick, ID: row.ID, Outpoint: produced[i],
			},
		})
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("journal: encode record for height %d: %w", height, err)
	}
	if err := j.records.Put(heightKey(height), raw); err != nil {
		return fmt.Errorf("journal: persist record for height %d: %w", height, err)
	}

	if height >= Window {
		evict := height - Window
		if err := j.records.Delete(heightKey(evict)); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("journal: evict record for height %d: %w", evict, err)
		}
	}
	return nil
}

func (j *Journal) load(height uint32) (record, error) {
	var rec record
	raw, err := j.records.Get(heightKey(height))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return rec, fmt.Errorf("%w: no record for height %d", ErrTooDeep, height)
		}
		return rec, err
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, fmt.Errorf("journal: decode record for height %d: %w", height, err)
	}
	return rec, nil
}

// Rollback undoes every block above toHeight, most recent first, then
// leaves the store's cursor at toHeight. It is a no-op if the store's
// tip is already at or below toHeight.
//
// Each block's undo lands in its own storage.DB batch, committed before
// that block's journal record is deleted, so a crash mid-rollback never
// leaves last_block pointing past a block whose undo never reached
// disk: the next Rollback call simply resumes from the last committed
// height, and the one stale journal record it might leave behind (undo
// committed, delete not yet run) is never read again and ages out via
// the normal Window eviction in Commit.
func (j *Journal) Rollback(toHeight uint32) error {
	current, ok, err := j.store.LastBlock()
	if err != nil {
		return fmt.Errorf("journal: read last block: %w", err)
	}
	if !ok || current <= toHeight {
		return nil
	}

	for h := current; h > toHeight; h-- {
		rec, err := j.load(h)
		if err != nil {
			return fmt.Errorf("journal: rollback height %d: %w", h, err)
		}

		wb := j.store.NewWriteBatch()
		if err := j.undoRecord(wb, rec); err != nil {
			return fmt.Errorf("journal: undo height %d: %w", h, err)
		}
		if err := wb.DeleteBlockEvents(h); err != nil {
			return fmt.Errorf("journal: clear block events for height %d: %w", h, err)
		}
		if err := wb.DeleteBlockHash(h); err != nil {
			return fmt.Errorf("journal: clear block hash for height %d: %w", h, err)
		}
		if err := wb.DeleteProofOfHistory(h); err != nil {
			return fmt.Errorf("journal: clear proof of history for height %d: %w", h, err)
		}
		if err := wb.PutLastHistoryID(rec.LastHistoryIDBefore); err != nil {
			return fmt.Errorf("journal: rewind last history id for height %d: %w", h, err)
		}
		if err := wb.PutLastBlock(h - 1); err != nil {
			return fmt.Errorf("journal: rewind last block past height %d: %w", h, err)
		}
		if err := wb.Commit(); err != nil {
			return fmt.Errorf("journal: commit rollback batch for height %d: %w", h, err)
		}

		if err := j.records.Delete(heightKey(h)); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("journal: delete record for height %d: %w", h, err)
		}
	}

	return nil
}

// undoState stages the balance and token-meta mutations one block's
// undo produces so each account/tick is read once against the store's
// still-committed state and written once into the batch, the same
// preload-then-flush shape interpreter.Interpreter uses on the forward
// path. Without it, two ops touching the same account within one block
// (e.g. a mint and a later transfer of the same tick) would each read
// the other's not-yet-committed delta straight back out of the store.
type undoState struct {
	store *tokenstore.Store

	balances map[undoAcctKey]tokenstore.Balance
	metas    map[domain.LowerCaseTick]tokenstore.TokenMeta
	removed  map[domain.LowerCaseTick]bool
}

type undoAcctKey struct {
	owner domain.FullHash
	tick  domain.LowerCaseTick
}

func newUndoState(store *tokenstore.Store) *undoState {
	return &undoState{
		store:    store,
		balances: make(map[undoAcctKey]tokenstore.Balance),
		metas:    make(map[domain.LowerCaseTick]tokenstore.TokenMeta),
	}
}

func (st *undoState) balance(owner domain.FullHash, tick domain.LowerCaseTick) (tokenstore.Balance, error) {
	k := undoAcctKey{owner, tick}
	if b, ok := st.balances[k]; ok {
		return b, nil
	}
	b, err := st.store.GetBalance(owner, tick)
	if err != nil {
		return tokenstore.Balance{}, fmt.Errorf("load balance %s/%s: %w", owner, tick, err)
	}
	st.balances[k] = b
	return b, nil
}

func (st *undoState) setBalance(owner domain.FullHash, tick domain.LowerCaseTick, b tokenstore.Balance) {
	st.balances[undoAcctKey{owner, tick}] = b
}

func (st *undoState) meta(tick domain.LowerCaseTick) (tokenstore.TokenMeta, error) {
	if m, ok := st.metas[tick]; ok {
		return m, nil
	}
	m, err := st.store.GetTokenMeta(tick)
	if err != nil {
		return tokenstore.TokenMeta{}, fmt.Errorf("load token meta %q: %w", tick, err)
	}
	st.metas[tick] = m
	return m, nil
}

func (st *undoState) setMeta(tick domain.LowerCaseTick, m tokenstore.TokenMeta) {
	st.metas[tick] = m
}

func (st *undoState) removeMeta(tick domain.LowerCaseTick) {
	delete(st.metas, tick)
	if st.removed == nil {
		st.removed = make(map[domain.LowerCaseTick]bool)
	}
	st.removed[tick] = true
}

func (st *undoState) flush(wb *tokenstore.WriteBatch) error {
	for k, b := range st.balances {
		if err := wb.PutBalance(k.owner, k.tick, b); err != nil {
			return fmt.Errorf("put balance %s/%s: %w", k.owner, k.tick, err)
		}
	}
	for tick, m := range st.metas {
		if err := wb.PutTokenMeta(tick, m); err != nil {
			return fmt.Errorf("put token meta %q: %w", tick, err)
		}
	}
	for tick := range st.removed {
		if err := wb.DeleteTokenMeta(tick); err != nil {
			return fmt.Errorf("delete token meta %q: %w", tick, err)
		}
	}
	return nil
}

// undoRecord applies every op in rec in reverse application order, the
// way a stack of incremental edits is unwound one at a time, staging
// balance/meta changes and flushing them into wb once at the end.
func (j *Journal) undoRecord(wb *tokenstore.WriteBatch, rec record) error {
	st := newUndoState(j.store)
	for i := len(rec.Ops) - 1; i >= 0; i-- {
		if err := j.undoOp(wb, st, rec.Ops[i]); err != nil {
			return err
		}
	}
	return st.flush(wb)
}

func (j *Journal) undoOp(wb *tokenstore.WriteBatch, st *undoState, env opEnvelope) error {
	switch env.Kind {
	case kindRemoveHistory:
		return j.undoHistory(wb, *env.RemoveHistory)
	case kindRemoveDeployed:
		return j.undoDeploy(st, *env.RemoveDeployed)
	case kindRemoveMint:
		return j.undoMint(st, *env.RemoveMint)
	case kindRemoveTransfer:
		return j.undoTransfer(wb, st, *env.RemoveTransfer)
	case kindRestoreTransferred:
		return j.undoTransferred(wb, st, *env.RestoreTransferred)
	default:
		return fmt.Errorf("journal: unknown op kind %q", env.Kind)
	}
}

func (j *Journal) undoHistory(wb *tokenstore.WriteBatch, op removeHistoryOp) error {
	if err := wb.DeleteHistory(op.Owner, op.Tick, op.ID); err != nil {
		return fmt.Errorf("delete history row %d: %w", op.ID, err)
	}
	if !op.Outpoint.IsZero() {
		if err := wb.DeleteOutpointIndex(op.Outpoint); err != nil {
			return fmt.Errorf("delete outpoint index %s: %w", op.Outpoint, err)
		}
	}
	return nil
}

func (j *Journal) undoDeploy(st *undoState, op interpreter.RemoveDeployed) error {
	st.removeMeta(op.Tick)
	return nil
}

func (j *Journal) undoMint(st *undoState, op interpreter.RemoveMint) error {
	bal, err := st.balance(op.Owner, op.Tick)
	if err != nil {
		return err
	}
	prevTotal := bal.Balance.Add(bal.TransferableBalance)
	bal.Balance = bal.Balance.Sub(op.Amt)
	st.setBalance(op.Owner, op.Tick, bal)
	j.holders.Decrease(op.Tick, op.Owner, prevTotal, op.Amt)

	meta, err := st.meta(op.Tick)
	if err != nil {
		return err
	}
	meta.Supply = meta.Supply.Sub(op.Amt)
	if meta.MintCount > 0 {
		meta.MintCount--
	}
	if meta.Transactions > 0 {
		meta.Transactions--
	}
	st.setMeta(op.Tick, meta)
	return nil
}

func (j *Journal) undoTransfer(wb *tokenstore.WriteBatch, st *undoState, op interpreter.RemoveTransfer) error {
	if err := wb.DeleteActiveTransfer(op.Owner, op.Location); err != nil {
		return fmt.Errorf("delete active transfer %s: %w", op.Location, err)
	}

	bal, err := st.balance(op.Owner, op.Tick)
	if err != nil {
		return err
	}
	bal.TransferableBalance = bal.TransferableBalance.Sub(op.Amt)
	bal.Balance = bal.Balance.Add(op.Amt)
	if bal.TransfersCount > 0 {
		bal.TransfersCount--
	}
	st.setBalance(op.Owner, op.Tick, bal)

	meta, err := st.meta(op.Tick)
	if err != nil {
		return err
	}
	if meta.TransferCount > 0 {
		meta.TransferCount--
	}
	if meta.Transactions > 0 {
		meta.Transactions--
	}
	st.setMeta(op.Tick, meta)
	return nil
}

func (j *Journal) undoTransferred(wb *tokenstore.WriteBatch, st *undoState, op interpreter.RestoreTransferred) error {
	if op.HasRecipient {
		recBal, err := st.balance(op.Recipient, op.Tick)
		if err != nil {
			return err
		}
		recPrevTotal := recBal.Balance.Add(recBal.TransferableBalance)
		recBal.Balance = recBal.Balance.Sub(op.Amt)
		st.setBalance(op.Recipient, op.Tick, recBal)
		j.holders.Decrease(op.Tick, op.Recipient, recPrevTotal, op.Amt)
	}

	senderBal, err := st.balance(op.Owner, op.Tick)
	if err != nil {
		return err
	}
	senderPrevTotal := senderBal.Balance.Add(senderBal.TransferableBalance)
	senderBal.TransferableBalance = senderBal.TransferableBalance.Add(op.Amt)
	senderBal.TransfersCount++
	st.setBalance(op.Owner, op.Tick, senderBal)
	j.holders.Increase(op.Tick, op.Owner, senderPrevTotal, op.Amt)

	meta, err := st.meta(op.Tick)
	if err != nil {
		return err
	}
	if meta.Transactions > 0 {
		meta.Transactions--
	}
	st.setMeta(op.Tick, meta)

	if err := wb.PutActiveTransfer(op.Location, tokenstore.ActiveTransfer{
		Owner: op.Owner, Tick: op.Tick, Amt: op.Amt, Height: op.Height,
	}); err != nil {
		return fmt.Errorf("restore active transfer %s: %w", op.Location, err)
	}
	return nil
}
