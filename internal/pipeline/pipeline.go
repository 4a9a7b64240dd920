// Package pipeline orchestrates one block at a time: preload the token
// interpreter's caches, run it, assign history ids, fold the result into
// the proof-of-history chain, persist everything in one atomic batch,
// and fan the result out to subscribers.
package pipeline

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/choosenname/bel-20-indexer/internal/domain"
	"github.com/choosenname/bel-20-indexer/internal/holders"
	"github.com/choosenname/bel-20-indexer/internal/interpreter"
	"github.com/choosenname/bel-20-indexer/internal/tokenstore"
)

// nullHash is sha256("null"), the POH genesis baseline and the partial
// hash used for an empty block's history.
var nullHash = sha256.Sum256([]byte("null"))

// Block is one unit of work handed to the pipeline: the height and
// canonical hash of a block, and the raw actions C1+C2 decoded from it,
// in occurrence order.
type Block struct {
	Height  uint32
	Hash    domain.TxHash
	Actions []interpreter.RawAction
}

// AddressResolver turns an owner hash into the chain's display address
// format (base58/bech32 or whatever the network uses). The pipeline only
// calls it once per unseen owner; the result is cached durably by
// tokenstore.Store.ResolveAddress.
type AddressResolver interface {
	Resolve(owner domain.FullHash) (string, error)
}

// AddressResolverFunc adapts a plain function to AddressResolver.
type AddressResolverFunc func(domain.FullHash) (string, error)

func (f AddressResolverFunc) Resolve(h domain.FullHash) (string, error) { return f(h) }

// HexAddressResolver is the zero-configuration fallback: it displays an
// owner as its hex-encoded hash. A real deployment wires in the
// network's actual address codec; this keeps the pipeline runnable
// without one.
var HexAddressResolver AddressResolver = AddressResolverFunc(func(h domain.FullHash) (string, error) {
	return h.String(), nil
})

// Journal receives one commit per processed block: the inverse
// operations a rollback would need, tagged with the history id the
// block started from. rows and produced are passed alongside ops so the
// journal can derive the history-row deletions a rollback needs without
// the pipeline having to know the journal's own op vocabulary.
type Journal interface {
	Commit(height uint32, lastHistoryIDBefore uint64, ops []interpreter.JournalOp, rows []tokenstore.HistoryRow, produced []domain.Outpoint) error
}

// Events receives the fan-out for a successfully committed block.
type Events interface {
	PublishHistory(rows []tokenstore.HistoryRow)
	PublishBlock(height uint32, poh [32]byte, blockHash domain.TxHash)
}

// Pipeline runs the per-block orchestration described in §4.6: preload,
// interpret, assign ids, compute POH, persist, fan out.
type Pipeline struct {
	store    *tokenstore.Store
	holders  *holders.Index
	journal  Journal
	events   Events
	resolver AddressResolver
	metrics  *Metrics
}

// New builds a Pipeline. resolver may be nil, in which case owners are
// displayed as their raw hex hash.
func New(store *tokenstore.Store, idx *holders.Index, journal Journal, events Events, resolver AddressResolver) *Pipeline {
	if resolver == nil {
		resolver = HexAddressResolver
	}
	return &Pipeline{store: store, holders: idx, journal: journal, events: events, resolver: resolver}
}

// WithMetrics attaches m so every ProcessBlock call reports to it.
// Without it, ProcessBlock runs exactly as before and reports nothing;
// a nil m detaches metrics again.
func (p *Pipeline) WithMetrics(m *Metrics) *Pipeline {
	p.metrics = m
	return p
}

// ProcessBlock runs the full per-block pipeline. It is not safe to call
// concurrently for two blocks at once; the caller (the source adapter)
// is responsible for serializing calls in height order.
func (p *Pipeline) ProcessBlock(blk Block) error {
	lastID, err := p.store.LastHistoryID()
	if err != nil {
		return fmt.Errorf("pipeline: load last history id: %w", err)
	}

	ip := interpreter.New(p.store, p.holders)
	if err := p.preload(ip, blk.Actions); err != nil {
		return err
	}

	for i, action := range blk.Actions {
		if err := ip.Apply(action, blk.Height); err != nil {
			return fmt.Errorf("pipeline: interpret block %d action %d: %w", blk.Height, i, err)
		}
	}

	rows, produced, nextID, err := p.expand(ip.Emissions(), blk.Height, lastID)
	if err != nil {
		return fmt.Errorf("pipeline: expand history for block %d: %w", blk.Height, err)
	}

	poh, err := p.computePOH(blk.Height, rows)
	if err != nil {
		return fmt.Errorf("pipeline: compute proof of history for block %d: %w", blk.Height, err)
	}

	// The journal commits before the block's state batch: on a crash
	// between the two, last_block still names the prior height, so the
	// block is simply reprocessed and this journal entry overwritten.
	if err := p.journal.Commit(blk.Height, lastID, ip.JournalOps(), rows, produced); err != nil {
		return fmt.Errorf("pipeline: commit journal for block %d: %w", blk.Height, err)
	}

	if err := p.persist(ip, blk, rows, produced, nextID, poh); err != nil {
		return fmt.Errorf("pipeline: persist block %d: %w", blk.Height, err)
	}

	p.events.PublishHistory(rows)
	p.events.PublishBlock(blk.Height, poh, blk.Hash)

	if p.metrics != nil {
		p.metrics.observeBlock(blk, ip.Emissions())
	}
	return nil
}

// preload warms the interpreter's token and account caches for every
// tick/owner a Deploy, Mint or Transfer action names up front, so the
// per-action lazy loads inside Apply hit cache instead of issuing a
// fresh read each time a tick or account recurs within the block.
// Transferred actions don't name a tick/owner directly; their account is
// only known once the transferable they spend is loaded, so they can't
// be preloaded this way.
func (p *Pipeline) preload(ip *interpreter.Interpreter, actions []interpreter.RawAction) error {
	type acctKey struct {
		owner domain.FullHash
		tick  domain.LowerCaseTick
	}
	ticks := make(map[domain.LowerCaseTick]struct{})
	accounts := make(map[acctKey]struct{})

	for _, action := range actions {
		switch a := action.(type) {
		case interpreter.Deploy:
			ticks[a.Tick.Canonical()] = struct{}{}
		case interpreter.Mint:
			tick := a.Tick.Canonical()
			ticks[tick] = struct{}{}
			accounts[acctKey{owner: a.Owner, tick: tick}] = struct{}{}
		case interpreter.Transfer:
			tick := a.Tick.Canonical()
			ticks[tick] = struct{}{}
			accounts[acctKey{owner: a.Owner, tick: tick}] = struct{}{}
		}
	}

	for tick := range ticks {
		if err := ip.PreloadToken(tick); err != nil {
			return fmt.Errorf("pipeline: preload token %q: %w", tick, err)
		}
	}
	for k := range accounts {
		if err := ip.PreloadAccount(k.owner, k.tick); err != nil {
			return fmt.Errorf("pipeline: preload account %s/%s: %w", k.owner, k.tick, err)
		}
	}
	return nil
}

// resolve returns the cached or freshly-resolved display address for
// owner.
func (p *Pipeline) resolve(owner domain.FullHash) (string, error) {
	return p.store.ResolveAddress(owner, func() (string, error) { return p.resolver.Resolve(owner) })
}

// mapEmissionKind maps an Emission's action kind to the persisted
// HistoryAction it becomes when it is not a non-self Send (which expand
// splits into a Send/Receive pair instead of using this mapping).
func mapEmissionKind(kind tokenstore.HistoryAction) tokenstore.HistoryAction {
	if kind == interpreter.KindSend {
		return tokenstore.ActionSendReceive
	}
	return kind
}

// expand assigns a fresh strictly-increasing id to every emission and
// turns it into one history row, or two for a Send/Receive pair with
// distinct sender and recipient (§4.5 "History emission"). produced[i]
// is the outpoint rows[i] should be indexed under, the zero Outpoint if
// none applies.
func (p *Pipeline) expand(emissions []interpreter.Emission, height uint32, lastID uint64) ([]tokenstore.HistoryRow, []domain.Outpoint, uint64, error) {
	rows := make([]tokenstore.HistoryRow, 0, len(emissions))
	produced := make([]domain.Outpoint, 0, len(emissions))
	id := lastID

	outpointFor := func(e interpreter.Emission) domain.Outpoint {
		if e.TxID.IsZero() {
			return domain.Outpoint{}
		}
		return domain.Outpoint{TxID: e.TxID, Vout: e.Vout}
	}

	for _, e := range emissions {
		if e.Type == interpreter.KindSend && e.HasRecipient && e.Recipient != e.Owner {
			senderAddr, err := p.resolve(e.Owner)
			if err != nil {
				return nil, nil, 0, fmt.Errorf("resolve sender address: %w", err)
			}
			recipientAddr, err := p.resolve(e.Recipient)
			if err != nil {
				return nil, nil, 0, fmt.Errorf("resolve recipient address: %w", err)
			}

			amt := e.Amount
			id++
			rows = append(rows, tokenstore.HistoryRow{
				ID: id, Address: senderAddr, Tick: e.Tick, Height: height, Type: tokenstore.ActionSend,
				Amount: &amt, Sender: senderAddr, Recipient: recipientAddr,
				TxID: e.TxID.String(), Vout: e.Vout,
			}.WithOwner(e.Owner))
			produced = append(produced, outpointFor(e))

			id++
			rows = append(rows, tokenstore.HistoryRow{
				ID: id, Address: recipientAddr, Tick: e.Tick, Height: height, Type: tokenstore.ActionReceive,
				Amount: &amt, Sender: senderAddr, Recipient: recipientAddr,
				TxID: e.TxID.String(), Vout: e.Vout,
			}.WithOwner(e.Recipient))
			produced = append(produced, domain.Outpoint{})
			continue
		}

		addr, err := p.resolve(e.Owner)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("resolve address: %w", err)
		}
		kind := mapEmissionKind(e.Type)
		amt := e.Amount

		id++
		row := tokenstore.HistoryRow{
			ID: id, Address: addr, Tick: e.Tick, Height: height, Type: kind,
			Amount: &amt, TxID: e.TxID.String(), Vout: e.Vout,
		}
		if kind == tokenstore.ActionSendReceive {
			row.Sender = addr
			row.Recipient = addr
		}
		rows = append(rows, row.WithOwner(e.Owner))
		produced = append(produced, outpointFor(e))
	}

	return rows, produced, id, nil
}

// computePOH folds a block's expanded history into the rolling
// proof-of-history chain per §6.6.
func (p *Pipeline) computePOH(height uint32, rows []tokenstore.HistoryRow) ([32]byte, error) {
	prev, err := p.previousPOH(height)
	if err != nil {
		return [32]byte{}, err
	}

	partial := nullHash
	if len(rows) > 0 {
		var buf bytes.Buffer
		for _, row := range rows {
			b, err := json.Marshal(row)
			if err != nil {
				return [32]byte{}, fmt.Errorf("marshal history row %d: %w", row.ID, err)
			}
			buf.Write(b)
		}
		partial = sha256.Sum256(buf.Bytes())
	}

	combined := make([]byte, 0, 64)
	combined = append(combined, prev[:]...)
	combined = append(combined, partial[:]...)
	return sha256.Sum256(combined), nil
}

func (p *Pipeline) previousPOH(height uint32) ([32]byte, error) {
	if height == 0 {
		return nullHash, nil
	}
	poh, err := p.store.GetProofOfHistory(height - 1)
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return nullHash, nil
		}
		return [32]byte{}, fmt.Errorf("load proof of history for block %d: %w", height-1, err)
	}
	return poh, nil
}

// persist commits every mutation the interpreter and the history
// expansion produced in a single atomic write batch, per §4.6 step 6.
func (p *Pipeline) persist(ip *interpreter.Interpreter, blk Block, rows []tokenstore.HistoryRow, produced []domain.Outpoint, nextID uint64, poh [32]byte) error {
	existingKeys, err := p.store.BlockEventKeys(blk.Height)
	if err != nil {
		return fmt.Errorf("load existing block events: %w", err)
	}

	wb := p.store.NewWriteBatch()

	for tick, meta := range ip.Tokens() {
		if err := wb.PutTokenMeta(tick, meta); err != nil {
			return fmt.Errorf("put token meta %q: %w", tick, err)
		}
	}
	for key, bal := range ip.Accounts() {
		if err := wb.PutBalance(key.Owner, key.Tick, bal); err != nil {
			return fmt.Errorf("put balance %s/%s: %w", key.Owner, key.Tick, err)
		}
	}
	for loc, at := range ip.NewTransfers() {
		if err := wb.PutActiveTransfer(loc, at); err != nil {
			return fmt.Errorf("put active transfer %s: %w", loc, err)
		}
	}
	for loc, owner := range ip.SpentTransfers() {
		if err := wb.DeleteActiveTransfer(owner, loc); err != nil {
			return fmt.Errorf("delete active transfer %s: %w", loc, err)
		}
	}

	eventKeys := make([][]byte, 0, len(existingKeys)+len(rows))
	eventKeys = append(eventKeys, existingKeys...)
	for i, row := range rows {
		if err := wb.PutHistory(row); err != nil {
			return fmt.Errorf("put history row %d: %w", row.ID, err)
		}
		eventKeys = append(eventKeys, tokenstore.HistoryRowKey(row.Owner(), row.Tick, row.ID))
		if !produced[i].IsZero() {
			if err := wb.PutOutpointIndex(produced[i], tokenstore.HistoryRowKey(row.Owner(), row.Tick, row.ID)); err != nil {
				return fmt.Errorf("index history row %d by outpoint: %w", row.ID, err)
			}
		}
	}
	if err := wb.PutBlockEvents(blk.Height, eventKeys); err != nil {
		return fmt.Errorf("put block events: %w", err)
	}

	if err := wb.PutBlockHash(blk.Height, blk.Hash); err != nil {
		return fmt.Errorf("put block hash: %w", err)
	}
	if err := wb.PutProofOfHistory(blk.Height, poh); err != nil {
		return fmt.Errorf("put proof of history: %w", err)
	}
	if err := wb.PutLastHistoryID(nextID); err != nil {
		return fmt.Errorf("put last history id: %w", err)
	}
	if err := wb.PutLastBlock(blk.Height); err != nil {
		return fmt.Errorf("put last block: %w", err)
	}

	return wb.Commit()
}
