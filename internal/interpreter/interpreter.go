package interpreter

import (
	"errors"
	"fmt"

	"github.com/choosenname/bel-20-indexer/internal/domain"
	"github.com/choosenname/bel-20-indexer/internal/holders"
	"github.com/choosenname/bel-20-indexer/internal/tokenstore"
)

// StoreReader is the read surface the interpreter needs from the
// persisted store. It exists so tests can run the state machine against
// an in-memory fake without a full tokenstore.Store.
type StoreReader interface {
	GetTokenMeta(tick domain.LowerCaseTick) (tokenstore.TokenMeta, error)
	GetBalance(owner domain.FullHash, tick domain.LowerCaseTick) (tokenstore.Balance, error)
	GetActiveTransfer(loc domain.Location) (tokenstore.ActiveTransfer, error)
}

// AccountKey identifies one (owner, tick) balance.
type AccountKey struct {
	Owner domain.FullHash
	Tick  domain.LowerCaseTick
}

// Interpreter applies one block's worth of raw actions against a set of
// mutable caches seeded on demand from a StoreReader, accumulating the
// history it would emit and the inverse operations a rollback would
// need. It never talks to storage itself beyond reads; the pipeline
// stage owns persisting the caches it leaves behind.
type Interpreter struct {
	store   StoreReader
	holders *holders.Index

	tokens   map[domain.LowerCaseTick]tokenstore.TokenMeta
	accounts map[AccountKey]tokenstore.Balance

	// newTransfers holds transferables created earlier in this same
	// block, not yet persisted and not yet spent.
	newTransfers map[domain.Location]tokenstore.ActiveTransfer
	// spentTransfers maps a consumed, previously-persisted transferable
	// to the owner it was filed under, so the pipeline knows which rows
	// to delete from the store.
	spentTransfers map[domain.Location]domain.FullHash
	// claimed tracks every Location a Transfer action has already used
	// this block; a second Transfer proposing the same Location is
	// dropped outright.
	claimed map[domain.Location]struct{}
	// validCache holds active transfers pulled from the store on demand,
	// kept around only long enough to be spent or the block to end.
	validCache map[domain.Location]tokenstore.ActiveTransfer

	emissions []Emission
	journal   []JournalOp
}

// New builds an Interpreter against store for reads and idx for holder
// bookkeeping.
func New(store StoreReader, idx *holders.Index) *Interpreter {
	return &Interpreter{
		store:          store,
		holders:        idx,
		tokens:         make(map[domain.LowerCaseTick]tokenstore.TokenMeta),
		accounts:       make(map[AccountKey]tokenstore.Balance),
		newTransfers:   make(map[domain.Location]tokenstore.ActiveTransfer),
		spentTransfers: make(map[domain.Location]domain.FullHash),
		claimed:        make(map[domain.Location]struct{}),
		validCache:     make(map[domain.Location]tokenstore.ActiveTransfer),
	}
}

// PreloadToken seeds the token cache from the store if tick isn't
// already cached. A missing token is not an error: it simply stays
// absent so Deploy/Mint/Transfer can treat it as "not yet deployed".
func (ip *Interpreter) PreloadToken(tick domain.LowerCaseTick) error {
	if _, ok := ip.tokens[tick]; ok {
		return nil
	}
	meta, err := ip.store.GetTokenMeta(tick)
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("interpreter: preload token %q: %w", tick, err)
	}
	ip.tokens[tick] = meta
	return nil
}

// PreloadAccount seeds the account cache for (owner, tick) from the
// store if not already cached.
func (ip *Interpreter) PreloadAccount(owner domain.FullHash, tick domain.LowerCaseTick) error {
	key := AccountKey{Owner: owner, Tick: tick}
	if _, ok := ip.accounts[key]; ok {
		return nil
	}
	bal, err := ip.store.GetBalance(owner, tick)
	if err != nil {
		return fmt.Errorf("interpreter: preload account %s/%s: %w", owner, tick, err)
	}
	ip.accounts[key] = bal
	return nil
}

// Apply interprets one raw action at the given block height, mutating
// caches and appending an emission/journal entry when it succeeds. An
// action that fails validation is silently dropped, matching the
// protocol's forgiving-parse stance: only storage errors are returned.
func (ip *Interpreter) Apply(action RawAction, height uint32) error {
	switch a := action.(type) {
	case Deploy:
		return ip.applyDeploy(a, height)
	case Mint:
		return ip.applyMint(a, height)
	case Transfer:
		return ip.applyTransfer(a, height)
	case Transferred:
		return ip.applyTransferred(a, height)
	default:
		return fmt.Errorf("interpreter: unknown action type %T", action)
	}
}

func (ip *Interpreter) applyDeploy(a Deploy, height uint32) error {
	tick := a.Tick.Canonical()
	if err := ip.PreloadToken(tick); err != nil {
		return err
	}
	if _, exists := ip.tokens[tick]; exists {
		return nil
	}

	meta := tokenstore.TokenMeta{
		Genesis:  a.Genesis,
		Tick:     a.Tick,
		Max:      a.Max,
		Lim:      a.Lim,
		Dec:      a.Dec,
		Supply:   domain.Zero,
		Height:   height,
		Created:  a.Created,
		Deployer: a.Owner,
		Transactions: 1,
	}
	ip.tokens[tick] = meta

	ip.emissions = append(ip.emissions, Emission{
		Type: KindDeploy, Tick: tick, Owner: a.Owner, Amount: domain.Zero,
	})
	ip.journal = append(ip.journal, RemoveDeployed{Tick: tick})
	return nil
}

func (ip *Interpreter) applyMint(a Mint, height uint32) error {
	tick := a.Tick.Canonical()
	if err := ip.PreloadToken(tick); err != nil {
		return err
	}
	meta, ok := ip.tokens[tick]
	if !ok {
		return nil
	}
	if a.Amt.Scale() > meta.Dec {
		return nil
	}
	if a.Amt.Cmp(meta.Lim) > 0 {
		return nil
	}
	remaining := meta.Max.Sub(meta.Supply)
	if remaining.Sign() <= 0 {
		return nil
	}
	effective := a.Amt.Min(remaining)

	if err := ip.PreloadAccount(a.Owner, tick); err != nil {
		return err
	}
	key := AccountKey{Owner: a.Owner, Tick: tick}
	acct := ip.accounts[key]
	prevTotal := acct.Balance.Add(acct.TransferableBalance)
	acct.Balance = acct.Balance.Add(effective)
	ip.accounts[key] = acct

	meta.Supply = meta.Supply.Add(effective)
	meta.Transactions++
	meta.MintCount++
	ip.tokens[tick] = meta

	ip.holders.Increase(tick, a.Owner, prevTotal, effective)

	ip.emissions = append(ip.emissions, Emission{
		Type: KindMint, Tick: tick, Owner: a.Owner, Amount: effective,
		TxID: a.TxID, Vout: a.Vout,
	})
	ip.journal = append(ip.journal, RemoveMint{Owner: a.Owner, Tick: tick, Amt: effective})
	return nil
}

func (ip *Interpreter) applyTransfer(a Transfer, height uint32) error {
	if _, already := ip.claimed[a.Location]; already {
		return nil
	}
	ip.claimed[a.Location] = struct{}{}

	tick := a.Tick.Canonical()
	if err := ip.PreloadToken(tick); err != nil {
		return err
	}
	meta, ok := ip.tokens[tick]
	if !ok {
		return nil
	}
	if a.Amt.Scale() > meta.Dec {
		return nil
	}

	if err := ip.PreloadAccount(a.Owner, tick); err != nil {
		return err
	}
	key := AccountKey{Owner: a.Owner, Tick: tick}
	acct := ip.accounts[key]
	if acct.Balance.Cmp(a.Amt) < 0 {
		return nil
	}

	acct.Balance = acct.Balance.Sub(a.Amt)
	acct.TransferableBalance = acct.TransferableBalance.Add(a.Amt)
	acct.TransfersCount++
	ip.accounts[key] = acct

	meta.TransferCount++
	meta.Transactions++
	ip.tokens[tick] = meta

	ip.newTransfers[a.Location] = tokenstore.ActiveTransfer{
		Owner: a.Owner, Tick: tick, Amt: a.Amt, Height: height,
	}

	ip.emissions = append(ip.emissions, Emission{
		Type: KindTransfer, Tick: tick, Owner: a.Owner, Amount: a.Amt,
		TxID: a.TxID, Vout: a.Vout,
	})
	ip.journal = append(ip.journal, RemoveTransfer{
		Location: a.Location, Owner: a.Owner, Tick: tick, Amt: a.Amt,
	})
	return nil
}

func (ip *Interpreter) applyTransferred(a Transferred, height uint32) error {
	loc := a.TransferLocation
	entry, found, err := ip.takeTransferable(loc)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	sender := entry.Owner
	tick := entry.Tick
	amt := entry.Amt

	if err := ip.PreloadAccount(sender, tick); err != nil {
		return err
	}
	senderKey := AccountKey{Owner: sender, Tick: tick}
	senderAcct := ip.accounts[senderKey]
	senderPrevTotal := senderAcct.Balance.Add(senderAcct.TransferableBalance)
	senderAcct.TransferableBalance = senderAcct.TransferableBalance.Sub(amt)
	if senderAcct.TransfersCount > 0 {
		senderAcct.TransfersCount--
	}
	ip.accounts[senderKey] = senderAcct
	ip.holders.Decrease(tick, sender, senderPrevTotal, amt)

	if err := ip.PreloadToken(tick); err != nil {
		return err
	}
	if meta, ok := ip.tokens[tick]; ok {
		meta.Transactions++
		ip.tokens[tick] = meta
	}

	recipient := sender
	hasRecipient := false
	if a.Recipient != nil && !a.Recipient.IsBurned() {
		recipient = *a.Recipient
		hasRecipient = true
		if err := ip.PreloadAccount(recipient, tick); err != nil {
			return err
		}
		recipientKey := AccountKey{Owner: recipient, Tick: tick}
		recipientAcct := ip.accounts[recipientKey]
		recipientPrevTotal := recipientAcct.Balance.Add(recipientAcct.TransferableBalance)
		recipientAcct.Balance = recipientAcct.Balance.Add(amt)
		ip.accounts[recipientKey] = recipientAcct
		ip.holders.Increase(tick, recipient, recipientPrevTotal, amt)
	}

	ip.emissions = append(ip.emissions, Emission{
		Type: KindSend, Tick: tick, Owner: sender, Amount: amt,
		Recipient: recipient, HasRecipient: hasRecipient,
		TxID: a.TxID, Vout: a.Vout,
	})
	ip.journal = append(ip.journal, RestoreTransferred{
		Location: loc, Owner: sender, Tick: tick, Amt: amt, Height: entry.Height,
		Recipient: recipient, HasRecipient: hasRecipient,
	})
	return nil
}

// takeTransferable removes and returns the active transfer at loc,
// checking this block's own not-yet-persisted creations first, then a
// cache of on-demand store loads, then the store itself. found is false
// if loc names no live transferable anywhere.
func (ip *Interpreter) takeTransferable(loc domain.Location) (tokenstore.ActiveTransfer, bool, error) {
	if entry, ok := ip.newTransfers[loc]; ok {
		delete(ip.newTransfers, loc)
		return entry, true, nil
	}
	if entry, ok := ip.validCache[loc]; ok {
		delete(ip.validCache, loc)
		ip.spentTransfers[loc] = entry.Owner
		return entry, true, nil
	}
	if _, spent := ip.spentTransfers[loc]; spent {
		return tokenstore.ActiveTransfer{}, false, nil
	}

	entry, err := ip.store.GetActiveTransfer(loc)
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return tokenstore.ActiveTransfer{}, false, nil
		}
		return tokenstore.ActiveTransfer{}, false, fmt.Errorf("interpreter: load active transfer: %w", err)
	}
	ip.spentTransfers[loc] = entry.Owner
	return entry, true, nil
}

// Emissions returns every history-row precursor produced so far, in
// action-application order.
func (ip *Interpreter) Emissions() []Emission { return ip.emissions }

// JournalOps returns the inverse operations needed to undo every action
// applied so far, in application order (a rollback replays them in
// reverse).
func (ip *Interpreter) JournalOps() []JournalOp { return ip.journal }

// Tokens returns the final token-meta cache for the pipeline to persist.
func (ip *Interpreter) Tokens() map[domain.LowerCaseTick]tokenstore.TokenMeta {
	return ip.tokens
}

// Accounts returns the final balance cache for the pipeline to persist.
func (ip *Interpreter) Accounts() map[AccountKey]tokenstore.Balance {
	return ip.accounts
}

// NewTransfers returns the transferables created this block that still
// need to be written to the store.
func (ip *Interpreter) NewTransfers() map[domain.Location]tokenstore.ActiveTransfer {
	return ip.newTransfers
}

// SpentTransfers returns, for every previously-persisted transferable
// consumed this block, the owner it was filed under, so the pipeline
// knows which store rows to delete.
func (ip *Interpreter) SpentTransfers() map[domain.Location]domain.FullHash {
	return ip.spentTransfers
}
