// Package holders maintains an in-memory, balance-ordered projection of
// every token's holder set, kept in lock-step with the persisted
// balances it mirrors.
package holders

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/choosenname/bel-20-indexer/internal/domain"
)

// Entry is one holder's position in a tick's ranking.
type Entry struct {
	Owner domain.FullHash
	Total domain.Fixed128
}

// Index is the per-tick ordered set of (total_balance, owner), plus the
// implicit holder count (the set's length — zero-total holders are never
// stored). One sync.RWMutex guards every tick, matching the single
// reader/writer lock the index is specified to use.
type Index struct {
	mu    sync.RWMutex
	ticks map[domain.LowerCaseTick][]Entry
}

// New returns an empty holders index.
func New() *Index {
	return &Index{ticks: make(map[domain.LowerCaseTick][]Entry)}
}

// Increase moves owner's total from prev to prev+amt, reinserting it at
// its new sorted position and bumping the holder count if it was absent.
func (idx *Index) Increase(tick domain.LowerCaseTick, owner domain.FullHash, prev, amt domain.Fixed128) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	newTotal := prev.Add(amt)
	entries := removeOwner(idx.ticks[tick], owner)
	if newTotal.Sign() > 0 {
		entries = insertSorted(entries, Entry{Owner: owner, Total: newTotal})
	}
	idx.ticks[tick] = entries
}

// Decrease moves owner's total from prev to prev-amt, dropping it from
// the set (and implicitly the holder count) if the result is zero.
func (idx *Index) Decrease(tick domain.LowerCaseTick, owner domain.FullHash, prev, amt domain.Fixed128) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	newTotal := prev.Sub(amt)
	entries := removeOwner(idx.ticks[tick], owner)
	if newTotal.Sign() > 0 {
		entries = insertSorted(entries, Entry{Owner: owner, Total: newTotal})
	}
	idx.ticks[tick] = entries
}

// Count returns the number of distinct holders with nonzero total for tick.
func (idx *Index) Count(tick domain.LowerCaseTick) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.ticks[tick])
}

// Page returns up to limit entries starting at offset, in descending
// total order, for the ranked /holders listing.
func (idx *Index) Page(tick domain.LowerCaseTick, offset, limit int) []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return lo.Subset(idx.ticks[tick], offset, uint(limit))
}

// Rank returns owner's zero-based position in tick's ranking and its
// total, or ok=false if owner holds no nonzero balance.
func (idx *Index) Rank(tick domain.LowerCaseTick, owner domain.FullHash) (rank int, total domain.Fixed128, ok bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for i, e := range idx.ticks[tick] {
		if e.Owner == owner {
			return i, e.Total, true
		}
	}
	return 0, domain.Fixed128{}, false
}

// Rebuild replaces tick's entire holder set, used at startup to
// reconstruct the in-memory projection from persisted balances.
func (idx *Index) Rebuild(tick domain.LowerCaseTick, entries []Entry) {
	nonzero := lo.Filter(entries, func(e Entry, _ int) bool { return e.Total.Sign() > 0 })
	sort.Slice(nonzero, func(i, j int) bool { return less(nonzero[i], nonzero[j]) })

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.ticks[tick] = nonzero
}

// DropTick removes a tick's holder set entirely (used when a deploy is
// rolled back by journal rollback).
func (idx *Index) DropTick(tick domain.LowerCaseTick) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.ticks, tick)
}

// less reports whether a sorts before b: higher total first, ties broken
// by owner bytes ascending for a stable, deterministic order.
func less(a, b Entry) bool {
	if c := a.Total.Cmp(b.Total); c != 0 {
		return c > 0
	}
	return string(a.Owner[:]) < string(b.Owner[:])
}

func removeOwner(entries []Entry, owner domain.FullHash) []Entry {
	for i, e := range entries {
		if e.Owner == owner {
			out := make([]Entry, 0, len(entries)-1)
			out = append(out, entries[:i]...)
			out = append(out, entries[i+1:]...)
			return out
		}
	}
	return entries
}

func insertSorted(entries []Entry, e Entry) []Entry {
	i := sort.Search(len(entries), func(i int) bool { return less(e, entries[i]) })
	out := make([]Entry, 0, len(entries)+1)
	out = append(out, entries[:i]...)
	out = append(out, e)
	out = append(out, entries[i:]...)
	return out
}
