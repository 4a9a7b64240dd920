// Package resolver maps envelope-carried sats to the outputs that end up
// holding them. Ordinal tracking boils down to one piece of arithmetic
// repeated everywhere: walk a transaction's inputs and outputs as flat
// ranges of sat offsets and find which range a given offset lands in.
// Everything else here — caching prevouts, picking the input a transfer
// inscription attaches to, recognizing a burn — is plumbing around that
// one walk.
package resolver

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/choosenname/bel-20-indexer/internal/domain"
	"github.com/choosenname/bel-20-indexer/internal/tokenstore"
)

// ErrMissingPrevout is returned when an input's spent output was never
// cached. The source adapter is expected to feed every output through
// CacheOutput as it is created, so this indicates a prefetch gap.
var ErrMissingPrevout = errors.New("resolver: missing cached prevout")

// TxOutput is one output of the transaction under resolution.
type TxOutput struct {
	Value  uint64
	Script []byte
}

// Tx is the minimal view of a transaction the resolver needs: which
// outpoints it spends, in order, and the outputs it creates, in order.
type Tx struct {
	TxID    domain.TxHash
	Inputs  []domain.Outpoint
	Outputs []TxOutput
}

// opReturnOpcode marks the start of an unspendable data-carrier output.
const opReturnOpcode = 0x6a

func isOpReturn(script []byte) bool {
	return len(script) > 0 && script[0] == opReturnOpcode
}

// Resolver resolves sat offsets against a transaction's inputs and
// outputs, caching the outputs it is told about so later transactions
// that spend them can look their value back up.
type Resolver struct {
	store *tokenstore.Store
	cache *lru.Cache[domain.Outpoint, tokenstore.TxOut]
}

// cacheSize bounds the in-memory mirror of the store's own prevout
// cache; it exists to skip a disk read for outputs spent within a few
// blocks of being created, which is the overwhelming majority.
const cacheSize = 1 << 16

// New builds a Resolver backed by store's durable prevout cache.
func New(store *tokenstore.Store) *Resolver {
	c, err := lru.New[domain.Outpoint, tokenstore.TxOut](cacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which cacheSize
		// never is.
		panic(fmt.Sprintf("resolver: build prevout cache: %v", err))
	}
	return &Resolver{store: store, cache: c}
}

// CacheOutput records a newly created output so a later spend can
// resolve its value and script without a fresh chain lookup.
func (r *Resolver) CacheOutput(o domain.Outpoint, value uint64, script []byte) error {
	out := tokenstore.TxOut{Value: value, LockingScript: script}
	r.cache.Add(o, out)
	return r.store.PutPrevout(o, out)
}

func (r *Resolver) prevout(o domain.Outpoint) (tokenstore.TxOut, error) {
	if out, ok := r.cache.Get(o); ok {
		return out, nil
	}
	out, err := r.store.GetPrevout(o)
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return tokenstore.TxOut{}, fmt.Errorf("%w: %s", ErrMissingPrevout, o)
		}
		return tokenstore.TxOut{}, err
	}
	r.cache.Add(o, out)
	return out, nil
}

// ReleaseOutput drops an output from both caches once nothing can spend
// it again, e.g. after its transferable has been fully resolved.
func (r *Resolver) ReleaseOutput(o domain.Outpoint) error {
	r.cache.Remove(o)
	return r.store.DeletePrevout(o)
}

// layout is the per-transaction sat-accounting scratchpad: which inputs
// survived the last-input-pays-fee rule, and the cumulative offset each
// surviving input starts at.
type layout struct {
	values     []uint64 // input values after fee truncation, zero for dropped inputs
	cumulative []uint64 // prefix sum of values, one entry per input
	outputSum  uint64
}

// buildLayout computes the fee-adjusted cumulative input offsets
// described in §4.2: the fee is taken off the tail of the input list,
// fully dropping inputs it consumes entirely and partially debiting the
// first one it doesn't.
func (r *Resolver) buildLayout(tx Tx) (layout, error) {
	inputValues := make([]uint64, len(tx.Inputs))
	var inputSum uint64
	for i, in := range tx.Inputs {
		out, err := r.prevout(in)
		if err != nil {
			return layout{}, fmt.Errorf("resolve input %d: %w", i, err)
		}
		inputValues[i] = out.Value
		inputSum += out.Value
	}

	var outputSum uint64
	for _, o := range tx.Outputs {
		outputSum += o.Value
	}

	var fee uint64
	if inputSum > outputSum {
		fee = inputSum - outputSum
	}

	values := make([]uint64, len(inputValues))
	copy(values, inputValues)
	for i := len(values) - 1; i >= 0 && fee > 0; i-- {
		if values[i] <= fee {
			fee -= values[i]
			values[i] = 0
			continue
		}
		values[i] -= fee
		fee = 0
	}

	cumulative := make([]uint64, len(values))
	var running uint64
	for i, v := range values {
		cumulative[i] = running
		running += v
	}

	return layout{values: values, cumulative: cumulative, outputSum: outputSum}, nil
}

// inputSurvived reports whether input i kept any sat value after the fee
// was taken off the tail of the input list.
func (l layout) inputSurvived(i int) bool {
	return i >= 0 && i < len(l.values) && l.values[i] > 0
}

// locate walks tx's outputs and finds which one holds the sat at
// globalOffset, along with its offset within that output. ok is false
// if globalOffset falls past the last output, meaning the sat leaked to
// the miner fee.
func locate(outputs []TxOutput, globalOffset uint64) (vout uint32, subOffset uint64, ok bool) {
	remaining := globalOffset
	for i, out := range outputs {
		if remaining < out.Value {
			return uint32(i), remaining, true
		}
		remaining -= out.Value
	}
	return 0, 0, false
}

// Target is where a tracked sat ends up: a location plus the owner that
// location resolves to. Owner is domain.OpReturnHash both when the
// target output is a data-carrier output and when the sat leaked past
// every output into the miner fee — the two ways BRC-20 tracking
// considers a transfer burned.
type Target struct {
	Location domain.Location
	Owner    domain.FullHash
}

func ownerOf(out TxOutput) domain.FullHash {
	if isOpReturn(out.Script) {
		return domain.OpReturnHash
	}
	return domain.HashScript(out.Script)
}

// ResolveGenesis finds where a transfer inscription carried on input
// inputIndex ends up. The default target is the first sat of that same
// input's value range; pointer, if non-nil and within the transaction's
// total output value, overrides it with an absolute offset into the
// outputs, per §4.2's "pointer hint" rule.
func (r *Resolver) ResolveGenesis(tx Tx, inputIndex int, pointer *uint64) (Target, error) {
	l, err := r.buildLayout(tx)
	if err != nil {
		return Target{}, err
	}
	if inputIndex < 0 || inputIndex >= len(tx.Inputs) {
		return Target{}, fmt.Errorf("resolver: input index %d out of range for %d inputs", inputIndex, len(tx.Inputs))
	}

	if !l.inputSurvived(inputIndex) {
		// The fee rule consumed this input's sats outright: the
		// inscribed sat never reaches an output.
		return Target{
			Location: domain.Location{Outpoint: domain.Outpoint{TxID: tx.TxID, Vout: 0}, Offset: 0},
			Owner:    domain.OpReturnHash,
		}, nil
	}

	offset := l.cumulative[inputIndex]
	if pointer != nil && *pointer < l.outputSum {
		offset = *pointer
	}

	return r.resolveOffset(tx, offset), nil
}

// ResolveSpend finds where the sat at the first offset of input
// inputIndex's prevout ends up after this transaction, the way a plain
// transfer-completing send (no inscription of its own) moves a
// previously tracked sat forward.
func (r *Resolver) ResolveSpend(tx Tx, inputIndex int) (Target, error) {
	l, err := r.buildLayout(tx)
	if err != nil {
		return Target{}, err
	}
	if inputIndex < 0 || inputIndex >= len(tx.Inputs) {
		return Target{}, fmt.Errorf("resolver: input index %d out of range for %d inputs", inputIndex, len(tx.Inputs))
	}
	if !l.inputSurvived(inputIndex) {
		return Target{
			Location: domain.Location{Outpoint: domain.Outpoint{TxID: tx.TxID, Vout: 0}, Offset: 0},
			Owner:    domain.OpReturnHash,
		}, nil
	}
	return r.resolveOffset(tx, l.cumulative[inputIndex]), nil
}

func (r *Resolver) resolveOffset(tx Tx, offset uint64) Target {
	vout, subOffset, ok := locate(tx.Outputs, offset)
	if !ok {
		// offset is bounded by outputSum by construction (the fee rule
		// only ever reduces cumulative input offsets, never grows them
		// past it), so this only fires on malformed input; treat it the
		// same as any other fee leak.
		return Target{
			Location: domain.Location{Outpoint: domain.Outpoint{TxID: tx.TxID, Vout: uint32(len(tx.Outputs))}, Offset: 0},
			Owner:    domain.OpReturnHash,
		}
	}
	out := tx.Outputs[vout]
	return Target{
		Location: domain.Location{Outpoint: domain.Outpoint{TxID: tx.TxID, Vout: vout}, Offset: subOffset},
		Owner:    ownerOf(out),
	}
}

// SpentTransferLocation is the location a new transferable inherits when
// its genesis output is later fully consumed as a single plain input:
// BRC-20 transfer UTXOs carry their inscribed sat at offset 0 of their
// output by convention, so the location an active transfer was recorded
// under (§3's AddressTokenId-keyed store) is always reachable by
// checking offset 0 of the outpoint a spending input names.
func SpentTransferLocation(spent domain.Outpoint) domain.Location {
	return domain.Location{Outpoint: spent, Offset: 0}
}
