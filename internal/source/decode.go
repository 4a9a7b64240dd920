package source

import (
	"errors"
	"fmt"

	"github.com/choosenname/bel-20-indexer/internal/codec"
	"github.com/choosenname/bel-20-indexer/internal/domain"
	"github.com/choosenname/bel-20-indexer/internal/interpreter"
	"github.com/choosenname/bel-20-indexer/internal/pipeline"
	"github.com/choosenname/bel-20-indexer/internal/resolver"
	"github.com/choosenname/bel-20-indexer/internal/tokenstore"
)

// TransferLookup reports whether an outpoint's offset-0 sat is a live
// transferable still waiting to be spent, and who owns it. The poller
// wires this to tokenstore.Store.GetActiveTransfer.
type TransferLookup interface {
	GetActiveTransfer(loc domain.Location) (tokenstore.ActiveTransfer, error)
}

// Decoder turns one raw block's transactions into the ordered RawAction
// sequence the interpreter expects, resolving every envelope it finds
// and every transfer it sees spent along the way. It also keeps the
// resolver's prevout cache current: every output a transaction creates is
// cached once that transaction's inputs are resolved, so later
// transactions in the block can spend it, and every output an input
// consumes is released once resolved.
type Decoder struct {
	resolver         *resolver.Resolver
	transfers        TransferLookup
	activationHeight uint32
}

// NewDecoder builds a Decoder backed by res for sat tracking and
// transfers for recognizing which spent outputs carried a live
// transferable. Below activationHeight, only an envelope carried on a
// transaction's first input (genesis index 0) may deploy a token; later
// inputs in the same transaction ignore a Deploy payload they carry.
func NewDecoder(res *resolver.Resolver, transfers TransferLookup, activationHeight uint32) *Decoder {
	return &Decoder{resolver: res, transfers: transfers, activationHeight: activationHeight}
}

// DecodeBlock turns blk into a pipeline.Block. Transactions are walked
// in order and, within each, inputs before outputs, so an output a
// transaction creates is visible to every later transaction in the same
// block that spends it, and cached prevouts are released as soon as
// their spending input has been resolved.
func (d *Decoder) DecodeBlock(blk RawBlock) (pipeline.Block, error) {
	var actions []interpreter.RawAction

	for txIdx, tx := range blk.Txs {
		rtx := toResolverTx(tx)

		for i, in := range tx.Vin {
			spent := domain.Outpoint{TxID: in.TxID, Vout: in.Vout}

			if env := codec.ScanEnvelope(in.ScriptSig, in.Witness); env.Status == codec.EnvelopeComplete {
				action, err := d.decodeEnvelope(rtx, i, env.Inscription, blk.Height, blk.Created)
				if err != nil {
					return pipeline.Block{}, fmt.Errorf("block %d tx %d input %d: %w", blk.Height, txIdx, i, err)
				}
				if action != nil {
					actions = append(actions, action)
				}
			} else if action, err := d.decodeSpend(rtx, i, spent); err != nil {
				return pipeline.Block{}, fmt.Errorf("block %d tx %d input %d: %w", blk.Height, txIdx, i, err)
			} else if action != nil {
				actions = append(actions, action)
			}

			if err := d.resolver.ReleaseOutput(spent); err != nil {
				return pipeline.Block{}, fmt.Errorf("block %d tx %d input %d: release prevout: %w", blk.Height, txIdx, i, err)
			}
		}

		for vout, out := range tx.Vout {
			o := domain.Outpoint{TxID: tx.TxID, Vout: uint32(vout)}
			if err := d.resolver.CacheOutput(o, out.Value, out.Script); err != nil {
				return pipeline.Block{}, fmt.Errorf("block %d tx %d output %d: cache prevout: %w", blk.Height, txIdx, vout, err)
			}
		}
	}

	return pipeline.Block{Height: blk.Height, Hash: blk.Hash, Actions: actions}, nil
}

func toResolverTx(tx RawTx) resolver.Tx {
	inputs := make([]domain.Outpoint, len(tx.Vin))
	for i, in := range tx.Vin {
		inputs[i] = domain.Outpoint{TxID: in.TxID, Vout: in.Vout}
	}
	outputs := make([]resolver.TxOutput, len(tx.Vout))
	for i, out := range tx.Vout {
		outputs[i] = resolver.TxOutput{Value: out.Value, Script: out.Script}
	}
	return resolver.Tx{TxID: tx.TxID, Inputs: inputs, Outputs: outputs}
}

// decodeEnvelope turns a decoded envelope carried on input inputIndex
// into the Deploy, Mint or Transfer action it names. An envelope whose
// body fails payload decoding (wrong content type, malformed JSON,
// unknown op) names no action and is silently skipped, the way a
// non-protocol inscription is ignored rather than rejected.
func (d *Decoder) decodeEnvelope(tx resolver.Tx, inputIndex int, insc codec.Inscription, height uint32, created int64) (interpreter.RawAction, error) {
	payload, err := codec.DecodePayload(insc.ContentType, insc.Body)
	if err != nil {
		var parseErr *codec.ParseError
		if errors.As(err, &parseErr) {
			return nil, nil
		}
		return nil, err
	}

	genesis := domain.InscriptionID{TxID: tx.TxID, Index: uint32(inputIndex)}

	switch p := payload.(type) {
	case codec.DeployPayload:
		if inputIndex != 0 && height < d.activationHeight {
			return nil, nil
		}
		target, err := d.resolver.ResolveGenesis(tx, inputIndex, insc.Pointer)
		if err != nil {
			return nil, err
		}
		return interpreter.Deploy{
			Genesis: genesis,
			Owner:   target.Owner,
			Tick:    p.Tick,
			Max:     p.Max,
			Lim:     p.Lim,
			Dec:     p.Dec,
			Created: created,
		}, nil

	case codec.MintPayload:
		target, err := d.resolver.ResolveGenesis(tx, inputIndex, insc.Pointer)
		if err != nil {
			return nil, err
		}
		return interpreter.Mint{
			Owner: target.Owner,
			Tick:  p.Tick,
			Amt:   p.Amt,
			TxID:  tx.TxID,
			Vout:  target.Location.Outpoint.Vout,
		}, nil

	case codec.TransferPayload:
		target, err := d.resolver.ResolveGenesis(tx, inputIndex, insc.Pointer)
		if err != nil {
			return nil, err
		}
		return interpreter.Transfer{
			Location: target.Location,
			Owner:    target.Owner,
			Tick:     p.Tick,
			Amt:      p.Amt,
			TxID:     tx.TxID,
			Vout:     target.Location.Outpoint.Vout,
		}, nil

	default:
		return nil, fmt.Errorf("source: unhandled payload type %T", payload)
	}
}

// decodeSpend checks whether input inputIndex consumes a live
// transferable's offset-0 sat and, if so, resolves where that sat ends
// up and emits the Transferred action completing it. Most inputs spend
// nothing of interest and decodeSpend returns a nil action for them.
func (d *Decoder) decodeSpend(tx resolver.Tx, inputIndex int, spent domain.Outpoint) (interpreter.RawAction, error) {
	loc := resolver.SpentTransferLocation(spent)
	if _, err := d.transfers.GetActiveTransfer(loc); err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	target, err := d.resolver.ResolveSpend(tx, inputIndex)
	if err != nil {
		return nil, err
	}

	return interpreter.Transferred{
		TransferLocation: loc,
		Recipient:        &target.Owner,
		TxID:             tx.TxID,
		Vout:             target.Location.Outpoint.Vout,
	}, nil
}
