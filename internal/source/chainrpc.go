package source

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/choosenname/bel-20-indexer/internal/domain"
)

// RawVin is one input of a raw block transaction, wire-decoded from the
// upstream RPC's hex fields.
type RawVin struct {
	TxID      domain.TxHash
	Vout      uint32
	ScriptSig []byte
	Witness   [][]byte
}

// RawVout is one output of a raw block transaction.
type RawVout struct {
	Value  uint64
	Script []byte
}

// RawTx is a transaction as the chain RPC reports it.
type RawTx struct {
	TxID domain.TxHash
	Vin  []RawVin
	Vout []RawVout
}

// RawBlock is a full block as the chain RPC reports it.
type RawBlock struct {
	Hash     domain.TxHash
	PrevHash domain.TxHash
	Height   uint32
	Created  int64
	Txs      []RawTx
}

// wireVin/wireVout/wireTx/wireBlock are the hex-over-JSON shapes the
// upstream RPC actually sends; RawBlock is decoded from these.
type wireVin struct {
	TxID      string   `json:"txid"`
	Vout      uint32   `json:"vout"`
	ScriptSig string   `json:"script_sig"`
	Witness   []string `json:"witness"`
}

type wireVout struct {
	Value  uint64 `json:"value"`
	Script string `json:"script"`
}

type wireTx struct {
	TxID string     `json:"txid"`
	Vin  []wireVin  `json:"vin"`
	Vout []wireVout `json:"vout"`
}

type wireBlock struct {
	Hash     string   `json:"hash"`
	PrevHash string   `json:"prev_hash"`
	Height   uint32   `json:"height"`
	Created  int64    `json:"created"`
	Txs      []wireTx `json:"txs"`
}

type wireBlockInfo struct {
	Hash     string `json:"hash"`
	PrevHash string `json:"prev_hash"`
	Height   uint32 `json:"height"`
}

// BlockInfo is the lightweight header get_block_info returns, used by
// the poller to check that its last block is still known upstream and
// to read the tip's height without pulling a full block.
type BlockInfo struct {
	Hash     domain.TxHash
	PrevHash domain.TxHash
	Height   uint32
}

// ChainRPC exposes the four raw-chain calls §4.9 names.
type ChainRPC struct {
	client *Client
}

// NewChainRPC wraps client as a ChainRPC.
func NewChainRPC(client *Client) *ChainRPC { return &ChainRPC{client: client} }

// GetBlockHash resolves a height to its canonical block hash.
func (c *ChainRPC) GetBlockHash(ctx context.Context, height uint32) (domain.TxHash, error) {
	var hexHash string
	if err := c.client.CallWithRetry(ctx, "get_block_hash", []any{height}, &hexHash); err != nil {
		return domain.TxHash{}, fmt.Errorf("get_block_hash(%d): %w", height, err)
	}
	return domain.HexToTxHash(hexHash)
}

// BestBlockHash returns the upstream node's current tip.
func (c *ChainRPC) BestBlockHash(ctx context.Context) (domain.TxHash, error) {
	var hexHash string
	if err := c.client.CallWithRetry(ctx, "best_block_hash", nil, &hexHash); err != nil {
		return domain.TxHash{}, fmt.Errorf("best_block_hash: %w", err)
	}
	return domain.HexToTxHash(hexHash)
}

// GetBlockInfo returns hash's header without its transactions.
func (c *ChainRPC) GetBlockInfo(ctx context.Context, hash domain.TxHash) (BlockInfo, error) {
	var w wireBlockInfo
	if err := c.client.CallWithRetry(ctx, "get_block_info", []any{hash.String()}, &w); err != nil {
		return BlockInfo{}, fmt.Errorf("get_block_info(%s): %w", hash, err)
	}
	h, err := domain.HexToTxHash(w.Hash)
	if err != nil {
		return BlockInfo{}, err
	}
	prev, err := domain.HexToTxHash(w.PrevHash)
	if err != nil {
		return BlockInfo{}, err
	}
	return BlockInfo{Hash: h, PrevHash: prev, Height: w.Height}, nil
}

// GetBlock fetches the full block named by hash.
func (c *ChainRPC) GetBlock(ctx context.Context, hash domain.TxHash) (RawBlock, error) {
	var w wireBlock
	if err := c.client.CallWithRetry(ctx, "get_block", []any{hash.String()}, &w); err != nil {
		return RawBlock{}, fmt.Errorf("get_block(%s): %w", hash, err)
	}
	return decodeWireBlock(w)
}

func decodeWireBlock(w wireBlock) (RawBlock, error) {
	hash, err := domain.HexToTxHash(w.Hash)
	if err != nil {
		return RawBlock{}, err
	}
	prev, err := domain.HexToTxHash(w.PrevHash)
	if err != nil {
		return RawBlock{}, err
	}

	txs := make([]RawTx, len(w.Txs))
	for i, wt := range w.Txs {
		txid, err := domain.HexToTxHash(wt.TxID)
		if err != nil {
			return RawBlock{}, fmt.Errorf("tx %d: %w", i, err)
		}
		vin := make([]RawVin, len(wt.Vin))
		for j, wv := range wt.Vin {
			prevTxID, err := domain.HexToTxHash(wv.TxID)
			if err != nil {
				return RawBlock{}, fmt.Errorf("tx %d input %d: %w", i, j, err)
			}
			scriptSig, err := hex.DecodeString(wv.ScriptSig)
			if err != nil {
				return RawBlock{}, fmt.Errorf("tx %d input %d script_sig: %w", i, j, err)
			}
			witness := make([][]byte, len(wv.Witness))
			for k, item := range wv.Witness {
				b, err := hex.DecodeString(item)
				if err != nil {
					return RawBlock{}, fmt.Errorf("tx %d input %d witness %d: %w", i, j, k, err)
				}
				witness[k] = b
			}
			vin[j] = RawVin{TxID: prevTxID, Vout: wv.Vout, ScriptSig: scriptSig, Witness: witness}
		}
		vout := make([]RawVout, len(wt.Vout))
		for j, wo := range wt.Vout {
			script, err := hex.DecodeString(wo.Script)
			if err != nil {
				return RawBlock{}, fmt.Errorf("tx %d output %d script: %w", i, j, err)
			}
			vout[j] = RawVout{Value: wo.Value, Script: script}
		}
		txs[i] = RawTx{TxID: txid, Vin: vin, Vout: vout}
	}

	return RawBlock{Hash: hash, PrevHash: prev, Height: w.Height, Created: w.Created, Txs: txs}, nil
}
