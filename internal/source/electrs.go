package source

import (
	"context"
	"fmt"

	"github.com/choosenname/bel-20-indexer/internal/domain"
	"github.com/choosenname/bel-20-indexer/internal/interpreter"
	"github.com/choosenname/bel-20-indexer/internal/pipeline"
)

// BlockMeta is the height/hash pair a pre-parsed history source reports
// for its own last-seen block, used to detect whether it has rolled
// back since the indexer last polled it.
type BlockMeta struct {
	Height uint32
	Hash   domain.TxHash
}

// wireAction/wireUpdate are the JSON shapes a pre-parsed history source
// reports; they carry the same fields as interpreter.RawAction's
// variants but keyed by a string discriminant instead of a Go type.
type wireAction struct {
	Kind    string           `json:"kind"`
	Deploy  *wireDeploy      `json:"deploy,omitempty"`
	Mint    *wireMintAction  `json:"mint,omitempty"`
	Xfer    *wireTransferAct `json:"transfer,omitempty"`
	Xferred *wireTransferred `json:"transferred,omitempty"`
}

type wireDeploy struct {
	Genesis string          `json:"genesis"`
	Owner   domain.FullHash `json:"owner"`
	Tick    string          `json:"tick"`
	Max     domain.Fixed128 `json:"max"`
	Lim     domain.Fixed128 `json:"lim"`
	Dec     uint8           `json:"dec"`
	Created int64           `json:"created"`
}

type wireMintAction struct {
	Owner domain.FullHash `json:"owner"`
	Tick  string          `json:"tick"`
	Amt   domain.Fixed128 `json:"amt"`
	TxID  string          `json:"txid"`
	Vout  uint32          `json:"vout"`
}

type wireTransferAct struct {
	Location domain.Location `json:"location"`
	Owner    domain.FullHash `json:"owner"`
	Tick     string          `json:"tick"`
	Amt      domain.Fixed128 `json:"amt"`
	TxID     string          `json:"txid"`
	Vout     uint32          `json:"vout"`
}

type wireTransferred struct {
	TransferLocation domain.Location  `json:"transfer_location"`
	Recipient        *domain.FullHash `json:"recipient,omitempty"`
	TxID             string           `json:"txid"`
	Vout             uint32           `json:"vout"`
}

type wireBlockMeta struct {
	Height  uint32       `json:"height"`
	Hash    string       `json:"hash"`
	Actions []wireAction `json:"actions"`
}

// updateKind discriminates the three shapes fetch_updates can report.
type updateKind string

const (
	updateAddBlock          updateKind = "add_block"
	updateRemoveBlock       updateKind = "remove_block"
	updateRemoveCachedBlock updateKind = "remove_cached_block"
)

type wireUpdate struct {
	Kind   updateKind    `json:"kind"`
	Block  wireBlockMeta `json:"block,omitempty"`
	Height uint32        `json:"height,omitempty"`
}

// Update is one item a pre-parsed history pull yields. Exactly one of
// Block or Height is meaningful, selected by Kind.
type Update struct {
	Kind   updateKind
	Block  pipeline.Block
	Height uint32
}

// IsAddBlock reports whether u carries a new block to process.
func (u Update) IsAddBlock() bool { return u.Kind == updateAddBlock }

// IsRemoveBlock reports whether u names a durably-committed block that
// must be rolled back (a reorg past what the indexer had already
// persisted).
func (u Update) IsRemoveBlock() bool { return u.Kind == updateRemoveBlock }

// IsRemoveCachedBlock reports whether u names a block the upstream
// source buffered but the indexer never committed, and so can simply be
// discarded.
func (u Update) IsRemoveCachedBlock() bool { return u.Kind == updateRemoveCachedBlock }

// ElectrsClient pulls pre-parsed token history from an upstream indexer
// that has already decoded envelopes and resolved sat offsets, the way
// the reference implementation's electrs_client service does. It is an
// alternative to ChainRPC+Decoder for deployments where that upstream
// work is already done elsewhere.
type ElectrsClient struct {
	client *Client
}

// NewElectrsClient wraps client as an ElectrsClient.
func NewElectrsClient(client *Client) *ElectrsClient { return &ElectrsClient{client: client} }

// GetLastBlockMeta returns the upstream source's own last-seen block.
func (e *ElectrsClient) GetLastBlockMeta(ctx context.Context) (BlockMeta, error) {
	var w wireBlockInfo
	if err := e.client.CallWithRetry(ctx, "get_last_electrs_block_meta", nil, &w); err != nil {
		return BlockMeta{}, fmt.Errorf("get_last_electrs_block_meta: %w", err)
	}
	hash, err := domain.HexToTxHash(w.Hash)
	if err != nil {
		return BlockMeta{}, err
	}
	return BlockMeta{Height: w.Height, Hash: hash}, nil
}

// GetBlockMeta returns the block meta at height, for walking back during
// reorg detection.
func (e *ElectrsClient) GetBlockMeta(ctx context.Context, height uint32) (BlockMeta, error) {
	var w wireBlockInfo
	if err := e.client.CallWithRetry(ctx, "get_electrs_block_meta", []any{height}, &w); err != nil {
		return BlockMeta{}, fmt.Errorf("get_electrs_block_meta(%d): %w", height, err)
	}
	hash, err := domain.HexToTxHash(w.Hash)
	if err != nil {
		return BlockMeta{}, err
	}
	return BlockMeta{Height: w.Height, Hash: hash}, nil
}

// FetchUpdates returns every AddBlock/RemoveBlock/RemoveCachedBlock item
// the upstream source has produced since sinceHeight.
func (e *ElectrsClient) FetchUpdates(ctx context.Context, sinceHeight uint32) ([]Update, error) {
	var wireUpdates []wireUpdate
	if err := e.client.CallWithRetry(ctx, "fetch_updates", []any{sinceHeight}, &wireUpdates); err != nil {
		return nil, fmt.Errorf("fetch_updates(%d): %w", sinceHeight, err)
	}

	updates := make([]Update, len(wireUpdates))
	for i, w := range wireUpdates {
		switch w.Kind {
		case updateAddBlock:
			blk, err := decodeWireBlockMeta(w.Block)
			if err != nil {
				return nil, fmt.Errorf("update %d: %w", i, err)
			}
			updates[i] = Update{Kind: updateAddBlock, Block: blk}
		case updateRemoveBlock:
			updates[i] = Update{Kind: updateRemoveBlock, Height: w.Height}
		case updateRemoveCachedBlock:
			updates[i] = Update{Kind: updateRemoveCachedBlock, Height: w.Height}
		default:
			return nil, fmt.Errorf("update %d: unknown kind %q", i, w.Kind)
		}
	}
	return updates, nil
}

func decodeWireBlockMeta(w wireBlockMeta) (pipeline.Block, error) {
	hash, err := domain.HexToTxHash(w.Hash)
	if err != nil {
		return pipeline.Block{}, err
	}

	actions := make([]interpreter.RawAction, 0, len(w.Actions))
	for i, wa := range w.Actions {
		action, err := decodeWireAction(wa)
		if err != nil {
			return pipeline.Block{}, fmt.Errorf("action %d: %w", i, err)
		}
		actions = append(actions, action)
	}

	return pipeline.Block{Height: w.Height, Hash: hash, Actions: actions}, nil
}

func decodeWireAction(w wireAction) (interpreter.RawAction, error) {
	switch w.Kind {
	case "deploy":
		if w.Deploy == nil {
			return nil, fmt.Errorf("deploy action missing body")
		}
		txid, err := domain.HexToTxHash(w.Deploy.Genesis)
		if err != nil {
			return nil, err
		}
		return interpreter.Deploy{
			Genesis: domain.InscriptionID{TxID: txid},
			Owner:   w.Deploy.Owner,
			Tick:    domain.TokenTick(w.Deploy.Tick),
			Max:     w.Deploy.Max,
			Lim:     w.Deploy.Lim,
			Dec:     w.Deploy.Dec,
			Created: w.Deploy.Created,
		}, nil
	case "mint":
		if w.Mint == nil {
			return nil, fmt.Errorf("mint action missing body")
		}
		txid, err := domain.HexToTxHash(w.Mint.TxID)
		if err != nil {
			return nil, err
		}
		return interpreter.Mint{
			Owner: w.Mint.Owner,
			Tick:  domain.TokenTick(w.Mint.Tick),
			Amt:   w.Mint.Amt,
			TxID:  txid,
			Vout:  w.Mint.Vout,
		}, nil
	case "transfer":
		if w.Xfer == nil {
			return nil, fmt.Errorf("transfer action missing body")
		}
		txid, err := domain.HexToTxHash(w.Xfer.TxID)
		if err != nil {
			return nil, err
		}
		return interpreter.Transfer{
			Location: w.Xfer.Location,
			Owner:    w.Xfer.Owner,
			Tick:     domain.TokenTick(w.Xfer.Tick),
			Amt:      w.Xfer.Amt,
			TxID:     txid,
			Vout:     w.Xfer.Vout,
		}, nil
	case "transferred":
		if w.Xferred == nil {
			return nil, fmt.Errorf("transferred action missing body")
		}
		txid, err := domain.HexToTxHash(w.Xferred.TxID)
		if err != nil {
			return nil, err
		}
		return interpreter.Transferred{
			TransferLocation: w.Xferred.TransferLocation,
			Recipient:        w.Xferred.Recipient,
			TxID:             txid,
			Vout:             w.Xferred.Vout,
		}, nil
	default:
		return nil, fmt.Errorf("unknown action kind %q", w.Kind)
	}
}
