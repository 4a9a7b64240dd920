package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/choosenname/bel-20-indexer/internal/domain"
	"github.com/choosenname/bel-20-indexer/internal/log"
	"github.com/choosenname/bel-20-indexer/internal/pipeline"
)

// Rollback is the subset of journal.Journal the poller needs to undo a
// reorg's worth of already-committed blocks.
type Rollback interface {
	Rollback(toHeight uint32) error
}

// BlockProcessor is the subset of pipeline.Pipeline the poller hands
// decoded blocks to.
type BlockProcessor interface {
	ProcessBlock(blk pipeline.Block) error
}

// ReorgNotifier is the subset of events.Broadcaster the poller notifies
// once a rollback has completed.
type ReorgNotifier interface {
	PublishReorg(blockCount, newHeight uint32)
}

// LocalChain answers what the indexer itself believes a height's block
// hash was, so the raw-RPC poller can tell apart a genuine reorg from an
// upstream hiccup by comparing against the chain's current view.
type LocalChain interface {
	GetBlockHash(height uint32) (domain.TxHash, error)
}

// ChainSource is the subset of ChainRPC the poller drives; narrowed to
// an interface so the polling loop can be exercised without a live RPC
// endpoint.
type ChainSource interface {
	GetBlockHash(ctx context.Context, height uint32) (domain.TxHash, error)
	BestBlockHash(ctx context.Context) (domain.TxHash, error)
	GetBlockInfo(ctx context.Context, hash domain.TxHash) (BlockInfo, error)
	GetBlock(ctx context.Context, hash domain.TxHash) (RawBlock, error)
}

// BlockDecoder is the subset of Decoder the poller drives.
type BlockDecoder interface {
	DecodeBlock(blk RawBlock) (pipeline.Block, error)
}

// ElectrsSource is the subset of ElectrsClient the poller drives.
type ElectrsSource interface {
	FetchUpdates(ctx context.Context, sinceHeight uint32) ([]Update, error)
}

// PollInterval is how often the poller checks the upstream source for a
// new tip when it is already caught up.
const PollInterval = 5 * time.Second

// Poller drives one of the two pull modes described in §4.9: either
// walking the raw chain RPC and decoding blocks itself, or pulling
// pre-parsed history from an upstream indexer. Exactly one of chain or
// electrs is set.
type Poller struct {
	chain   ChainSource
	decoder BlockDecoder
	local   LocalChain
	electrs ElectrsSource

	processor BlockProcessor
	rollback  Rollback
	events    ReorgNotifier

	lastHeight uint32
	lastHash   domain.TxHash
}

// NewChainPoller builds a Poller that decodes blocks itself from a raw
// chain RPC, consulting local for the indexer's own view of past block
// hashes when walking back a fork.
func NewChainPoller(chain ChainSource, decoder BlockDecoder, local LocalChain, processor BlockProcessor, rollback Rollback, events ReorgNotifier) *Poller {
	return &Poller{chain: chain, decoder: decoder, local: local, processor: processor, rollback: rollback, events: events}
}

// NewElectrsPoller builds a Poller that pulls already-decoded history
// from an upstream indexer.
func NewElectrsPoller(electrs ElectrsSource, processor BlockProcessor, rollback Rollback, events ReorgNotifier) *Poller {
	return &Poller{electrs: electrs, processor: processor, rollback: rollback, events: events}
}

// Run polls until ctx is cancelled, seeded at the given height and
// block hash (the caller's last durably committed block, typically read
// from tokenstore.Store.LastBlock/GetBlockHash at startup).
func (p *Poller) Run(ctx context.Context, fromHeight uint32, fromHash domain.TxHash) error {
	p.lastHeight = fromHeight
	p.lastHash = fromHash

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		if err := p.pollOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Source.Error().Err(err).Msg("poll cycle failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) error {
	if p.electrs != nil {
		return p.pollElectrs(ctx)
	}
	return p.pollChain(ctx)
}

// pollChain advances the raw-RPC path: detect a reorg by checking
// whether the tip still descends from lastHash, roll back if not, then
// walk forward from lastHeight+1 to the new tip one block at a time.
func (p *Poller) pollChain(ctx context.Context) error {
	if !p.lastHash.IsZero() {
		info, err := p.chain.GetBlockInfo(ctx, p.lastHash)
		if err != nil || info.Height != p.lastHeight {
			forkHeight, err := p.findForkPoint(ctx)
			if err != nil {
				return err
			}
			if forkHeight < p.lastHeight {
				if err := p.rollback.Rollback(forkHeight); err != nil {
					return fmt.Errorf("source: rollback to %d: %w", forkHeight, err)
				}
				p.events.PublishReorg(p.lastHeight-forkHeight, forkHeight)
				hash, err := p.chain.GetBlockHash(ctx, forkHeight)
				if err != nil {
					return err
				}
				p.lastHeight, p.lastHash = forkHeight, hash
			}
		}
	}

	tip, err := p.chain.BestBlockHash(ctx)
	if err != nil {
		return err
	}
	tipInfo, err := p.chain.GetBlockInfo(ctx, tip)
	if err != nil {
		return err
	}

	for h := p.lastHeight + 1; h <= tipInfo.Height; h++ {
		hash, err := p.chain.GetBlockHash(ctx, h)
		if err != nil {
			return err
		}
		raw, err := p.chain.GetBlock(ctx, hash)
		if err != nil {
			return err
		}
		blk, err := p.decoder.DecodeBlock(raw)
		if err != nil {
			return fmt.Errorf("source: decode block %d: %w", h, err)
		}
		if err := p.processor.ProcessBlock(blk); err != nil {
			return fmt.Errorf("source: process block %d: %w", h, err)
		}
		p.lastHeight, p.lastHash = h, hash
	}
	return nil
}

// findForkPoint walks down from the last processed height, comparing the
// upstream block hash at each height with the local one, until it
// reaches a height the two still agree on, per §4.9's reorg detection
// rule; if none agrees above height 0 it returns 0. The walk is not
// bounded by journal.Window: a fork deeper than the window surfaces
// journal.ErrTooDeep from Rollback itself and is not papered over here.
func (p *Poller) findForkPoint(ctx context.Context) (uint32, error) {
	height := p.lastHeight
	for height > 0 {
		upstreamHash, err := p.chain.GetBlockHash(ctx, height)
		if err != nil {
			return 0, err
		}
		localHash, err := p.local.GetBlockHash(height)
		if err != nil {
			return 0, err
		}
		if upstreamHash == localHash {
			return height, nil
		}
		height--
	}
	return 0, nil
}

// pollElectrs advances the pre-parsed-pull path: every update is either
// a new block to run through the pipeline, a committed block to roll
// back, or a merely-cached block to discard.
func (p *Poller) pollElectrs(ctx context.Context) error {
	updates, err := p.electrs.FetchUpdates(ctx, p.lastHeight)
	if err != nil {
		return err
	}

	for _, u := range updates {
		switch {
		case u.IsAddBlock():
			if err := p.processor.ProcessBlock(u.Block); err != nil {
				return fmt.Errorf("source: process block %d: %w", u.Block.Height, err)
			}
			p.lastHeight, p.lastHash = u.Block.Height, u.Block.Hash

		case u.IsRemoveBlock():
			newHeight := u.Height - 1
			if err := p.rollback.Rollback(newHeight); err != nil {
				return fmt.Errorf("source: rollback to %d: %w", newHeight, err)
			}
			p.events.PublishReorg(p.lastHeight-newHeight, newHeight)
			p.lastHeight = newHeight

		case u.IsRemoveCachedBlock():
			// The upstream source buffered this block but the indexer
			// never committed it; nothing to undo locally.

		default:
			return fmt.Errorf("source: unhandled update kind %q", u.Kind)
		}
	}
	return nil
}
