// Package events fans out block and history updates to SSE subscribers. A
// bounded channel per subscriber carries ServerEvent values; a subscriber
// that can't keep up is disconnected rather than allowed to stall the
// broadcaster. History rows are resolved to display addresses by the
// pipeline before they ever reach this package, but they still pass
// through an unbounded queue gated on a height watermark so a publisher
// that races ahead of a slower store replica can't broadcast a row before
// it is durable.
package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/choosenname/bel-20-indexer/internal/domain"
	"github.com/choosenname/bel-20-indexer/internal/log"
	"github.com/choosenname/bel-20-indexer/internal/tokenstore"
)

// Capacity bounds each subscriber's channel. A subscriber that falls this
// far behind is disconnected rather than slowing the broadcaster down.
const Capacity = 30_000

// WatermarkWait bounds how long the history worker waits for the store's
// last-block cursor to reach a batch's height before giving up and
// broadcasting anyway.
const WatermarkWait = 10 * time.Second

// Kind tags which field of ServerEvent is populated.
type Kind string

const (
	KindNewHistory Kind = "new_history"
	KindNewBlock   Kind = "new_block"
	KindReorg      Kind = "reorg"
)

// BlockEvent is the payload of a NewBlock ServerEvent.
type BlockEvent struct {
	Height    uint32        `json:"height"`
	POH       [32]byte      `json:"poh"`
	BlockHash domain.TxHash `json:"block_hash"`
}

// ReorgEvent is the payload of a Reorg ServerEvent.
type ReorgEvent struct {
	BlockCount uint32 `json:"block_count"`
	NewHeight  uint32 `json:"new_height"`
}

// ServerEvent is the tagged union broadcast to every subscriber.
type ServerEvent struct {
	Kind    Kind                    `json:"kind"`
	History *tokenstore.HistoryRow `json:"history,omitempty"`
	Block   *BlockEvent             `json:"block,omitempty"`
	Reorg   *ReorgEvent             `json:"reorg,omitempty"`
}

// Watermark reports how far the store has actually persisted, so the
// history worker knows when a batch is safe to broadcast.
type Watermark interface {
	LastBlock() (uint32, bool, error)
}

type subscriber struct {
	id     uuid.UUID
	ch     chan ServerEvent
	lagged atomic.Uint64
}

// Subscription is a live SSE connection's view of the broadcaster.
type Subscription struct {
	ID     uuid.UUID
	Events <-chan ServerEvent
}

// Broadcaster is the single process-wide fan-out point. It satisfies
// pipeline.Events directly.
type Broadcaster struct {
	watermark Watermark

	mu   sync.RWMutex
	subs map[uuid.UUID]*subscriber

	queueMu   sync.Mutex
	queueCond *sync.Cond
	queue     [][]tokenstore.HistoryRow
	closed    bool
}

// New builds a Broadcaster and starts its background history-resolution
// worker. watermark is consulted before a queued history batch is
// broadcast. Stop must be called to shut the worker down cleanly.
func New(watermark Watermark) *Broadcaster {
	b := &Broadcaster{
		watermark: watermark,
		subs:      make(map[uuid.UUID]*subscriber),
	}
	b.queueCond = sync.NewCond(&b.queueMu)
	go b.resolveLoop()
	return b
}

// Subscribe registers a new subscriber and returns its event channel and
// an unsubscribe function. The returned channel is closed once
// Unsubscribe is called or the subscriber is dropped for lagging.
func (b *Broadcaster) Subscribe() (Subscription, func()) {
	sub := &subscriber{id: uuid.New(), ch: make(chan ServerEvent, Capacity)}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	unsubscribe := func() { b.drop(sub.id) }
	return Subscription{ID: sub.id, Events: sub.ch}, unsubscribe
}

func (b *Broadcaster) drop(id uuid.UUID) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// broadcast delivers ev to every subscriber without blocking. A
// subscriber whose buffer is full is disconnected; its dropped-message
// count is logged as its lagged signal.
func (b *Broadcaster) broadcast(ev ServerEvent) {
	b.mu.RLock()
	var stale []*subscriber
	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.lagged.Add(1)
			stale = append(stale, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range stale {
		log.Events.Warn().Str("subscriber", sub.id.String()).Uint64("lagged", sub.lagged.Load()).Msg("subscriber lagged, disconnecting")
		b.drop(sub.id)
	}
}

// PublishBlock broadcasts a NewBlock event immediately. It satisfies
// pipeline.Events.
func (b *Broadcaster) PublishBlock(height uint32, poh [32]byte, blockHash domain.TxHash) {
	b.broadcast(ServerEvent{Kind: KindNewBlock, Block: &BlockEvent{Height: height, POH: poh, BlockHash: blockHash}})
}

// PublishHistory queues rows for the resolution worker. It satisfies
// pipeline.Events.
func (b *Broadcaster) PublishHistory(rows []tokenstore.HistoryRow) {
	if len(rows) == 0 {
		return
	}
	b.queueMu.Lock()
	b.queue = append(b.queue, rows)
	b.queueCond.Signal()
	b.queueMu.Unlock()
}

// PublishReorg broadcasts a Reorg event. Called by the source adapter
// once a rollback has been applied.
func (b *Broadcaster) PublishReorg(blockCount, newHeight uint32) {
	b.broadcast(ServerEvent{Kind: KindReorg, Reorg: &ReorgEvent{BlockCount: blockCount, NewHeight: newHeight}})
}

// Stop shuts the resolution worker down and closes every subscriber
// channel.
func (b *Broadcaster) Stop() {
	b.queueMu.Lock()
	b.closed = true
	b.queueCond.Broadcast()
	b.queueMu.Unlock()

	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uuid.UUID]*subscriber)
	b.mu.Unlock()
	for _, sub := range subs {
		close(sub.ch)
	}
}

// popBatch blocks until a batch is queued or Stop is called.
func (b *Broadcaster) popBatch() ([]tokenstore.HistoryRow, bool) {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	for len(b.queue) == 0 && !b.closed {
		b.queueCond.Wait()
	}
	if len(b.queue) == 0 {
		return nil, false
	}
	batch := b.queue[0]
	b.queue = b.queue[1:]
	return batch, true
}

// resolveLoop drains the history queue, waits for the watermark, then
// broadcasts one NewHistory event per row.
func (b *Broadcaster) resolveLoop() {
	for {
		batch, ok := b.popBatch()
		if !ok {
			return
		}
		b.awaitWatermark(batch)
		for i := range batch {
			row := batch[i]
			b.broadcast(ServerEvent{Kind: KindNewHistory, History: &row})
		}
	}
}

// awaitWatermark waits until the store's last-processed height reaches
// the batch's height, retrying at a fixed interval for up to
// WatermarkWait before giving up and broadcasting anyway.
func (b *Broadcaster) awaitWatermark(batch []tokenstore.HistoryRow) {
	if b.watermark == nil || len(batch) == 0 {
		return
	}
	target := batch[len(batch)-1].Height

	ctx, cancel := context.WithTimeout(context.Background(), WatermarkWait)
	defer cancel()

	bo := backoff.WithContext(backoff.NewConstantBackOff(100*time.Millisecond), ctx)
	err := backoff.Retry(func() error {
		height, ok, err := b.watermark.LastBlock()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok || height < target {
			return errNotCaughtUp
		}
		return nil
	}, bo)
	if err != nil {
		log.Events.Warn().Uint32("height", target).Err(err).Msg("watermark wait exceeded, broadcasting anyway")
	}
}

var errNotCaughtUp = errors.New("events: store has not reached the target height yet")
