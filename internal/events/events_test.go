package events

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/choosenname/bel-20-indexer/internal/domain"
	"github.com/choosenname/bel-20-indexer/internal/tokenstore"
)

type stubWatermark struct {
	height uint32
	ok     bool
}

func (w stubWatermark) LastBlock() (uint32, bool, error) { return w.height, w.ok, nil }

func recvWithin(t *testing.T, ch <-chan ServerEvent, d time.Duration) (ServerEvent, bool) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		return ev, ok
	case <-time.After(d):
		return ServerEvent{}, false
	}
}

func TestBroadcaster_PublishBlockDeliversImmediately(t *testing.T) {
	b := New(stubWatermark{ok: true, height: 0})
	defer b.Stop()
	sub, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.PublishBlock(5, [32]byte{1}, domain.TxHash{2})

	ev, ok := recvWithin(t, sub.Events, time.Second)
	if !ok {
		t.Fatalf("no event received")
	}
	if ev.Kind != KindNewBlock || ev.Block == nil || ev.Block.Height != 5 {
		t.Fatalf("event = %+v, want NewBlock at height 5", ev)
	}
}

func TestBroadcaster_PublishHistoryWaitsForWatermarkThenDelivers(t *testing.T) {
	wm := &adjustableWatermark{}
	b := New(wm)
	defer b.Stop()
	sub, unsubscribe := b.Subscribe()
	defer unsubscribe()

	row := tokenstore.HistoryRow{ID: 1, Tick: "test", Height: 3, Type: tokenstore.ActionMint}
	b.PublishHistory([]tokenstore.HistoryRow{row})

	if _, ok := recvWithin(t, sub.Events, 150*time.Millisecond); ok {
		t.Fatalf("history delivered before watermark caught up")
	}

	wm.set(3)

	ev, ok := recvWithin(t, sub.Events, 2*time.Second)
	if !ok {
		t.Fatalf("history not delivered after watermark caught up")
	}
	if ev.Kind != KindNewHistory || ev.History == nil || ev.History.ID != 1 {
		t.Fatalf("event = %+v, want NewHistory row id 1", ev)
	}
}

func TestBroadcaster_LaggedSubscriberIsDisconnected(t *testing.T) {
	b := New(stubWatermark{ok: true, height: 0})
	defer b.Stop()
	sub, _ := b.Subscribe()

	for i := 0; i < Capacity+10; i++ {
		b.PublishBlock(uint32(i), [32]byte{}, domain.TxHash{})
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("lagging subscriber was never disconnected")
		}
	}
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := New(stubWatermark{ok: true, height: 0})
	defer b.Stop()
	sub, unsubscribe := b.Subscribe()
	unsubscribe()

	if _, ok := <-sub.Events; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
}

type adjustableWatermark struct {
	height atomic.Uint32
	ready  atomic.Bool
}

func (w *adjustableWatermark) set(height uint32) {
	w.height.Store(height)
	w.ready.Store(true)
}

func (w *adjustableWatermark) LastBlock() (uint32, bool, error) {
	return w.height.Load(), w.ready.Load(), nil
}
