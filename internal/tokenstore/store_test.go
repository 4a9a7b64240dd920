package tokenstore

import (
	"errors"
	"testing"

	"github.com/choosenname/bel-20-indexer/internal/domain"
	"github.com/choosenname/bel-20-indexer/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(storage.NewMemory())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestTokenMeta_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	tick := domain.LowerCaseTick("test")

	if _, err := s.GetTokenMeta(tick); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetTokenMeta before put: err = %v, want ErrNotFound", err)
	}

	max, _ := domain.ParseFixed128Strict("1000")
	meta := TokenMeta{Tick: domain.TokenTick("tEst"), Max: max, Lim: max, Dec: 18, Height: 100}
	if err := s.PutTokenMeta(tick, meta); err != nil {
		t.Fatalf("PutTokenMeta: %v", err)
	}

	got, err := s.GetTokenMeta(tick)
	if err != nil {
		t.Fatalf("GetTokenMeta: %v", err)
	}
	if got.Tick != meta.Tick || got.Max.Cmp(meta.Max) != 0 || got.Height != meta.Height {
		t.Errorf("got %+v, want %+v", got, meta)
	}

	if err := s.DeleteTokenMeta(tick); err != nil {
		t.Fatalf("DeleteTokenMeta: %v", err)
	}
	if _, err := s.GetTokenMeta(tick); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTokenMeta after delete: err = %v, want ErrNotFound", err)
	}
}

func TestForEachTokenMeta_WalksEveryDeployedToken(t *testing.T) {
	s := newTestStore(t)
	max, _ := domain.ParseFixed128Strict("1000")

	ticks := []domain.LowerCaseTick{"aaaa", "bbbb", "cccc"}
	for _, tick := range ticks {
		meta := TokenMeta{Tick: domain.TokenTick(tick), Max: max, Lim: max, Dec: 18}
		if err := s.PutTokenMeta(tick, meta); err != nil {
			t.Fatalf("PutTokenMeta(%s): %v", tick, err)
		}
	}

	seen := map[string]bool{}
	if err := s.ForEachTokenMeta(func(meta TokenMeta) error {
		seen[string(meta.Tick)] = true
		return nil
	}); err != nil {
		t.Fatalf("ForEachTokenMeta: %v", err)
	}

	if len(seen) != len(ticks) {
		t.Fatalf("saw %d tokens, want %d: %v", len(seen), len(ticks), seen)
	}
	for _, tick := range ticks {
		if !seen[string(tick)] {
			t.Errorf("missing tick %q in ForEachTokenMeta walk", tick)
		}
	}
}

func TestBalance_ZeroValueWhenAbsent(t *testing.T) {
	s := newTestStore(t)
	owner := domain.HashScript([]byte("owner-a"))
	bal, err := s.GetBalance(owner, "test")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !bal.Balance.IsZero() {
		t.Errorf("balance = %v, want zero", bal.Balance)
	}

	amt, _ := domain.ParseFixed128Strict("42")
	want := Balance{Balance: amt, TransferableBalance: amt, TransfersCount: 1}
	if err := s.PutBalance(owner, "test", want); err != nil {
		t.Fatalf("PutBalance: %v", err)
	}
	got, err := s.GetBalance(owner, "test")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if got.Balance.Cmp(want.Balance) != 0 || got.TransfersCount != want.TransfersCount {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestForEachBalance_WalksEveryTickForOwner(t *testing.T) {
	s := newTestStore(t)
	owner := domain.HashScript([]byte("owner-d"))
	other := domain.HashScript([]byte("owner-e"))
	amt, _ := domain.ParseFixed128Strict("7")

	if err := s.PutBalance(owner, "aaaa", Balance{Balance: amt}); err != nil {
		t.Fatalf("PutBalance: %v", err)
	}
	if err := s.PutBalance(owner, "bbbb", Balance{Balance: amt}); err != nil {
		t.Fatalf("PutBalance: %v", err)
	}
	if err := s.PutBalance(other, "cccc", Balance{Balance: amt}); err != nil {
		t.Fatalf("PutBalance: %v", err)
	}

	seen := map[domain.LowerCaseTick]bool{}
	if err := s.ForEachBalance(owner, func(tick domain.LowerCaseTick, bal Balance) error {
		seen[tick] = true
		if bal.Balance.Cmp(amt) != 0 {
			t.Errorf("balance for %s = %v, want %v", tick, bal.Balance, amt)
		}
		return nil
	}); err != nil {
		t.Fatalf("ForEachBalance: %v", err)
	}
	if len(seen) != 2 || !seen["aaaa"] || !seen["bbbb"] {
		t.Fatalf("seen = %v, want {aaaa, bbbb}", seen)
	}
}

func TestActiveTransfer_ForEachByOwner(t *testing.T) {
	s := newTestStore(t)
	owner := domain.HashScript([]byte("owner-b"))
	amt, _ := domain.ParseFixed128Strict("10")

	locs := []domain.Location{
		{Outpoint: domain.Outpoint{TxID: domain.TxHash{1}, Vout: 0}, Offset: 0},
		{Outpoint: domain.Outpoint{TxID: domain.TxHash{2}, Vout: 1}, Offset: 5},
	}
	for _, loc := range locs {
		at := ActiveTransfer{Owner: owner, Tick: "test", Amt: amt, Height: 10}
		if err := s.PutActiveTransfer(loc, at); err != nil {
			t.Fatalf("PutActiveTransfer: %v", err)
		}
	}

	seen := 0
	err := s.ForEachActiveTransfer(owner, func(loc domain.Location, at ActiveTransfer) error {
		seen++
		if at.Tick != "test" {
			t.Errorf("tick = %q", at.Tick)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachActiveTransfer: %v", err)
	}
	if seen != len(locs) {
		t.Errorf("saw %d active transfers, want %d", seen, len(locs))
	}

	if err := s.DeleteActiveTransfer(owner, locs[0]); err != nil {
		t.Fatalf("DeleteActiveTransfer: %v", err)
	}
	if _, err := s.GetActiveTransfer(locs[0]); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestHistory_AppendAndBlockEventOrdering(t *testing.T) {
	s := newTestStore(t)
	owner := domain.HashScript([]byte("owner-c"))
	amt, _ := domain.ParseFixed128Strict("5")

	for i := uint64(1); i <= 3; i++ {
		row := HistoryRow{ID: i, Tick: "test", Height: 200, Type: ActionMint, Amount: &amt}.WithOwner(owner)
		produced := domain.Outpoint{TxID: domain.TxHash{byte(i)}, Vout: 0}
		if err := s.AppendHistory(row, 200, produced); err != nil {
			t.Fatalf("AppendHistory(%d): %v", i, err)
		}
	}

	keys, err := s.BlockEventKeys(200)
	if err != nil {
		t.Fatalf("BlockEventKeys: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("len(keys) = %d, want 3", len(keys))
	}
	for i, key := range keys {
		row, err := s.HistoryRowByKey(key)
		if err != nil {
			t.Fatalf("HistoryRowByKey(%d): %v", i, err)
		}
		if row.ID != uint64(i+1) {
			t.Errorf("row %d has ID %d, want %d", i, row.ID, i+1)
		}
	}

	// Outpoint index resolves a produced outpoint back to its row.
	produced := domain.Outpoint{TxID: domain.TxHash{1}, Vout: 0}
	key, err := s.HistoryKeyByOutpoint(produced)
	if err != nil {
		t.Fatalf("HistoryKeyByOutpoint: %v", err)
	}
	row, err := s.HistoryRowByKey(key)
	if err != nil {
		t.Fatalf("HistoryRowByKey: %v", err)
	}
	if row.ID != 1 {
		t.Errorf("ID = %d, want 1", row.ID)
	}
}

func TestForEachHistoryByTxID_WalksRowsTouchingThatTransaction(t *testing.T) {
	s := newTestStore(t)
	amt, _ := domain.ParseFixed128Strict("5")
	txid := domain.TxHash{0xAB}
	other := domain.TxHash{0xCD}

	owner1 := domain.HashScript([]byte("owner-x"))
	owner2 := domain.HashScript([]byte("owner-y"))

	rows := []HistoryRow{
		{ID: 1, Tick: "test", Height: 10, Type: ActionMint, Amount: &amt, TxID: txid.String(), Vout: 0}.WithOwner(owner1),
		{ID: 2, Tick: "test", Height: 10, Type: ActionSend, Amount: &amt, TxID: txid.String(), Vout: 1}.WithOwner(owner1),
		{ID: 3, Tick: "test", Height: 10, Type: ActionMint, Amount: &amt, TxID: other.String(), Vout: 0}.WithOwner(owner2),
	}
	for _, row := range rows {
		if err := s.AppendHistory(row, 10, domain.Outpoint{}); err != nil {
			t.Fatalf("AppendHistory(%d): %v", row.ID, err)
		}
	}

	var seen []uint64
	if err := s.ForEachHistoryByTxID(txid, func(row HistoryRow) error {
		seen = append(seen, row.ID)
		return nil
	}); err != nil {
		t.Fatalf("ForEachHistoryByTxID: %v", err)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("seen = %v, want [1 2]", seen)
	}

	if err := s.DeleteHistory(owner1, "test", 1); err != nil {
		t.Fatalf("DeleteHistory: %v", err)
	}
	seen = nil
	if err := s.ForEachHistoryByTxID(txid, func(row HistoryRow) error {
		seen = append(seen, row.ID)
		return nil
	}); err != nil {
		t.Fatalf("ForEachHistoryByTxID after delete: %v", err)
	}
	if len(seen) != 1 || seen[0] != 2 {
		t.Fatalf("seen after delete = %v, want [2]", seen)
	}
}

func TestHistoryPageByOwnerTick_DescendingWithCursor(t *testing.T) {
	s := newTestStore(t)
	owner := domain.HashScript([]byte("owner-page"))
	amt, _ := domain.ParseFixed128Strict("1")

	for i := uint64(1); i <= 5; i++ {
		row := HistoryRow{ID: i, Tick: "test", Height: 50, Type: ActionMint, Amount: &amt}.WithOwner(owner)
		if err := s.AppendHistory(row, 50, domain.Outpoint{}); err != nil {
			t.Fatalf("AppendHistory(%d): %v", i, err)
		}
	}

	page, err := s.HistoryPageByOwnerTick(owner, "test", 0, 2)
	if err != nil {
		t.Fatalf("HistoryPageByOwnerTick: %v", err)
	}
	if len(page) != 2 || page[0].ID != 5 || page[1].ID != 4 {
		t.Fatalf("first page = %+v, want ids [5 4]", page)
	}

	next, err := s.HistoryPageByOwnerTick(owner, "test", page[len(page)-1].ID, 2)
	if err != nil {
		t.Fatalf("HistoryPageByOwnerTick (cursor): %v", err)
	}
	if len(next) != 2 || next[0].ID != 3 || next[1].ID != 2 {
		t.Fatalf("second page = %+v, want ids [3 2]", next)
	}

	last, err := s.HistoryPageByOwnerTick(owner, "test", next[len(next)-1].ID, 2)
	if err != nil {
		t.Fatalf("HistoryPageByOwnerTick (final): %v", err)
	}
	if len(last) != 1 || last[0].ID != 1 {
		t.Fatalf("final page = %+v, want ids [1]", last)
	}
}

func TestBlockHashAndProofOfHistory(t *testing.T) {
	s := newTestStore(t)
	hash := domain.TxHash{9, 9, 9}
	if err := s.PutBlockHash(500, hash); err != nil {
		t.Fatalf("PutBlockHash: %v", err)
	}
	got, err := s.GetBlockHash(500)
	if err != nil {
		t.Fatalf("GetBlockHash: %v", err)
	}
	if got != hash {
		t.Errorf("got %x, want %x", got, hash)
	}

	var poh [32]byte
	poh[0] = 7
	if err := s.PutProofOfHistory(500, poh); err != nil {
		t.Fatalf("PutProofOfHistory: %v", err)
	}
	gotPoh, err := s.GetProofOfHistory(500)
	if err != nil {
		t.Fatalf("GetProofOfHistory: %v", err)
	}
	if gotPoh != poh {
		t.Errorf("got %x, want %x", gotPoh, poh)
	}

	if _, err := s.GetBlockHash(501); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetBlockHash(501) err = %v, want ErrNotFound", err)
	}
}

func TestResolveAddress_CachesAndPersists(t *testing.T) {
	s := newTestStore(t)
	owner := domain.HashScript([]byte("owner-d"))
	calls := 0
	resolve := func() (string, error) {
		calls++
		return "addr-display", nil
	}

	got, err := s.ResolveAddress(owner, resolve)
	if err != nil {
		t.Fatalf("ResolveAddress: %v", err)
	}
	if got != "addr-display" || calls != 1 {
		t.Fatalf("got %q, calls=%d", got, calls)
	}

	got2, err := s.ResolveAddress(owner, resolve)
	if err != nil {
		t.Fatalf("ResolveAddress (cached): %v", err)
	}
	if got2 != "addr-display" || calls != 1 {
		t.Errorf("resolve should not be invoked again: calls=%d", calls)
	}
}

func TestGetResolvedAddress_NeverCallsResolve(t *testing.T) {
	s := newTestStore(t)
	owner := domain.HashScript([]byte("owner-unresolved"))

	if _, err := s.GetResolvedAddress(owner); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetResolvedAddress on unresolved owner: err = %v, want ErrNotFound", err)
	}

	if _, err := s.ResolveAddress(owner, func() (string, error) { return "addr-display", nil }); err != nil {
		t.Fatalf("ResolveAddress: %v", err)
	}

	got, err := s.GetResolvedAddress(owner)
	if err != nil {
		t.Fatalf("GetResolvedAddress: %v", err)
	}
	if got != "addr-display" {
		t.Fatalf("got %q, want addr-display", got)
	}
}

func TestForEachResolvedAddress_WalksEveryPersistedAddress(t *testing.T) {
	s := newTestStore(t)
	owners := []domain.FullHash{
		domain.HashScript([]byte("owner-f")),
		domain.HashScript([]byte("owner-g")),
	}
	for i, owner := range owners {
		display := "addr-" + string(rune('a'+i))
		if _, err := s.ResolveAddress(owner, func() (string, error) { return display, nil }); err != nil {
			t.Fatalf("ResolveAddress: %v", err)
		}
	}

	seen := map[string]bool{}
	if err := s.ForEachResolvedAddress(func(addr string) error {
		seen[addr] = true
		return nil
	}); err != nil {
		t.Fatalf("ForEachResolvedAddress: %v", err)
	}
	if len(seen) != 2 || !seen["addr-a"] || !seen["addr-b"] {
		t.Fatalf("seen = %v, want {addr-a, addr-b}", seen)
	}
}

func TestLastBlockAndLastHistoryID(t *testing.T) {
	s := newTestStore(t)
	if _, ok, err := s.LastBlock(); err != nil || ok {
		t.Fatalf("LastBlock on fresh store: ok=%v err=%v", ok, err)
	}
	if err := s.PutLastBlock(12345); err != nil {
		t.Fatalf("PutLastBlock: %v", err)
	}
	height, ok, err := s.LastBlock()
	if err != nil || !ok || height != 12345 {
		t.Fatalf("LastBlock = %d, %v, %v", height, ok, err)
	}

	if id, err := s.LastHistoryID(); err != nil || id != 0 {
		t.Fatalf("LastHistoryID fresh: %d, %v", id, err)
	}
	if err := s.PutLastHistoryID(99); err != nil {
		t.Fatalf("PutLastHistoryID: %v", err)
	}
	if id, err := s.LastHistoryID(); err != nil || id != 99 {
		t.Fatalf("LastHistoryID = %d, %v", id, err)
	}
}

func TestWriteBatch_CommitsAtomically(t *testing.T) {
	s := newTestStore(t)
	owner := domain.HashScript([]byte("owner-e"))
	max, _ := domain.ParseFixed128Strict("1000")
	amt, _ := domain.ParseFixed128Strict("50")

	wb := s.NewWriteBatch()
	if err := wb.PutTokenMeta("test", TokenMeta{Tick: "tEst", Max: max, Lim: max, Dec: 18}); err != nil {
		t.Fatalf("PutTokenMeta: %v", err)
	}
	if err := wb.PutBalance(owner, "test", Balance{Balance: amt}); err != nil {
		t.Fatalf("PutBalance: %v", err)
	}
	if err := wb.PutLastBlock(7); err != nil {
		t.Fatalf("PutLastBlock: %v", err)
	}
	if err := wb.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, err := s.GetTokenMeta("test"); err != nil {
		t.Errorf("GetTokenMeta after batch commit: %v", err)
	}
	if bal, err := s.GetBalance(owner, "test"); err != nil || bal.Balance.Cmp(amt) != 0 {
		t.Errorf("GetBalance after batch commit: %+v, %v", bal, err)
	}
	if height, ok, err := s.LastBlock(); err != nil || !ok || height != 7 {
		t.Errorf("LastBlock after batch commit: %d, %v, %v", height, ok, err)
	}
}
