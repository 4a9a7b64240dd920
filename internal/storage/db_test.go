package storage

import (
	"bytes"
	"testing"
)

// testDB runs the shared test suite against a DB implementation.
func testDB(t *testing.T, db DB) {
	t.Helper()

	t.Run("PutAndGet", func(t *testing.T) {
		err := db.Put([]byte("key1"), []byte("value1"))
		if err != nil {
			t.Fatalf("Put() error: %v", err)
		}

		val, err := db.Get([]byte("key1"))
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if !bytes.Equal(val, []byte("value1")) {
			t.Errorf("Get() = %q, want %q", val, "value1")
		}
	})

	t.Run("GetNonexistent", func(t *testing.T) {
		_, err := db.Get([]byte("nonexistent"))
		if err == nil {
			t.Error("Get() for missing key should return error")
		}
	})

	t.Run("Has", func(t *testing.T) {
		db.Put([]byte("exists"), []byte("yes"))

		ok, err := db.Has([]byte("exists"))
		if err != nil {
			t.Fatalf("Has() error: %v", err)
		}
		if !ok {
			t.Error("Has() = false for existing key")
		}

		ok, err = db.Has([]byte("missing"))
		if err != nil {
			t.Fatalf("Has() error: %v", err)
		}
		if ok {
			t.Error("Has() = true for missing key")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		db.Put([]byte("ow"), []byte("first"))
		db.Put([]byte("ow"), []byte("second"))

		val, err := db.Get([]byte("ow"))
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if !bytes.Equal(val, []byte("second")) {
			t.Errorf("Get() after overwrite = %q, want %q", val, "second")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		db.Put([]byte("del"), []byte("value"))

		err := db.Delete([]byte("del"))
		if err != nil {
			t.Fatalf("Delete() error: %v", err)
		}

		ok, _ := db.Has([]byte("del"))
		if ok {
			t.Error("key should be gone after Delete()")
		}

		_, err = db.Get([]byte("del"))
		if err == nil {
			t.Error("Get() after Delete() should return error")
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		// Deleting a nonexistent key should not error.
		err := db.Delete([]byte("never-existed"))
		if err != nil {
			t.Errorf("Delete() nonexistent key error: %v", err)
		}
	})

	t.Run("EmptyValue", func(t *testing.T) {
		err := db.Put([]byte("empty"), []byte{})
		if err != nil {
			t.Fatalf("Put() empty value error: %v", err)
		}

		val, err := db.Get([]byte("empty"))
		if err != nil {
			t.Fatalf("Get() empty value error: %v", err)
		}
		if len(val) != 0 {
			t.Errorf("expected empty value, got %d bytes", len(val))
		}
	})

	t.Run("BinaryData", func(t *testing.T) {
		key := []byte{0x00, 0x01, 0xFF}
		value := make([]byte, 256)
		for i := range value {
			value[i] = byte(i)
		}

		err := db.Put(key, value)
		if err != nil {
			t.Fatalf("Put() binary error: %v", err)
		}

		got, err := db.Get(key)
		if err != nil {
			t.Fatalf("Get() binary error: %v", err)
		}
		if !bytes.Equal(got, value) {
			t.Error("binary roundtrip failed")
		}
	})

	t.Run("ForEach", func(t *testing.T) {
		db.Put([]byte("prefix/a"), []byte("1"))
		db.Put([]byte("prefix/b"), []byte("2"))
		db.Put([]byte("prefix/c"), []byte("3"))
		db.Put([]byte("other/x"), []byte("4"))

		var count int
		err := db.ForEach([]byte("prefix/"), func(key, value []byte) error {
			count++
			return nil
		})
		if err != nil {
			t.Fatalf("ForEach() error: %v", err)
		}
		if count != 3 {
			t.Errorf("ForEach(prefix/) count = %d, want 3", count)
		}
	})

	t.Run("ForEachEmpty", func(t *testing.T) {
		var count int
		err := db.ForEach([]byte("nonexistent/"), func(key, value []byte) error {
			count++
			return nil
		})
		if err != nil {
			t.Fatalf("ForEach() error: %v", err)
		}
		if count != 0 {
			t.Errorf("ForEach(nonexistent/) count = %d, want 0", count)
		}
	})

	t.Run("MultiGet", func(t *testing.T) {
		db.Put([]byte("mg/a"), []byte("1"))
		db.Put([]byte("mg/b"), []byte("2"))

		vals, err := db.MultiGet([][]byte{[]byte("mg/a"), []byte("mg/missing"), []byte("mg/b")})
		if err != nil {
			t.Fatalf("MultiGet() error: %v", err)
		}
		if len(vals) != 3 {
			t.Fatalf("MultiGet() len = %d, want 3", len(vals))
		}
		if !bytes.Equal(vals[0], []byte("1")) || !bytes.Equal(vals[2], []byte("2")) {
			t.Error("MultiGet() returned wrong values")
		}
		if vals[1] != nil {
			t.Error("MultiGet() missing key should be nil, not error")
		}
	})

	t.Run("RangeScanForward", func(t *testing.T) {
		db.Put([]byte("rs/1"), []byte("a"))
		db.Put([]byte("rs/2"), []byte("b"))
		db.Put([]byte("rs/3"), []byte("c"))

		var got []string
		err := db.RangeScan(Range{Lo: []byte("rs/1"), Hi: []byte("rs/3")}, Forward, func(key, value []byte) error {
			got = append(got, string(value))
			return nil
		})
		if err != nil {
			t.Fatalf("RangeScan() error: %v", err)
		}
		if len(got) != 3 || got[0] != "a" || got[2] != "c" {
			t.Errorf("RangeScan forward = %v, want [a b c]", got)
		}
	})

	t.Run("RangeScanReverse", func(t *testing.T) {
		db.Put([]byte("rv/1"), []byte("a"))
		db.Put([]byte("rv/2"), []byte("b"))
		db.Put([]byte("rv/3"), []byte("c"))

		var got []string
		err := db.RangeScan(Range{Lo: []byte("rv/1"), Hi: []byte("rv/3")}, Reverse, func(key, value []byte) error {
			got = append(got, string(value))
			return nil
		})
		if err != nil {
			t.Fatalf("RangeScan() error: %v", err)
		}
		if len(got) != 3 || got[0] != "c" || got[2] != "a" {
			t.Errorf("RangeScan reverse = %v, want [c b a]", got)
		}
	})

	t.Run("RangeScanExclusiveBounds", func(t *testing.T) {
		db.Put([]byte("ex/1"), []byte("a"))
		db.Put([]byte("ex/2"), []byte("b"))
		db.Put([]byte("ex/3"), []byte("c"))

		var count int
		err := db.RangeScan(Range{Lo: []byte("ex/1"), LoExclusive: true, Hi: []byte("ex/3"), HiExclusive: true}, Forward, func(key, value []byte) error {
			count++
			return nil
		})
		if err != nil {
			t.Fatalf("RangeScan() error: %v", err)
		}
		if count != 1 {
			t.Errorf("RangeScan exclusive bounds count = %d, want 1", count)
		}
	})

	t.Run("BatchCommit", func(t *testing.T) {
		db.Put([]byte("batch/keep"), []byte("keep"))
		db.Put([]byte("batch/gone"), []byte("gone"))

		b := db.NewBatch()
		if err := b.Put([]byte("batch/new"), []byte("new")); err != nil {
			t.Fatalf("Batch.Put() error: %v", err)
		}
		if err := b.Delete([]byte("batch/gone")); err != nil {
			t.Fatalf("Batch.Delete() error: %v", err)
		}
		if err := b.Commit(); err != nil {
			t.Fatalf("Batch.Commit() error: %v", err)
		}

		if v, err := db.Get([]byte("batch/new")); err != nil || string(v) != "new" {
			t.Errorf("batch Put not applied: v=%q err=%v", v, err)
		}
		if ok, _ := db.Has([]byte("batch/gone")); ok {
			t.Error("batch Delete not applied")
		}
		if v, err := db.Get([]byte("batch/keep")); err != nil || string(v) != "keep" {
			t.Errorf("untouched key corrupted: v=%q err=%v", v, err)
		}
	})
}

func TestMemoryDB(t *testing.T) {
	db := NewMemory()
	defer db.Close()
	testDB(t, db)
}

func TestBadgerDB(t *testing.T) {
	dir := t.TempDir()
	db, err := NewBadger(dir)
	if err != nil {
		t.Fatalf("NewBadger() error: %v", err)
	}
	defer db.Close()
	testDB(t, db)
}

func TestBadgerDB_Persistence(t *testing.T) {
	dir := t.TempDir()

	// Write data.
	db1, err := NewBadger(dir)
	if err != nil {
		t.Fatalf("NewBadger() error: %v", err)
	}
	db1.Put([]byte("persist"), []byte("data"))
	db1.Close()

	// Reopen and read.
	db2, err := NewBadger(dir)
	if err != nil {
		t.Fatalf("NewBadger() reopen error: %v", err)
	}
	defer db2.Close()

	val, err := db2.Get([]byte("persist"))
	if err != nil {
		t.Fatalf("Get() after reopen error: %v", err)
	}
	if !bytes.Equal(val, []byte("data")) {
		t.Errorf("persisted value = %q, want %q", val, "data")
	}
}
