package storage

import (
	"fmt"
	"testing"
)

func TestPrefixDB_Isolation(t *testing.T) {
	inner := NewMemory()
	dbA := NewPrefixDB(inner, []byte("a/"))
	dbB := NewPrefixDB(inner, []byte("b/"))

	dbA.Put([]byte("key"), []byte("fromA"))
	dbB.Put([]byte("key"), []byte("fromB"))

	if got, _ := dbA.Get([]byte("key")); string(got) != "fromA" {
		t.Fatalf("A.Get = %q, want fromA", got)
	}
	if got, _ := dbB.Get([]byte("key")); string(got) != "fromB" {
		t.Fatalf("B.Get = %q, want fromB", got)
	}
	if ok, _ := dbA.Has([]byte("b/key")); ok {
		t.Fatal("A should not see B's raw key")
	}
	if got, _ := inner.Get([]byte("a/key")); string(got) != "fromA" {
		t.Fatalf("inner.Get(a/key) = %q, want fromA", got)
	}
}

func TestPrefixDB_ForEachStripsPrefix(t *testing.T) {
	db := NewPrefixDB(NewMemory(), []byte("txhash/"))
	db.Put([]byte("user:1"), []byte("a"))
	db.Put([]byte("user:2"), []byte("b"))
	db.Put([]byte("user-email:x@y.z"), []byte("c"))

	var keys []string
	err := db.ForEach([]byte("user:"), func(key, _ []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if len(keys) != 2 || keys[0] != "user:1" || keys[1] != "user:2" {
		t.Fatalf("ForEach keys = %v, want [user:1 user:2]", keys)
	}
}

func TestPrefixDB_ForEachStopEarly(t *testing.T) {
	db := NewPrefixDB(NewMemory(), []byte("p/"))
	for i := 0; i < 10; i++ {
		db.Put([]byte(fmt.Sprintf("k%d", i)), []byte("v"))
	}

	count := 0
	stopErr := fmt.Errorf("stop")
	err := db.ForEach(nil, func(key, value []byte) error {
		count++
		if count >= 3 {
			return stopErr
		}
		return nil
	})
	if err != stopErr {
		t.Fatalf("ForEach err = %v, want stopErr", err)
	}
	if count != 3 {
		t.Fatalf("ForEach called %d times, want 3", count)
	}
}

func TestPrefixDB_WrapSharesCommit(t *testing.T) {
	inner := NewMemory()
	dbA := NewPrefixDB(inner, []byte("a/"))
	dbB := NewPrefixDB(inner, []byte("b/"))

	b := inner.NewBatch()
	dbA.Wrap(b).Put([]byte("k"), []byte("1"))
	dbB.Wrap(b).Put([]byte("k"), []byte("2"))
	if b.Len() != 2 {
		t.Fatalf("Len = %d, want 2", b.Len())
	}
	if err := b.Commit(); err != nil {
		t.Fatal(err)
	}
	if got, _ := dbB.Get([]byte("k")); string(got) != "2" {
		t.Fatalf("B.Get = %q, want 2", got)
	}
}

func TestPrefixEnd(t *testing.T) {
	tests := []struct {
		in, want []byte
	}{
		{[]byte("block/"), []byte("block0")},
		{[]byte{0x01, 0xff}, []byte{0x02}},
		{[]byte{0xff, 0xff}, nil},
	}
	for _, tt := range tests {
		if got := prefixEnd(tt.in); string(got) != string(tt.want) || (got == nil) != (tt.want == nil) {
			t.Errorf("prefixEnd(%x) = %x, want %x", tt.in, got, tt.want)
		}
	}
}
