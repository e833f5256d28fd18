package common

import (
	"bytes"
	"errors"
	"testing"

	"lendchain/core/state"
	"lendchain/storage"
	statetrie "lendchain/storage/trie"
)

type testValue struct {
	Name string
	At   uint64
}

func newTestState(t *testing.T) *state.Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := statetrie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("new trie: %v", err)
	}
	return state.NewManager(tr)
}

func TestEnumerableAddGetOrder(t *testing.T) {
	e := NewEnumerable[testValue](newTestState(t), "apps")

	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	for i, k := range keys {
		if err := e.Add(k, testValue{Name: string(k), At: uint64(i)}); err != nil {
			t.Fatalf("add %s: %v", k, err)
		}
	}
	size, err := e.Size()
	if err != nil || size != 3 {
		t.Fatalf("unexpected size %d err=%v", size, err)
	}
	for i := range keys {
		v, err := e.GetByIndex(uint64(i))
		if err != nil {
			t.Fatalf("get by index %d: %v", i, err)
		}
		if v.Name != string(keys[i]) {
			t.Fatalf("index %d: got %q", i, v.Name)
		}
	}
	if _, err := e.GetByIndex(3); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
	got, err := e.Keys()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	for i := range keys {
		if !bytes.Equal(got[i], keys[i]) {
			t.Fatalf("keys out of order: %q", got)
		}
	}
}

func TestEnumerableDuplicateAndMissing(t *testing.T) {
	e := NewEnumerable[testValue](newTestState(t), "apps")

	if err := e.Add([]byte("a"), testValue{Name: "first"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := e.Add([]byte("a"), testValue{Name: "second"}); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	v, err := e.Get([]byte("a"))
	if err != nil || v.Name != "first" {
		t.Fatalf("duplicate add changed value: %+v err=%v", v, err)
	}
	if size, _ := e.Size(); size != 1 {
		t.Fatalf("duplicate add changed size: %d", size)
	}
	if _, err := e.Get([]byte("z")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := e.Update([]byte("z"), testValue{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestEnumerableUpdateKeepsIndex(t *testing.T) {
	e := NewEnumerable[testValue](newTestState(t), "apps")
	for _, k := range []string{"a", "b"} {
		if err := e.Add([]byte(k), testValue{Name: k}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := e.Update([]byte("a"), testValue{Name: "renamed"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	v, err := e.GetByIndex(0)
	if err != nil || v.Name != "renamed" {
		t.Fatalf("unexpected value at index 0: %+v err=%v", v, err)
	}
	if size, _ := e.Size(); size != 2 {
		t.Fatalf("update changed size: %d", size)
	}
}

func TestEnumerablePrefixesAreIsolated(t *testing.T) {
	st := newTestState(t)
	left := NewEnumerable[uint64](st, "byApp/1")
	right := NewEnumerable[uint64](st, "byApp/2")

	if err := left.Add([]byte("x"), 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	if has, _ := right.Has([]byte("x")); has {
		t.Fatalf("prefixes leaked")
	}
	if size, _ := right.Size(); size != 0 {
		t.Fatalf("unexpected size for isolated prefix: %d", size)
	}
}
