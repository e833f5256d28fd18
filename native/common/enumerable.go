package common

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrDuplicateKey    = errors.New("enumerable: duplicate key")
	ErrNotFound        = errors.New("enumerable: not found")
	ErrIndexOutOfRange = errors.New("enumerable: index out of range")
)

// KVStore is the slice of the state manager an Enumerable needs.
type KVStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type entryRecord[V any] struct {
	Index uint64
	Value V
}

// Enumerable maps unique keys to values and remembers insertion order so
// entries can be fetched by position. Entries are never removed, so an
// entry's index is fixed once assigned.
//
// Layout under prefix:
//
//	<prefix>/entry/<key>   -> {index, value}
//	<prefix>/index/<u64be> -> key
//	<prefix>/size          -> count
//
// Enumerable does no locking; callers serialize writes.
type Enumerable[V any] struct {
	st     KVStore
	prefix string
}

// NewEnumerable returns an enumerable stored under prefix in st.
func NewEnumerable[V any](st KVStore, prefix string) *Enumerable[V] {
	return &Enumerable[V]{st: st, prefix: prefix}
}

func (e *Enumerable[V]) entryKey(key []byte) []byte {
	buf := make([]byte, 0, len(e.prefix)+len("/entry/")+len(key))
	buf = append(buf, e.prefix...)
	buf = append(buf, "/entry/"...)
	return append(buf, key...)
}

func (e *Enumerable[V]) indexKey(i uint64) []byte {
	buf := make([]byte, 0, len(e.prefix)+len("/index/")+8)
	buf = append(buf, e.prefix...)
	buf = append(buf, "/index/"...)
	return binary.BigEndian.AppendUint64(buf, i)
}

func (e *Enumerable[V]) sizeKey() []byte {
	return []byte(e.prefix + "/size")
}

// Size returns the number of entries.
func (e *Enumerable[V]) Size() (uint64, error) {
	var size uint64
	if _, err := e.st.KVGet(e.sizeKey(), &size); err != nil {
		return 0, err
	}
	return size, nil
}

// Has reports whether key is present.
func (e *Enumerable[V]) Has(key []byte) (bool, error) {
	return e.st.KVGet(e.entryKey(key), nil)
}

// Add stores value under a new key and assigns it the next index.
func (e *Enumerable[V]) Add(key []byte, value V) error {
	exists, err := e.Has(key)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateKey
	}
	size, err := e.Size()
	if err != nil {
		return err
	}
	if err := e.st.KVPut(e.entryKey(key), entryRecord[V]{Index: size, Value: value}); err != nil {
		return err
	}
	if err := e.st.KVPut(e.indexKey(size), append([]byte(nil), key...)); err != nil {
		return err
	}
	return e.st.KVPut(e.sizeKey(), size+1)
}

// Update replaces the value stored under an existing key, keeping its index.
func (e *Enumerable[V]) Update(key []byte, value V) error {
	record := new(entryRecord[V])
	found, err := e.st.KVGet(e.entryKey(key), record)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	record.Value = value
	return e.st.KVPut(e.entryKey(key), record)
}

// Get returns the value stored under key.
func (e *Enumerable[V]) Get(key []byte) (V, error) {
	var zero V
	record := new(entryRecord[V])
	found, err := e.st.KVGet(e.entryKey(key), record)
	if err != nil {
		return zero, err
	}
	if !found {
		return zero, ErrNotFound
	}
	return record.Value, nil
}

// KeyAt returns the key inserted at position i.
func (e *Enumerable[V]) KeyAt(i uint64) ([]byte, error) {
	size, err := e.Size()
	if err != nil {
		return nil, err
	}
	if i >= size {
		return nil, ErrIndexOutOfRange
	}
	var key []byte
	found, err := e.st.KVGet(e.indexKey(i), &key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("enumerable: %s index %d missing", e.prefix, i)
	}
	return key, nil
}

// GetByIndex returns the value inserted at position i.
func (e *Enumerable[V]) GetByIndex(i uint64) (V, error) {
	var zero V
	key, err := e.KeyAt(i)
	if err != nil {
		return zero, err
	}
	value, err := e.Get(key)
	if errors.Is(err, ErrNotFound) {
		return zero, fmt.Errorf("enumerable: %s entry for index %d missing", e.prefix, i)
	}
	return value, err
}

// Keys returns every key in insertion order.
func (e *Enumerable[V]) Keys() ([][]byte, error) {
	size, err := e.Size()
	if err != nil {
		return nil, err
	}
	keys := make([][]byte, 0, size)
	for i := uint64(0); i < size; i++ {
		key, err := e.KeyAt(i)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}
