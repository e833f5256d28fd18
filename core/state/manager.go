package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"lendchain/storage"
	"lendchain/storage/trie"
)

// Manager provides keyed, RLP-encoded reads and writes over a registry's state
// trie. Writes stay pending until Commit; Revert drops them.
type Manager struct {
	name string
	trie *trie.Trie
}

// NewManager creates a state manager operating on the provided trie. Managers
// built this way do not persist their root between restarts.
func NewManager(tr *trie.Trie) *Manager {
	return &Manager{trie: tr}
}

func rootKey(name string) []byte {
	return []byte("state/root/" + name)
}

// Open loads the named state from db, resuming from the last committed root
// when one was recorded.
func Open(db storage.Database, name string) (*Manager, error) {
	if name == "" {
		return nil, fmt.Errorf("state: name must not be empty")
	}
	var root []byte
	stored, err := db.Get(rootKey(name))
	switch {
	case err == nil:
		root = stored
	case errors.Is(err, storage.ErrNotFound):
	default:
		return nil, fmt.Errorf("state: load root for %s: %w", name, err)
	}
	tr, err := trie.NewTrie(db, root)
	if err != nil {
		return nil, fmt.Errorf("state: open %s: %w", name, err)
	}
	return &Manager{name: name, trie: tr}, nil
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// KVPut stores the RLP encoding of value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.trie.Update(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.trie.Get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVAppend appends value to the byte slice list stored under key. Duplicate
// values are ignored.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, err := m.trie.Get(hashed)
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return m.trie.Update(hashed, encoded)
}

// KVGetList decodes the list stored under key into out, which must be a
// pointer to a slice. Missing keys yield an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.trie.Get(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

// Commit persists pending writes and returns the new root. Named managers
// also record the root so Open can resume from it.
func (m *Manager) Commit() (common.Hash, error) {
	root, err := m.trie.Commit()
	if err != nil {
		return common.Hash{}, err
	}
	if m.name != "" {
		if err := m.trie.Store().Put(rootKey(m.name), root.Bytes()); err != nil {
			return common.Hash{}, fmt.Errorf("state: record root for %s: %w", m.name, err)
		}
	}
	return root, nil
}

// Revert discards every write since the last Commit.
func (m *Manager) Revert() error {
	return m.trie.Reset(m.trie.Root())
}

// Apply runs fn and commits its writes when it succeeds. Any error from fn
// reverts the pending writes so the call leaves no trace in state.
func (m *Manager) Apply(fn func() error) error {
	if err := fn(); err != nil {
		if rerr := m.Revert(); rerr != nil {
			return errors.Join(err, fmt.Errorf("state: revert: %w", rerr))
		}
		return err
	}
	if _, err := m.Commit(); err != nil {
		if rerr := m.Revert(); rerr != nil {
			return errors.Join(err, fmt.Errorf("state: revert: %w", rerr))
		}
		return err
	}
	return nil
}

// Root returns the last committed root.
func (m *Manager) Root() common.Hash {
	return m.trie.Root()
}

// Name returns the name the manager was opened with.
func (m *Manager) Name() string {
	return m.name
}
