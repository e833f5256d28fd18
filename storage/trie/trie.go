package trie

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/trie/trienode"
	"github.com/ethereum/go-ethereum/triedb"

	"lendchain/storage"
)

// Trie wraps go-ethereum's Merkle Patricia trie. It remembers the last
// committed root so speculative writes can be discarded with Reset.
//
// Keys passed into Get/Update are expected to be hashed by the caller.
//
// go-ethereum's trie rewrites its root while resolving nodes on Get, so every
// call into it holds mu, including reads.
type Trie struct {
	mu      sync.Mutex
	store   storage.Database
	trieDB  *triedb.Database
	trie    *gethtrie.Trie
	root    common.Hash
	commits uint64
}

// NewTrie opens a trie backed by store at root. A nil or empty root denotes
// the empty trie.
func NewTrie(store storage.Database, root []byte) (*Trie, error) {
	trieDB := store.TrieDB()
	rootHash := gethtypes.EmptyRootHash
	if len(root) > 0 {
		rootHash = common.BytesToHash(root)
	}
	underlying, err := gethtrie.New(gethtrie.TrieID(rootHash), trieDB)
	if err != nil {
		return nil, err
	}
	return &Trie{
		store:  store,
		trieDB: trieDB,
		trie:   underlying,
		root:   rootHash,
	}, nil
}

// Get retrieves the value stored under key. Missing keys yield a nil slice.
func (t *Trie) Get(key []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trie.Get(key)
}

// Update inserts or replaces the value stored under key.
func (t *Trie) Update(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trie.Update(key, value)
}

// Hash returns the root hash including uncommitted mutations.
func (t *Trie) Hash() common.Hash {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trie.Hash()
}

// Root returns the last committed root hash.
func (t *Trie) Root() common.Hash {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root
}

// Reset discards in-memory changes and reopens the trie at root.
func (t *Trie) Reset(root common.Hash) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	underlying, err := gethtrie.New(gethtrie.TrieID(root), t.trieDB)
	if err != nil {
		return err
	}
	t.trie = underlying
	t.root = root
	return nil
}

// Commit flushes pending changes to the backing database and returns the new
// root. The wrapper reopens itself at the new root afterwards.
func (t *Trie) Commit() (common.Hash, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	parent := t.root
	newRoot, nodes := t.trie.Commit(false)
	if nodes != nil {
		merged := trienode.NewMergedNodeSet()
		if err := merged.Merge(nodes); err != nil {
			return common.Hash{}, err
		}
		t.commits++
		if err := t.trieDB.Update(newRoot, parent, t.commits, merged, nil); err != nil {
			return common.Hash{}, err
		}
		if err := t.trieDB.Commit(newRoot, false); err != nil {
			return common.Hash{}, err
		}
	}
	underlying, err := gethtrie.New(gethtrie.TrieID(newRoot), t.trieDB)
	if err != nil {
		return common.Hash{}, err
	}
	t.trie = underlying
	t.root = newRoot
	return newRoot, nil
}

// Store exposes the backing storage.
func (t *Trie) Store() storage.Database {
	return t.store
}
