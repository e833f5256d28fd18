package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/triedb"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Database is the key-value store backing a registry's state trie. Put/Get
// address the raw store and are used for bookkeeping such as committed roots;
// trie nodes go through TrieDB.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	TrieDB() *triedb.Database
	Close()
}

type database struct {
	disk   ethdb.Database
	trieDB *triedb.Database
	once   sync.Once
}

func wrap(disk ethdb.Database) *database {
	return &database{
		disk:   disk,
		trieDB: triedb.NewDatabase(disk, triedb.HashDefaults),
	}
}

func (db *database) Put(key []byte, value []byte) error {
	return db.disk.Put(key, value)
}

func (db *database) Get(key []byte) ([]byte, error) {
	has, err := db.disk.Has(key)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, ErrNotFound
	}
	return db.disk.Get(key)
}

func (db *database) TrieDB() *triedb.Database {
	return db.trieDB
}

func (db *database) Close() {
	db.once.Do(func() {
		_ = db.trieDB.Close()
		_ = db.disk.Close()
	})
}

// --- In-Memory DB (for testing) ---

// MemDB keeps all state in memory. Contents are lost on Close.
type MemDB struct {
	*database
}

func NewMemDB() *MemDB {
	return &MemDB{database: wrap(rawdb.NewMemoryDatabase())}
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	*database
	path string
}

const (
	levelDBCacheMB = 16
	levelDBHandles = 16
)

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	kv, err := leveldb.New(path, levelDBCacheMB, levelDBHandles, "", false)
	if err != nil {
		return nil, fmt.Errorf("storage: open leveldb %s: %w", path, err)
	}
	return &LevelDB{database: wrap(rawdb.NewDatabase(kv)), path: path}, nil
}

// Path returns the directory the database was opened from.
func (ldb *LevelDB) Path() string {
	return ldb.path
}
