package rpc

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout:
//
//	u/<caller>|<timestamp>|<nonce>          -> observed unix nanos (8 bytes, big endian)
//	o/<observed nanos, 8 bytes>/<composite> -> empty
//
// The o/ index keeps entries ordered by observation time so hydration and
// pruning are range scans.
var (
	usedPrefix     = []byte("u/")
	observedPrefix = []byte("o/")
)

// LevelDBNonces persists request nonces so replays stay rejected across
// restarts.
type LevelDBNonces struct {
	db *leveldb.DB
}

var _ NoncePersistence = (*LevelDBNonces)(nil)

// OpenLevelDBNonces opens (or creates) the nonce database at path.
func OpenLevelDBNonces(path string) (*LevelDBNonces, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("rpc: nonce store path required")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("rpc: open nonce store %s: %w", path, err)
	}
	return &LevelDBNonces{db: db}, nil
}

func (p *LevelDBNonces) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func usedKey(composite string) []byte {
	return append(append([]byte{}, usedPrefix...), composite...)
}

func observedIndexKey(at time.Time, composite string) []byte {
	key := make([]byte, 0, len(observedPrefix)+9+len(composite))
	key = append(key, observedPrefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(at.UnixNano()))
	key = append(key, '/')
	return append(key, composite...)
}

func splitObservedIndexKey(key []byte) (time.Time, string, bool) {
	rest := bytes.TrimPrefix(key, observedPrefix)
	if len(rest) < 9 || rest[8] != '/' {
		return time.Time{}, "", false
	}
	nanos := int64(binary.BigEndian.Uint64(rest[:8]))
	return time.Unix(0, nanos).UTC(), string(rest[9:]), true
}

// EnsureNonce records a nonce usage and reports whether it was already
// present.
func (p *LevelDBNonces) EnsureNonce(_ context.Context, record NonceRecord) (bool, error) {
	if record.Caller == "" || record.Timestamp == "" || record.Nonce == "" {
		return false, fmt.Errorf("rpc: nonce record incomplete")
	}
	composite := compositeKey(record.Caller, record.Timestamp, record.Nonce)
	used := usedKey(composite)
	seen, err := p.db.Has(used, nil)
	if err != nil {
		return false, fmt.Errorf("rpc: look up nonce: %w", err)
	}
	if seen {
		return true, nil
	}

	observed := record.ObservedAt
	if observed.IsZero() {
		observed = time.Now()
	}
	batch := new(leveldb.Batch)
	batch.Put(used, binary.BigEndian.AppendUint64(nil, uint64(observed.UnixNano())))
	batch.Put(observedIndexKey(observed, composite), nil)
	if err := p.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("rpc: record nonce: %w", err)
	}
	return false, nil
}

// RecentNonces returns nonces observed at or after cutoff, oldest first.
func (p *LevelDBNonces) RecentNonces(ctx context.Context, cutoff time.Time) ([]NonceRecord, error) {
	rng := util.BytesPrefix(observedPrefix)
	rng.Start = observedIndexKey(clampEpoch(cutoff), "")
	iter := p.db.NewIterator(rng, nil)
	defer iter.Release()

	var records []NonceRecord
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		at, composite, ok := splitObservedIndexKey(iter.Key())
		if !ok {
			continue
		}
		fields := strings.SplitN(composite, "|", 3)
		if len(fields) != 3 {
			continue
		}
		records = append(records, NonceRecord{Caller: fields[0], Timestamp: fields[1], Nonce: fields[2], ObservedAt: at})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("rpc: scan nonces: %w", err)
	}
	return records, nil
}

// PruneNonces deletes entries observed before cutoff.
func (p *LevelDBNonces) PruneNonces(ctx context.Context, cutoff time.Time) error {
	rng := util.BytesPrefix(observedPrefix)
	rng.Limit = observedIndexKey(clampEpoch(cutoff), "")
	iter := p.db.NewIterator(rng, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, composite, ok := splitObservedIndexKey(iter.Key())
		if ok {
			batch.Delete(usedKey(composite))
		}
		batch.Delete(bytes.Clone(iter.Key()))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("rpc: scan nonces: %w", err)
	}
	if batch.Len() == 0 {
		return nil
	}
	return p.db.Write(batch, nil)
}

// clampEpoch maps times before the unix epoch onto it so index keys stay
// ordered.
func clampEpoch(t time.Time) time.Time {
	if t.Before(time.Unix(0, 0)) {
		return time.Unix(0, 0)
	}
	return t
}
