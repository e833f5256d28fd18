package rpc

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"lendchain/crypto"
)

const (
	// HeaderTimestamp is the unix timestamp (seconds) used when signing the request.
	HeaderTimestamp = "X-Timestamp"
	// HeaderNonce provides replay protection when combined with the timestamp.
	HeaderNonce = "X-Nonce"
	// HeaderSignature carries the 0x-hex secp256k1 signature over RequestDigest.
	HeaderSignature = "X-Signature"

	maxAllowedTimestampSkew  = 10 * time.Minute
	defaultTimestampSkew     = 2 * time.Minute
	maxNonceWindow           = time.Hour
	defaultNonceWindow       = 10 * time.Minute
	defaultNonceCapacity     = 4096
	maxNonceCapacity         = 65536
	maxNonceLength           = 128
	persistencePruneInterval = time.Minute
)

var (
	ErrIncompleteSignature = errors.New("rpc: X-Timestamp, X-Nonce and X-Signature must be sent together")
	ErrTimestampSkew       = errors.New("rpc: timestamp outside allowed skew")
	ErrNonceReused         = errors.New("rpc: nonce already used")
	ErrNonceCapacity       = errors.New("rpc: nonce cache full")
)

// RequestDigest is the message a caller signs to authenticate a JSON-RPC
// request: keccak256(method \n timestamp \n nonce \n keccak256(body)) under
// the personal-message prefix.
func RequestDigest(method, timestamp, nonce string, body []byte) []byte {
	inner := ethcrypto.Keccak256(
		[]byte(method), []byte("\n"),
		[]byte(timestamp), []byte("\n"),
		[]byte(nonce), []byte("\n"),
		ethcrypto.Keccak256(body),
	)
	return accounts.TextHash(inner)
}

// SignRequest sets the authentication headers on req for the given method
// and body.
func SignRequest(req *http.Request, key *crypto.PrivateKey, method string, body []byte, now time.Time, nonce string) error {
	timestamp := strconv.FormatInt(now.Unix(), 10)
	sig, err := crypto.SignDigest(key, RequestDigest(method, timestamp, nonce, body))
	if err != nil {
		return err
	}
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, encodeHex(sig))
	return nil
}

// NonceRecord captures persisted nonce usage metadata.
type NonceRecord struct {
	Caller     string
	Timestamp  string
	Nonce      string
	ObservedAt time.Time
}

// NoncePersistence provides durable storage for caller nonce usage.
type NoncePersistence interface {
	EnsureNonce(ctx context.Context, record NonceRecord) (bool, error)
	RecentNonces(ctx context.Context, cutoff time.Time) ([]NonceRecord, error)
	PruneNonces(ctx context.Context, cutoff time.Time) error
}

// Authenticator recovers the caller identity from signed requests and
// rejects replays.
type Authenticator struct {
	allowedTimestampSkew time.Duration
	nonceTTL             time.Duration
	nowFn                func() time.Time
	nonces               *nonceStore

	persistMu   sync.Mutex
	persistence NoncePersistence
	lastPruned  time.Time
}

func NewAuthenticator(skew, nonceTTL time.Duration, nonceCapacity int, nowFn func() time.Time, persistence NoncePersistence) *Authenticator {
	if nowFn == nil {
		nowFn = time.Now
	}
	if skew <= 0 {
		skew = defaultTimestampSkew
	}
	if skew > maxAllowedTimestampSkew {
		skew = maxAllowedTimestampSkew
	}
	if nonceTTL <= 0 {
		nonceTTL = defaultNonceWindow
	}
	if nonceTTL > maxNonceWindow {
		nonceTTL = maxNonceWindow
	}
	if nonceTTL < skew {
		nonceTTL = skew
	}
	return &Authenticator{
		allowedTimestampSkew: skew,
		nonceTTL:             nonceTTL,
		nowFn:                nowFn,
		nonces:               newNonceStore(nonceTTL, nonceCapacity),
		persistence:          persistence,
	}
}

// Authenticate returns the identity that signed the request. Requests that
// carry none of the authentication headers yield signed == false and no
// error; the caller decides whether the method allows that.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request, method string, body []byte) (caller [20]byte, signed bool, err error) {
	timestampHeader := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	providedSig := strings.TrimSpace(r.Header.Get(HeaderSignature))
	if timestampHeader == "" && nonce == "" && providedSig == "" {
		return caller, false, nil
	}
	if timestampHeader == "" || nonce == "" || providedSig == "" {
		return caller, false, ErrIncompleteSignature
	}
	if len(nonce) > maxNonceLength {
		return caller, false, fmt.Errorf("nonce exceeds %d characters", maxNonceLength)
	}
	ts, err := parseUnixTimestamp(timestampHeader)
	if err != nil {
		return caller, false, fmt.Errorf("invalid timestamp: %w", err)
	}
	now := a.nowFn().UTC()
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > a.allowedTimestampSkew {
		return caller, false, fmt.Errorf("%w of %s", ErrTimestampSkew, a.allowedTimestampSkew)
	}
	sig, err := decodeHex(providedSig)
	if err != nil {
		return caller, false, fmt.Errorf("invalid signature encoding: %w", err)
	}
	caller, err = crypto.Recover(RequestDigest(method, timestampHeader, nonce, body), sig)
	if err != nil {
		return [20]byte{}, false, err
	}
	duplicate, err := a.registerNonce(ctx, crypto.FormatIdentity(caller), timestampHeader, nonce, now)
	if err != nil {
		return [20]byte{}, false, err
	}
	if duplicate {
		return [20]byte{}, false, ErrNonceReused
	}
	return caller, true, nil
}

// HydrateNonces warms the in-memory cache with persisted nonce usage records.
func (a *Authenticator) HydrateNonces(ctx context.Context, cutoff time.Time) error {
	if a == nil || a.persistence == nil {
		return nil
	}
	records, err := a.persistence.RecentNonces(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("load persistent nonces: %w", err)
	}
	for _, rec := range records {
		if rec.Caller == "" || rec.Timestamp == "" || rec.Nonce == "" {
			continue
		}
		observed := rec.ObservedAt
		if observed.IsZero() {
			observed = cutoff
		}
		a.nonces.Add(compositeKey(rec.Caller, rec.Timestamp, rec.Nonce), observed)
	}
	return nil
}

func (a *Authenticator) registerNonce(ctx context.Context, caller, timestamp, nonce string, now time.Time) (bool, error) {
	composite := compositeKey(caller, timestamp, nonce)
	if a.nonces.Contains(composite, now) {
		return true, nil
	}
	if a.persistence != nil {
		if err := a.prunePersistent(ctx, now); err != nil {
			return false, err
		}
		existed, err := a.persistence.EnsureNonce(ctx, NonceRecord{
			Caller:     caller,
			Timestamp:  timestamp,
			Nonce:      nonce,
			ObservedAt: now,
		})
		if err != nil {
			return false, fmt.Errorf("persist nonce: %w", err)
		}
		if existed {
			a.nonces.Add(composite, now)
			return true, nil
		}
	}
	return a.nonces.Seen(composite, now)
}

func (a *Authenticator) prunePersistent(ctx context.Context, now time.Time) error {
	a.persistMu.Lock()
	defer a.persistMu.Unlock()
	if !a.lastPruned.IsZero() && now.Sub(a.lastPruned) < persistencePruneInterval {
		return nil
	}
	if err := a.persistence.PruneNonces(ctx, now.Add(-a.nonceTTL)); err != nil {
		return fmt.Errorf("prune persistent nonces: %w", err)
	}
	a.lastPruned = now
	return nil
}

func compositeKey(caller, timestamp, nonce string) string {
	return strings.Join([]string{caller, timestamp, nonce}, "|")
}

func parseUnixTimestamp(v string) (time.Time, error) {
	secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}

type nonceStore struct {
	ttl      time.Duration
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
}

type nonceEntry struct {
	key string
	ts  time.Time
}

func newNonceStore(ttl time.Duration, capacity int) *nonceStore {
	if capacity <= 0 {
		capacity = defaultNonceCapacity
	}
	if capacity > maxNonceCapacity {
		capacity = maxNonceCapacity
	}
	return &nonceStore{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Seen reports whether key was already observed within the TTL and records it
// when it was not. Live entries are never evicted to make room, so a store
// full of them returns ErrNonceCapacity until the oldest expire.
func (n *nonceStore) Seen(key string, now time.Time) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.evictExpired(now.Add(-n.ttl))
	if _, exists := n.entries[key]; exists {
		return true, nil
	}
	if !n.insertLocked(key, now) {
		return false, ErrNonceCapacity
	}
	return false, nil
}

// Contains reports whether the nonce has been observed without recording it.
func (n *nonceStore) Contains(key string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.evictExpired(now.Add(-n.ttl))
	_, exists := n.entries[key]
	return exists
}

// Add records key without checking for reuse. It reports false when the
// store is full of live entries.
func (n *nonceStore) Add(key string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.evictExpired(now.Add(-n.ttl))
	return n.insertLocked(key, now)
}

func (n *nonceStore) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.order.Len()
}

func (n *nonceStore) insertLocked(key string, now time.Time) bool {
	if elem, exists := n.entries[key]; exists {
		elem.Value = nonceEntry{key: key, ts: now}
		n.order.MoveToBack(elem)
		return true
	}
	if n.order.Len() >= n.capacity {
		return false
	}
	n.entries[key] = n.order.PushBack(nonceEntry{key: key, ts: now})
	return true
}

func (n *nonceStore) evictExpired(cutoff time.Time) {
	for {
		front := n.order.Front()
		if front == nil {
			return
		}
		entry := front.Value.(nonceEntry)
		if !entry.ts.Before(cutoff) {
			return
		}
		n.order.Remove(front)
		delete(n.entries, entry.key)
	}
}

