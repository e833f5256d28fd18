package rpc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"lendchain/crypto"
)

func TestNonceStoreExpires(t *testing.T) {
	store := newNonceStore(time.Minute, 2)
	start := time.Unix(1_700_000_000, 0)

	if seen, err := store.Seen("a", start); err != nil || seen {
		t.Fatalf("first observation: seen=%v err=%v", seen, err)
	}
	if seen, err := store.Seen("a", start.Add(time.Second)); err != nil || !seen {
		t.Fatalf("repeat observation not detected: seen=%v err=%v", seen, err)
	}
	if seen, err := store.Seen("a", start.Add(2*time.Minute)); err != nil || seen {
		t.Fatalf("expired nonce still tracked: seen=%v err=%v", seen, err)
	}
}

func TestNonceStoreFullOfLiveEntriesRejects(t *testing.T) {
	store := newNonceStore(time.Minute, 2)
	start := time.Unix(1_700_000_000, 0)

	if !store.Add("a", start) || !store.Add("b", start.Add(time.Second)) {
		t.Fatalf("expected room for two nonces")
	}
	if _, err := store.Seen("c", start.Add(2*time.Second)); !errors.Is(err, ErrNonceCapacity) {
		t.Fatalf("expected ErrNonceCapacity, got %v", err)
	}
	if store.Add("c", start.Add(2*time.Second)) {
		t.Fatalf("add must not evict live nonces")
	}
	if store.Len() != 2 {
		t.Fatalf("expected capacity to bound the store, got %d", store.Len())
	}
	// The oldest nonce is still inside its window and must still be refused.
	if seen, err := store.Seen("a", start.Add(3*time.Second)); err != nil || !seen {
		t.Fatalf("live nonce dropped at capacity: seen=%v err=%v", seen, err)
	}

	// Once "a" expires its slot frees up.
	later := start.Add(time.Minute + 500*time.Millisecond)
	if seen, err := store.Seen("c", later); err != nil || seen {
		t.Fatalf("expected nonce accepted after expiry: seen=%v err=%v", seen, err)
	}
	if store.Contains("a", later) {
		t.Fatalf("expired nonce still tracked")
	}
}

func TestAuthenticatorRejectsWhenNonceCacheFull(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	authn := NewAuthenticator(time.Minute, time.Minute, 1, func() time.Time { return now }, nil)
	body := []byte(`{"method":"app_size"}`)

	sign := func(nonce string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if err := SignRequest(req, key, "app_size", body, now, nonce); err != nil {
			t.Fatalf("sign: %v", err)
		}
		return req
	}
	if _, _, err := authn.Authenticate(context.Background(), sign("n-1"), "app_size", body); err != nil {
		t.Fatalf("first request rejected: %v", err)
	}
	if _, signed, err := authn.Authenticate(context.Background(), sign("n-2"), "app_size", body); !errors.Is(err, ErrNonceCapacity) || signed {
		t.Fatalf("expected ErrNonceCapacity, got signed=%v err=%v", signed, err)
	}
	if _, _, err := authn.Authenticate(context.Background(), sign("n-1"), "app_size", body); !errors.Is(err, ErrNonceReused) {
		t.Fatalf("expected replay still rejected, got %v", err)
	}
}

func TestAuthenticatorUnsignedAndSigned(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	authn := NewAuthenticator(time.Minute, 5*time.Minute, 16, func() time.Time { return now }, nil)
	body := []byte(`{"method":"app_size"}`)

	unsigned := httptest.NewRequest(http.MethodPost, "/", nil)
	if _, signed, err := authn.Authenticate(context.Background(), unsigned, "app_size", body); err != nil || signed {
		t.Fatalf("unsigned request: signed=%v err=%v", signed, err)
	}

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if err := SignRequest(req, key, "app_size", body, now, "n-1"); err != nil {
		t.Fatalf("sign: %v", err)
	}
	caller, signed, err := authn.Authenticate(context.Background(), req, "app_size", body)
	if err != nil || !signed {
		t.Fatalf("signed request rejected: %v", err)
	}
	if caller != key.Identity() {
		t.Fatalf("recovered %s, want %s", crypto.FormatIdentity(caller), crypto.FormatIdentity(key.Identity()))
	}

	other := httptest.NewRequest(http.MethodPost, "/", nil)
	if err := SignRequest(other, key, "app_size", body, now, "n-2"); err != nil {
		t.Fatalf("sign: %v", err)
	}
	caller, _, err = authn.Authenticate(context.Background(), other, "app_ids", body)
	if err == nil && caller == key.Identity() {
		t.Fatalf("signature over one method must not authenticate another")
	}
}

func TestLevelDBNoncesSurviveRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonces")
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	body := []byte(`{}`)

	store, err := OpenLevelDBNonces(path)
	if err != nil {
		t.Fatalf("open nonce store: %v", err)
	}
	authn := NewAuthenticator(time.Minute, 5*time.Minute, 16, clock, store)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if err := SignRequest(req, key, "app_size", body, now, "persisted"); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, _, err := authn.Authenticate(context.Background(), req, "app_size", body); err != nil {
		t.Fatalf("first use: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenLevelDBNonces(path)
	if err != nil {
		t.Fatalf("reopen nonce store: %v", err)
	}
	defer reopened.Close()
	records, err := reopened.RecentNonces(context.Background(), now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("recent nonces: %v", err)
	}
	if len(records) != 1 || records[0].Nonce != "persisted" {
		t.Fatalf("unexpected records %+v", records)
	}

	restarted := NewAuthenticator(time.Minute, 5*time.Minute, 16, clock, reopened)
	if err := restarted.HydrateNonces(context.Background(), now.Add(-5*time.Minute)); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if _, _, err := restarted.Authenticate(context.Background(), req, "app_size", body); err == nil {
		t.Fatalf("replay accepted after restart")
	}

	if err := reopened.PruneNonces(context.Background(), now.Add(time.Minute)); err != nil {
		t.Fatalf("prune: %v", err)
	}
	records, err = reopened.RecentNonces(context.Background(), time.Unix(0, 0))
	if err != nil {
		t.Fatalf("recent nonces after prune: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected pruned store, got %+v", records)
	}
}
