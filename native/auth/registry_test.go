package auth_test

import (
	"errors"
	"testing"
	"time"

	"lendchain/core/events"
	"lendchain/core/state"
	"lendchain/native/auth"
	"lendchain/storage"
	statetrie "lendchain/storage/trie"
)

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(e events.Event) {
	c.events = append(c.events, e)
}

var (
	owner    = [20]byte{0x01}
	nonOwner = [20]byte{0x02}
	borrower = [20]byte{0xb1}
)

func newTestRegistry(t *testing.T) (*auth.Registry, *capturingEmitter) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := statetrie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("create trie: %v", err)
	}
	registry := auth.NewRegistry(state.NewManager(tr), owner, 1)
	emitter := &capturingEmitter{}
	registry.SetEmitter(emitter)
	registry.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return registry, emitter
}

func TestGrantAndRevoke(t *testing.T) {
	registry, emitter := newTestRegistry(t)

	ok, err := registry.IsAuthenticated(borrower)
	if err != nil || ok {
		t.Fatalf("expected unknown identity to be unauthenticated: ok=%v err=%v", ok, err)
	}
	if err := registry.Grant(owner, borrower); err != nil {
		t.Fatalf("grant: %v", err)
	}
	ok, err = registry.IsAuthenticated(borrower)
	if err != nil || !ok {
		t.Fatalf("expected authenticated: ok=%v err=%v", ok, err)
	}
	verdict, err := registry.Verdict(borrower)
	if err != nil || verdict.UpdatedAt != 1_700_000_000 {
		t.Fatalf("unexpected verdict %+v err=%v", verdict, err)
	}
	if err := registry.Grant(owner, borrower); !errors.Is(err, auth.ErrAlreadyGranted) {
		t.Fatalf("expected ErrAlreadyGranted, got %v", err)
	}
	if err := registry.Revoke(owner, borrower); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := registry.Revoke(owner, borrower); !errors.Is(err, auth.ErrNotGranted) {
		t.Fatalf("expected ErrNotGranted, got %v", err)
	}
	ok, _ = registry.IsAuthenticated(borrower)
	if ok {
		t.Fatalf("expected revoked identity to be unauthenticated")
	}

	if len(emitter.events) != 2 {
		t.Fatalf("expected two events, got %d", len(emitter.events))
	}
	if _, ok := emitter.events[0].(events.AuthGranted); !ok {
		t.Fatalf("unexpected first event %#v", emitter.events[0])
	}
	if _, ok := emitter.events[1].(events.AuthRevoked); !ok {
		t.Fatalf("unexpected second event %#v", emitter.events[1])
	}
}

func TestGrantRequiresAdministrator(t *testing.T) {
	registry, emitter := newTestRegistry(t)

	if err := registry.Grant(nonOwner, borrower); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := registry.Revoke(nonOwner, borrower); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := registry.Grant(owner, [20]byte{}); !errors.Is(err, auth.ErrZeroID) {
		t.Fatalf("expected ErrZeroID, got %v", err)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("failed calls must not emit")
	}
}
