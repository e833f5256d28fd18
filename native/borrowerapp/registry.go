package borrowerapp

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"golang.org/x/text/unicode/norm"

	"lendchain/core/events"
	"lendchain/crypto"
	nativecommon "lendchain/native/common"
)

const moduleName = "apps"

type registryState interface {
	nativecommon.KVStore
	Apply(fn func() error) error
	Root() ethcommon.Hash
}

// Registry keeps the administrator-curated set of borrower apps.
type Registry struct {
	mu      sync.RWMutex
	st      registryState
	apps    *nativecommon.Enumerable[App]
	admin   [20]byte
	version uint64
	address [20]byte
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() time.Time
}

// NewRegistry creates a registry administered by admin.
func NewRegistry(st registryState, admin [20]byte, version uint64) *Registry {
	return &Registry{
		st:      st,
		apps:    nativecommon.NewEnumerable[App](st, "apps"),
		admin:   admin,
		version: version,
		address: nativecommon.RegistryAddress(moduleName, admin, version),
		emitter: events.NoopEmitter{},
		nowFn:   time.Now,
	}
}

// SetEmitter configures the event emitter used to broadcast registry updates.
// Passing nil resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func (r *Registry) SetPauses(p nativecommon.PauseView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauses = p
}

// SetNowFunc overrides the clock used to stamp UpdatedAt.
func (r *Registry) SetNowFunc(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now == nil {
		r.nowFn = time.Now
		return
	}
	r.nowFn = now
}

// Admin returns the administrator fixed at construction.
func (r *Registry) Admin() [20]byte { return r.admin }

// Version returns the immutable registry version.
func (r *Registry) Version() uint64 { return r.version }

// Address returns the registry's own identity.
func (r *Registry) Address() [20]byte { return r.address }

// Root returns the committed state root.
func (r *Registry) Root() ethcommon.Hash {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.st.Root()
}

func (r *Registry) authorize(caller [20]byte) error {
	if caller != r.admin {
		return ErrUnauthorized
	}
	return nil
}

// normalizeName trims name and folds it to NFC so visually identical names
// store identically.
func normalizeName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", ErrBlankName
	}
	return norm.NFC.String(trimmed), nil
}

// Add registers a new borrower app.
func (r *Registry) Add(caller [20]byte, id [20]byte, name string) (*App, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := r.authorize(caller); err != nil {
		return nil, err
	}
	if id == ([20]byte{}) {
		return nil, ErrZeroID
	}
	normalized, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	app := App{ID: id, Name: normalized, UpdatedAt: uint64(r.nowFn().Unix())}
	err = r.st.Apply(func() error {
		return r.apps.Add(id[:], app)
	})
	if errors.Is(err, nativecommon.ErrDuplicateKey) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateApp, crypto.FormatIdentity(id))
	}
	if err != nil {
		return nil, err
	}
	r.emitter.Emit(events.AppAdded{ID: id})
	return &app, nil
}

// Update renames an existing app and refreshes its UpdatedAt.
func (r *Registry) Update(caller [20]byte, id [20]byte, name string) (*App, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := r.authorize(caller); err != nil {
		return nil, err
	}
	normalized, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	app := App{ID: id, Name: normalized, UpdatedAt: uint64(r.nowFn().Unix())}
	err = r.st.Apply(func() error {
		return r.apps.Update(id[:], app)
	})
	if errors.Is(err, nativecommon.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAppNotFound, crypto.FormatIdentity(id))
	}
	if err != nil {
		return nil, err
	}
	r.emitter.Emit(events.AppUpdated{ID: id, Name: normalized})
	return &app, nil
}

// Get returns the app registered under id.
func (r *Registry) Get(caller [20]byte, id [20]byte) (*App, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.authorize(caller); err != nil {
		return nil, err
	}
	app, err := r.apps.Get(id[:])
	if errors.Is(err, nativecommon.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAppNotFound, crypto.FormatIdentity(id))
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// GetByIndex returns the app registered at position index.
func (r *Registry) GetByIndex(caller [20]byte, index uint64) (*App, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.authorize(caller); err != nil {
		return nil, err
	}
	app, err := r.apps.GetByIndex(index)
	if errors.Is(err, nativecommon.ErrIndexOutOfRange) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// Size returns the number of registered apps.
func (r *Registry) Size(caller [20]byte) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.authorize(caller); err != nil {
		return 0, err
	}
	return r.apps.Size()
}

// IDs returns every app id in registration order.
func (r *Registry) IDs(caller [20]byte) ([][20]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.authorize(caller); err != nil {
		return nil, err
	}
	keys, err := r.apps.Keys()
	if err != nil {
		return nil, err
	}
	ids := make([][20]byte, len(keys))
	for i, key := range keys {
		copy(ids[i][:], key)
	}
	return ids, nil
}

// Contains reports whether id is a registered app. It is the capability
// dependent registries use to check callers and is not administrator-gated.
func (r *Registry) Contains(id [20]byte) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.apps.Has(id[:])
}
