package borrower

import (
	"errors"
	"fmt"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"lendchain/core/events"
	"lendchain/crypto"
	"lendchain/native/auth"
	nativecommon "lendchain/native/common"
)

const moduleName = "borrowers"

type registryState interface {
	nativecommon.KVStore
	Apply(fn func() error) error
	Root() ethcommon.Hash
}

// Registry records borrowers that consented to registration through an app
// and passed authentication.
type Registry struct {
	mu        sync.RWMutex
	st        registryState
	borrowers *nativecommon.Enumerable[Borrower]
	apps      *nativecommon.Reference[AppDirectory]
	oracle    *nativecommon.Reference[auth.Oracle]
	admin     [20]byte
	version   uint64
	address   [20]byte
	emitter   events.Emitter
	pauses    nativecommon.PauseView
	nowFn     func() time.Time
}

func NewRegistry(st registryState, admin [20]byte, version uint64) *Registry {
	return &Registry{
		st:        st,
		borrowers: nativecommon.NewEnumerable[Borrower](st, "borrowers"),
		apps:      nativecommon.NewReference[AppDirectory](st, RefApp),
		oracle:    nativecommon.NewReference[auth.Oracle](st, RefAuth),
		admin:     admin,
		version:   version,
		address:   nativecommon.RegistryAddress(moduleName, admin, version),
		emitter:   events.NoopEmitter{},
		nowFn:     time.Now,
	}
}

// SetEmitter configures the event emitter. Passing nil disables emission.
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

func (r *Registry) SetNowFunc(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now == nil {
		r.nowFn = time.Now
		return
	}
	r.nowFn = now
}

func (r *Registry) Admin() [20]byte { return r.admin }

func (r *Registry) Version() uint64 { return r.version }

func (r *Registry) Address() [20]byte { return r.address }

func (r *Registry) Root() ethcommon.Hash {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.st.Root()
}

// SetAppRegistry points the registry at the app directory used to check
// callers. It may be called again to replace the reference.
func (r *Registry) SetAppRegistry(caller [20]byte, apps AppDirectory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.admin {
		return ErrUnauthorized
	}
	if err := r.st.Apply(func() error { return r.apps.Record(apps) }); err != nil {
		return err
	}
	r.apps.Bind(apps)
	r.emitter.Emit(events.ReferenceSet{Registry: moduleName, Which: RefApp, Address: apps.Address()})
	return nil
}

// SetAuthOracle points the registry at the authentication oracle.
func (r *Registry) SetAuthOracle(caller [20]byte, oracle auth.Oracle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.admin {
		return ErrUnauthorized
	}
	if err := r.st.Apply(func() error { return r.oracle.Record(oracle) }); err != nil {
		return err
	}
	r.oracle.Bind(oracle)
	r.emitter.Emit(events.ReferenceSet{Registry: moduleName, Which: RefAuth, Address: oracle.Address()})
	return nil
}

// RestoreReferences rebinds collaborators recorded in state after a restart.
// References that were never set are left unset.
func (r *Registry) RestoreReferences(apps AppDirectory, oracle auth.Oracle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := restore(r.apps, apps); err != nil {
		return err
	}
	return restore(r.oracle, oracle)
}

func restore[T nativecommon.Addressed](ref *nativecommon.Reference[T], target T) error {
	recorded, err := ref.Address()
	if err != nil {
		return err
	}
	if recorded == ([20]byte{}) {
		return nil
	}
	return ref.Restore(target)
}

// AppRegistryAddress returns the configured app registry, or the zero address.
func (r *Registry) AppRegistryAddress() ([20]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.apps.Address()
}

// AuthOracleAddress returns the configured oracle, or the zero address.
func (r *Registry) AuthOracleAddress() ([20]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.oracle.Address()
}

// Add registers borrowerID on behalf of the calling app. signature must be
// the borrower's consent over crypto.ConsentDigest(caller, borrowerID).
func (r *Registry) Add(caller [20]byte, borrowerID [20]byte, signature []byte) (*Borrower, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return nil, err
	}
	apps, ok := r.apps.Get()
	if !ok {
		return nil, ErrAppContractNotSet
	}
	oracle, ok := r.oracle.Get()
	if !ok {
		return nil, ErrAuthContractNotSet
	}
	registered, err := apps.Contains(caller)
	if err != nil {
		return nil, err
	}
	if !registered {
		return nil, fmt.Errorf("%w: %s", ErrCallerNotRegisteredApp, crypto.FormatIdentity(caller))
	}
	authenticated, err := oracle.IsAuthenticated(borrowerID)
	if err != nil {
		return nil, err
	}
	if !authenticated {
		return nil, fmt.Errorf("%w: %s", ErrNotAuthenticated, crypto.FormatIdentity(borrowerID))
	}
	if err := crypto.VerifyConsent(caller, borrowerID, signature); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSignatureInvalid, crypto.FormatIdentity(borrowerID))
	}
	record := Borrower{ID: borrowerID, RegisteredBy: caller, RegisteredAt: uint64(r.nowFn().Unix())}
	err = r.st.Apply(func() error {
		return r.borrowers.Add(borrowerID[:], record)
	})
	if errors.Is(err, nativecommon.ErrDuplicateKey) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, crypto.FormatIdentity(borrowerID))
	}
	if err != nil {
		return nil, err
	}
	r.emitter.Emit(events.BorrowerAdded{ID: borrowerID})
	return &record, nil
}

// Get returns the borrower registered under id.
func (r *Registry) Get(caller [20]byte, id [20]byte) (*Borrower, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caller != r.admin {
		return nil, ErrUnauthorized
	}
	record, err := r.borrowers.Get(id[:])
	if errors.Is(err, nativecommon.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBorrowerNotFound, crypto.FormatIdentity(id))
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// GetByIndex returns the borrower registered at position index.
func (r *Registry) GetByIndex(caller [20]byte, index uint64) (*Borrower, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caller != r.admin {
		return nil, ErrUnauthorized
	}
	record, err := r.borrowers.GetByIndex(index)
	if errors.Is(err, nativecommon.ErrIndexOutOfRange) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *Registry) Size(caller [20]byte) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caller != r.admin {
		return 0, ErrUnauthorized
	}
	return r.borrowers.Size()
}

// IDs returns every borrower id in registration order.
func (r *Registry) IDs(caller [20]byte) ([][20]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caller != r.admin {
		return nil, ErrUnauthorized
	}
	keys, err := r.borrowers.Keys()
	if err != nil {
		return nil, err
	}
	ids := make([][20]byte, len(keys))
	for i, key := range keys {
		copy(ids[i][:], key)
	}
	return ids, nil
}

// Contains reports whether id is registered. The membership index uses it to
// check borrowers; it is not administrator-gated.
func (r *Registry) Contains(id [20]byte) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.borrowers.Has(id[:])
}
