package auth

import (
	"fmt"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"lendchain/core/events"
	"lendchain/crypto"
	nativecommon "lendchain/native/common"
)

const moduleName = "auth"

// Oracle answers whether an identity has passed authentication. The borrower
// registry consumes it; the KYC process that feeds it is external.
type Oracle interface {
	nativecommon.Addressed
	IsAuthenticated(id [20]byte) (bool, error)
}

// Verdict is the stored authentication outcome for one identity.
type Verdict struct {
	Authenticated bool
	UpdatedAt     uint64
}

type registryState interface {
	nativecommon.KVStore
	Apply(fn func() error) error
	Root() ethcommon.Hash
}

// Registry is an administrator-managed Oracle. The platform's KYC pipeline
// records verdicts through Grant and Revoke.
type Registry struct {
	mu      sync.RWMutex
	st      registryState
	admin   [20]byte
	version uint64
	address [20]byte
	emitter events.Emitter
	nowFn   func() time.Time
}

var _ Oracle = (*Registry)(nil)

func NewRegistry(st registryState, admin [20]byte, version uint64) *Registry {
	return &Registry{
		st:      st,
		admin:   admin,
		version: version,
		address: nativecommon.RegistryAddress(moduleName, admin, version),
		emitter: events.NoopEmitter{},
		nowFn:   time.Now,
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

func verdictKey(id [20]byte) []byte {
	return append([]byte("auth/verdict/"), id[:]...)
}

func (r *Registry) verdict(id [20]byte) (*Verdict, error) {
	v := new(Verdict)
	if _, err := r.st.KVGet(verdictKey(id), v); err != nil {
		return nil, err
	}
	return v, nil
}

func (r *Registry) set(caller, id [20]byte, authenticated bool) error {
	if caller != r.admin {
		return ErrUnauthorized
	}
	if id == ([20]byte{}) {
		return ErrZeroID
	}
	current, err := r.verdict(id)
	if err != nil {
		return err
	}
	if current.Authenticated == authenticated {
		if authenticated {
			return fmt.Errorf("%w: %s", ErrAlreadyGranted, crypto.FormatIdentity(id))
		}
		return fmt.Errorf("%w: %s", ErrNotGranted, crypto.FormatIdentity(id))
	}
	next := Verdict{Authenticated: authenticated, UpdatedAt: uint64(r.nowFn().Unix())}
	return r.st.Apply(func() error {
		return r.st.KVPut(verdictKey(id), next)
	})
}

// Grant marks id as authenticated.
func (r *Registry) Grant(caller, id [20]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.set(caller, id, true); err != nil {
		return err
	}
	r.emitter.Emit(events.AuthGranted{ID: id})
	return nil
}

// Revoke withdraws a previous Grant. Borrowers already registered stay
// registered.
func (r *Registry) Revoke(caller, id [20]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.set(caller, id, false); err != nil {
		return err
	}
	r.emitter.Emit(events.AuthRevoked{ID: id})
	return nil
}

// IsAuthenticated implements Oracle.
func (r *Registry) IsAuthenticated(id [20]byte) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, err := r.verdict(id)
	if err != nil {
		return false, err
	}
	return v.Authenticated, nil
}

// Verdict returns the stored verdict for id. Unknown identities yield an
// unauthenticated verdict with zero UpdatedAt.
func (r *Registry) Verdict(id [20]byte) (Verdict, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, err := r.verdict(id)
	if err != nil {
		return Verdict{}, err
	}
	return *v, nil
}
