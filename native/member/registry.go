package member

import (
	"errors"
	"fmt"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"lendchain/core/events"
	"lendchain/crypto"
	nativecommon "lendchain/native/common"
)

const moduleName = "members"

type registryState interface {
	nativecommon.KVStore
	Apply(fn func() error) error
	Root() ethcommon.Hash
}

// Index records which borrowers joined which apps. Every membership is
// reachable three ways: by insertion position, by app and by borrower.
type Index struct {
	mu        sync.RWMutex
	st        registryState
	members   *nativecommon.Enumerable[Membership]
	apps      *nativecommon.Reference[Directory]
	borrowers *nativecommon.Reference[Directory]
	admin     [20]byte
	version   uint64
	address   [20]byte
	emitter   events.Emitter
	pauses    nativecommon.PauseView
	nowFn     func() time.Time
}

func NewIndex(st registryState, admin [20]byte, version uint64) *Index {
	return &Index{
		st:        st,
		members:   nativecommon.NewEnumerable[Membership](st, "members"),
		apps:      nativecommon.NewReference[Directory](st, RefApp),
		borrowers: nativecommon.NewReference[Directory](st, RefBorrower),
		admin:     admin,
		version:   version,
		address:   nativecommon.RegistryAddress(moduleName, admin, version),
		emitter:   events.NoopEmitter{},
		nowFn:     time.Now,
	}
}

// SetEmitter configures the event emitter. Passing nil disables emission.
func (x *Index) SetEmitter(emitter events.Emitter) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if emitter == nil {
		x.emitter = events.NoopEmitter{}
		return
	}
	x.emitter = emitter
}

func (x *Index) SetPauses(p nativecommon.PauseView) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.pauses = p
}

func (x *Index) SetNowFunc(now func() time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if now == nil {
		x.nowFn = time.Now
		return
	}
	x.nowFn = now
}

func (x *Index) Admin() [20]byte { return x.admin }

func (x *Index) Version() uint64 { return x.version }

func (x *Index) Address() [20]byte { return x.address }

func (x *Index) Root() ethcommon.Hash {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.st.Root()
}

func (x *Index) setReference(caller [20]byte, ref *nativecommon.Reference[Directory], target Directory) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if caller != x.admin {
		return ErrUnauthorized
	}
	if err := x.st.Apply(func() error { return ref.Record(target) }); err != nil {
		return err
	}
	ref.Bind(target)
	x.emitter.Emit(events.ReferenceSet{Registry: moduleName, Which: ref.Which(), Address: target.Address()})
	return nil
}

// SetAppRegistry sets the app directory used to check callers.
func (x *Index) SetAppRegistry(caller [20]byte, apps Directory) error {
	return x.setReference(caller, x.apps, apps)
}

// SetBorrowerRegistry sets the borrower directory used to check borrowers.
func (x *Index) SetBorrowerRegistry(caller [20]byte, borrowers Directory) error {
	return x.setReference(caller, x.borrowers, borrowers)
}

// RestoreReferences rebinds collaborators recorded in state after a restart.
func (x *Index) RestoreReferences(apps, borrowers Directory) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, pair := range []struct {
		ref    *nativecommon.Reference[Directory]
		target Directory
	}{{x.apps, apps}, {x.borrowers, borrowers}} {
		recorded, err := pair.ref.Address()
		if err != nil {
			return err
		}
		if recorded == ([20]byte{}) {
			continue
		}
		if err := pair.ref.Restore(pair.target); err != nil {
			return err
		}
	}
	return nil
}

// AppRegistryAddress returns the configured app registry, or the zero address.
func (x *Index) AppRegistryAddress() ([20]byte, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.apps.Address()
}

// BorrowerRegistryAddress returns the configured borrower registry, or the
// zero address.
func (x *Index) BorrowerRegistryAddress() ([20]byte, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.borrowers.Address()
}

// Join records that borrowerID joined the calling app. signature is the same
// consent the borrower gave for registration through that app.
func (x *Index) Join(caller [20]byte, borrowerID [20]byte, signature []byte) (*Membership, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := nativecommon.Guard(x.pauses, moduleName); err != nil {
		return nil, err
	}
	apps, ok := x.apps.Get()
	if !ok {
		return nil, ErrAppContractNotSet
	}
	borrowers, ok := x.borrowers.Get()
	if !ok {
		return nil, ErrBorrowerContractNotSet
	}
	registered, err := apps.Contains(caller)
	if err != nil {
		return nil, err
	}
	if !registered {
		return nil, fmt.Errorf("%w: %s", ErrCallerNotRegisteredApp, crypto.FormatIdentity(caller))
	}
	known, err := borrowers.Contains(borrowerID)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrBorrowerNotFound, crypto.FormatIdentity(borrowerID))
	}
	if err := crypto.VerifyConsent(caller, borrowerID, signature); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSignatureInvalid, crypto.FormatIdentity(borrowerID))
	}

	m := Membership{AppID: caller, BorrowerID: borrowerID, JoinedAt: uint64(x.nowFn().Unix())}
	err = x.st.Apply(func() error {
		if err := x.members.Add(membershipKey(caller, borrowerID), m); err != nil {
			return err
		}
		byApp := nativecommon.NewEnumerable[uint64](x.st, byAppPrefix(caller))
		if err := byApp.Add(borrowerID[:], m.JoinedAt); err != nil {
			return err
		}
		byBorrower := nativecommon.NewEnumerable[uint64](x.st, byBorrowerPrefix(borrowerID))
		return byBorrower.Add(caller[:], m.JoinedAt)
	})
	if errors.Is(err, nativecommon.ErrDuplicateKey) {
		return nil, fmt.Errorf("%w: %s/%s", ErrAlreadyJoined, crypto.FormatIdentity(caller), crypto.FormatIdentity(borrowerID))
	}
	if err != nil {
		return nil, err
	}
	x.emitter.Emit(events.MemberJoined{AppID: caller, BorrowerID: borrowerID})
	return &m, nil
}

// TotalCount returns the number of memberships.
func (x *Index) TotalCount(caller [20]byte) (uint64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if caller != x.admin {
		return 0, ErrUnauthorized
	}
	return x.members.Size()
}

// ByIndex returns the membership recorded at position index.
func (x *Index) ByIndex(caller [20]byte, index uint64) (*Membership, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if caller != x.admin {
		return nil, ErrUnauthorized
	}
	m, err := x.members.GetByIndex(index)
	if errors.Is(err, nativecommon.ErrIndexOutOfRange) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Get returns the membership of borrowerID in appID.
func (x *Index) Get(caller [20]byte, appID, borrowerID [20]byte) (*Membership, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if caller != x.admin {
		return nil, ErrUnauthorized
	}
	m, err := x.members.Get(membershipKey(appID, borrowerID))
	if errors.Is(err, nativecommon.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrMembershipNotFound, crypto.FormatIdentity(appID), crypto.FormatIdentity(borrowerID))
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (x *Index) count(caller [20]byte, prefix string) (uint64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if caller != x.admin {
		return 0, ErrUnauthorized
	}
	return nativecommon.NewEnumerable[uint64](x.st, prefix).Size()
}

func (x *Index) at(caller [20]byte, prefix string, index uint64) ([20]byte, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var id [20]byte
	if caller != x.admin {
		return id, ErrUnauthorized
	}
	key, err := nativecommon.NewEnumerable[uint64](x.st, prefix).KeyAt(index)
	if errors.Is(err, nativecommon.ErrIndexOutOfRange) {
		return id, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	if err != nil {
		return id, err
	}
	copy(id[:], key)
	return id, nil
}

// CountByApp returns how many borrowers joined appID.
func (x *Index) CountByApp(caller [20]byte, appID [20]byte) (uint64, error) {
	return x.count(caller, byAppPrefix(appID))
}

// BorrowerAtIndexForApp returns the index-th borrower that joined appID.
func (x *Index) BorrowerAtIndexForApp(caller [20]byte, appID [20]byte, index uint64) ([20]byte, error) {
	return x.at(caller, byAppPrefix(appID), index)
}

// CountByBorrower returns how many apps borrowerID joined.
func (x *Index) CountByBorrower(caller [20]byte, borrowerID [20]byte) (uint64, error) {
	return x.count(caller, byBorrowerPrefix(borrowerID))
}

// AppAtIndexForBorrower returns the index-th app borrowerID joined.
func (x *Index) AppAtIndexForBorrower(caller [20]byte, borrowerID [20]byte, index uint64) ([20]byte, error) {
	return x.at(caller, byBorrowerPrefix(borrowerID), index)
}
