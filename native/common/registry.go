package common

import (
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrNilReference      = errors.New("registry: reference must not be nil")
	ErrReferenceMismatch = errors.New("registry: reference does not match recorded address")
)

// Addressed is implemented by registries that other registries hold
// references to.
type Addressed interface {
	Address() [20]byte
}

// Directory is a registry that can answer membership queries for other
// registries.
type Directory interface {
	Addressed
	Contains(id [20]byte) (bool, error)
}

// RegistryAddress derives the stable identity of a registry instance from its
// module name, administrator and version.
func RegistryAddress(module string, admin [20]byte, version uint64) [20]byte {
	var addr [20]byte
	digest := ethcrypto.Keccak256([]byte("lendchain/registry/"+module), admin[:], binary.BigEndian.AppendUint64(nil, version))
	copy(addr[:], digest[12:])
	return addr
}

// Reference is a typed handle to a collaborator registry. The collaborator's
// address is recorded in state; the live handle is bound in memory once the
// write that recorded it has committed.
type Reference[T Addressed] struct {
	which  string
	st     KVStore
	handle T
	bound  bool
}

// NewReference returns an unset reference named which.
func NewReference[T Addressed](st KVStore, which string) *Reference[T] {
	return &Reference[T]{which: which, st: st}
}

func (r *Reference[T]) key() []byte {
	return []byte("ref/" + r.which)
}

// Which names the collaborator.
func (r *Reference[T]) Which() string {
	return r.which
}

// Address returns the recorded collaborator address, or the zero address when
// the reference has never been set.
func (r *Reference[T]) Address() ([20]byte, error) {
	var addr [20]byte
	if _, err := r.st.KVGet(r.key(), &addr); err != nil {
		return [20]byte{}, err
	}
	return addr, nil
}

// Record writes target's address to state without binding the handle.
func (r *Reference[T]) Record(target T) error {
	if isNil(target) {
		return ErrNilReference
	}
	addr := target.Address()
	return r.st.KVPut(r.key(), addr)
}

// Bind attaches the live handle.
func (r *Reference[T]) Bind(target T) {
	r.handle = target
	r.bound = !isNil(target)
}

// Restore binds target after a restart, provided it matches the recorded
// address.
func (r *Reference[T]) Restore(target T) error {
	if isNil(target) {
		return ErrNilReference
	}
	recorded, err := r.Address()
	if err != nil {
		return err
	}
	if recorded != target.Address() {
		return fmt.Errorf("%w: %s", ErrReferenceMismatch, r.which)
	}
	r.Bind(target)
	return nil
}

// Get returns the bound handle and whether one is bound.
func (r *Reference[T]) Get() (T, bool) {
	return r.handle, r.bound
}

func isNil[T Addressed](target T) bool {
	var iface Addressed = target
	if iface == nil {
		return true
	}
	rv := reflect.ValueOf(iface)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
