package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the human-readable part of a bech32 identity.
type AddressPrefix string

const LendPrefix AddressPrefix = "lend"

// ErrInvalidIdentity is returned when an identity string cannot be parsed.
var ErrInvalidIdentity = errors.New("crypto: invalid identity")

// Address is a 20-byte account identity with a human-readable prefix.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != 20 {
		panic("address must be 20 bytes long")
	}
	return Address{prefix: prefix, bytes: append([]byte(nil), b...)}
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// Identity returns the address as a fixed-width identity.
func (a Address) Identity() [20]byte {
	var id [20]byte
	copy(id[:], a.bytes)
	return id
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != 20 {
		return Address{}, fmt.Errorf("%w: decoded %d bytes", ErrInvalidIdentity, len(conv))
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}

// FormatIdentity renders id as a bech32 string with the lend prefix.
func FormatIdentity(id [20]byte) string {
	return NewAddress(LendPrefix, id[:]).String()
}

// ParseIdentity accepts either a bech32 identity or a 0x-prefixed hex string.
func ParseIdentity(value string) ([20]byte, error) {
	var id [20]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return id, fmt.Errorf("%w: empty", ErrInvalidIdentity)
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		raw, err := hex.DecodeString(trimmed[2:])
		if err != nil {
			return id, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
		}
		if len(raw) != len(id) {
			return id, fmt.Errorf("%w: expected 20 bytes, got %d", ErrInvalidIdentity, len(raw))
		}
		copy(id[:], raw)
		return id, nil
	}
	addr, err := DecodeAddress(trimmed)
	if err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	if addr.Prefix() != LendPrefix {
		return id, fmt.Errorf("%w: unexpected prefix %q", ErrInvalidIdentity, addr.Prefix())
	}
	return addr.Identity(), nil
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Identity is shorthand for the key's account identity.
func (k *PrivateKey) Identity() [20]byte {
	return k.PubKey().Address().Identity()
}

func (k *PublicKey) Address() Address {
	addrBytes := crypto.PubkeyToAddress(*k.PublicKey).Bytes()
	return NewAddress(LendPrefix, addrBytes)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
