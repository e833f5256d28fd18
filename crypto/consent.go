package crypto

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of an r || s || v secp256k1 signature.
const SignatureLength = 65

// ErrSignatureInvalid covers malformed signatures and signatures that do not
// recover to the expected identity.
var ErrSignatureInvalid = errors.New("crypto: signature can not be verified")

// ConsentDigest is the message a borrower signs to allow app to register it
// and to join it. Both identities are hashed as raw 20-byte values and the
// result is wrapped in the personal-message prefix so wallets can sign it.
func ConsentDigest(app, borrower [20]byte) []byte {
	return accounts.TextHash(ethcrypto.Keccak256(app[:], borrower[:]))
}

// SignDigest signs a 32-byte digest and returns a 65-byte signature with
// v in {27, 28}.
func SignDigest(key *PrivateKey, digest []byte) ([]byte, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	sig, err := ethcrypto.Sign(digest, key.PrivateKey)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// SignConsent produces the borrower's consent signature for app.
func SignConsent(borrower *PrivateKey, app [20]byte) ([]byte, error) {
	if borrower == nil || borrower.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	return SignDigest(borrower, ConsentDigest(app, borrower.Identity()))
}

// Recover returns the identity that produced sig over digest. The recovery
// id may be encoded as 0/1 or 27/28. High-s signatures are rejected.
func Recover(digest, sig []byte) ([20]byte, error) {
	var id [20]byte
	if len(digest) != 32 {
		return id, fmt.Errorf("%w: digest must be 32 bytes", ErrSignatureInvalid)
	}
	if len(sig) != SignatureLength {
		return id, fmt.Errorf("%w: expected %d bytes, got %d", ErrSignatureInvalid, SignatureLength, len(sig))
	}
	normalized := append([]byte(nil), sig...)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return id, fmt.Errorf("%w: bad recovery id", ErrSignatureInvalid)
	}
	r := new(big.Int).SetBytes(normalized[:32])
	s := new(big.Int).SetBytes(normalized[32:64])
	if !ethcrypto.ValidateSignatureValues(normalized[64], r, s, true) {
		return id, fmt.Errorf("%w: signature values out of range", ErrSignatureInvalid)
	}
	pub, err := ethcrypto.SigToPub(digest, normalized)
	if err != nil {
		return id, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	copy(id[:], ethcrypto.PubkeyToAddress(*pub).Bytes())
	return id, nil
}

// VerifyConsent checks that sig is borrower's consent for app.
func VerifyConsent(app, borrower [20]byte, sig []byte) error {
	signer, err := Recover(ConsentDigest(app, borrower), sig)
	if err != nil {
		return err
	}
	if signer != borrower {
		return ErrSignatureInvalid
	}
	return nil
}
