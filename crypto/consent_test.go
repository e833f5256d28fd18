package crypto

import (
	"errors"
	"testing"
)

func mustKey(t *testing.T) *PrivateKey {
	t.Helper()
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestConsentRoundTrip(t *testing.T) {
	borrower := mustKey(t)
	app := mustKey(t).Identity()

	sig, err := SignConsent(borrower, app)
	if err != nil {
		t.Fatalf("sign consent: %v", err)
	}
	if len(sig) != SignatureLength {
		t.Fatalf("unexpected signature length %d", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("unexpected recovery id %d", sig[64])
	}
	if err := VerifyConsent(app, borrower.Identity(), sig); err != nil {
		t.Fatalf("verify consent: %v", err)
	}

	// Raw 0/1 recovery ids are accepted as well.
	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	signer, err := Recover(ConsentDigest(app, borrower.Identity()), raw)
	if err != nil {
		t.Fatalf("recover raw: %v", err)
	}
	if signer != borrower.Identity() {
		t.Fatalf("recovered wrong signer")
	}
}

func TestConsentBoundToApp(t *testing.T) {
	borrower := mustKey(t)
	app := mustKey(t).Identity()
	otherApp := mustKey(t).Identity()

	sig, err := SignConsent(borrower, app)
	if err != nil {
		t.Fatalf("sign consent: %v", err)
	}
	if err := VerifyConsent(otherApp, borrower.Identity(), sig); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid for other app, got %v", err)
	}
	other := mustKey(t)
	if err := VerifyConsent(app, other.Identity(), sig); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid for other borrower, got %v", err)
	}
}

func TestRecoverRejectsMalformed(t *testing.T) {
	digest := ConsentDigest([20]byte{1}, [20]byte{2})
	cases := map[string][]byte{
		"empty": nil,
		"short": make([]byte, 64),
		"zero":  make([]byte, 65),
		"bad-v": append(make([]byte, 64), 5),
	}
	for name, sig := range cases {
		if _, err := Recover(digest, sig); !errors.Is(err, ErrSignatureInvalid) {
			t.Fatalf("%s: expected ErrSignatureInvalid, got %v", name, err)
		}
	}
	if _, err := Recover(digest[:31], make([]byte, 65)); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid for short digest, got %v", err)
	}
}
