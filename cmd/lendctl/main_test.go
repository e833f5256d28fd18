package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"lendchain/crypto"
)

func TestKeygenAddressAndConsent(t *testing.T) {
	t.Setenv(defaultPassEnv, "correct horse")
	path := filepath.Join(t.TempDir(), "borrower.keystore")

	var out bytes.Buffer
	if err := runKeygen([]string{"--keystore", path}, &out); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	borrower := strings.TrimSpace(out.String())
	if _, err := crypto.ParseIdentity(borrower); err != nil {
		t.Fatalf("keygen printed %q: %v", borrower, err)
	}
	if err := runKeygen([]string{"--keystore", path}, &out); err == nil {
		t.Fatalf("expected keygen to refuse overwriting")
	}

	out.Reset()
	if err := runAddress([]string{"--keystore", path}, &out); err != nil {
		t.Fatalf("address: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != borrower {
		t.Fatalf("address = %s, want %s", got, borrower)
	}

	appKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate app key: %v", err)
	}
	app := crypto.FormatIdentity(appKey.Identity())
	out.Reset()
	if err := runSignConsent([]string{"--keystore", path, "--app", app}, &out); err != nil {
		t.Fatalf("sign-consent: %v", err)
	}
	var consent map[string]string
	if err := json.Unmarshal(out.Bytes(), &consent); err != nil {
		t.Fatalf("decode consent: %v", err)
	}
	if consent["borrower"] != borrower || consent["app"] != app {
		t.Fatalf("unexpected consent %+v", consent)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(consent["signature"], "0x"))
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	borrowerID, _ := crypto.ParseIdentity(borrower)
	if err := crypto.VerifyConsent(appKey.Identity(), borrowerID, sig); err != nil {
		t.Fatalf("consent does not verify: %v", err)
	}
}

func TestParseParams(t *testing.T) {
	params := parseParams([]string{"42", "lend1abc", `"quoted"`, "true"})
	if _, ok := params[0].(json.RawMessage); !ok {
		t.Fatalf("number should pass through as JSON, got %T", params[0])
	}
	if params[1] != "lend1abc" {
		t.Fatalf("bare word should become a string, got %v", params[1])
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(encoded) != `[42,"lend1abc","quoted",true]` {
		t.Fatalf("encoded params = %s", encoded)
	}
}
