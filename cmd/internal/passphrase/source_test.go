package passphrase

import "testing"

func TestSourceReadsEnvironment(t *testing.T) {
	t.Setenv("LENDCHAIN_TEST_PASS", "hunter2")
	src := NewSource("LENDCHAIN_TEST_PASS", "admin keystore")
	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "hunter2" {
		t.Fatalf("passphrase = %q", got)
	}
	t.Setenv("LENDCHAIN_TEST_PASS", "changed")
	if again, _ := src.Get(); again != "hunter2" {
		t.Fatalf("expected cached passphrase, got %q", again)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("LENDCHAIN_TEST_PASS", "   ")
	if _, err := NewSource("LENDCHAIN_TEST_PASS", "").Get(); err == nil {
		t.Fatalf("expected blank passphrase to be rejected")
	}
}
