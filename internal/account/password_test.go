package account

import "testing"

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatalf("hash must not equal the plaintext")
	}
	if err := VerifyPassword(hash, "correct horse battery staple"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Fatalf("expected mismatch error for wrong password")
	}
}

func TestHashPasswordSalted(t *testing.T) {
	h1, err := HashPassword("same-input")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	h2, err := HashPassword("same-input")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("expected distinct hashes for the same input")
	}
	if err := VerifyPassword(h2, "same-input"); err != nil {
		t.Fatalf("VerifyPassword on second hash: %v", err)
	}
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	if err := VerifyPassword("", "anything"); err == nil {
		t.Fatalf("expected error for empty hash")
	}
	if err := VerifyPassword("not-a-bcrypt-hash", "anything"); err == nil {
		t.Fatalf("expected error for malformed hash")
	}
}

func TestNewSessionToken(t *testing.T) {
	t1, err := NewSessionToken()
	if err != nil {
		t.Fatalf("NewSessionToken: %v", err)
	}
	t2, err := NewSessionToken()
	if err != nil {
		t.Fatalf("NewSessionToken: %v", err)
	}
	if t1 == t2 {
		t.Fatalf("expected unique tokens")
	}
	if len(t1) < 40 {
		t.Fatalf("token too short: %d chars", len(t1))
	}
}
