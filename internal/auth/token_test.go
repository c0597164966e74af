package auth

import (
	"testing"
	"time"
)

func TestMintVerifyRoundTrip(t *testing.T) {
	m := NewManager("test-secret", time.Minute)
	tok, err := m.Mint(42)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	id, err := m.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id != 42 {
		t.Fatalf("expected driver 42, got %d", id)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	m := NewManager("test-secret", -time.Minute)
	tok, err := m.Mint(7)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := m.Verify(tok); err == nil {
		t.Fatal("expired token must be rejected")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	tok, err := NewManager("secret-a", time.Minute).Mint(7)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := NewManager("secret-b", time.Minute).Verify(tok); err == nil {
		t.Fatal("token signed with a different secret must be rejected")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	m := NewManager("test-secret", time.Minute)
	if _, err := m.Verify("not-a-token"); err == nil {
		t.Fatal("garbage must be rejected")
	}
}
