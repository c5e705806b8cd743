package config

import (
	"strings"
	"testing"
)

func TestValidate_DevAllowsNoAuth(t *testing.T) {
	cfg := &Config{Env: "development"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_ProductionRequiresAuth(t *testing.T) {
	cfg := &Config{Env: "production", PHIEncryptionKey: strings.Repeat("ab", 32)}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when production has no auth configuration")
	}
}

func TestValidate_ProductionRequiresPHIKey(t *testing.T) {
	cfg := &Config{Env: "production", AuthIssuer: "https://auth.example.com"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when production has no PHI key")
	}
}

func TestValidate_PHIKeyMustBeHex(t *testing.T) {
	cfg := &Config{Env: "development", PHIEncryptionKey: "not-hex"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-hex PHI key")
	}
}

func TestValidate_PHIKeyMustBe32Bytes(t *testing.T) {
	cfg := &Config{Env: "development", PHIEncryptionKey: "abcd"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for short PHI key")
	}
}

func TestValidate_SigningKeySatisfiesAuth(t *testing.T) {
	cfg := &Config{
		Env:              "production",
		AuthSigningKey:   "secret",
		PHIEncryptionKey: strings.Repeat("ab", 32),
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIsDev(t *testing.T) {
	if !(&Config{Env: "development"}).IsDev() {
		t.Error("expected IsDev true")
	}
	if (&Config{Env: "production"}).IsDev() {
		t.Error("expected IsDev false")
	}
}
