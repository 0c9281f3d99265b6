package config

import (
	"crypto/rand"
	"os"
	"testing"
	"time"
)

func TestDefaultWeightsBudget(t *testing.T) {
	cfg := Default()

	total := cfg.TIMaxWeight
	for _, w := range cfg.CategoryWeights {
		total += w
	}
	if total != 590 {
		t.Errorf("default weight total = %v, want 590", total)
	}
	if len(cfg.CategoryWeights) != 17 {
		t.Errorf("expected 17 category weights, got %d", len(cfg.CategoryWeights))
	}
}

func TestDefaultThresholdsMonotone(t *testing.T) {
	cfg := Default()
	th := cfg.Thresholds
	if !(th.Critical >= th.High && th.High >= th.Medium && th.Medium >= th.Low) {
		t.Errorf("thresholds not monotone: %+v", th)
	}
}

func TestTTLTable(t *testing.T) {
	cfg := Default()
	tests := []struct {
		level string
		want  time.Duration
	}{
		{"critical", 5 * time.Minute},
		{"high", 30 * time.Minute},
		{"medium", time.Hour},
		{"low", 4 * time.Hour},
		{"safe", 24 * time.Hour},
		{"unknown", 24 * time.Hour}, // unrecognized levels get the safe TTL
	}
	for _, tt := range tests {
		if got := cfg.CacheTTLs.TTLFor(tt.level); got != tt.want {
			t.Errorf("TTLFor(%s) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	cfg := Default()
	cfg.Thresholds.High = 90 // above critical
	if err := cfg.validate(); err == nil {
		t.Errorf("expected validation error for inverted thresholds")
	}
}

func TestValidateRejectsBadMultiplierRange(t *testing.T) {
	cfg := Default()
	cfg.AI.FallbackMultiplier = 2.0
	if err := cfg.validate(); err == nil {
		t.Errorf("expected validation error for fallback outside bounds")
	}
}

func TestSecretsRoundTrip(t *testing.T) {
	s, err := NewSecrets("unit-test-master-key")
	if err != nil {
		t.Fatalf("NewSecrets failed: %v", err)
	}

	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		t.Fatalf("nonce: %v", err)
	}

	enc, err := s.Encrypt("sk-test-abc123", nonce)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if got := s.Decrypt(enc, ""); got != "sk-test-abc123" {
		t.Errorf("Decrypt = %q, want sk-test-abc123", got)
	}
}

func TestSecretsEnvFallback(t *testing.T) {
	s, err := NewSecrets("") // no master key
	if err != nil {
		t.Fatalf("NewSecrets failed: %v", err)
	}

	os.Setenv("URLSCAN_TEST_API_KEY", "env-key-xyz")
	defer os.Unsetenv("URLSCAN_TEST_API_KEY")

	if got := s.Decrypt("not-decryptable", "URLSCAN_TEST_API_KEY"); got != "env-key-xyz" {
		t.Errorf("env fallback = %q, want env-key-xyz", got)
	}
	if got := s.Decrypt("", ""); got != "" {
		t.Errorf("expected empty key when nothing is configured, got %q", got)
	}
}

func TestSecretsWrongKeyFallsBack(t *testing.T) {
	enc, err := NewSecrets("key-one")
	if err != nil {
		t.Fatalf("NewSecrets: %v", err)
	}
	nonce := make([]byte, 12)
	ct, err := enc.Encrypt("super-secret", nonce)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	dec, err := NewSecrets("key-two")
	if err != nil {
		t.Fatalf("NewSecrets: %v", err)
	}
	os.Setenv("URLSCAN_FALLBACK_KEY", "fallback-value")
	defer os.Unsetenv("URLSCAN_FALLBACK_KEY")

	if got := dec.Decrypt(ct, "URLSCAN_FALLBACK_KEY"); got != "fallback-value" {
		t.Errorf("wrong-key decrypt should fall back to env, got %q", got)
	}
}
