package config

import (
	"strings"
	"testing"
	"time"
)

// TestLoadDefaults is not t.Parallel because it mutates process-wide environment variables.
func TestLoadDefaults(t *testing.T) {
	keys := []string{
		"SERVER_PORT", "SERVER_ENV",
		"DATABASE_URL", "DATABASE_MAX_CONNS", "DATABASE_MIN_CONNS",
		"SIGNING_KEY", "TOKEN_TTL",
		"BATCH_TIMEOUT", "MAX_CONCURRENT_BATCHES_PER_ACCOUNT", "REAPER_INTERVAL",
		"MAX_FILE_SIZE",
		"OBJECT_STORE_ENDPOINT", "OBJECT_STORE_BUCKET", "OBJECT_STORE_REGION",
		"DEFAULT_PAGE_SIZE", "MAX_PAGE_SIZE",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}

	t.Setenv("SIGNING_KEY", "a-signing-key-at-least-32-bytes!")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.ServerPort != 8080 {
		t.Errorf("ServerPort = %d, want 8080", cfg.ServerPort)
	}
	if cfg.ServerEnv != "production" {
		t.Errorf("ServerEnv = %q, want %q", cfg.ServerEnv, "production")
	}
	if cfg.DatabaseMaxConn != 25 {
		t.Errorf("DatabaseMaxConn = %d, want 25", cfg.DatabaseMaxConn)
	}
	if cfg.DatabaseMinConn != 5 {
		t.Errorf("DatabaseMinConn = %d, want 5", cfg.DatabaseMinConn)
	}
	if cfg.TokenTTL != time.Hour {
		t.Errorf("TokenTTL = %v, want 1h", cfg.TokenTTL)
	}
	if cfg.BatchTimeout != 60*time.Minute {
		t.Errorf("BatchTimeout = %v, want 60m", cfg.BatchTimeout)
	}
	if cfg.MaxConcurrentBatchesPerAccount != 5 {
		t.Errorf("MaxConcurrentBatchesPerAccount = %d, want 5", cfg.MaxConcurrentBatchesPerAccount)
	}
	if cfg.ReaperInterval != 5*time.Minute {
		t.Errorf("ReaperInterval = %v, want 5m", cfg.ReaperInterval)
	}
	if cfg.MaxFileSize != 128*1024*1024 {
		t.Errorf("MaxFileSize = %d, want %d", cfg.MaxFileSize, 128*1024*1024)
	}
	if cfg.ObjectStoreBucket != "data-forge-ingest" {
		t.Errorf("ObjectStoreBucket = %q, want %q", cfg.ObjectStoreBucket, "data-forge-ingest")
	}
	if cfg.DefaultPageSize != 20 {
		t.Errorf("DefaultPageSize = %d, want 20", cfg.DefaultPageSize)
	}
	if cfg.MaxPageSize != 200 {
		t.Errorf("MaxPageSize = %d, want 200", cfg.MaxPageSize)
	}
}

func TestLoadValidationRequiresSigningKey(t *testing.T) {
	t.Setenv("SIGNING_KEY", "")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want validation error for missing SIGNING_KEY")
	}
	if !strings.Contains(err.Error(), "SIGNING_KEY") {
		t.Errorf("error %q does not mention SIGNING_KEY", err.Error())
	}
}

func TestLoadValidationSigningKeyTooShort(t *testing.T) {
	t.Setenv("SIGNING_KEY", "short")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want validation error for short SIGNING_KEY")
	}
	if !strings.Contains(err.Error(), "at least 32 bytes") {
		t.Errorf("error %q does not mention minimum length", err.Error())
	}
}

func TestLoadValidationSigningKeyPlaceholder(t *testing.T) {
	tests := []string{"change-me", "test-secret", "CHANGE-ME", "secret"}
	for _, key := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv("SIGNING_KEY", key)

			_, err := Load()
			if err == nil {
				t.Fatalf("Load() returned nil error for placeholder key %q", key)
			}
		})
	}
}

func TestLoadSkipsGateUnderTestProfile(t *testing.T) {
	t.Setenv("SERVER_ENV", "test")
	t.Setenv("SIGNING_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error under test profile: %v", err)
	}
	if cfg.SigningKey != "" {
		t.Errorf("SigningKey = %q, want empty", cfg.SigningKey)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_ENV", "development")
	t.Setenv("DATABASE_MAX_CONNS", "50")
	t.Setenv("SIGNING_KEY", "a-signing-key-at-least-32-bytes!")
	t.Setenv("TOKEN_TTL", "30m")
	t.Setenv("BATCH_TIMEOUT", "90m")
	t.Setenv("MAX_CONCURRENT_BATCHES_PER_ACCOUNT", "10")
	t.Setenv("MAX_FILE_SIZE", "1048576")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.ServerPort != 9090 {
		t.Errorf("ServerPort = %d, want 9090", cfg.ServerPort)
	}
	if cfg.ServerEnv != "development" {
		t.Errorf("ServerEnv = %q, want %q", cfg.ServerEnv, "development")
	}
	if cfg.DatabaseMaxConn != 50 {
		t.Errorf("DatabaseMaxConn = %d, want 50", cfg.DatabaseMaxConn)
	}
	if cfg.TokenTTL != 30*time.Minute {
		t.Errorf("TokenTTL = %v, want 30m", cfg.TokenTTL)
	}
	if cfg.BatchTimeout != 90*time.Minute {
		t.Errorf("BatchTimeout = %v, want 90m", cfg.BatchTimeout)
	}
	if cfg.MaxConcurrentBatchesPerAccount != 10 {
		t.Errorf("MaxConcurrentBatchesPerAccount = %d, want 10", cfg.MaxConcurrentBatchesPerAccount)
	}
	if cfg.MaxFileSize != 1048576 {
		t.Errorf("MaxFileSize = %d, want 1048576", cfg.MaxFileSize)
	}
}

func TestLoadInvalidInt(t *testing.T) {
	t.Setenv("SIGNING_KEY", "a-signing-key-at-least-32-bytes!")
	t.Setenv("SERVER_PORT", "not-a-number")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want parse error")
	}
	if !strings.Contains(err.Error(), "SERVER_PORT") {
		t.Errorf("error %q does not mention SERVER_PORT", err.Error())
	}
	if !strings.Contains(err.Error(), "not-a-number") {
		t.Errorf("error %q does not include the invalid value", err.Error())
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	t.Setenv("SIGNING_KEY", "a-signing-key-at-least-32-bytes!")
	t.Setenv("BATCH_TIMEOUT", "not-a-duration")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want parse error")
	}
	if !strings.Contains(err.Error(), "BATCH_TIMEOUT") {
		t.Errorf("error %q does not mention BATCH_TIMEOUT", err.Error())
	}
}

func TestLoadMultipleErrors(t *testing.T) {
	t.Setenv("SIGNING_KEY", "a-signing-key-at-least-32-bytes!")
	t.Setenv("SERVER_PORT", "abc")
	t.Setenv("DATABASE_MAX_CONNS", "xyz")
	t.Setenv("BATCH_TIMEOUT", "nope")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want multiple parse errors")
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "SERVER_PORT") {
		t.Errorf("error missing SERVER_PORT, got: %s", errStr)
	}
	if !strings.Contains(errStr, "DATABASE_MAX_CONNS") {
		t.Errorf("error missing DATABASE_MAX_CONNS, got: %s", errStr)
	}
	if !strings.Contains(errStr, "BATCH_TIMEOUT") {
		t.Errorf("error missing BATCH_TIMEOUT, got: %s", errStr)
	}
}

func TestIsDevelopment(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"development", true},
		{"production", false},
		{"", false},
		{"test", false},
	}
	for _, tt := range tests {
		cfg := &Config{ServerEnv: tt.env}
		if got := cfg.IsDevelopment(); got != tt.want {
			t.Errorf("IsDevelopment() with env=%q = %v, want %v", tt.env, got, tt.want)
		}
	}
}

func TestIsTest(t *testing.T) {
	cfg := &Config{ServerEnv: "test"}
	if !cfg.IsTest() {
		t.Error("IsTest() = false, want true")
	}
	cfg = &Config{ServerEnv: "production"}
	if cfg.IsTest() {
		t.Error("IsTest() = true, want false")
	}
}
