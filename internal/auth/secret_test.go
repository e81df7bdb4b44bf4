package auth

import "testing"

var testSecretParams = SecretParams{Memory: 64, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func TestGenerateClientSecretIsRandomAndURLSafe(t *testing.T) {
	t.Parallel()

	a, err := GenerateClientSecret()
	if err != nil {
		t.Fatalf("GenerateClientSecret() error = %v", err)
	}
	b, err := GenerateClientSecret()
	if err != nil {
		t.Fatalf("GenerateClientSecret() error = %v", err)
	}
	if a == b {
		t.Error("GenerateClientSecret() returned identical secrets on consecutive calls")
	}
	if a == "" {
		t.Error("GenerateClientSecret() returned empty secret")
	}
}

func TestHashAndVerifyClientSecret(t *testing.T) {
	t.Parallel()

	secret, err := GenerateClientSecret()
	if err != nil {
		t.Fatalf("GenerateClientSecret() error = %v", err)
	}

	hash, err := HashClientSecret(secret, testSecretParams)
	if err != nil {
		t.Fatalf("HashClientSecret() error = %v", err)
	}
	if hash == "" {
		t.Fatal("HashClientSecret() returned empty hash")
	}

	match, err := VerifyClientSecret(secret, hash)
	if err != nil {
		t.Fatalf("VerifyClientSecret() error = %v", err)
	}
	if !match {
		t.Error("VerifyClientSecret() = false, want true for correct secret")
	}
}

func TestVerifyClientSecretWrong(t *testing.T) {
	t.Parallel()

	hash, err := HashClientSecret("correct-secret", testSecretParams)
	if err != nil {
		t.Fatalf("HashClientSecret() error = %v", err)
	}

	match, err := VerifyClientSecret("wrong-secret", hash)
	if err != nil {
		t.Fatalf("VerifyClientSecret() error = %v", err)
	}
	if match {
		t.Error("VerifyClientSecret() = true, want false for wrong secret")
	}
}

func TestSecretNeedsRehash(t *testing.T) {
	t.Parallel()

	hash, err := HashClientSecret("a-secret", testSecretParams)
	if err != nil {
		t.Fatalf("HashClientSecret() error = %v", err)
	}

	if SecretNeedsRehash(hash, testSecretParams) {
		t.Error("SecretNeedsRehash() = true for matching params, want false")
	}

	stricter := testSecretParams
	stricter.Iterations = 3
	if !SecretNeedsRehash(hash, stricter) {
		t.Error("SecretNeedsRehash() = false for changed params, want true")
	}
}
