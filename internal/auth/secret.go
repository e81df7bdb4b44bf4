package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/alexedwards/argon2id"
)

// SecretParams controls the argon2id cost parameters used to hash a site's client secret.
type SecretParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultSecretParams are the argon2id parameters applied when a site's client secret is first hashed.
var DefaultSecretParams = SecretParams{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// GenerateClientSecret returns a new random client secret for a site, base64url-encoded so it is safe to hand back
// to a caller as plain text exactly once, at creation time.
func GenerateClientSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate client secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashClientSecret hashes a site client secret with argon2id, ready to persist in place of the plaintext value.
func HashClientSecret(secret string, params SecretParams) (string, error) {
	hash, err := argon2id.CreateHash(secret, &argon2id.Params{
		Memory:      params.Memory,
		Iterations:  params.Iterations,
		Parallelism: params.Parallelism,
		SaltLength:  params.SaltLength,
		KeyLength:   params.KeyLength,
	})
	if err != nil {
		return "", fmt.Errorf("hash client secret: %w", err)
	}
	return hash, nil
}

// VerifyClientSecret checks a plaintext client secret against its stored argon2id hash.
func VerifyClientSecret(secret, hash string) (bool, error) {
	match, err := argon2id.ComparePasswordAndHash(secret, hash)
	if err != nil {
		return false, fmt.Errorf("verify client secret: %w", err)
	}
	return match, nil
}

// SecretNeedsRehash reports whether hash was generated with parameters other than params, so a caller can
// transparently upgrade it the next time the secret is presented and verified successfully.
func SecretNeedsRehash(hash string, params SecretParams) bool {
	decoded, salt, key, err := argon2id.DecodeHash(hash)
	if err != nil {
		return false
	}
	return decoded.Memory != params.Memory ||
		decoded.Iterations != params.Iterations ||
		decoded.Parallelism != params.Parallelism ||
		uint32(len(salt)) != params.SaltLength ||
		uint32(len(key)) != params.KeyLength
}
