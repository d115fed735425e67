package auth

import "github.com/alexedwards/argon2id"

// PasswordHasher wraps argon2id. Hashes are PHC strings carrying their own
// salt and parameters, so Verify works across parameter changes.
type PasswordHasher struct {
	params *argon2id.Params
}

// NewPasswordHasher uses argon2id.DefaultParams when params is nil.
func NewPasswordHasher(params *argon2id.Params) *PasswordHasher {
	if params == nil {
		params = argon2id.DefaultParams
	}
	return &PasswordHasher{params: params}
}

func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	return argon2id.CreateHash(plaintext, h.params)
}

// Verify reports whether plaintext matches hash. A malformed hash is a mismatch.
func (h *PasswordHasher) Verify(plaintext, hash string) bool {
	ok, err := argon2id.ComparePasswordAndHash(plaintext, hash)
	return err == nil && ok
}
