// Package service provides camera credential handling for the ingestion
// server. Camera keys are hashed with Argon2id before storage.
package service

import (
	"github.com/allisson/go-pwdhash"

	apperrors "github.com/popwandee/lprserver-v3-sub001/internal/errors"
)

// KeyService hashes and verifies camera keys.
type KeyService interface {
	HashKey(plainKey string) (string, error)
	CompareKey(plainKey, hashedKey string) bool
}

type keyService struct {
	hasher *pwdhash.PasswordHasher
}

// NewKeyService creates a KeyService using Argon2id with the interactive
// policy: registration is rate limited, so fast verification wins over a
// harder hash.
func NewKeyService() KeyService {
	hasher, err := pwdhash.New(pwdhash.WithPolicy(pwdhash.PolicyInteractive))
	if err != nil {
		// This should never happen with valid policy
		panic(err)
	}
	return &keyService{hasher: hasher}
}

// HashKey hashes a plain camera key using Argon2id.
func (k *keyService) HashKey(plainKey string) (string, error) {
	hashed, err := k.hasher.Hash([]byte(plainKey))
	if err != nil {
		return "", apperrors.Wrap(err, "failed to hash camera key")
	}
	return hashed, nil
}

// CompareKey performs a constant-time comparison between a plain key and its
// hash.
func (k *keyService) CompareKey(plainKey, hashedKey string) bool {
	ok, err := k.hasher.Verify([]byte(plainKey), hashedKey)
	if err != nil {
		return false
	}
	return ok
}
