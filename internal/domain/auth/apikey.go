package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// APIKeyInfo describes a service key. Service keys act on behalf of UserID
// and are usually admins.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	UserID  int64
	Admin   bool
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

var _ Resolver = (*KeyResolver)(nil)

// KeyResolver authenticates HMAC-SHA256 hashed API keys.
type KeyResolver struct {
	keys   Repository
	pepper []byte
}

// NewKeyResolver creates a KeyResolver with the given repository and pepper.
func NewKeyResolver(keys Repository, pepper []byte) *KeyResolver {
	return &KeyResolver{keys: keys, pepper: pepper}
}

// HashKey returns the hex encoded HMAC of key under pepper.
func HashKey(key string, pepper []byte) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Resolve looks the key up by hash and compares the stored hash in constant time.
func (r *KeyResolver) Resolve(ctx context.Context, key string) (Identity, error) {
	if key == "" {
		return Identity{}, ErrUnauthorized
	}
	hash := HashKey(key, r.pepper)

	info, err := r.keys.FindByHash(ctx, hash)
	if err != nil {
		return Identity{}, ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(hash), []byte(info.KeyHash)) != 1 {
		return Identity{}, ErrUnauthorized
	}
	return Identity{UserID: info.UserID, IsAdmin: info.Admin}, nil
}
