package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// DefaultKeyTTL is the lifetime of generated role keys.
const DefaultKeyTTL = 10 * 365 * 24 * time.Hour

// Keys are the long-lived role keys handed to clients and producers.
type Keys struct {
	JWTSecret      string
	AnonKey        string
	ServiceRoleKey string
}

// GenerateSecret returns a random base64 secret of 32 bytes.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth.GenerateSecret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// GenerateKeys signs anon and service_role keys with secret. An empty secret
// is replaced by a freshly generated one.
func GenerateKeys(secret string, ttl time.Duration) (Keys, error) {
	if secret == "" {
		var err error
		if secret, err = GenerateSecret(); err != nil {
			return Keys{}, fmt.Errorf("auth.GenerateKeys: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}

	anon, err := IssueToken(secret, "", RoleAnon, ttl)
	if err != nil {
		return Keys{}, fmt.Errorf("auth.GenerateKeys: anon: %w", err)
	}
	service, err := IssueToken(secret, "", RoleServiceRole, ttl)
	if err != nil {
		return Keys{}, fmt.Errorf("auth.GenerateKeys: service_role: %w", err)
	}

	return Keys{JWTSecret: secret, AnonKey: anon, ServiceRoleKey: service}, nil
}
