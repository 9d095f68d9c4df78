package auth

import (
	"context"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyConfig holds API key configuration.
type APIKeyConfig struct {
	Keys []APIKey `yaml:"keys"`
}

// APIKey represents a configured API key. Either Hash (bcrypt) or Key
// (plaintext) must be set; hashed keys are preferred.
type APIKey struct {
	Name  string   `yaml:"name"`  // Display name for the key
	Key   string   `yaml:"key"`   // Plaintext key value
	Hash  string   `yaml:"hash"`  // bcrypt hash of the key value
	Roles []string `yaml:"roles"` // Roles assigned to this key
}

// APIKeyAuthenticator authenticates using API keys.
type APIKeyAuthenticator struct {
	keys []APIKey
}

// NewAPIKeyAuthenticator creates a new API key authenticator.
func NewAPIKeyAuthenticator(cfg APIKeyConfig) (*APIKeyAuthenticator, error) {
	for _, key := range cfg.Keys {
		if key.Name == "" {
			return nil, fmt.Errorf("api key without a name")
		}
		if key.Key == "" && key.Hash == "" {
			return nil, fmt.Errorf("api key %q has neither key nor hash", key.Name)
		}
	}
	keys := make([]APIKey, len(cfg.Keys))
	copy(keys, cfg.Keys)
	return &APIKeyAuthenticator{keys: keys}, nil
}

// HashKey produces a bcrypt hash suitable for the Hash field.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing api key: %w", err)
	}
	return string(hash), nil
}

// Authenticate validates the API key in the context.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context) (*Identity, error) {
	token := TokenFrom(ctx)
	if token == "" {
		return nil, fmt.Errorf("no API key found in context")
	}

	for i := range a.keys {
		if a.keys[i].matches(token) {
			return &Identity{
				Subject: "apikey:" + a.keys[i].Name,
				Name:    a.keys[i].Name,
				Roles:   a.keys[i].Roles,
				Method:  "apikey",
			}, nil
		}
	}
	return nil, fmt.Errorf("invalid API key")
}

func (k *APIKey) matches(token string) bool {
	if k.Hash != "" {
		return bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(token)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(k.Key), []byte(token)) == 1
}

// Verify interface compliance.
var _ Authenticator = (*APIKeyAuthenticator)(nil)
