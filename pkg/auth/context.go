// Package auth provides request authentication for the config store API.
//
// Authenticators consume a credential placed in the request context by
// the HTTP middleware and resolve it to an Identity. API keys and JWT
// bearer tokens are supported; a chained authenticator tries each in
// turn.
package auth

import "context"

// contextKey is a private type for context keys.
type contextKey int

const (
	identityContextKey contextKey = iota
	tokenContextKey
)

// Identity describes an authenticated caller.
type Identity struct {
	Subject string   `json:"subject"`
	Name    string   `json:"name,omitempty"`
	Roles   []string `json:"roles,omitempty"`
	Method  string   `json:"method"` // "apikey", "jwt", "anonymous"
}

// Authenticator resolves the credential in the context to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context) (*Identity, error)
}

// WithIdentity adds an identity to the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFrom retrieves the identity from the context, or nil.
func IdentityFrom(ctx context.Context) *Identity {
	if id, ok := ctx.Value(identityContextKey).(*Identity); ok {
		return id
	}
	return nil
}

// WithToken adds the raw request credential to the context.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}

// TokenFrom retrieves the raw request credential from the context.
func TokenFrom(ctx context.Context) string {
	if token, ok := ctx.Value(tokenContextKey).(string); ok {
		return token
	}
	return ""
}

// HasRole checks if the identity carries a specific role.
func (id *Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole checks if the identity carries any of the specified roles.
func (id *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if id.HasRole(role) {
			return true
		}
	}
	return false
}
