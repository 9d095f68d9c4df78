package auth

import (
	"context"
	"fmt"
)

// ChainedAuthenticator tries multiple authenticators in order.
type ChainedAuthenticator struct {
	authenticators []Authenticator
	allowAnonymous bool
}

// ChainedAuthConfig configures the chained authenticator.
type ChainedAuthConfig struct {
	AllowAnonymous bool
}

// NewChainedAuthenticator creates a new chained authenticator.
func NewChainedAuthenticator(cfg ChainedAuthConfig, authenticators ...Authenticator) *ChainedAuthenticator {
	return &ChainedAuthenticator{
		authenticators: authenticators,
		allowAnonymous: cfg.AllowAnonymous,
	}
}

// Authenticate tries each authenticator in order and returns the first
// identity produced. When every authenticator fails and anonymous access
// is allowed, an anonymous identity is returned.
func (c *ChainedAuthenticator) Authenticate(ctx context.Context) (*Identity, error) {
	var lastErr error

	for _, a := range c.authenticators {
		id, err := a.Authenticate(ctx)
		if err == nil && id != nil {
			return id, nil
		}
		if err != nil {
			lastErr = err
		}
	}

	if c.allowAnonymous {
		return &Identity{Subject: "anonymous", Method: "anonymous"}, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("authentication failed")
}

// Verify interface compliance.
var _ Authenticator = (*ChainedAuthenticator)(nil)
