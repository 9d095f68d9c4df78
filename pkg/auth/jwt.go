package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures the JWT bearer authenticator.
type JWTConfig struct {
	// Issuer is the expected issuer claim.
	Issuer string `yaml:"issuer"`

	// SigningKey is the HMAC key used to verify signatures.
	SigningKey []byte `yaml:"signing_key"`
}

// JWTAuthenticator validates HMAC-signed bearer tokens.
type JWTAuthenticator struct {
	cfg JWTConfig
}

// NewJWTAuthenticator creates a new JWT authenticator.
func NewJWTAuthenticator(cfg JWTConfig) (*JWTAuthenticator, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("jwt issuer is required")
	}
	if len(cfg.SigningKey) == 0 {
		return nil, fmt.Errorf("jwt signing key is required")
	}
	return &JWTAuthenticator{cfg: cfg}, nil
}

// Authenticate validates the bearer token and returns the caller identity.
func (a *JWTAuthenticator) Authenticate(ctx context.Context) (*Identity, error) {
	tokenString := TokenFrom(ctx)
	if tokenString == "" {
		return nil, fmt.Errorf("no token found in context")
	}

	claims, err := a.parseAndValidateToken(tokenString)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("missing sub claim")
	}
	name, _ := claims["name"].(string)

	return &Identity{
		Subject: sub,
		Name:    name,
		Roles:   rolesClaim(claims),
		Method:  "jwt",
	}, nil
}

// parseAndValidateToken parses the JWT and verifies signature and issuer.
func (a *JWTAuthenticator) parseAndValidateToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.cfg.SigningKey, nil
	}, jwt.WithIssuer(a.cfg.Issuer))
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}
	return claims, nil
}

// rolesClaim reads the "roles" claim as a string slice.
func rolesClaim(claims jwt.MapClaims) []string {
	raw, ok := claims["roles"].([]any)
	if !ok {
		return nil
	}
	roles := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			roles = append(roles, s)
		}
	}
	return roles
}

// Verify interface compliance.
var _ Authenticator = (*JWTAuthenticator)(nil)
