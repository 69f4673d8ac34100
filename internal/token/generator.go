// Package token mints and validates the local API tokens handed out by the
// issuance exchange.
package token

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// Claims are the custom claims carried by issued tokens.
type Claims struct {
	Provider string `json:"provider,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// Generator signs HS256 JWTs with a shared secret.
type Generator struct {
	signer jose.Signer
	secret []byte
	issuer string
}

// NewGenerator builds a generator for the given signing secret.
func NewGenerator(secret []byte, issuer string) (*Generator, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("signing secret must be at least 32 bytes")
	}
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: secret},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("build signer: %w", err)
	}
	return &Generator{signer: signer, secret: secret, issuer: issuer}, nil
}

// Issue mints a token for the local user expiring at expiresAt. The claims
// map carries issuance context (provider key, client ID).
func (g *Generator) Issue(ctx context.Context, userID int64, expiresAt time.Time, claims map[string]any) (string, error) {
	std := jwt.Claims{
		Subject:  strconv.FormatInt(userID, 10),
		Issuer:   g.issuer,
		IssuedAt: jwt.NewNumericDate(time.Now()),
		Expiry:   jwt.NewNumericDate(expiresAt),
	}
	custom := Claims{}
	if claims != nil {
		custom.Provider, _ = claims["provider"].(string)
		custom.ClientID, _ = claims["client_id"].(string)
	}

	signed, err := jwt.Signed(g.signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate checks signature, issuer, and expiry, returning the claims.
func (g *Generator) Validate(tokenString string) (*jwt.Claims, *Claims, error) {
	parsed, err := jwt.ParseSigned(tokenString, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, nil, fmt.Errorf("parse token: %w", err)
	}
	var std jwt.Claims
	var custom Claims
	if err := parsed.Claims(g.secret, &std, &custom); err != nil {
		return nil, nil, fmt.Errorf("verify token: %w", err)
	}
	if err := std.Validate(jwt.Expected{Issuer: g.issuer, Time: time.Now()}); err != nil {
		return nil, nil, fmt.Errorf("validate claims: %w", err)
	}
	return &std, &custom, nil
}
