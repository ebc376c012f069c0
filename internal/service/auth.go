package service

import (
	"fmt"
	"time"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// supabaseAudience is the aud claim Supabase puts on user access tokens.
const supabaseAudience = "authenticated"

// JWTClaims are the claims of a Supabase access token that matter here.
type JWTClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenValidator checks Supabase-issued HS256 access tokens.
type TokenValidator struct {
	secret []byte
}

// NewTokenValidator creates a validator for the project's JWT secret.
func NewTokenValidator(secret string) *TokenValidator {
	return &TokenValidator{secret: []byte(secret)}
}

// ValidateAccessToken verifies signature, expiry and audience and returns
// the owner id (the sub claim).
func (v *TokenValidator) ValidateAccessToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithAudience(supabaseAudience), jwt.WithExpirationRequired())
	if err != nil {
		return "", &domain.ErrUnauthorized{Message: "invalid token"}
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", &domain.ErrUnauthorized{Message: "invalid token"}
	}
	return claims.Subject, nil
}

// IssueToken signs a token shaped like a Supabase access token. Used for
// local tooling and tests; production tokens come from Supabase Auth.
func (v *TokenValidator) IssueToken(ownerID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		Role: supabaseAudience,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ownerID,
			Audience:  jwt.ClaimStrings{supabaseAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
