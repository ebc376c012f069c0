package service_test

import (
	"testing"
	"time"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"
	"github.com/boddenberg/milhas-bfa-go/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestTokenValidator_RoundTrip(t *testing.T) {
	v := service.NewTokenValidator("super-secret")

	token, err := v.IssueToken("user-42", time.Hour)
	require.NoError(t, err)

	ownerID, err := v.ValidateAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "user-42", ownerID)
}

func TestTokenValidator_Rejects(t *testing.T) {
	v := service.NewTokenValidator("super-secret")

	wrongSecret, err := service.NewTokenValidator("other").IssueToken("user-42", time.Hour)
	require.NoError(t, err)

	expired, err := v.IssueToken("user-42", -time.Minute)
	require.NoError(t, err)

	noAudience, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("super-secret"))
	require.NoError(t, err)

	noSubject, err := v.IssueToken("", time.Hour)
	require.NoError(t, err)

	tests := map[string]string{
		"garbage":      "not-a-jwt",
		"wrong secret": wrongSecret,
		"expired":      expired,
		"no audience":  noAudience,
		"no subject":   noSubject,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.ValidateAccessToken(token)
			require.ErrorAs(t, err, new(*domain.ErrUnauthorized))
		})
	}
}
