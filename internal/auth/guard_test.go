package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/installment-engine/internal/domain"
)

func TestGuard_RoundTrip(t *testing.T) {
	guard := NewGuard("secret", "chapter-treasury")
	identity := domain.Identity{UserID: uuid.New(), Role: domain.RoleTreasurer, ChapterID: uuid.New()}

	token, err := guard.Issue(identity, time.Hour)
	require.NoError(t, err)

	got, err := guard.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, identity, got)
}

func TestGuard_Rejects(t *testing.T) {
	guard := NewGuard("secret", "chapter-treasury")
	identity := domain.Identity{UserID: uuid.New(), Role: domain.RoleMember, ChapterID: uuid.New()}

	expired := NewGuard("secret", "chapter-treasury")
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredToken, err := expired.Issue(identity, time.Hour)
	require.NoError(t, err)

	otherKey, err := NewGuard("other", "chapter-treasury").Issue(identity, time.Hour)
	require.NoError(t, err)

	otherIssuer, err := NewGuard("secret", "someone-else").Issue(identity, time.Hour)
	require.NoError(t, err)

	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: "superuser",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			Issuer:    "chapter-treasury",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             domain.RoleMember,
		RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString(), Issuer: "chapter-treasury"},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"expired":      expiredToken,
		"wrong key":    otherKey,
		"wrong issuer": otherIssuer,
		"unknown role": badRole,
		"no expiry":    noExpiry,
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := guard.Authenticate(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
