// Package auth resolves bearer tokens to caller identities.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/segyhp/installment-engine/internal/domain"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the token payload. Subject carries the user ID.
type Claims struct {
	Role      domain.Role `json:"role"`
	ChapterID string      `json:"chapter_id"`
	jwt.RegisteredClaims
}

// Guard validates HS256 tokens issued for this service.
type Guard struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewGuard(secret, issuer string) *Guard {
	return &Guard{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Authenticate parses a raw bearer token into an Identity.
func (g *Guard) Authenticate(token string) (domain.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Identity{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	}
	if g.issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return g.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}

	var chapterID uuid.UUID
	if claims.ChapterID != "" {
		if chapterID, err = uuid.Parse(claims.ChapterID); err != nil {
			return domain.Identity{}, fmt.Errorf("%w: malformed chapter_id", ErrInvalidToken)
		}
	}

	switch claims.Role {
	case domain.RoleMember, domain.RoleTreasurer, domain.RoleAdmin:
	default:
		return domain.Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}

	return domain.Identity{UserID: userID, Role: claims.Role, ChapterID: chapterID}, nil
}

// Issue signs a token for identity that expires after ttl.
func (g *Guard) Issue(identity domain.Identity, ttl time.Duration) (string, error) {
	now := g.now()
	claims := Claims{
		Role:      identity.Role,
		ChapterID: identity.ChapterID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID.String(),
			Issuer:    g.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.secret)
}
