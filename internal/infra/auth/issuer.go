package auth

import (
	"context"
	"fmt"
	"time"

	"live-quiz-service/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuerName = "live-quiz-service"

// Claims identify an anonymous user; the subject is the user id.
type Claims struct {
	Anonymous bool `json:"anonymous"`
	jwt.RegisteredClaims
}

// Issuer hands out signed anonymous identities and resumes them from tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// SignInAnonymously creates a fresh user id and a token for it.
func (i *Issuer) SignInAnonymously(_ context.Context) (domain.Identity, error) {
	if len(i.secret) == 0 {
		return domain.Identity{}, fmt.Errorf("%w: signing secret not configured", domain.ErrIdentityUnavailable)
	}
	now := i.now()
	userID := uuid.NewString()
	claims := &Claims{
		Anonymous: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuerName,
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	var expires time.Time
	if i.ttl > 0 {
		expires = now.Add(i.ttl)
		claims.ExpiresAt = jwt.NewNumericDate(expires)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrIdentityUnavailable, err)
	}
	return domain.Identity{UserID: userID, Token: signed, ExpiresAt: expires}, nil
}

// Resume validates a token and returns the identity it carries.
func (i *Issuer) Resume(_ context.Context, token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, domain.ErrNoSession
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuerName),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrNoSession, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return domain.Identity{}, domain.ErrNoSession
	}
	id := domain.Identity{UserID: claims.Subject, Token: token}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}
