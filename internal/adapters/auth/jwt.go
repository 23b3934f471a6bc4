package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/circles/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrAuthDisabled = errors.New("auth secret not configured")
	ErrInvalidToken = errors.New("invalid token")
)

// JWTResolver issues and verifies HS256 tokens whose subject is the user id.
// It implements core.IdentityResolver.
type JWTResolver struct {
	secret []byte
	issuer string
	expiry time.Duration
}

func NewJWTResolver(secret, issuer string, expiry time.Duration) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), issuer: issuer, expiry: expiry}
}

type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Issue signs a token for user.
func (s *JWTResolver) Issue(user domain.User) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrAuthDisabled
	}
	if strings.TrimSpace(string(user.ID)) == "" {
		return "", errors.New("user id required")
	}

	now := time.Now()
	claims := Claims{
		Username: strings.TrimSpace(user.Username),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  string(user.ID),
			Issuer:   s.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Resolve validates token and returns the user embedded in it.
func (s *JWTResolver) Resolve(_ context.Context, token string) (domain.User, error) {
	if s == nil || len(s.secret) == 0 {
		return domain.User{}, ErrAuthDisabled
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		return domain.User{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return domain.User{}, ErrInvalidToken
	}
	username := claims.Username
	if strings.TrimSpace(username) == "" {
		username = claims.Subject
	}
	user, err := domain.NewUser(domain.UserID(claims.Subject), username)
	if err != nil {
		return domain.User{}, ErrInvalidToken
	}
	return *user, nil
}
