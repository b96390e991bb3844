package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/coursehub/pkg/domain"
)

const (
	// DefaultIssuer is written to the iss claim
	DefaultIssuer = "coursehub"
	// DefaultTokenTTL matches the session length of a registration token
	DefaultTokenTTL = time.Hour
)

// TokenConfig configures token signing
type TokenConfig struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

// TokenManager issues and verifies signed session tokens
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager creates a new token manager
func NewTokenManager(cfg TokenConfig) *TokenManager {
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTokenTTL
	}
	return &TokenManager{
		secret: cfg.Secret,
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		now:    time.Now,
	}
}

// Issue signs a token for the user
func (tm *TokenManager) Issue(userID int64, role domain.Role) (string, time.Time, error) {
	if len(tm.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("token secret is not configured")
	}

	now := tm.now()
	expiresAt := now.Add(tm.ttl)
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    tm.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses a token and returns its subject
func (tm *TokenManager) Verify(tokenString string) (*Subject, error) {
	if tokenString == "" {
		return nil, domain.E(domain.KindUnauthorized, "auth.Verify", "missing token")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return tm.secret, nil
	},
		jwt.WithIssuer(tm.issuer),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		msg := "invalid token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			msg = "token expired"
		}
		return nil, &domain.Error{Kind: domain.KindUnauthorized, Op: "auth.Verify", Message: msg, Err: err}
	}
	if !token.Valid || claims.UserID <= 0 {
		return nil, domain.E(domain.KindUnauthorized, "auth.Verify", "invalid token")
	}

	role := claims.Role
	if role == "" {
		role = domain.RoleUser
	}
	return &Subject{UserID: claims.UserID, Role: role}, nil
}
