package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// TokenManager handles issuing and validating JWT tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string, ttlMinutes int) *TokenManager {
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	return &TokenManager{secret: []byte(secret), ttl: time.Duration(ttlMinutes) * time.Minute, now: time.Now}
}

// Claims describes JWT payload. The registered subject carries the profile id.
type Claims struct {
	ProfileType domain.ProfileType `json:"profile_type"`
	Name        string             `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Profile converts the claims into a caller identity. System profiles are
// never issued to HTTP callers.
func (c *Claims) Profile() (domain.Profile, bool) {
	if c == nil || c.Subject == "" {
		return nil, false
	}
	return domain.NewProfile(c.Subject, c.Name, c.ProfileType)
}

// GenerateToken builds and signs a JWT for the profile.
func (tm *TokenManager) GenerateToken(profile domain.Profile) (string, time.Time, error) {
	switch profile.(type) {
	case domain.CustomerProfile, domain.EngineerProfile:
	default:
		return "", time.Time{}, errors.New("tokens are issued to customers and engineers only")
	}

	now := tm.now()
	expiresAt := now.Add(tm.ttl)
	claims := &Claims{
		ProfileType: profile.Type(),
		Name:        profile.Ref().Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   profile.ProfileID(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ParseToken validates and returns claims.
func (tm *TokenManager) ParseToken(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
