package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

const profileKey = "auth_profile"

// AuthMiddleware validates bearer tokens and resolves the caller profile.
// Identity records live with the identity provider, so the token claims
// are the whole profile.
type AuthMiddleware struct {
	tokens *TokenManager
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	token, err := bearerToken(c)
	if err != nil {
		return err
	}

	claims, err := m.tokens.ParseToken(token)
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	profile, ok := claims.Profile()
	if !ok {
		return apperrors.NewUnauthorized("unknown profile type")
	}

	c.Locals(profileKey, profile)
	return c.Next()
}

// ProfileFromContext retrieves the authenticated caller.
func ProfileFromContext(c *fiber.Ctx) (domain.Profile, bool) {
	profile, ok := c.Locals(profileKey).(domain.Profile)
	return profile, ok && profile != nil
}

// bearerToken reads the Authorization header. Browsers cannot set headers
// on an EventSource, so the access_token query parameter is accepted too.
func bearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		if token := c.Query("access_token"); token != "" {
			return token, nil
		}
		return "", apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", apperrors.NewUnauthorized("invalid authorization header")
	}
	return parts[1], nil
}
