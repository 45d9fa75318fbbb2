package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/lab-status-service/internal/domain"
	apperrors "github.com/spec-kit/lab-status-service/pkg/util"
)

// RequireRole ensures the principal has one of the allowed roles. No roles means any
// authenticated user.
func RequireRole(allowed ...domain.UserRole) fiber.Handler {
	allowedSet := make(map[domain.UserRole]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[principal.Role]; !exists {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}
