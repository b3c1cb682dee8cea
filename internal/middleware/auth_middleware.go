package middleware

import (
	"errors"
	"log/slog"
	"strings"

	"smile-api/internal/model"
	"smile-api/internal/service"
	"smile-api/pkg/jwt"

	"github.com/gofiber/fiber/v2"
)

const identityKey = "identity"

// RequireAuth resolves the bearer token into an Identity and stores it in the request locals.
// Any failure answers 401.
func RequireAuth(auth service.AuthService, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return unauthorized(c)
		}

		// Extract token from "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return unauthorized(c)
		}

		identity, err := auth.Authenticate(c.UserContext(), parts[1])
		if err != nil {
			if !isSessionError(err) && logger != nil {
				logger.Error("resolve session", slog.Any("error", err))
			}
			return unauthorized(c)
		}

		SetIdentity(c, identity)
		return c.Next()
	}
}

// RequirePermission admits the request only if the caller's role grants resource/action.
func RequirePermission(authz service.AuthzService, resource, action string, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		allowed, err := authz.CanAccess(c.UserContext(), Identity(c), resource, action)
		switch {
		case errors.Is(err, service.ErrUnauthorized):
			return unauthorized(c)
		case err != nil:
			if logger != nil {
				logger.Error("permission check", slog.String("resource", resource), slog.String("action", action), slog.Any("error", err))
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
		case !allowed:
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Permission denied"})
		}
		return c.Next()
	}
}

// SetIdentity stores the caller for downstream handlers.
func SetIdentity(c *fiber.Ctx, identity *model.Identity) {
	c.Locals(identityKey, identity)
}

// Identity returns the caller set by RequireAuth, or nil when unauthenticated.
func Identity(c *fiber.Ctx) *model.Identity {
	identity, _ := c.Locals(identityKey).(*model.Identity)
	return identity
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
}

func isSessionError(err error) bool {
	return errors.Is(err, service.ErrUserNotFound) ||
		errors.Is(err, service.ErrUserInactive) ||
		errors.Is(err, service.ErrSessionReplaced) ||
		errors.Is(err, jwt.ErrInvalidToken) ||
		errors.Is(err, jwt.ErrMissingToken)
}
