package handler

import (
	"log/slog"

	"smile-api/internal/middleware"
	"smile-api/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type PermissionHandler struct {
	authz  service.AuthzService
	logger *slog.Logger
}

func NewPermissionHandler(authz service.AuthzService, logger *slog.Logger) *PermissionHandler {
	return &PermissionHandler{authz: authz, logger: logger}
}

// GetPermissions lists every permission
// GET /api/v1/permissions
func (h *PermissionHandler) GetPermissions(c *fiber.Ctx) error {
	perms, err := h.authz.ListPermissions(c.UserContext(), middleware.Identity(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(perms)
}

// CreatePermission creates a permission
// POST /api/v1/permissions
func (h *PermissionHandler) CreatePermission(c *fiber.Ctx) error {
	var req service.CreatePermissionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid JSON"})
	}

	perm, err := h.authz.CreatePermission(c.UserContext(), middleware.Identity(c), &req)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Permission created successfully",
		"data":    perm,
	})
}

// GetUserPermissions returns a user's role and effective permissions.
// An unknown user yields 200 with an empty structure.
// GET /api/v1/users/:id/permissions
func (h *PermissionHandler) GetUserPermissions(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid user ID"})
	}
	return h.userPermissions(c, userID)
}

// GetMyPermissions returns the caller's own effective permissions
// GET /api/v1/me/permissions
func (h *PermissionHandler) GetMyPermissions(c *fiber.Ctx) error {
	identity := middleware.Identity(c)
	if identity == nil {
		return respondError(c, h.logger, service.ErrUnauthorized)
	}
	return h.userPermissions(c, identity.UserID)
}

func (h *PermissionHandler) userPermissions(c *fiber.Ctx, userID uuid.UUID) error {
	result, err := h.authz.GetUserPermissions(c.UserContext(), middleware.Identity(c), userID)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(result)
}

type checkRequest struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// Check answers whether the caller may perform action on resource
// POST /api/v1/authz/check
func (h *PermissionHandler) Check(c *fiber.Ctx) error {
	var req checkRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid JSON"})
	}

	allowed, err := h.authz.CanAccess(c.UserContext(), middleware.Identity(c), req.Resource, req.Action)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{"allowed": allowed})
}
