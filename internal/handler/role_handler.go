package handler

import (
	"log/slog"

	"smile-api/internal/middleware"
	"smile-api/internal/service"

	"github.com/gofiber/fiber/v2"
)

type RoleHandler struct {
	authz  service.AuthzService
	logger *slog.Logger
}

func NewRoleHandler(authz service.AuthzService, logger *slog.Logger) *RoleHandler {
	return &RoleHandler{authz: authz, logger: logger}
}

// GetRoles returns all roles with their permissions
// GET /api/v1/roles
func (h *RoleHandler) GetRoles(c *fiber.Ctx) error {
	roles, err := h.authz.ListRoles(c.UserContext(), middleware.Identity(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(roles)
}

// CreateRole creates a role and attaches its initial permissions atomically
// POST /api/v1/roles
func (h *RoleHandler) CreateRole(c *fiber.Ctx) error {
	var req service.CreateRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid JSON"})
	}

	role, err := h.authz.CreateRole(c.UserContext(), middleware.Identity(c), &req)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Role created successfully",
		"data":    role,
	})
}

// GetRolePermissions lists a role's permissions in assignment order
// GET /api/v1/roles/:id/permissions
func (h *RoleHandler) GetRolePermissions(c *fiber.Ctx) error {
	roleID, ok := paramID(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid role ID"})
	}

	perms, err := h.authz.GetRolePermissions(c.UserContext(), middleware.Identity(c), roleID)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(perms)
}

type grantPermissionsRequest struct {
	PermissionIDs []uint `json:"permission_ids"`
}

// GrantPermissions attaches more permissions to an existing role
// POST /api/v1/roles/:id/permissions
func (h *RoleHandler) GrantPermissions(c *fiber.Ctx) error {
	roleID, ok := paramID(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid role ID"})
	}
	var req grantPermissionsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid JSON"})
	}

	role, err := h.authz.GrantPermissionsToRole(c.UserContext(), middleware.Identity(c), roleID, req.PermissionIDs)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{
		"message": "Permissions granted successfully",
		"data":    role,
	})
}

// RevokePermission removes a permission from a role
// DELETE /api/v1/roles/:id/permissions/:permissionId
func (h *RoleHandler) RevokePermission(c *fiber.Ctx) error {
	roleID, ok := paramID(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid role ID"})
	}
	permissionID, ok := paramID(c, "permissionId")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid permission ID"})
	}

	if err := h.authz.RevokePermissionFromRole(c.UserContext(), middleware.Identity(c), roleID, permissionID); err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{"message": "Permission revoked successfully"})
}
