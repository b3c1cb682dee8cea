package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"smile-api/internal/metrics"
	"smile-api/internal/model"
	"smile-api/internal/repository"
	"smile-api/internal/ws"
	"smile-api/pkg/validator"

	"github.com/google/uuid"
)

// Notifier receives change events after a mutation commits.
type Notifier interface {
	Publish(eventType string, data any)
}

// AuthzService decides who may do what and manages roles and permissions.
// Every method that takes a caller enforces its own gate.
type AuthzService interface {
	Authorize(ctx context.Context, caller *model.Identity, req model.Requirement) error
	CanAccess(ctx context.Context, caller *model.Identity, resource, action string) (bool, error)
	CanViewUserPermissions(ctx context.Context, caller *model.Identity, userID uuid.UUID) error
	GetUserPermissions(ctx context.Context, caller *model.Identity, userID uuid.UUID) (*UserPermissions, error)
	GetRolePermissions(ctx context.Context, caller *model.Identity, roleID uint) ([]model.Permission, error)
	ListRoles(ctx context.Context, caller *model.Identity) ([]model.Role, error)
	ListPermissions(ctx context.Context, caller *model.Identity) ([]model.Permission, error)
	CreatePermission(ctx context.Context, caller *model.Identity, req *CreatePermissionRequest) (*model.Permission, error)
	CreateRole(ctx context.Context, caller *model.Identity, req *CreateRoleRequest) (*model.Role, error)
	GrantPermissionsToRole(ctx context.Context, caller *model.Identity, roleID uint, permissionIDs []uint) (*model.Role, error)
	RevokePermissionFromRole(ctx context.Context, caller *model.Identity, roleID, permissionID uint) error
}

// UserPermissions is a user's effective permission set. Role is nil when the
// user or their role cannot be resolved.
type UserPermissions struct {
	Role        *model.Role        `json:"role"`
	Permissions []model.Permission `json:"permissions"`
}

type CreatePermissionRequest struct {
	Name        string `json:"name" validate:"notblank,max=100"`
	Description string `json:"description"`
	Resource    string `json:"resource" validate:"max=50"`
	Action      string `json:"action" validate:"max=50"`
}

type CreateRoleRequest struct {
	Name          string `json:"name" validate:"notblank,max=100"`
	Description   string `json:"description"`
	Priority      *int   `json:"priority" validate:"omitempty,min=0"`
	PermissionIDs []uint `json:"permission_ids"`
}

type authzService struct {
	permissionRepo repository.PermissionRepository
	roleRepo       repository.RoleRepository
	userRepo       repository.UserRepository
	notifier       Notifier
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

func NewAuthzService(
	permissionRepo repository.PermissionRepository,
	roleRepo repository.RoleRepository,
	userRepo repository.UserRepository,
	notifier Notifier,
	m *metrics.Metrics,
	logger *slog.Logger,
) AuthzService {
	if logger == nil {
		logger = slog.Default()
	}
	return &authzService{
		permissionRepo: permissionRepo,
		roleRepo:       roleRepo,
		userRepo:       userRepo,
		notifier:       notifier,
		metrics:        m,
		logger:         logger,
	}
}

func (s *authzService) Authorize(ctx context.Context, caller *model.Identity, req model.Requirement) error {
	gate := req.Gate.String()
	if caller == nil {
		s.metrics.ObserveDecision(gate, metrics.OutcomeUnauthenticated)
		return ErrUnauthorized
	}

	var err error
	switch req.Gate {
	case model.GateSuperAdmin:
		if !caller.Level().AtLeast(model.LevelSuperAdmin) {
			err = ErrPermissionDenied
		}
	case model.GateAdmin:
		if !caller.Level().AtLeast(model.LevelAdmin) {
			err = ErrPermissionDenied
		}
	default:
		err = s.checkPermission(ctx, caller, req.Resource, req.Action)
	}

	s.observeDecision(gate, err)
	return err
}

func (s *authzService) CanAccess(ctx context.Context, caller *model.Identity, resource, action string) (bool, error) {
	err := s.Authorize(ctx, caller, model.Requirement{Gate: model.GatePermission, Resource: resource, Action: action})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrPermissionDenied):
		return false, nil
	default:
		return false, err
	}
}

func (s *authzService) CanViewUserPermissions(ctx context.Context, caller *model.Identity, userID uuid.UUID) error {
	if caller == nil {
		s.metrics.ObserveDecision("self", metrics.OutcomeUnauthenticated)
		return ErrUnauthorized
	}
	if caller.UserID == userID {
		s.metrics.ObserveDecision("self", metrics.OutcomeAllowed)
		return nil
	}
	return s.Authorize(ctx, caller, model.Requirement{Gate: model.GateAdmin})
}

func (s *authzService) GetUserPermissions(ctx context.Context, caller *model.Identity, userID uuid.UUID) (*UserPermissions, error) {
	if err := s.CanViewUserPermissions(ctx, caller, userID); err != nil {
		return nil, err
	}

	empty := &UserPermissions{Permissions: []model.Permission{}}
	user, err := s.userRepo.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrRecordNotFound) {
		return empty, nil
	}
	if err != nil {
		return nil, err
	}
	if user.RoleID == nil {
		return empty, nil
	}

	role, err := s.roleRepo.FindByID(ctx, *user.RoleID)
	if errors.Is(err, repository.ErrRecordNotFound) {
		return empty, nil
	}
	if err != nil {
		return nil, err
	}
	perms := role.Permissions
	role.Permissions = nil
	return &UserPermissions{Role: role, Permissions: perms}, nil
}

func (s *authzService) GetRolePermissions(ctx context.Context, caller *model.Identity, roleID uint) ([]model.Permission, error) {
	if err := s.Authorize(ctx, caller, model.Requirement{Gate: model.GateAdmin}); err != nil {
		return nil, err
	}
	role, err := s.findRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	return role.Permissions, nil
}

func (s *authzService) ListRoles(ctx context.Context, caller *model.Identity) ([]model.Role, error) {
	if err := s.Authorize(ctx, caller, model.Requirement{Gate: model.GateAdmin}); err != nil {
		return nil, err
	}
	return s.roleRepo.FindAll(ctx)
}

func (s *authzService) ListPermissions(ctx context.Context, caller *model.Identity) ([]model.Permission, error) {
	if caller == nil {
		return nil, ErrUnauthorized
	}
	return s.permissionRepo.FindAll(ctx)
}

func (s *authzService) CreatePermission(ctx context.Context, caller *model.Identity, req *CreatePermissionRequest) (*model.Permission, error) {
	if err := s.Authorize(ctx, caller, model.Requirement{Gate: model.GateSuperAdmin}); err != nil {
		return nil, err
	}
	if msg := validator.FirstError(req); msg != "" {
		return nil, validationError(msg)
	}

	name := strings.TrimSpace(req.Name)
	if _, err := s.permissionRepo.FindByName(ctx, name); err == nil {
		return nil, fmt.Errorf("%w: permission %q already exists", ErrConflict, name)
	} else if !errors.Is(err, repository.ErrRecordNotFound) {
		return nil, err
	}

	permission := &model.Permission{
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Resource:    normalize(req.Resource),
		Action:      normalize(req.Action),
	}
	err := s.permissionRepo.Create(ctx, permission)
	s.metrics.ObserveMutation("create_permission", err)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, fmt.Errorf("%w: permission %q already exists", ErrConflict, name)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("permission created", slog.Uint64("permission_id", uint64(permission.ID)), slog.String("name", permission.Name), slog.String("by", caller.UserID.String()))
	s.publish(ws.EventPermissionCreated, permission)
	return permission, nil
}

func (s *authzService) CreateRole(ctx context.Context, caller *model.Identity, req *CreateRoleRequest) (*model.Role, error) {
	if err := s.Authorize(ctx, caller, model.Requirement{Gate: model.GateSuperAdmin}); err != nil {
		return nil, err
	}
	if msg := validator.FirstError(req); msg != "" {
		return nil, validationError(msg)
	}

	name := strings.TrimSpace(req.Name)
	if _, err := s.roleRepo.FindByName(ctx, name); err == nil {
		return nil, fmt.Errorf("%w: role %q already exists", ErrConflict, name)
	} else if !errors.Is(err, repository.ErrRecordNotFound) {
		return nil, err
	}

	priority := model.DefaultRolePriority
	if req.Priority != nil {
		priority = *req.Priority
	}
	role := &model.Role{
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Priority:    priority,
	}
	err := s.roleRepo.CreateWithPermissions(ctx, role, req.PermissionIDs)
	s.metrics.ObserveMutation("create_role", err)
	if err != nil {
		return nil, s.mapAssignmentError(err, fmt.Sprintf("role %q already exists", name))
	}

	s.logger.Info("role created", slog.Uint64("role_id", uint64(role.ID)), slog.String("name", role.Name), slog.Int("permissions", len(role.Permissions)))
	s.publish(ws.EventRoleCreated, role)
	return role, nil
}

func (s *authzService) GrantPermissionsToRole(ctx context.Context, caller *model.Identity, roleID uint, permissionIDs []uint) (*model.Role, error) {
	if err := s.Authorize(ctx, caller, model.Requirement{Gate: model.GateSuperAdmin}); err != nil {
		return nil, err
	}
	if len(permissionIDs) == 0 {
		return nil, validationError("permission_ids is required")
	}
	if _, err := s.findRole(ctx, roleID); err != nil {
		return nil, err
	}

	err := s.roleRepo.AttachPermissions(ctx, roleID, permissionIDs)
	s.metrics.ObserveMutation("grant_permissions", err)
	if err != nil {
		return nil, s.mapAssignmentError(err, "permission already granted")
	}

	role, err := s.findRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("permissions granted", slog.Uint64("role_id", uint64(roleID)), slog.Any("permission_ids", permissionIDs))
	s.publish(ws.EventRolePermissionsChanged, map[string]any{"role_id": roleID, "granted": permissionIDs})
	return role, nil
}

func (s *authzService) RevokePermissionFromRole(ctx context.Context, caller *model.Identity, roleID, permissionID uint) error {
	if err := s.Authorize(ctx, caller, model.Requirement{Gate: model.GateAdmin}); err != nil {
		return err
	}
	if _, err := s.findRole(ctx, roleID); err != nil {
		return err
	}
	if _, err := s.permissionRepo.FindByID(ctx, permissionID); err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return fmt.Errorf("%w: permission %d not found", ErrNotFound, permissionID)
		}
		return err
	}

	err := s.roleRepo.DetachPermission(ctx, roleID, permissionID)
	s.metrics.ObserveMutation("revoke_permission", err)
	if err != nil {
		return err
	}

	s.logger.Info("permission revoked", slog.Uint64("role_id", uint64(roleID)), slog.Uint64("permission_id", uint64(permissionID)))
	s.publish(ws.EventRolePermissionsChanged, map[string]any{"role_id": roleID, "revoked": permissionID})
	return nil
}

func (s *authzService) checkPermission(ctx context.Context, caller *model.Identity, resource, action string) error {
	resource, action = normalize(resource), normalize(action)
	if resource == "" || action == "" {
		return validationError("resource and action are required")
	}
	if caller.RoleID == nil {
		return ErrPermissionDenied
	}
	perms, err := s.roleRepo.FindPermissions(ctx, *caller.RoleID)
	if err != nil {
		return err
	}
	for _, p := range perms {
		if p.Matches(resource, action) {
			return nil
		}
	}
	return ErrPermissionDenied
}

func (s *authzService) findRole(ctx context.Context, roleID uint) (*model.Role, error) {
	role, err := s.roleRepo.FindByID(ctx, roleID)
	if errors.Is(err, repository.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: role %d not found", ErrNotFound, roleID)
	}
	return role, err
}

func (s *authzService) mapAssignmentError(err error, duplicateMsg string) error {
	var unknown *repository.UnknownPermissionError
	switch {
	case errors.As(err, &unknown):
		return fmt.Errorf("%w: permissions %v not found", ErrNotFound, unknown.IDs)
	case errors.Is(err, repository.ErrDuplicate):
		return fmt.Errorf("%w: %s", ErrConflict, duplicateMsg)
	default:
		return err
	}
}

func (s *authzService) observeDecision(gate string, err error) {
	switch {
	case err == nil:
		s.metrics.ObserveDecision(gate, metrics.OutcomeAllowed)
	case errors.Is(err, ErrPermissionDenied):
		s.metrics.ObserveDecision(gate, metrics.OutcomeDenied)
	default:
		s.metrics.ObserveDecision(gate, metrics.OutcomeError)
	}
}

func (s *authzService) publish(eventType string, data any) {
	if s.notifier != nil {
		s.notifier.Publish(eventType, data)
	}
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
