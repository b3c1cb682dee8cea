package service

import (
	"context"
	"errors"
	"fmt"

	"smile-api/internal/model"
	"smile-api/internal/repository"
	"smile-api/pkg/validator"

	"github.com/google/uuid"
)

var (
	ErrEmailExists  = fmt.Errorf("%w: email already exists", ErrConflict)
	ErrRoleNotFound = fmt.Errorf("%w: role not found", ErrNotFound)
)

type UserService interface {
	CreateUser(ctx context.Context, caller *model.Identity, req *CreateUserRequest) (*model.User, error)
	UpdateUser(ctx context.Context, caller *model.Identity, userID uuid.UUID, req *UpdateUserRequest) (*model.User, error)
	DeleteUser(ctx context.Context, caller *model.Identity, userID uuid.UUID) error
	GetAllUsers(ctx context.Context) ([]model.UserResponse, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*model.UserResponse, error)
}

type CreateUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	FullName string `json:"full_name" validate:"required"`
	RoleID   uint   `json:"role_id" validate:"required"`
}

type UpdateUserRequest struct {
	Email    string  `json:"email" validate:"required,email"`
	Password *string `json:"password,omitempty" validate:"omitempty,min=6"`
	FullName string  `json:"full_name" validate:"required"`
	RoleID   uint    `json:"role_id" validate:"required"`
	IsActive *bool   `json:"is_active"`
}

type userService struct {
	userRepo repository.UserRepository
	roleRepo repository.RoleRepository
}

func NewUserService(userRepo repository.UserRepository, roleRepo repository.RoleRepository) UserService {
	return &userService{
		userRepo: userRepo,
		roleRepo: roleRepo,
	}
}

func (s *userService) CreateUser(ctx context.Context, caller *model.Identity, req *CreateUserRequest) (*model.User, error) {
	if caller == nil {
		return nil, ErrUnauthorized
	}
	if msg := validator.FirstError(req); msg != "" {
		return nil, validationError(msg)
	}

	if existing, _ := s.userRepo.FindByEmail(ctx, req.Email); existing != nil {
		return nil, ErrEmailExists
	}

	role, err := s.roleRepo.FindByID(ctx, req.RoleID)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, err
	}
	if err := canManage(caller, role); err != nil {
		return nil, err
	}

	user := &model.User{
		Email:    req.Email,
		FullName: req.FullName,
		RoleID:   &role.ID,
		IsActive: true,
	}
	user.CreatedBy = caller.UserID.String()
	user.UpdatedBy = caller.UserID.String()

	if err := user.SetPassword(req.Password); err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailExists
		}
		return nil, err
	}
	role.Permissions = nil
	user.Role = role
	return user, nil
}

func (s *userService) UpdateUser(ctx context.Context, caller *model.Identity, userID uuid.UUID, req *UpdateUserRequest) (*model.User, error) {
	if caller == nil {
		return nil, ErrUnauthorized
	}
	if msg := validator.FirstError(req); msg != "" {
		return nil, validationError(msg)
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if user.Role != nil {
		if err := canManage(caller, user.Role); err != nil {
			return nil, err
		}
	}

	if req.Email != user.Email {
		if existing, _ := s.userRepo.FindByEmail(ctx, req.Email); existing != nil {
			return nil, ErrEmailExists
		}
	}

	role, err := s.roleRepo.FindByID(ctx, req.RoleID)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, err
	}
	if err := canManage(caller, role); err != nil {
		return nil, err
	}

	user.Email = req.Email
	user.FullName = req.FullName
	roleID := req.RoleID
	user.RoleID = &roleID
	user.Role = nil
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}
	user.UpdatedBy = caller.UserID.String()

	if req.Password != nil && *req.Password != "" {
		if err := user.SetPassword(*req.Password); err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, err
	}

	return s.userRepo.FindByID(ctx, userID)
}

func (s *userService) DeleteUser(ctx context.Context, caller *model.Identity, userID uuid.UUID) error {
	if caller == nil {
		return ErrUnauthorized
	}
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if user.Role != nil {
		if err := canManage(caller, user.Role); err != nil {
			return err
		}
	}
	return s.userRepo.Delete(ctx, userID)
}

// canManage rejects callers acting on accounts whose role outranks their own.
func canManage(caller *model.Identity, role *model.Role) error {
	if !caller.Level().AtLeast(model.LevelFromPriority(&role.Priority)) {
		return fmt.Errorf("%w: role %q outranks the caller", ErrPermissionDenied, role.Name)
	}
	return nil
}

func (s *userService) GetAllUsers(ctx context.Context) ([]model.UserResponse, error) {
	users, err := s.userRepo.FindAll(ctx)
	if err != nil {
		return nil, err
	}

	responses := make([]model.UserResponse, len(users))
	for i, user := range users {
		responses[i] = user.ToResponse()
	}
	return responses, nil
}

func (s *userService) GetUserByID(ctx context.Context, id uuid.UUID) (*model.UserResponse, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	response := user.ToResponse()
	return &response, nil
}
