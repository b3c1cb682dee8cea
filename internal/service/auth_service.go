package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"smile-api/internal/model"
	"smile-api/internal/repository"
	"smile-api/internal/ws"
	"smile-api/pkg/jwt"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = fmt.Errorf("%w: user not found", ErrNotFound)
	ErrUserInactive       = errors.New("user account is inactive")
	ErrWrongPassword      = errors.New("current password is incorrect")
	ErrSessionTimeout     = errors.New("session expired due to inactivity")
	ErrSessionReplaced    = errors.New("session expired (logged in on another device)")
)

// AuthService is the session resolver: it issues tokens and turns them back into identities.
type AuthService interface {
	Login(ctx context.Context, email, password string) (*LoginResponse, error)
	ResetPassword(ctx context.Context, email, oldPassword, newPassword string) error
	ValidateToken(ctx context.Context, tokenString string) (*TokenValidationResponse, error)
	Authenticate(ctx context.Context, tokenString string) (*model.Identity, error)
	Heartbeat(ctx context.Context, userID uuid.UUID) error
}

type LoginResponse struct {
	Token       string             `json:"token"`
	User        model.UserResponse `json:"user"`
	Role        *model.Role        `json:"role"`
	Permissions []string           `json:"permissions"` // Flat permission names for client-side checks
}

type TokenValidationResponse struct {
	User        model.UserResponse `json:"user"`
	Role        *model.Role        `json:"role"`
	Permissions []string           `json:"permissions"`
}

type authService struct {
	userRepo    repository.UserRepository
	roleRepo    repository.RoleRepository
	tokens      *jwt.Manager
	notifier    Notifier
	idleTimeout time.Duration
	now         func() time.Time
}

func NewAuthService(userRepo repository.UserRepository, roleRepo repository.RoleRepository, tokens *jwt.Manager, notifier Notifier, idleTimeout time.Duration) AuthService {
	return &authService{
		userRepo:    userRepo,
		roleRepo:    roleRepo,
		tokens:      tokens,
		notifier:    notifier,
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

func (s *authService) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	if !user.CheckPassword(password) {
		return nil, ErrInvalidCredentials
	}

	// Single session: a new token version invalidates every older token.
	now := s.now()
	user.TokenVersion = uuid.New().String()
	user.LastSeenAt = &now
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	token, err := s.tokens.GenerateToken(user.ID, user.Email, user.FullName, user.TokenVersion)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	names, err := s.permissionNames(ctx, user)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{
		Token:       token,
		User:        user.ToResponse(),
		Role:        user.Role,
		Permissions: names,
	}, nil
}

func (s *authService) ResetPassword(ctx context.Context, email, oldPassword, newPassword string) error {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	if !user.CheckPassword(oldPassword) {
		return ErrWrongPassword
	}
	if err := user.SetPassword(newPassword); err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.userRepo.UpdatePassword(ctx, user.ID, user.Password); err != nil {
		return err
	}
	// Force re-login everywhere
	return s.userRepo.UpdateTokenVersion(ctx, user.ID, uuid.New().String())
}

func (s *authService) ValidateToken(ctx context.Context, tokenString string) (*TokenValidationResponse, error) {
	user, err := s.resolve(ctx, tokenString)
	if err != nil {
		return nil, err
	}

	if user.LastSeenAt == nil || s.now().Sub(*user.LastSeenAt) > s.idleTimeout {
		return nil, ErrSessionTimeout
	}

	names, err := s.permissionNames(ctx, user)
	if err != nil {
		return nil, err
	}
	return &TokenValidationResponse{
		User:        user.ToResponse(),
		Role:        user.Role,
		Permissions: names,
	}, nil
}

// Authenticate resolves a bearer token to the caller's identity.
func (s *authService) Authenticate(ctx context.Context, tokenString string) (*model.Identity, error) {
	user, err := s.resolve(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	return model.NewIdentity(user), nil
}

func (s *authService) Heartbeat(ctx context.Context, userID uuid.UUID) error {
	if err := s.userRepo.UpdateLastSeen(ctx, userID); err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.Publish(ws.EventUserStatusUpdate, map[string]any{
			"user_id":      userID.String(),
			"status":       "online",
			"last_seen_at": s.now(),
		})
	}
	return nil
}

func (s *authService) resolve(ctx context.Context, tokenString string) (*model.User, error) {
	claims, err := s.tokens.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	user, err := s.userRepo.FindByID(ctx, claims.UserID)
	if errors.Is(err, repository.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	if user.TokenVersion != claims.TokenVersion {
		return nil, ErrSessionReplaced
	}
	return user, nil
}

func (s *authService) permissionNames(ctx context.Context, user *model.User) ([]string, error) {
	names := []string{}
	if user.RoleID == nil {
		return names, nil
	}
	perms, err := s.roleRepo.FindPermissions(ctx, *user.RoleID)
	if err != nil {
		return nil, err
	}
	for _, p := range perms {
		names = append(names, p.Name)
	}
	return names, nil
}
