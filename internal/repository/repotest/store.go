// Package repotest provides an in-memory implementation of the repository
// interfaces for tests. It honours the same contracts as the GORM
// repositories: sentinel errors, assignment ordering and all-or-nothing
// role creation.
package repotest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"smile-api/internal/model"
	"smile-api/internal/repository"

	"github.com/google/uuid"
)

type Store struct {
	mu          sync.Mutex
	permissions []model.Permission
	roles       []model.Role
	assignments []model.RolePermission
	users       map[uuid.UUID]model.User
	nextID      uint

	// Err, when set, is returned by every repository call.
	Err error
}

func NewStore() *Store {
	return &Store{users: make(map[uuid.UUID]model.User)}
}

func (s *Store) Permissions() repository.PermissionRepository { return permissionRepo{s} }
func (s *Store) Roles() repository.RoleRepository             { return roleRepo{s} }
func (s *Store) Users() repository.UserRepository             { return userRepo{s} }

// AddPermission inserts a permission directly.
func (s *Store) AddPermission(name, resource, action string) model.Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p := model.Permission{ID: s.nextID, Name: name, Resource: resource, Action: action, CreatedAt: time.Now()}
	s.permissions = append(s.permissions, p)
	return p
}

// AddRole inserts a role and its assignments directly.
func (s *Store) AddRole(name string, priority int, permissionIDs ...uint) model.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	r := model.Role{ID: s.nextID, Name: name, Priority: priority, CreatedAt: time.Now()}
	s.roles = append(s.roles, r)
	for _, id := range permissionIDs {
		s.assign(r.ID, id)
	}
	r.Permissions = s.rolePermissions(r.ID)
	return r
}

// AddUser inserts an active user holding roleID (nil for no role).
func (s *Store) AddUser(email string, roleID *uint) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := model.User{Email: email, FullName: email, RoleID: roleID, IsActive: true}
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	s.users[u.ID] = u
	return s.withRole(u)
}

// SetUser overwrites a stored user.
func (s *Store) SetUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Role = nil
	s.users[u.ID] = u
}

// RoleCount and AssignmentCount expose table sizes.
func (s *Store) RoleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.roles)
}

func (s *Store) AssignmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.assignments)
}

func (s *Store) PermissionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.permissions)
}

func (s *Store) findPermission(id uint) (model.Permission, bool) {
	for _, p := range s.permissions {
		if p.ID == id {
			return p, true
		}
	}
	return model.Permission{}, false
}

func (s *Store) findRole(id uint) (model.Role, bool) {
	for _, r := range s.roles {
		if r.ID == id {
			return r, true
		}
	}
	return model.Role{}, false
}

func (s *Store) assign(roleID, permissionID uint) {
	for _, a := range s.assignments {
		if a.RoleID == roleID && a.PermissionID == permissionID {
			return
		}
	}
	s.nextID++
	s.assignments = append(s.assignments, model.RolePermission{ID: s.nextID, RoleID: roleID, PermissionID: permissionID, CreatedAt: time.Now()})
}

func (s *Store) rolePermissions(roleID uint) []model.Permission {
	out := []model.Permission{}
	for _, a := range s.assignments {
		if a.RoleID != roleID {
			continue
		}
		if p, ok := s.findPermission(a.PermissionID); ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *Store) missingPermissions(ids []uint) []uint {
	var missing []uint
	seen := map[uint]bool{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := s.findPermission(id); !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func (s *Store) withRole(u model.User) model.User {
	if u.RoleID != nil {
		if r, ok := s.findRole(*u.RoleID); ok {
			u.Role = &r
		}
	}
	return u
}

type permissionRepo struct{ s *Store }

func (r permissionRepo) FindAll(ctx context.Context) ([]model.Permission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	return append([]model.Permission{}, r.s.permissions...), nil
}

func (r permissionRepo) FindByID(ctx context.Context, id uint) (*model.Permission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	if p, ok := r.s.findPermission(id); ok {
		return &p, nil
	}
	return nil, repository.ErrRecordNotFound
}

func (r permissionRepo) FindByName(ctx context.Context, name string) (*model.Permission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	for _, p := range r.s.permissions {
		if p.Name == name {
			p := p
			return &p, nil
		}
	}
	return nil, repository.ErrRecordNotFound
}

func (r permissionRepo) Create(ctx context.Context, permission *model.Permission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	for _, p := range r.s.permissions {
		if p.Name == permission.Name {
			return fmt.Errorf("%w: permissions.name", repository.ErrDuplicate)
		}
	}
	r.s.nextID++
	permission.ID = r.s.nextID
	permission.CreatedAt = time.Now()
	r.s.permissions = append(r.s.permissions, *permission)
	return nil
}

func (r permissionRepo) SeedDefaults(ctx context.Context) error {
	for _, p := range model.DefaultPermissions {
		if _, err := r.FindByName(ctx, p.Name); err == nil {
			continue
		}
		p := p
		if err := r.Create(ctx, &p); err != nil {
			return err
		}
	}
	return nil
}

type roleRepo struct{ s *Store }

func (r roleRepo) FindAll(ctx context.Context) ([]model.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	roles := append([]model.Role{}, r.s.roles...)
	sort.SliceStable(roles, func(i, j int) bool {
		if roles[i].Priority != roles[j].Priority {
			return roles[i].Priority < roles[j].Priority
		}
		return roles[i].ID < roles[j].ID
	})
	for i := range roles {
		roles[i].Permissions = r.s.rolePermissions(roles[i].ID)
	}
	return roles, nil
}

func (r roleRepo) FindByID(ctx context.Context, id uint) (*model.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	role, ok := r.s.findRole(id)
	if !ok {
		return nil, repository.ErrRecordNotFound
	}
	role.Permissions = r.s.rolePermissions(id)
	return &role, nil
}

func (r roleRepo) FindByName(ctx context.Context, name string) (*model.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	for _, role := range r.s.roles {
		if role.Name == name {
			role.Permissions = r.s.rolePermissions(role.ID)
			return &role, nil
		}
	}
	return nil, repository.ErrRecordNotFound
}

func (r roleRepo) FindPermissions(ctx context.Context, roleID uint) ([]model.Permission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	return r.s.rolePermissions(roleID), nil
}

func (r roleRepo) CreateWithPermissions(ctx context.Context, role *model.Role, permissionIDs []uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	if missing := r.s.missingPermissions(permissionIDs); len(missing) > 0 {
		return &repository.UnknownPermissionError{IDs: missing}
	}
	for _, existing := range r.s.roles {
		if existing.Name == role.Name {
			return fmt.Errorf("%w: roles.name", repository.ErrDuplicate)
		}
	}
	r.s.nextID++
	role.ID = r.s.nextID
	role.CreatedAt = time.Now()
	stored := *role
	stored.Permissions = nil
	r.s.roles = append(r.s.roles, stored)
	for _, id := range permissionIDs {
		r.s.assign(role.ID, id)
	}
	role.Permissions = r.s.rolePermissions(role.ID)
	return nil
}

func (r roleRepo) AttachPermissions(ctx context.Context, roleID uint, permissionIDs []uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	if missing := r.s.missingPermissions(permissionIDs); len(missing) > 0 {
		return &repository.UnknownPermissionError{IDs: missing}
	}
	for _, id := range permissionIDs {
		r.s.assign(roleID, id)
	}
	return nil
}

func (r roleRepo) DetachPermission(ctx context.Context, roleID, permissionID uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	kept := r.s.assignments[:0]
	for _, a := range r.s.assignments {
		if a.RoleID == roleID && a.PermissionID == permissionID {
			continue
		}
		kept = append(kept, a)
	}
	r.s.assignments = kept
	return nil
}

func (r roleRepo) SeedDefaults(ctx context.Context) error {
	perms, err := permissionRepo(r).FindAll(ctx)
	if err != nil {
		return err
	}
	for _, def := range model.DefaultRoles {
		if _, err := r.FindByName(ctx, def.Name); err == nil {
			continue
		}
		var ids []uint
		names := model.DefaultRolePermissions[def.Name]
		for _, p := range perms {
			if names == nil || contains(names, p.Name) {
				ids = append(ids, p.ID)
			}
		}
		role := def
		if err := r.CreateWithPermissions(ctx, &role, ids); err != nil {
			return err
		}
	}
	return nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

type userRepo struct{ s *Store }

func (r userRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	for _, u := range r.s.users {
		if u.Email == email {
			u = r.s.withRole(u)
			return &u, nil
		}
	}
	return nil, repository.ErrRecordNotFound
}

func (r userRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	u, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrRecordNotFound
	}
	u = r.s.withRole(u)
	return &u, nil
}

func (r userRepo) Create(ctx context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	for _, u := range r.s.users {
		if u.Email == user.Email {
			return fmt.Errorf("%w: users.email", repository.ErrDuplicate)
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = time.Now()
	stored := *user
	stored.Role = nil
	r.s.users[user.ID] = stored
	return nil
}

func (r userRepo) Update(ctx context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	stored := *user
	stored.Role = nil
	stored.UpdatedAt = time.Now()
	r.s.users[user.ID] = stored
	return nil
}

func (r userRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	delete(r.s.users, id)
	return nil
}

func (r userRepo) UpdatePassword(ctx context.Context, userID uuid.UUID, hashedPassword string) error {
	return r.mutate(userID, func(u *model.User) { u.Password = hashedPassword })
}

func (r userRepo) FindAll(ctx context.Context) ([]model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	users := make([]model.User, 0, len(r.s.users))
	for _, u := range r.s.users {
		users = append(users, r.s.withRole(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users, nil
}

func (r userRepo) UpdateTokenVersion(ctx context.Context, userID uuid.UUID, version string) error {
	return r.mutate(userID, func(u *model.User) { u.TokenVersion = version })
}

func (r userRepo) UpdateLastSeen(ctx context.Context, userID uuid.UUID) error {
	return r.mutate(userID, func(u *model.User) {
		now := time.Now()
		u.LastSeenAt = &now
	})
}

func (r userRepo) mutate(id uuid.UUID, fn func(*model.User)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	u, ok := r.s.users[id]
	if !ok {
		return nil
	}
	fn(&u)
	r.s.users[id] = u
	return nil
}
