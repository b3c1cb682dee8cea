package repository

import (
	"context"
	"errors"

	"smile-api/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RoleRepository interface {
	FindAll(ctx context.Context) ([]model.Role, error)
	FindByID(ctx context.Context, id uint) (*model.Role, error)
	FindByName(ctx context.Context, name string) (*model.Role, error)
	FindPermissions(ctx context.Context, roleID uint) ([]model.Permission, error)
	CreateWithPermissions(ctx context.Context, role *model.Role, permissionIDs []uint) error
	AttachPermissions(ctx context.Context, roleID uint, permissionIDs []uint) error
	DetachPermission(ctx context.Context, roleID, permissionID uint) error
	SeedDefaults(ctx context.Context) error
}

type roleRepo struct {
	db *gorm.DB
}

func NewRoleRepo(db *gorm.DB) RoleRepository {
	return &roleRepo{db: db}
}

func (r *roleRepo) FindAll(ctx context.Context) ([]model.Role, error) {
	var roles []model.Role
	if err := r.db.WithContext(ctx).Order("priority ASC, id ASC").Find(&roles).Error; err != nil {
		return nil, translate(err)
	}
	for i := range roles {
		perms, err := r.FindPermissions(ctx, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].Permissions = perms
	}
	return roles, nil
}

func (r *roleRepo) FindByID(ctx context.Context, id uint) (*model.Role, error) {
	var role model.Role
	if err := r.db.WithContext(ctx).First(&role, id).Error; err != nil {
		return nil, translate(err)
	}
	perms, err := r.FindPermissions(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return &role, nil
}

func (r *roleRepo) FindByName(ctx context.Context, name string) (*model.Role, error) {
	var role model.Role
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&role).Error; err != nil {
		return nil, translate(err)
	}
	perms, err := r.FindPermissions(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return &role, nil
}

// FindPermissions returns the role's permissions in assignment order.
func (r *roleRepo) FindPermissions(ctx context.Context, roleID uint) ([]model.Permission, error) {
	permissions := []model.Permission{}
	err := r.db.WithContext(ctx).
		Model(&model.Permission{}).
		Select("permissions.*").
		Joins("JOIN role_permissions ON role_permissions.permission_id = permissions.id").
		Where("role_permissions.role_id = ?", roleID).
		Order("role_permissions.id ASC").
		Find(&permissions).Error
	if err != nil {
		return nil, translate(err)
	}
	return permissions, nil
}

// CreateWithPermissions inserts the role and its assignments in one transaction.
// If any permission id is unknown nothing is written.
func (r *roleRepo) CreateWithPermissions(ctx context.Context, role *model.Role, permissionIDs []uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		perms, err := loadPermissions(tx, permissionIDs)
		if err != nil {
			return err
		}
		if err := tx.Create(role).Error; err != nil {
			return translate(err)
		}
		if err := attach(tx, role.ID, perms); err != nil {
			return err
		}
		role.Permissions = perms
		return nil
	})
}

// AttachPermissions adds assignments to an existing role. Already attached ids are skipped.
func (r *roleRepo) AttachPermissions(ctx context.Context, roleID uint, permissionIDs []uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		perms, err := loadPermissions(tx, permissionIDs)
		if err != nil {
			return err
		}
		return attach(tx, roleID, perms)
	})
}

// DetachPermission removes one assignment. Removing an absent assignment is not an error.
func (r *roleRepo) DetachPermission(ctx context.Context, roleID, permissionID uint) error {
	err := r.db.WithContext(ctx).
		Where("role_id = ? AND permission_id = ?", roleID, permissionID).
		Delete(&model.RolePermission{}).Error
	return translate(err)
}

// SeedDefaults creates the default roles and, for roles that have no
// assignments yet, attaches their default permissions. Each role is seeded
// in its own transaction.
func (r *roleRepo) SeedDefaults(ctx context.Context) error {
	for _, defaultRole := range model.DefaultRoles {
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return seedRole(tx, defaultRole)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func seedRole(tx *gorm.DB, defaultRole model.Role) error {
	var role model.Role
	err := tx.Where("name = ?", defaultRole.Name).First(&role).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		role = defaultRole
		if err := tx.Create(&role).Error; err != nil {
			return translate(err)
		}
	} else if err != nil {
		return translate(err)
	}

	var assigned int64
	if err := tx.Model(&model.RolePermission{}).Where("role_id = ?", role.ID).Count(&assigned).Error; err != nil {
		return translate(err)
	}
	if assigned > 0 {
		return nil
	}

	var perms []model.Permission
	q := tx.Order("id ASC")
	if names := model.DefaultRolePermissions[role.Name]; names != nil {
		q = q.Where("name IN ?", names)
	}
	if err := q.Find(&perms).Error; err != nil {
		return translate(err)
	}
	return attach(tx, role.ID, perms)
}

func loadPermissions(tx *gorm.DB, permissionIDs []uint) ([]model.Permission, error) {
	ids := uniqueIDs(permissionIDs)
	if len(ids) == 0 {
		return []model.Permission{}, nil
	}
	var found []model.Permission
	if err := tx.Where("id IN ?", ids).Find(&found).Error; err != nil {
		return nil, translate(err)
	}
	byID := make(map[uint]model.Permission, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}
	ordered := make([]model.Permission, 0, len(ids))
	var missing []uint
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		ordered = append(ordered, p)
	}
	if len(missing) > 0 {
		return nil, &UnknownPermissionError{IDs: missing}
	}
	return ordered, nil
}

func attach(tx *gorm.DB, roleID uint, perms []model.Permission) error {
	if len(perms) == 0 {
		return nil
	}
	rows := make([]model.RolePermission, len(perms))
	for i, p := range perms {
		rows[i] = model.RolePermission{RoleID: roleID, PermissionID: p.ID}
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "role_id"}, {Name: "permission_id"}},
		DoNothing: true,
	}).Create(&rows).Error
	return translate(err)
}
