package repository

import (
	"context"
	"errors"

	"smile-api/internal/model"

	"gorm.io/gorm"
)

type PermissionRepository interface {
	FindAll(ctx context.Context) ([]model.Permission, error)
	FindByID(ctx context.Context, id uint) (*model.Permission, error)
	FindByName(ctx context.Context, name string) (*model.Permission, error)
	Create(ctx context.Context, permission *model.Permission) error
	SeedDefaults(ctx context.Context) error
}

type permissionRepo struct {
	db *gorm.DB
}

func NewPermissionRepo(db *gorm.DB) PermissionRepository {
	return &permissionRepo{db: db}
}

func (r *permissionRepo) FindAll(ctx context.Context) ([]model.Permission, error) {
	var permissions []model.Permission
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&permissions).Error; err != nil {
		return nil, translate(err)
	}
	return permissions, nil
}

func (r *permissionRepo) FindByID(ctx context.Context, id uint) (*model.Permission, error) {
	var permission model.Permission
	if err := r.db.WithContext(ctx).First(&permission, id).Error; err != nil {
		return nil, translate(err)
	}
	return &permission, nil
}

func (r *permissionRepo) FindByName(ctx context.Context, name string) (*model.Permission, error) {
	var permission model.Permission
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&permission).Error; err != nil {
		return nil, translate(err)
	}
	return &permission, nil
}

func (r *permissionRepo) Create(ctx context.Context, permission *model.Permission) error {
	return translate(r.db.WithContext(ctx).Create(permission).Error)
}

// SeedDefaults creates default permissions if they don't exist
func (r *permissionRepo) SeedDefaults(ctx context.Context) error {
	db := r.db.WithContext(ctx)
	for _, p := range model.DefaultPermissions {
		var existing model.Permission
		err := db.Where("name = ?", p.Name).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := db.Create(&p).Error; err != nil {
				return translate(err)
			}
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}
