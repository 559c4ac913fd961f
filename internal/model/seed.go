package model

import (
	"comicstrip/internal/auth"
	"comicstrip/internal/config"
	"comicstrip/internal/entity"
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// SeedAdminUser 根据环境变量创建初始管理员账号，已存在时仅在未激活的情况下重新激活。
func SeedAdminUser(ctx context.Context, repo Repository, cfg config.Config) (*entity.DbUser, error) {
	if repo == nil {
		return nil, nil
	}
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	password := strings.TrimSpace(cfg.AdminPassword)
	if email == "" || password == "" {
		return nil, nil
	}

	existing, err := repo.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if !existing.IsActive {
			active := true
			if err := repo.UpdateUser(ctx, existing.ID, entity.UserUpdates{IsActive: &active}); err != nil {
				return nil, err
			}
			existing.IsActive = true
		}
		return existing, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	displayName := strings.TrimSpace(cfg.AdminDisplayName)
	if displayName == "" {
		displayName = "Admin"
	}

	user := &entity.DbUser{
		Email:        email,
		PasswordHash: hash,
		DisplayName:  displayName,
		Role:         entity.UserRoleSuperAdmin,
		IsActive:     true,
	}
	if err := repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}
