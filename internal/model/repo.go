package model

import (
	"comicstrip/internal/entity"
	"context"
)

// Repository 定义数据库操作接口
type Repository interface {
	// 用户管理
	CreateUser(ctx context.Context, user *entity.DbUser) error
	UpdateUser(ctx context.Context, id uint, updates entity.UserUpdates) error
	GetUserByEmail(ctx context.Context, email string) (*entity.DbUser, error)
	GetUserByID(ctx context.Context, id uint) (*entity.DbUser, error)
	ListUsers(ctx context.Context, params *entity.UserQuery) ([]entity.DbUser, *entity.Meta, error)
	DeleteUser(ctx context.Context, id uint) error
	CountUsers(ctx context.Context) (int64, error)

	// 漫画生成记录与额度
	CountComicsOnDay(ctx context.Context, userID, day string) (int64, error)
	ConsumeCredit(ctx context.Context, record *entity.DbComic, dailyLimit int64) (bool, error)
	UpdateComicScreenshot(ctx context.Context, generationID, screenshotURL string) error
	GetComicByGenerationID(ctx context.Context, generationID string) (*entity.DbComic, error)
	ListComics(ctx context.Context, params *entity.ComicQuery) ([]entity.DbComic, *entity.Meta, error)
	DeleteComic(ctx context.Context, generationID string) error
}
