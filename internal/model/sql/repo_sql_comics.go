package sql

import (
	"comicstrip/internal/entity"
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errDailyLimitReached rolls back the consume transaction without surfacing as a failure.
var errDailyLimitReached = errors.New("daily generation limit reached")

// CountComicsOnDay counts generation records for the user on the given UTC day.
// Soft-deleted history still counts toward the day.
func (r *GormRepository) CountComicsOnDay(ctx context.Context, userID, day string) (int64, error) {
	if r == nil || r.db == nil {
		return 0, fmt.Errorf("repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("user id is empty")
	}

	var count int64
	err := r.db.WithContext(ctx).Unscoped().Model(&entity.DbComic{}).
		Where("user_id = ? AND created_on = ?", userID, day).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ConsumeCredit inserts the record only while the user's count for record.CreatedOn
// is below dailyLimit. Concurrent callers for the same (user, day) are serialised on
// the quota counter row, so two requests can never both take the last slot.
func (r *GormRepository) ConsumeCredit(ctx context.Context, record *entity.DbComic, dailyLimit int64) (bool, error) {
	if r == nil || r.db == nil {
		return false, fmt.Errorf("repository not initialised")
	}
	if record == nil {
		return false, fmt.Errorf("comic record is nil")
	}
	if strings.TrimSpace(record.UserID) == "" || strings.TrimSpace(record.CreatedOn) == "" {
		return false, fmt.Errorf("comic record missing user or day")
	}
	if strings.TrimSpace(record.GenerationID) == "" {
		return false, fmt.Errorf("comic record missing generation id")
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		counter := entity.DbQuotaCounter{UserID: record.UserID, Day: record.CreatedOn}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&counter).Error; err != nil {
			return fmt.Errorf("ensure quota counter: %w", err)
		}

		// 行锁：同一用户同一天的扣减在此串行化
		if err := tx.Model(&entity.DbQuotaCounter{}).
			Where("user_id = ? AND day = ?", record.UserID, record.CreatedOn).
			UpdateColumn("attempts", gorm.Expr("attempts + ?", 1)).Error; err != nil {
			return fmt.Errorf("lock quota counter: %w", err)
		}

		var used int64
		if err := tx.Unscoped().Model(&entity.DbComic{}).
			Where("user_id = ? AND created_on = ?", record.UserID, record.CreatedOn).
			Count(&used).Error; err != nil {
			return fmt.Errorf("count comics: %w", err)
		}
		if used >= dailyLimit {
			return errDailyLimitReached
		}

		return tx.Create(record).Error
	})
	if errors.Is(err, errDailyLimitReached) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateComicScreenshot sets the screenshot on an existing record. It never
// inserts; a missing record yields gorm.ErrRecordNotFound.
func (r *GormRepository) UpdateComicScreenshot(ctx context.Context, generationID, screenshotURL string) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	generationID = strings.TrimSpace(generationID)
	if generationID == "" {
		return fmt.Errorf("generation id is empty")
	}

	result := r.db.WithContext(ctx).Model(&entity.DbComic{}).
		Where("generation_id = ?", generationID).
		Update("screenshot_url", screenshotURL)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetComicByGenerationID loads a comic by its generation id.
func (r *GormRepository) GetComicByGenerationID(ctx context.Context, generationID string) (*entity.DbComic, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	generationID = strings.TrimSpace(generationID)
	if generationID == "" {
		return nil, fmt.Errorf("generation id is empty")
	}

	var comic entity.DbComic
	if err := r.db.WithContext(ctx).Where("generation_id = ?", generationID).First(&comic).Error; err != nil {
		return nil, err
	}
	return &comic, nil
}

// ListComics returns a user's comics, newest first.
func (r *GormRepository) ListComics(ctx context.Context, params *entity.ComicQuery) ([]entity.DbComic, *entity.Meta, error) {
	if r == nil || r.db == nil {
		return nil, nil, fmt.Errorf("repository not initialised")
	}
	if params == nil {
		params = &entity.ComicQuery{}
	}

	query := r.db.WithContext(ctx).Model(&entity.DbComic{})
	if userID := strings.TrimSpace(params.UserID); userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	if day := strings.TrimSpace(params.Day); day != "" {
		query = query.Where("created_on = ?", day)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, nil, err
	}

	page, pageSize, offset := pageWindow(params.BaseParams)

	var comics []entity.DbComic
	if err := query.Order("created_at DESC").Order("id DESC").Offset(offset).Limit(pageSize).Find(&comics).Error; err != nil {
		return nil, nil, err
	}
	return comics, r.calculatePagination(total, page, pageSize), nil
}

// DeleteComic soft-deletes a comic. The record keeps counting toward that day's quota.
func (r *GormRepository) DeleteComic(ctx context.Context, generationID string) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	generationID = strings.TrimSpace(generationID)
	if generationID == "" {
		return fmt.Errorf("generation id is empty")
	}

	result := r.db.WithContext(ctx).Where("generation_id = ?", generationID).Delete(&entity.DbComic{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
