package entity

import (
	"time"

	"gorm.io/gorm"
)

// DbComic 一次漫画生成的记录，created_on 以 UTC 日期（YYYY-MM-DD）计入每日额度。
type DbComic struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	GenerationID string `gorm:"column:generation_id;type:varchar(64);uniqueIndex;not null" json:"generation_id"`
	UserID       string `gorm:"column:user_id;type:varchar(128);index:idx_comic_user_day,priority:1;not null" json:"user_id"`
	CreatedOn    string `gorm:"column:created_on;type:varchar(10);index:idx_comic_user_day,priority:2;not null" json:"created_on"`
	Prompt       string `gorm:"column:prompt;type:text" json:"prompt"`

	ScreenshotURL     string      `gorm:"column:screenshot_url;type:text" json:"screenshot_url"`
	PanelImages       StringArray `gorm:"column:panel_images;type:json" json:"panel_images"`
	PanelDescriptions StringArray `gorm:"column:panel_descriptions;type:json" json:"panel_descriptions"`
}

// TableName 指定表名
func (DbComic) TableName() string {
	return "comics"
}

// DbQuotaCounter 按 (user_id, day) 串行化额度扣减，不作为额度的数据来源。
type DbQuotaCounter struct {
	UserID    string    `gorm:"primaryKey;column:user_id;type:varchar(128)" json:"user_id"`
	Day       string    `gorm:"primaryKey;column:day;type:varchar(10)" json:"day"`
	Attempts  int64     `gorm:"column:attempts;not null;default:0" json:"attempts"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (DbQuotaCounter) TableName() string {
	return "comic_quota_counters"
}

// ComicQuery 历史记录查询参数
type ComicQuery struct {
	BaseParams
	UserID string `json:"-" form:"-" query:"-"`
	Day    string `json:"day" form:"day" query:"day"`
}

// Panel 单格漫画：图片引用与对应描述。
type Panel struct {
	ImageURL    string `json:"image_url"`
	Description string `json:"description"`
}

// LayoutSlot 固定版式中的一个格子，Panel 为空表示该格无图。
type LayoutSlot struct {
	Index    int    `json:"index"`
	GridArea string `json:"grid_area"`
	Height   string `json:"height"`
	Panel    *Panel `json:"panel,omitempty"`
}
