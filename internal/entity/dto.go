package entity

import (
	"encoding/json"
	"time"
)

// PromptGeneratorRequest 分镜提示词扩写端点的请求体
type PromptGeneratorRequest struct {
	Prompt string `json:"prompt"`
}

// PromptGeneratorResponse 分镜提示词扩写端点的响应体。
// img_desc 为对象（按 JS Object.values 顺序读取）或数组。
type PromptGeneratorResponse struct {
	Prompts []string        `json:"prompts"`
	ImgDesc json.RawMessage `json:"img_desc"`
}

// ImageGeneratorRequest 图片生成端点的请求体
type ImageGeneratorRequest struct {
	Prompts []string `json:"prompts"`
}

// ImageGeneratorResponse 图片生成端点的响应体，顺序与请求的 prompts 一一对应
type ImageGeneratorResponse struct {
	ImageURLs []string `json:"imageUrls"`
}

// GeneratorErrorResponse 生成端点的错误响应
type GeneratorErrorResponse struct {
	Message string `json:"message"`
}

// GenerateComicRequest 提交漫画生成
type GenerateComicRequest struct {
	Prompt   string `json:"prompt"`
	ClientID string `json:"client_id,omitempty"` // 客户端ID，用于会话区分与 SSE 推送
}

// GenerateComicResponse 漫画生成结果
type GenerateComicResponse struct {
	GenerationID string       `json:"generation_id"`
	Panels       []Panel      `json:"panels"`
	Slots        []LayoutSlot `json:"slots"`
	ImageURLs    []string     `json:"image_urls"`
	ImgDesc      []string     `json:"img_desc"`
	Credits      int          `json:"credits"`
	MaxCredits   int          `json:"max_credits"`
	Recorded     bool         `json:"recorded"`
	Stale        bool         `json:"stale,omitempty"`
}

// CreditsResponse 当日剩余额度
type CreditsResponse struct {
	Credits    int    `json:"credits"`
	MaxCredits int    `json:"max_credits"`
	Day        string `json:"day"`
}

// SessionResponse 页面可观察的生成会话状态
type SessionResponse struct {
	State       string       `json:"state"`
	LastOutcome string       `json:"last_outcome,omitempty"`
	Loading     bool         `json:"loading"`
	Sequence    uint64       `json:"sequence"`
	Credits     int          `json:"credits"`
	MaxCredits  int          `json:"max_credits"`
	ImageURLs   []string     `json:"image_urls"`
	ImgDesc     []string     `json:"img_desc"`
	Slots       []LayoutSlot `json:"slots"`
	Error       string       `json:"error,omitempty"`
}

// ScreenshotRequest 上传渲染后的漫画截图（data URL）
type ScreenshotRequest struct {
	Screenshot string `json:"screenshot" binding:"required"`
	ClientID   string `json:"client_id,omitempty"`
}

// ScreenshotResponse 截图保存结果
type ScreenshotResponse struct {
	GenerationID  string `json:"generation_id"`
	ScreenshotURL string `json:"screenshot_url"`
}

// ComicItem 历史记录条目
type ComicItem struct {
	ID            uint      `json:"id"`
	GenerationID  string    `json:"generation_id"`
	Prompt        string    `json:"prompt"`
	CreatedOn     string    `json:"created_on"`
	CreatedAt     time.Time `json:"created_at"`
	ScreenshotURL string    `json:"screenshot_url,omitempty"`
	Panels        []Panel   `json:"panels"`
}

type ComicListResponse struct {
	Comics []ComicItem `json:"comics"`
	Meta   *Meta       `json:"meta"`
}

type ComicDetailResponse struct {
	Comic ComicItem `json:"comic"`
}
