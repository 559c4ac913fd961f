package service

import (
	"comicstrip/internal/entity"
	"comicstrip/internal/llm"
	"comicstrip/internal/quota"
	"comicstrip/internal/storage"
	"comicstrip/internal/utils"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrEmptyPrompt          = errors.New("prompt is empty")
	ErrUnauthenticated      = errors.New("user identity is required")
	ErrOutOfCredits         = errors.New("no credits left today")
	ErrGenerationFailed     = errors.New("comic generation failed")
	ErrComicNotFound        = errors.New("comic not found")
	ErrScreenshotTooLarge   = errors.New("screenshot too large")
	ErrInvalidScreenshot    = errors.New("invalid screenshot payload")
	ErrStorageNotConfigured = errors.New("storage not configured")
)

const (
	defaultGenerationTimeout  = 10 * time.Minute
	defaultScreenshotMaxBytes = 15 << 20
	maxPanelImageBytes        = 32 << 20
	recordTimeout             = 5 * time.Second
)

// 推送给 SSE 客户端的事件类型
const (
	EventGenerationCompleted = "generation_completed"
	EventGenerationFailed    = "generation_failed"
	EventCreditsUpdated      = "credits_updated"
)

// ComicEvent 推送给页面的事件
type ComicEvent struct {
	Type         string `json:"type"`
	GenerationID string `json:"generation_id,omitempty"`
	Sequence     uint64 `json:"sequence,omitempty"`
	Credits      int    `json:"credits"`
	Stale        bool   `json:"stale,omitempty"`
	Error        string `json:"error,omitempty"`
}

// NotifyFunc 事件通知函数，userID + clientID 定位一个页面
type NotifyFunc func(userID, clientID string, event ComicEvent)

// ComicRepository 服务依赖的仓储能力
type ComicRepository interface {
	quota.Store
	ListComics(ctx context.Context, params *entity.ComicQuery) ([]entity.DbComic, *entity.Meta, error)
	DeleteComic(ctx context.Context, generationID string) error
}

// Options 服务可选项
type Options struct {
	// MirrorPanels 生成后把分镜图片转存到自有存储
	MirrorPanels       bool
	Timeout            time.Duration
	ScreenshotMaxBytes int64
	// PublicURL 把存储路径转换为浏览器可访问的地址
	PublicURL  func(path string) string
	HTTPClient *http.Client
	SessionTTL time.Duration
}

// ComicService 漫画生成服务：扩写分镜、生成图片、记账并维护页面会话
type ComicService struct {
	repo        ComicRepository
	ledger      *quota.Ledger
	expander    llm.PromptExpander
	synthesizer llm.ImageSynthesizer
	storage     storage.Storage
	sessions    *SessionRegistry

	mirrorPanels       bool
	timeout            time.Duration
	screenshotMaxBytes int64
	publicURL          func(string) string
	httpClient         *http.Client

	newID func() string

	// notifyFunc 用于通知生成完成事件（由调用方设置）
	notifyFunc NotifyFunc
}

// NewComicService 创建漫画生成服务实例
func NewComicService(repo ComicRepository, ledger *quota.Ledger, expander llm.PromptExpander, synthesizer llm.ImageSynthesizer, store storage.Storage, opts Options) *ComicService {
	if ledger == nil {
		ledger = quota.NewLedger(repo)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultGenerationTimeout
	}
	if opts.ScreenshotMaxBytes <= 0 {
		opts.ScreenshotMaxBytes = defaultScreenshotMaxBytes
	}
	if opts.PublicURL == nil {
		opts.PublicURL = func(path string) string { return path }
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &ComicService{
		repo:               repo,
		ledger:             ledger,
		expander:           expander,
		synthesizer:        synthesizer,
		storage:            store,
		sessions:           NewSessionRegistry(opts.SessionTTL),
		mirrorPanels:       opts.MirrorPanels,
		timeout:            opts.Timeout,
		screenshotMaxBytes: opts.ScreenshotMaxBytes,
		publicURL:          opts.PublicURL,
		httpClient:         opts.HTTPClient,
		newID:              uuid.NewString,
	}
}

// SetNotifyFunc 设置通知函数（用于 SSE 推送）
func (s *ComicService) SetNotifyFunc(fn NotifyFunc) {
	s.notifyFunc = fn
}

// Ledger 返回额度账本
func (s *ComicService) Ledger() *quota.Ledger {
	return s.ledger
}

// GenerateRequest 生成请求
type GenerateRequest struct {
	UserID   string
	ClientID string
	Prompt   string
}

// GenerateResult 生成结果
type GenerateResult struct {
	GenerationID string
	Sequence     uint64
	Panels       []entity.Panel
	Slots        []entity.LayoutSlot
	Credits      int
	// Recorded 为 false 表示生成成功但记账被拒（并发抢占了最后一次额度）
	Recorded bool
	// Stale 为 true 表示返回前已有更新的提交，结果未应用到会话
	Stale bool
}

// Credits 重新计算用户当日剩余额度并同步到会话
func (s *ComicService) Credits(ctx context.Context, userID, clientID string) int {
	credits := s.ledger.ComputeRemainingCredits(ctx, userID)
	if strings.TrimSpace(userID) != "" {
		s.sessions.Get(userID, clientID).SetCredits(credits)
	}
	return credits
}

// Snapshot 返回页面会话状态，额度每次重新计算
func (s *ComicService) Snapshot(ctx context.Context, userID, clientID string) SessionSnapshot {
	session := s.sessions.Get(userID, clientID)
	session.SetCredits(s.ledger.ComputeRemainingCredits(ctx, userID))
	return session.Snapshot()
}

// Generate runs one full generation: credit check, prompt expansion, image
// synthesis, session update and the Generation Record write.
func (s *ComicService) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if s.expander == nil || s.synthesizer == nil {
		return nil, fmt.Errorf("%w: generators not configured", ErrGenerationFailed)
	}

	logger := logrus.WithFields(logrus.Fields{
		"user_id":   userID,
		"client_id": req.ClientID,
	})

	session := s.sessions.Get(userID, req.ClientID)
	credits := s.ledger.ComputeRemainingCredits(ctx, userID)
	session.SetCredits(credits)
	if credits <= 0 {
		logger.Info("generation rejected, no credits left")
		return nil, ErrOutOfCredits
	}

	seq := session.Begin(prompt)
	defer session.Finish(seq)
	logger = logger.WithField("sequence", seq)

	genCtx, cancelGen := context.WithTimeout(ctx, s.timeout)
	defer cancelGen()

	// 扩写分镜提示词
	expansion, err := s.expander.ExpandPrompt(genCtx, prompt)
	if err != nil {
		return nil, s.failGeneration(logger, session, req, seq, credits, "prompt expansion", err)
	}

	// 生成分镜图片
	images, err := s.synthesizer.SynthesizeImages(genCtx, expansion.Prompts)
	if err == nil && len(images) == 0 {
		err = errors.New("image generator returned no images")
	}
	if err != nil {
		return nil, s.failGeneration(logger, session, req, seq, credits, "image synthesis", err)
	}
	if len(images) != len(expansion.Prompts) {
		logger.WithFields(logrus.Fields{
			"prompt_count": len(expansion.Prompts),
			"image_count":  len(images),
		}).Warn("image count differs from prompt count")
	}

	generationID := s.newID()
	logger = logger.WithField("generation_id", generationID)
	panels := BuildPanels(images, expansion.Descriptions)
	if s.mirrorPanels {
		panels = s.mirrorPanelImages(genCtx, generationID, panels)
	}

	applied := session.Succeed(seq, generationID, prompt, panels)
	if !applied {
		logger.Info("newer submission in progress, result not applied to session")
	}

	// 记账不随请求取消
	recordCtx, cancelRecord := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancelRecord()
	recorded := true
	if err := s.ledger.RecordGeneration(recordCtx, userID, generationID, prompt, panels); err != nil {
		recorded = false
		if errors.Is(err, quota.ErrQuotaExhausted) {
			session.MarkRecordDenied(generationID)
			logger.Warn("generation finished after quota was used up by a concurrent request")
		} else {
			logger.WithError(err).Error("failed to write generation record")
		}
	}

	credits = s.ledger.ComputeRemainingCredits(recordCtx, userID)
	session.SetCredits(credits)

	result := &GenerateResult{
		GenerationID: generationID,
		Sequence:     seq,
		Panels:       panels,
		Slots:        BuildLayout(panels),
		Credits:      credits,
		Recorded:     recorded,
		Stale:        !applied,
	}

	logger.WithFields(logrus.Fields{
		"panel_count": len(panels),
		"credits":     credits,
		"recorded":    recorded,
	}).Info("comic generated")

	s.notify(userID, req.ClientID, ComicEvent{
		Type:         EventGenerationCompleted,
		GenerationID: generationID,
		Sequence:     seq,
		Credits:      credits,
		Stale:        !applied,
	})
	return result, nil
}

func (s *ComicService) failGeneration(logger *logrus.Entry, session *GenerationSession, req GenerateRequest, seq uint64, credits int, stage string, cause error) error {
	logger.WithError(cause).WithField("stage", stage).Error("comic generation failed")
	session.Fail(seq, cause)
	s.notify(req.UserID, req.ClientID, ComicEvent{
		Type:     EventGenerationFailed,
		Sequence: seq,
		Credits:  credits,
		Error:    cause.Error(),
	})
	return fmt.Errorf("%w: %s: %w", ErrGenerationFailed, stage, cause)
}

// AttachScreenshot stores the rendered comic image and links it to the
// generation record. It returns the public URL of the stored screenshot.
func (s *ComicService) AttachScreenshot(ctx context.Context, userID, clientID, generationID, payload string) (string, error) {
	userID = strings.TrimSpace(userID)
	generationID = strings.TrimSpace(generationID)
	if userID == "" {
		return "", ErrUnauthenticated
	}
	if generationID == "" {
		return "", ErrComicNotFound
	}
	if s.storage == nil {
		return "", ErrStorageNotConfigured
	}

	// 先校验归属，避免为他人的生成写入文件
	existing, err := s.repo.GetComicByGenerationID(ctx, generationID)
	switch {
	case err == nil:
		if existing.UserID != userID {
			return "", ErrComicNotFound
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		// 只有记账出错的生成才能由截图补记录，额度被抢占的不行
		session := s.sessions.Get(userID, clientID)
		if session.RecordDenied(generationID) {
			return "", ErrOutOfCredits
		}
		if _, ok := session.PromptFor(generationID); !ok {
			return "", ErrComicNotFound
		}
	default:
		return "", fmt.Errorf("load comic: %w", err)
	}

	data, ext, err := utils.DecodeMediaPayload(payload, s.screenshotMaxBytes)
	if err != nil {
		if errors.Is(err, utils.ErrPayloadTooLarge) {
			return "", ErrScreenshotTooLarge
		}
		return "", fmt.Errorf("%w: %w", ErrInvalidScreenshot, err)
	}

	path, err := s.storage.Save(ctx, data, storage.SaveOptions{
		Category:  storage.CategoryScreenshots,
		Extension: ext,
		BaseName:  storage.ScreenshotBaseName(generationID),
	})
	if err != nil {
		return "", fmt.Errorf("save screenshot: %w", err)
	}
	screenshotURL := s.publicURL(path)

	prompt, _ := s.sessions.Get(userID, clientID).PromptFor(generationID)
	if err := s.ledger.AttachScreenshot(ctx, userID, generationID, prompt, screenshotURL); err != nil {
		if errors.Is(err, quota.ErrComicNotOwned) {
			return "", ErrComicNotFound
		}
		if errors.Is(err, quota.ErrQuotaExhausted) {
			return "", ErrOutOfCredits
		}
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"user_id":       userID,
		"generation_id": generationID,
		"path":          path,
		"bytes":         len(data),
	}).Info("screenshot attached")
	return screenshotURL, nil
}

// ListComics 列出用户的历史生成记录
func (s *ComicService) ListComics(ctx context.Context, userID string, query entity.ComicQuery) ([]entity.DbComic, *entity.Meta, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil, ErrUnauthenticated
	}
	query.UserID = userID
	query.Day = strings.TrimSpace(query.Day)
	return s.repo.ListComics(ctx, &query)
}

// GetComic 获取用户自己的一条生成记录
func (s *ComicService) GetComic(ctx context.Context, userID, generationID string) (*entity.DbComic, error) {
	comic, err := s.repo.GetComicByGenerationID(ctx, strings.TrimSpace(generationID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrComicNotFound
		}
		return nil, err
	}
	if comic.UserID != strings.TrimSpace(userID) {
		return nil, ErrComicNotFound
	}
	return comic, nil
}

// DeleteComic 软删除生成记录，已删除的记录仍计入当日额度
func (s *ComicService) DeleteComic(ctx context.Context, userID, generationID string) error {
	comic, err := s.GetComic(ctx, userID, generationID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteComic(ctx, comic.GenerationID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrComicNotFound
		}
		return err
	}
	return nil
}

// mirrorPanelImages 把分镜图片转存到自有存储，失败时保留原地址
func (s *ComicService) mirrorPanelImages(ctx context.Context, generationID string, panels []entity.Panel) []entity.Panel {
	if s.storage == nil || len(panels) == 0 {
		return panels
	}

	out := make([]entity.Panel, len(panels))
	copy(out, panels)

	var issues []string
	for idx, panel := range out {
		if strings.TrimSpace(panel.ImageURL) == "" {
			continue
		}
		data, ext, err := utils.FetchMedia(ctx, s.httpClient, panel.ImageURL, maxPanelImageBytes)
		if err != nil {
			issues = append(issues, fmt.Sprintf("%d: %v", idx, err))
			continue
		}
		path, err := s.storage.Save(ctx, data, storage.SaveOptions{
			Category:     storage.CategoryPanels,
			Extension:    ext,
			BaseName:     storage.PanelBaseName(generationID, idx),
			SkipIfExists: true,
		})
		if err != nil {
			issues = append(issues, fmt.Sprintf("%d: %v", idx, err))
			continue
		}
		out[idx].ImageURL = s.publicURL(path)
	}

	if len(issues) > 0 {
		logrus.WithFields(logrus.Fields{
			"generation_id": generationID,
			"issues":        strings.Join(issues, "; "),
		}).Warn("failed to mirror some panel images")
	}
	return out
}

// notify 通知页面
func (s *ComicService) notify(userID, clientID string, event ComicEvent) {
	if s.notifyFunc != nil && strings.TrimSpace(clientID) != "" {
		s.notifyFunc(userID, clientID, event)
	}
}
