package api

import (
	"comicstrip/internal/auth"
	"comicstrip/internal/config"
	"comicstrip/internal/llm"
	"comicstrip/internal/model"
	"comicstrip/internal/quota"
	"comicstrip/internal/service"
	"comicstrip/internal/storage"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// HTTPHandler HTTP 请求处理器
type HTTPHandler struct {
	cfg               config.Config
	repo              model.Repository
	storage           storage.Storage
	storagePublicBase string
	authManager       *auth.Manager

	// 生成协作方，同时通过 /api/prompt-generator、/api/image-generator 对外提供
	expander    llm.PromptExpander
	synthesizer llm.ImageSynthesizer

	// 服务层
	comicService *service.ComicService

	// SSE 客户端管理
	sseClients map[string][]chan sseMessage
	sseMu      sync.Mutex
}

// NewHTTPHandler 创建 HTTP 处理器实例
func NewHTTPHandler(cfg config.Config, repo model.Repository, store storage.Storage, expander llm.PromptExpander, synthesizer llm.ImageSynthesizer) (*HTTPHandler, error) {
	if repo == nil {
		return nil, errors.New("repository is required")
	}

	expiry := time.Duration(cfg.JWTExpirationMinutes) * time.Minute
	authManager, err := auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer, expiry)
	if err != nil {
		return nil, err
	}

	policy, err := quota.ParseReadPolicy(cfg.QuotaReadPolicy)
	if err != nil {
		return nil, err
	}
	if policy == quota.ReadPolicyFailOpen {
		logrus.Info("quota read policy is fail_open, read errors grant full credits")
	}

	handler := &HTTPHandler{
		cfg:               cfg,
		repo:              repo,
		storage:           store,
		storagePublicBase: normalisePublicBase(cfg.StoragePublicBaseURL),
		authManager:       authManager,
		expander:          expander,
		synthesizer:       synthesizer,
		sseClients:        make(map[string][]chan sseMessage),
	}

	// 创建漫画生成服务
	ledger := quota.NewLedger(repo, quota.WithReadPolicy(policy))
	handler.comicService = service.NewComicService(repo, ledger, expander, synthesizer, store, service.Options{
		MirrorPanels:       cfg.MirrorPanelImages,
		Timeout:            cfg.GenerationTimeout,
		ScreenshotMaxBytes: int64(cfg.ScreenshotMaxBytes),
		PublicURL:          handler.publicURL,
	})

	// 设置 SSE 通知回调
	handler.comicService.SetNotifyFunc(handler.notifyComicEvent)

	return handler, nil
}

// RegisterRoutes 注册 API 路由
func (h *HTTPHandler) RegisterRoutes(r gin.IRouter) {
	apiGroup := r.Group("/api")

	authGroup := apiGroup.Group("/auth")
	authGroup.GET("/status", h.AuthStatus)
	authGroup.POST("/register", h.Register)
	authGroup.POST("/login", h.Login)
	authGroup.GET("/me", h.AuthMiddleware(), h.Me)

	protected := apiGroup.Group("")
	protected.Use(h.AuthMiddleware())
	protected.GET("/credits", h.GetCredits)
	protected.GET("/session", h.GetSession)
	protected.GET("/events", h.StreamComicEvents)

	protected.POST("/comics", h.GenerateComic)
	protected.GET("/comics", h.ListComics)
	protected.GET("/comics/:generation_id", h.GetComic)
	protected.DELETE("/comics/:generation_id", h.DeleteComic)
	protected.POST("/comics/:generation_id/screenshot", h.AttachScreenshot)

	protected.POST("/prompt-generator", h.PromptGenerator)
	protected.POST("/image-generator", h.ImageGenerator)

	userAdmin := protected.Group("/users")
	userAdmin.Use(h.RequireAdmin())
	userAdmin.GET("", h.ListUsers)
	userAdmin.POST("", h.CreateUser)
	userAdmin.PATCH(":id", h.UpdateUser)
	userAdmin.DELETE(":id", h.DeleteUser)
}

// normalisePublicBase 规范化公共 URL 基础路径
func normalisePublicBase(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		trimmed = "/files"
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return strings.TrimRight(trimmed, "/")
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	return strings.TrimRight(trimmed, "/")
}

// notifyComicEvent 推送生成事件，完成或失败后同时推送最新额度
func (h *HTTPHandler) notifyComicEvent(userID, clientID string, event service.ComicEvent) {
	if strings.TrimSpace(clientID) == "" {
		return
	}
	key := sseKey(userID, clientID)
	h.publishSSEMessage(key, sseMessage{
		event: event.Type,
		data:  event,
	})
	h.publishSSEMessage(key, sseMessage{
		event: service.EventCreditsUpdated,
		data: gin.H{
			"credits":     event.Credits,
			"max_credits": quota.MaxCredits,
		},
	})
}
