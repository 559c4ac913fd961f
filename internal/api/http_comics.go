package api

import (
	"comicstrip/internal/entity"
	"comicstrip/internal/quota"
	"comicstrip/internal/service"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// GenerateComic 提交一次漫画生成，同步返回六格版式
func (h *HTTPHandler) GenerateComic(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		Unauthorized(c, "authentication required")
		return
	}

	var req entity.GenerateComicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		InvalidPayload(c)
		return
	}

	result, err := h.comicService.Generate(c.Request.Context(), service.GenerateRequest{
		UserID:   requestUser.UserKey(),
		ClientID: strings.TrimSpace(req.ClientID),
		Prompt:   req.Prompt,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyPrompt):
			MissingField(c, "prompt")
		case errors.Is(err, service.ErrUnauthenticated):
			Unauthorized(c, "authentication required")
		case errors.Is(err, service.ErrOutOfCredits):
			OutOfCredits(c, quota.MaxCredits)
		case errors.Is(err, service.ErrGenerationFailed):
			ErrorResponse(c, http.StatusBadGateway, ErrCodeGenerationFailed, "漫画生成失败，请稍后重试")
		default:
			logrus.WithError(err).WithField("user_id", requestUser.ID).Error("unexpected generation error")
			InternalError(c, "failed to generate comic")
		}
		return
	}

	c.JSON(http.StatusOK, entity.GenerateComicResponse{
		GenerationID: result.GenerationID,
		Panels:       result.Panels,
		Slots:        result.Slots,
		ImageURLs:    service.PanelImages(result.Panels),
		ImgDesc:      service.PanelDescriptions(result.Panels),
		Credits:      result.Credits,
		MaxCredits:   quota.MaxCredits,
		Recorded:     result.Recorded,
		Stale:        result.Stale,
	})
}

// AttachScreenshot 上传页面渲染后的漫画截图
func (h *HTTPHandler) AttachScreenshot(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		Unauthorized(c, "authentication required")
		return
	}

	generationID := strings.TrimSpace(c.Param("generation_id"))
	if generationID == "" {
		MissingField(c, "generation_id")
		return
	}

	// base64 膨胀约 4/3，再留出 JSON 包装的余量
	limit := int64(h.cfg.ScreenshotMaxBytes)*4/3 + 64<<10
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	var req entity.ScreenshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ErrorResponse(c, http.StatusRequestEntityTooLarge, ErrCodeScreenshotTooLarge, "screenshot too large")
			return
		}
		if errors.Is(err, io.EOF) {
			MissingField(c, "screenshot")
			return
		}
		InvalidPayload(c)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	url, err := h.comicService.AttachScreenshot(ctx, requestUser.UserKey(), req.ClientID, generationID, req.Screenshot)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrComicNotFound):
			NotFound(c, ErrCodeComicNotFound, "comic not found")
		case errors.Is(err, service.ErrOutOfCredits):
			OutOfCredits(c, quota.MaxCredits)
		case errors.Is(err, service.ErrScreenshotTooLarge):
			ErrorResponse(c, http.StatusRequestEntityTooLarge, ErrCodeScreenshotTooLarge, "screenshot too large")
		case errors.Is(err, service.ErrInvalidScreenshot):
			BadRequest(c, ErrCodeInvalidRequest, "screenshot must be a base64 image data URL")
		case errors.Is(err, service.ErrStorageNotConfigured):
			ServiceUnavailable(c, "storage not configured")
		default:
			logrus.WithError(err).WithFields(logrus.Fields{
				"user_id":       requestUser.ID,
				"generation_id": generationID,
			}).Error("failed to attach screenshot")
			InternalError(c, "failed to save screenshot")
		}
		return
	}

	c.JSON(http.StatusOK, entity.ScreenshotResponse{
		GenerationID:  generationID,
		ScreenshotURL: url,
	})
}

// ListComics 当前用户的历史生成记录
func (h *HTTPHandler) ListComics(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		Unauthorized(c, "authentication required")
		return
	}

	var query entity.ComicQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		BadRequest(c, ErrCodeInvalidRequest, "invalid query parameters")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	comics, meta, err := h.comicService.ListComics(ctx, requestUser.UserKey(), query)
	if err != nil {
		logrus.WithError(err).WithField("user_id", requestUser.ID).Error("failed to list comics")
		InternalError(c, "failed to load comics")
		return
	}

	items := make([]entity.ComicItem, 0, len(comics))
	for idx := range comics {
		items = append(items, h.makeComicItem(&comics[idx]))
	}
	if meta == nil {
		meta = &entity.Meta{Page: 1, PageSize: int64(len(items)), Total: int64(len(items))}
	}

	c.JSON(http.StatusOK, entity.ComicListResponse{Comics: items, Meta: meta})
}

// GetComic 单条生成记录
func (h *HTTPHandler) GetComic(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		Unauthorized(c, "authentication required")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	comic, err := h.comicService.GetComic(ctx, requestUser.UserKey(), c.Param("generation_id"))
	if err != nil {
		if errors.Is(err, service.ErrComicNotFound) {
			NotFound(c, ErrCodeComicNotFound, "comic not found")
			return
		}
		logrus.WithError(err).Error("failed to load comic")
		InternalError(c, "failed to load comic")
		return
	}

	c.JSON(http.StatusOK, entity.ComicDetailResponse{Comic: h.makeComicItem(comic)})
}

// DeleteComic 删除历史记录，不返还额度
func (h *HTTPHandler) DeleteComic(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		Unauthorized(c, "authentication required")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.comicService.DeleteComic(ctx, requestUser.UserKey(), c.Param("generation_id")); err != nil {
		if errors.Is(err, service.ErrComicNotFound) {
			NotFound(c, ErrCodeComicNotFound, "comic not found")
			return
		}
		logrus.WithError(err).Error("failed to delete comic")
		InternalError(c, "failed to delete comic")
		return
	}

	c.Status(http.StatusNoContent)
}

// StreamComicEvents 推送生成完成与额度变化事件
func (h *HTTPHandler) StreamComicEvents(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		Unauthorized(c, "authentication required")
		return
	}

	clientID := strings.TrimSpace(c.Query("client_id"))
	if clientID == "" {
		MissingField(c, "client_id")
		return
	}

	key := sseKey(requestUser.UserKey(), clientID)
	ctx := c.Request.Context()
	events := make(chan sseMessage, 8)
	h.registerSSEClient(key, events)
	defer h.unregisterSSEClient(key, events)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	// 连接建立后先推送一次当前额度
	c.SSEvent(service.EventCreditsUpdated, gin.H{
		"credits":     h.comicService.Credits(ctx, requestUser.UserKey(), clientID),
		"max_credits": quota.MaxCredits,
	})
	if flusher, ok := c.Writer.(http.Flusher); ok {
		flusher.Flush()
	}

	heartbeatTicker := time.NewTicker(10 * time.Second)
	defer heartbeatTicker.Stop()

	logger := logrus.WithFields(logrus.Fields{
		"user_id":   requestUser.ID,
		"client_id": clientID,
	})
	logger.Info("comic sse connected")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			logger.Info("comic sse disconnected")
			return false
		case <-heartbeatTicker.C:
			c.SSEvent("ping", gin.H{"ts": time.Now().UnixMilli()})
			return true
		case msg, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(msg.event, msg.data)
			return true
		}
	})
}

func (h *HTTPHandler) makeComicItem(comic *entity.DbComic) entity.ComicItem {
	panels := service.BuildPanels(comic.PanelImages.ToSlice(), comic.PanelDescriptions.ToSlice())
	for idx := range panels {
		panels[idx].ImageURL = h.publicURL(panels[idx].ImageURL)
	}
	return entity.ComicItem{
		ID:            comic.ID,
		GenerationID:  comic.GenerationID,
		Prompt:        comic.Prompt,
		CreatedOn:     comic.CreatedOn,
		CreatedAt:     comic.CreatedAt,
		ScreenshotURL: h.publicURL(comic.ScreenshotURL),
		Panels:        panels,
	}
}
