package api

import (
	"comicstrip/internal/entity"
	"comicstrip/internal/quota"
	"comicstrip/internal/service"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// GetCredits 当日剩余额度，每次请求重新计算
func (h *HTTPHandler) GetCredits(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		Unauthorized(c, "authentication required")
		return
	}

	credits := h.comicService.Credits(c.Request.Context(), requestUser.UserKey(), strings.TrimSpace(c.Query("client_id")))
	c.JSON(http.StatusOK, entity.CreditsResponse{
		Credits:    credits,
		MaxCredits: quota.MaxCredits,
		Day:        h.comicService.Ledger().Today(),
	})
}

// GetSession 页面当前的生成会话：loading、额度与六格内容
func (h *HTTPHandler) GetSession(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		Unauthorized(c, "authentication required")
		return
	}

	snap := h.comicService.Snapshot(c.Request.Context(), requestUser.UserKey(), strings.TrimSpace(c.Query("client_id")))
	c.JSON(http.StatusOK, entity.SessionResponse{
		State:       string(snap.State),
		LastOutcome: string(snap.LastOutcome),
		Loading:     snap.Loading,
		Sequence:    snap.Sequence,
		Credits:     snap.Credits,
		MaxCredits:  quota.MaxCredits,
		ImageURLs:   service.PanelImages(snap.Panels),
		ImgDesc:     service.PanelDescriptions(snap.Panels),
		Slots:       service.BuildLayout(snap.Panels),
		Error:       snap.Error,
	})
}
