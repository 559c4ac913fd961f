package api

import (
	"comicstrip/internal/entity"
	"comicstrip/internal/llm"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// 两个生成端点沿用 {message} 错误格式，便于外部调用方直接对接

// PromptGenerator {prompt} → {prompts, img_desc}
func (h *HTTPHandler) PromptGenerator(c *gin.Context) {
	if h.expander == nil {
		c.JSON(http.StatusServiceUnavailable, entity.GeneratorErrorResponse{Message: "prompt generator not configured"})
		return
	}

	var req entity.PromptGeneratorRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		c.JSON(http.StatusBadRequest, entity.GeneratorErrorResponse{Message: "prompt is required"})
		return
	}

	expansion, err := h.expander.ExpandPrompt(c.Request.Context(), strings.TrimSpace(req.Prompt))
	if err != nil {
		logrus.WithError(err).Warn("prompt generator failed")
		c.JSON(generatorErrorStatus(err), entity.GeneratorErrorResponse{Message: err.Error()})
		return
	}

	// img_desc 以 "1".."n" 为键，调用方按整数键升序读取
	descriptions := make(map[string]string, len(expansion.Descriptions))
	for idx, desc := range expansion.Descriptions {
		descriptions[strconv.Itoa(idx+1)] = desc
	}
	c.JSON(http.StatusOK, gin.H{
		"prompts":  expansion.Prompts,
		"img_desc": descriptions,
	})
}

// ImageGenerator {prompts} → {imageUrls}
func (h *HTTPHandler) ImageGenerator(c *gin.Context) {
	if h.synthesizer == nil {
		c.JSON(http.StatusServiceUnavailable, entity.GeneratorErrorResponse{Message: "image generator not configured"})
		return
	}

	var req entity.ImageGeneratorRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Prompts) == 0 {
		c.JSON(http.StatusBadRequest, entity.GeneratorErrorResponse{Message: "prompts are required"})
		return
	}

	images, err := h.synthesizer.SynthesizeImages(c.Request.Context(), req.Prompts)
	if err != nil {
		logrus.WithError(err).Warn("image generator failed")
		c.JSON(generatorErrorStatus(err), entity.GeneratorErrorResponse{Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, entity.ImageGeneratorResponse{ImageURLs: images})
}

func generatorErrorStatus(err error) int {
	if errors.Is(err, llm.ErrEmptyPrompts) {
		return http.StatusBadRequest
	}
	var collaboratorErr *llm.CollaboratorError
	if errors.As(err, &collaboratorErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
