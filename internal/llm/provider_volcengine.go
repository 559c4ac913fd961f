package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var volcengineImageSizes = []string{"1K", "2K", "4K"}

// Volcengine renders panels with a Doubao Seedream model.
type Volcengine struct {
	apiKey string
	model  string
	size   string

	generate func(ctx context.Context, apiKey, model, prompt, size string) (string, error)
}

// NewVolcengine creates a Volcengine image driver.
func NewVolcengine(apiKey, model, size string) (*Volcengine, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("volcengine api key is not configured")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = "doubao-seedream-4-0-250828"
	}
	size = strings.TrimSpace(size)
	if size != "" && !validVolcengineSize(size) {
		return nil, fmt.Errorf("volcengine does not support size %q", size)
	}
	return &Volcengine{
		apiKey:   strings.TrimSpace(apiKey),
		model:    model,
		size:     size,
		generate: GenerateImageByVolcengineProtocol,
	}, nil
}

func validVolcengineSize(size string) bool {
	for _, allowed := range volcengineImageSizes {
		if strings.EqualFold(allowed, size) {
			return true
		}
	}
	// 宽x高，例如 2048x2048
	parts := strings.Split(strings.ToLower(size), "x")
	if len(parts) != 2 {
		return false
	}
	for _, p := range parts {
		if p == "" || strings.Trim(p, "0123456789") != "" {
			return false
		}
	}
	return true
}

// SynthesizeImages renders one image per prompt, in order. Panels are rendered
// sequentially and the first failure aborts the whole set.
func (v *Volcengine) SynthesizeImages(ctx context.Context, prompts []string) ([]string, error) {
	if len(prompts) == 0 {
		return nil, ErrEmptyPrompts
	}
	logger := providerLogger(ctx, "volcengine", v.model)
	logger.WithField("prompt_count", len(prompts)).Info("image_synthesis_start")

	images := make([]string, 0, len(prompts))
	for idx, prompt := range prompts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		url, err := v.generate(ctx, v.apiKey, v.model, prompt, v.size)
		if err != nil {
			logger.WithError(err).WithField("panel", idx+1).Warn("image_synthesis_failed")
			return nil, fmt.Errorf("panel %d: %w", idx+1, err)
		}
		images = append(images, url)
	}
	logger.WithField("image_count", len(images)).Info("image_synthesis_done")
	return images, nil
}
