package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultOpenRouterEndpoint = "https://openrouter.ai/api/v1/chat/completions"

// OpenRouter drives both collaborators through OpenRouter (or any
// OpenAI-compatible chat completions endpoint): a text model expands the
// prompt, an image-capable model renders panels.
type OpenRouter struct {
	apiKey     string
	endpoint   string
	textModel  string
	imageModel string
	panelCount int
	http       *http.Client
	streamHTTP *http.Client
}

// NewOpenRouter creates an OpenRouter driver.
func NewOpenRouter(apiKey, endpoint, textModel, imageModel string, panelCount int) (*OpenRouter, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("openrouter api key is not configured")
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = defaultOpenRouterEndpoint
	}
	if panelCount <= 0 {
		panelCount = 6
	}
	return &OpenRouter{
		apiKey:     apiKey,
		endpoint:   endpoint,
		textModel:  strings.TrimSpace(textModel),
		imageModel: strings.TrimSpace(imageModel),
		panelCount: panelCount,
		http:       &http.Client{Timeout: 2 * time.Minute},
		streamHTTP: &http.Client{Timeout: 0}, // SSE 不要超短超时
	}, nil
}

// ExpandPrompt asks the text model for a panel script.
func (o *OpenRouter) ExpandPrompt(ctx context.Context, prompt string) (*Expansion, error) {
	logger := providerLogger(ctx, "openrouter", o.textModel)
	logger.WithField("prompt_preview", logSnippet(prompt)).Info("prompt_expansion_start")

	expansion, err := ExpandPromptByOpenaiProtocol(ctx, o.http, o.apiKey, o.endpoint, o.textModel, prompt, o.panelCount)
	if err != nil {
		logger.WithError(err).Warn("prompt_expansion_failed")
		return nil, err
	}
	logger.WithField("prompt_count", len(expansion.Prompts)).Info("prompt_expansion_done")
	return expansion, nil
}

// SynthesizeImages renders panels one at a time; any failure aborts the set.
func (o *OpenRouter) SynthesizeImages(ctx context.Context, prompts []string) ([]string, error) {
	if len(prompts) == 0 {
		return nil, ErrEmptyPrompts
	}
	logger := providerLogger(ctx, "openrouter", o.imageModel)
	logger.WithField("prompt_count", len(prompts)).Info("image_synthesis_start")

	images := make([]string, 0, len(prompts))
	for idx, prompt := range prompts {
		url, _, err := GenerateImageOR(ctx, o.streamHTTP, o.apiKey, o.endpoint, o.imageModel, prompt)
		if err != nil {
			logger.WithError(err).WithField("panel", idx+1).Warn("image_synthesis_failed")
			return nil, fmt.Errorf("panel %d: %w", idx+1, err)
		}
		images = append(images, url)
	}
	logger.WithField("image_count", len(images)).Info("image_synthesis_done")
	return images, nil
}
