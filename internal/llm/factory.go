package llm

import (
	"comicstrip/internal/config"
	"fmt"
	"strings"
)

const (
	DriverEndpoint   = "endpoint"
	DriverOpenRouter = "openrouter"
	DriverVolcengine = "volcengine"
)

// NewPromptExpander picks the prompt-expansion collaborator. A configured
// PROMPT_GENERATOR_URL always wins over the in-process drivers.
func NewPromptExpander(cfg config.Config) (PromptExpander, error) {
	if strings.TrimSpace(cfg.PromptGeneratorURL) != "" {
		return NewEndpointClient(cfg.PromptGeneratorURL, "", nil), nil
	}

	switch driver := strings.ToLower(strings.TrimSpace(cfg.PromptProvider)); driver {
	case DriverOpenRouter, "openai":
		return NewOpenRouter(cfg.OpenRouterAPIKey, cfg.OpenRouterURL, cfg.PromptModel, cfg.ImageModel, cfg.PanelCount)
	default:
		return nil, fmt.Errorf("unsupported prompt provider: %s", cfg.PromptProvider)
	}
}

// NewImageSynthesizer picks the image-generation collaborator. A configured
// IMAGE_GENERATOR_URL always wins over the in-process drivers.
func NewImageSynthesizer(cfg config.Config) (ImageSynthesizer, error) {
	if strings.TrimSpace(cfg.ImageGeneratorURL) != "" {
		return NewEndpointClient("", cfg.ImageGeneratorURL, nil), nil
	}

	switch driver := strings.ToLower(strings.TrimSpace(cfg.ImageProvider)); driver {
	case DriverVolcengine:
		return NewVolcengine(cfg.VolcengineAPIKey, cfg.ImageModel, cfg.ImageSize)
	case DriverOpenRouter:
		return NewOpenRouter(cfg.OpenRouterAPIKey, cfg.OpenRouterURL, cfg.PromptModel, cfg.ImageModel, cfg.PanelCount)
	default:
		return nil, fmt.Errorf("unsupported image provider: %s", cfg.ImageProvider)
	}
}
