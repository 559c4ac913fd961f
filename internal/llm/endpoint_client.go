package llm

import (
	"bytes"
	"comicstrip/internal/entity"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const maxEndpointBody = 64 << 20

// EndpointClient calls remote prompt-generator and image-generator endpoints
// that speak the {prompt}→{prompts,img_desc} and {prompts}→{imageUrls} contracts.
type EndpointClient struct {
	promptURL string
	imageURL  string
	http      *http.Client
}

// NewEndpointClient creates a client for the given endpoints. Either URL may be
// empty when the client only serves one side.
func NewEndpointClient(promptURL, imageURL string, httpClient *http.Client) *EndpointClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return &EndpointClient{
		promptURL: strings.TrimSpace(promptURL),
		imageURL:  strings.TrimSpace(imageURL),
		http:      httpClient,
	}
}

// ExpandPrompt posts {prompt} to the prompt-generator endpoint.
func (c *EndpointClient) ExpandPrompt(ctx context.Context, prompt string) (*Expansion, error) {
	if c.promptURL == "" {
		return nil, errors.New("prompt generator url is not configured")
	}
	logger := providerLogger(ctx, "endpoint", "")
	logger.WithField("prompt_preview", logSnippet(prompt)).Info("prompt_expansion_start")

	var resp entity.PromptGeneratorResponse
	if err := c.postJSON(ctx, "prompt", c.promptURL, entity.PromptGeneratorRequest{Prompt: prompt}, &resp); err != nil {
		logger.WithError(err).Warn("prompt_expansion_failed")
		return nil, err
	}

	descriptions, err := DecodeDescriptions(resp.ImgDesc)
	if err != nil {
		return nil, &CollaboratorError{Stage: "prompt", Message: err.Error()}
	}
	expansion := cleanExpansion(resp.Prompts, descriptions)
	if len(expansion.Prompts) == 0 {
		return nil, &CollaboratorError{Stage: "prompt", Message: "response contained no prompts"}
	}

	logger.WithFields(logrus.Fields{
		"prompt_count":      len(expansion.Prompts),
		"description_count": len(expansion.Descriptions),
	}).Info("prompt_expansion_done")
	return expansion, nil
}

// SynthesizeImages posts {prompts} to the image-generator endpoint.
func (c *EndpointClient) SynthesizeImages(ctx context.Context, prompts []string) ([]string, error) {
	if c.imageURL == "" {
		return nil, errors.New("image generator url is not configured")
	}
	if len(prompts) == 0 {
		return nil, ErrEmptyPrompts
	}
	logger := providerLogger(ctx, "endpoint", "")
	logger.WithField("prompt_count", len(prompts)).Info("image_synthesis_start")

	var resp entity.ImageGeneratorResponse
	if err := c.postJSON(ctx, "image", c.imageURL, entity.ImageGeneratorRequest{Prompts: prompts}, &resp); err != nil {
		logger.WithError(err).Warn("image_synthesis_failed")
		return nil, err
	}

	logger.WithField("image_count", len(resp.ImageURLs)).Info("image_synthesis_done")
	return resp.ImageURLs, nil
}

func (c *EndpointClient) postJSON(ctx context.Context, stage, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", stage, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create %s request: %w", stage, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &CollaboratorError{Stage: stage, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxEndpointBody))
	if err != nil {
		return &CollaboratorError{Stage: stage, Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var failure entity.GeneratorErrorResponse
		message := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &failure) == nil && strings.TrimSpace(failure.Message) != "" {
			message = failure.Message
		}
		return &CollaboratorError{Stage: stage, Status: resp.StatusCode, Message: logSnippet(message)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &CollaboratorError{Stage: stage, Status: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}
	return nil
}
