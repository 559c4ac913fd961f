package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

type orImageURL struct {
	URL string `json:"url"`
}
type orImage struct {
	Type     string     `json:"type"` // "image_url"
	ImageURL orImageURL `json:"image_url"`
}

type orDelta struct {
	Content string    `json:"content"`
	Images  []orImage `json:"images"`
}
type orChoice struct {
	Delta        orDelta `json:"delta"`
	FinishReason string  `json:"finish_reason"`
	Index        int     `json:"index"`
}
type orStreamChunk struct {
	Choices []orChoice `json:"choices"`
}

type orMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// panelScript is the JSON document the expansion model is asked to return.
type panelScript struct {
	Prompts []string        `json:"prompts"`
	ImgDesc json.RawMessage `json:"img_desc"`
}

func buildExpansionInstruction(panelCount int) string {
	return fmt.Sprintf(`You write comic strips. Split the user's idea into exactly %d sequential panels.
Reply with a single JSON object and nothing else:
{"prompts": ["<detailed image prompt for panel 1>", ...], "img_desc": {"1": "<short caption for panel 1>", ...}}
Every image prompt must restate the characters' appearance and use a consistent comic art style.
Captions are one short sentence each. Provide exactly %d prompts and %d captions.`, panelCount, panelCount, panelCount)
}

// ExpandPromptByOpenaiProtocol asks an OpenAI-compatible chat completion endpoint
// for a panel script and parses it.
func ExpandPromptByOpenaiProtocol(ctx context.Context, httpCli *http.Client, apiKey, endpoint, model, prompt string, panelCount int) (*Expansion, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("chat completion api key missing")
	}

	reqBody := map[string]any{
		"model": model,
		"messages": []orMessage{
			{Role: "system", Content: buildExpansionInstruction(panelCount)},
			{Role: "user", Content: prompt},
		},
		"response_format": map[string]string{"type": "json_object"},
	}
	bs, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bs))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpCli.Do(req)
	if err != nil {
		return nil, &CollaboratorError{Stage: "prompt", Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEndpointBody))
	if err != nil {
		return nil, &CollaboratorError{Stage: "prompt", Status: resp.StatusCode, Message: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		logrus.WithFields(logrus.Fields{
			"apikey":   maskKey(apiKey),
			"endpoint": endpoint,
			"status":   resp.StatusCode,
			"body":     logSnippet(string(body)),
		}).Error("chat completion failed")
		return nil, &CollaboratorError{Stage: "prompt", Status: resp.StatusCode, Message: logSnippet(string(body))}
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, &CollaboratorError{Stage: "prompt", Status: resp.StatusCode, Message: "malformed completion: " + err.Error()}
	}
	if completion.Error != nil && completion.Error.Message != "" {
		return nil, &CollaboratorError{Stage: "prompt", Status: resp.StatusCode, Message: completion.Error.Message}
	}
	if len(completion.Choices) == 0 {
		return nil, &CollaboratorError{Stage: "prompt", Status: resp.StatusCode, Message: "completion has no choices"}
	}

	return parsePanelScript(completion.Choices[0].Message.Content)
}

// parsePanelScript extracts the JSON panel script from model output, tolerating
// markdown code fences and surrounding prose.
func parsePanelScript(content string) (*Expansion, error) {
	content = strings.TrimSpace(content)
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, &CollaboratorError{Stage: "prompt", Message: "model reply has no JSON object"}
	}

	var script panelScript
	if err := json.Unmarshal([]byte(content[start:end+1]), &script); err != nil {
		return nil, &CollaboratorError{Stage: "prompt", Message: "model reply is not a panel script: " + err.Error()}
	}
	descriptions, err := DecodeDescriptions(script.ImgDesc)
	if err != nil {
		return nil, &CollaboratorError{Stage: "prompt", Message: err.Error()}
	}
	expansion := cleanExpansion(script.Prompts, descriptions)
	if len(expansion.Prompts) == 0 {
		return nil, &CollaboratorError{Stage: "prompt", Message: "panel script has no prompts"}
	}
	return expansion, nil
}

// GenerateImageOR streams one image from an OpenRouter image-capable chat model.
func GenerateImageOR(ctx context.Context, httpCli *http.Client, apiKey, baseURL, model, prompt string) (imageURL string, assistantText string, err error) {
	if strings.TrimSpace(apiKey) == "" {
		return "", "", errors.New("openrouter api key missing")
	}

	reqBody := map[string]any{
		"model":      model,
		"messages":   []orMessage{{Role: "user", Content: prompt}},
		"modalities": []string{"image", "text"},
		"stream":     true,
	}

	bs, err := json.Marshal(reqBody)
	if err != nil {
		return "", "", fmt.Errorf("encode openrouter request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL, bytes.NewReader(bs))
	if err != nil {
		return "", "", fmt.Errorf("create openrouter request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpCli.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(io.LimitReader(resp.Body, 1<<20))
		logrus.WithFields(logrus.Fields{
			"apikey":  maskKey(apiKey),
			"baseURL": baseURL,
			"status":  resp.StatusCode,
			"body":    logSnippet(buf.String()),
		}).Error("openrouter generate image failed")
		return "", "", &CollaboratorError{Stage: "image", Status: resp.StatusCode, Message: logSnippet(buf.String())}
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)

	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk orStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			assistantText += delta.Content
		}
		// 只取第一张
		if len(delta.Images) > 0 && delta.Images[0].ImageURL.URL != "" && imageURL == "" {
			imageURL = delta.Images[0].ImageURL.URL
		}
	}
	if err := sc.Err(); err != nil {
		return "", "", err
	}
	if strings.TrimSpace(imageURL) == "" {
		return "", strings.TrimSpace(assistantText), &CollaboratorError{Stage: "image", Message: "no image in streamed response"}
	}
	return imageURL, strings.TrimSpace(assistantText), nil
}
