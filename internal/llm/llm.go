package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyPrompts is returned when image synthesis is asked for nothing.
var ErrEmptyPrompts = errors.New("no panel prompts to render")

// Expansion is the result of expanding a user prompt into per-panel prompts.
// Descriptions are positionally aligned with Prompts where the collaborator
// returned both.
type Expansion struct {
	Prompts      []string
	Descriptions []string
}

// PromptExpander turns a free-text comic idea into per-panel image prompts
// plus a caption for each panel.
type PromptExpander interface {
	ExpandPrompt(ctx context.Context, prompt string) (*Expansion, error)
}

// ImageSynthesizer renders one image per prompt. The returned references
// (URLs or data URLs) keep the order of prompts.
type ImageSynthesizer interface {
	SynthesizeImages(ctx context.Context, prompts []string) ([]string, error)
}

// CollaboratorError describes a failed call to a generation collaborator.
type CollaboratorError struct {
	Stage   string // "prompt" | "image"
	Status  int
	Message string
}

func (e *CollaboratorError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s generator failed (http %d): %s", e.Stage, e.Status, e.Message)
	}
	return fmt.Sprintf("%s generator failed: %s", e.Stage, e.Message)
}

// cleanExpansion drops blank prompts together with the description at the
// same position, so the two slices stay aligned.
func cleanExpansion(prompts, descriptions []string) *Expansion {
	out := &Expansion{
		Prompts:      make([]string, 0, len(prompts)),
		Descriptions: make([]string, 0, len(descriptions)),
	}
	for i, p := range prompts {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		out.Prompts = append(out.Prompts, trimmed)
		if i < len(descriptions) {
			out.Descriptions = append(out.Descriptions, descriptions[i])
		}
	}
	return out
}
