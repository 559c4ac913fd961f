package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
	volcModel "github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
	"github.com/volcengine/volcengine-go-sdk/volcengine"
)

//文档:https://www.volcengine.com/docs/82379/1824121

const (
	volcEventPartialFailed    = "image_generation.partial_failed"
	volcEventPartialSucceeded = "image_generation.partial_succeeded"
	volcEventCompleted        = "image_generation.completed"
)

// volcImageEvent is one event of the image generation stream.
type volcImageEvent struct {
	Type         string
	URL          string
	ErrorCode    string
	ErrorMessage string
}

func buildVolcengineImageRequest(model, prompt, size string) volcModel.GenerateImagesRequest {
	// 每格一张图，关闭组图
	var sequentialImageGeneration volcModel.SequentialImageGeneration = "disabled"
	maxImages := 1
	req := volcModel.GenerateImagesRequest{
		Model:                     model,
		Prompt:                    prompt,
		ResponseFormat:            volcengine.String(volcModel.GenerateImagesResponseFormatURL), // url：链接在生成后24小时内有效
		Watermark:                 volcengine.Bool(false),
		SequentialImageGeneration: &sequentialImageGeneration,
		SequentialImageGenerationOptions: &volcModel.SequentialImageGenerationOptions{
			MaxImages: &maxImages,
		},
	}
	if size = strings.TrimSpace(size); size != "" {
		req.Size = volcengine.String(size) // 1K、2K、4K 或 宽x高
	}
	return req
}

// GenerateImageByVolcengineProtocol renders a single image with a Seedream model.
func GenerateImageByVolcengineProtocol(ctx context.Context, apiKey, model, prompt, size string) (string, error) {
	client := arkruntime.NewClientWithApiKey(apiKey)

	stream, err := client.GenerateImagesStreaming(ctx, buildVolcengineImageRequest(model, prompt, size))
	if err != nil {
		return "", &CollaboratorError{Stage: "image", Message: err.Error()}
	}
	defer stream.Close()

	return collectVolcengineImage(func() (volcImageEvent, error) {
		recv, err := stream.Recv()
		if err != nil {
			return volcImageEvent{}, err
		}
		event := volcImageEvent{Type: recv.Type}
		if recv.Url != nil {
			event.URL = *recv.Url
		}
		if recv.Error != nil {
			event.ErrorCode = recv.Error.Code
			event.ErrorMessage = recv.Error.Message
		}
		return event, nil
	})
}

// collectVolcengineImage drains the stream and returns the first rendered image.
func collectVolcengineImage(next func() (volcImageEvent, error)) (string, error) {
	var (
		imageURL string
		failure  string
	)
	for {
		event, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", &CollaboratorError{Stage: "image", Message: err.Error()}
		}

		switch event.Type {
		case volcEventPartialFailed:
			failure = event.ErrorMessage
			if strings.EqualFold(event.ErrorCode, "InternalServiceError") {
				return "", &CollaboratorError{Stage: "image", Message: fmt.Sprintf("volcengine: %s", failure)}
			}
		case volcEventPartialSucceeded:
			if event.ErrorMessage == "" && event.URL != "" && imageURL == "" {
				imageURL = strings.TrimSpace(event.URL)
			}
		case volcEventCompleted:
			if event.ErrorMessage != "" {
				failure = event.ErrorMessage
			}
		}
	}

	if imageURL == "" {
		if failure == "" {
			failure = "stream ended without an image"
		}
		return "", &CollaboratorError{Stage: "image", Message: fmt.Sprintf("volcengine: %s", failure)}
	}
	return imageURL, nil
}
