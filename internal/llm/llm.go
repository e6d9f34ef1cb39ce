// Package llm wraps the chat model behind a single Generate call.
package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kalambet/aidbud/internal/media"
)

// Generator produces one model completion for a prompt and its prepared
// attachments.
type Generator interface {
	Generate(ctx context.Context, prompt string, attachments []media.Item) (string, error)
}

// OpenAIGenerator calls an OpenAI-compatible chat completion API. Image
// attachments ride along as inline data URLs; document text is appended to
// the prompt as additional text parts.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator builds a generator against apiKey and model. A
// non-empty baseURL points the client at a compatible local or proxy
// endpoint instead of the OpenAI default.
func NewOpenAIGenerator(apiKey, baseURL, model string) *OpenAIGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, attachments []media.Item) (string, error) {
	message := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(attachments) == 0 {
		message.Content = prompt
	} else {
		parts := []openai.ChatMessagePart{{
			Type: openai.ChatMessagePartTypeText,
			Text: prompt,
		}}
		for _, item := range attachments {
			switch item.Kind {
			case media.KindImage:
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURL(item),
						Detail: openai.ImageURLDetailAuto,
					},
				})
			case media.KindDocument:
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: fmt.Sprintf("Attached document (%s):\n%s", item.Source, item.Text),
				})
			default:
				slog.Warn("skipping unsupported attachment kind", "source", item.Source)
			}
		}
		message.MultiContent = parts
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: []openai.ChatCompletionMessage{message},
	})
	if err != nil {
		return "", fmt.Errorf("creating chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func dataURL(item media.Item) string {
	return "data:" + item.MIME + ";base64," + base64.StdEncoding.EncodeToString(item.Data)
}
