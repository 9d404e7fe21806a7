package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

type OpenAI struct {
	client openai.Client
	model  string
	system string
}

func NewOpenAI(cfg Config, httpClient *http.Client, opts ...option.RequestOption) *OpenAI {
	ro := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if httpClient != nil {
		ro = append(ro, option.WithHTTPClient(httpClient))
	}
	if cfg.BaseURL != "" {
		ro = append(ro, option.WithBaseURL(cfg.BaseURL))
	}
	ro = append(ro, opts...)

	return &OpenAI{
		client: openai.NewClient(ro...),
		model:  cfg.Model,
		system: cfg.SystemPrompt,
	}
}

func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	var msgs []openai.ChatCompletionMessageParamUnion
	if o.system != "" {
		msgs = append(msgs, openai.SystemMessage(o.system))
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openai.ChatModel(o.model),
	})
	if err != nil {
		return "", wrap("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", wrap("chat completion", errors.New("no choices in response"))
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", wrap("chat completion", errors.New("empty message content"))
	}
	slog.Debug("Completion ready", "provider", "openai", "model", o.model, "chars", len(content))
	return content, nil
}
