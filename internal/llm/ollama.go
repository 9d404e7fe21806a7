package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// DefaultOllamaURL is used when neither Config.BaseURL nor OLLAMA_HOST is set.
const DefaultOllamaURL = "http://127.0.0.1:11434"

type Ollama struct {
	client *api.Client
	model  string
	system string
}

func NewOllama(cfg Config, httpClient *http.Client) (*Ollama, error) {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultOllamaURL
	}
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("llm: ollama url %q: %w", base, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Ollama{
		client: api.NewClient(u, httpClient),
		model:  cfg.Model,
		system: cfg.SystemPrompt,
	}, nil
}

func (o *Ollama) Complete(ctx context.Context, prompt string) (string, error) {
	var msgs []api.Message
	if o.system != "" {
		msgs = append(msgs, api.Message{Role: "system", Content: o.system})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})

	stream := false
	var out strings.Builder
	err := o.client.Chat(ctx, &api.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   &stream,
	}, func(r api.ChatResponse) error {
		out.WriteString(r.Message.Content)
		return nil
	})
	if err != nil {
		return "", wrap("chat", err)
	}

	content := strings.TrimSpace(out.String())
	if content == "" {
		return "", wrap("chat", errors.New("empty message content"))
	}
	slog.Debug("Completion ready", "provider", "ollama", "model", o.model, "chars", len(content))
	return content, nil
}
