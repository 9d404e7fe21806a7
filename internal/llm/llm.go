// Package llm implements conversation.Completer on top of hosted and local
// language models.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrLanguageModel wraps every failure of a completion backend.
var ErrLanguageModel = errors.New("language model error")

const DefaultSystemPrompt = "You are Vox, a friendly voice assistant. Answer in one or two short spoken sentences, no markdown."

type Config struct {
	// Provider is "openai" or "ollama".
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`
	// BaseURL overrides the API endpoint, e.g. an Ollama host.
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		Provider:     "ollama",
		Model:        "phi3.5",
		SystemPrompt: DefaultSystemPrompt,
	}
}

func (c Config) Validate() error {
	var errs []error
	switch c.Provider {
	case "openai":
		if c.APIKey == "" {
			errs = append(errs, errors.New("llm: OPENAI_API_KEY not set"))
		}
	case "ollama":
	default:
		errs = append(errs, fmt.Errorf("llm: unknown provider %q (want openai or ollama)", c.Provider))
	}
	if strings.TrimSpace(c.Model) == "" {
		errs = append(errs, errors.New("llm: model must not be empty"))
	}
	return errors.Join(errs...)
}

// Completer is satisfied by every backend in this package.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// New builds the backend named by cfg.Provider. httpClient may be nil.
func New(cfg Config, httpClient *http.Client) (Completer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Provider == "openai" {
		return NewOpenAI(cfg, httpClient), nil
	}
	return NewOllama(cfg, httpClient)
}

func wrap(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrLanguageModel, op, err)
}
