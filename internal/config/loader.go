package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"voxtalk/internal/vad"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Load decodes the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	ApplyEnv(cfg, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader is Load without the environment, for tests.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg from the environment.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	set(&cfg.LLM.APIKey, "OPENAI_API_KEY")
	set(&cfg.LLM.Provider, "VOXTALK_LLM_PROVIDER")
	set(&cfg.LLM.Model, "VOXTALK_LLM_MODEL")
	set(&cfg.LLM.BaseURL, "VOXTALK_LLM_URL")
	if cfg.LLM.Provider == "ollama" && cfg.LLM.BaseURL == "" {
		if host := strings.TrimSpace(getenv("OLLAMA_HOST")); host != "" {
			if !strings.Contains(host, "://") {
				host = "http://" + host
			}
			cfg.LLM.BaseURL = host
		}
	}

	set(&cfg.STT.Model, "VOXTALK_WHISPER_MODEL")
	set(&cfg.Audio.Input, "VOXTALK_INPUT")
	set(&cfg.Proxy.Socks, "VOXTALK_PROXY")
	set(&cfg.IPC.Socket, "VOXTALK_SOCKET")
	set(&cfg.Bus.URL, "VOXTALK_BUS_URL")
	set(&cfg.Metrics.Addr, "VOXTALK_METRICS_ADDR")
	set(&cfg.LogLevel, "VOXTALK_LOG")
}

// Validate returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error

	if !isLogLevel(cfg.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: %s", cfg.LogLevel, strings.Join(validLogLevels, ", ")))
	}
	if err := vad.ValidateFormat(cfg.Audio.Format); err != nil {
		errs = append(errs, err)
	}
	if err := cfg.VAD.Aggressiveness.Validate(); err != nil {
		errs = append(errs, err)
	}
	if cfg.VAD.Threshold < 0 {
		errs = append(errs, fmt.Errorf("vad.threshold must not be negative, got %v", cfg.VAD.Threshold))
	}
	if cfg.VAD.BargeInFrames < 1 {
		errs = append(errs, fmt.Errorf("vad.barge_in_frames must be at least 1, got %d", cfg.VAD.BargeInFrames))
	}
	if err := cfg.Capture.Validate(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Conversation.CompleteTimeout < 0 || cfg.Conversation.RetryDelay < 0 {
		errs = append(errs, errors.New("conversation timeouts must not be negative"))
	}
	if strings.TrimSpace(cfg.STT.Model) == "" {
		errs = append(errs, errors.New("stt.model must not be empty"))
	}
	if err := cfg.LLM.Validate(); err != nil {
		errs = append(errs, err)
	}
	if cfg.TTS.Buffer < 0 {
		errs = append(errs, fmt.Errorf("tts.buffer must not be negative, got %s", cfg.TTS.Buffer))
	}
	if cfg.Duck.Factor < 0 || cfg.Duck.Factor > 1 {
		errs = append(errs, fmt.Errorf("duck.factor must be in [0, 1], got %v", cfg.Duck.Factor))
	}

	return errors.Join(errs...)
}

func isLogLevel(s string) bool {
	for _, l := range validLogLevels {
		if s == l {
			return true
		}
	}
	return false
}
