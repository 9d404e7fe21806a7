// Package config holds the voxtalk configuration: built-in defaults, an
// optional YAML file and environment overrides, in that order.
package config

import (
	"time"

	"voxtalk/internal/audio"
	"voxtalk/internal/bus"
	"voxtalk/internal/capture"
	"voxtalk/internal/conversation"
	"voxtalk/internal/ipc"
	"voxtalk/internal/llm"
	"voxtalk/internal/playback"
	"voxtalk/internal/vad"
)

type Config struct {
	LogLevel string `yaml:"log_level"`

	Audio        AudioConfig         `yaml:"audio"`
	VAD          VADConfig           `yaml:"vad"`
	Capture      capture.Config      `yaml:"capture"`
	Conversation conversation.Config `yaml:"conversation"`
	STT          STTConfig           `yaml:"stt"`
	LLM          llm.Config          `yaml:"llm"`
	TTS          TTSConfig           `yaml:"tts"`
	Duck         playback.DuckConfig `yaml:"duck"`

	Proxy   ProxyConfig   `yaml:"proxy"`
	IPC     IPCConfig     `yaml:"ipc"`
	Metrics MetricsConfig `yaml:"metrics"`
	Bus     bus.Config    `yaml:"bus"`
}

type AudioConfig struct {
	audio.Format `yaml:",inline"`

	// Input is empty for the default microphone, otherwise a wav, mp3 or ogg
	// file replayed as the microphone.
	Input string `yaml:"input"`
	// Realtime paces file input at the frame rate.
	Realtime bool `yaml:"realtime"`
	// DumpDir, if set, receives every captured utterance as a wav file.
	DumpDir string `yaml:"dump_dir"`
}

type VADConfig struct {
	Aggressiveness vad.Aggressiveness `yaml:"aggressiveness"`
	// Threshold overrides the aggressiveness preset with an explicit RMS level.
	Threshold float64 `yaml:"threshold"`
	// BargeInFrames is the run of speech frames that interrupts playback.
	BargeInFrames int `yaml:"barge_in_frames"`
}

type STTConfig struct {
	Model         string  `yaml:"model"`
	Language      string  `yaml:"language"`
	Translate     bool    `yaml:"translate"`
	Threads       int     `yaml:"threads"`
	InitialPrompt string  `yaml:"initial_prompt"`
	BeamSize      int     `yaml:"beam_size"`
	Temperature   float32 `yaml:"temperature"`
}

type TTSConfig struct {
	Voice string `yaml:"voice"`
	Rate  int    `yaml:"rate"`
	Pitch int    `yaml:"pitch"`
	// Buffer is the speaker latency and the bound on stopping playback.
	Buffer time.Duration `yaml:"buffer"`
	// Earcon is an mp3 played before each capture. Empty disables it.
	Earcon string `yaml:"earcon"`
}

type ProxyConfig struct {
	// Socks is a SOCKS5 address used for the language model. Empty dials
	// directly.
	Socks   string        `yaml:"socks"`
	Timeout time.Duration `yaml:"timeout"`
}

type IPCConfig struct {
	Socket string `yaml:"socket"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9464".
	Addr string `yaml:"addr"`
}

func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			Format: audio.Format{SampleRate: 16000, FrameDurationMs: 30},
		},
		VAD: VADConfig{
			Aggressiveness: vad.Aggressive,
			BargeInFrames:  1,
		},
		Capture:      capture.DefaultConfig(),
		Conversation: conversation.DefaultConfig(),
		STT: STTConfig{
			Model:    "models/ggml-base.en.bin",
			Language: "auto",
		},
		LLM: llm.DefaultConfig(),
		TTS: TTSConfig{
			Voice:  "en",
			Rate:   175,
			Buffer: 100 * time.Millisecond,
			Earcon: "beep.mp3",
		},
		Duck:  playback.DefaultDuckConfig(),
		Proxy: ProxyConfig{Timeout: 120 * time.Second},
		IPC:   IPCConfig{Socket: ipc.DefaultSocketPath},
	}
}
