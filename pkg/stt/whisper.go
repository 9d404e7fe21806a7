// Package stt transcribes speech with whisper.cpp.
package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"voxtalk/pkg/audioconv"
)

// ErrTranscription wraps every failure to turn audio into text.
var ErrTranscription = errors.New("transcription error")

// SampleRate is the only rate whisper accepts.
const SampleRate = whisper.SampleRate

type Options struct {
	Language      string  `yaml:"language"`       // "auto", "en", "ru"
	TranslateToEn bool    `yaml:"translate"`      // translate non-EN -> EN
	Threads       int     `yaml:"threads"`        // <=0 => NumCPU()
	InitialPrompt string  `yaml:"initial_prompt"` // optional prefix prompt
	BeamSize      int     `yaml:"beam_size"`      // 0 = greedy
	Temperature   float32 `yaml:"temperature"`    // 0 = default
}

type Segment struct {
	Text     string
	StartSec float64
	EndSec   float64
}

type Result struct {
	Text     string
	Segments []Segment
	Language string // detected or forced
}

// Transcriber owns one loaded model. Calls are serialized.
type Transcriber struct {
	mu    sync.Mutex
	model whisper.Model
	opt   Options
}

func NewTranscriber(modelPath string, opt Options) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("stt: empty model path")
	}
	m, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("stt: load model %s: %w", modelPath, err)
	}
	return &Transcriber{model: m, opt: opt}, nil
}

func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.model == nil {
		return nil
	}
	err := t.model.Close()
	t.model = nil
	return err
}

// Transcribe converts mono 16-bit PCM at sampleRate to text. Empty input
// yields "" without error.
func (t *Transcriber) Transcribe(ctx context.Context, samples []int16, sampleRate int) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	if sampleRate <= 0 {
		return "", fmt.Errorf("%w: invalid sample rate %d", ErrTranscription, sampleRate)
	}

	pcm := audioconv.Resample(audioconv.Int16ToFloat32(samples), sampleRate, SampleRate)
	res, err := t.TranscribePCM(ctx, pcm)
	if err != nil {
		return "", err
	}
	slog.Debug("Whisper done", "segments", len(res.Segments), "language", res.Language)
	return res.Text, nil
}

// TranscribePCM runs whisper on mono float32 samples at SampleRate.
func (t *Transcriber) TranscribePCM(ctx context.Context, pcm16k []float32) (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.model == nil {
		return Result{}, fmt.Errorf("%w: nil model", ErrTranscription)
	}
	if len(pcm16k) == 0 {
		return Result{}, nil
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	wctx, err := t.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("%w: new context: %w", ErrTranscription, err)
	}
	if err := configure(wctx, t.opt); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTranscription, err)
	}

	if err := wctx.Process(pcm16k, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("%w: process: %w", ErrTranscription, err)
	}

	var segs []Segment
	var parts []string
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		s, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("%w: next segment: %w", ErrTranscription, err)
		}
		segs = append(segs, Segment{
			Text:     s.Text,
			StartSec: s.Start.Seconds(),
			EndSec:   s.End.Seconds(),
		})
		if text := CleanText(s.Text); text != "" {
			parts = append(parts, text)
		}
	}

	lang := wctx.DetectedLanguage()
	if lang == "" {
		lang = wctx.Language()
	}
	return Result{
		Text:     strings.Join(parts, " "),
		Segments: segs,
		Language: lang,
	}, nil
}

func configure(wctx whisper.Context, opt Options) error {
	if opt.Language == "" {
		opt.Language = "auto"
	}
	if err := wctx.SetLanguage(opt.Language); err != nil {
		return fmt.Errorf("set language %q: %w", opt.Language, err)
	}
	wctx.SetTranslate(opt.TranslateToEn)

	threads := opt.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))

	if opt.BeamSize > 0 {
		wctx.SetBeamSize(opt.BeamSize)
	}
	if opt.InitialPrompt != "" {
		wctx.SetInitialPrompt(opt.InitialPrompt)
	}
	if opt.Temperature != 0 {
		wctx.SetTemperature(opt.Temperature)
	}
	return nil
}

// noiseMarkers are annotations whisper emits for non-speech audio.
var noiseMarkers = []string{"[BLANK_AUDIO]", "[MUSIC]", "[NOISE]", "(silence)", "[SILENCE]"}

// CleanText strips whisper's non-speech markers and surrounding space.
func CleanText(s string) string {
	for _, m := range noiseMarkers {
		s = strings.ReplaceAll(s, m, "")
	}
	return strings.Join(strings.Fields(s), " ")
}
