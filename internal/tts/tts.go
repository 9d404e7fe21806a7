// Package tts turns assistant replies into audible playback.
package tts

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"voxtalk/internal/conversation"
)

var ErrSynthesis = errors.New("speech synthesis error")

// PCM is mono signed 16-bit audio.
type PCM struct {
	Samples    []int16
	SampleRate int
}

// Engine renders text to PCM without playing it.
type Engine interface {
	Synthesize(ctx context.Context, text string) (PCM, error)
}

// PlayFunc starts playing pcm and returns immediately.
type PlayFunc func(ctx context.Context, pcm PCM) (conversation.Playback, error)

// Speaker joins an Engine and an output into a conversation.Synthesizer.
type Speaker struct {
	engine Engine
	play   PlayFunc
}

func NewSpeaker(engine Engine, play PlayFunc) *Speaker {
	return &Speaker{engine: engine, play: play}
}

// Speak renders text and starts playback. Text with nothing to pronounce
// yields a playback that is already finished.
func (s *Speaker) Speak(ctx context.Context, text string) (conversation.Playback, error) {
	text = Clean(text)
	if text == "" {
		return done{}, nil
	}

	pcm, err := s.engine.Synthesize(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	if len(pcm.Samples) == 0 {
		return done{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.play(ctx, pcm)
}

type done struct{}

func (done) Stop()       {}
func (done) Wait() error { return nil }

var markup = regexp.MustCompile("[*_`#>~]+")

// Clean drops markdown the model may emit and collapses whitespace.
func Clean(text string) string {
	return strings.Join(strings.Fields(markup.ReplaceAllString(text, " ")), " ")
}
