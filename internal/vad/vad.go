// Package vad classifies fixed-duration audio frames as speech or non-speech.
//
// A Detector does the actual scoring. Classifier wraps it with the session
// format and turns every failure into a "not speech" verdict, since a single
// bad frame must never stop a capture loop. Failures are still reported
// through an error hook so they remain observable.
package vad

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"voxtalk/internal/audio"
)

var (
	// ErrInvalidFrame is reported for frames whose length does not match the
	// configured format.
	ErrInvalidFrame = errors.New("vad: invalid frame")

	// ErrClassification is reported when the detector itself fails.
	ErrClassification = errors.New("vad: classification failed")
)

// SupportedFrameDurations lists the frame durations, in milliseconds, a
// Classifier accepts.
var SupportedFrameDurations = []int{10, 20, 30}

// Aggressiveness selects how strictly non-speech is filtered out, from
// 0 (most permissive) to 3 (most strict).
type Aggressiveness int

const (
	Permissive Aggressiveness = iota
	Moderate
	Aggressive
	VeryAggressive
)

func (a Aggressiveness) Validate() error {
	if a < Permissive || a > VeryAggressive {
		return fmt.Errorf("vad: aggressiveness must be in 0..3, got %d", int(a))
	}
	return nil
}

// Detector scores one frame.
type Detector interface {
	IsSpeech(frame []int16) (bool, error)
}

// ValidateFormat checks that format is usable for classification.
func ValidateFormat(format audio.Format) error {
	if err := format.Validate(); err != nil {
		return err
	}
	if !slices.Contains(SupportedFrameDurations, format.FrameDurationMs) {
		return fmt.Errorf("vad: unsupported frame duration %dms (supported: %v)", format.FrameDurationMs, SupportedFrameDurations)
	}
	return nil
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithErrorHook registers fn to receive every swallowed classification error.
func WithErrorHook(fn func(error)) Option {
	return func(c *Classifier) { c.onError = fn }
}

// Classifier is a fail-safe front end for a Detector. It is safe for
// concurrent use when the wrapped Detector is.
type Classifier struct {
	det       Detector
	frameSize int
	onError   func(error)
}

func NewClassifier(det Detector, format audio.Format, opts ...Option) (*Classifier, error) {
	if det == nil {
		return nil, errors.New("vad: nil detector")
	}
	if err := ValidateFormat(format); err != nil {
		return nil, err
	}
	c := &Classifier{det: det, frameSize: format.FrameSize()}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// FrameSize is the only frame length Classify accepts.
func (c *Classifier) FrameSize() int { return c.frameSize }

// Classify reports whether frame contains speech. Malformed frames and
// detector failures yield false.
func (c *Classifier) Classify(frame audio.Frame) (speech bool) {
	defer func() {
		if r := recover(); r != nil {
			c.report(fmt.Errorf("%w: detector panic: %v", ErrClassification, r))
			speech = false
		}
	}()

	if len(frame) != c.frameSize {
		c.report(fmt.Errorf("%w: got %d samples, want %d", ErrInvalidFrame, len(frame), c.frameSize))
		return false
	}

	ok, err := c.det.IsSpeech(frame)
	if err != nil {
		c.report(fmt.Errorf("%w: %w", ErrClassification, err))
		return false
	}
	return ok
}

func (c *Classifier) report(err error) {
	slog.Debug("Frame treated as silence", "err", err)
	if c.onError != nil {
		c.onError(err)
	}
}
