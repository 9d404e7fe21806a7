// Package bargein watches the microphone while the assistant speaks and
// signals when the user interrupts.
package bargein

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"voxtalk/internal/audio"
	"voxtalk/internal/session"
)

type Classifier interface {
	Classify(frame audio.Frame) bool
}

type Option func(*Monitor)

// WithMinSpeechFrames sets how many consecutive speech frames trigger a
// barge-in. The default of 1 signals on the first speech frame.
func WithMinSpeechFrames(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.minSpeech = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.log = l
		}
	}
}

// Monitor is stateless between runs; one Monitor can serve the whole session.
type Monitor struct {
	format    audio.Format
	vad       Classifier
	state     *session.State
	minSpeech int
	log       *slog.Logger
}

func New(format audio.Format, vad Classifier, state *session.State, opts ...Option) (*Monitor, error) {
	if vad == nil {
		return nil, errors.New("bargein: nil classifier")
	}
	if state == nil {
		return nil, errors.New("bargein: nil session state")
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	m := &Monitor{format: format, vad: vad, state: state, minSpeech: 1, log: slog.Default()}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Run polls stream until speech is heard or ctx is done. ready, if non-nil,
// is closed before the first read. On barge-in Run requests cancellation in
// the session state, calls onBargeIn and returns true. It signals at most
// once.
//
// A cancelled ctx is a normal stop and returns false with a nil error. A
// stream that runs dry returns false with io.EOF, other read failures are
// wrapped in audio.ErrDevice.
func (m *Monitor) Run(ctx context.Context, stream audio.Stream, ready chan<- struct{}, onBargeIn func()) (bool, error) {
	if ready != nil {
		close(ready)
	}

	run := 0
	for {
		if ctx.Err() != nil {
			return false, nil
		}

		f, err := stream.Read(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return false, nil
			case errors.Is(err, io.EOF), errors.Is(err, audio.ErrDevice):
				return false, err
			default:
				return false, fmt.Errorf("%w: %w", audio.ErrDevice, err)
			}
		}

		if !m.vad.Classify(m.format.Fit(f)) {
			run = 0
			continue
		}
		run++
		if run < m.minSpeech {
			continue
		}

		if !m.state.RequestCancel() {
			return false, nil
		}
		m.log.Info("Barge-in detected")
		if onBargeIn != nil {
			onBargeIn()
		}
		return true, nil
	}
}
