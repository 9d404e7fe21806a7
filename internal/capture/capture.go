package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"voxtalk/internal/audio"
)

// Classifier labels one frame as speech or not. vad.Classifier implements it.
type Classifier interface {
	Classify(frame audio.Frame) bool
}

// Capturer drives a Machine from a stream.
type Capturer struct {
	format audio.Format
	cfg    Config
	vad    Classifier
	log    *slog.Logger
}

func NewCapturer(format audio.Format, cfg Config, vad Classifier, log *slog.Logger) (*Capturer, error) {
	if vad == nil {
		return nil, errors.New("capture: nil classifier")
	}
	if _, err := NewMachine(format, cfg); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Capturer{format: format, cfg: cfg, vad: vad, log: log}, nil
}

// Capture reads frames until an utterance is finished. Cancelling ctx yields
// ErrAborted, read failures are wrapped in audio.ErrDevice and a stream that
// ends before any usable speech returns io.EOF.
func (c *Capturer) Capture(ctx context.Context, stream audio.Stream) (*Utterance, error) {
	m, err := NewMachine(c.format, c.cfg)
	if err != nil {
		return nil, err
	}

	prev := m.State()
	for {
		if err := ctx.Err(); err != nil {
			m.Abort()
			return nil, fmt.Errorf("%w: %w", ErrAborted, err)
		}

		f, err := stream.Read(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			m.Abort()
			return nil, fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
		case errors.Is(err, io.EOF):
			if m.Flush() {
				return m.Utterance(), nil
			}
			return nil, io.EOF
		case errors.Is(err, audio.ErrDevice):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %w", audio.ErrDevice, err)
		}

		f = c.format.Fit(f)
		st := m.Push(f, c.vad.Classify(f))
		if st != prev {
			c.log.Debug("Capture state", "from", prev, "to", st, "frames", m.Buffered())
			prev = st
		}

		switch st {
		case Finished:
			u := m.Utterance()
			c.log.Debug("Utterance captured", "frames", len(u.Frames), "duration", u.Duration())
			return u, nil
		case Aborted:
			return nil, ErrNoSpeech
		}
	}
}
