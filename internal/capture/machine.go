// Package capture turns a stream of classified frames into one utterance.
package capture

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"voxtalk/internal/audio"
)

var (
	// ErrAborted is returned when capture is cancelled before it finished.
	ErrAborted = errors.New("capture aborted")

	// ErrNoSpeech is returned when MaxIdleFrames pass without any speech.
	ErrNoSpeech = errors.New("no speech detected")
)

type Config struct {
	Start StartPolicy `yaml:"start"`

	// MaxSilence is the contiguous trailing silence that ends an utterance.
	// It is rounded down to whole frames, minimum one.
	MaxSilence time.Duration `yaml:"max_silence"`

	// MinFrames is the number of buffered frames below which trailing
	// silence never ends the utterance.
	MinFrames int `yaml:"min_frames"`

	// MaxFrames bounds the utterance length. Reaching it finishes the
	// utterance. 0 means no bound.
	MaxFrames int `yaml:"max_frames"`

	// MaxIdleFrames gives up with ErrNoSpeech when no speech started within
	// that many frames. 0 waits forever.
	MaxIdleFrames int `yaml:"max_idle_frames"`
}

func DefaultConfig() Config {
	return Config{
		Start:      StartOnSpeech,
		MaxSilence: 1200 * time.Millisecond,
		MinFrames:  10,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.MaxSilence <= 0 {
		errs = append(errs, fmt.Errorf("capture: max_silence must be positive, got %s", c.MaxSilence))
	}
	if c.MinFrames < 1 {
		errs = append(errs, fmt.Errorf("capture: min_frames must be at least 1, got %d", c.MinFrames))
	}
	if c.MaxFrames < 0 {
		errs = append(errs, fmt.Errorf("capture: max_frames must not be negative, got %d", c.MaxFrames))
	}
	if c.MaxFrames > 0 && c.MaxFrames < c.MinFrames {
		errs = append(errs, fmt.Errorf("capture: max_frames %d is below min_frames %d", c.MaxFrames, c.MinFrames))
	}
	if c.MaxIdleFrames < 0 {
		errs = append(errs, fmt.Errorf("capture: max_idle_frames must not be negative, got %d", c.MaxIdleFrames))
	}
	return errors.Join(errs...)
}

// Utterance is the finished capture, frames in arrival order.
type Utterance struct {
	Frames     []audio.Frame
	SampleRate int
}

// Samples concatenates the frames into one contiguous buffer.
func (u *Utterance) Samples() []int16 { return audio.Concat(u.Frames) }

func (u *Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	n := 0
	for _, f := range u.Frames {
		n += len(f)
	}
	return time.Duration(n) * time.Second / time.Duration(u.SampleRate)
}

// Machine is the end-of-utterance state machine. It does no I/O and is not
// safe for concurrent use.
type Machine struct {
	start         StartPolicy
	silenceFrames int
	minFrames     int
	maxFrames     int
	maxIdle       int
	sampleRate    int

	state   State
	frames  []audio.Frame
	silence int
	idle    int
}

func NewMachine(format audio.Format, cfg Config) (*Machine, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Machine{
		start:         cfg.Start,
		silenceFrames: max(format.FramesFor(cfg.MaxSilence), 1),
		minFrames:     cfg.MinFrames,
		maxFrames:     cfg.MaxFrames,
		maxIdle:       cfg.MaxIdleFrames,
		sampleRate:    format.SampleRate,
	}, nil
}

func (m *Machine) State() State { return m.state }

// SilenceFrames is MaxSilence expressed in frames.
func (m *Machine) SilenceFrames() int { return m.silenceFrames }

// Buffered is the number of frames currently held.
func (m *Machine) Buffered() int { return len(m.frames) }

// Push feeds one classified frame and returns the resulting state. Frames
// pushed after a terminal state are ignored.
func (m *Machine) Push(f audio.Frame, speech bool) State {
	switch m.state {
	case Finished, Aborted:
		return m.state

	case Idle:
		if !speech {
			m.idle++
			if m.start == StartOnOpen {
				// Leading silence is kept up to one MaxSilence window.
				m.frames = append(m.frames, f)
				if len(m.frames) > m.silenceFrames {
					m.frames = slices.Delete(m.frames, 0, len(m.frames)-m.silenceFrames)
				}
			}
			if m.maxIdle > 0 && m.idle >= m.maxIdle {
				m.abort()
			}
			return m.state
		}
		m.frames = append(m.frames, f)
		m.state = Listening

	case Listening, TrailingSilence:
		m.frames = append(m.frames, f)
		if speech {
			m.silence = 0
			m.state = Listening
		} else {
			m.silence++
			m.state = TrailingSilence
		}
	}

	switch {
	case m.maxFrames > 0 && len(m.frames) >= m.maxFrames:
		m.state = Finished
	case m.silence >= m.silenceFrames && len(m.frames) >= m.minFrames:
		m.state = Finished
	}
	return m.state
}

// Flush finishes an utterance in progress when the input ends early. It
// reports whether the machine is now Finished.
func (m *Machine) Flush() bool {
	if m.state != Listening && m.state != TrailingSilence {
		return m.state == Finished
	}
	if len(m.frames) < m.minFrames {
		return false
	}
	m.state = Finished
	return true
}

// Abort discards the buffer unless the utterance already finished.
func (m *Machine) Abort() {
	if m.state != Finished {
		m.abort()
	}
}

func (m *Machine) abort() {
	m.state = Aborted
	m.frames = nil
}

// Utterance returns the captured utterance once Finished, nil otherwise.
func (m *Machine) Utterance() *Utterance {
	if m.state != Finished {
		return nil
	}
	return &Utterance{Frames: m.frames, SampleRate: m.sampleRate}
}
