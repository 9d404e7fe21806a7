package audio

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDevice marks failures of the underlying audio device: the microphone is
// unavailable, a stream cannot be opened or a read fails.
var ErrDevice = errors.New("audio device error")

// Frame is one fixed-duration chunk of mono signed 16-bit PCM.
type Frame []int16

// Format fixes the sample rate and frame duration for a whole session.
type Format struct {
	SampleRate      int `yaml:"sample_rate"`
	FrameDurationMs int `yaml:"frame_duration_ms"`
}

// FrameSize is the number of samples in one frame.
func (f Format) FrameSize() int {
	return f.SampleRate * f.FrameDurationMs / 1000
}

func (f Format) FrameDuration() time.Duration {
	return time.Duration(f.FrameDurationMs) * time.Millisecond
}

// FramesFor returns how many whole frames fit into d.
func (f Format) FramesFor(d time.Duration) int {
	if f.FrameDurationMs <= 0 {
		return 0
	}
	return int(d / f.FrameDuration())
}

func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate)
	}
	if f.FrameDurationMs <= 0 {
		return fmt.Errorf("audio: frame duration must be positive, got %dms", f.FrameDurationMs)
	}
	if f.SampleRate*f.FrameDurationMs%1000 != 0 {
		return fmt.Errorf("audio: %dms at %d Hz is not a whole number of samples", f.FrameDurationMs, f.SampleRate)
	}
	return nil
}

// Fit returns frame unchanged when it already has FrameSize samples. Shorter
// frames are zero padded and longer ones truncated into a new slice.
func (f Format) Fit(frame Frame) Frame {
	n := f.FrameSize()
	if len(frame) == n {
		return frame
	}
	out := make(Frame, n)
	copy(out, frame)
	return out
}

// Stream is an open input stream delivering one frame per Read.
type Stream interface {
	// Read blocks until the next frame is available or ctx is done.
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// Source opens input streams. Streams opened from the same Source must never
// corrupt each other's read position.
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// Concat joins frames in order into one contiguous buffer.
func Concat(frames []Frame) []int16 {
	n := 0
	for _, f := range frames {
		n += len(f)
	}
	out := make([]int16, 0, n)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}
