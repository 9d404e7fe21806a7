// Package mock provides scripted test doubles for the audio package.
//
// Use Stream to replay a fixed sequence of frames and inspect how many were
// consumed. Use Source to hand out prepared streams in order, one per Open.
//
// Example:
//
//	s := &mock.Stream{Frames: mock.Frames(480, 5, 5000), Block: true}
//	src := &mock.Source{Streams: []*mock.Stream{s}}
package mock

import (
	"context"
	"io"
	"sync"

	"voxtalk/internal/audio"
)

// Stream is a mock implementation of audio.Stream.
type Stream struct {
	mu sync.Mutex

	// Frames are returned by Read in order.
	Frames []audio.Frame

	// Err, if non-nil, is returned by Read once Frames are exhausted.
	Err error

	// Block makes Read wait for ctx to be done once Frames (and Err) are
	// exhausted, like a live microphone that only delivers silence slowly.
	// Otherwise Read returns io.EOF.
	Block bool

	// OnRead, if set, is called with the 1-based index of every frame read.
	OnRead func(n int)

	reads  int
	closed int
}

func (s *Stream) Read(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.reads < len(s.Frames) {
		f := s.Frames[s.reads]
		s.reads++
		n, hook := s.reads, s.OnRead
		s.mu.Unlock()
		if hook != nil {
			hook(n)
		}
		return f, nil
	}
	if s.Err != nil {
		err := s.Err
		s.mu.Unlock()
		return nil, err
	}
	block := s.Block
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, io.EOF
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// Reads returns the number of frames delivered so far.
func (s *Stream) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// Closed returns how many times Close was called.
func (s *Stream) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var _ audio.Stream = (*Stream)(nil)

// Source is a mock implementation of audio.Source.
type Source struct {
	mu sync.Mutex

	// Streams are returned by Open in order.
	Streams []*Stream

	// OpenErr, if non-nil, is returned by Open once Streams are exhausted.
	// Otherwise Open returns io.EOF.
	OpenErr error

	opens int
}

func (s *Source) Open(ctx context.Context) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opens < len(s.Streams) {
		st := s.Streams[s.opens]
		s.opens++
		return st, nil
	}
	s.opens++
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	return nil, io.EOF
}

// Opens returns how many times Open was called.
func (s *Source) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

var _ audio.Source = (*Source)(nil)

// Frames returns count frames of size samples, each filled with level.
func Frames(size, count int, level int16) []audio.Frame {
	out := make([]audio.Frame, count)
	for i := range out {
		f := make(audio.Frame, size)
		for j := range f {
			f[j] = level
		}
		out[i] = f
	}
	return out
}

// Speech alternates speech and silence runs: Speech(size, 5, 40) is five
// loud frames followed by forty silent ones.
func Speech(size int, runs ...int) []audio.Frame {
	var out []audio.Frame
	for i, n := range runs {
		level := int16(0)
		if i%2 == 0 {
			level = 5000
		}
		out = append(out, Frames(size, n, level)...)
	}
	return out
}
