package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Mic is the default portaudio input device. Every Open starts an independent
// stream, so capture and barge-in detection each get their own read position.
type Mic struct {
	format Format
}

func NewMic(format Format) *Mic { return &Mic{format: format} }

func (m *Mic) Init() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: initialize portaudio: %v", ErrDevice, err)
	}
	return nil
}

func (m *Mic) Close() {
	portaudio.Terminate()
}

func (m *Mic) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buf := make([]int16, m.format.FrameSize())

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.format.SampleRate), len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("%w: open stream: %v", ErrDevice, err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: start stream: %v", ErrDevice, err)
	}

	return &micStream{stream: stream, buf: buf}, nil
}

type micStream struct {
	stream *portaudio.Stream
	buf    []int16
	once   sync.Once
}

func (s *micStream) Read(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := s.stream.Read(); err != nil {
		// Samples were dropped while nobody was reading; the buffer still holds a frame.
		if !errors.Is(err, portaudio.InputOverflowed) {
			return nil, fmt.Errorf("%w: read: %v", ErrDevice, err)
		}
		slog.Debug("Input overflowed", "frame", len(s.buf))
	}

	out := make(Frame, len(s.buf))
	copy(out, s.buf)
	return out, nil
}

func (s *micStream) Close() error {
	var err error
	s.once.Do(func() {
		if e := s.stream.Stop(); e != nil {
			err = fmt.Errorf("%w: stop stream: %v", ErrDevice, e)
		}
		if e := s.stream.Close(); e != nil && err == nil {
			err = fmt.Errorf("%w: close stream: %v", ErrDevice, e)
		}
	})
	return err
}
