package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"voxtalk/pkg/audioconv"
)

// FileSource replays a decoded recording as if it came from a microphone.
// All streams opened from one FileSource share a single cursor, so a frame
// is delivered to exactly one reader.
type FileSource struct {
	format   Format
	realtime bool

	mu      sync.Mutex
	samples []int16
	pos     int
}

// NewFileSource decodes path into the session format. With realtime set,
// every stream paces its reads at one frame per frame duration.
func NewFileSource(ctx context.Context, path string, format Format, realtime bool) (*FileSource, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	pcm, err := audioconv.DecodeFile(ctx, path, audioconv.Options{SampleRate: format.SampleRate})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDevice, err)
	}
	return NewPCMSource(audioconv.Float32ToInt16(pcm), format, realtime), nil
}

// NewPCMSource serves samples that are already in the session format.
func NewPCMSource(samples []int16, format Format, realtime bool) *FileSource {
	return &FileSource{format: format, realtime: realtime, samples: samples}
}

// Remaining reports how many samples have not been read yet.
func (s *FileSource) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples) - s.pos
}

func (s *FileSource) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := &fileStream{src: s}
	if s.realtime {
		st.ticker = time.NewTicker(s.format.FrameDuration())
	}
	return st, nil
}

// next hands out the following frame, zero padding the final partial one.
func (s *FileSource) next() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos >= len(s.samples) {
		return nil, io.EOF
	}
	n := s.format.FrameSize()
	end := min(s.pos+n, len(s.samples))
	frame := s.format.Fit(Frame(s.samples[s.pos:end]))
	if len(frame) == end-s.pos {
		frame = append(Frame(nil), frame...)
	}
	s.pos = end
	return frame, nil
}

type fileStream struct {
	src    *FileSource
	ticker *time.Ticker
}

func (s *fileStream) Read(ctx context.Context) (Frame, error) {
	if s.ticker != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.ticker.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.src.next()
}

func (s *fileStream) Close() error {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	return nil
}
