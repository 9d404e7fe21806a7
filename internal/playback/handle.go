package playback

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/faiface/beep"
)

// Handle controls one playing sound.
type Handle struct {
	stopped atomic.Bool
	once    sync.Once
	done    chan struct{}
	err     error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// Stop silences the sound. The mixer drops it on its next buffer.
func (h *Handle) Stop() {
	h.stopped.Store(true)
	h.finish(nil)
}

// Wait blocks until the sound ended or was stopped.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Stopped() bool { return h.stopped.Load() }

func (h *Handle) finish(err error) {
	h.once.Do(func() {
		if err != nil {
			h.err = fmt.Errorf("%w: %w", ErrPlayback, err)
		}
		close(h.done)
	})
}

// guarded ends the wrapped streamer once its handle is stopped.
type guarded struct {
	s beep.Streamer
	h *Handle
}

func (g *guarded) Stream(samples [][2]float64) (int, bool) {
	if g.h.stopped.Load() {
		return 0, false
	}
	return g.s.Stream(samples)
}

func (g *guarded) Err() error { return g.s.Err() }

// pcmStreamer plays mono int16 samples on both channels.
type pcmStreamer struct {
	samples []int16
	pos     int
}

func (p *pcmStreamer) Stream(out [][2]float64) (int, bool) {
	if p.pos >= len(p.samples) {
		return 0, false
	}
	n := min(len(out), len(p.samples)-p.pos)
	for i := range n {
		v := float64(p.samples[p.pos+i]) / 32768
		out[i][0], out[i][1] = v, v
	}
	p.pos += n
	return n, true
}

func (p *pcmStreamer) Err() error { return nil }
