// Package playback plays PCM through the default output device with
// faiface/beep and hands out stoppable handles.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
)

var ErrPlayback = errors.New("playback error")

// resampleQuality is passed to beep.Resample.
const resampleQuality = 4

type Option func(*Player)

// WithDucker lowers other applications while something plays.
func WithDucker(d *Ducker) Option {
	return func(p *Player) { p.ducker = d }
}

// Player owns the process-wide beep speaker.
type Player struct {
	mu     sync.Mutex
	rate   beep.SampleRate
	buffer time.Duration
	ready  bool
	ducker *Ducker
}

// New prepares a player mixing at sampleRate. buffer is the speaker latency
// and bounds how long a stopped sound keeps playing.
func New(sampleRate int, buffer time.Duration, opts ...Option) *Player {
	if buffer <= 0 {
		buffer = 100 * time.Millisecond
	}
	p := &Player{rate: beep.SampleRate(sampleRate), buffer: buffer}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Player) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready {
		return nil
	}
	if err := speaker.Init(p.rate, p.rate.N(p.buffer)); err != nil {
		return fmt.Errorf("%w: speaker init: %w", ErrPlayback, err)
	}
	p.ready = true
	return nil
}

// Close stops everything and releases the output device.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return
	}
	speaker.Clear()
	speaker.Close()
	p.ready = false
}

func (p *Player) SampleRate() int { return int(p.rate) }

// Play starts mono 16-bit samples and returns at once.
func (p *Player) Play(ctx context.Context, samples []int16, sampleRate int) (*Handle, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid sample rate %d", ErrPlayback, sampleRate)
	}
	return p.play(ctx, &pcmStreamer{samples: samples}, beep.SampleRate(sampleRate), p.ducker)
}

// PlayStreamer starts an arbitrary beep streamer. It never ducks.
func (p *Player) PlayStreamer(s beep.Streamer, rate beep.SampleRate) (*Handle, error) {
	return p.play(context.Background(), s, rate, nil)
}

func (p *Player) play(ctx context.Context, s beep.Streamer, rate beep.SampleRate, d *Ducker) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return nil, fmt.Errorf("%w: speaker not initialized", ErrPlayback)
	}

	if rate != p.rate {
		s = beep.Resample(resampleQuality, rate, p.rate, s)
	}

	if d != nil {
		if err := d.Duck(ctx); err != nil {
			slog.Warn("Failed to duck other streams", "err", err)
		}
	}

	h := newHandle()
	g := &guarded{s: s, h: h}
	speaker.Play(beep.Seq(g, beep.Callback(func() { h.finish(g.Err()) })))

	if d != nil {
		go func() {
			<-h.Done()
			if err := d.Restore(context.Background()); err != nil {
				slog.Warn("Failed to restore other streams", "err", err)
			}
		}()
	}
	return h, nil
}
