// Package notify plays short cues that tell the user the assistant is
// listening.
package notify

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"

	"voxtalk/internal/playback"
)

// Earcon is a decoded sound kept in memory so it can be replayed.
type Earcon struct {
	buf    *beep.Buffer
	player *playback.Player
}

// LoadEarcon decodes an mp3 file.
func LoadEarcon(path string, player *playback.Player) (*Earcon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("earcon: %w", err)
	}
	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("earcon: decode %s: %w", path, err)
	}
	defer streamer.Close()

	buf := beep.NewBuffer(format)
	buf.Append(streamer)
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("earcon: decode %s: %w", path, err)
	}
	return &Earcon{buf: buf, player: player}, nil
}

func (e *Earcon) Duration() time.Duration { return e.buf.Format().SampleRate.D(e.buf.Len()) }

// Play blocks until the cue finished or ctx is done.
func (e *Earcon) Play(ctx context.Context) error {
	h, err := e.player.PlayStreamer(e.buf.Streamer(0, e.buf.Len()), e.buf.Format().SampleRate)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, h.Stop)
	defer stop()
	return h.Wait()
}
