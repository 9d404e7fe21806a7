package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	log "log/slog"

	"voxtalk/internal/audio"
	"voxtalk/internal/conversation"
)

// wavDump saves every utterance before handing it to the next transcriber.
type wavDump struct {
	next conversation.Transcriber
	dir  string
	n    atomic.Int64
}

func (d *wavDump) Transcribe(ctx context.Context, samples []int16, sampleRate int) (string, error) {
	path := filepath.Join(d.dir, fmt.Sprintf("utterance-%03d.wav", d.n.Add(1)))
	if err := audio.WriteWAV(path, samples, sampleRate); err != nil {
		log.Warn("Failed to dump utterance", "path", path, "err", err)
	} else {
		log.Debug("Dumped utterance", "path", path)
	}
	return d.next.Transcribe(ctx, samples, sampleRate)
}
