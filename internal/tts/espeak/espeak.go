// Package espeak synthesizes speech with libespeak-ng into PCM buffers.
package espeak

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdint.h>
#include <stdlib.h>
#include <string.h>
#include <espeak-ng/speak_lib.h>

extern int voxtalkSynthCallback(short *wav, int numsamples, espeak_EVENT *events);

static int
vt_init(const char *voice, int rate, int pitch)
{
	int sr = espeak_Initialize(AUDIO_OUTPUT_SYNCHRONOUS, 500, NULL, 0);
	if (sr <= 0)
	{ return -1; }

	espeak_SetSynthCallback(voxtalkSynthCallback);

	if (voice && *voice && espeak_SetVoiceByName(voice) != EE_OK)
	{ return -2; }
	if (rate > 0)
	{ espeak_SetParameter(espeakRATE, rate, 0); }
	if (pitch > 0)
	{ espeak_SetParameter(espeakPITCH, pitch, 0); }

	return sr;
}

static int
vt_synth(const char *text, uintptr_t handle)
{
	if (!text)
	{ return -1; }

	espeak_ERROR rc = espeak_Synth(text, strlen(text) + 1, 0, POS_CHARACTER, 0,
		espeakCHARS_AUTO, NULL, (void *)handle);
	if (rc != EE_OK)
	{ return (int)rc; }

	return espeak_Synchronize() == EE_OK ? 0 : -1;
}
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"runtime/cgo"
	"sync"
	"unsafe"

	"voxtalk/internal/tts"
)

type Config struct {
	// Voice is an espeak-ng voice name such as "en", "en-us" or "ru".
	Voice string `yaml:"voice"`
	// Rate in words per minute, 0 keeps the espeak default.
	Rate  int `yaml:"rate"`
	Pitch int `yaml:"pitch"`
}

// libespeak-ng keeps global state, so one engine serves the process.
var (
	mu     sync.Mutex
	inited bool
)

type Engine struct {
	sampleRate int
}

// New initializes libespeak-ng. It fails if an engine is already open.
func New(cfg Config) (*Engine, error) {
	mu.Lock()
	defer mu.Unlock()
	if inited {
		return nil, errors.New("espeak: already initialized")
	}

	cvoice := C.CString(cfg.Voice)
	defer C.free(unsafe.Pointer(cvoice))

	sr := int(C.vt_init(cvoice, C.int(cfg.Rate), C.int(cfg.Pitch)))
	switch {
	case sr == -2:
		C.espeak_Terminate()
		return nil, fmt.Errorf("espeak: unknown voice %q", cfg.Voice)
	case sr <= 0:
		return nil, fmt.Errorf("espeak: initialize failed: %d", sr)
	}

	inited = true
	return &Engine{sampleRate: sr}, nil
}

func (e *Engine) SampleRate() int { return e.sampleRate }

func (e *Engine) Close() error {
	mu.Lock()
	defer mu.Unlock()
	if !inited {
		return nil
	}
	inited = false
	if rc := C.espeak_Terminate(); rc != C.EE_OK {
		return fmt.Errorf("espeak: terminate failed: %d", int(rc))
	}
	return nil
}

// Synthesize renders text synchronously. Cancelling ctx aborts synthesis at
// the next audio chunk.
func (e *Engine) Synthesize(ctx context.Context, text string) (tts.PCM, error) {
	if text == "" {
		return tts.PCM{SampleRate: e.sampleRate}, nil
	}

	mu.Lock()
	defer mu.Unlock()
	if !inited {
		return tts.PCM{}, errors.New("espeak: engine closed")
	}

	buf := &synthBuffer{ctx: ctx}
	h := cgo.NewHandle(buf)
	defer h.Delete()

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))

	if rc := C.vt_synth(ctext, C.uintptr_t(h)); rc != 0 {
		return tts.PCM{}, fmt.Errorf("espeak: synth failed: %d", int(rc))
	}
	if err := ctx.Err(); err != nil {
		return tts.PCM{}, err
	}
	return tts.PCM{Samples: buf.samples, SampleRate: e.sampleRate}, nil
}
