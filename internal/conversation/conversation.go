// Package conversation runs the listen, transcribe, complete and speak loop.
//
// Each iteration captures one utterance, turns it into text, asks the
// language model for a reply and plays the reply while a barge-in monitor
// listens for the user talking over it. No failure inside an iteration ends
// the loop: it is reported to the Observer and the loop moves on.
package conversation

import (
	"context"
	"fmt"
	"time"
)

// Transcriber converts mono PCM to text. Empty or silent input yields "".
type Transcriber interface {
	Transcribe(ctx context.Context, samples []int16, sampleRate int) (string, error)
}

// Completer produces the assistant reply for one user utterance.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Synthesizer starts speaking text and returns without waiting for the
// audio to finish.
type Synthesizer interface {
	Speak(ctx context.Context, text string) (Playback, error)
}

// Playback is a running audio output.
type Playback interface {
	// Stop halts output. It is safe to call more than once and after the
	// playback ended.
	Stop()
	// Wait blocks until the playback finished or was stopped.
	Wait() error
}

// Cue is played right before each capture.
type Cue interface {
	Play(ctx context.Context) error
}

// Kind classifies errors the loop absorbs.
type Kind int

const (
	KindDevice Kind = iota
	KindClassification
	KindTranscription
	KindLanguageModel
	KindPlayback
)

func (k Kind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindClassification:
		return "classification"
	case KindTranscription:
		return "transcription"
	case KindLanguageModel:
		return "language_model"
	case KindPlayback:
		return "playback"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Turn is one completed exchange. It is not kept after being reported.
type Turn struct {
	User        string
	Assistant   string
	Interrupted bool
	Fallback    bool

	Speech     time.Duration
	Transcribe time.Duration
	Complete   time.Duration
}

// Observer receives everything the loop would otherwise only log. Methods
// may be called from the barge-in goroutine.
type Observer interface {
	OnError(kind Kind, err error)
	OnTurn(turn Turn)
	OnBargeIn()
}

type nopObserver struct{}

func (nopObserver) OnError(Kind, error) {}
func (nopObserver) OnTurn(Turn)         {}
func (nopObserver) OnBargeIn()          {}

type multiObserver []Observer

// Observers fans out to every non-nil observer in order.
func Observers(obs ...Observer) Observer {
	var m multiObserver
	for _, o := range obs {
		if o != nil {
			m = append(m, o)
		}
	}
	switch len(m) {
	case 0:
		return nopObserver{}
	case 1:
		return m[0]
	}
	return m
}

func (m multiObserver) OnError(k Kind, err error) {
	for _, o := range m {
		o.OnError(k, err)
	}
}

func (m multiObserver) OnTurn(t Turn) {
	for _, o := range m {
		o.OnTurn(t)
	}
}

func (m multiObserver) OnBargeIn() {
	for _, o := range m {
		o.OnBargeIn()
	}
}
