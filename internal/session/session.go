// Package session holds the state shared between the conversation loop and
// the barge-in monitor for one running assistant.
package session

import "sync/atomic"

// State is created once per process and passed explicitly to the components
// that need it. Each field has a single writer: the loop owns Playing, the
// barge-in monitor owns CancelRequested.
type State struct {
	playing         atomic.Bool
	cancelRequested atomic.Bool
}

func New() *State { return &State{} }

// Reset clears both flags at the start of an iteration.
func (s *State) Reset() {
	s.playing.Store(false)
	s.cancelRequested.Store(false)
}

func (s *State) SetPlaying(v bool) { s.playing.Store(v) }

func (s *State) Playing() bool { return s.playing.Load() }

// RequestCancel sets the cancel flag and reports whether this call was the
// one that set it.
func (s *State) RequestCancel() bool {
	return s.cancelRequested.CompareAndSwap(false, true)
}

func (s *State) CancelRequested() bool { return s.cancelRequested.Load() }
