package capture

import (
	"fmt"
	"strings"
)

type State int

const (
	Idle State = iota
	Listening
	TrailingSilence
	Finished
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case TrailingSilence:
		return "trailing_silence"
	case Finished:
		return "finished"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further frames are accepted.
func (s State) Terminal() bool { return s == Finished || s == Aborted }

// StartPolicy decides which frames before the first speech are kept.
type StartPolicy int

const (
	// StartOnSpeech discards leading silence; the first speech frame opens
	// the utterance.
	StartOnSpeech StartPolicy = iota
	// StartOnOpen keeps every frame from stream open. Classification is only
	// used to end the utterance.
	StartOnOpen
)

func (p StartPolicy) String() string {
	if p == StartOnOpen {
		return "open"
	}
	return "speech"
}

func ParseStartPolicy(s string) (StartPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "speech":
		return StartOnSpeech, nil
	case "open":
		return StartOnOpen, nil
	}
	return 0, fmt.Errorf("capture: unknown start policy %q (want speech or open)", s)
}

func (p StartPolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *StartPolicy) UnmarshalText(b []byte) error {
	v, err := ParseStartPolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
