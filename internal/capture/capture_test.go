package capture

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"voxtalk/internal/audio"
	"voxtalk/internal/audio/mock"
	"voxtalk/internal/vad"
)

const frameSize = 480

var testFormat = audio.Format{SampleRate: 16000, FrameDurationMs: 30}

func testConfig() Config {
	return Config{Start: StartOnSpeech, MaxSilence: time.Second, MinFrames: 10}
}

func newCapturer(t *testing.T, cfg Config) *Capturer {
	t.Helper()
	det, err := vad.NewEnergy(vad.Aggressive)
	if err != nil {
		t.Fatal(err)
	}
	cls, err := vad.NewClassifier(det, testFormat)
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewCapturer(testFormat, cfg, cls, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestMachine_SilenceFrames(t *testing.T) {
	tests := []struct {
		silence time.Duration
		want    int
	}{
		{time.Second, 33},
		{1200 * time.Millisecond, 40},
		{10 * time.Millisecond, 1},
		{30 * time.Millisecond, 1},
	}
	for _, tt := range tests {
		cfg := testConfig()
		cfg.MaxSilence = tt.silence
		m, err := NewMachine(testFormat, cfg)
		if err != nil {
			t.Fatal(err)
		}
		if got := m.SilenceFrames(); got != tt.want {
			t.Errorf("SilenceFrames(%s) = %d, want %d", tt.silence, got, tt.want)
		}
	}
}

func TestCapture_FinishesAfterTrailingSilence(t *testing.T) {
	c := newCapturer(t, testConfig())
	s := &mock.Stream{Frames: mock.Speech(frameSize, 5, 40)}

	u, err := c.Capture(context.Background(), s)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if len(u.Frames) != 38 {
		t.Fatalf("utterance frames = %d, want 38", len(u.Frames))
	}
	if s.Reads() != 38 {
		t.Fatalf("frames read = %d, want 38", s.Reads())
	}
	for i := range 5 {
		if u.Frames[i][0] == 0 {
			t.Fatalf("frame %d is silent, speech frames must be kept", i)
		}
	}
	if got := len(u.Samples()); got != 38*frameSize {
		t.Fatalf("samples = %d, want %d", got, 38*frameSize)
	}
	if u.Duration() != 1140*time.Millisecond {
		t.Fatalf("duration = %s, want 1.14s", u.Duration())
	}
}

func TestMachine_MinFramesGuard(t *testing.T) {
	cfg := testConfig()
	cfg.MinFrames = 40
	m, err := NewMachine(testFormat, cfg)
	if err != nil {
		t.Fatal(err)
	}
	loud := mock.Frames(frameSize, 1, 5000)[0]
	quiet := make(audio.Frame, frameSize)

	for range 3 {
		if st := m.Push(loud, true); st != Listening {
			t.Fatalf("state after speech = %s, want listening", st)
		}
	}
	// 36 silent frames are past MaxSilence but the buffer holds only 39.
	for i := range 36 {
		if st := m.Push(quiet, false); st != TrailingSilence {
			t.Fatalf("state after %d silent frames = %s, want trailing_silence", i+1, st)
		}
	}
	if st := m.Push(quiet, false); st != Finished {
		t.Fatalf("state at min length = %s, want finished", st)
	}
	if n := len(m.Utterance().Frames); n != 40 {
		t.Fatalf("utterance frames = %d, want 40", n)
	}
}

func TestCapture_ShortBurstWaitsForExternalStop(t *testing.T) {
	cfg := testConfig()
	cfg.MinFrames = 500
	c := newCapturer(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &mock.Stream{
		Frames: mock.Speech(frameSize, 3, 200),
		Block:  true,
		OnRead: func(n int) {
			if n == 203 {
				cancel()
			}
		},
	}

	u, err := c.Capture(ctx, s)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
	if u != nil {
		t.Fatal("aborted capture returned an utterance")
	}
}

func TestCapture_SilentInputNeverFinishes(t *testing.T) {
	cfg := testConfig()
	m, _ := NewMachine(testFormat, cfg)
	quiet := make(audio.Frame, frameSize)
	for range 1000 {
		if st := m.Push(quiet, false); st != Idle {
			t.Fatalf("state = %s, want idle", st)
		}
	}
	if m.Buffered() != 0 || m.Flush() || m.Utterance() != nil {
		t.Fatal("silent input produced output")
	}

	c := newCapturer(t, cfg)
	for range 3 {
		s := &mock.Stream{Frames: mock.Frames(frameSize, 1000, 0)}
		if _, err := c.Capture(context.Background(), s); !errors.Is(err, io.EOF) {
			t.Fatalf("err = %v, want io.EOF", err)
		}
	}
}

func TestCapture_StartOnOpenKeepsLeadingFrames(t *testing.T) {
	cfg := testConfig()
	cfg.Start = StartOnOpen
	c := newCapturer(t, cfg)
	s := &mock.Stream{Frames: append(mock.Frames(frameSize, 2, 0), mock.Speech(frameSize, 5, 40)...)}

	u, err := c.Capture(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if len(u.Frames) != 40 {
		t.Fatalf("utterance frames = %d, want 40", len(u.Frames))
	}
	if u.Frames[0][0] != 0 || u.Frames[2][0] == 0 {
		t.Fatal("leading silence is not at the start of the utterance")
	}
}

func TestMachine_StartOnOpenBoundsLeadingSilence(t *testing.T) {
	cfg := testConfig()
	cfg.Start = StartOnOpen
	m, _ := NewMachine(testFormat, cfg)
	quiet := make(audio.Frame, frameSize)
	for range 500 {
		m.Push(quiet, false)
	}
	if m.Buffered() != m.SilenceFrames() {
		t.Fatalf("buffered = %d, want %d", m.Buffered(), m.SilenceFrames())
	}
	if m.State() != Idle {
		t.Fatalf("state = %s, want idle", m.State())
	}
}

func TestCapture_MaxFrames(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFrames = 20
	c := newCapturer(t, cfg)
	s := &mock.Stream{Frames: mock.Speech(frameSize, 50)}

	u, err := c.Capture(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if len(u.Frames) != 20 || s.Reads() != 20 {
		t.Fatalf("frames = %d, reads = %d, want 20 and 20", len(u.Frames), s.Reads())
	}
}

func TestCapture_MaxIdleFrames(t *testing.T) {
	cfg := testConfig()
	cfg.MaxIdleFrames = 10
	c := newCapturer(t, cfg)
	s := &mock.Stream{Frames: mock.Frames(frameSize, 50, 0)}

	if _, err := c.Capture(context.Background(), s); !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
	if s.Reads() != 10 {
		t.Fatalf("reads = %d, want 10", s.Reads())
	}
}

func TestMachine_Abort(t *testing.T) {
	m, _ := NewMachine(testFormat, testConfig())
	loud := mock.Frames(frameSize, 1, 5000)[0]
	for range 5 {
		m.Push(loud, true)
	}
	m.Abort()
	if m.State() != Aborted || m.Buffered() != 0 || m.Utterance() != nil {
		t.Fatalf("after Abort: state=%s buffered=%d", m.State(), m.Buffered())
	}
	if st := m.Push(loud, true); st != Aborted {
		t.Fatalf("Push after Abort = %s, want aborted", st)
	}
}

func TestCapture_CancelledContext(t *testing.T) {
	c := newCapturer(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &mock.Stream{Frames: mock.Speech(frameSize, 5, 40)}
	if _, err := c.Capture(ctx, s); !errors.Is(err, ErrAborted) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want ErrAborted wrapping context.Canceled", err)
	}
	if s.Reads() != 0 {
		t.Fatalf("reads = %d, want 0", s.Reads())
	}
}

func TestCapture_DeviceError(t *testing.T) {
	c := newCapturer(t, testConfig())
	s := &mock.Stream{Frames: mock.Speech(frameSize, 2), Err: errors.New("usb unplugged")}
	if _, err := c.Capture(context.Background(), s); !errors.Is(err, audio.ErrDevice) {
		t.Fatalf("err = %v, want ErrDevice", err)
	}
}

func TestCapture_EndOfInput(t *testing.T) {
	c := newCapturer(t, testConfig())

	u, err := c.Capture(context.Background(), &mock.Stream{Frames: mock.Speech(frameSize, 12)})
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(u.Frames) != 12 {
		t.Fatalf("flushed frames = %d, want 12", len(u.Frames))
	}

	if _, err := c.Capture(context.Background(), &mock.Stream{Frames: mock.Speech(frameSize, 3)}); !errors.Is(err, io.EOF) {
		t.Fatalf("short tail err = %v, want io.EOF", err)
	}
}

func TestCapture_PadsShortFrames(t *testing.T) {
	c := newCapturer(t, testConfig())
	s := &mock.Stream{Frames: append(mock.Frames(400, 5, 5000), mock.Frames(frameSize, 40, 0)...)}

	u, err := c.Capture(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	for i, f := range u.Frames {
		if len(f) != frameSize {
			t.Fatalf("frame %d has %d samples, want %d", i, len(f), frameSize)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
	bad := Config{MaxSilence: 0, MinFrames: 0, MaxFrames: -1, MaxIdleFrames: -1}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected errors")
	}
	if err := (Config{MaxSilence: time.Second, MinFrames: 10, MaxFrames: 5}).Validate(); err == nil {
		t.Fatal("expected error for max_frames below min_frames")
	}
}

func TestParseStartPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    StartPolicy
		wantErr bool
	}{
		{"", StartOnSpeech, false},
		{"speech", StartOnSpeech, false},
		{" Open ", StartOnOpen, false},
		{"always", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseStartPolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseStartPolicy(%q) = %v, %v", tt.in, got, err)
		}
	}
}
