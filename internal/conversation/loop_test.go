package conversation

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"voxtalk/internal/audio"
	"voxtalk/internal/audio/mock"
	"voxtalk/internal/bargein"
	"voxtalk/internal/capture"
	"voxtalk/internal/session"
	"voxtalk/internal/vad"
)

const frameSize = 480

var testFormat = audio.Format{SampleRate: 16000, FrameDurationMs: 30}

type fakeTranscriber struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (string, error)
}

func (f *fakeTranscriber) Transcribe(_ context.Context, samples []int16, rate int) (string, error) {
	f.mu.Lock()
	n := f.calls
	f.calls++
	f.mu.Unlock()
	return f.fn(n)
}

func (f *fakeTranscriber) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func says(texts ...string) *fakeTranscriber {
	return &fakeTranscriber{fn: func(n int) (string, error) {
		return texts[min(n, len(texts)-1)], nil
	}}
}

type fakeCompleter struct {
	mu    sync.Mutex
	calls int
	reply string
	err   error
}

func (f *fakeCompleter) Complete(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.reply, f.err
}

type fakePlayback struct {
	once    sync.Once
	done    chan struct{}
	mu      sync.Mutex
	stopped bool
}

func (p *fakePlayback) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.once.Do(func() { close(p.done) })
}

func (p *fakePlayback) Wait() error {
	<-p.done
	return nil
}

func (p *fakePlayback) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

type fakeSynth struct {
	mu      sync.Mutex
	block   bool
	err     error
	onSpeak func()
	texts   []string
	played  []*fakePlayback
}

func (f *fakeSynth) Speak(_ context.Context, text string) (Playback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	pb := &fakePlayback{done: make(chan struct{})}
	if !f.block {
		close(pb.done)
	}
	f.played = append(f.played, pb)
	if f.onSpeak != nil {
		go f.onSpeak()
	}
	return pb, nil
}

func (f *fakeSynth) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type recObserver struct {
	mu       sync.Mutex
	errs     []Kind
	turns    []Turn
	bargeIns int
}

func (r *recObserver) OnError(k Kind, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, k)
}

func (r *recObserver) OnTurn(t Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, t)
}

func (r *recObserver) OnBargeIn() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bargeIns++
}

type scriptSource struct {
	mu    sync.Mutex
	opens []func() (audio.Stream, error)
	n     int
}

func (s *scriptSource) Open(context.Context) (audio.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n >= len(s.opens) {
		return nil, io.EOF
	}
	fn := s.opens[s.n]
	s.n++
	return fn()
}

func utterance() *mock.Stream { return &mock.Stream{Frames: mock.Speech(frameSize, 5, 40)} }

func quietMonitor() *mock.Stream { return &mock.Stream{Block: true} }

// turns builds a source for n full iterations: one capture stream and one
// silent barge-in stream each.
func turns(n int) *mock.Source {
	src := &mock.Source{}
	for range n {
		src.Streams = append(src.Streams, utterance(), quietMonitor())
	}
	return src
}

type harness struct {
	tr    Transcriber
	cmp   Completer
	syn   Synthesizer
	obs   *recObserver
	state *session.State
}

func newLoop(t *testing.T, src audio.Source, h *harness) *Loop {
	t.Helper()
	det, err := vad.NewEnergy(vad.Aggressive)
	if err != nil {
		t.Fatal(err)
	}
	cls, err := vad.NewClassifier(det, testFormat)
	if err != nil {
		t.Fatal(err)
	}
	capt, err := capture.NewCapturer(testFormat, capture.Config{MaxSilence: time.Second, MinFrames: 10}, cls, nil)
	if err != nil {
		t.Fatal(err)
	}
	if h.state == nil {
		h.state = session.New()
	}
	mon, err := bargein.New(testFormat, cls, h.state)
	if err != nil {
		t.Fatal(err)
	}
	if h.obs == nil {
		h.obs = &recObserver{}
	}
	if h.cmp == nil {
		h.cmp = &fakeCompleter{reply: "hi there"}
	}
	if h.syn == nil {
		h.syn = &fakeSynth{}
	}

	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	l, err := New(cfg, Deps{
		Source:      src,
		Capturer:    capt,
		Monitor:     mon,
		State:       h.state,
		Transcriber: h.tr,
		Completer:   h.cmp,
		Synthesizer: h.syn,
		Observer:    h.obs,
	})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func runWithTimeout(t *testing.T, ctx context.Context, l *Loop) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestRun_ExitKeywordSkipsLanguageModel(t *testing.T) {
	for _, text := range []string{"exit", "  EXIT  ", "Quit.", "stop"} {
		t.Run(text, func(t *testing.T) {
			cmp := &fakeCompleter{reply: "unused"}
			syn := &fakeSynth{}
			l := newLoop(t, turns(3), &harness{tr: says(text), cmp: cmp, syn: syn})

			if err := runWithTimeout(t, context.Background(), l); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if cmp.calls != 0 {
				t.Fatalf("completer called %d times, want 0", cmp.calls)
			}
			if n := len(syn.Texts()); n != 0 {
				t.Fatalf("synthesizer called %d times, want 0", n)
			}
		})
	}
}

func TestRun_LanguageModelFailureUsesFallback(t *testing.T) {
	cmp := &fakeCompleter{err: errors.New("connection refused")}
	syn := &fakeSynth{}
	h := &harness{tr: says("what time is it"), cmp: cmp, syn: syn}
	l := newLoop(t, turns(10), h)

	if err := runWithTimeout(t, context.Background(), l); err != nil {
		t.Fatalf("Run: %v", err)
	}
	texts := syn.Texts()
	if len(texts) != 10 {
		t.Fatalf("played %d replies, want 10", len(texts))
	}
	for i, s := range texts {
		if s != DefaultFallback {
			t.Fatalf("reply %d = %q, want fallback", i, s)
		}
	}
	if cmp.calls != 10 {
		t.Fatalf("completer calls = %d, want 10", cmp.calls)
	}
	if len(h.obs.errs) != 10 || h.obs.errs[0] != KindLanguageModel {
		t.Fatalf("observed errors = %v, want 10 language_model", h.obs.errs)
	}
	if len(h.obs.turns) != 10 || !h.obs.turns[9].Fallback {
		t.Fatalf("turns = %d, want 10 fallback turns", len(h.obs.turns))
	}
}

func TestRun_EmptyReplyUsesFallback(t *testing.T) {
	syn := &fakeSynth{}
	l := newLoop(t, turns(1), &harness{tr: says("hello"), cmp: &fakeCompleter{reply: "  "}, syn: syn})
	if err := runWithTimeout(t, context.Background(), l); err != nil {
		t.Fatal(err)
	}
	if texts := syn.Texts(); len(texts) != 1 || texts[0] != DefaultFallback {
		t.Fatalf("replies = %q, want fallback", texts)
	}
}

func TestRun_BargeInStopsPlayback(t *testing.T) {
	src := &mock.Source{Streams: []*mock.Stream{
		utterance(),
		{Frames: mock.Speech(frameSize, 3), Block: true},
	}}
	syn := &fakeSynth{block: true}
	h := &harness{tr: says("tell me a story"), syn: syn}
	l := newLoop(t, src, h)

	if err := runWithTimeout(t, context.Background(), l); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(syn.played) != 1 || !syn.played[0].Stopped() {
		t.Fatal("playback was not stopped")
	}
	if h.obs.bargeIns != 1 {
		t.Fatalf("barge-ins = %d, want 1", h.obs.bargeIns)
	}
	if len(h.obs.turns) != 1 || !h.obs.turns[0].Interrupted {
		t.Fatalf("turns = %+v, want one interrupted turn", h.obs.turns)
	}
	if h.state.Playing() {
		t.Fatal("state still playing after Run")
	}
}

func TestRun_TranscriptionFailureSkipsTurn(t *testing.T) {
	tr := &fakeTranscriber{fn: func(n int) (string, error) {
		if n == 0 {
			return "", errors.New("garbled")
		}
		return "exit", nil
	}}
	cmp := &fakeCompleter{reply: "unused"}
	h := &harness{tr: tr, cmp: cmp}
	src := &mock.Source{Streams: []*mock.Stream{utterance(), utterance()}}
	l := newLoop(t, src, h)

	if err := runWithTimeout(t, context.Background(), l); err != nil {
		t.Fatal(err)
	}
	if tr.Calls() != 2 || cmp.calls != 0 {
		t.Fatalf("transcriber calls = %d, completer calls = %d, want 2 and 0", tr.Calls(), cmp.calls)
	}
	if len(h.obs.errs) != 1 || h.obs.errs[0] != KindTranscription {
		t.Fatalf("observed errors = %v, want [transcription]", h.obs.errs)
	}
}

func TestRun_DeviceErrorRetries(t *testing.T) {
	src := &scriptSource{opens: []func() (audio.Stream, error){
		func() (audio.Stream, error) { return nil, errors.New("no default input device") },
		func() (audio.Stream, error) { return &mock.Stream{Frames: mock.Speech(frameSize, 2), Err: errors.New("read timeout")}, nil },
		func() (audio.Stream, error) { return utterance(), nil },
	}}
	tr := says("exit")
	h := &harness{tr: tr}
	l := newLoop(t, src, h)

	if err := runWithTimeout(t, context.Background(), l); err != nil {
		t.Fatal(err)
	}
	if len(h.obs.errs) != 2 || h.obs.errs[0] != KindDevice || h.obs.errs[1] != KindDevice {
		t.Fatalf("observed errors = %v, want two device errors", h.obs.errs)
	}
	if tr.Calls() != 1 {
		t.Fatalf("transcriber calls = %d, want 1", tr.Calls())
	}
}

func TestRun_ContextCancelEndsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &mock.Source{Streams: []*mock.Stream{{
		Block:  true,
		Frames: mock.Frames(frameSize, 3, 0),
		OnRead: func(n int) {
			if n == 3 {
				cancel()
			}
		},
	}}}
	l := newLoop(t, src, &harness{tr: says("hello")})

	if err := runWithTimeout(t, ctx, l); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
}

func TestRun_ContextCancelDuringPlayback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	syn := &fakeSynth{block: true, onSpeak: cancel}
	h := &harness{tr: says("hello"), syn: syn}
	l := newLoop(t, turns(2), h)

	if err := runWithTimeout(t, ctx, l); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if len(syn.played) != 1 || !syn.played[0].Stopped() {
		t.Fatal("playback not stopped on shutdown")
	}
	if h.state.Playing() {
		t.Fatal("state still playing after Run")
	}
}

func TestLoop_StopAbortsCaptureAndContinues(t *testing.T) {
	var l *Loop
	first := &mock.Stream{
		Block:  true,
		Frames: mock.Frames(frameSize, 3, 0),
		OnRead: func(n int) {
			if n == 3 {
				l.Stop()
			}
		},
	}
	tr := says("exit")
	src := &mock.Source{Streams: []*mock.Stream{first, utterance()}}
	l = newLoop(t, src, &harness{tr: tr})

	if err := runWithTimeout(t, context.Background(), l); err != nil {
		t.Fatal(err)
	}
	if tr.Calls() != 1 {
		t.Fatalf("transcriber calls = %d, want 1", tr.Calls())
	}
	if first.Closed() != 1 {
		t.Fatalf("aborted stream closed %d times, want 1", first.Closed())
	}
}

func TestLoop_StopDuringPlaybackIsNotBargeIn(t *testing.T) {
	var l *Loop
	syn := &fakeSynth{block: true, onSpeak: func() { l.Stop() }}
	h := &harness{tr: says("hello"), syn: syn}
	l = newLoop(t, turns(1), h)

	if err := runWithTimeout(t, context.Background(), l); err != nil {
		t.Fatal(err)
	}
	if !syn.played[0].Stopped() {
		t.Fatal("playback not stopped")
	}
	if h.obs.bargeIns != 0 || h.state.CancelRequested() {
		t.Fatal("Stop was reported as barge-in")
	}
	if len(h.obs.turns) != 1 || h.obs.turns[0].Interrupted {
		t.Fatalf("turns = %+v", h.obs.turns)
	}
}

func TestRun_PlaybackErrorContinues(t *testing.T) {
	syn := &fakeSynth{err: errors.New("no output device")}
	h := &harness{tr: says("hello"), syn: syn}
	l := newLoop(t, turns(3), h)

	if err := runWithTimeout(t, context.Background(), l); err != nil {
		t.Fatal(err)
	}
	if len(syn.Texts()) != 3 {
		t.Fatalf("speak attempts = %d, want 3", len(syn.Texts()))
	}
	for _, k := range h.obs.errs {
		if k != KindPlayback {
			t.Fatalf("observed errors = %v, want only playback", h.obs.errs)
		}
	}
}

func TestIsExit(t *testing.T) {
	l := newLoop(t, turns(0), &harness{tr: says("")})
	tests := []struct {
		in   string
		want bool
	}{
		{"exit", true},
		{" Exit. ", true},
		{"STOP!", true},
		{"quit", true},
		{"please exit", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := l.IsExit(tt.in); got != tt.want {
			t.Errorf("IsExit(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_MissingDeps(t *testing.T) {
	if _, err := New(DefaultConfig(), Deps{}); err == nil {
		t.Fatal("expected error for empty deps")
	}
}

func TestObservers(t *testing.T) {
	a, b := &recObserver{}, &recObserver{}
	o := Observers(a, nil, b)
	o.OnError(KindDevice, errors.New("x"))
	o.OnBargeIn()
	o.OnTurn(Turn{User: "u"})
	if len(a.errs) != 1 || len(b.errs) != 1 || a.bargeIns != 1 || len(b.turns) != 1 {
		t.Fatal("observer fan-out incomplete")
	}
	Observers().OnBargeIn()
}
