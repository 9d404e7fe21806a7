package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"voxtalk/internal/audio"
	"voxtalk/internal/bargein"
	"voxtalk/internal/capture"
	"voxtalk/internal/session"
)

// DefaultFallback is spoken when the language model fails.
const DefaultFallback = "Sorry, I couldn't generate a response."

var DefaultExitKeywords = []string{"exit", "stop", "quit"}

type Config struct {
	ExitKeywords    []string      `yaml:"exit_keywords"`
	Fallback        string        `yaml:"fallback"`
	CompleteTimeout time.Duration `yaml:"complete_timeout"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
}

func DefaultConfig() Config {
	return Config{
		ExitKeywords:    DefaultExitKeywords,
		Fallback:        DefaultFallback,
		CompleteTimeout: 30 * time.Second,
		RetryDelay:      time.Second,
	}
}

// Deps are the collaborators of a Loop. Cue, Observer and Logger are
// optional.
type Deps struct {
	Source      audio.Source
	Capturer    *capture.Capturer
	Monitor     *bargein.Monitor
	State       *session.State
	Transcriber Transcriber
	Completer   Completer
	Synthesizer Synthesizer

	Cue      Cue
	Observer Observer
	Logger   *slog.Logger
}

type Loop struct {
	cfg  Config
	deps Deps
	exit map[string]struct{}
	obs  Observer
	log  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func New(cfg Config, deps Deps) (*Loop, error) {
	var errs []error
	for name, missing := range map[string]bool{
		"source":      deps.Source == nil,
		"capturer":    deps.Capturer == nil,
		"monitor":     deps.Monitor == nil,
		"state":       deps.State == nil,
		"transcriber": deps.Transcriber == nil,
		"completer":   deps.Completer == nil,
		"synthesizer": deps.Synthesizer == nil,
	} {
		if missing {
			errs = append(errs, errors.New("conversation: missing "+name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.Fallback == "" {
		cfg.Fallback = DefaultFallback
	}
	if cfg.ExitKeywords == nil {
		cfg.ExitKeywords = DefaultExitKeywords
	}
	l := &Loop{
		cfg:  cfg,
		deps: deps,
		exit: make(map[string]struct{}, len(cfg.ExitKeywords)),
		obs:  Observers(deps.Observer),
		log:  deps.Logger,
	}
	if l.log == nil {
		l.log = slog.Default()
	}
	for _, k := range cfg.ExitKeywords {
		if k = normalize(k); k != "" {
			l.exit[k] = struct{}{}
		}
	}
	return l, nil
}

// IsExit reports whether text is one of the exit keywords, ignoring case,
// surrounding whitespace and punctuation.
func (l *Loop) IsExit(text string) bool {
	_, ok := l.exit[normalize(text)]
	return ok
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}))
}

// Stop aborts the capture or playback in progress. The loop continues with
// the next iteration.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
}

// Run iterates until an exit keyword is heard, the source is exhausted or ctx
// is done. It returns nil in the first two cases and ctx.Err() in the last.
// Playback and the barge-in monitor are always joined before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("Conversation started")
	defer l.log.Info("Conversation ended")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := l.iterate(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// iterate runs one turn. It returns done when the loop must end cleanly and a
// non-nil error only when ctx is done.
func (l *Loop) iterate(parent context.Context) (done bool, err error) {
	ctx, cancel := context.WithCancel(parent)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.cancel = nil
		l.mu.Unlock()
		cancel()
	}()

	l.deps.State.Reset()

	if l.deps.Cue != nil {
		if err := l.deps.Cue.Play(ctx); err != nil && ctx.Err() == nil {
			l.fail(KindPlayback, "Failed to play cue", err)
		}
	}

	utt, err := l.listen(ctx)
	switch {
	case err == nil:
	case parent.Err() != nil:
		return false, parent.Err()
	case errors.Is(err, io.EOF):
		l.log.Info("Audio source exhausted")
		return true, nil
	case errors.Is(err, audio.ErrDevice):
		l.fail(KindDevice, "Failed to capture", err)
		l.backoff(parent)
		return false, parent.Err()
	case errors.Is(err, capture.ErrAborted):
		l.log.Debug("Capture aborted")
		return false, nil
	case errors.Is(err, capture.ErrNoSpeech):
		l.log.Debug("No speech heard")
		return false, nil
	default:
		l.fail(KindDevice, "Failed to capture", err)
		return false, nil
	}

	turn := Turn{Speech: utt.Duration()}
	l.log.Info("Recorded", "frames", len(utt.Frames), "duration", turn.Speech)

	start := time.Now()
	text, err := l.deps.Transcriber.Transcribe(ctx, utt.Samples(), utt.SampleRate)
	turn.Transcribe = time.Since(start)
	if err != nil {
		if parent.Err() != nil {
			return false, parent.Err()
		}
		l.fail(KindTranscription, "Failed to transcribe", err)
		text = ""
	}
	turn.User = strings.TrimSpace(text)
	if turn.User == "" || ctx.Err() != nil {
		return false, parent.Err()
	}
	l.log.Info("Transcribed", "text", turn.User)

	if l.IsExit(turn.User) {
		l.log.Info("Exit keyword heard", "text", turn.User)
		return true, nil
	}

	start = time.Now()
	turn.Assistant, turn.Fallback = l.complete(ctx, turn.User)
	turn.Complete = time.Since(start)
	if ctx.Err() != nil {
		return false, parent.Err()
	}
	l.log.Info("Answer", "text", turn.Assistant, "fallback", turn.Fallback)

	turn.Interrupted, err = l.speak(ctx, turn.Assistant)
	if err != nil {
		l.fail(KindPlayback, "Failed to play reply", err)
	}
	l.obs.OnTurn(turn)
	return false, parent.Err()
}

func (l *Loop) listen(ctx context.Context) (*capture.Utterance, error) {
	stream, err := l.deps.Source.Open(ctx)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, fmt.Errorf("%w: %w", capture.ErrAborted, err)
	case errors.Is(err, io.EOF), errors.Is(err, audio.ErrDevice):
		return nil, err
	default:
		return nil, fmt.Errorf("%w: %w", audio.ErrDevice, err)
	}
	defer stream.Close()

	l.log.Info("Listening")
	return l.deps.Capturer.Capture(ctx, stream)
}

func (l *Loop) complete(ctx context.Context, prompt string) (string, bool) {
	cctx := ctx
	if l.cfg.CompleteTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, l.cfg.CompleteTimeout)
		defer cancel()
	}

	reply, err := l.deps.Completer.Complete(cctx, prompt)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errors.New("empty reply")
	}
	if err != nil {
		if ctx.Err() == nil {
			l.fail(KindLanguageModel, "Failed to complete", err)
		}
		return l.cfg.Fallback, true
	}
	return strings.TrimSpace(reply), false
}

// speak plays text with the barge-in monitor running. The monitor is polling
// before playback starts and both are joined before speak returns.
func (l *Loop) speak(ctx context.Context, text string) (interrupted bool, err error) {
	mctx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()

	var (
		g      errgroup.Group
		slot   playbackSlot
		monErr error
	)

	stream, err := l.deps.Source.Open(mctx)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		l.log.Debug("Barge-in disabled, source exhausted")
	default:
		l.fail(KindDevice, "Barge-in disabled for this turn", err)
	}
	if err == nil {
		ready := make(chan struct{})
		g.Go(func() error {
			defer stream.Close()
			interrupted, monErr = l.deps.Monitor.Run(mctx, stream, ready, func() {
				slot.stop()
				l.obs.OnBargeIn()
			})
			return nil
		})
		<-ready
	}

	pb, err := l.deps.Synthesizer.Speak(ctx, text)
	if err != nil {
		stopMonitor()
		g.Wait()
		return false, err
	}

	l.deps.State.SetPlaying(true)
	slot.set(pb)
	unwatch := context.AfterFunc(ctx, pb.Stop)

	var playErr error
	g.Go(func() error {
		defer stopMonitor()
		playErr = pb.Wait()
		return nil
	})
	g.Wait()
	unwatch()
	l.deps.State.SetPlaying(false)

	if monErr != nil && !errors.Is(monErr, io.EOF) {
		l.fail(KindDevice, "Barge-in monitor failed", monErr)
	}
	return interrupted, playErr
}

func (l *Loop) fail(kind Kind, msg string, err error) {
	l.log.Error(msg, "kind", kind, "err", err)
	l.obs.OnError(kind, err)
}

func (l *Loop) backoff(ctx context.Context) {
	if l.cfg.RetryDelay <= 0 {
		return
	}
	t := time.NewTimer(l.cfg.RetryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// playbackSlot lets the monitor stop a playback that may not have started
// yet.
type playbackSlot struct {
	mu      sync.Mutex
	pb      Playback
	stopped bool
}

func (s *playbackSlot) set(pb Playback) {
	s.mu.Lock()
	s.pb = pb
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		pb.Stop()
	}
}

func (s *playbackSlot) stop() {
	s.mu.Lock()
	s.stopped = true
	pb := s.pb
	s.mu.Unlock()
	if pb != nil {
		pb.Stop()
	}
}
