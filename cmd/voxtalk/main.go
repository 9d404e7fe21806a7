package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	cli "github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	log "log/slog"

	"voxtalk/internal/audio"
	"voxtalk/internal/bargein"
	"voxtalk/internal/bus"
	"voxtalk/internal/capture"
	"voxtalk/internal/config"
	"voxtalk/internal/conversation"
	"voxtalk/internal/ipc"
	"voxtalk/internal/llm"
	"voxtalk/internal/notify"
	"voxtalk/internal/observe"
	"voxtalk/internal/playback"
	"voxtalk/internal/proxy"
	"voxtalk/internal/session"
	"voxtalk/internal/tts"
	"voxtalk/internal/tts/espeak"
	"voxtalk/internal/vad"
	"voxtalk/pkg/stt"
)

var version = "dev"

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	cfgFile := cli.StringP("config", "c", "", "YAML config file")
	logLevel := cli.StringP("log", "l", "", "Log level (debug, info, warn, error)")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks proxy address for the language model")
	metricsAddr := cli.StringP("metrics", "m", "", "Serve Prometheus metrics on this address")
	input := cli.StringP("file", "f", "", "Replay this audio file instead of the microphone")
	realtime := cli.Bool("realtime", false, "Pace file input at the frame rate")
	socket := cli.StringP("socket", "s", "", "Control socket path")
	cli.Parse()

	godotenv.Load(*envFile)

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cli.Visit(func(f *cli.Flag) {
		switch f.Name {
		case "log":
			cfg.LogLevel = *logLevel
		case "proxy":
			cfg.Proxy.Socks = *proxyAddr
		case "metrics":
			cfg.Metrics.Addr = *metricsAddr
		case "file":
			cfg.Audio.Input = *input
		case "realtime":
			cfg.Audio.Realtime = *realtime
		case "socket":
			cfg.IPC.Socket = *socket
		}
	})
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[cfg.LogLevel],
	})))

	log.Info("Booting up", "version", version)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cancel, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Exited with error", "err", err)
		os.Exit(1)
	}
	log.Info("Bye")
}

func run(ctx context.Context, quit context.CancelFunc, cfg *config.Config) error {
	g, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Addr != "" {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		defer shutdown(context.Background())
		g.Go(func() error { return serveMetrics(ctx, cfg.Metrics.Addr) })
	}
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	observers := []conversation.Observer{observe.NewObserver(metrics)}

	if cfg.Bus.URL != "" {
		pub, err := bus.Dial(ctx, cfg.Bus)
		if err != nil {
			return err
		}
		g.Go(func() error { return pub.Run(ctx) })
		observers = append(observers, pub)
	}
	obs := conversation.Observers(observers...)

	src, closeSrc, err := openSource(ctx, cfg.Audio)
	if err != nil {
		return err
	}
	defer closeSrc()
	log.Debug("Loaded audio source", "input", cfg.Audio.Input)

	var det vad.Detector
	if cfg.VAD.Threshold > 0 {
		det, err = vad.NewEnergyThreshold(cfg.VAD.Threshold)
	} else {
		det, err = vad.NewEnergy(cfg.VAD.Aggressiveness)
	}
	if err != nil {
		return err
	}
	classifier, err := vad.NewClassifier(det, cfg.Audio.Format, vad.WithErrorHook(func(err error) {
		obs.OnError(conversation.KindClassification, err)
	}))
	if err != nil {
		return err
	}

	capturer, err := capture.NewCapturer(cfg.Audio.Format, cfg.Capture, classifier, log.Default())
	if err != nil {
		return err
	}
	state := session.New()
	monitor, err := bargein.New(cfg.Audio.Format, classifier, state,
		bargein.WithMinSpeechFrames(cfg.VAD.BargeInFrames))
	if err != nil {
		return err
	}

	whisper, err := stt.NewTranscriber(cfg.STT.Model, stt.Options{
		Language:      cfg.STT.Language,
		TranslateToEn: cfg.STT.Translate,
		Threads:       cfg.STT.Threads,
		InitialPrompt: cfg.STT.InitialPrompt,
		BeamSize:      cfg.STT.BeamSize,
		Temperature:   cfg.STT.Temperature,
	})
	if err != nil {
		return fmt.Errorf("whisper: %w", err)
	}
	defer whisper.Close()
	log.Debug("Loaded whisper", "model", cfg.STT.Model)

	var transcriber conversation.Transcriber = whisper
	if cfg.Audio.DumpDir != "" {
		transcriber = &wavDump{next: whisper, dir: cfg.Audio.DumpDir}
	}

	httpClient, err := proxy.NewSocksClient(cfg.Proxy.Socks, cfg.Proxy.Timeout)
	if err != nil {
		return err
	}
	completer, err := llm.New(cfg.LLM, httpClient)
	if err != nil {
		return err
	}
	log.Debug("Loaded language model", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)

	engine, err := espeak.New(espeak.Config{Voice: cfg.TTS.Voice, Rate: cfg.TTS.Rate, Pitch: cfg.TTS.Pitch})
	if err != nil {
		return err
	}
	defer engine.Close()

	var popts []playback.Option
	if cfg.Duck.Enabled {
		popts = append(popts, playback.WithDucker(playback.NewDucker(playback.Pactl{}, cfg.Duck)))
	}
	player := playback.New(engine.SampleRate(), cfg.TTS.Buffer, popts...)
	if err := player.Init(); err != nil {
		return err
	}
	defer player.Close()

	speaker := tts.NewSpeaker(engine, func(ctx context.Context, pcm tts.PCM) (conversation.Playback, error) {
		h, err := player.Play(ctx, pcm.Samples, pcm.SampleRate)
		if err != nil {
			return nil, err
		}
		return h, nil
	})

	var cue conversation.Cue
	if cfg.TTS.Earcon != "" {
		earcon, err := notify.LoadEarcon(cfg.TTS.Earcon, player)
		if err != nil {
			log.Warn("Earcon disabled", "err", err)
		} else {
			cue = earcon
		}
	}

	loop, err := conversation.New(cfg.Conversation, conversation.Deps{
		Source:      src,
		Capturer:    capturer,
		Monitor:     monitor,
		State:       state,
		Transcriber: transcriber,
		Completer:   completer,
		Synthesizer: speaker,
		Cue:         cue,
		Observer:    obs,
		Logger:      log.Default(),
	})
	if err != nil {
		return err
	}

	srv, err := ipc.Listen(cfg.IPC.Socket, func(msg ipc.ControlMessage) ipc.Reply {
		switch msg.Cmd {
		case ipc.CmdStop:
			loop.Stop()
			return ipc.Reply{OK: true}
		case ipc.CmdQuit:
			quit()
			return ipc.Reply{OK: true}
		case ipc.CmdStatus:
			status := "listening"
			if state.Playing() {
				status = "speaking"
			}
			return ipc.Reply{OK: true, Status: status}
		default:
			log.Warn("Unknown command", "cmd", msg.Cmd)
			return ipc.Reply{Error: "unknown command " + msg.Cmd}
		}
	})
	if err != nil {
		return err
	}
	g.Go(func() error { return srv.Serve(ctx) })

	log.Info("Boot up - successful", "socket", srv.Path())

	g.Go(func() error {
		defer quit()
		return loop.Run(ctx)
	})
	return g.Wait()
}

func openSource(ctx context.Context, cfg config.AudioConfig) (audio.Source, func(), error) {
	if cfg.Input != "" {
		src, err := audio.NewFileSource(ctx, cfg.Input, cfg.Format, cfg.Realtime)
		if err != nil {
			return nil, nil, err
		}
		return src, func() {}, nil
	}
	mic := audio.NewMic(cfg.Format)
	if err := mic.Init(); err != nil {
		return nil, nil, err
	}
	return mic, mic.Close, nil
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observe.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	})
	defer stop()

	log.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}
