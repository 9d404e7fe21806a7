package playback

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// maxVolume is the PulseAudio ceiling in percent.
const maxVolume = 150

// SinkInput is one application output stream.
type SinkInput struct {
	ID      int
	Volume  int
	AppName string
}

// Mixer reads and sets per-application output volumes.
type Mixer interface {
	SinkInputs(ctx context.Context) ([]SinkInput, error)
	SetVolume(ctx context.Context, id, percent int) error
}

type DuckConfig struct {
	Enabled bool `yaml:"enabled"`
	// Factor scales other streams while ducked, e.g. 0.3.
	Factor float64 `yaml:"factor"`
	// MinVolume in percent that ducked streams never go below.
	MinVolume int           `yaml:"min_volume"`
	Fade      time.Duration `yaml:"fade"`
	// Self lists application.name values that are never touched.
	Self []string `yaml:"self"`
}

func DefaultDuckConfig() DuckConfig {
	return DuckConfig{
		Factor:    0.3,
		MinVolume: 10,
		Fade:      150 * time.Millisecond,
		Self:      []string{"voxtalk", "ALSA plug-in [voxtalk]"},
	}
}

// Ducker fades every other application down while the assistant speaks and
// back up afterwards.
type Ducker struct {
	mixer Mixer
	cfg   DuckConfig

	mu     sync.Mutex
	active bool
	orig   map[int]int
}

func NewDucker(m Mixer, cfg DuckConfig) *Ducker {
	if m == nil {
		m = Pactl{}
	}
	cfg.MinVolume = min(max(cfg.MinVolume, 0), maxVolume)
	return &Ducker{mixer: m, cfg: cfg, orig: make(map[int]int)}
}

type fade struct {
	id, from, to int
}

// Duck is a no-op while already ducked.
func (d *Ducker) Duck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active {
		return nil
	}

	inputs, err := d.mixer.SinkInputs(ctx)
	if err != nil {
		return err
	}

	d.orig = make(map[int]int)
	var fades []fade
	for _, in := range inputs {
		if slices.Contains(d.cfg.Self, in.AppName) {
			continue
		}
		to := int(math.Round(float64(in.Volume) * d.cfg.Factor))
		to = min(max(to, d.cfg.MinVolume), maxVolume)
		d.orig[in.ID] = in.Volume
		fades = append(fades, fade{id: in.ID, from: in.Volume, to: to})
	}

	d.active = true
	return d.apply(ctx, fades)
}

// Restore fades ducked streams back to their original volume. Streams that
// appeared after Duck are left alone.
func (d *Ducker) Restore(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active {
		return nil
	}

	inputs, err := d.mixer.SinkInputs(ctx)
	if err != nil {
		return err
	}

	var fades []fade
	for _, in := range inputs {
		if orig, ok := d.orig[in.ID]; ok {
			fades = append(fades, fade{id: in.ID, from: in.Volume, to: orig})
		}
	}

	d.orig = make(map[int]int)
	d.active = false
	return d.apply(ctx, fades)
}

func (d *Ducker) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Ducker) apply(ctx context.Context, fades []fade) error {
	if len(fades) == 0 {
		return nil
	}

	const minStep = 10 * time.Millisecond
	steps := max(int(d.cfg.Fade/minStep), 1)
	if d.cfg.Fade <= 0 {
		steps = 1
	}
	step := d.cfg.Fade / time.Duration(steps)

	for i := 1; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		frac := float64(i) / float64(steps)
		for _, f := range fades {
			v := int(math.Round(float64(f.from) + float64(f.to-f.from)*frac))
			if err := d.mixer.SetVolume(ctx, f.id, v); err != nil {
				return fmt.Errorf("set volume id=%d: %w", f.id, err)
			}
		}
		if i < steps && step > 0 {
			time.Sleep(step)
		}
	}
	return nil
}

// Pactl drives PulseAudio or PipeWire through the pactl CLI.
type Pactl struct{}

func (Pactl) SinkInputs(ctx context.Context) ([]SinkInput, error) {
	out, err := exec.CommandContext(ctx, "pactl", "list", "sink-inputs").Output()
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}
	return ParseSinkInputs(string(out)), nil
}

func (Pactl) SetVolume(ctx context.Context, id, percent int) error {
	percent = min(max(percent, 0), maxVolume)
	return exec.CommandContext(ctx, "pactl", "set-sink-input-volume", strconv.Itoa(id), fmt.Sprintf("%d%%", percent)).Run()
}

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

// ParseSinkInputs reads the output of `pactl list sink-inputs`.
func ParseSinkInputs(text string) []SinkInput {
	blocks := strings.Split(text, "Sink Input #")
	var res []SinkInput
	for _, block := range blocks[1:] {
		head, body, ok := strings.Cut(block, "\n")
		if !ok {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(head))
		if err != nil {
			continue
		}

		in := SinkInput{ID: id}
		for _, line := range strings.Split(body, "\n") {
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "Volume:") && in.Volume == 0:
				if m := percentRe.FindStringSubmatch(line); m != nil {
					in.Volume, _ = strconv.Atoi(m[1])
				}
			case strings.HasPrefix(line, "application.name =") && in.AppName == "":
				_, v, _ := strings.Cut(line, "=")
				in.AppName = strings.Trim(strings.TrimSpace(v), `"`)
			}
		}
		if in.Volume == 0 && in.AppName == "" {
			continue
		}
		res = append(res, in)
	}
	return res
}
