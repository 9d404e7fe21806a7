package audioconv

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

// Options controls DecodeFile.
type Options struct {
	// SampleRate is the output rate; the decoded signal is resampled to it.
	SampleRate int
	// MaxSamples truncates the output; 0 keeps everything.
	MaxSamples int
}

// decoded is mono-or-interleaved float32 PCM with its native format.
type decoded struct {
	pcm      []float32
	rate     int
	channels int
}

// DecodeFile reads a wav, mp3, ogg/vorbis or ogg/opus file and returns mono
// float32 samples in [-1, 1] at opt.SampleRate.
func DecodeFile(ctx context.Context, path string, opt Options) ([]float32, error) {
	if opt.SampleRate <= 0 {
		return nil, fmt.Errorf("audioconv: invalid target sample rate %d", opt.SampleRate)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d, err := decodeAny(f, strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return nil, fmt.Errorf("audioconv: %s: %w", path, err)
	}

	x := Downmix(d.pcm, d.channels)
	x = Resample(x, d.rate, opt.SampleRate)
	if opt.MaxSamples > 0 && len(x) > opt.MaxSamples {
		x = x[:opt.MaxSamples]
	}
	return x, nil
}

func decodeAny(f *os.File, ext string) (decoded, error) {
	switch ext {
	case ".wav":
		return decodeWAV(f)
	case ".mp3":
		return decodeMP3(f)
	case ".ogg", ".oga", ".opus":
		return decodeOgg(f)
	}

	// Unknown extension: sniff the container.
	magic, _ := bufio.NewReader(f).Peek(4)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return decoded{}, err
	}
	switch string(magic) {
	case "RIFF":
		return decodeWAV(f)
	case "OggS":
		return decodeOgg(f)
	case "ID3\x03", "ID3\x04":
		return decodeMP3(f)
	}
	return decoded{}, fmt.Errorf("unsupported format %q (supported: wav, mp3, ogg vorbis/opus)", ext)
}

func decodeWAV(r io.ReadSeeker) (decoded, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return decoded{}, errors.New("invalid wav")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil {
		return decoded{}, err
	}
	if pb == nil || len(pb.Data) == 0 {
		return decoded{}, errors.New("empty wav")
	}

	bd := int(dec.BitDepth)
	if bd == 0 {
		bd = 16
	}

	d := decoded{pcm: IntToFloat32(pb.Data, bd), rate: int(dec.SampleRate), channels: int(dec.NumChans)}
	if pb.Format != nil {
		if pb.Format.SampleRate > 0 {
			d.rate = pb.Format.SampleRate
		}
		if pb.Format.NumChannels > 0 {
			d.channels = pb.Format.NumChannels
		}
	}
	if d.channels <= 0 {
		d.channels = 1
	}
	if d.rate <= 0 {
		return decoded{}, errors.New("wav without sample rate")
	}
	return d, nil
}

func decodeMP3(r io.Reader) (decoded, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return decoded{}, err
	}
	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return decoded{}, err
	}
	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(bytes.NewReader(raw.Bytes()), binary.LittleEndian, &ints); err != nil {
		return decoded{}, err
	}
	// go-mp3 always produces 16-bit stereo.
	return decoded{pcm: Int16ToFloat32(ints), rate: dec.SampleRate(), channels: 2}, nil
}

func decodeOgg(r io.ReadSeeker) (decoded, error) {
	d, vorbisErr := decodeVorbis(r)
	if vorbisErr == nil {
		return d, nil
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return decoded{}, err
	}
	d, opusErr := decodeOpus(r)
	if opusErr != nil {
		return decoded{}, fmt.Errorf("ogg: not vorbis (%v) nor opus (%v)", vorbisErr, opusErr)
	}
	return d, nil
}

func decodeVorbis(r io.Reader) (decoded, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return decoded{}, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return decoded{}, errors.New("invalid vorbis stream")
	}
	return decoded{pcm: pcm, rate: format.SampleRate, channels: format.Channels}, nil
}

// decodeOpus reads an ogg/opus stream, which libopus always decodes at 48 kHz.
func decodeOpus(r io.ReadSeeker) (decoded, error) {
	dec, err := popus.NewDecoder(r)
	if err != nil {
		return decoded{}, err
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	var (
		pcm []float32
		buf = make([]int16, 48_000*ch/2)
	)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			pcm = append(pcm, Int16ToFloat32(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return decoded{}, err
		}
	}
	return decoded{pcm: pcm, rate: 48_000, channels: ch}, nil
}

// IntToFloat32 scales integer samples of the given bit depth into [-1, 1].
func IntToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(clamp(float64(v)*scale, -1.0, 1.0))
	}
	return out
}

func Int16ToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	const scale = 1.0 / 32768.0
	for i, v := range data {
		out[i] = float32(float64(v) * scale)
	}
	return out
}

// Float32ToInt16 converts [-1, 1] samples to 16-bit PCM, clipping overshoot.
func Float32ToInt16(data []float32) []int16 {
	out := make([]int16, len(data))
	for i, v := range data {
		out[i] = int16(math.Round(clamp(float64(v), -1.0, 1.0) * 32767))
	}
	return out
}

// Downmix averages interleaved channels into mono.
func Downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	nFrames := len(in) / channels
	out := make([]float32, nFrames)
	for i := 0; i < nFrames; i++ {
		sum := 0.0
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += float64(in[base+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

// Resample converts between sample rates with linear interpolation.
func Resample(in []float32, inSR, outSR int) []float32 {
	if inSR == outSR || len(in) == 0 || inSR <= 0 || outSR <= 0 {
		return in
	}
	ratio := float64(outSR) / float64(inSR)
	outN := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, outN)
	last := len(in) - 1
	for i := 0; i < outN; i++ {
		src := float64(i) / ratio
		i0 := int(math.Floor(src))
		if i0 >= last {
			out[i] = in[last]
			continue
		}
		a := float32(src - float64(i0))
		out[i] = in[i0]*(1-a) + in[i0+1]*a
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
