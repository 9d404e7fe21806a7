package vad

import (
	"errors"
	"math"
)

// energyThresholds maps aggressiveness to the frame RMS, on the int16 scale,
// a frame must reach to count as speech.
var energyThresholds = [...]float64{
	Permissive:     250,
	Moderate:       400,
	Aggressive:     650,
	VeryAggressive: 1000,
}

// Energy is a stateless RMS detector. It is safe for concurrent use.
type Energy struct {
	threshold float64
}

func NewEnergy(a Aggressiveness) (*Energy, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &Energy{threshold: energyThresholds[a]}, nil
}

// NewEnergyThreshold uses an explicit RMS threshold instead of a preset.
func NewEnergyThreshold(rms float64) (*Energy, error) {
	if rms <= 0 || math.IsNaN(rms) || math.IsInf(rms, 0) {
		return nil, errors.New("vad: energy threshold must be a positive number")
	}
	return &Energy{threshold: rms}, nil
}

func (e *Energy) Threshold() float64 { return e.threshold }

func (e *Energy) IsSpeech(frame []int16) (bool, error) {
	if len(frame) == 0 {
		return false, errors.New("empty frame")
	}
	return frameRMS(frame) >= e.threshold, nil
}

func frameRMS(f []int16) float64 {
	var s float64
	for _, x := range f {
		v := float64(x)
		s += v * v
	}
	return math.Sqrt(s / float64(len(f)))
}
