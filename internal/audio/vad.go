package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// VADConfig holds voice activity detection parameters.
type VADConfig struct {
	EnergyThreshold float64       // RMS energy threshold for speech
	SpeechMin       time.Duration // minimum loud run to confirm speech start
	SilenceMin      time.Duration // minimum quiet run to confirm speech end
	FrameDuration   time.Duration
	// AmbientRatio scales measured ambient energy into a threshold during calibration.
	AmbientRatio float64
}

func DefaultVADConfig() VADConfig {
	return VADConfig{
		EnergyThreshold: 300,
		SpeechMin:       90 * time.Millisecond,
		SilenceMin:      800 * time.Millisecond,
		FrameDuration:   30 * time.Millisecond,
		AmbientRatio:    1.5,
	}
}

type vadEvent int

const (
	vadNone vadEvent = iota
	vadSpeechStart
	vadSpeechEnd
)

// vad performs energy-based voice activity detection on 16-bit PCM frames.
type vad struct {
	cfg           VADConfig
	threshold     float64
	speaking      bool
	speechFrames  int
	silenceFrames int
}

func newVAD(cfg VADConfig) *vad {
	return &vad{cfg: cfg, threshold: cfg.EnergyThreshold}
}

func (v *vad) process(frame []byte) vadEvent {
	frameMs := v.cfg.FrameDuration
	if rmsEnergy(frame) >= v.threshold {
		v.silenceFrames = 0
		v.speechFrames++
		if !v.speaking && time.Duration(v.speechFrames)*frameMs >= v.cfg.SpeechMin {
			v.speaking = true
			return vadSpeechStart
		}
		return vadNone
	}

	v.speechFrames = 0
	v.silenceFrames++
	if v.speaking && time.Duration(v.silenceFrames)*frameMs >= v.cfg.SilenceMin {
		v.speaking = false
		return vadSpeechEnd
	}
	return vadNone
}

// calibrate raises the threshold to ratio*ambient; it never drops below
// the configured floor.
func (v *vad) calibrate(ambient float64) {
	t := ambient * v.cfg.AmbientRatio
	if t < v.cfg.EnergyThreshold {
		t = v.cfg.EnergyThreshold
	}
	v.threshold = t
}

func (v *vad) reset() {
	v.speaking = false
	v.speechFrames = 0
	v.silenceFrames = 0
}

// rmsEnergy computes the root-mean-square energy of 16-bit signed PCM audio.
func rmsEnergy(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	numSamples := len(pcm) / 2
	var sumSquares float64
	for i := 0; i < numSamples; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		sumSquares += float64(sample) * float64(sample)
	}
	return math.Sqrt(sumSquares / float64(numSamples))
}
