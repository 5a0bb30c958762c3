package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Transition is a change in detected voice activity.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionSpeechStarted
	TransitionSpeechEnded
)

// VADConfig tunes the energy detector. Levels are RMS in 0..1 of full scale.
type VADConfig struct {
	SampleRate       int
	Channels         int
	SpeechThreshold  float64
	SilenceThreshold float64
	SpeechHold       time.Duration
	SilenceHold      time.Duration
}

// DefaultVADConfig suits 16 kHz mono speech.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		SampleRate:       16000,
		Channels:         1,
		SpeechThreshold:  0.015,
		SilenceThreshold: 0.008,
		SpeechHold:       60 * time.Millisecond,
		SilenceHold:      600 * time.Millisecond,
	}
}

// VAD is an RMS energy voice activity detector with hysteresis.
// It is not safe for concurrent use; the audio pump owns it.
type VAD struct {
	cfg      VADConfig
	inSpeech bool
	loud     time.Duration
	quiet    time.Duration
}

func NewVAD(cfg VADConfig) *VAD {
	defaults := DefaultVADConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaults.SampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = defaults.Channels
	}
	if cfg.SpeechThreshold <= 0 {
		cfg.SpeechThreshold = defaults.SpeechThreshold
	}
	if cfg.SilenceThreshold <= 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		cfg.SilenceThreshold = cfg.SpeechThreshold / 2
	}
	if cfg.SpeechHold <= 0 {
		cfg.SpeechHold = defaults.SpeechHold
	}
	if cfg.SilenceHold <= 0 {
		cfg.SilenceHold = defaults.SilenceHold
	}
	return &VAD{cfg: cfg}
}

// Process consumes one PCM16LE buffer and reports a transition, if any.
func (v *VAD) Process(pcm []byte) Transition {
	samples := len(pcm) / 2
	if samples == 0 {
		return TransitionNone
	}
	span := time.Duration(samples/v.cfg.Channels) * time.Second / time.Duration(v.cfg.SampleRate)
	level := RMS(pcm)

	if v.inSpeech {
		if level < v.cfg.SilenceThreshold {
			v.quiet += span
			if v.quiet >= v.cfg.SilenceHold {
				v.inSpeech = false
				v.quiet = 0
				return TransitionSpeechEnded
			}
		} else {
			v.quiet = 0
		}
		return TransitionNone
	}

	if level >= v.cfg.SpeechThreshold {
		v.loud += span
		if v.loud >= v.cfg.SpeechHold {
			v.inSpeech = true
			v.loud = 0
			return TransitionSpeechStarted
		}
	} else {
		v.loud = 0
	}
	return TransitionNone
}

// Active reports whether the detector currently considers the user speaking.
func (v *VAD) Active() bool {
	return v.inSpeech
}

// Reset clears hysteresis state. It returns TransitionSpeechEnded if speech was active.
func (v *VAD) Reset() Transition {
	wasSpeaking := v.inSpeech
	v.inSpeech = false
	v.loud = 0
	v.quiet = 0
	if wasSpeaking {
		return TransitionSpeechEnded
	}
	return TransitionNone
}

// RMS returns the root mean square level of PCM16LE samples in 0..1.
func RMS(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < samples; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
		sum += s * s
	}
	return math.Sqrt(sum / float64(samples))
}
