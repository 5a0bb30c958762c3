package ports

import (
	"context"
	"io"

	"ghostquant/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session producing PCM16 little-endian frames.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate int
	Channels   int
	Encoding   string
	Language   string
	Model      string
}

// StreamingSession is an active transcription websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// TranscriptCorrector rewrites committed transcripts using deterministic rules.
type TranscriptCorrector interface {
	Apply(text string) (string, error)
}

// SynthesisRequest asks a provider to render text to audio.
type SynthesisRequest struct {
	Text    string
	VoiceID string
}

// SynthesizedAudio is the provider response body.
type SynthesizedAudio struct {
	Data       []byte
	Format     string
	SampleRate int
}

// SpeechSynthesizer renders speech audio for text.
type SpeechSynthesizer interface {
	Available() bool
	Synthesize(ctx context.Context, req SynthesisRequest) (SynthesizedAudio, error)
}

// AudioPlayer plays synthesized audio, blocking until done or ctx is cancelled.
type AudioPlayer interface {
	Play(ctx context.Context, audio SynthesizedAudio) error
}

// Responder produces an answer for a spoken query.
type Responder interface {
	Respond(ctx context.Context, query string, mode domain.VoiceMode) (string, error)
}

// SettingsStore persists process-wide voice settings.
type SettingsStore interface {
	LoadVoiceMode(ctx context.Context) (domain.VoiceMode, error)
	SaveVoiceMode(ctx context.Context, mode domain.VoiceMode) error
}

// EventSink receives structured copilot events.
type EventSink interface {
	ListenerStateChanged(state domain.ListenerState, reason domain.ListenerReason)
	PartialTranscript(text string)
	FinalTranscript(utterance domain.Utterance)
	UserSpeech(active bool)
	SpeakingStarted(id string, text string)
	SpeakingEnded(id string, err error)
	Interruption(event domain.InterruptionEvent)
	WatchdogSynthesis(synthesis domain.Synthesis)
	SessionError(code domain.ErrorCode, detail string)
}
