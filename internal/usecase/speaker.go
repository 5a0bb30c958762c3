package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ghostquant/internal/domain"
	"ghostquant/internal/ports"
)

var (
	ErrMissingCredentials = errors.New("text-to-speech credentials are not configured")
	ErrInterrupted        = errors.New("playback interrupted")
	ErrEmptySpeech        = errors.New("nothing to speak")
)

// PlaybackObserver is told when audible playback starts and ends.
type PlaybackObserver interface {
	TTSStarted()
	TTSEnded()
}

// SpeakerOption configures a Speaker.
type SpeakerOption func(*Speaker)

// WithPlaybackObserver reports speaking start/end to o.
func WithPlaybackObserver(o PlaybackObserver) SpeakerOption {
	return func(s *Speaker) { s.observer = o }
}

// WithVoice overrides the provider default voice.
func WithVoice(voiceID string) SpeakerOption {
	return func(s *Speaker) { s.voiceID = voiceID }
}

type utterance struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// Speaker plays at most one utterance at a time. A new Speak preempts the
// current one and waits for its end event before starting.
type Speaker struct {
	synth    ports.SpeechSynthesizer
	player   ports.AudioPlayer
	events   ports.EventSink
	observer PlaybackObserver
	voiceID  string
	logger   zerolog.Logger

	turn    sync.Mutex
	mu      sync.Mutex
	current *utterance
}

func NewSpeaker(synth ports.SpeechSynthesizer, player ports.AudioPlayer, events ports.EventSink, logger zerolog.Logger, opts ...SpeakerOption) *Speaker {
	s := &Speaker{
		synth:  synth,
		player: player,
		events: events,
		logger: logger.With().Str("component", "speaker").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Speak synthesizes and plays text, blocking until playback ends.
func (s *Speaker) Speak(ctx context.Context, text string) (err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptySpeech
	}
	if s.synth == nil || !s.synth.Available() {
		return ErrMissingCredentials
	}

	u, uctx := s.begin(ctx)
	s.events.SpeakingStarted(u.id, text)
	if s.observer != nil {
		s.observer.TTSStarted()
	}
	defer s.end(u, uctx, ctx, &err)

	audio, err := s.synth.Synthesize(uctx, ports.SynthesisRequest{Text: text, VoiceID: s.voiceID})
	if err != nil {
		if uctx.Err() == nil {
			s.events.SessionError(domain.ErrorCodeSynthesis, fmt.Sprintf("speech synthesis failed: %v", err))
		}
		return err
	}
	if err := s.player.Play(uctx, audio); err != nil {
		if uctx.Err() == nil {
			s.events.SessionError(domain.ErrorCodePlayback, fmt.Sprintf("playback failed: %v", err))
		}
		return err
	}
	return nil
}

// begin preempts any current utterance and installs a new one.
func (s *Speaker) begin(ctx context.Context) (*utterance, context.Context) {
	s.turn.Lock()
	defer s.turn.Unlock()

	s.mu.Lock()
	previous := s.current
	s.mu.Unlock()
	if previous != nil {
		previous.cancel()
		<-previous.done
	}

	uctx, cancel := context.WithCancel(ctx)
	u := &utterance{id: uuid.NewString(), cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.current = u
	s.mu.Unlock()
	return u, uctx
}

// end emits the speaking-ended event. A cancellation by Stop or a newer Speak becomes ErrInterrupted.
func (s *Speaker) end(u *utterance, uctx, parent context.Context, errp *error) {
	s.mu.Lock()
	if s.current == u {
		s.current = nil
	}
	s.mu.Unlock()

	if *errp != nil && uctx.Err() != nil && parent.Err() == nil {
		s.logger.Debug().Str("id", u.id).Msg("playback interrupted")
		*errp = ErrInterrupted
	}
	u.cancel()

	if s.observer != nil {
		s.observer.TTSEnded()
	}
	s.events.SpeakingEnded(u.id, *errp)
	close(u.done)
}

// Stop cancels the current utterance without waiting for it to end.
func (s *Speaker) Stop() {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current != nil {
		current.cancel()
	}
}

// Speaking reports whether an utterance is in progress.
func (s *Speaker) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}
