package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ghostquant/internal/audio"
	"ghostquant/internal/domain"
	"ghostquant/internal/ports"
	"ghostquant/internal/wake"
)

var (
	ErrReadyTimeout = errors.New("transcription backend did not become ready")
	ErrStreamLost   = errors.New("transcription stream lost")
)

const (
	DefaultReadyTimeout     = 15 * time.Second
	DefaultMaxReconnects    = 3
	DefaultReconnectBackoff = time.Second
	defaultChunkSize        = 4096
	defaultStreamGrace      = 4 * time.Second
)

// ListenerConfig controls capture and transcription streaming.
type ListenerConfig struct {
	Audio            ports.AudioConfig
	Streaming        ports.StreamingConfig
	ChunkSize        int
	ReadyTimeout     time.Duration
	MaxReconnects    int
	ReconnectBackoff time.Duration
	StreamGrace      time.Duration
}

func (c ListenerConfig) withDefaults() ListenerConfig {
	if c.ChunkSize < 256 {
		c.ChunkSize = defaultChunkSize
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.MaxReconnects < 0 {
		c.MaxReconnects = 0
	} else if c.MaxReconnects == 0 {
		c.MaxReconnects = DefaultMaxReconnects
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = DefaultReconnectBackoff
	}
	if c.StreamGrace <= 0 {
		c.StreamGrace = defaultStreamGrace
	}
	return c
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithUtteranceHandler receives every committed utterance.
func WithUtteranceHandler(f func(domain.Utterance)) ListenerOption {
	return func(l *Listener) { l.onUtterance = f }
}

// WithSpeechHandler receives user speech start/end from the detector.
func WithSpeechHandler(f func(active bool)) ListenerOption {
	return func(l *Listener) { l.onSpeech = f }
}

// WithSpeechDetector sets the factory for the per-session detector.
func WithSpeechDetector(factory func() SpeechDetector) ListenerOption {
	return func(l *Listener) { l.newDetector = factory }
}

// Listener captures microphone audio, streams it for transcription, and
// turns committed transcripts into utterances.
type Listener struct {
	audio       ports.AudioCapture
	provider    ports.TranscriptionProvider
	events      ports.EventSink
	finalizer   utteranceFinalizer
	cfg         ListenerConfig
	logger      zerolog.Logger
	onUtterance func(domain.Utterance)
	onSpeech    func(bool)
	newDetector func() SpeechDetector

	mu      sync.Mutex
	current *listenSession
}

func NewListener(
	capture ports.AudioCapture,
	provider ports.TranscriptionProvider,
	corrector ports.TranscriptCorrector,
	normalizer *wake.Normalizer,
	events ports.EventSink,
	cfg ListenerConfig,
	logger zerolog.Logger,
	opts ...ListenerOption,
) *Listener {
	cfg = cfg.withDefaults()
	l := &Listener{
		audio:     capture,
		provider:  provider,
		events:    events,
		finalizer: newUtteranceFinalizer(corrector, normalizer, events),
		cfg:       cfg,
		logger:    logger.With().Str("component", "listener").Logger(),
		newDetector: func() SpeechDetector {
			return audio.NewVAD(audio.VADConfig{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels})
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start opens the microphone and the transcription stream and returns once
// the backend reports ready. A running session is replaced.
func (l *Listener) Start(ctx context.Context) error {
	var previous *listenSession

	l.mu.Lock()
	if l.current != nil {
		previous = l.current
		l.current = nil
	}
	l.mu.Unlock()

	if previous != nil {
		l.stopSession(previous)
	}

	l.events.ListenerStateChanged(domain.ListenerStateConnecting, domain.ListenerReasonConnecting)

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	audioSession, err := l.audio.Start(sessionCtx, l.cfg.Audio)
	if err != nil {
		cancel()
		l.events.SessionError(domain.ErrorCodeAudioCapture, fmt.Sprintf("failed to start microphone: %v", err))
		l.events.ListenerStateChanged(domain.ListenerStateError, domain.ListenerReasonCaptureFailed)
		return err
	}

	stream, err := l.provider.StartStreaming(sessionCtx, l.cfg.Streaming)
	if err != nil {
		_ = audioSession.Stop()
		cancel()
		l.events.SessionError(domain.ErrorCodeTranscription, fmt.Sprintf("failed to open transcription stream: %v", err))
		l.events.ListenerStateChanged(domain.ListenerStateError, domain.ListenerReasonConnectFailed)
		return err
	}

	active := &listenSession{
		cancel:     cancel,
		audio:      audioSession,
		stream:     stream,
		state:      domain.ListenerStateConnecting,
		readyCh:    make(chan struct{}),
		stopCh:     make(chan struct{}),
		commits:    newCommitTracker(),
		streamDone: make(chan struct{}),
		audioDone:  make(chan struct{}),
	}
	if l.newDetector != nil {
		active.detector = l.newDetector()
	}

	l.mu.Lock()
	l.current = active
	l.mu.Unlock()

	go l.superviseStream(sessionCtx, active)
	go l.pumpAudioChunks(active)

	timer := time.NewTimer(l.cfg.ReadyTimeout)
	defer timer.Stop()

	select {
	case <-active.readyCh:
	case <-timer.C:
		l.abandon(active, domain.ListenerReasonReadyTimeout)
		l.events.SessionError(domain.ErrorCodeTranscription, "transcription backend did not become ready in time")
		return ErrReadyTimeout
	case <-ctx.Done():
		l.abandon(active, domain.ListenerReasonStopped)
		return ctx.Err()
	case <-active.streamDone:
		select {
		case <-active.readyCh:
		default:
			return ErrStreamLost
		}
	}

	active.setState(domain.ListenerStateListening)
	reason := domain.ListenerReasonReady
	if previous != nil {
		reason = domain.ListenerReasonRestarted
	}
	l.events.ListenerStateChanged(domain.ListenerStateListening, reason)
	return nil
}

// Stop ends the active session. It is a no-op when nothing is running.
func (l *Listener) Stop() error {
	l.mu.Lock()
	active := l.current
	l.current = nil
	l.mu.Unlock()

	if active == nil {
		return nil
	}

	active.setState(domain.ListenerStateStopping)
	l.events.ListenerStateChanged(domain.ListenerStateStopping, domain.ListenerReasonStopped)
	l.stopSession(active)
	active.setState(domain.ListenerStateIdle)
	l.events.ListenerStateChanged(domain.ListenerStateIdle, domain.ListenerReasonStopped)
	return nil
}

// Status returns the listener status.
func (l *Listener) Status() domain.Status {
	l.mu.Lock()
	active := l.current
	l.mu.Unlock()

	if active == nil {
		return domain.Status{State: domain.ListenerStateIdle}
	}
	state := active.getState()
	return domain.Status{
		State:          state,
		Active:         state != domain.ListenerStateIdle,
		Ready:          active.isReady(),
		LastTranscript: active.commits.LastSpoken(),
	}
}

// stopSession sends end-of-stream, stops capture and waits for the session goroutines.
func (l *Listener) stopSession(active *listenSession) {
	if !active.markStopping() {
		<-active.streamDone
		<-active.audioDone
		return
	}

	if err := active.audio.Stop(); err != nil {
		l.events.SessionError(domain.ErrorCodeAudioCapture, "failed to stop audio capture cleanly")
	}
	stream := active.currentStream()
	_ = stream.CloseSend()

	timer := time.NewTimer(l.cfg.StreamGrace)
	select {
	case <-active.streamDone:
		timer.Stop()
	case <-timer.C:
		_ = stream.Close()
		<-active.streamDone
	}
	<-active.audioDone
	active.cancel()

	if active.detector != nil && active.detector.Reset() == audio.TransitionSpeechEnded {
		l.userSpeech(false)
	}
}

// abandon tears down a session that never became usable.
func (l *Listener) abandon(active *listenSession, reason domain.ListenerReason) {
	l.mu.Lock()
	if l.current == active {
		l.current = nil
	}
	l.mu.Unlock()

	l.stopSession(active)
	active.setState(domain.ListenerStateError)
	l.events.ListenerStateChanged(domain.ListenerStateError, reason)
}

// superviseStream consumes transcript events and redials the stream when it
// closes unexpectedly.
func (l *Listener) superviseStream(ctx context.Context, active *listenSession) {
	defer close(active.streamDone)

	stream := active.currentStream()
	for {
		l.consumeTranscriptionEvents(active, stream)
		streamErr := waitForStream(stream, l.cfg.StreamGrace)
		if active.isStopping() || ctx.Err() != nil {
			return
		}

		l.logger.Warn().Err(streamErr).Msg("transcription stream closed unexpectedly")
		next, ok := l.reconnect(ctx, active)
		if !ok {
			if active.isStopping() {
				return
			}
			l.failSession(active, streamErr)
			return
		}
		stream = next
	}
}

func (l *Listener) reconnect(ctx context.Context, active *listenSession) (ports.StreamingSession, bool) {
	active.markReconnecting()
	for attempt := 1; attempt <= l.cfg.MaxReconnects; attempt++ {
		l.events.ListenerStateChanged(domain.ListenerStateConnecting, domain.ListenerReasonReconnecting)

		backoff := time.Duration(attempt) * l.cfg.ReconnectBackoff
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false
		case <-active.stopCh:
			timer.Stop()
			return nil, false
		case <-timer.C:
		}

		stream, err := l.provider.StartStreaming(ctx, l.cfg.Streaming)
		if err != nil {
			l.logger.Warn().Err(err).Int("attempt", attempt).Msg("transcription redial failed")
			continue
		}
		if !active.replaceStream(stream) {
			_ = stream.Close()
			return nil, false
		}
		l.logger.Info().Int("attempt", attempt).Msg("transcription stream redialled")
		return stream, true
	}
	return nil, false
}

// failSession reports exhausted retries and force-stops capture. It runs on the supervisor goroutine.
func (l *Listener) failSession(active *listenSession, cause error) {
	detail := fmt.Sprintf("%v after %d reconnect attempts", ErrStreamLost, l.cfg.MaxReconnects)
	if cause != nil {
		detail = fmt.Sprintf("%s: %v", detail, cause)
	}
	l.events.SessionError(domain.ErrorCodeTranscription, detail)

	l.mu.Lock()
	if l.current == active {
		l.current = nil
	}
	l.mu.Unlock()

	if active.markStopping() {
		_ = active.audio.Stop()
		active.cancel()
	}
	active.setState(domain.ListenerStateError)
	l.events.ListenerStateChanged(domain.ListenerStateError, domain.ListenerReasonRetriesExhausted)
}

func (l *Listener) consumeTranscriptionEvents(active *listenSession, stream ports.StreamingSession) {
	for event := range stream.Events() {
		switch event.Kind {
		case domain.TranscriptKindReady:
			l.logger.Debug().Str("sessionId", event.SessionID).Msg("transcription backend ready")
			if !active.markReady() {
				active.setState(domain.ListenerStateListening)
				l.events.ListenerStateChanged(domain.ListenerStateListening, domain.ListenerReasonReconnected)
			}
		case domain.TranscriptKindPartial:
			text := strings.TrimSpace(event.Text)
			if text == "" {
				continue
			}
			active.commits.Partial(text)
			l.events.PartialTranscript(text)
		case domain.TranscriptKindFinal:
			if !active.commits.Commit(event.Text) {
				l.logger.Debug().Str("text", event.Text).Msg("dropping duplicate commit")
				continue
			}
			utterance := l.finalizer.Finalize(event.Text)
			l.events.FinalTranscript(utterance)
			if l.onUtterance != nil {
				l.onUtterance(utterance)
			}
		case domain.TranscriptKindError:
			l.events.SessionError(domain.ErrorCodeTranscription, event.Text)
		}
	}
}
