// Package interrupt decides when the user is talking over the copilot.
//
// The engine tracks two signals, TTS playback and user speech. When both stay
// active past a debounce delay and a minimum speech duration it stops playback,
// cancels queued responses and hands the floor back to the user. All side
// effects go through injected callbacks.
package interrupt

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ghostquant/internal/domain"
)

const (
	DefaultDebounceDelay     = 100 * time.Millisecond
	DefaultMinSpeechDuration = 200 * time.Millisecond

	// NoMinSpeech disables the minimum speech gate; the debounce alone decides.
	NoMinSpeech time.Duration = -1
)

// Config holds the gate thresholds. A zero MinSpeechDuration takes the
// default; NoMinSpeech turns the gate off.
type Config struct {
	DebounceDelay     time.Duration
	MinSpeechDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.DebounceDelay <= 0 {
		c.DebounceDelay = DefaultDebounceDelay
	}
	switch {
	case c.MinSpeechDuration < 0:
		c.MinSpeechDuration = 0
	case c.MinSpeechDuration == 0:
		c.MinSpeechDuration = DefaultMinSpeechDuration
	}
	return c
}

// Listener receives engine events.
type Listener func(domain.InterruptionEvent)

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the system clock.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithStopTTS registers the callback that halts playback.
func WithStopTTS(f func()) Option {
	return func(e *Engine) { e.stopTTS = f }
}

// WithCancelQueue registers the callback that drops queued responses.
func WithCancelQueue(f func()) Option {
	return func(e *Engine) { e.cancelQueue = f }
}

// Snapshot is a copy of the engine state.
type Snapshot struct {
	State       domain.InterruptionState
	TTSActive   bool
	MicActive   bool
	SpeechStart time.Time
}

// Engine is the barge-in state machine. It is safe for concurrent use.
type Engine struct {
	cfg    Config
	clock  Clock
	logger zerolog.Logger

	stopTTS     func()
	cancelQueue func()

	mu          sync.Mutex
	state       domain.InterruptionState
	ttsActive   bool
	micActive   bool
	speechStart time.Time
	timer       Timer
	generation  uint64
	listeners   []Listener
}

func New(cfg Config, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg.withDefaults(),
		clock:  systemClock{},
		logger: logger.With().Str("component", "interrupt").Logger(),
		state:  domain.InterruptionIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe adds an event listener.
func (e *Engine) Subscribe(l Listener) {
	if l == nil {
		return
	}
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()
}

// State returns the current state.
func (e *Engine) State() domain.InterruptionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		State:       e.state,
		TTSActive:   e.ttsActive,
		MicActive:   e.micActive,
		SpeechStart: e.speechStart,
	}
}

// TTSStarted records that the copilot began speaking.
func (e *Engine) TTSStarted() {
	e.mu.Lock()
	var events []domain.InterruptionEvent
	e.ttsActive = true
	events = append(events, e.event(domain.InterruptionEventTTSStarted))
	if e.state != domain.InterruptionSpeaking {
		events = append(events, e.transition(domain.InterruptionSpeaking))
	}
	if e.micActive {
		e.armLocked(e.cfg.DebounceDelay)
	}
	e.mu.Unlock()

	e.dispatch(events)
}

// TTSEnded records that playback finished or was stopped.
func (e *Engine) TTSEnded() {
	e.mu.Lock()
	var events []domain.InterruptionEvent
	e.ttsActive = false
	e.cancelLocked()
	events = append(events, e.event(domain.InterruptionEventTTSEnded))
	if e.state == domain.InterruptionSpeaking {
		events = append(events, e.transition(domain.InterruptionIdle))
	}
	e.mu.Unlock()

	e.dispatch(events)
}

// SpeechStarted records that the user began talking.
func (e *Engine) SpeechStarted() {
	e.mu.Lock()
	if e.micActive {
		e.mu.Unlock()
		return
	}
	var events []domain.InterruptionEvent
	e.micActive = true
	e.speechStart = e.clock.Now()
	events = append(events, e.event(domain.InterruptionEventSpeechStarted))

	switch {
	case e.state == domain.InterruptionSpeaking && e.ttsActive:
		e.armLocked(e.cfg.DebounceDelay)
	case e.state == domain.InterruptionIdle:
		events = append(events, e.transition(domain.InterruptionListening))
	}
	e.mu.Unlock()

	e.dispatch(events)
}

// SpeechEnded records that the user stopped talking. A pending debounce is cancelled.
func (e *Engine) SpeechEnded() {
	e.mu.Lock()
	if !e.micActive {
		e.mu.Unlock()
		return
	}
	var events []domain.InterruptionEvent
	ev := e.event(domain.InterruptionEventSpeechEnded)
	ev.SpeechDuration = e.clock.Now().Sub(e.speechStart)
	events = append(events, ev)

	e.micActive = false
	e.speechStart = time.Time{}
	e.cancelLocked()
	if e.state == domain.InterruptionListening {
		events = append(events, e.transition(domain.InterruptionIdle))
	}
	e.mu.Unlock()

	e.dispatch(events)
}

// Reset cancels any pending check and returns to idle.
func (e *Engine) Reset() {
	e.mu.Lock()
	var events []domain.InterruptionEvent
	e.cancelLocked()
	e.ttsActive = false
	e.micActive = false
	e.speechStart = time.Time{}
	if e.state != domain.InterruptionIdle {
		events = append(events, e.transition(domain.InterruptionIdle))
	}
	e.mu.Unlock()

	e.dispatch(events)
}

func (e *Engine) armLocked(d time.Duration) {
	e.cancelLocked()
	generation := e.generation
	e.timer = e.clock.AfterFunc(d, func() { e.check(generation) })
}

func (e *Engine) cancelLocked() {
	e.generation++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// check runs when the debounce timer fires. A stale generation means the timer was superseded.
func (e *Engine) check(generation uint64) {
	e.mu.Lock()
	if generation != e.generation {
		e.mu.Unlock()
		return
	}
	e.timer = nil
	if e.state != domain.InterruptionSpeaking || !e.ttsActive || !e.micActive {
		e.mu.Unlock()
		return
	}

	elapsed := e.clock.Now().Sub(e.speechStart)
	if elapsed < e.cfg.MinSpeechDuration {
		e.armLocked(e.cfg.MinSpeechDuration - elapsed)
		e.mu.Unlock()
		return
	}

	var events []domain.InterruptionEvent
	e.ttsActive = false
	events = append(events, e.transition(domain.InterruptionInterrupted))
	triggered := e.event(domain.InterruptionEventTriggered)
	triggered.SpeechDuration = elapsed
	stopTTS, cancelQueue := e.stopTTS, e.cancelQueue
	e.mu.Unlock()

	e.dispatch(events)
	e.logger.Info().Dur("speech", elapsed).Msg("user interrupted playback")
	e.invoke("stop_tts", stopTTS)
	e.invoke("cancel_queue", cancelQueue)
	e.dispatch([]domain.InterruptionEvent{triggered})

	e.mu.Lock()
	var after []domain.InterruptionEvent
	if e.state == domain.InterruptionInterrupted {
		after = append(after, e.transition(domain.InterruptionListening))
	}
	e.mu.Unlock()
	e.dispatch(after)
}

func (e *Engine) event(kind domain.InterruptionEventType) domain.InterruptionEvent {
	return domain.InterruptionEvent{Type: kind, Timestamp: e.clock.Now()}
}

func (e *Engine) transition(to domain.InterruptionState) domain.InterruptionEvent {
	from := e.state
	e.state = to
	ev := e.event(domain.InterruptionEventStateChanged)
	ev.From = from
	ev.To = to
	return ev
}

func (e *Engine) dispatch(events []domain.InterruptionEvent) {
	if len(events) == 0 {
		return
	}
	e.mu.Lock()
	listeners := append([]Listener(nil), e.listeners...)
	e.mu.Unlock()

	for _, ev := range events {
		if ev.Type == domain.InterruptionEventStateChanged {
			e.logger.Debug().Str("from", string(ev.From)).Str("to", string(ev.To)).Msg("state changed")
		}
		for _, l := range listeners {
			e.invoke(string(ev.Type), func() { l(ev) })
		}
	}
}

// invoke runs a callback, logging instead of propagating a panic.
func (e *Engine) invoke(name string, f func()) {
	if f == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Str("callback", name).Msg("interrupt callback panicked")
		}
	}()
	f()
}
