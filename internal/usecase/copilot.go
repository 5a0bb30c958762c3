package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ghostquant/internal/dialogue"
	"ghostquant/internal/domain"
	"ghostquant/internal/expansion"
	"ghostquant/internal/ports"
)

var ErrCopilotRunning = errors.New("copilot is already running")

const (
	DefaultQueueSize       = 8
	DefaultResponseTimeout = 20 * time.Second
	DefaultFallbackLine    = "I couldn't reach the analysis engine. Try again in a moment."
	DefaultWakeAck         = "I'm listening."
)

// Expander varies the wording of an answer.
type Expander interface {
	Expand(text string, ctx expansion.Context) string
}

// CopilotConfig tunes the response pipeline.
type CopilotConfig struct {
	QueueSize       int
	ResponseTimeout time.Duration
	FallbackLine    string
	WakeAck         string
	// RepeatWindow suppresses an identical watchdog line spoken within it. Zero disables.
	RepeatWindow    time.Duration
}

func (c CopilotConfig) withDefaults() CopilotConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	if c.FallbackLine == "" {
		c.FallbackLine = DefaultFallbackLine
	}
	if c.WakeAck == "" {
		c.WakeAck = DefaultWakeAck
	}
	return c
}

// SpeechSource names where a queued line came from.
type SpeechSource string

const (
	SourceAnswer   SpeechSource = "answer"
	SourceCommand  SpeechSource = "command"
	SourceWatchdog SpeechSource = "watchdog"
	SourceFallback SpeechSource = "fallback"
)

type speechRequest struct {
	text   string
	source SpeechSource
}

// Interrupter receives user speech signals for barge-in detection.
type Interrupter interface {
	SpeechStarted()
	SpeechEnded()
}

// Copilot turns wake-addressed utterances into spoken answers and serialises
// everything it says through one queue.
type Copilot struct {
	speaker      *Speaker
	responder    ports.Responder
	expander     Expander
	settings     *dialogue.Settings
	conversation *dialogue.Conversation
	interrupter  Interrupter
	events       ports.EventSink
	cfg          CopilotConfig
	logger       zerolog.Logger

	turns  chan domain.Utterance
	speech chan speechRequest
	now    func() time.Time

	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	announced map[string]time.Time
}

func NewCopilot(
	speaker *Speaker,
	responder ports.Responder,
	expander Expander,
	settings *dialogue.Settings,
	conversation *dialogue.Conversation,
	interrupter Interrupter,
	events ports.EventSink,
	cfg CopilotConfig,
	logger zerolog.Logger,
) *Copilot {
	cfg = cfg.withDefaults()
	if conversation == nil {
		conversation = dialogue.NewConversation(0)
	}
	return &Copilot{
		speaker:      speaker,
		responder:    responder,
		expander:     expander,
		settings:     settings,
		conversation: conversation,
		interrupter:  interrupter,
		events:       events,
		cfg:          cfg,
		logger:       logger.With().Str("component", "copilot").Logger(),
		turns:        make(chan domain.Utterance, cfg.QueueSize),
		speech:       make(chan speechRequest, cfg.QueueSize),
		now:          time.Now,
		announced:    map[string]time.Time{},
	}
}

// Start launches the answer and speech workers.
func (c *Copilot) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return ErrCopilotRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.answerLoop(runCtx)
	}()
	go func() {
		defer c.wg.Done()
		c.speechLoop(runCtx)
	}()
	return nil
}

// Stop halts the workers and any playback in progress.
func (c *Copilot) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	c.speaker.Stop()
	c.wg.Wait()
}

// HandleUtterance queues a committed utterance for answering. Utterances without the wake phrase are ignored.
func (c *Copilot) HandleUtterance(utterance domain.Utterance) {
	if !utterance.WakeDetected {
		c.logger.Debug().Str("text", utterance.Corrected).Msg("ignoring utterance without wake phrase")
		return
	}
	select {
	case c.turns <- utterance:
	default:
		c.logger.Warn().Str("query", utterance.Query).Msg("answer queue full, dropping utterance")
	}
}

// HandleSpeech forwards user speech activity to the interrupter.
func (c *Copilot) HandleSpeech(active bool) {
	if c.interrupter == nil {
		return
	}
	if active {
		c.interrupter.SpeechStarted()
	} else {
		c.interrupter.SpeechEnded()
	}
}

// Announce queues watchdog speech.
func (c *Copilot) Announce(synthesis domain.Synthesis) {
	if !synthesis.ShouldSpeak || synthesis.SpeechText == "" {
		return
	}
	if c.repeated(synthesis.SpeechText) {
		c.logger.Debug().Str("text", synthesis.SpeechText).Msg("skipping repeated watchdog line")
		return
	}
	c.enqueue(synthesis.SpeechText, SourceWatchdog)
}

func (c *Copilot) repeated(text string) bool {
	if c.cfg.RepeatWindow <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for line, at := range c.announced {
		if now.Sub(at) >= c.cfg.RepeatWindow {
			delete(c.announced, line)
		}
	}
	if _, ok := c.announced[text]; ok {
		return true
	}
	c.announced[text] = now
	return false
}

// CancelQueue drops every line waiting to be spoken and returns how many were dropped.
func (c *Copilot) CancelQueue() int {
	dropped := 0
	for {
		select {
		case <-c.speech:
			dropped++
		default:
			if dropped > 0 {
				c.logger.Info().Int("dropped", dropped).Msg("speech queue cancelled")
			}
			return dropped
		}
	}
}

// Answer produces the spoken reply for query without queueing it.
func (c *Copilot) Answer(ctx context.Context, query string) (string, SpeechSource) {
	if query == "" {
		return c.cfg.WakeAck, SourceCommand
	}

	if mode, ok := dialogue.ParseModeCommand(query); ok {
		if err := c.settings.SetMode(ctx, mode); err != nil {
			c.events.SessionError(domain.ErrorCodeSettings, fmt.Sprintf("failed to persist voice mode: %v", err))
		}
		c.conversation.Reset()
		return dialogue.ModeAnnouncement(mode), SourceCommand
	}

	mode := c.settings.Mode()
	respondCtx, cancel := context.WithTimeout(ctx, c.cfg.ResponseTimeout)
	defer cancel()

	answer, err := c.responder.Respond(respondCtx, query, mode)
	if err != nil {
		if ctx.Err() == nil {
			c.events.SessionError(domain.ErrorCodeResponder, fmt.Sprintf("failed to answer query: %v", err))
		}
		return c.cfg.FallbackLine, SourceFallback
	}

	text := answer
	if c.expander != nil {
		text = c.expander.Expand(answer, c.conversation.ExpansionContext(query, mode))
	}
	c.conversation.Record(query, text)
	return text, SourceAnswer
}

func (c *Copilot) answerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case utterance := <-c.turns:
			text, source := c.Answer(ctx, utterance.Query)
			if ctx.Err() != nil {
				return
			}
			c.enqueue(text, source)
		}
	}
}

func (c *Copilot) speechLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.speech:
			err := c.speaker.Speak(ctx, req.text)
			switch {
			case err == nil:
			case errors.Is(err, ErrInterrupted), errors.Is(err, context.Canceled):
				c.logger.Debug().Str("source", string(req.source)).Msg("speech interrupted")
			case errors.Is(err, ErrMissingCredentials):
				c.logger.Warn().Str("source", string(req.source)).Str("text", req.text).Msg("speech unavailable, text only")
			default:
				c.logger.Warn().Err(err).Str("source", string(req.source)).Msg("speech failed")
			}
		}
	}
}

func (c *Copilot) enqueue(text string, source SpeechSource) bool {
	select {
	case c.speech <- speechRequest{text: text, source: source}:
		return true
	default:
		c.logger.Warn().Str("source", string(source)).Msg("speech queue full, dropping line")
		return false
	}
}

// Say speaks text immediately, bypassing the queue.
func (c *Copilot) Say(ctx context.Context, text string) error {
	return c.speaker.Speak(ctx, text)
}
