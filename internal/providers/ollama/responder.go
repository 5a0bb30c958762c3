// Package ollama answers copilot queries with a local Ollama model.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"ghostquant/internal/domain"
)

const (
	defaultHost       = "http://127.0.0.1:11434"
	defaultModel      = "llama3.2:3b"
	defaultMaxHistory = 6
)

// ErrEmptyAnswer is returned when the model produced no text.
var ErrEmptyAnswer = errors.New("model returned an empty answer")

var systemPrompts = map[domain.VoiceMode]string{
	domain.VoiceModeDefault: "You are GhostQuant, a market-intelligence voice copilot. " +
		"Answer in two or three short spoken sentences. No markdown, no lists, no emojis.",
	domain.VoiceModeMission: "You are GhostQuant in mission mode. " +
		"Answer in one terse sentence suitable for a trader under pressure. No markdown.",
}

// Config controls the responder.
type Config struct {
	Host        string
	Model       string
	Temperature float64
	MaxTokens   int
	MaxHistory  int
	Timeout     time.Duration
}

// Responder implements ports.Responder with a short rolling conversation history.
type Responder struct {
	client *api.Client
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	history []api.Message
}

func NewResponder(cfg Config, logger zerolog.Logger) (*Responder, error) {
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.6
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 120
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = defaultMaxHistory
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	base, err := url.Parse(strings.TrimSuffix(cfg.Host, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host: %w", err)
	}

	return &Responder{
		client: api.NewClient(base, &http.Client{Timeout: cfg.Timeout}),
		cfg:    cfg,
		logger: logger.With().Str("component", "responder").Logger(),
	}, nil
}

// Respond asks the model for an answer in the tone of mode.
func (r *Responder) Respond(ctx context.Context, query string, mode domain.VoiceMode) (string, error) {
	prompt, ok := systemPrompts[mode]
	if !ok {
		prompt = systemPrompts[domain.VoiceModeDefault]
	}

	r.mu.Lock()
	messages := make([]api.Message, 0, len(r.history)+2)
	messages = append(messages, api.Message{Role: "system", Content: prompt})
	messages = append(messages, r.history...)
	r.mu.Unlock()
	messages = append(messages, api.Message{Role: "user", Content: query})

	stream := false
	var answer string
	started := time.Now()
	err := r.client.Chat(ctx, &api.ChatRequest{
		Model:    r.cfg.Model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": r.cfg.Temperature,
			"num_predict": r.cfg.MaxTokens,
		},
	}, func(resp api.ChatResponse) error {
		answer += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", ErrEmptyAnswer
	}

	r.remember(query, answer)
	r.logger.Debug().
		Str("mode", string(mode)).
		Int("answerChars", len(answer)).
		Dur("latency", time.Since(started)).
		Msg("answer generated")
	return answer, nil
}

func (r *Responder) remember(query, answer string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.history = append(r.history,
		api.Message{Role: "user", Content: query},
		api.Message{Role: "assistant", Content: answer},
	)
	if limit := r.cfg.MaxHistory * 2; len(r.history) > limit {
		r.history = r.history[len(r.history)-limit:]
	}
}

// Reset clears the conversation history.
func (r *Responder) Reset() {
	r.mu.Lock()
	r.history = nil
	r.mu.Unlock()
}

// Ping checks that the Ollama server is reachable.
func (r *Responder) Ping(ctx context.Context) error {
	if err := r.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("cannot reach ollama: %w", err)
	}
	return nil
}
