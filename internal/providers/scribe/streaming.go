// Package scribe streams microphone audio to a realtime speech-to-text websocket.
package scribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ghostquant/internal/ports"
)

const (
	defaultBaseURL = "wss://api.elevenlabs.io/v1/speech-to-text/realtime"
	defaultModel   = "scribe_v1"
)

// ErrMissingAPIKey is returned when no credentials are configured.
var ErrMissingAPIKey = errors.New("SCRIBE_API_KEY is not configured")

// Config controls the transcription websocket.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Language    string
	DialTimeout time.Duration
}

// Provider implements ports.TranscriptionProvider.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
	logger zerolog.Logger
}

func NewProvider(cfg Config, logger zerolog.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Provider{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
		logger: logger.With().Str("component", "scribe").Logger(),
	}
}

// configMessage is sent once after the socket opens.
type configMessage struct {
	MessageType string `json:"message_type"`
	Language    string `json:"language_code"`
	Model       string `json:"model_id"`
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
	Encoding    string `json:"encoding"`
}

var closeMessage = []byte(`{"message_type":"close"}`)

func (p *Provider) StartStreaming(ctx context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	wsURL, err := buildStreamURL(p.cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("xi-api-key", p.cfg.APIKey)

	conn, _, err := p.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to transcription websocket: %w", err)
	}

	hello := streamConfig(p.cfg, cfg)
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send stream config: %w", err)
	}

	session := newStreamingSession(conn, p.logger)
	session.start()

	go func() {
		select {
		case <-ctx.Done():
			_ = session.Close()
		case <-session.done:
		}
	}()

	p.logger.Debug().Str("model", hello.Model).Int("sampleRate", hello.SampleRate).Msg("stream opened")
	return session, nil
}

func streamConfig(providerCfg Config, streamCfg ports.StreamingConfig) configMessage {
	msg := configMessage{
		MessageType: "config",
		Language:    providerCfg.Language,
		Model:       providerCfg.Model,
		SampleRate:  streamCfg.SampleRate,
		Channels:    streamCfg.Channels,
		Encoding:    streamCfg.Encoding,
	}
	if streamCfg.Language != "" {
		msg.Language = streamCfg.Language
	}
	if streamCfg.Model != "" {
		msg.Model = streamCfg.Model
	}
	if msg.SampleRate <= 0 {
		msg.SampleRate = 16000
	}
	if msg.Channels <= 0 {
		msg.Channels = 1
	}
	if msg.Encoding == "" {
		msg.Encoding = "pcm_s16le"
	}
	return msg
}

func buildStreamURL(base string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		base = defaultBaseURL
	}

	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid transcription base URL: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("invalid transcription base URL scheme %q", parsed.Scheme)
	}
	return parsed.String(), nil
}
