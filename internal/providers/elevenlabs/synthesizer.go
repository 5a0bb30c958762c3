// Package elevenlabs renders speech through the ElevenLabs text-to-speech API.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ghostquant/internal/ports"
)

const (
	DefaultBaseURL = "https://api.elevenlabs.io/v1"
	DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
	DefaultModelID = "eleven_turbo_v2_5"

	maxErrorBody = 2048
)

// ErrMissingCredentials is returned by Synthesize when no API key is configured.
var ErrMissingCredentials = errors.New("ELEVENLABS_API_KEY is not configured")

// APIError is a non-2xx response from the API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("text-to-speech request failed with status %d: %s", e.Status, e.Body)
}

// VoiceSettings tune delivery of a voice.
type VoiceSettings struct {
	Stability       float64 `json:"stability" mapstructure:"stability"`
	SimilarityBoost float64 `json:"similarity_boost" mapstructure:"similarity_boost"`
	Style           float64 `json:"style" mapstructure:"style"`
	SpeakerBoost    bool    `json:"use_speaker_boost" mapstructure:"speaker_boost"`
}

// DefaultVoiceSettings returns the settings used for copilot speech.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.5,
		SimilarityBoost: 0.75,
		Style:           0.0,
		SpeakerBoost:    true,
	}
}

// Config controls the synthesizer.
type Config struct {
	APIKey   string
	BaseURL  string
	VoiceID  string
	ModelID  string
	Settings VoiceSettings
	Timeout  time.Duration
}

// Synthesizer implements ports.SpeechSynthesizer. A single attempt is made per call.
type Synthesizer struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger
}

func NewSynthesizer(cfg Config, logger zerolog.Logger) *Synthesizer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = DefaultVoiceID
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	if cfg.Settings == (VoiceSettings{}) {
		cfg.Settings = DefaultVoiceSettings()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Synthesizer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("component", "elevenlabs").Logger(),
	}
}

// Available reports whether credentials are configured.
func (s *Synthesizer) Available() bool {
	return strings.TrimSpace(s.cfg.APIKey) != ""
}

type synthesisPayload struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

func (s *Synthesizer) Synthesize(ctx context.Context, req ports.SynthesisRequest) (ports.SynthesizedAudio, error) {
	if !s.Available() {
		return ports.SynthesizedAudio{}, ErrMissingCredentials
	}
	if strings.TrimSpace(req.Text) == "" {
		return ports.SynthesizedAudio{}, errors.New("text cannot be empty")
	}

	voiceID := req.VoiceID
	if voiceID == "" {
		voiceID = s.cfg.VoiceID
	}

	body, err := json.Marshal(synthesisPayload{
		Text:          req.Text,
		ModelID:       s.cfg.ModelID,
		VoiceSettings: s.cfg.Settings,
	})
	if err != nil {
		return ports.SynthesizedAudio{}, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(s.cfg.BaseURL, "/") + "/text-to-speech/" + url.PathEscape(voiceID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return ports.SynthesizedAudio{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")
	httpReq.Header.Set("xi-api-key", s.cfg.APIKey)

	started := time.Now()
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return ports.SynthesizedAudio{}, fmt.Errorf("text-to-speech request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return ports.SynthesizedAudio{}, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(detail))}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return ports.SynthesizedAudio{}, fmt.Errorf("read audio: %w", err)
	}

	s.logger.Info().
		Str("voice", voiceID).
		Int("audioBytes", len(audio)).
		Dur("latency", time.Since(started)).
		Msg("synthesis complete")

	return ports.SynthesizedAudio{Data: audio, Format: "mp3"}, nil
}
