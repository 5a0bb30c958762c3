package usecase

import (
	"fmt"
	"strings"
	"time"

	"ghostquant/internal/domain"
	"ghostquant/internal/ports"
	"ghostquant/internal/wake"
)

type utteranceFinalizer struct {
	corrector ports.TranscriptCorrector
	wake      *wake.Normalizer
	events    ports.EventSink
	now       func() time.Time
}

func newUtteranceFinalizer(corrector ports.TranscriptCorrector, normalizer *wake.Normalizer, events ports.EventSink) utteranceFinalizer {
	return utteranceFinalizer{corrector: corrector, wake: normalizer, events: events, now: time.Now}
}

// Finalize applies corrections, then wake matching. A failing corrector falls back to the raw text.
func (f utteranceFinalizer) Finalize(raw string) domain.Utterance {
	raw = strings.TrimSpace(raw)
	corrected := raw
	if f.corrector != nil {
		transformed, err := f.corrector.Apply(raw)
		if err != nil {
			f.events.SessionError(domain.ErrorCodeTranscription, fmt.Sprintf("corrections failed: %v", err))
		} else {
			corrected = strings.TrimSpace(transformed)
		}
	}

	utterance := domain.Utterance{
		Raw:        raw,
		Corrected:  corrected,
		Normalized: corrected,
		Timestamp:  f.now(),
	}
	if f.wake == nil {
		return utterance
	}

	match, ok := f.wake.Match(corrected)
	if !ok {
		return utterance
	}
	query, _ := f.wake.ExtractQuery(corrected)
	utterance.Normalized = f.wake.Normalize(corrected)
	utterance.WakeDetected = true
	utterance.WakeAlias = match.Alias.Phrase
	utterance.WakeConfidence = match.Confidence
	utterance.Query = query
	return utterance
}
