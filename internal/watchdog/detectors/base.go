// Package detectors holds the threshold heuristics behind the watchdog.
package detectors

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"ghostquant/internal/domain"
	"ghostquant/internal/watchdog"
)

// Option configures a detector.
type Option func(*base)

// WithNow replaces the wall clock.
func WithNow(now func() time.Time) Option {
	return func(b *base) {
		if now != nil {
			b.now = now
		}
	}
}

// WithAlertTTL sets how long a raised alert stays active.
func WithAlertTTL(ttl time.Duration) Option {
	return func(b *base) {
		if ttl > 0 {
			b.ttl = ttl
		}
	}
}

// base caches the last reading and the detector's own alerts.
type base struct {
	component domain.Component
	now       func() time.Time
	ttl       time.Duration
	book      *watchdog.AlertBook

	mu     sync.RWMutex
	latest domain.Reading
	ok     bool
}

func (b *base) setup(component domain.Component, opts []Option) {
	b.component = component
	b.now = time.Now
	b.ttl = watchdog.DefaultAlertTTL
	for _, opt := range opts {
		opt(b)
	}
	b.book = watchdog.NewAlertBook(watchdog.DefaultDedupWindow, b.ttl, b.now)
}

func (b *base) Component() domain.Component {
	return b.component
}

func (b *base) Latest() (domain.Reading, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest, b.ok
}

func (b *base) Active() []domain.Alert {
	b.book.Purge()
	return b.book.Active()
}

func (b *base) alert(kind, entity string, severity domain.Severity, confidence float64, narrative, action string) domain.Alert {
	now := b.now()
	return domain.Alert{
		ID:              uuid.NewString(),
		Component:       b.component,
		Type:            kind,
		Entity:          entity,
		Severity:        severity,
		Confidence:      clamp(confidence, 0, 1),
		Narrative:       narrative,
		SuggestedAction: action,
		CreatedAt:       now,
		ExpiresAt:       now.Add(b.ttl),
	}
}

// finish records alerts in the detector's book and caches the reading.
func (b *base) finish(score float64, alerts []domain.Alert) domain.Reading {
	for _, a := range alerts {
		b.book.Offer(a)
	}
	b.book.Purge()

	reading := domain.Reading{
		Component: b.component,
		Score:     clamp(score, 0, 100),
		HasData:   true,
		Alerts:    alerts,
		ScannedAt: b.now(),
	}

	b.mu.Lock()
	b.latest = reading
	b.ok = true
	b.mu.Unlock()
	return reading
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func percent(v float64) string {
	return fmt.Sprintf("%.0f%%", v*100)
}

// All returns one of each detector, in reporting order.
func All(opts ...Option) []watchdog.Detector {
	return []watchdog.Detector{
		NewPressure(opts...),
		NewAnomaly(opts...),
		NewFragility(opts...),
		NewManipulation(opts...),
		NewEntity(opts...),
	}
}
