package watchdog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ghostquant/internal/domain"
)

// ErrAlreadyRunning is returned by Start when the scan loop is active.
var ErrAlreadyRunning = errors.New("watchdog is already running")

// Config holds the scoring constants. Zero values take the defaults.
type Config struct {
	Weights                map[domain.Component]float64
	ScanInterval           time.Duration
	ElevatedThreshold      float64
	AlertThreshold         float64
	CriticalThreshold      float64
	AutoSpeakThreshold     float64
	CompoundMultiplier     float64
	CompoundMinThreats     int
	HighUrgency            float64
	HighPriorityConfidence float64
	DedupWindow            time.Duration
	AlertTTL               time.Duration
	HistorySize            int
}

// DefaultWeights are the per-component contributions to the threat level.
func DefaultWeights() map[domain.Component]float64 {
	return map[domain.Component]float64{
		domain.ComponentPressure:     0.20,
		domain.ComponentAnomaly:      0.25,
		domain.ComponentFragility:    0.20,
		domain.ComponentManipulation: 0.20,
		domain.ComponentEntity:       0.15,
	}
}

func DefaultConfig() Config {
	return Config{
		Weights:                DefaultWeights(),
		ScanInterval:           10 * time.Second,
		ElevatedThreshold:      40,
		AlertThreshold:         60,
		CriticalThreshold:      80,
		AutoSpeakThreshold:     70,
		CompoundMultiplier:     1.2,
		CompoundMinThreats:     3,
		HighUrgency:            0.8,
		HighPriorityConfidence: 0.75,
		DedupWindow:            DefaultDedupWindow,
		AlertTTL:               DefaultAlertTTL,
		HistorySize:            50,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.Weights) == 0 {
		c.Weights = d.Weights
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = d.ScanInterval
	}
	if c.ElevatedThreshold <= 0 {
		c.ElevatedThreshold = d.ElevatedThreshold
	}
	if c.AlertThreshold <= 0 {
		c.AlertThreshold = d.AlertThreshold
	}
	if c.CriticalThreshold <= 0 {
		c.CriticalThreshold = d.CriticalThreshold
	}
	if c.AutoSpeakThreshold <= 0 {
		c.AutoSpeakThreshold = d.AutoSpeakThreshold
	}
	if c.CompoundMultiplier <= 0 {
		c.CompoundMultiplier = d.CompoundMultiplier
	}
	if c.CompoundMinThreats <= 0 {
		c.CompoundMinThreats = d.CompoundMinThreats
	}
	if c.HighUrgency <= 0 {
		c.HighUrgency = d.HighUrgency
	}
	if c.HighPriorityConfidence <= 0 {
		c.HighPriorityConfidence = d.HighPriorityConfidence
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	return c
}

// Announcer receives syntheses that should be spoken.
type Announcer func(synthesis domain.Synthesis)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithFeed sets the source of fresh inputs for the scan loop.
func WithFeed(feed Feed) Option {
	return func(o *Orchestrator) { o.feed = feed }
}

// WithAnnouncer sets the callback for syntheses with ShouldSpeak.
func WithAnnouncer(a Announcer) Option {
	return func(o *Orchestrator) { o.announce = a }
}

// WithObserver sets a callback that sees every synthesis.
func WithObserver(f func(domain.Synthesis)) Option {
	return func(o *Orchestrator) { o.observe = f }
}

// WithNow replaces the wall clock.
func WithNow(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator runs the detectors and combines their readings.
type Orchestrator struct {
	cfg       Config
	detectors []Detector
	logger    zerolog.Logger
	feed      Feed
	announce  Announcer
	observe   func(domain.Synthesis)
	now       func() time.Time
	book      *AlertBook

	mu      sync.Mutex
	history []domain.Synthesis
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(cfg Config, detectors []Detector, logger zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg.withDefaults(),
		detectors: detectors,
		logger:    logger.With().Str("component", "watchdog").Logger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.book = NewAlertBook(o.cfg.DedupWindow, o.cfg.AlertTTL, o.now)
	return o
}

// Scan runs one tick: detectors, fusion, speech decision.
func (o *Orchestrator) Scan(ctx context.Context, in Inputs) domain.Synthesis {
	now := o.now()
	synthesis := domain.Synthesis{
		ID:         uuid.NewString(),
		Components: make(map[domain.Component]domain.Reading, len(o.detectors)),
		CreatedAt:  now,
	}

	var routed []domain.Alert
	for _, detector := range o.detectors {
		component := detector.Component()
		reading, fresh, err := o.read(ctx, detector, in)
		if err != nil {
			if synthesis.Failures == nil {
				synthesis.Failures = map[domain.Component]string{}
			}
			synthesis.Failures[component] = err.Error()
			o.logger.Warn().Err(err).Str("detector", string(component)).Msg("detector scan failed")
		}
		if !reading.HasData {
			continue
		}
		synthesis.Components[component] = reading
		if !fresh {
			// Cached alerts still count as active threats but are never routed.
			for _, alert := range append(detector.Active(), reading.Alerts...) {
				if !alert.Expired(now) {
					o.book.Offer(alert)
				}
			}
			continue
		}
		for _, alert := range reading.Alerts {
			if stored, ok := o.book.Offer(alert); ok {
				routed = append(routed, stored)
			}
		}
	}

	o.book.Purge()
	active := o.book.Active()
	SortByUrgency(routed)

	synthesis.ActiveThreats = len(active)
	synthesis.Alerts = active
	synthesis.ThreatLevel = o.threatLevel(synthesis.Components, len(active))
	synthesis.State = o.state(synthesis.ThreatLevel)
	synthesis.ShouldSpeak = o.shouldSpeak(synthesis, routed, now)
	if synthesis.ShouldSpeak {
		candidates := routed
		if len(candidates) == 0 {
			candidates = active
		}
		synthesis.SpeechText = o.speechText(synthesis, candidates)
	}

	o.record(synthesis)
	o.logger.Debug().
		Float64("threatLevel", synthesis.ThreatLevel).
		Str("state", string(synthesis.State)).
		Int("activeThreats", synthesis.ActiveThreats).
		Bool("speak", synthesis.ShouldSpeak).
		Msg("scan complete")

	if o.observe != nil {
		o.observe(synthesis)
	}
	if synthesis.ShouldSpeak && o.announce != nil {
		o.announce(synthesis)
	}
	return synthesis
}

// read scans a detector, falling back to its cached reading. fresh reports whether the reading came from this tick.
func (o *Orchestrator) read(ctx context.Context, detector Detector, in Inputs) (reading domain.Reading, fresh bool, err error) {
	reading, err = safeScan(ctx, detector, in)
	if err == nil {
		return reading, true, nil
	}
	if errors.Is(err, ErrNoInput) {
		err = nil
	}
	cached, ok := detector.Latest()
	if !ok {
		return domain.Reading{}, false, err
	}
	return cached, false, err
}

func safeScan(ctx context.Context, detector Detector, in Inputs) (reading domain.Reading, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detector panicked: %v", r)
		}
	}()
	return detector.Scan(ctx, in)
}

// threatLevel is the weight-renormalised average over components with data,
// compounded when more than CompoundMinThreats alerts are active.
func (o *Orchestrator) threatLevel(readings map[domain.Component]domain.Reading, activeThreats int) float64 {
	var weighted, total float64
	for component, reading := range readings {
		weight := o.cfg.Weights[component]
		if weight <= 0 || !reading.HasData {
			continue
		}
		weighted += weight * clamp(reading.Score, 0, 100)
		total += weight
	}
	if total == 0 {
		return 0
	}

	level := weighted / total
	if activeThreats > o.cfg.CompoundMinThreats {
		level *= o.cfg.CompoundMultiplier
	}
	return math.Min(level, 100)
}

func (o *Orchestrator) state(level float64) domain.ThreatState {
	switch {
	case level >= o.cfg.CriticalThreshold:
		return domain.ThreatStateCritical
	case level >= o.cfg.AlertThreshold:
		return domain.ThreatStateAlert
	case level >= o.cfg.ElevatedThreshold:
		return domain.ThreatStateScanning
	default:
		return domain.ThreatStateIdle
	}
}

// shouldSpeak is true above the auto-speak level, whenever any unexpired
// critical alert exists, or when a newly routed alert is high priority.
func (o *Orchestrator) shouldSpeak(synthesis domain.Synthesis, routed []domain.Alert, now time.Time) bool {
	if synthesis.ThreatLevel > o.cfg.AutoSpeakThreshold {
		return true
	}
	if hasCritical(synthesis.Alerts, now) {
		return true
	}
	for _, reading := range synthesis.Components {
		if hasCritical(reading.Alerts, now) {
			return true
		}
	}
	for _, alert := range routed {
		if o.highPriority(alert) {
			return true
		}
	}
	return false
}

func hasCritical(alerts []domain.Alert, now time.Time) bool {
	for _, alert := range alerts {
		if alert.Severity == domain.SeverityCritical && !alert.Expired(now) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) highPriority(alert domain.Alert) bool {
	return alert.Severity >= domain.SeverityHigh && alert.Confidence >= o.cfg.HighPriorityConfidence
}

// speechText picks the most urgent narrative, or joins the top two when both are highly urgent.
func (o *Orchestrator) speechText(synthesis domain.Synthesis, alerts []domain.Alert) string {
	var narratives []string
	urgent := 0
	for _, alert := range alerts {
		text := strings.TrimSpace(alert.Narrative)
		if text == "" {
			continue
		}
		narratives = append(narratives, text)
		if alert.Urgency() >= o.cfg.HighUrgency {
			urgent++
		}
	}

	switch {
	case len(narratives) == 0:
		return fmt.Sprintf("Threat level %.0f. Watchdog state %s.", synthesis.ThreatLevel, synthesis.State)
	case urgent >= 2:
		return narratives[0] + " " + narratives[1]
	default:
		return narratives[0]
	}
}

func (o *Orchestrator) record(synthesis domain.Synthesis) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = append(o.history, synthesis)
	if overflow := len(o.history) - o.cfg.HistorySize; overflow > 0 {
		o.history = append(o.history[:0:0], o.history[overflow:]...)
	}
}

// History returns past syntheses, oldest first.
func (o *Orchestrator) History() []domain.Synthesis {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.Synthesis(nil), o.history...)
}

// Latest returns the most recent synthesis.
func (o *Orchestrator) Latest() (domain.Synthesis, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.history) == 0 {
		return domain.Synthesis{}, false
	}
	return o.history[len(o.history)-1], true
}

// ActiveAlerts returns the deduplicated unexpired alerts.
func (o *Orchestrator) ActiveAlerts() []domain.Alert {
	return o.book.Active()
}

// Start runs Scan every ScanInterval until Stop or ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.cancel != nil {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	o.cancel = cancel
	o.done = done
	o.mu.Unlock()

	o.logger.Info().Dur("interval", o.cfg.ScanInterval).Msg("watchdog started")
	go o.loop(loopCtx, done)
	return nil
}

// Stop ends the loop and waits for an in-flight scan to finish.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel, o.done = nil, nil
	o.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	o.logger.Info().Msg("watchdog stopped")
}

// Running reports whether the loop is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancel != nil
}

func (o *Orchestrator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(o.cfg.ScanInterval)
	defer ticker.Stop()

	o.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

// tick runs one scan; a failing feed or a panic is logged and the loop continues.
func (o *Orchestrator) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Interface("panic", r).Msg("watchdog scan panicked")
		}
	}()

	var in Inputs
	if o.feed != nil {
		next, err := o.feed.Next(ctx)
		if err != nil {
			o.logger.Warn().Err(err).Msg("watchdog feed failed, reusing cached readings")
		} else {
			in = next
		}
	}
	o.Scan(context.WithoutCancel(ctx), in)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
