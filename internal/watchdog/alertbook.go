package watchdog

import (
	"sort"
	"sync"
	"time"

	"ghostquant/internal/domain"
)

const (
	DefaultDedupWindow = 60 * time.Second
	DefaultAlertTTL    = 5 * time.Minute
)

// AlertBook holds unexpired alerts keyed by (type, entity).
//
// Within the dedup window an incoming alert only replaces the stored one when
// it is strictly more severe; otherwise it is dropped. After the window it
// refreshes the entry.
type AlertBook struct {
	window time.Duration
	ttl    time.Duration
	now    func() time.Time

	mu     sync.Mutex
	alerts map[domain.AlertKey]domain.Alert
}

func NewAlertBook(window, ttl time.Duration, now func() time.Time) *AlertBook {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if ttl <= 0 {
		ttl = DefaultAlertTTL
	}
	if now == nil {
		now = time.Now
	}
	return &AlertBook{
		window: window,
		ttl:    ttl,
		now:    now,
		alerts: map[domain.AlertKey]domain.Alert{},
	}
}

// Offer stores alert if it is new, more severe, or outside the dedup window.
// It returns the stored alert and whether it was accepted.
func (b *AlertBook) Offer(alert domain.Alert) (domain.Alert, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = now
	}
	if alert.ExpiresAt.IsZero() {
		alert.ExpiresAt = alert.CreatedAt.Add(b.ttl)
	}

	key := alert.Key()
	if existing, ok := b.alerts[key]; ok && !existing.Expired(now) {
		if alert.CreatedAt.Sub(existing.CreatedAt) < b.window && alert.Severity <= existing.Severity {
			return existing, false
		}
	}

	b.alerts[key] = alert
	return alert, true
}

// Purge drops expired alerts and returns how many were removed.
func (b *AlertBook) Purge() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	removed := 0
	for key, alert := range b.alerts {
		if alert.Expired(now) {
			delete(b.alerts, key)
			removed++
		}
	}
	return removed
}

// Active returns unexpired alerts, most urgent first.
func (b *AlertBook) Active() []domain.Alert {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	out := make([]domain.Alert, 0, len(b.alerts))
	for _, alert := range b.alerts {
		if !alert.Expired(now) {
			out = append(out, alert)
		}
	}
	SortByUrgency(out)
	return out
}

// Len returns the number of stored alerts, expired or not.
func (b *AlertBook) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.alerts)
}

// SortByUrgency orders alerts by urgency, then severity, then recency.
func SortByUrgency(alerts []domain.Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		ui, uj := alerts[i].Urgency(), alerts[j].Urgency()
		if ui != uj {
			return ui > uj
		}
		if alerts[i].Severity != alerts[j].Severity {
			return alerts[i].Severity > alerts[j].Severity
		}
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
}
