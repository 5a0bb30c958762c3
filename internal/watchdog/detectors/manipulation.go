package detectors

import (
	"context"
	"fmt"
	"math"

	"ghostquant/internal/domain"
	"ghostquant/internal/watchdog"
)

// Manipulation flags self-matched volume and heavy order cancellation.
type Manipulation struct {
	base
}

func NewManipulation(opts ...Option) *Manipulation {
	d := &Manipulation{}
	d.setup(domain.ComponentManipulation, opts)
	return d
}

func (d *Manipulation) Scan(ctx context.Context, in watchdog.Inputs) (domain.Reading, error) {
	if len(in.Manipulation) == 0 {
		return domain.Reading{}, watchdog.ErrNoInput
	}
	if err := ctx.Err(); err != nil {
		return domain.Reading{}, err
	}

	var (
		score  float64
		alerts []domain.Alert
	)
	for _, m := range in.Manipulation {
		var washScore, spoofScore float64

		if m.TotalVolume > 0 {
			wash := m.SelfMatchedVolume / m.TotalVolume
			washScore = clamp(wash/0.3*100, 0, 100)
			var severity domain.Severity
			switch {
			case wash >= 0.3:
				severity = domain.SeverityCritical
			case wash >= 0.15:
				severity = domain.SeverityHigh
			case wash >= 0.08:
				severity = domain.SeverityMedium
			}
			if severity != 0 {
				narrative := fmt.Sprintf("Possible wash trading on %s, %s of volume self-matched.", m.Symbol, percent(wash))
				alerts = append(alerts, d.alert("wash_trading", m.Symbol, severity, clamp(0.55+wash, 0.55, 0.95), narrative, "Discount reported volume on this venue."))
			}
		}

		if m.OrdersPlaced > 0 {
			cancel := m.OrdersCancelled / m.OrdersPlaced
			spoofScore = clamp((cancel-0.5)/0.5*100, 0, 100)
			var severity domain.Severity
			switch {
			case cancel >= 0.95:
				severity = domain.SeverityHigh
			case cancel >= 0.85:
				severity = domain.SeverityMedium
			}
			if severity != 0 {
				narrative := fmt.Sprintf("Spoofing pattern on %s, %s of orders cancelled.", m.Symbol, percent(cancel))
				alerts = append(alerts, d.alert("spoofing", m.Symbol, severity, clamp(cancel-0.1, 0.5, 0.9), narrative, "Treat visible depth as unreliable."))
			}
		}

		score = math.Max(score, math.Max(washScore, spoofScore))
	}
	return d.finish(score, alerts), nil
}
