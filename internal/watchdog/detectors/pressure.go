package detectors

import (
	"context"
	"fmt"
	"math"

	"ghostquant/internal/domain"
	"ghostquant/internal/watchdog"
)

// Pressure flags one-sided taker flow.
type Pressure struct {
	base
}

func NewPressure(opts ...Option) *Pressure {
	d := &Pressure{}
	d.setup(domain.ComponentPressure, opts)
	return d
}

func (d *Pressure) Scan(ctx context.Context, in watchdog.Inputs) (domain.Reading, error) {
	if len(in.Pressure) == 0 {
		return domain.Reading{}, watchdog.ErrNoInput
	}
	if err := ctx.Err(); err != nil {
		return domain.Reading{}, err
	}

	var (
		score  float64
		alerts []domain.Alert
	)
	for _, p := range in.Pressure {
		total := p.BuyVolume + p.SellVolume
		if total <= 0 {
			continue
		}
		imbalance := (p.BuyVolume - p.SellVolume) / total
		magnitude := math.Abs(imbalance)
		s := magnitude*80 + math.Min(math.Abs(p.FundingRate)*10000, 20)
		score = math.Max(score, s)

		severity, ok := pressureSeverity(magnitude)
		if !ok {
			continue
		}
		kind, side := "pressure_buy", "buy"
		if imbalance < 0 {
			kind, side = "pressure_sell", "sell"
		}
		narrative := fmt.Sprintf("%s %s pressure at %s imbalance.", p.Symbol, side, percent(magnitude))
		alerts = append(alerts, d.alert(kind, p.Symbol, severity, 0.6+0.4*magnitude, narrative, "Watch for a squeeze before adding exposure."))
	}
	return d.finish(score, alerts), nil
}

func pressureSeverity(imbalance float64) (domain.Severity, bool) {
	switch {
	case imbalance >= 0.8:
		return domain.SeverityCritical, true
	case imbalance >= 0.6:
		return domain.SeverityHigh, true
	case imbalance >= 0.4:
		return domain.SeverityMedium, true
	default:
		return 0, false
	}
}
