package detectors

import (
	"context"
	"fmt"
	"math"

	"ghostquant/internal/domain"
	"ghostquant/internal/watchdog"
)

const minAnomalyPoints = 5

// Anomaly flags the latest return or volume when it is far outside the series.
type Anomaly struct {
	base
}

func NewAnomaly(opts ...Option) *Anomaly {
	d := &Anomaly{}
	d.setup(domain.ComponentAnomaly, opts)
	return d
}

func (d *Anomaly) Scan(ctx context.Context, in watchdog.Inputs) (domain.Reading, error) {
	if len(in.Anomaly) == 0 {
		return domain.Reading{}, watchdog.ErrNoInput
	}
	if err := ctx.Err(); err != nil {
		return domain.Reading{}, err
	}

	var (
		peak   float64
		alerts []domain.Alert
	)
	for _, series := range in.Anomaly {
		if z, ok := lastZ(returns(series.Prices)); ok {
			peak = math.Max(peak, math.Abs(z))
			if severity, hit := zSeverity(z); hit {
				direction := "spike"
				if z < 0 {
					direction = "drop"
				}
				narrative := fmt.Sprintf("%s price %s, %.1f sigma move.", series.Symbol, direction, math.Abs(z))
				alerts = append(alerts, d.alert("price_anomaly", series.Symbol, severity, zConfidence(z), narrative, "Check news and tighten stops."))
			}
		}
		if z, ok := lastZ(series.Volumes); ok {
			peak = math.Max(peak, math.Abs(z))
			if severity, hit := zSeverity(z); hit && z > 0 {
				narrative := fmt.Sprintf("%s volume surge, %.1f sigma above normal.", series.Symbol, z)
				alerts = append(alerts, d.alert("volume_anomaly", series.Symbol, severity, zConfidence(z), narrative, "Confirm the move on other venues."))
			}
		}
	}
	return d.finish(peak/4*100, alerts), nil
}

func returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		out = append(out, prices[i]/prices[i-1]-1)
	}
	return out
}

// lastZ scores the final value against the mean and deviation of the ones before it.
func lastZ(values []float64) (float64, bool) {
	if len(values) < minAnomalyPoints {
		return 0, false
	}
	history := values[:len(values)-1]
	var mean float64
	for _, v := range history {
		mean += v
	}
	mean /= float64(len(history))

	var variance float64
	for _, v := range history {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(len(history)))
	if std == 0 {
		return 0, false
	}
	return (values[len(values)-1] - mean) / std, true
}

func zSeverity(z float64) (domain.Severity, bool) {
	switch abs := math.Abs(z); {
	case abs >= 4:
		return domain.SeverityCritical, true
	case abs >= 3:
		return domain.SeverityHigh, true
	case abs >= 2:
		return domain.SeverityMedium, true
	default:
		return 0, false
	}
}

func zConfidence(z float64) float64 {
	return clamp(0.5+math.Abs(z)/10, 0, 0.99)
}
