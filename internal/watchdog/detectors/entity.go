package detectors

import (
	"context"
	"fmt"
	"math"

	"ghostquant/internal/domain"
	"ghostquant/internal/watchdog"
)

// Entity flags tracked wallets or desks whose flow has grown past its baseline.
type Entity struct {
	base
}

func NewEntity(opts ...Option) *Entity {
	d := &Entity{}
	d.setup(domain.ComponentEntity, opts)
	return d
}

func (d *Entity) Scan(ctx context.Context, in watchdog.Inputs) (domain.Reading, error) {
	if len(in.Entity) == 0 {
		return domain.Reading{}, watchdog.ErrNoInput
	}
	if err := ctx.Err(); err != nil {
		return domain.Reading{}, err
	}

	var (
		score  float64
		alerts []domain.Alert
	)
	for _, e := range in.Entity {
		if e.BaselineFlow <= 0 {
			continue
		}
		growth := math.Abs(e.Flow) / e.BaselineFlow
		score = math.Max(score, (growth-1)/4*100)

		var severity domain.Severity
		switch {
		case growth >= 5:
			severity = domain.SeverityCritical
		case growth >= 3:
			severity = domain.SeverityHigh
		case growth >= 2:
			severity = domain.SeverityMedium
		default:
			continue
		}
		direction := "inflows"
		if e.Flow < 0 {
			direction = "outflows"
		}
		narrative := fmt.Sprintf("%s %s running %.1fx baseline.", e.Entity, direction, growth)
		alerts = append(alerts, d.alert("entity_escalation", e.Entity, severity, clamp(0.5+growth/12, 0.5, 0.95), narrative, "Track the entity's next transfers."))
	}
	return d.finish(score, alerts), nil
}
