package detectors

import (
	"context"
	"fmt"
	"math"

	"ghostquant/internal/domain"
	"ghostquant/internal/watchdog"
)

// Fragility flags thin books and widening spreads.
type Fragility struct {
	base
}

func NewFragility(opts ...Option) *Fragility {
	d := &Fragility{}
	d.setup(domain.ComponentFragility, opts)
	return d
}

func (d *Fragility) Scan(ctx context.Context, in watchdog.Inputs) (domain.Reading, error) {
	if len(in.Fragility) == 0 {
		return domain.Reading{}, watchdog.ErrNoInput
	}
	if err := ctx.Err(); err != nil {
		return domain.Reading{}, err
	}

	var (
		score  float64
		alerts []domain.Alert
	)
	for _, book := range in.Fragility {
		var depthScore, spreadScore float64

		if book.Notional > 0 {
			coverage := math.Min(book.BidDepth, book.AskDepth) / book.Notional
			depthScore = clamp((3-coverage)/3*100, 0, 100)
			var severity domain.Severity
			switch {
			case coverage < 1:
				severity = domain.SeverityCritical
			case coverage < 2:
				severity = domain.SeverityHigh
			}
			if severity != 0 {
				narrative := fmt.Sprintf("%s book is thin, depth covers %.1fx the reference size.", book.Symbol, coverage)
				alerts = append(alerts, d.alert("thin_book", book.Symbol, severity, clamp(1-coverage/4, 0.5, 0.95), narrative, "Reduce order size or use limit orders."))
			}
		}

		if book.BaselineSpreadBps > 0 && book.SpreadBps > 0 {
			ratio := book.SpreadBps / book.BaselineSpreadBps
			spreadScore = clamp((ratio-1)/3*100, 0, 100)
			var severity domain.Severity
			switch {
			case ratio >= 3:
				severity = domain.SeverityHigh
			case ratio >= 2:
				severity = domain.SeverityMedium
			}
			if severity != 0 {
				narrative := fmt.Sprintf("%s spread blew out to %.1fx normal.", book.Symbol, ratio)
				alerts = append(alerts, d.alert("spread_blowout", book.Symbol, severity, clamp(0.5+ratio/10, 0.5, 0.95), narrative, "Avoid market orders until spreads normalise."))
			}
		}

		score = math.Max(score, 0.6*depthScore+0.4*spreadScore)
	}
	return d.finish(score, alerts), nil
}
