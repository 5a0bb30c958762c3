// Package watchdog fuses market-risk detector readings into one threat score
// and decides when the copilot should speak about it.
package watchdog

import (
	"context"
	"errors"

	"ghostquant/internal/domain"
)

// ErrNoInput is returned by a detector when the scan carried nothing for it.
var ErrNoInput = errors.New("no fresh input for detector")

// Detector is one market-risk heuristic.
type Detector interface {
	Component() domain.Component
	// Scan evaluates fresh inputs. It returns ErrNoInput when in has nothing for this detector.
	Scan(ctx context.Context, in Inputs) (domain.Reading, error)
	// Latest returns the cached result of the last successful scan.
	Latest() (domain.Reading, bool)
	// Active returns the detector's unexpired alerts.
	Active() []domain.Alert
}
