// Package schedule converts per-user cadence settings into cron trigger
// specs for the shared scheduler runtime.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"stepflow/internal/domain"
)

// DefaultSpec is used when a settings row carries an unknown unit;
// a misconfigured job degrades to a 5-minute cadence instead of never firing.
const DefaultSpec = "*/5 * * * *"

// SpecFor builds a standard 5-field cron spec firing every period units,
// aligned to the unit boundary. Alignment (rather than fixed-delay repeats)
// keeps concurrent jobs phase-aligned and lets them resynchronize after a
// restart.
func SpecFor(period int, unit domain.PeriodUnit) string {
	if period < 1 {
		period = 1
	}
	switch unit {
	case domain.UnitMinutes:
		return fmt.Sprintf("*/%d * * * *", period)
	case domain.UnitHours:
		return fmt.Sprintf("0 */%d * * *", period)
	case domain.UnitDays:
		return fmt.Sprintf("0 0 */%d * *", period)
	default:
		return DefaultSpec
	}
}

// Validate checks a cron expression against the standard parser.
func Validate(spec string) error {
	_, err := cron.ParseStandard(spec)
	return err
}

// NextRun calculates the next fire time for a cron expression.
func NextRun(spec string, from time.Time) (time.Time, error) {
	s, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(from), nil
}
