package enrollment

import (
	"slices"
	"time"

	"github.com/loopworks/cadence/pkg/models"
)

// NextAllowed returns the earliest instant at or after t that falls inside
// the automation's active-day and active-hour windows. With no windows
// configured it returns t unchanged. Windows are evaluated in the
// automation's timezone; an unknown timezone falls back to UTC rather than
// blocking execution.
func NextAllowed(t time.Time, settings models.Settings) time.Time {
	if len(settings.ActiveDays) == 0 && settings.ActiveHours == nil {
		return t
	}

	loc := time.UTC
	if settings.Timezone != "" {
		if parsed, err := time.LoadLocation(settings.Timezone); err == nil {
			loc = parsed
		}
	}

	local := t.In(loc)

	// Bounded by one full week: any non-empty day set plus any hour window
	// admits at least one instant per week.
	for range 8 {
		if !dayAllowed(local, settings.ActiveDays) {
			local = startOfNextDay(local)

			continue
		}

		if settings.ActiveHours == nil {
			return local
		}

		window := *settings.ActiveHours

		switch {
		case local.Hour() < window.From:
			local = time.Date(local.Year(), local.Month(), local.Day(), window.From, 0, 0, 0, loc)
		case local.Hour() >= window.To:
			local = startOfNextDay(local)
		default:
			return local
		}
	}

	return local
}

// Deferred reports whether t falls outside the automation's windows.
func Deferred(t time.Time, settings models.Settings) bool {
	return !NextAllowed(t, settings).Equal(t)
}

func dayAllowed(t time.Time, days []time.Weekday) bool {
	if len(days) == 0 {
		return true
	}

	return slices.Contains(days, t.Weekday())
}

func startOfNextDay(t time.Time) time.Time {
	next := t.AddDate(0, 0, 1)

	return time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, t.Location())
}
