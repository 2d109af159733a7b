// Package period derives calendar-period keys and active-month eligibility
// from organization configuration. A period is a calendar month keyed
// "YYYY-MM", always computed in UTC so that members in different timezones
// land in the same period.
package period

import (
	"sort"
	"time"
)

// Of returns the period key for a timestamp.
func Of(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Current returns the period key for now.
func Current() string {
	return Of(time.Now())
}

// Valid reports whether months is a usable active-month set: non-empty and
// every entry within 1..12.
func Valid(months []int) bool {
	if len(months) == 0 {
		return false
	}
	for _, m := range months {
		if m < 1 || m > 12 {
			return false
		}
	}
	return true
}

// IsActiveMonth reports whether m is in the organization's active-month set.
func IsActiveMonth(months []int, m time.Month) bool {
	for _, active := range months {
		if time.Month(active) == m {
			return true
		}
	}
	return false
}

// Next returns the first day (UTC) of the next active month strictly after
// from's month: the smallest active month later in from's year, or the
// smallest active month of the following year. ok is false when months is
// not a valid active-month set (an org with no active months has no next
// period).
func Next(months []int, from time.Time) (time.Time, bool) {
	if !Valid(months) {
		return time.Time{}, false
	}
	sorted := append([]int(nil), months...)
	sort.Ints(sorted)

	from = from.UTC()
	for _, m := range sorted {
		if time.Month(m) > from.Month() {
			return time.Date(from.Year(), time.Month(m), 1, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Date(from.Year()+1, time.Month(sorted[0]), 1, 0, 0, 0, 0, time.UTC), true
}

// NextKey is Next rendered as a period key, empty when there is none.
func NextKey(months []int, from time.Time) string {
	next, ok := Next(months, from)
	if !ok {
		return ""
	}
	return Of(next)
}
