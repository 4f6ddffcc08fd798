package insight

import "time"

// Observation is one user's observed price for one product category in one
// region and week. UserID is only ever used for distinct counting.
type Observation struct {
	UserID   string
	Category string
	Region   string // empty = unspecified, never a region of its own
	Week     time.Time
	Price    float64
}

// Filter selects observations from the data store. Empty fields match all.
// From and To are inclusive week starts.
type Filter struct {
	Category string
	Region   string
	From     time.Time
	To       time.Time
}

// Matches reports whether o falls inside the filter.
func (f Filter) Matches(o Observation) bool {
	if f.Category != "" && o.Category != f.Category {
		return false
	}
	if f.Region != "" && o.Region != f.Region {
		return false
	}
	w := WeekStart(o.Week)
	if !f.From.IsZero() && w.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && w.After(f.To) {
		return false
	}
	return true
}

// WeekStart returns the UTC Monday midnight of the week containing t.
// This is a PURE function.
func WeekStart(t time.Time) time.Time {
	u := t.UTC()
	offset := (int(u.Weekday()) + 6) % 7
	day := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -offset)
}
