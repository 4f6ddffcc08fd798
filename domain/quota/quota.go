// Package quota provides pure functions for daily quota enforcement.
// All functions are deterministic with no side effects.
package quota

import "time"

// DateLayout formats the UTC calendar day used as counter key.
const DateLayout = "2006-01-02"

// Tier is a client's contracted daily call allowance (value type).
type Tier struct {
	ID             string
	Name           string
	RequestsPerDay int64
	Default        bool
}

// CheckResult represents the outcome of a quota check (value type).
type CheckResult struct {
	Allowed   bool
	Used      int64
	Limit     int64
	Remaining int64
	ResetAt   time.Time
	Reason    string
}

// ReasonExceeded is set when the daily allowance is used up.
const ReasonExceeded = "rate_limit_exceeded"

// Check compares today's counted calls against the tier limit.
// A call is allowed only while used < limit, so the Nth call of a tier with
// limit N is the last one admitted.
// This is a PURE function.
func Check(used int64, tier Tier, now time.Time) CheckResult {
	_, end := DayBounds(now)

	result := CheckResult{
		Used:    used,
		Limit:   tier.RequestsPerDay,
		ResetAt: end,
	}

	if used >= tier.RequestsPerDay {
		result.Reason = ReasonExceeded
		return result
	}

	result.Allowed = true
	result.Remaining = tier.RequestsPerDay - used
	return result
}

// Day returns the UTC calendar date key for t.
// This is a PURE function.
func Day(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// DayBounds returns the UTC midnight starting t's day and the next one.
// This is a PURE function.
func DayBounds(t time.Time) (start, end time.Time) {
	u := t.UTC()
	start = time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 0, 1)
	return
}

// FindTier resolves a tier by ID, falling back to the default tier.
// The second return is false when neither the tier nor a default exists.
// This is a PURE function.
func FindTier(tiers []Tier, id string) (Tier, bool) {
	var fallback *Tier
	for i := range tiers {
		if tiers[i].ID == id {
			return tiers[i], true
		}
		if tiers[i].Default && fallback == nil {
			fallback = &tiers[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Tier{}, false
}
