// Package insight provides the anonymized aggregation model: canonical queries,
// raw observations, disclosure-safe buckets and the pure aggregation routine.
// Nothing in this package performs I/O.
package insight

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Kind tags which insight a query asks for.
type Kind string

const (
	KindCategories Kind = "categories"
	KindTrends     Kind = "trends"
)

// Query parameter names.
const (
	ParamCategory = "category"
	ParamRegion   = "region"
	ParamWeeks    = "weeks"
)

// AllRegions is how an unfiltered region is reported to clients.
const AllRegions = "all"

// PooledRegions labels a trends bucket that pools the regions too thin to be
// disclosed on their own. Regions reported separately are not part of it.
const PooledRegions = "other"

const maxLabelLen = 64

// Query is the canonical, fully defaulted request consumed by the engine.
type Query struct {
	Kind     Kind
	Category string // required for trends, optional filter for categories
	Region   string // empty = all regions
	Weeks    int    // lookback window in weeks, including the current week
}

// Defaults centralizes parameter defaulting and bounds.
type Defaults struct {
	CategoryWeeks int
	TrendWeeks    int
	MaxWeeks      int
}

// DefaultDefaults returns the stock defaults.
func DefaultDefaults() Defaults {
	return Defaults{
		CategoryWeeks: 4,
		TrendWeeks:    12,
		MaxWeeks:      52,
	}
}

// ValidationError reports a rejected query parameter.
type ValidationError struct {
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Param, e.Reason)
}

// Parse turns raw query parameters into a canonical Query.
// This is a PURE function.
func Parse(kind Kind, params map[string]string, d Defaults) (Query, error) {
	q := Query{Kind: kind}

	switch kind {
	case KindCategories:
		q.Weeks = d.CategoryWeeks
	case KindTrends:
		q.Weeks = d.TrendWeeks
	default:
		return Query{}, &ValidationError{Param: "kind", Reason: "is not supported"}
	}

	var err error
	if q.Category, err = label(params, ParamCategory); err != nil {
		return Query{}, err
	}
	if q.Region, err = label(params, ParamRegion); err != nil {
		return Query{}, err
	}
	if strings.EqualFold(q.Region, AllRegions) {
		q.Region = ""
	}

	if raw := strings.TrimSpace(params[ParamWeeks]); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return Query{}, &ValidationError{Param: ParamWeeks, Reason: "must be an integer"}
		}
		q.Weeks = n
	}
	if q.Weeks < 1 || q.Weeks > d.MaxWeeks {
		return Query{}, &ValidationError{
			Param:  ParamWeeks,
			Reason: fmt.Sprintf("must be between 1 and %d", d.MaxWeeks),
		}
	}

	if kind == KindTrends && q.Category == "" {
		return Query{}, &ValidationError{Param: ParamCategory, Reason: "is required"}
	}

	return q, nil
}

func label(params map[string]string, name string) (string, error) {
	v := strings.TrimSpace(params[name])
	if len(v) > maxLabelLen {
		return "", &ValidationError{Param: name, Reason: fmt.Sprintf("must be at most %d characters", maxLabelLen)}
	}
	for _, r := range v {
		if unicode.IsControl(r) {
			return "", &ValidationError{Param: name, Reason: "contains invalid characters"}
		}
	}
	return v, nil
}

// Window returns the first and last week starts covered by the query at now.
// Both bounds are inclusive.
func (q Query) Window(now time.Time) (from, to time.Time) {
	to = WeekStart(now)
	from = to.AddDate(0, 0, -7*(q.Weeks-1))
	return from, to
}

// Filter builds the data-store filter for the query at now.
func (q Query) Filter(now time.Time) Filter {
	from, to := q.Window(now)
	return Filter{
		Category: q.Category,
		Region:   q.Region,
		From:     from,
		To:       to,
	}
}

// Params renders the effective parameters for usage records.
func (q Query) Params() map[string]string {
	p := map[string]string{
		ParamWeeks:  strconv.Itoa(q.Weeks),
		ParamRegion: q.RegionLabel(),
	}
	if q.Category != "" {
		p[ParamCategory] = q.Category
	}
	return p
}

// RegionLabel returns the region filter as reported to clients.
func (q Query) RegionLabel() string {
	if q.Region == "" {
		return AllRegions
	}
	return q.Region
}
