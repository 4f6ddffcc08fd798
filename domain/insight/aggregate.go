package insight

import (
	"sort"
	"time"
)

// DefaultThreshold is the minimum number of distinct users behind any
// disclosed bucket.
const DefaultThreshold = 100

// Bucket is one disclosed aggregate row (value type).
type Bucket struct {
	Category      string
	Region        string    // empty = all regions
	Week          time.Time // zero = whole query window
	DistinctUsers int
	Items         int
	MeanPrice     float64
	ChangePct     *float64 // trends only; nil when undefined

	// Pooled marks a bucket formed at a coarser level from groups that were
	// thin on their own. It covers only those leftovers, never groups that
	// were disclosed at a finer level.
	Pooled bool
}

// Result is the engine output. Suppressed* describe what was withheld and
// must never be sent to clients.
type Result struct {
	Buckets          []Bucket
	SuppressedGroups int
	SuppressedUsers  int
}

// level is one step of the merge hierarchy: which dimensions besides
// category stay in the grouping key.
type level struct {
	region bool
	week   bool
}

type groupKey struct {
	category string
	region   string
	week     int64 // unix seconds of week start, 0 = window
}

// levels returns the merge hierarchy for q, finest first.
// Trends roll thin regions up into all regions, then thin weeks up into the
// whole window. A region filter pins the region dimension.
func (q Query) levels() []level {
	switch q.Kind {
	case KindTrends:
		if q.Region != "" {
			return []level{{region: true, week: true}, {region: true}}
		}
		return []level{{region: true, week: true}, {week: true}, {}}
	default:
		return []level{{region: q.Region != ""}}
	}
}

// Aggregate groups observations by the query's key and discloses only groups
// backed by at least k distinct users. Groups below k are merged into the next
// coarser key of the hierarchy together with the other thin groups sharing it;
// whatever is still below k after the coarsest key is omitted.
//
// The output is fully determined by the multiset of inputs: observations are
// ordered before summing and buckets are sorted by category, region, week.
// This is a PURE function.
func Aggregate(observations []Observation, q Query, f Filter, k int) Result {
	if k < 1 {
		k = 1
	}

	pending := make([]Observation, 0, len(observations))
	for _, o := range observations {
		if f.Matches(o) {
			o.Week = WeekStart(o.Week)
			pending = append(pending, o)
		}
	}
	sortObservations(pending)

	var res Result
	levels := q.levels()

	for i, lv := range levels {
		last := i == len(levels)-1
		groups := make(map[groupKey][]Observation)
		var next []Observation

		for _, o := range pending {
			if lv.region && o.Region == "" {
				next = append(next, o)
				continue
			}
			key := lv.keyOf(o)
			groups[key] = append(groups[key], o)
		}

		for _, key := range sortedKeys(groups) {
			g := groups[key]
			users := distinctUsers(g)
			if users >= k {
				b := newBucket(key, g, users)
				b.Pooled = i > 0
				res.Buckets = append(res.Buckets, b)
				continue
			}
			if last {
				res.SuppressedGroups++
			}
			next = append(next, g...)
		}

		sortObservations(next)
		pending = next
	}

	res.SuppressedUsers = distinctUsers(pending)
	sortBuckets(res.Buckets)
	if q.Kind == KindTrends {
		applyChange(res.Buckets)
	}
	return res
}

func (lv level) keyOf(o Observation) groupKey {
	key := groupKey{category: o.Category}
	if lv.region {
		key.region = o.Region
	}
	if lv.week {
		key.week = o.Week.Unix()
	}
	return key
}

func newBucket(key groupKey, g []Observation, users int) Bucket {
	var sum float64
	for _, o := range g {
		sum += o.Price
	}

	b := Bucket{
		Category:      key.category,
		Region:        key.region,
		DistinctUsers: users,
		Items:         len(g),
		MeanPrice:     sum / float64(len(g)),
	}
	if key.week != 0 {
		b.Week = time.Unix(key.week, 0).UTC()
	}
	return b
}

func distinctUsers(obs []Observation) int {
	seen := make(map[string]struct{}, len(obs))
	for _, o := range obs {
		seen[o.UserID] = struct{}{}
	}
	return len(seen)
}

// applyChange sets week-over-week change on consecutive week buckets of the
// same category and region series.
func applyChange(buckets []Bucket) {
	for i := 1; i < len(buckets); i++ {
		prev, cur := buckets[i-1], &buckets[i]
		if prev.Category != cur.Category || prev.Region != cur.Region {
			continue
		}
		if prev.Week.IsZero() || cur.Week.IsZero() {
			continue
		}
		if pct, ok := PercentChange(prev.MeanPrice, cur.MeanPrice); ok {
			cur.ChangePct = &pct
		}
	}
}

// PercentChange returns (latest - earliest) / earliest * 100.
// It is undefined when earliest is zero.
func PercentChange(earliest, latest float64) (float64, bool) {
	if earliest == 0 {
		return 0, false
	}
	return (latest - earliest) / earliest * 100, true
}

func sortedKeys(groups map[groupKey][]Observation) []groupKey {
	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.category != b.category {
			return a.category < b.category
		}
		if a.region != b.region {
			return a.region < b.region
		}
		return a.week < b.week
	})
	return keys
}

func sortObservations(obs []Observation) {
	sort.SliceStable(obs, func(i, j int) bool {
		a, b := obs[i], obs[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Region != b.Region {
			return a.Region < b.Region
		}
		if !a.Week.Equal(b.Week) {
			return a.Week.Before(b.Week)
		}
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		return a.Price < b.Price
	})
}

func sortBuckets(buckets []Bucket) {
	sort.SliceStable(buckets, func(i, j int) bool {
		a, b := buckets[i], buckets[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Region != b.Region {
			return a.Region < b.Region
		}
		return a.Week.Before(b.Week)
	})
}
