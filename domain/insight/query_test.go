package insight

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	d := DefaultDefaults()

	cat, err := Parse(KindCategories, map[string]string{}, d)
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	if cat.Weeks != 4 {
		t.Errorf("categories weeks = %d, want 4", cat.Weeks)
	}
	if cat.RegionLabel() != AllRegions {
		t.Errorf("RegionLabel = %s, want %s", cat.RegionLabel(), AllRegions)
	}

	tr, err := Parse(KindTrends, map[string]string{"category": "dairy"}, d)
	if err != nil {
		t.Fatalf("trends: %v", err)
	}
	if tr.Weeks != 12 {
		t.Errorf("trends weeks = %d, want 12", tr.Weeks)
	}
}

func TestParse_Validation(t *testing.T) {
	d := DefaultDefaults()

	tests := []struct {
		name      string
		kind      Kind
		params    map[string]string
		wantParam string
	}{
		{"trends without category", KindTrends, map[string]string{}, ParamCategory},
		{"trends with blank category", KindTrends, map[string]string{"category": "   "}, ParamCategory},
		{"weeks not a number", KindCategories, map[string]string{"weeks": "four"}, ParamWeeks},
		{"weeks zero", KindCategories, map[string]string{"weeks": "0"}, ParamWeeks},
		{"weeks negative", KindTrends, map[string]string{"category": "dairy", "weeks": "-3"}, ParamWeeks},
		{"weeks too large", KindCategories, map[string]string{"weeks": "53"}, ParamWeeks},
		{"region too long", KindCategories, map[string]string{"region": strings.Repeat("x", 65)}, ParamRegion},
		{"control characters", KindCategories, map[string]string{"category": "dai\x00ry"}, ParamCategory},
		{"unknown kind", Kind("reports"), map[string]string{}, "kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.kind, tt.params, d)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
			if ve.Param != tt.wantParam {
				t.Errorf("Param = %s, want %s", ve.Param, tt.wantParam)
			}
		})
	}
}

func TestParse_NormalizesInput(t *testing.T) {
	q, err := Parse(KindTrends, map[string]string{
		"category": " dairy ",
		"region":   "ALL",
		"weeks":    " 6 ",
	}, DefaultDefaults())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.Category != "dairy" {
		t.Errorf("Category = %q, want dairy", q.Category)
	}
	if q.Region != "" {
		t.Errorf("Region = %q, want empty (all regions)", q.Region)
	}
	if q.Weeks != 6 {
		t.Errorf("Weeks = %d, want 6", q.Weeks)
	}
}

func TestQuery_Params(t *testing.T) {
	q := Query{Kind: KindTrends, Category: "dairy", Weeks: 12}
	p := q.Params()

	if p["category"] != "dairy" || p["weeks"] != "12" || p["region"] != "all" {
		t.Errorf("Params = %v", p)
	}

	q = Query{Kind: KindCategories, Region: "NE", Weeks: 4}
	if _, ok := q.Params()["category"]; ok {
		t.Error("unset category must not appear in params")
	}
}

func TestQuery_Window(t *testing.T) {
	// Thursday 2026-03-12.
	now := time.Date(2026, 3, 12, 15, 0, 0, 0, time.UTC)
	q := Query{Weeks: 3}

	from, to := q.Window(now)
	if want := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC); !to.Equal(want) {
		t.Errorf("to = %v, want %v", to, want)
	}
	if want := time.Date(2026, 2, 23, 0, 0, 0, 0, time.UTC); !from.Equal(want) {
		t.Errorf("from = %v, want %v", from, want)
	}
}

func TestWeekStart(t *testing.T) {
	tests := []struct {
		in   time.Time
		want time.Time
	}{
		{time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, 3, 15, 23, 59, 0, 0, time.UTC), time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, 3, 16, 0, 0, 1, 0, time.UTC), time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := WeekStart(tt.in); !got.Equal(tt.want) {
			t.Errorf("WeekStart(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFilter_Matches(t *testing.T) {
	w := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	f := Filter{Category: "dairy", Region: "NE", From: w, To: w}

	if !f.Matches(Observation{Category: "dairy", Region: "NE", Week: w.Add(48 * time.Hour)}) {
		t.Error("mid-week observation should match its week")
	}
	if f.Matches(Observation{Category: "bakery", Region: "NE", Week: w}) {
		t.Error("other category matched")
	}
	if f.Matches(Observation{Category: "dairy", Region: "SW", Week: w}) {
		t.Error("other region matched")
	}
	if f.Matches(Observation{Category: "dairy", Region: "NE", Week: w.AddDate(0, 0, 7)}) {
		t.Error("week after window matched")
	}
}
