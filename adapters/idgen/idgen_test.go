package idgen_test

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/marketlens/insightgate/adapters/idgen"
)

func TestUUID_New(t *testing.T) {
	g := idgen.UUID{}

	a, b := g.New(), g.New()
	if a == b {
		t.Error("expected distinct ids")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("New() = %q is not a UUID: %v", a, err)
	}
}

func TestSequential_New(t *testing.T) {
	g := idgen.NewSequential("rec-")

	if got := g.New(); got != "rec-1" {
		t.Errorf("first = %s, want rec-1", got)
	}
	if got := g.New(); got != "rec-2" {
		t.Errorf("second = %s, want rec-2", got)
	}
}

func TestSequential_Concurrent(t *testing.T) {
	g := idgen.NewSequential("c")
	seen := sync.Map{}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := g.New()
			if _, dup := seen.LoadOrStore(id, true); dup {
				t.Errorf("duplicate id %s", id)
			}
		}()
	}
	wg.Wait()
}
