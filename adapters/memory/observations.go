package memory

import (
	"context"
	"sync"

	"github.com/marketlens/insightgate/domain/insight"
	"github.com/marketlens/insightgate/ports"
)

// ObservationSource is an in-memory implementation of ports.ObservationSource.
type ObservationSource struct {
	mu    sync.RWMutex
	obs   []insight.Observation
	err   error
	calls int
}

// NewObservationSource creates a source preloaded with obs.
func NewObservationSource(obs ...insight.Observation) *ObservationSource {
	return &ObservationSource{obs: obs}
}

// Fetch returns the stored observations matching f.
func (s *ObservationSource) Fetch(ctx context.Context, f insight.Filter) ([]insight.Observation, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return nil, s.err
	}

	var out []insight.Observation
	for _, o := range s.obs {
		if f.Matches(o) {
			out = append(out, o)
		}
	}
	return out, nil
}

// Add appends observations.
func (s *ObservationSource) Add(obs ...insight.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs = append(s.obs, obs...)
}

// FailWith makes Fetch return err until called with nil (for testing).
func (s *ObservationSource) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls returns how many times Fetch was called (for testing).
func (s *ObservationSource) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

// Ensure interface compliance.
var _ ports.ObservationSource = (*ObservationSource)(nil)
