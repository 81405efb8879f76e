// Package vision holds the most recent range sample posted by the vision
// coprocessor.
package vision

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/targeting"
)

// DefaultMaxAge is how long a sample stays valid without an update.
const DefaultMaxAge = 500 * time.Millisecond

type Store struct {
	clock  clock.Clock
	maxAge time.Duration

	lock    sync.Mutex
	latest  targeting.Sample
	updated time.Time
	count   uint64
}

func New(clk clock.Clock, maxAge time.Duration) *Store {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Store{clock: clk, maxAge: maxAge}
}

// Update records a new sample. A visible sample must carry a non-negative
// distance.
func (s *Store) Update(sample targeting.Sample) error {
	if sample.Visible && sample.DistanceMeters < 0 {
		return errors.Errorf("negative distance %v", sample.DistanceMeters)
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.latest = sample
	s.updated = s.clock.Now()
	s.count++
	return nil
}

// Sample returns the latest sample, or a not-visible one if nothing has
// arrived within the max age.
func (s *Store) Sample() targeting.Sample {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.updated.IsZero() || s.clock.Since(s.updated) > s.maxAge {
		return targeting.Sample{}
	}
	return s.latest
}

func (s *Store) Updates() uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.count
}
