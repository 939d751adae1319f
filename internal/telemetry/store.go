package telemetry

import (
	"sync/atomic"
	"time"
)

// Meta describes the most recent publish.
type Meta struct {
	// Seq counts publishes; zero means nothing was published yet.
	Seq       uint64    `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

type entry struct {
	snapshot Snapshot
	meta     Meta
}

// Store holds the latest snapshot. One writer publishes, any number of
// readers call Current without locking.
type Store struct {
	latest atomic.Pointer[entry]
	now    func() time.Time
}

func NewStore() *Store {
	return &Store{now: time.Now}
}

// Publish replaces the stored snapshot as a whole.
func (s *Store) Publish(snapshot Snapshot) {
	var seq uint64
	if prev := s.latest.Load(); prev != nil {
		seq = prev.meta.Seq
	}

	s.latest.Store(&entry{
		snapshot: snapshot.Clone(),
		meta: Meta{
			Seq:       seq + 1,
			UpdatedAt: s.now(),
		},
	})
}

// Current returns the latest snapshot, or false before the first publish.
func (s *Store) Current() (Snapshot, bool) {
	e := s.latest.Load()
	if e == nil {
		return Snapshot{}, false
	}

	return e.snapshot.Clone(), true
}

// Meta returns the publish metadata matching the latest snapshot.
func (s *Store) Meta() Meta {
	e := s.latest.Load()
	if e == nil {
		return Meta{}
	}

	return e.meta
}
