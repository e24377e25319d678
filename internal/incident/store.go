package incident

import (
	"sync"
	"time"

	"github.com/JNickson/cluster-incident-agent/internal/utils"
)

const recentCap = 100

// Store is the only shared mutable state in the pipeline. It remembers which
// failure signatures have already been processed so an unchanged failure does
// not re-invoke the reasoning backend on every poll, and keeps a bounded list
// of recent incidents for the read API.
type Store struct {
	mu     sync.Mutex
	ttl    time.Duration
	seen   map[string]time.Time
	recent []*Incident
}

// NewStore creates a store whose signatures expire after ttl. Eviction keeps
// the signature map bounded while still suppressing repeats within the
// detection horizon.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		ttl:  ttl,
		seen: make(map[string]time.Time),
	}
}

// MarkIfNew records the signature and reports whether it was unseen. Expired
// signatures are treated as new so a persisting failure eventually resurfaces.
func (s *Store) MarkIfNew(signature string) bool {
	now := utils.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked(now)

	if _, ok := s.seen[signature]; ok {
		return false
	}

	s.seen[signature] = now
	return true
}

// Forget drops a signature so an abandoned incident can be recreated by a
// later scan.
func (s *Store) Forget(signature string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, signature)
}

func (s *Store) evictLocked(now time.Time) {
	if s.ttl <= 0 {
		return
	}

	for sig, at := range s.seen {
		if now.Sub(at) > s.ttl {
			delete(s.seen, sig)
		}
	}
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Record keeps the incident in the bounded recent list, newest first.
func (s *Store) Record(inc *Incident) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recent = append([]*Incident{inc}, s.recent...)
	if len(s.recent) > recentCap {
		s.recent = s.recent[:recentCap]
	}
}

func (s *Store) ListRecent() []*Incident {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Incident, len(s.recent))
	copy(out, s.recent)
	return out
}
