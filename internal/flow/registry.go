package flow

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultSessionTTL is how long an idle report session is kept.
const DefaultSessionTTL = 2 * time.Hour

// Builder creates a controller for a new session id and diary date.
type Builder func(id, date string) *Controller

// Registry keeps live report sessions keyed by id.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Controller
	build    Builder
	ttl      time.Duration
	now      func() time.Time
}

// NewRegistry creates an empty registry. A non-positive ttl uses DefaultSessionTTL.
func NewRegistry(build Builder, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Registry{
		sessions: make(map[string]*Controller),
		build:    build,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create starts a new session for date (today when empty).
func (r *Registry) Create(date string) *Controller {
	id := uuid.NewString()
	c := r.build(id, date)
	r.mu.Lock()
	r.sessions[id] = c
	total := len(r.sessions)
	r.mu.Unlock()
	logrus.WithFields(logrus.Fields{"session": id, "date": c.State().Date, "live": total}).Info("report session created")
	return c
}

// Get returns a live session.
func (r *Registry) Get(id string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sessions[id]
	return c, ok
}

// Remove drops a session.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep removes sessions idle for longer than the ttl and returns how many were dropped.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, c := range r.sessions {
		if c.LastActivity().Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		logrus.WithFields(logrus.Fields{"removed": removed, "live": len(r.sessions)}).Info("expired report sessions")
	}
	return removed
}
