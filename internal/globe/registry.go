package globe

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/globe-weather-grid/internal/logger"
	"github.com/i474232898/globe-weather-grid/internal/metrics"
	"github.com/i474232898/globe-weather-grid/internal/weather"
)

var (
	// ErrSessionNotFound is returned for unknown or reaped session ids.
	ErrSessionNotFound = errors.New("session not found")
)

type session struct {
	viewer     *Viewer
	lastAccess time.Time
}

// Registry holds the open viewer sessions.
type Registry struct {
	cfg     Config
	log     logger.Logger
	metrics *metrics.Collector
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func NewRegistry(cfg Config, log logger.Logger, m *metrics.Collector) *Registry {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		cfg:      cfg,
		log:      log.WithField("component", "sessions"),
		metrics:  m,
		now:      now,
		sessions: make(map[string]*session),
	}
}

// Create opens a session querying window.
func (r *Registry) Create(window weather.DateWindow) (*Viewer, error) {
	id := uuid.NewString()
	v, err := NewViewer(id, r.cfg, window, r.log, r.metrics)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[id] = &session{viewer: v, lastAccess: r.now()}
	n := len(r.sessions)
	r.mu.Unlock()

	r.metrics.Sessions(n)
	r.log.WithField("session", id).Info("session opened")
	return v, nil
}

// Get returns the session's viewer and marks it as used.
func (r *Registry) Get(id string) (*Viewer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.lastAccess = r.now()
	return s.viewer, nil
}

// Remove closes and forgets a session.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	r.metrics.Sessions(n)
	s.viewer.Close()
	r.log.WithField("session", id).Info("session closed")
	return nil
}

// Reap closes sessions not used for longer than idle and returns how many
// were closed.
func (r *Registry) Reap(idle time.Duration) int {
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	var stale []*Viewer
	for id, s := range r.sessions {
		if s.lastAccess.Before(cutoff) {
			stale = append(stale, s.viewer)
			delete(r.sessions, id)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	for _, v := range stale {
		v.Close()
	}
	if len(stale) > 0 {
		r.metrics.Sessions(n)
		r.log.WithField("reaped", len(stale)).Info("closed idle sessions")
	}
	return len(stale)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close shuts down every session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.viewer.Close()
	}
	r.metrics.Sessions(0)
}
