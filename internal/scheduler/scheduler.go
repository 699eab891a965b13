package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/globe-weather-grid/internal/logger"
)

// SessionReaper closes sessions idle for longer than the given duration.
type SessionReaper interface {
	Reap(idle time.Duration) int
}

// CachePurger drops expired cache entries.
type CachePurger interface {
	Purge(ctx context.Context) (int, error)
}

type Options struct {
	ReapInterval  time.Duration
	SessionIdle   time.Duration
	PurgeInterval time.Duration
}

// Scheduler runs periodic maintenance: reaping idle viewer sessions and
// purging expired aggregates from media without native expiry.
type Scheduler struct {
	scheduler *gocron.Scheduler
	sessions  SessionReaper
	cache     CachePurger
	opts      Options
	log       logger.Logger
}

// New creates a new Scheduler. Either dependency may be nil to skip its job.
func New(sessions SessionReaper, cache CachePurger, opts Options, log logger.Logger) *Scheduler {
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = time.Minute
	}
	if opts.SessionIdle <= 0 {
		opts.SessionIdle = 30 * time.Minute
	}
	if opts.PurgeInterval <= 0 {
		opts.PurgeInterval = time.Hour
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		sessions:  sessions,
		cache:     cache,
		opts:      opts,
		log:       log.WithField("component", "scheduler"),
	}
}

// Start schedules the jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.sessions != nil {
		_, err := s.scheduler.Every(s.opts.ReapInterval).SingletonMode().Do(s.reapSessions)
		if err != nil {
			return err
		}
	}
	if s.cache != nil {
		_, err := s.scheduler.Every(s.opts.PurgeInterval).SingletonMode().Do(s.purgeCache)
		if err != nil {
			return err
		}
	}
	if s.scheduler.Len() == 0 {
		s.log.Info("no maintenance jobs configured; nothing to schedule")
		return nil
	}

	s.scheduler.StartAsync()
	return nil
}

func (s *Scheduler) reapSessions() {
	if n := s.sessions.Reap(s.opts.SessionIdle); n > 0 {
		s.log.WithField("sessions", n).Info("reaped idle sessions")
	}
}

func (s *Scheduler) purgeCache() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.cache.Purge(ctx)
	if err != nil {
		s.log.WithError(err).Warn("cache purge failed")
		return
	}
	s.log.WithField("removed", n).Debug("cache purge completed")
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
