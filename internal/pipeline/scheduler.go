package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cooperage/internal/settings"
)

// runner is the pipeline entry point the scheduler drives
type runner interface {
	Run(ctx context.Context) (RunResult, error)
}

// intervalSource reads the scheduling interval from cached settings
type intervalSource interface {
	Get(ctx context.Context) (settings.PipelineSettings, error)
}

// Scheduler is a single self-rescheduling timer. Each firing runs the
// pipeline, then reads fresh settings and arms the next firing. If settings
// cannot be read, the previous interval is reused rather than stalling.
type Scheduler struct {
	pipeline runner
	settings intervalSource

	mu       sync.Mutex
	timer    *time.Timer
	interval time.Duration // last known interval, the settings-read fallback
	stopped  bool
}

// NewScheduler creates a scheduler for the given pipeline
func NewScheduler(pipeline runner, intervals intervalSource) *Scheduler {
	return &Scheduler{
		pipeline: pipeline,
		settings: intervals,
		interval: settings.DefaultPipelineSettings().Interval(),
	}
}

// Start arms the first timer from current settings
func (s *Scheduler) Start(ctx context.Context) {
	interval := s.readInterval(ctx)
	log.Printf("Scheduler started, interval %s", interval)
	s.scheduleNext(interval)
}

// Reschedule cancels the pending timer and re-arms it immediately from
// fresh settings. Called after a settings update.
func (s *Scheduler) Reschedule(ctx context.Context) {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	interval := s.readInterval(ctx)
	log.Printf("Scheduler rescheduled, interval %s", interval)
	s.scheduleNext(interval)
}

// Stop cancels the pending timer. A run already in flight completes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) scheduleNext(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	// A Reschedule overlapping an in-flight run would otherwise leave two
	// armed timers, each rescheduling itself. Only one chain may survive.
	if s.timer != nil {
		s.timer.Stop()
	}
	s.interval = interval
	s.timer = time.AfterFunc(interval, s.fire)
}

func (s *Scheduler) fire() {
	ctx := context.Background()

	if _, err := s.pipeline.Run(ctx); err != nil {
		log.Printf("Scheduler: pipeline run failed: %v", err)
	}

	// Success or failure, the next firing is always armed.
	s.scheduleNext(s.readInterval(ctx))
}

// readInterval reads the interval from settings, falling back to the last
// known interval on failure
func (s *Scheduler) readInterval(ctx context.Context) time.Duration {
	ps, err := s.settings.Get(ctx)
	if err != nil {
		s.mu.Lock()
		previous := s.interval
		s.mu.Unlock()
		log.Printf("Scheduler: failed to read settings, reusing interval %s: %v", previous, err)
		return previous
	}
	return ps.Interval()
}
