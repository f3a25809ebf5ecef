package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/atomic"
)

// DefaultTimeout bounds a single refresh run.
const DefaultTimeout = 30 * time.Second

// Refresher is implemented by the animation engine.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Scheduler periodically refreshes capabilities and layer times. Runs never
// overlap: a trigger arriving while a refresh is in flight queues exactly one
// follow-up run.
type Scheduler struct {
	scheduler *gocron.Scheduler
	refresher Refresher
	interval  time.Duration
	timeout   time.Duration

	running *atomic.Bool
	queued  *atomic.Bool
}

// New creates a new Scheduler. A zero interval disables periodic runs;
// Trigger still works.
func New(refresher Refresher, interval time.Duration) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		refresher: refresher,
		interval:  interval,
		timeout:   DefaultTimeout,
		running:   atomic.NewBool(false),
		queued:    atomic.NewBool(false),
	}
}

// WithTimeout overrides the per-run timeout.
func (s *Scheduler) WithTimeout(d time.Duration) *Scheduler {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Start schedules the periodic job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		log.Println("scheduler: no refresh interval configured; nothing to schedule")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).WaitForSchedule().Do(s.Trigger)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	log.Printf("scheduler: refreshing every %s", s.interval)
	return nil
}

// Trigger runs a refresh now, or queues one if a refresh is in flight.
func (s *Scheduler) Trigger() {
	if !s.running.CAS(false, true) {
		if !s.queued.Swap(true) {
			log.Println("scheduler: refresh in flight, queued one more")
		}
		return
	}
	for {
		s.queued.Store(false)
		s.runOnce()
		s.running.Store(false)
		if !s.queued.Load() || !s.running.CAS(false, true) {
			return
		}
	}
}

func (s *Scheduler) runOnce() {
	log.Println("scheduler: running refresh job")
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	if err := s.refresher.Refresh(ctx); err != nil {
		log.Printf("scheduler: refresh failed: %v", err)
		return
	}
	log.Printf("scheduler: completed refresh job in %s", time.Since(start).Round(time.Millisecond))
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
