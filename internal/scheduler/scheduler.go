package scheduler

import (
	"context"
	"sync"
	"time"

	"login-management-go/internal/services/management"

	log "github.com/sirupsen/logrus"
)

// DefaultInterval is the drain period when none is configured
const DefaultInterval = 5 * time.Minute

// Runner is the drain entry point shared with the HTTP surface
type Runner interface {
	Run(ctx context.Context) (management.Summary, error)
}

// Scheduler triggers a drain once on start and then on every tick
type Scheduler struct {
	runner   Runner
	interval time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a scheduler for runner
func New(runner Runner, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start runs the loop in the background until ctx is done or Stop is called
func (s *Scheduler) Start(ctx context.Context) {
	log.Infof("Starting login management scheduler, interval %s", s.interval)

	ctx, cancel := context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		go func() {
			select {
			case <-s.stopChan:
				cancel()
			case <-ctx.Done():
			}
		}()

		s.runOnce(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.runOnce(ctx)
			case <-ctx.Done():
				log.Info("Stopping login management scheduler")
				return
			}
		}
	}()
}

// Stop ends the loop and waits for a drain in flight to stop at its next pacing wait
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	log.Debug("Running scheduled login management drain")
	summary, err := s.runner.Run(ctx)
	if err != nil {
		log.Errorf("Scheduled drain failed: %v", err)
		return
	}
	if summary.Total > 0 {
		log.Infof("Scheduled drain finished: %d succeeded, %d failed, %d skipped",
			summary.Succeeded, summary.Failed, summary.Skipped)
	}
}
