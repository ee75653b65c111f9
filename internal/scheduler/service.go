package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kleio/mentions-monitor/internal/config"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Reconciler is driven by the scheduler on every tick
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// Service ticks the supervisor's reconcile on the configured cron schedule
type Service struct {
	config     *config.Config
	reconciler Reconciler
	cron       *cron.Cron
	ctx        context.Context
	timeout    time.Duration
	runs       atomic.Int64
	failures   atomic.Int64
}

// NewService creates a new scheduler service
func NewService(cfg *config.Config, reconciler Reconciler) *Service {
	// Ticks are skipped while a slow reconcile is still running
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))

	return &Service{
		config:     cfg,
		reconciler: reconciler,
		cron:       c,
		timeout:    time.Minute,
	}
}

// Start begins the scheduled reconciles. ctx bounds every run.
func (s *Service) Start(ctx context.Context) error {
	s.ctx = ctx

	_, err := s.cron.AddFunc(s.config.ReconcileSchedule, s.RunOnce)
	if err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", s.config.ReconcileSchedule, err)
	}

	s.cron.Start()
	logrus.Infof("Scheduler started with reconcile schedule %q", s.config.ReconcileSchedule)
	return nil
}

// RunOnce performs one reconcile, logging rather than returning failures
func (s *Service) RunOnce() {
	parent := s.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	s.runs.Add(1)
	if err := s.reconciler.Reconcile(ctx); err != nil {
		s.failures.Add(1)
		logrus.Errorf("Scheduled reconcile failed: %v", err)
	}
}

// Runs returns how many reconciles ran and how many failed
func (s *Service) Runs() (total, failed int64) {
	return s.runs.Load(), s.failures.Load()
}

// Stop stops the scheduler and waits for a running reconcile to finish
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		logrus.Info("Scheduler stopped")
	}
}
