package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kleio/mentions-monitor/internal/config"
	"github.com/kleio/mentions-monitor/internal/models"
	"github.com/kleio/mentions-monitor/internal/notifications"
	"github.com/kleio/mentions-monitor/internal/sources"
	"github.com/kleio/mentions-monitor/internal/storage"
	"github.com/sirupsen/logrus"
)

// ErrNotRunning is returned by Reconcile before Start or after Stop
var ErrNotRunning = errors.New("supervisor not running")

// Supervisor owns the worker set. Each reconcile derives the desired
// workers from the active keywords and sends start, update and stop
// commands so the running set converges to it.
type Supervisor struct {
	keywords    storage.KeywordRepository
	cursors     storage.CursorRepository
	mentions    storage.MentionRepository
	notifier    notifications.Notifier
	registry    *sources.Registry
	seen        *seenCache
	workerOpts  WorkerOptions
	stopTimeout time.Duration
	now         func() time.Time

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	workers   map[string]*Worker
	assigned  map[string]string // worker ID -> keyword signature
	monitored int
	lastCheck time.Time
}

// Status is the supervisor snapshot served to the management API
type Status struct {
	Running               bool                                `json:"running"`
	MonitoredKeywordCount int                                 `json:"monitored_keyword_count"`
	LastCheck             time.Time                           `json:"last_check"`
	Platforms             map[models.Platform]*PlatformStatus `json:"platforms"`
	Workers               []WorkerStatus                      `json:"workers"`
}

// PlatformStatus summarizes the workers of one platform
type PlatformStatus struct {
	Active    bool `json:"active"`
	Streaming bool `json:"streaming"`
	Workers   int  `json:"workers"`
	Errored   int  `json:"errored"`
}

type assignment struct {
	source   sources.Source
	scope    string
	keywords []models.Keyword
}

// NewSupervisor creates a new supervisor
func NewSupervisor(cfg *config.Config, keywords storage.KeywordRepository, cursors storage.CursorRepository,
	mentions storage.MentionRepository, notifier notifications.Notifier, registry *sources.Registry) *Supervisor {
	return &Supervisor{
		keywords: keywords,
		cursors:  cursors,
		mentions: mentions,
		notifier: notifier,
		registry: registry,
		seen:     newSeenCache(cfg.SeenCacheSize, cfg.SeenCacheTTL),
		workerOpts: WorkerOptions{
			FetchTimeout:    cfg.FetchTimeout,
			RetryBackoff:    cfg.RetryBackoff,
			MaxRetryBackoff: cfg.MaxRetryBackoff,
		},
		stopTimeout: cfg.StopTimeout,
		now:         time.Now,
		workers:     make(map[string]*Worker),
		assigned:    make(map[string]string),
	}
}

// Start marks the supervisor running and performs the first reconcile.
// Workers live until ctx is cancelled or Stop is called.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()

	logrus.Info("Supervisor started")
	return s.Reconcile(ctx)
}

// Reconcile converges the worker set to the active keywords. Unchanged
// keyword sets with healthy workers are a no-op.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrNotRunning
	}

	active, err := s.keywords.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active keywords: %w", err)
	}
	s.lastCheck = s.now()

	desired, monitored := s.plan(active)
	s.monitored = monitored

	if !s.changed(desired) {
		return nil
	}

	s.stopRemoved(desired)

	ids := make([]string, 0, len(desired))
	for id := range desired {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		a := desired[id]
		sig := keywordSignature(a.keywords)
		w, exists := s.workers[id]

		switch {
		case exists && w.Alive():
			if s.assigned[id] != sig {
				w.Update(a.keywords)
				logrus.Infof("Updated worker %s to %d keywords", id, len(a.keywords))
			}
		case exists:
			logrus.Warnf("Worker %s is %s, restarting", id, w.Status().State)
			s.startWorker(id, a)
		default:
			s.startWorker(id, a)
			logrus.Infof("Started worker %s with %d keywords", id, len(a.keywords))
		}
		s.assigned[id] = sig
	}

	return nil
}

// plan groups valid keywords into worker assignments keyed by source and scope
func (s *Supervisor) plan(active []models.Keyword) (map[string]*assignment, int) {
	desired := make(map[string]*assignment)
	monitored := 0

	for _, kw := range active {
		if !kw.Active {
			continue
		}
		if err := kw.Validate(); err != nil {
			logrus.Warnf("Skipping keyword %s: %v", kw.ID, err)
			continue
		}
		srcs, err := s.registry.ForPlatform(kw.Platform)
		if err != nil {
			logrus.Warnf("Skipping keyword %s: %v", kw.ID, err)
			continue
		}

		for _, src := range srcs {
			for _, scope := range src.Scopes(kw) {
				id := workerID(src.GetName(), scope)
				a, ok := desired[id]
				if !ok {
					a = &assignment{source: src, scope: scope}
					desired[id] = a
				}
				a.keywords = append(a.keywords, kw)
			}
		}
		monitored++
	}

	return desired, monitored
}

// changed reports whether any worker must be started, stopped, updated or restarted
func (s *Supervisor) changed(desired map[string]*assignment) bool {
	if len(desired) != len(s.workers) {
		return true
	}
	for id, a := range desired {
		w, ok := s.workers[id]
		if !ok || !w.Alive() {
			return true
		}
		if s.assigned[id] != keywordSignature(a.keywords) {
			return true
		}
	}
	return false
}

func (s *Supervisor) startWorker(id string, a *assignment) {
	w := NewWorker(a.source, a.scope, a.keywords, s.cursors, s.mentions, s.notifier, s.seen, s.workerOpts)
	w.Start(s.ctx)
	s.workers[id] = w
}

func (s *Supervisor) stopRemoved(desired map[string]*assignment) {
	var removed []*Worker
	for id, w := range s.workers {
		if _, keep := desired[id]; keep {
			continue
		}
		removed = append(removed, w)
		delete(s.workers, id)
		delete(s.assigned, id)
	}
	s.stopAll(removed)
	for _, w := range removed {
		logrus.Infof("Stopped worker %s", w.ID())
	}
}

// stopAll stops workers in parallel so the total wait stays within one timeout
func (s *Supervisor) stopAll(workers []*Worker) {
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Stop(s.stopTimeout)
		}(w)
	}
	wg.Wait()
}

// Stop shuts down every worker and waits for them within the stop timeout
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false

	workers := make([]*Worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.stopAll(workers)
	s.cancel()

	s.workers = make(map[string]*Worker)
	s.assigned = make(map[string]string)
	s.monitored = 0
	logrus.Infof("Supervisor stopped %d workers", len(workers))
}

// Status returns the running flag, keyword count, last reconcile time and per-platform worker health
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Running:               s.running,
		MonitoredKeywordCount: s.monitored,
		LastCheck:             s.lastCheck,
		Platforms:             make(map[models.Platform]*PlatformStatus),
		Workers:               make([]WorkerStatus, 0, len(s.workers)),
	}

	for _, src := range s.registry.Sources() {
		ps, ok := status.Platforms[src.Platform()]
		if !ok {
			ps = &PlatformStatus{}
			status.Platforms[src.Platform()] = ps
		}
		if st, ok := src.(sources.Streamer); ok && st.Streaming() && s.hasWorkerFor(src.GetName()) {
			ps.Streaming = true
		}
	}

	for _, w := range s.workers {
		ws := w.Status()
		status.Workers = append(status.Workers, ws)

		ps, ok := status.Platforms[ws.Platform]
		if !ok {
			ps = &PlatformStatus{}
			status.Platforms[ws.Platform] = ps
		}
		ps.Workers++
		if w.Alive() {
			ps.Active = true
		}
		if ws.State == StateBackoff || ws.State == StateCrashed {
			ps.Errored++
		}
	}

	sort.Slice(status.Workers, func(i, j int) bool {
		return status.Workers[i].ID < status.Workers[j].ID
	})
	return status
}

func (s *Supervisor) hasWorkerFor(sourceName string) bool {
	for _, w := range s.workers {
		if w.source.GetName() == sourceName && w.Alive() {
			return true
		}
	}
	return false
}

// keywordSignature changes whenever a keyword joins, leaves or is edited
func keywordSignature(kws []models.Keyword) string {
	parts := make([]string, 0, len(kws))
	for _, kw := range kws {
		parts = append(parts, fmt.Sprintf("%s@%d|%s|%s|%s|%v|%v",
			kw.ID, kw.UpdatedAt.UnixNano(), kw.Text, kw.MatchMode, kw.Case(), kw.ContentTypes, kw.Filters))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
