package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/odvcencio/indexq/internal/queueadmin"
	"github.com/odvcencio/indexq/internal/site"
)

const (
	defaultSchedulerInterval  = time.Minute
	defaultSchedulerBatchSize = 50
)

type SchedulerOptions struct {
	Interval  time.Duration
	BatchSize int
	Logger    *slog.Logger
}

// Scheduler runs incremental passes for every eligible site on a fixed interval, one goroutine
// per site.
type Scheduler struct {
	sites       []*site.Site
	newExecutor queueadmin.ExecutorFactory
	interval    time.Duration
	batchSize   int
	logger      *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func NewScheduler(sites []*site.Site, factory queueadmin.ExecutorFactory, opts SchedulerOptions) *Scheduler {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultSchedulerInterval
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultSchedulerBatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var eligible []*site.Site
	for _, s := range sites {
		if s == nil || len(s.EnabledConfigurationNames()) == 0 || len(s.BackendConnections()) == 0 {
			continue
		}
		eligible = append(eligible, s)
	}
	return &Scheduler{
		sites:       eligible,
		newExecutor: factory,
		interval:    interval,
		batchSize:   batchSize,
		logger:      logger,
	}
}

// Sites returns the sites the scheduler runs passes for.
func (s *Scheduler) Sites() []*site.Site { return s.sites }

func (s *Scheduler) Start(parent context.Context) error {
	if s == nil || s.newExecutor == nil {
		return fmt.Errorf("indexing scheduler is not configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.started = true

	go s.run(ctx, done)
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	s.started = false
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	var wg sync.WaitGroup
	for _, st := range s.sites {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runSite(ctx, st)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) runSite(ctx context.Context, st *site.Site) {
	for {
		if err := ctx.Err(); err != nil {
			return
		}
		s.runPass(ctx, st)
		if !sleepOrDone(ctx, s.interval) {
			return
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context, st *site.Site) {
	executor, err := s.newExecutor(st)
	if err != nil {
		s.logger.Warn("scheduled indexing skipped", "site", st.ID, "error", err)
		return
	}
	ok, err := executor.IndexItems(ctx, s.batchSize)
	switch {
	case err != nil:
		if ctx.Err() == nil {
			s.logger.Error("scheduled indexing failed", "site", st.ID, "error", err)
		}
	case !ok:
		s.logger.Warn("scheduled indexing left items in error", "site", st.ID, "batch_size", s.batchSize)
	default:
		s.logger.Debug("scheduled indexing pass completed", "site", st.ID, "batch_size", s.batchSize)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
