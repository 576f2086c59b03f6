package queueadmin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odvcencio/indexq/internal/site"
)

// Executor runs one incremental indexing pass over a site's pending items.
type Executor interface {
	// IndexItems processes up to batchSize items and reports whether none of them failed.
	IndexItems(ctx context.Context, batchSize int) (bool, error)
}

// ExecutorFactory builds an executor scoped to one site.
type ExecutorFactory func(s *site.Site) (Executor, error)

// RunTrigger starts incremental indexing passes on behalf of an operator.
type RunTrigger struct {
	newExecutor ExecutorFactory
	metrics     *Metrics
	logger      *slog.Logger
}

func NewRunTrigger(factory ExecutorFactory, metrics *Metrics, logger *slog.Logger) *RunTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunTrigger{newExecutor: factory, metrics: metrics, logger: logger}
}

// RunIncrementalIndexing processes up to batchSize items (at least one) and returns true when
// the pass left no item in error.
func (t *RunTrigger) RunIncrementalIndexing(ctx context.Context, s *site.Site, batchSize int) (bool, Report) {
	var report Report
	if batchSize <= 0 {
		batchSize = 1
	}
	if s == nil {
		t.metrics.observe("run", resultRefused)
		report.Warning("Indexing not run", ReasonNoSite)
		return false, report
	}
	if t.newExecutor == nil {
		t.metrics.observe("run", resultFailure)
		report.Error("Indexing not run", "no indexing executor configured")
		return false, report
	}

	executor, err := t.newExecutor(s)
	if err != nil {
		t.logger.Error("create indexing executor failed", "site", s.ID, "error", err)
		t.metrics.observe("run", resultFailure)
		report.Error("Indexing not run", fmt.Sprintf("Could not start indexing for site %s: %v", s.ID, err))
		return false, report
	}

	ok, err := executor.IndexItems(ctx, batchSize)
	if err != nil {
		t.logger.Error("indexing run failed", "site", s.ID, "batch_size", batchSize, "error", err)
		ok = false
	}
	if !ok {
		t.metrics.observe("run", resultFailure)
		text := fmt.Sprintf("Indexing run for site %s finished with errors", s.ID)
		if err != nil {
			text = fmt.Sprintf("%s: %v", text, err)
		}
		report.Error("Indexing run failed", text)
		return false, report
	}
	t.metrics.observe("run", resultSuccess)
	report.OK("Indexing run completed", fmt.Sprintf("Indexed up to %d items for site %s", batchSize, s.ID))
	return true, report
}
