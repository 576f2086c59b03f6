// Package indexer transmits pending queue items to the search backends of a site.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/odvcencio/indexq/internal/database"
	"github.com/odvcencio/indexq/internal/models"
	"github.com/odvcencio/indexq/internal/queue"
	"github.com/odvcencio/indexq/internal/site"
)

var ErrNoBackends = errors.New("site has no search backend connection")

const (
	resultIndexed = "indexed"
	resultDeleted = "deleted"
	resultFailed  = "failed"
)

type ServiceOptions struct {
	// DocumentsPerSecond limits transmissions. Zero or less disables the limit.
	DocumentsPerSecond float64
	NewBackend         BackendFactory
	Metrics            *Metrics
	Logger             *slog.Logger
	Now                func() time.Time
}

// Service runs incremental indexing passes for one site.
type Service struct {
	site      *site.Site
	records   database.DB
	consumers []queue.Consumer
	backends  []Backend
	limiter   *rate.Limiter
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(s *site.Site, records database.DB, consumers []queue.Consumer, opts ServiceOptions) (*Service, error) {
	if s == nil {
		return nil, queue.ErrNoSite
	}
	conns := s.BackendConnections()
	if len(conns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoBackends, s.ID)
	}
	newBackend := opts.NewBackend
	if newBackend == nil {
		newBackend = NewOpenSearchBackend
	}
	backends := make([]Backend, 0, len(conns))
	for _, conn := range conns {
		b, err := newBackend(conn)
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", conn.Name, err)
		}
		backends = append(backends, b)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.DocumentsPerSecond > 0 {
		burst := int(opts.DocumentsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.DocumentsPerSecond), burst)
	}
	return &Service{
		site:      s,
		records:   records,
		consumers: consumers,
		backends:  backends,
		limiter:   limiter,
		metrics:   opts.Metrics,
		logger:    logger.With("site", s.ID),
		now:       now,
	}, nil
}

// IndexItems processes up to batchSize pending items across the site's queues, highest
// priority first within each queue. It returns false when any item ended in error. A returned
// error means the pass itself could not complete.
func (s *Service) IndexItems(ctx context.Context, batchSize int) (bool, error) {
	if batchSize <= 0 {
		batchSize = 1
	}
	start := time.Now()
	ok, err := s.indexItems(ctx, batchSize)
	s.metrics.observePass(s.site.ID, ok && err == nil, time.Since(start).Seconds())
	return ok, err
}

func (s *Service) indexItems(ctx context.Context, batchSize int) (bool, error) {
	remaining := batchSize
	allOK := true
	for _, c := range s.consumers {
		if remaining <= 0 {
			break
		}
		items, err := c.Pending(ctx, s.site, remaining)
		if err != nil {
			return false, fmt.Errorf("claim pending items: %w", err)
		}
		for _, item := range items {
			if err := s.limiter.Wait(ctx); err != nil {
				return false, err
			}
			itemOK, err := s.processItem(ctx, c, item)
			if err != nil {
				return false, err
			}
			allOK = allOK && itemOK
			remaining--
		}
	}
	return allOK, nil
}

// processItem transmits one item and records the outcome on its queue. Only bookkeeping failures
// are returned as errors; transmission failures are stored on the item.
func (s *Service) processItem(ctx context.Context, c queue.Consumer, item models.IndexQueueItem) (bool, error) {
	record, err := s.records.GetContentRecord(ctx, item.SiteID, item.ItemType, item.RecordID)
	if err != nil {
		return false, fmt.Errorf("load content record %s:%d: %w", item.ItemType, item.RecordID, err)
	}

	result := resultIndexed
	var sendErr error
	if record == nil || record.Deleted {
		result = resultDeleted
		sendErr = s.deleteEverywhere(ctx, DocumentID(item.ItemType, item.RecordID))
	} else {
		sendErr = s.indexEverywhere(ctx, newDocument(item, record))
	}

	if sendErr != nil {
		s.metrics.observeItem(s.site.ID, resultFailed)
		s.logger.Warn("index item failed", "item_id", item.ID, "type", item.ItemType, "uid", item.RecordID, "error", sendErr)
		if err := c.MarkFailed(ctx, item.ID, sendErr.Error()); err != nil {
			return false, fmt.Errorf("mark item %d failed: %w", item.ID, err)
		}
		return false, nil
	}
	s.metrics.observeItem(s.site.ID, result)
	if err := c.MarkIndexed(ctx, item.ID, s.now()); err != nil {
		return false, fmt.Errorf("mark item %d indexed: %w", item.ID, err)
	}
	return true, nil
}

func (s *Service) indexEverywhere(ctx context.Context, doc Document) error {
	var errs []error
	for _, b := range s.backends {
		if err := b.Index(ctx, doc); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) deleteEverywhere(ctx context.Context, documentID string) error {
	var errs []error
	for _, b := range s.backends {
		if err := b.Delete(ctx, documentID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}
