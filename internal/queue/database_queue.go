package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odvcencio/indexq/internal/database"
	"github.com/odvcencio/indexq/internal/models"
	"github.com/odvcencio/indexq/internal/site"
)

// DatabaseQueue keeps items in the index_queue_items table. It is the primary implementation.
type DatabaseQueue struct {
	db database.DB
}

func NewDatabaseQueue(db database.DB) *DatabaseQueue {
	return &DatabaseQueue{db: db}
}

func (q *DatabaseQueue) ImplementationID() models.QueueImplementationID {
	return models.QueueImplementationDatabase
}

func (q *DatabaseQueue) Statistics(ctx context.Context, s *site.Site, configuration string) (models.QueueStatistics, error) {
	if err := requireSite(s); err != nil {
		return models.QueueStatistics{}, err
	}
	stats, err := q.db.QueueStatistics(ctx, s.ID, configuration)
	if err != nil {
		return models.QueueStatistics{}, fmt.Errorf("queue statistics: %w", err)
	}
	return stats, nil
}

func (q *DatabaseQueue) Errors(ctx context.Context, s *site.Site) ([]models.QueueError, error) {
	if err := requireSite(s); err != nil {
		return nil, err
	}
	errs, err := q.db.ListQueueErrors(ctx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("list queue errors: %w", err)
	}
	return errs, nil
}

func (q *DatabaseQueue) ResetAllErrors(ctx context.Context) (int64, error) {
	n, err := q.db.ResetQueueErrors(ctx)
	if err != nil {
		return 0, fmt.Errorf("reset queue errors: %w", err)
	}
	return n, nil
}

func (q *DatabaseQueue) UpdateItem(ctx context.Context, itemType string, recordID int64, changed time.Time) (int64, error) {
	n, err := q.db.UpdateQueueItemChanged(ctx, itemType, recordID, changed.Unix())
	if err != nil {
		return 0, fmt.Errorf("update queue item: %w", err)
	}
	return n, nil
}

func (q *DatabaseQueue) Item(ctx context.Context, itemID int64) (*models.IndexQueueItem, error) {
	return q.db.GetQueueItem(ctx, itemID)
}

func (q *DatabaseQueue) Initializer() Initializer {
	return &databaseInitializer{db: q.db}
}

func (q *DatabaseQueue) Pending(ctx context.Context, s *site.Site, limit int) ([]models.IndexQueueItem, error) {
	if err := requireSite(s); err != nil {
		return nil, err
	}
	return q.db.ListPendingQueueItems(ctx, s.ID, limit)
}

func (q *DatabaseQueue) MarkIndexed(ctx context.Context, itemID int64, indexed time.Time) error {
	return q.db.MarkQueueItemIndexed(ctx, itemID, indexed.Unix())
}

func (q *DatabaseQueue) MarkFailed(ctx context.Context, itemID int64, message string) error {
	return q.db.MarkQueueItemError(ctx, itemID, message)
}

type databaseInitializer struct {
	db database.DB
}

// InitializeByConfigurations replaces the items of each configuration with one item per
// non-deleted content record of the configuration's type. Every configuration is attempted.
func (i *databaseInitializer) InitializeByConfigurations(ctx context.Context, s *site.Site, configurations []string) (map[string]bool, error) {
	if err := requireSite(s); err != nil {
		return nil, err
	}
	statuses := make(map[string]bool, len(configurations))
	var errs []error
	for _, name := range configurations {
		statuses[name] = false
		c, err := lookupConfiguration(s, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := i.db.ReplaceQueueItems(ctx, s.ID, c.Name, c.Type, c.Priority); err != nil {
			errs = append(errs, &InitializationError{Configuration: name, Code: CodeStorage, Err: err})
			continue
		}
		statuses[name] = true
	}
	return statuses, errors.Join(errs...)
}
