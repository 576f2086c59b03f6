package database

import (
	"context"

	"github.com/odvcencio/indexq/internal/models"
)

// DB defines the data access interface. Implemented by SQLite and PostgreSQL backends.
type DB interface {
	Close() error
	Migrate(ctx context.Context) error

	// Content records
	UpsertContentRecord(ctx context.Context, record *models.ContentRecord) error
	GetContentRecord(ctx context.Context, siteID, recordType string, recordID int64) (*models.ContentRecord, error)
	ListContentRecords(ctx context.Context, siteID, recordType string) ([]models.ContentRecord, error)

	// Index queue items
	ReplaceQueueItems(ctx context.Context, siteID, configuration, recordType string, priority int) (int64, error)
	QueueStatistics(ctx context.Context, siteID, configuration string) (models.QueueStatistics, error)
	ListQueueErrors(ctx context.Context, siteID string) ([]models.QueueError, error)
	ResetQueueErrors(ctx context.Context) (int64, error)
	// UpdateQueueItemChanged clears errors and sets changed to at least indexed+1 so the
	// item is pending even when requeued in the second it was indexed.
	UpdateQueueItemChanged(ctx context.Context, itemType string, recordID, changed int64) (int64, error)
	GetQueueItem(ctx context.Context, id int64) (*models.IndexQueueItem, error)
	ListPendingQueueItems(ctx context.Context, siteID string, limit int) ([]models.IndexQueueItem, error)
	MarkQueueItemIndexed(ctx context.Context, id, indexed int64) error
	MarkQueueItemError(ctx context.Context, id int64, message string) error
}
