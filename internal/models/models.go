package models

import (
	"strings"
	"time"
)

// QueueImplementationID names a concrete index queue implementation.
type QueueImplementationID string

const (
	QueueImplementationDatabase QueueImplementationID = "database"
	QueueImplementationRedis    QueueImplementationID = "redis"
)

// ContentRecord is a piece of site content that indexing configurations select from.
type ContentRecord struct {
	ID         int64     `json:"id"`
	SiteID     string    `json:"site_id" yaml:"site"`
	RecordType string    `json:"type" yaml:"type"`
	RecordID   int64     `json:"uid" yaml:"uid"`
	Title      string    `json:"title" yaml:"title"`
	Body       string    `json:"body" yaml:"body"`
	Deleted    bool      `json:"deleted" yaml:"deleted"`
	UpdatedAt  time.Time `json:"updated_at" yaml:"-"`
}

// IndexQueueItem is one unit of pending indexing work. Changed and Indexed are unix seconds;
// Indexed is zero until the item has been transmitted once.
type IndexQueueItem struct {
	ID                    int64  `json:"id"`
	SiteID                string `json:"site_id"`
	ItemType              string `json:"type"`
	RecordID              int64  `json:"uid"`
	IndexingConfiguration string `json:"indexing_configuration"`
	Changed               int64  `json:"changed"`
	Indexed               int64  `json:"indexed"`
	Priority              int    `json:"priority"`
	Errors                string `json:"errors,omitempty"`
}

func (i *IndexQueueItem) HasErrors() bool {
	return i != nil && strings.TrimSpace(i.Errors) != ""
}

func (i *IndexQueueItem) IsPending() bool {
	return i != nil && !i.HasErrors() && i.Changed > i.Indexed
}

// QueueError is an item currently carrying an indexing error.
type QueueError struct {
	ItemID                int64  `json:"item_id"`
	ItemType              string `json:"type"`
	RecordID              int64  `json:"uid"`
	IndexingConfiguration string `json:"indexing_configuration"`
	Message               string `json:"message"`
	Changed               int64  `json:"changed"`
}

// QueueStatistics is a point-in-time count of queue items.
type QueueStatistics struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

// Add folds counts of one item into the statistics.
func (s *QueueStatistics) Add(item IndexQueueItem) {
	s.Total++
	switch {
	case item.HasErrors():
		s.Failed++
	case item.IsPending():
		s.Pending++
	default:
		s.Succeeded++
	}
}

func (s QueueStatistics) PercentFailed() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Failed) * 100 / float64(s.Total)
}
