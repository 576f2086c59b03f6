package database

import (
	"strings"
	"time"
)

// IndexingQueueStats summarizes index queue status across all sites for health and observability endpoints.
type IndexingQueueStats struct {
	Total           int64
	Pending         int64
	Failed          int64
	OldestPendingAt *time.Time
}

const defaultItemError = "indexing failed"

func itemErrorMessage(message string) string {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return defaultItemError
	}
	return msg
}
