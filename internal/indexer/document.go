package indexer

import (
	"fmt"
	"time"

	"github.com/odvcencio/indexq/internal/models"
)

// Document is the JSON body transmitted for one content record.
type Document struct {
	ID            string    `json:"id"`
	Site          string    `json:"site"`
	Type          string    `json:"type"`
	UID           int64     `json:"uid"`
	Configuration string    `json:"indexing_configuration"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	Changed       time.Time `json:"changed"`
}

// DocumentID identifies a record in the search index. Ids are stable across re-initialization.
func DocumentID(itemType string, recordID int64) string {
	return fmt.Sprintf("%s-%d", itemType, recordID)
}

func newDocument(item models.IndexQueueItem, record *models.ContentRecord) Document {
	return Document{
		ID:            DocumentID(item.ItemType, item.RecordID),
		Site:          item.SiteID,
		Type:          item.ItemType,
		UID:           item.RecordID,
		Configuration: item.IndexingConfiguration,
		Title:         record.Title,
		Content:       record.Body,
		Changed:       record.UpdatedAt.UTC(),
	}
}
