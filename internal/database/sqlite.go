package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/indexq/internal/models"

	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	db *sql.DB
}

func OpenSQLite(dsn string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and foreign keys
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %s: %w", pragma, err)
		}
	}
	return &SQLiteDB{db: db}, nil
}

func (s *SQLiteDB) Close() error { return s.db.Close() }

func (s *SQLiteDB) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS content_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	site_id TEXT NOT NULL,
	record_type TEXT NOT NULL,
	record_id INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	deleted BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at INTEGER NOT NULL DEFAULT 0,
	UNIQUE (site_id, record_type, record_id)
);

CREATE TABLE IF NOT EXISTS index_queue_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	site_id TEXT NOT NULL,
	item_type TEXT NOT NULL,
	record_id INTEGER NOT NULL,
	indexing_configuration TEXT NOT NULL,
	changed INTEGER NOT NULL DEFAULT 0,
	indexed INTEGER NOT NULL DEFAULT 0,
	indexing_priority INTEGER NOT NULL DEFAULT 0,
	errors TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (site_id, item_type, record_id, indexing_configuration)
);

CREATE INDEX IF NOT EXISTS idx_index_queue_items_site_config ON index_queue_items(site_id, indexing_configuration);
CREATE INDEX IF NOT EXISTS idx_index_queue_items_record ON index_queue_items(item_type, record_id);
CREATE INDEX IF NOT EXISTS idx_index_queue_items_pending ON index_queue_items(site_id, errors, indexing_priority DESC, changed, id);
`

func (s *SQLiteDB) UpsertContentRecord(ctx context.Context, r *models.ContentRecord) error {
	if r == nil {
		return fmt.Errorf("content record is nil")
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	return s.db.QueryRowContext(ctx,
		`INSERT INTO content_records (site_id, record_type, record_id, title, body, deleted, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(site_id, record_type, record_id) DO UPDATE SET
			 title = excluded.title,
			 body = excluded.body,
			 deleted = excluded.deleted,
			 updated_at = excluded.updated_at
		 RETURNING id`,
		r.SiteID, r.RecordType, r.RecordID, r.Title, r.Body, r.Deleted, r.UpdatedAt.Unix(),
	).Scan(&r.ID)
}

func (s *SQLiteDB) GetContentRecord(ctx context.Context, siteID, recordType string, recordID int64) (*models.ContentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, site_id, record_type, record_id, title, body, deleted, updated_at
		 FROM content_records
		 WHERE site_id = ? AND record_type = ? AND record_id = ?`,
		siteID, recordType, recordID,
	)
	record, err := scanContentRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func (s *SQLiteDB) ListContentRecords(ctx context.Context, siteID, recordType string) ([]models.ContentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, site_id, record_type, record_id, title, body, deleted, updated_at
		 FROM content_records
		 WHERE site_id = ? AND record_type = ? AND deleted = FALSE
		 ORDER BY record_id ASC`,
		siteID, recordType,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ContentRecord
	for rows.Next() {
		record, err := scanContentRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *record)
	}
	return out, rows.Err()
}

// ReplaceQueueItems drops the items of one configuration and re-creates them from the
// current content records of its type.
func (s *SQLiteDB) ReplaceQueueItems(ctx context.Context, siteID, configuration, recordType string, priority int) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM index_queue_items WHERE site_id = ? AND indexing_configuration = ?`,
		siteID, configuration,
	); err != nil {
		return 0, fmt.Errorf("delete queue items: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO index_queue_items (site_id, item_type, record_id, indexing_configuration, changed, indexed, indexing_priority, errors)
		 SELECT site_id, record_type, record_id, ?, updated_at, 0, ?, ''
		 FROM content_records
		 WHERE site_id = ? AND record_type = ? AND deleted = FALSE`,
		configuration, priority, siteID, recordType,
	)
	if err != nil {
		return 0, fmt.Errorf("insert queue items: %w", err)
	}
	inserted, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *SQLiteDB) QueueStatistics(ctx context.Context, siteID, configuration string) (models.QueueStatistics, error) {
	var stats models.QueueStatistics
	err := s.db.QueryRowContext(ctx,
		`SELECT
			 COUNT(*) AS total,
			 COALESCE(SUM(CASE WHEN errors = '' AND changed > indexed THEN 1 ELSE 0 END), 0) AS pending,
			 COALESCE(SUM(CASE WHEN errors = '' AND changed <= indexed THEN 1 ELSE 0 END), 0) AS succeeded,
			 COALESCE(SUM(CASE WHEN errors != '' THEN 1 ELSE 0 END), 0) AS failed
		 FROM index_queue_items
		 WHERE site_id = ? AND (? = '' OR indexing_configuration = ?)`,
		siteID, configuration, configuration,
	).Scan(&stats.Total, &stats.Pending, &stats.Succeeded, &stats.Failed)
	if err != nil {
		return models.QueueStatistics{}, err
	}
	return stats, nil
}

func (s *SQLiteDB) ListQueueErrors(ctx context.Context, siteID string) ([]models.QueueError, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_type, record_id, indexing_configuration, errors, changed
		 FROM index_queue_items
		 WHERE site_id = ? AND errors != ''
		 ORDER BY changed DESC, id DESC`,
		siteID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.QueueError
	for rows.Next() {
		var e models.QueueError
		if err := rows.Scan(&e.ItemID, &e.ItemType, &e.RecordID, &e.IndexingConfiguration, &e.Message, &e.Changed); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) ResetQueueErrors(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE index_queue_items SET errors = '' WHERE errors != ''`)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func (s *SQLiteDB) UpdateQueueItemChanged(ctx context.Context, itemType string, recordID, changed int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE index_queue_items SET changed = MAX(?, indexed + 1), errors = '' WHERE item_type = ? AND record_id = ?`,
		changed, itemType, recordID,
	)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func (s *SQLiteDB) GetQueueItem(ctx context.Context, id int64) (*models.IndexQueueItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, site_id, item_type, record_id, indexing_configuration, changed, indexed, indexing_priority, errors
		 FROM index_queue_items
		 WHERE id = ?`,
		id,
	)
	item, err := scanQueueItem(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return item, nil
}

func (s *SQLiteDB) ListPendingQueueItems(ctx context.Context, siteID string, limit int) ([]models.IndexQueueItem, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, site_id, item_type, record_id, indexing_configuration, changed, indexed, indexing_priority, errors
		 FROM index_queue_items
		 WHERE site_id = ? AND errors = '' AND changed > indexed
		 ORDER BY indexing_priority DESC, changed ASC, id ASC
		 LIMIT ?`,
		siteID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.IndexQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) MarkQueueItemIndexed(ctx context.Context, id, indexed int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE index_queue_items SET indexed = ?, errors = '' WHERE id = ?`,
		indexed, id,
	)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *SQLiteDB) MarkQueueItemError(ctx context.Context, id int64, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE index_queue_items SET errors = ? WHERE id = ?`,
		itemErrorMessage(message), id,
	)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContentRecord(row rowScanner) (*models.ContentRecord, error) {
	var r models.ContentRecord
	var updated int64
	if err := row.Scan(&r.ID, &r.SiteID, &r.RecordType, &r.RecordID, &r.Title, &r.Body, &r.Deleted, &updated); err != nil {
		return nil, err
	}
	r.UpdatedAt = time.Unix(updated, 0).UTC()
	return &r, nil
}

func scanQueueItem(row rowScanner) (*models.IndexQueueItem, error) {
	var item models.IndexQueueItem
	if err := row.Scan(
		&item.ID,
		&item.SiteID,
		&item.ItemType,
		&item.RecordID,
		&item.IndexingConfiguration,
		&item.Changed,
		&item.Indexed,
		&item.Priority,
		&item.Errors,
	); err != nil {
		return nil, err
	}
	item.Errors = strings.TrimSpace(item.Errors)
	return &item, nil
}
