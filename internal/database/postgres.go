package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/odvcencio/indexq/internal/models"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type PostgresDB struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*PostgresDB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	return &PostgresDB{db: db}, nil
}

func (p *PostgresDB) Close() error { return p.db.Close() }

func (p *PostgresDB) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, pgSchema)
	return err
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS content_records (
	id BIGSERIAL PRIMARY KEY,
	site_id TEXT NOT NULL,
	record_type TEXT NOT NULL,
	record_id BIGINT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	deleted BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at BIGINT NOT NULL DEFAULT 0,
	UNIQUE (site_id, record_type, record_id)
);

CREATE TABLE IF NOT EXISTS index_queue_items (
	id BIGSERIAL PRIMARY KEY,
	site_id TEXT NOT NULL,
	item_type TEXT NOT NULL,
	record_id BIGINT NOT NULL,
	indexing_configuration TEXT NOT NULL,
	changed BIGINT NOT NULL DEFAULT 0,
	indexed BIGINT NOT NULL DEFAULT 0,
	indexing_priority INTEGER NOT NULL DEFAULT 0,
	errors TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (site_id, item_type, record_id, indexing_configuration)
);

CREATE INDEX IF NOT EXISTS idx_index_queue_items_site_config ON index_queue_items(site_id, indexing_configuration);
CREATE INDEX IF NOT EXISTS idx_index_queue_items_record ON index_queue_items(item_type, record_id);
CREATE INDEX IF NOT EXISTS idx_index_queue_items_pending ON index_queue_items(site_id, errors, indexing_priority DESC, changed, id);
`

func (p *PostgresDB) UpsertContentRecord(ctx context.Context, r *models.ContentRecord) error {
	if r == nil {
		return fmt.Errorf("content record is nil")
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	return p.db.QueryRowContext(ctx,
		`INSERT INTO content_records (site_id, record_type, record_id, title, body, deleted, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (site_id, record_type, record_id) DO UPDATE SET
			 title = EXCLUDED.title,
			 body = EXCLUDED.body,
			 deleted = EXCLUDED.deleted,
			 updated_at = EXCLUDED.updated_at
		 RETURNING id`,
		r.SiteID, r.RecordType, r.RecordID, r.Title, r.Body, r.Deleted, r.UpdatedAt.Unix(),
	).Scan(&r.ID)
}

func (p *PostgresDB) GetContentRecord(ctx context.Context, siteID, recordType string, recordID int64) (*models.ContentRecord, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, site_id, record_type, record_id, title, body, deleted, updated_at
		 FROM content_records
		 WHERE site_id = $1 AND record_type = $2 AND record_id = $3`,
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

func (p *PostgresDB) ListContentRecords(ctx context.Context, siteID, recordType string) ([]models.ContentRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, site_id, record_type, record_id, title, body, deleted, updated_at
		 FROM content_records
		 WHERE site_id = $1 AND record_type = $2 AND deleted = FALSE
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

func (p *PostgresDB) ReplaceQueueItems(ctx context.Context, siteID, configuration, recordType string, priority int) (int64, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM index_queue_items WHERE site_id = $1 AND indexing_configuration = $2`,
		siteID, configuration,
	); err != nil {
		return 0, fmt.Errorf("delete queue items: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO index_queue_items (site_id, item_type, record_id, indexing_configuration, changed, indexed, indexing_priority, errors)
		 SELECT site_id, record_type, record_id, $1, updated_at, 0, $2, ''
		 FROM content_records
		 WHERE site_id = $3 AND record_type = $4 AND deleted = FALSE`,
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

func (p *PostgresDB) QueueStatistics(ctx context.Context, siteID, configuration string) (models.QueueStatistics, error) {
	var stats models.QueueStatistics
	err := p.db.QueryRowContext(ctx,
		`SELECT
			 COUNT(*) AS total,
			 COALESCE(SUM(CASE WHEN errors = '' AND changed > indexed THEN 1 ELSE 0 END), 0) AS pending,
			 COALESCE(SUM(CASE WHEN errors = '' AND changed <= indexed THEN 1 ELSE 0 END), 0) AS succeeded,
			 COALESCE(SUM(CASE WHEN errors <> '' THEN 1 ELSE 0 END), 0) AS failed
		 FROM index_queue_items
		 WHERE site_id = $1 AND ($2 = '' OR indexing_configuration = $2)`,
		siteID, configuration,
	).Scan(&stats.Total, &stats.Pending, &stats.Succeeded, &stats.Failed)
	if err != nil {
		return models.QueueStatistics{}, err
	}
	return stats, nil
}

func (p *PostgresDB) ListQueueErrors(ctx context.Context, siteID string) ([]models.QueueError, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, item_type, record_id, indexing_configuration, errors, changed
		 FROM index_queue_items
		 WHERE site_id = $1 AND errors <> ''
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

func (p *PostgresDB) ResetQueueErrors(ctx context.Context) (int64, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE index_queue_items SET errors = '' WHERE errors <> ''`)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func (p *PostgresDB) UpdateQueueItemChanged(ctx context.Context, itemType string, recordID, changed int64) (int64, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE index_queue_items SET changed = GREATEST($1, indexed + 1), errors = '' WHERE item_type = $2 AND record_id = $3`,
		changed, itemType, recordID,
	)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func (p *PostgresDB) GetQueueItem(ctx context.Context, id int64) (*models.IndexQueueItem, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, site_id, item_type, record_id, indexing_configuration, changed, indexed, indexing_priority, errors
		 FROM index_queue_items
		 WHERE id = $1`,
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

func (p *PostgresDB) ListPendingQueueItems(ctx context.Context, siteID string, limit int) ([]models.IndexQueueItem, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, site_id, item_type, record_id, indexing_configuration, changed, indexed, indexing_priority, errors
		 FROM index_queue_items
		 WHERE site_id = $1 AND errors = '' AND changed > indexed
		 ORDER BY indexing_priority DESC, changed ASC, id ASC
		 LIMIT $2`,
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

func (p *PostgresDB) MarkQueueItemIndexed(ctx context.Context, id, indexed int64) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE index_queue_items SET indexed = $1, errors = '' WHERE id = $2`,
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

func (p *PostgresDB) MarkQueueItemError(ctx context.Context, id int64, message string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE index_queue_items SET errors = $1 WHERE id = $2`,
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
