package database

import (
	"context"
	"database/sql"
	"time"
)

func (p *PostgresDB) IndexingQueueStats(ctx context.Context) (IndexingQueueStats, error) {
	var stats IndexingQueueStats
	var oldestPending sql.NullInt64
	err := p.db.QueryRowContext(ctx,
		`SELECT
			 COUNT(*) AS total,
			 COALESCE(SUM(CASE WHEN errors = '' AND changed > indexed THEN 1 ELSE 0 END), 0) AS pending,
			 COALESCE(SUM(CASE WHEN errors <> '' THEN 1 ELSE 0 END), 0) AS failed,
			 MIN(CASE WHEN errors = '' AND changed > indexed THEN changed END) AS oldest_pending
		 FROM index_queue_items`,
	).Scan(&stats.Total, &stats.Pending, &stats.Failed, &oldestPending)
	if err != nil {
		return IndexingQueueStats{}, err
	}
	if oldestPending.Valid {
		t := time.Unix(oldestPending.Int64, 0).UTC()
		stats.OldestPendingAt = &t
	}
	return stats, nil
}

func (p *PostgresDB) DBStats() sql.DBStats {
	return p.db.Stats()
}
