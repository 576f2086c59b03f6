package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/odvcencio/indexq/internal/database"
	"github.com/odvcencio/indexq/internal/indexer"
	"github.com/odvcencio/indexq/internal/models"
	"github.com/odvcencio/indexq/internal/site"
)

const queueHealthTimeout = 5 * time.Second

type indexingQueueStatsProvider interface {
	IndexingQueueStats(ctx context.Context) (database.IndexingQueueStats, error)
}

type dbStatsProvider interface {
	DBStats() sql.DBStats
}

type schedulerStatus interface {
	Sites() []*site.Site
}

type backendHealth interface {
	Check(ctx context.Context) []indexer.BackendStatus
}

// queueCatalog is implemented by factories that can list what they construct.
type queueCatalog interface {
	IDs() []models.QueueImplementationID
}

type queueHealthChecker interface {
	Healthcheck(ctx context.Context) error
}

type adminHealthResponse struct {
	Status    string                  `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Queue     adminHealthQueue        `json:"queue"`
	Scheduler adminHealthScheduler    `json:"scheduler"`
	Database  adminHealthDatabase     `json:"database"`
	Backends  []indexer.BackendStatus `json:"backends,omitempty"`
	Queues    []adminHealthQueueImpl  `json:"queues,omitempty"`
	Errors    []string                `json:"errors,omitempty"`
}

type adminHealthQueueImpl struct {
	ID      models.QueueImplementationID `json:"id"`
	Healthy bool                         `json:"healthy"`
	Error   string                       `json:"error,omitempty"`
}

type adminHealthQueue struct {
	Total                  int64   `json:"total"`
	Pending                int64   `json:"pending"`
	Failed                 int64   `json:"failed"`
	OldestPendingAgeSecond float64 `json:"oldest_pending_age_seconds"`
}

type adminHealthScheduler struct {
	Enabled bool     `json:"enabled"`
	Sites   []string `json:"sites,omitempty"`
}

type adminHealthDatabase struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
	WaitDurationMS  int64 `json:"wait_duration_ms"`
	MaxIdleClosed   int64 `json:"max_idle_closed"`
	MaxLifetime     int64 `json:"max_lifetime_closed"`
	MaxIdleTime     int64 `json:"max_idle_time_closed"`
}

func (s *Server) handleAdminHealth(w http.ResponseWriter, r *http.Request) {
	resp := adminHealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
	}

	if s.opts.Scheduler != nil {
		resp.Scheduler.Enabled = true
		for _, st := range s.opts.Scheduler.Sites() {
			resp.Scheduler.Sites = append(resp.Scheduler.Sites, st.ID)
		}
	}

	if queueProvider, ok := s.db.(indexingQueueStatsProvider); ok {
		stats, err := queueProvider.IndexingQueueStats(r.Context())
		if err != nil {
			s.logger.Warn("admin health: indexing queue stats", "error", err)
			resp.Errors = append(resp.Errors, "indexing_queue_stats")
		} else {
			resp.Queue.Total = stats.Total
			resp.Queue.Pending = stats.Pending
			resp.Queue.Failed = stats.Failed
			if stats.OldestPendingAt != nil {
				age := time.Since(stats.OldestPendingAt.UTC()).Seconds()
				if age < 0 {
					age = 0
				}
				resp.Queue.OldestPendingAgeSecond = age
			}
		}
	}

	if poolProvider, ok := s.db.(dbStatsProvider); ok {
		stats := poolProvider.DBStats()
		resp.Database = adminHealthDatabase{
			OpenConnections: stats.OpenConnections,
			InUse:           stats.InUse,
			Idle:            stats.Idle,
			WaitCount:       stats.WaitCount,
			WaitDurationMS:  stats.WaitDuration.Milliseconds(),
			MaxIdleClosed:   stats.MaxIdleClosed,
			MaxLifetime:     stats.MaxLifetimeClosed,
			MaxIdleTime:     stats.MaxIdleTimeClosed,
		}
	}

	if s.opts.Backends != nil {
		resp.Backends = s.opts.Backends.Check(r.Context())
		for _, b := range resp.Backends {
			if !b.Healthy {
				resp.Errors = append(resp.Errors, "backend:"+b.Site+"/"+b.Backend)
			}
		}
	}

	resp.Queues = s.queueHealth(r.Context())
	for _, q := range resp.Queues {
		if !q.Healthy {
			resp.Errors = append(resp.Errors, "queue:"+string(q.ID))
		}
	}

	if len(resp.Errors) > 0 {
		resp.Status = "degraded"
		jsonResponse(w, http.StatusServiceUnavailable, resp)
		return
	}
	jsonResponse(w, http.StatusOK, resp)
}

// queueHealth constructs every registered queue implementation and checks the ones that can
// reach their store.
func (s *Server) queueHealth(ctx context.Context) []adminHealthQueueImpl {
	catalog, ok := s.queues.(queueCatalog)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, queueHealthTimeout)
	defer cancel()

	ids := catalog.IDs()
	out := make([]adminHealthQueueImpl, 0, len(ids))
	for _, id := range ids {
		status := adminHealthQueueImpl{ID: id, Healthy: true}
		q, err := s.queues.New(id)
		if err == nil {
			if checker, ok := q.(queueHealthChecker); ok {
				err = checker.Healthcheck(ctx)
			}
		}
		if err != nil {
			s.logger.Warn("admin health: queue check", "queue", id, "error", err)
			status.Healthy = false
			status.Error = err.Error()
		}
		out = append(out, status)
	}
	return out
}
