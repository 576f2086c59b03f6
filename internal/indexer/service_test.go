package indexer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/indexq/internal/database"
	"github.com/odvcencio/indexq/internal/models"
	"github.com/odvcencio/indexq/internal/queue"
	"github.com/odvcencio/indexq/internal/site"
)

type recordingBackend struct {
	mu      sync.Mutex
	name    string
	failIDs map[string]error
	indexed []Document
	deleted []string
}

func (b *recordingBackend) Name() string { return b.name }

func (b *recordingBackend) Index(_ context.Context, doc Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failIDs[doc.ID]; err != nil {
		return err
	}
	b.indexed = append(b.indexed, doc)
	return nil
}

func (b *recordingBackend) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, id)
	return nil
}

type indexerFixture struct {
	db      database.DB
	queue   *queue.DatabaseQueue
	site    *site.Site
	backend *recordingBackend
}

func newIndexerFixture(t *testing.T) *indexerFixture {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "indexer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	s := site.New("main", "Main",
		[]site.BackendConnection{{Name: "primary", Addresses: []string{"http://localhost:9200"}, Index: "main"}},
		[]site.IndexingConfiguration{{Name: "pages", Type: "pages", Enabled: true}},
	)
	return &indexerFixture{
		db:      db,
		queue:   queue.NewDatabaseQueue(db),
		site:    s,
		backend: &recordingBackend{name: "primary", failIDs: map[string]error{}},
	}
}

func (f *indexerFixture) seed(t *testing.T, ids ...int64) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		require.NoError(t, f.db.UpsertContentRecord(ctx, &models.ContentRecord{
			SiteID:     "main",
			RecordType: "pages",
			RecordID:   id,
			Title:      "Page",
			Body:       "body",
			UpdatedAt:  time.Unix(1_700_000_000+id, 0),
		}))
	}
	_, err := f.queue.Initializer().InitializeByConfigurations(ctx, f.site, []string{"pages"})
	require.NoError(t, err)
}

func (f *indexerFixture) service(t *testing.T, opts ServiceOptions) *Service {
	t.Helper()
	opts.NewBackend = func(site.BackendConnection) (Backend, error) { return f.backend, nil }
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Unix(1_800_000_000, 0) }
	}
	svc, err := NewService(f.site, f.db, []queue.Consumer{f.queue}, opts)
	require.NoError(t, err)
	return svc
}

func TestServiceIndexesPendingItems(t *testing.T) {
	f := newIndexerFixture(t)
	f.seed(t, 1, 2, 3)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	svc := f.service(t, ServiceOptions{Metrics: metrics})

	ok, err := svc.IndexItems(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, f.backend.indexed, 2)
	assert.Equal(t, "pages-1", f.backend.indexed[0].ID)
	assert.Equal(t, "Page", f.backend.indexed[0].Title)

	stats, err := f.queue.Statistics(context.Background(), f.site, "pages")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Succeeded)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.items.WithLabelValues("main", resultIndexed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.passes.WithLabelValues("main", "success")))
}

func TestServiceStoresTransmissionErrors(t *testing.T) {
	f := newIndexerFixture(t)
	f.seed(t, 1, 2)
	f.backend.failIDs["pages-2"] = errors.New("mapper_parsing_exception")
	svc := f.service(t, ServiceOptions{})

	ok, err := svc.IndexItems(context.Background(), 10)
	require.NoError(t, err)
	assert.False(t, ok)

	errs, err := f.queue.Errors(context.Background(), f.site)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, int64(2), errs[0].RecordID)
	assert.Contains(t, errs[0].Message, "mapper_parsing_exception")
}

func TestServiceDeletesRemovedRecords(t *testing.T) {
	f := newIndexerFixture(t)
	f.seed(t, 1)
	ctx := context.Background()
	require.NoError(t, f.db.UpsertContentRecord(ctx, &models.ContentRecord{
		SiteID: "main", RecordType: "pages", RecordID: 1, Deleted: true, UpdatedAt: time.Unix(1_700_000_500, 0),
	}))
	svc := f.service(t, ServiceOptions{})

	ok, err := svc.IndexItems(ctx, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"pages-1"}, f.backend.deleted)
	assert.Empty(t, f.backend.indexed)
}

func TestServiceRateLimitHonorsContext(t *testing.T) {
	f := newIndexerFixture(t)
	f.seed(t, 1, 2, 3)
	svc := f.service(t, ServiceOptions{DocumentsPerSecond: 0.001})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	ok, err := svc.IndexItems(ctx, 3)
	assert.False(t, ok)
	assert.Error(t, err)
	assert.Len(t, f.backend.indexed, 1)
}

func TestNewServiceRequiresBackends(t *testing.T) {
	s := site.New("main", "Main", nil, []site.IndexingConfiguration{{Name: "pages", Type: "pages", Enabled: true}})
	_, err := NewService(s, nil, nil, ServiceOptions{})
	assert.ErrorIs(t, err, ErrNoBackends)

	_, err = NewService(nil, nil, nil, ServiceOptions{})
	assert.ErrorIs(t, err, queue.ErrNoSite)
}

func TestConsumersResolveSiteQueues(t *testing.T) {
	f := newIndexerFixture(t)
	registry := queue.NewRegistry()
	registry.Register(models.QueueImplementationDatabase, func() (queue.IndexQueue, error) { return f.queue, nil })

	consumers, err := Consumers(f.site, registry)
	require.NoError(t, err)
	require.Len(t, consumers, 1)
	assert.Same(t, f.queue, consumers[0])

	factory := NewExecutorFactory(f.db, registry, ServiceOptions{
		NewBackend: func(site.BackendConnection) (Backend, error) { return f.backend, nil },
	})
	exec, err := factory(f.site)
	require.NoError(t, err)
	ok, err := exec.IndexItems(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, ok)
}
