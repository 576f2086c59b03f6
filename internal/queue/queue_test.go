package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/indexq/internal/database"
	"github.com/odvcencio/indexq/internal/models"
	"github.com/odvcencio/indexq/internal/site"
)

func openTestDB(t *testing.T) database.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func testSite() *site.Site {
	return site.New("main", "Main", []site.BackendConnection{{Name: "primary", Addresses: []string{"http://localhost:9200"}, Index: "main"}}, []site.IndexingConfiguration{
		{Name: "pages", Type: "pages", Enabled: true},
		{Name: "news", Type: "news", Priority: 5, Enabled: true},
	})
}

func seed(t *testing.T, db database.DB, recordType string, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, db.UpsertContentRecord(context.Background(), &models.ContentRecord{
			SiteID:     "main",
			RecordType: recordType,
			RecordID:   id,
			Title:      "record",
			UpdatedAt:  time.Unix(1_700_000_000, 0),
		}))
	}
}

func TestRegistryNew(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.Register(models.QueueImplementationDatabase, func() (IndexQueue, error) {
		calls++
		return NewDatabaseQueue(nil), nil
	})

	q, err := r.New(models.QueueImplementationDatabase)
	require.NoError(t, err)
	assert.Equal(t, models.QueueImplementationDatabase, q.ImplementationID())
	assert.Equal(t, 1, calls)
	assert.True(t, r.Has(models.QueueImplementationDatabase))
	assert.Equal(t, []models.QueueImplementationID{models.QueueImplementationDatabase}, r.IDs())

	_, err = r.New("solr")
	assert.ErrorIs(t, err, ErrUnknownImplementation)
}

func TestRegistryConstructorError(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("no connection")
	r.Register(models.QueueImplementationRedis, func() (IndexQueue, error) { return nil, boom })

	_, err := r.New(models.QueueImplementationRedis)
	assert.ErrorIs(t, err, boom)
}

func TestDatabaseQueueInitializeAndStatistics(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, "pages", 1, 2, 3)
	seed(t, db, "news", 7)
	q := NewDatabaseQueue(db)
	s := testSite()
	ctx := context.Background()

	statuses, err := q.Initializer().InitializeByConfigurations(ctx, s, []string{"pages", "news"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"pages": true, "news": true}, statuses)

	stats, err := q.Statistics(ctx, s, "pages")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(3), stats.Pending)

	all, err := q.Statistics(ctx, s, "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), all.Total)

	pending, err := q.Pending(ctx, s, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "news", pending[0].IndexingConfiguration)
}

func TestDatabaseQueueInitializeUnknownConfiguration(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, "pages", 1)
	q := NewDatabaseQueue(db)

	statuses, err := q.Initializer().InitializeByConfigurations(context.Background(), testSite(), []string{"events", "pages"})
	require.Error(t, err)
	assert.Equal(t, map[string]bool{"events": false, "pages": true}, statuses)

	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "events", initErr.Configuration)
	assert.Equal(t, CodeUnknownConfiguration, initErr.ErrorCode())
	assert.ErrorIs(t, err, site.ErrUnknownConfiguration)
}

func TestDatabaseQueueErrorsResetAndRequeue(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, "pages", 1, 2)
	q := NewDatabaseQueue(db)
	s := testSite()
	ctx := context.Background()

	_, err := q.Initializer().InitializeByConfigurations(ctx, s, []string{"pages"})
	require.NoError(t, err)
	pending, err := q.Pending(ctx, s, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, q.MarkFailed(ctx, pending[0].ID, "backend rejected document"))
	require.NoError(t, q.MarkIndexed(ctx, pending[1].ID, time.Unix(1_800_000_000, 0)))

	errs, err := q.Errors(ctx, s)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "backend rejected document", errs[0].Message)

	cleared, err := q.ResetAllErrors(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleared)

	now := time.Unix(1_900_000_000, 0)
	affected, err := q.UpdateItem(ctx, "pages", pending[1].RecordID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	item, err := q.Item(ctx, pending[1].ID)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, now.Unix(), item.Changed)
	assert.True(t, item.IsPending())

	affected, err = q.UpdateItem(ctx, "pages", 404, now)
	require.NoError(t, err)
	assert.Zero(t, affected)

	missing, err := q.Item(ctx, 99999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDatabaseQueueRequiresSite(t *testing.T) {
	q := NewDatabaseQueue(openTestDB(t))
	_, err := q.Statistics(context.Background(), nil, "")
	assert.ErrorIs(t, err, ErrNoSite)
	_, err = q.Errors(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoSite)
}
