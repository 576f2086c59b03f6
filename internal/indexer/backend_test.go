package indexer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/indexq/internal/site"
)

type fakeCluster struct {
	mu       sync.Mutex
	requests []string
	bodies   []Document
	status   int
}

func (c *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, r.Method+" "+r.URL.Path)
	if r.Method == http.MethodPut || r.Method == http.MethodPost {
		var doc Document
		if err := json.NewDecoder(r.Body).Decode(&doc); err == nil {
			c.bodies = append(c.bodies, doc)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"result":"ok"}`))
}

func newTestBackend(t *testing.T, cluster *fakeCluster) Backend {
	t.Helper()
	srv := httptest.NewServer(cluster)
	t.Cleanup(srv.Close)
	b, err := NewOpenSearchBackend(site.BackendConnection{Name: "primary", Addresses: []string{srv.URL}, Index: "main"})
	require.NoError(t, err)
	return b
}

func TestOpenSearchBackendIndex(t *testing.T) {
	cluster := &fakeCluster{}
	b := newTestBackend(t, cluster)

	doc := Document{ID: "pages-1", Site: "main", Type: "pages", UID: 1, Title: "Home", Changed: time.Unix(10, 0).UTC()}
	require.NoError(t, b.Index(context.Background(), doc))

	require.Len(t, cluster.requests, 1)
	assert.Contains(t, cluster.requests[0], "/main/_doc/pages-1")
	require.Len(t, cluster.bodies, 1)
	assert.Equal(t, "Home", cluster.bodies[0].Title)
	assert.Equal(t, "primary", b.Name())
}

func TestOpenSearchBackendIndexRejected(t *testing.T) {
	cluster := &fakeCluster{status: http.StatusBadRequest}
	b := newTestBackend(t, cluster)

	err := b.Index(context.Background(), Document{ID: "pages-1"})
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Contains(t, err.Error(), "status 400")
}

func TestOpenSearchBackendDeleteMissingIsNotAnError(t *testing.T) {
	cluster := &fakeCluster{status: http.StatusNotFound}
	b := newTestBackend(t, cluster)

	require.NoError(t, b.Delete(context.Background(), "pages-9"))
	require.Len(t, cluster.requests, 1)
	assert.Equal(t, "DELETE /main/_doc/pages-9", cluster.requests[0])
}

func TestNewOpenSearchBackendValidatesConnection(t *testing.T) {
	_, err := NewOpenSearchBackend(site.BackendConnection{Name: "primary", Index: "main"})
	assert.ErrorIs(t, err, ErrConnectionFailed)

	_, err = NewOpenSearchBackend(site.BackendConnection{Name: "primary", Addresses: []string{"http://localhost:9200"}})
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestOpenSearchBackendHealthcheck(t *testing.T) {
	cluster := &fakeCluster{}
	b := newTestBackend(t, cluster).(*OpenSearchBackend)
	require.NoError(t, b.Healthcheck(context.Background()))
}
