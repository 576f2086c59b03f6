package indexer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/indexq/internal/site"
)

func TestBackendMonitorChecksEveryConnection(t *testing.T) {
	healthy := httptest.NewServer(&fakeCluster{})
	t.Cleanup(healthy.Close)
	failing := httptest.NewServer(&fakeCluster{status: http.StatusInternalServerError})
	t.Cleanup(failing.Close)

	sites := []*site.Site{
		site.New("main", "Main", []site.BackendConnection{
			{Name: "primary", Addresses: []string{healthy.URL}, Index: "main"},
			{Name: "replica", Addresses: []string{failing.URL}, Index: "main", MaxRetries: 1},
		}, nil),
		site.New("offline", "Offline", nil, nil),
		site.New("docs", "Docs", []site.BackendConnection{{Name: "broken", Addresses: []string{healthy.URL}}}, nil),
	}

	statuses := NewBackendMonitor(sites, nil, time.Second).Check(context.Background())
	require.Len(t, statuses, 3)

	assert.Equal(t, BackendStatus{Site: "main", Backend: "primary", Healthy: true, Checked: true}, statuses[0])

	assert.Equal(t, "replica", statuses[1].Backend)
	assert.False(t, statuses[1].Healthy)
	assert.True(t, statuses[1].Checked)
	assert.Contains(t, statuses[1].Error, ErrHealthcheckFailed.Error())

	assert.Equal(t, "docs", statuses[2].Site)
	assert.False(t, statuses[2].Healthy)
	assert.False(t, statuses[2].Checked)
	assert.Contains(t, statuses[2].Error, "has no index")
}

type silentBackend struct{}

func (silentBackend) Name() string                          { return "silent" }
func (silentBackend) Index(context.Context, Document) error { return nil }
func (silentBackend) Delete(context.Context, string) error  { return nil }

type flakyBackend struct {
	silentBackend
	err error
}

func (b flakyBackend) Healthcheck(context.Context) error { return b.err }

func TestBackendMonitorUsesFactory(t *testing.T) {
	conns := []site.BackendConnection{{Name: "silent"}, {Name: "flaky"}}
	s := site.New("main", "Main", conns, nil)
	factory := func(conn site.BackendConnection) (Backend, error) {
		if conn.Name == "flaky" {
			return flakyBackend{err: errors.New("cluster red")}, nil
		}
		return silentBackend{}, nil
	}

	statuses := NewBackendMonitor([]*site.Site{s}, factory, 0).Check(context.Background())
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Healthy)
	assert.False(t, statuses[0].Checked)
	assert.False(t, statuses[1].Healthy)
	assert.Equal(t, "cluster red", statuses[1].Error)
}
