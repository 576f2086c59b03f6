package indexer

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/indexq/internal/site"
)

const (
	defaultHealthTimeout = 5 * time.Second
	healthCheckWorkers   = 4
)

// HealthChecker is implemented by backends that can tell whether their cluster answers.
type HealthChecker interface {
	Healthcheck(ctx context.Context) error
}

// BackendStatus is the outcome of checking one backend connection of a site.
type BackendStatus struct {
	Site    string `json:"site"`
	Backend string `json:"backend"`
	Healthy bool   `json:"healthy"`
	Checked bool   `json:"checked"`
	Error   string `json:"error,omitempty"`
}

// BackendMonitor checks the search backends of a fixed set of sites.
type BackendMonitor struct {
	sites      []*site.Site
	newBackend BackendFactory
	timeout    time.Duration
}

// NewBackendMonitor uses NewOpenSearchBackend when newBackend is nil.
func NewBackendMonitor(sites []*site.Site, newBackend BackendFactory, timeout time.Duration) *BackendMonitor {
	if newBackend == nil {
		newBackend = NewOpenSearchBackend
	}
	if timeout <= 0 {
		timeout = defaultHealthTimeout
	}
	return &BackendMonitor{sites: sites, newBackend: newBackend, timeout: timeout}
}

// Check returns one status per backend connection, in site then connection order. Backends
// without a healthcheck are reported healthy but unchecked.
func (m *BackendMonitor) Check(ctx context.Context) []BackendStatus {
	type target struct {
		site string
		conn site.BackendConnection
	}
	var targets []target
	for _, s := range m.sites {
		for _, conn := range s.BackendConnections() {
			targets = append(targets, target{site: s.ID, conn: conn})
		}
	}

	out := make([]BackendStatus, len(targets))
	var g errgroup.Group
	g.SetLimit(healthCheckWorkers)
	for i, t := range targets {
		g.Go(func() error {
			out[i] = m.checkOne(ctx, t.site, t.conn)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (m *BackendMonitor) checkOne(ctx context.Context, siteID string, conn site.BackendConnection) BackendStatus {
	status := BackendStatus{Site: siteID, Backend: conn.Name}
	backend, err := m.newBackend(conn)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	checker, ok := backend.(HealthChecker)
	if !ok {
		status.Healthy = true
		return status
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	status.Checked = true
	if err := checker.Healthcheck(ctx); err != nil {
		status.Error = err.Error()
		return status
	}
	status.Healthy = true
	return status
}
