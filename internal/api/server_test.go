package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/odvcencio/indexq/internal/auth"
	"github.com/odvcencio/indexq/internal/database"
	"github.com/odvcencio/indexq/internal/indexer"
	"github.com/odvcencio/indexq/internal/models"
	"github.com/odvcencio/indexq/internal/queue"
	"github.com/odvcencio/indexq/internal/queueadmin"
	"github.com/odvcencio/indexq/internal/site"
)

const (
	testOperator = "alice"
	testPassword = "correct horse battery"
	testClientIP = "127.0.0.1:4000"
)

type stubBackend struct {
	mu      sync.Mutex
	indexed []indexer.Document
}

func (b *stubBackend) Name() string { return "primary" }

func (b *stubBackend) Index(_ context.Context, doc indexer.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.indexed = append(b.indexed, doc)
	return nil
}

func (b *stubBackend) Delete(context.Context, string) error { return nil }

func (b *stubBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.indexed)
}

type apiFixture struct {
	server   *Server
	db       *database.SQLiteDB
	registry *queue.Registry
	token    string
	backend  *stubBackend
}

func newAPIFixture(t *testing.T, opts ServerOptions) *apiFixture {
	t.Helper()

	ctx := context.Background()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	if err := db.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	authSvc := auth.NewService("test-secret-123456", 24*time.Hour, auth.Operator{Username: testOperator, PasswordHash: string(hash)})
	token, err := authSvc.GenerateToken(testOperator)
	if err != nil {
		t.Fatal(err)
	}

	backends := []site.BackendConnection{{Name: "primary", Addresses: []string{"http://localhost:9200"}, Index: "main"}}
	sites := site.NewProvider(
		site.New("main", "Main", backends, []site.IndexingConfiguration{
			{Name: "pages", Type: "pages", Queue: models.QueueImplementationDatabase, Priority: 10, Enabled: true},
			{Name: "news", Type: "news", Enabled: true},
			{Name: "archive", Type: "archive", Enabled: false},
		}),
		site.New("offline", "Offline", nil, []site.IndexingConfiguration{
			{Name: "pages", Type: "pages", Enabled: true},
		}),
	)

	registry := queue.NewRegistry()
	registry.Register(models.QueueImplementationDatabase, func() (queue.IndexQueue, error) {
		return queue.NewDatabaseQueue(db), nil
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := &stubBackend{}
	trigger := queueadmin.NewRunTrigger(indexer.NewExecutorFactory(db, registry, indexer.ServiceOptions{
		NewBackend: func(site.BackendConnection) (indexer.Backend, error) { return backend, nil },
		Logger:     logger,
	}), nil, logger)

	if opts.Logger == nil {
		opts.Logger = logger
	}
	server := NewServer(Dependencies{
		DB:      db,
		Auth:    authSvc,
		Sites:   sites,
		Queues:  registry,
		Facade:  queueadmin.NewFacade(queueadmin.FacadeOptions{Logger: logger}),
		Trigger: trigger,
	}, opts)
	return &apiFixture{server: server, db: db, registry: registry, token: token, backend: backend}
}

func (f *apiFixture) seed(t *testing.T, recordType string, uids ...int64) {
	t.Helper()
	f.seedSite(t, "main", recordType, uids...)
}

func (f *apiFixture) seedSite(t *testing.T, siteID, recordType string, uids ...int64) {
	t.Helper()
	for _, uid := range uids {
		record := &models.ContentRecord{
			SiteID:     siteID,
			RecordType: recordType,
			RecordID:   uid,
			Title:      recordType + " record",
			UpdatedAt:  time.Unix(1_700_000_000+uid, 0),
		}
		if err := f.db.UpsertContentRecord(context.Background(), record); err != nil {
			t.Fatalf("seed %s:%d: %v", recordType, uid, err)
		}
	}
}

// do sends an authenticated request from an allowlisted address.
func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = testClientIP
	req.Header.Set("Authorization", "Bearer "+f.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp := httptest.NewRecorder()
	f.server.ServeHTTP(resp, req)
	return resp
}

func decodeBody[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", resp.Body.String(), err)
	}
	return out
}

func TestHealthzIsPublic(t *testing.T) {
	f := newAPIFixture(t, ServerOptions{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp := httptest.NewRecorder()
	f.server.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
}

func TestRequestIDIsAssignedOrPropagated(t *testing.T) {
	f := newAPIFixture(t, ServerOptions{})

	resp := httptest.NewRecorder()
	f.server.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if got := resp.Header().Get(requestIDHeader); len(got) != 36 {
		t.Fatalf("expected generated request id, got %q", got)
	}

	const inbound = "7f8a4c2e-0d1b-4a36-9c57-3c1f9e6b2a10"
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, inbound)
	resp = httptest.NewRecorder()
	f.server.ServeHTTP(resp, req)
	if got := resp.Header().Get(requestIDHeader); got != inbound {
		t.Fatalf("expected request id %q, got %q", inbound, got)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "not a uuid")
	resp = httptest.NewRecorder()
	f.server.ServeHTTP(resp, req)
	if got := resp.Header().Get(requestIDHeader); got == "not a uuid" {
		t.Fatal("expected malformed request id to be replaced")
	}
}

func TestLogin(t *testing.T) {
	f := newAPIFixture(t, ServerOptions{})

	login := func(password string) *httptest.ResponseRecorder {
		raw, _ := json.Marshal(loginRequest{Username: testOperator, Password: password})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(raw))
		resp := httptest.NewRecorder()
		f.server.ServeHTTP(resp, req)
		return resp
	}

	resp := login(testPassword)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	body := decodeBody[loginResponse](t, resp)
	if body.Token == "" || body.Operator != testOperator {
		t.Fatalf("unexpected login response %+v", body)
	}

	resp = login("wrong")
	assertJSONError(t, resp, http.StatusUnauthorized, "invalid credentials")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader([]byte(`{"username":"alice"}`)))
	resp = httptest.NewRecorder()
	f.server.ServeHTTP(resp, req)
	assertJSONError(t, resp, http.StatusBadRequest, "username and password are required")
}
