package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/odvcencio/indexq/internal/config"
	"github.com/odvcencio/indexq/internal/models"
	"github.com/odvcencio/indexq/internal/queue"
	"github.com/odvcencio/indexq/internal/site"
)

func TestTrustedProxyCIDRsUsesConfiguredList(t *testing.T) {
	cfg := config.Default()
	cfg.Server.TrustedProxies = []string{"10.0.0.0/8"}
	cfg.Server.TrustProxy = true

	got := trustedProxyCIDRs(cfg)
	if len(got) != 1 {
		t.Fatalf("trustedProxyCIDRs length = %d, want 1", len(got))
	}
	if got[0] != "10.0.0.0/8" {
		t.Fatalf("trustedProxyCIDRs[0] = %q, want %q", got[0], "10.0.0.0/8")
	}
}

func TestTrustedProxyCIDRsUsesTrustAllFallback(t *testing.T) {
	cfg := config.Default()
	cfg.Server.TrustProxy = true

	got := trustedProxyCIDRs(cfg)
	if len(got) != 2 {
		t.Fatalf("trustedProxyCIDRs length = %d, want 2", len(got))
	}
	if got[0] != "0.0.0.0/0" {
		t.Fatalf("trustedProxyCIDRs[0] = %q, want %q", got[0], "0.0.0.0/0")
	}
	if got[1] != "::/0" {
		t.Fatalf("trustedProxyCIDRs[1] = %q, want %q", got[1], "::/0")
	}
}

func TestTrustedProxyCIDRsEmptyByDefault(t *testing.T) {
	if got := trustedProxyCIDRs(config.Default()); got != nil {
		t.Fatalf("trustedProxyCIDRs = %v, want nil", got)
	}
}

func TestReadRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.yaml")
	data := `records:
  - site: main
    type: pages
    uid: 1
    title: Home
    body: Welcome
  - site: main
    type: news
    uid: 7
    deleted: true
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	records, err := readRecords(path)
	if err != nil {
		t.Fatalf("readRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Title != "Home" || records[0].RecordType != "pages" || records[0].RecordID != 1 {
		t.Fatalf("unexpected first record %+v", records[0])
	}
	if !records[1].Deleted {
		t.Fatal("expected second record to be deleted")
	}
}

func TestReadRecordsRejectsIncompleteRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.yaml")
	if err := os.WriteFile(path, []byte("records:\n  - site: main\n    uid: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := readRecords(path); err == nil {
		t.Fatal("expected error for record without type")
	}
}

func TestOperatorsAndHasOperator(t *testing.T) {
	cfg := config.Default()
	cfg.Operators = []config.OperatorConfig{{Username: " alice ", PasswordHash: "hash"}}

	ops := operators(cfg)
	if len(ops) != 1 || ops[0].Username != "alice" {
		t.Fatalf("unexpected operators %+v", ops)
	}
	if !hasOperator(cfg, "alice") {
		t.Fatal("expected alice to be an operator")
	}
	if hasOperator(cfg, "") || hasOperator(cfg, "bob") {
		t.Fatal("expected unknown operators to be rejected")
	}
}

func TestCheckQueueImplementations(t *testing.T) {
	registry := queue.NewRegistry()
	registry.Register(models.QueueImplementationDatabase, func() (queue.IndexQueue, error) {
		return queue.NewDatabaseQueue(nil), nil
	})
	pages := site.IndexingConfiguration{Name: "pages", Type: "pages", Enabled: true}
	news := site.IndexingConfiguration{Name: "news", Type: "news", Queue: models.QueueImplementationRedis, Enabled: true}

	if err := checkQueueImplementations([]*site.Site{site.New("main", "Main", nil, []site.IndexingConfiguration{pages})}, registry); err != nil {
		t.Fatalf("checkQueueImplementations: %v", err)
	}

	disabled := news
	disabled.Enabled = false
	if err := checkQueueImplementations([]*site.Site{site.New("main", "Main", nil, []site.IndexingConfiguration{pages, disabled})}, registry); err != nil {
		t.Fatalf("disabled configuration should not be checked: %v", err)
	}

	err := checkQueueImplementations([]*site.Site{site.New("main", "Main", nil, []site.IndexingConfiguration{pages, news})}, registry)
	if !errors.Is(err, queue.ErrUnknownImplementation) {
		t.Fatalf("checkQueueImplementations = %v, want ErrUnknownImplementation", err)
	}
	if !strings.Contains(err.Error(), "configuration news") {
		t.Fatalf("error %q should name the configuration", err)
	}
}
