package site

import (
	"errors"
	"testing"

	"github.com/odvcencio/indexq/internal/config"
	"github.com/odvcencio/indexq/internal/models"
)

func testSiteConfig() config.SiteConfig {
	return config.SiteConfig{
		ID:   "main",
		Name: "Main",
		Backends: []config.BackendConfig{
			{Name: "default", Addresses: []string{"http://localhost:9200"}},
		},
		Configurations: []config.SiteIndexConfig{
			{Name: "pages", Type: "pages"},
			{Name: "archive", Type: "archive", Disabled: true},
			{Name: "news", Type: "news", Queue: "redis", Priority: 3},
		},
	}
}

func TestEnabledConfigurationNamesKeepsOrder(t *testing.T) {
	s := FromConfig(testSiteConfig())

	got := s.EnabledConfigurationNames()
	if len(got) != 2 || got[0] != "pages" || got[1] != "news" {
		t.Fatalf("EnabledConfigurationNames() = %v, want [pages news]", got)
	}
}

func TestQueueImplementation(t *testing.T) {
	s := FromConfig(testSiteConfig())

	id, err := s.QueueImplementation("pages")
	if err != nil {
		t.Fatal(err)
	}
	if id != models.QueueImplementationDatabase {
		t.Fatalf("pages queue = %q, want database default", id)
	}

	id, err = s.QueueImplementation("news")
	if err != nil {
		t.Fatal(err)
	}
	if id != models.QueueImplementationRedis {
		t.Fatalf("news queue = %q, want redis", id)
	}

	if _, err := s.QueueImplementation("missing"); !errors.Is(err, ErrUnknownConfiguration) {
		t.Fatalf("missing configuration error = %v, want ErrUnknownConfiguration", err)
	}
}

func TestFromConfigDefaultsBackendIndexToSiteID(t *testing.T) {
	s := FromConfig(testSiteConfig())

	backends := s.BackendConnections()
	if len(backends) != 1 {
		t.Fatalf("len(BackendConnections()) = %d, want 1", len(backends))
	}
	if backends[0].Index != "main" {
		t.Fatalf("backend index = %q, want %q", backends[0].Index, "main")
	}
}

func TestNilSiteIsEmpty(t *testing.T) {
	var s *Site
	if names := s.EnabledConfigurationNames(); len(names) != 0 {
		t.Fatalf("nil site names = %v", names)
	}
	if backends := s.BackendConnections(); len(backends) != 0 {
		t.Fatalf("nil site backends = %v", backends)
	}
}

func TestProvider(t *testing.T) {
	cfg := config.Default()
	second := testSiteConfig()
	second.ID = "blog"
	cfg.Sites = []config.SiteConfig{testSiteConfig(), second}

	p := NewProviderFromConfig(cfg)
	all := p.All()
	if len(all) != 2 || all[0].ID != "main" || all[1].ID != "blog" {
		t.Fatalf("All() returned unexpected order")
	}
	if _, err := p.Get("blog"); err != nil {
		t.Fatalf("Get(blog): %v", err)
	}
	if _, err := p.Get("nope"); !errors.Is(err, ErrSiteNotFound) {
		t.Fatalf("Get(nope) error = %v, want ErrSiteNotFound", err)
	}
}
