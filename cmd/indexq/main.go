package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/odvcencio/indexq/internal/api"
	"github.com/odvcencio/indexq/internal/auth"
	"github.com/odvcencio/indexq/internal/config"
	"github.com/odvcencio/indexq/internal/database"
	"github.com/odvcencio/indexq/internal/indexer"
	"github.com/odvcencio/indexq/internal/models"
	"github.com/odvcencio/indexq/internal/queue"
	"github.com/odvcencio/indexq/internal/queueadmin"
	"github.com/odvcencio/indexq/internal/site"
)

const usage = `Usage: indexq <command> [flags]

Commands:
  serve          Start the admin API (and the indexing scheduler when enabled)
  migrate        Run database migrations
  index          Run one incremental indexing pass for a site
  ingest         Upsert content records from a YAML file
  token          Issue an operator token
  hash-password  Print a bcrypt hash for an operator password
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	var err error
	switch os.Args[1] {
	case "serve":
		err = cmdServe(os.Args[2:])
	case "migrate":
		err = cmdMigrate(os.Args[2:])
	case "index":
		err = cmdIndex(os.Args[2:])
	case "ingest":
		err = cmdIngest(os.Args[2:])
	case "token":
		err = cmdToken(os.Args[2:])
	case "hash-password":
		err = cmdHashPassword(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
	if err != nil {
		slog.Error(os.Args[1]+" failed", "error", err)
		os.Exit(1)
	}
}

// app holds the services every command shares.
type app struct {
	cfg      *config.Config
	db       database.DB
	sites    *site.Provider
	registry *queue.Registry
	closers  []func() error
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a := &app{
		cfg:     cfg,
		db:      db,
		sites:   site.NewProviderFromConfig(cfg),
		closers: []func() error{db.Close},
	}
	a.registry, err = newQueueRegistry(ctx, cfg, db, a)
	if err == nil {
		err = checkQueueImplementations(a.sites.All(), a.registry)
	}
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close resource", "error", err)
		}
	}
}

// newQueueRegistry registers the database queue and, when a redis url is configured, the redis
// queue.
func newQueueRegistry(ctx context.Context, cfg *config.Config, db database.DB, a *app) (*queue.Registry, error) {
	registry := queue.NewRegistry()
	registry.Register(models.QueueImplementationDatabase, func() (queue.IndexQueue, error) {
		return queue.NewDatabaseQueue(db), nil
	})

	if url := strings.TrimSpace(cfg.Redis.URL); url != "" {
		client, err := queue.ConnectRedis(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		prefix := cfg.Redis.Prefix
		registry.Register(models.QueueImplementationRedis, func() (queue.IndexQueue, error) {
			return queue.NewRedisQueue(client, db, prefix), nil
		})
	}
	return registry, nil
}

// checkQueueImplementations fails when an enabled configuration names a queue that nothing
// registered.
func checkQueueImplementations(sites []*site.Site, registry *queue.Registry) error {
	for _, s := range sites {
		for _, name := range s.EnabledConfigurationNames() {
			id, err := s.QueueImplementation(name)
			if err != nil {
				return err
			}
			if !registry.Has(id) {
				return fmt.Errorf("site %s: configuration %s: %w: %q", s.ID, name, queue.ErrUnknownImplementation, id)
			}
		}
	}
	return nil
}

func (a *app) executorFactory(metrics *indexer.Metrics) queueadmin.ExecutorFactory {
	return indexer.NewExecutorFactory(a.db, a.registry, indexer.ServiceOptions{
		DocumentsPerSecond: a.cfg.Indexing.DocumentsPerSecond,
		Metrics:            metrics,
		Logger:             slog.Default(),
	})
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	traceShutdown, err := initTracing(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := traceShutdown(shutdownCtx); err != nil {
			slog.Error("shutdown tracing", "error", err)
		}
	}()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	logger := slog.Default()
	adminMetrics := queueadmin.NewMetrics(prometheus.DefaultRegisterer)
	executors := a.executorFactory(indexer.DefaultMetrics())

	var scheduler *indexer.Scheduler
	opts := api.ServerOptions{
		EnableAdminHealth: cfg.Server.EnableAdminHealth,
		EnablePprof:       cfg.Server.EnablePprof,
		AdminAllowedCIDRs: cfg.Server.AdminAllowedCIDRs,
		TrustedProxies:    trustedProxyCIDRs(cfg),
		RunBatchSize:      cfg.Indexing.BatchSize,
		Backends:          indexer.NewBackendMonitor(a.sites.All(), nil, 0),
		Logger:            logger,
	}
	if cfg.Indexing.Scheduler.Enabled {
		scheduler = indexer.NewScheduler(a.sites.All(), executors, indexer.SchedulerOptions{
			Interval:  cfg.SchedulerInterval(),
			BatchSize: cfg.Indexing.Scheduler.BatchSize,
			Logger:    logger,
		})
		opts.Scheduler = scheduler
	}

	server := api.NewServer(api.Dependencies{
		DB:     a.db,
		Auth:   auth.NewService(cfg.Auth.JWTSecret, cfg.TokenTTL(), operators(cfg)...),
		Sites:  a.sites,
		Queues: a.registry,
		Facade: queueadmin.NewFacade(queueadmin.FacadeOptions{
			Metrics: adminMetrics,
			Logger:  logger,
		}),
		Trigger: queueadmin.NewRunTrigger(executors, adminMetrics, logger),
	}, opts)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if scheduler != nil {
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		slog.Info("indexing scheduler started", "sites", len(scheduler.Sites()), "interval", cfg.SchedulerInterval())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("indexq listening", "addr", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := scheduler.Stop(shutdownCtx); err != nil {
			slog.Warn("stop scheduler", "error", err)
		}
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func cmdMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	slog.Info("migrations complete")
	return nil
}

func cmdIndex(args []string) error {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	siteID := fs.String("site", "", "site to index")
	batch := fs.Int("batch", 0, "maximum number of items to process (defaults to indexing.batch_size)")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.sites.Get(*siteID)
	if err != nil {
		return err
	}
	batchSize := *batch
	if batchSize <= 0 {
		batchSize = cfg.Indexing.BatchSize
	}
	trigger := queueadmin.NewRunTrigger(a.executorFactory(nil), nil, slog.Default())
	ok, report := trigger.RunIncrementalIndexing(ctx, st, batchSize)
	printReport(report)
	if !ok {
		return fmt.Errorf("indexing run for site %s finished with errors", st.ID)
	}
	return nil
}

// recordsFile is the document read by the ingest command.
type recordsFile struct {
	Records []models.ContentRecord `yaml:"records"`
}

func cmdIngest(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	file := fs.String("file", "", "YAML file with a records list")
	fs.Parse(args)

	if strings.TrimSpace(*file) == "" {
		return fmt.Errorf("-file is required")
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	records, err := readRecords(*file)
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	for i := range records {
		if err := db.UpsertContentRecord(ctx, &records[i]); err != nil {
			return fmt.Errorf("upsert %s:%s:%d: %w", records[i].SiteID, records[i].RecordType, records[i].RecordID, err)
		}
	}
	slog.Info("content records ingested", "count", len(records))
	return nil
}

func readRecords(path string) ([]models.ContentRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	var doc recordsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse records: %w", err)
	}
	for i, r := range doc.Records {
		if strings.TrimSpace(r.SiteID) == "" || strings.TrimSpace(r.RecordType) == "" || r.RecordID <= 0 {
			return nil, fmt.Errorf("records[%d]: site, type and a positive uid are required", i)
		}
	}
	return doc.Records, nil
}

func cmdToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	user := fs.String("user", "", "operator to issue the token for")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	username := strings.TrimSpace(*user)
	if !hasOperator(cfg, username) {
		return fmt.Errorf("unknown operator %q", username)
	}
	token, err := auth.NewService(cfg.Auth.JWTSecret, cfg.TokenTTL()).GenerateToken(username)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func cmdHashPassword(args []string) error {
	fs := flag.NewFlagSet("hash-password", flag.ExitOnError)
	password := fs.String("password", "", "password to hash (defaults to INDEXQ_OPERATOR_PASSWORD)")
	fs.Parse(args)

	value := *password
	if value == "" {
		cfg, err := config.Load("")
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		value = cfg.Auth.OperatorPassword
	}
	if value == "" {
		return fmt.Errorf("a password is required")
	}
	hash, err := auth.NewService("", 0).HashPassword(value)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openDB(cfg *config.Config) (database.DB, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		return database.OpenSQLite(cfg.Database.DSN)
	case "postgres":
		return database.OpenPostgres(cfg.Database.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}

func operators(cfg *config.Config) []auth.Operator {
	out := make([]auth.Operator, 0, len(cfg.Operators))
	for _, op := range cfg.Operators {
		out = append(out, auth.Operator{Username: strings.TrimSpace(op.Username), PasswordHash: op.PasswordHash})
	}
	return out
}

func hasOperator(cfg *config.Config, username string) bool {
	if username == "" {
		return false
	}
	for _, op := range cfg.Operators {
		if strings.TrimSpace(op.Username) == username {
			return true
		}
	}
	return false
}

// trustedProxyCIDRs returns the configured proxies. server.trust_proxy without a list trusts
// every peer.
func trustedProxyCIDRs(cfg *config.Config) []string {
	if len(cfg.Server.TrustedProxies) > 0 {
		return cfg.Server.TrustedProxies
	}
	if cfg.Server.TrustProxy {
		return []string{"0.0.0.0/0", "::/0"}
	}
	return nil
}

func printReport(report queueadmin.Report) {
	for _, m := range report.Messages {
		fmt.Printf("[%s] %s: %s\n", strings.ToUpper(string(m.Severity)), m.Title, m.Text)
	}
}
