package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Outbound-Project/outbound-bot/adapters/gologger"
	"github.com/Outbound-Project/outbound-bot/auth"
	"github.com/Outbound-Project/outbound-bot/core"
	"github.com/Outbound-Project/outbound-bot/migrations"
	"github.com/Outbound-Project/outbound-bot/pipeline"
	"github.com/Outbound-Project/outbound-bot/provider/drive"
	filestore "github.com/Outbound-Project/outbound-bot/store/file"
	kvstore "github.com/Outbound-Project/outbound-bot/store/kv"
	sqlstore "github.com/Outbound-Project/outbound-bot/store/sql"
	"github.com/Outbound-Project/outbound-bot/transport/httpapi"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "outbound-bot: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack := gologger.NewStack("outbound-bot", nil, newSlogLogger(os.Stderr))
	logger := stack.Logger

	loader := newEnvConfigLoader(os.Getenv("OUTBOUND_CONFIG"))
	resolved, err := core.NewCfgxConfigProvider(loader).Load(ctx, core.DefaultConfig())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, closeStore, err := buildStateStore(ctx, resolved.Store)
	if err != nil {
		return fmt.Errorf("build state store: %w", err)
	}
	defer func() {
		if closeStore != nil {
			if err := closeStore(); err != nil {
				logger.Warn("state store close failed", "error", err)
			}
		}
	}()

	driveTokens, sheetsTokens, err := buildGoogleTokenSources()
	if err != nil {
		return fmt.Errorf("build google credentials: %w", err)
	}
	driveProvider, err := drive.New(drive.Config{
		TokenSource: driveTokens,
	})
	if err != nil {
		return fmt.Errorf("build drive provider: %w", err)
	}

	unit, err := buildPipeline(driveProvider, sheetsTokens, logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	service, err := core.NewService(core.Config{},
		core.WithConfigProvider(core.NewCfgxConfigProvider(loader)),
		core.WithLogger(logger),
		core.WithStateStore(store),
		core.WithWatchProvider(driveProvider),
		core.WithPipeline(unit),
	)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}

	runner := core.NewRenewalRunner(service, nil, 0)
	runner.Start(ctx)
	defer runner.Stop()

	api := httpapi.New(service, httpapi.WithLogger(logger))
	addr := os.Getenv("OUTBOUND_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			"addr", addr,
			"workflows", strings.Join(service.WorkflowIDs(), ","),
			"store_backend", resolved.Store.Backend,
		)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

func buildStateStore(ctx context.Context, cfg core.StoreConfig) (core.StateStore, func() error, error) {
	backend := core.StoreBackend(strings.TrimSpace(strings.ToLower(cfg.Backend)))
	switch backend {
	case core.StoreBackendFile:
		store, err := filestore.New(cfg.Path)
		return store, nil, err
	case core.StoreBackendKV:
		store, err := kvstore.New(kvstore.Config{
			BaseURL:   cfg.BaseURL,
			AuthToken: cfg.AuthToken,
		})
		return store, nil, err
	case core.StoreBackendSQLite:
		return buildSQLStore(ctx, "sqlite3", cfg)
	case core.StoreBackendPostgres:
		return buildSQLStore(ctx, "postgres", cfg)
	default:
		return nil, nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}

type persistenceConfig struct {
	driver string
	server string
}

func (c persistenceConfig) GetDebug() bool                { return false }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.server }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "outbound-bot" }

func buildSQLStore(ctx context.Context, driver string, cfg core.StoreConfig) (core.StateStore, func() error, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("store backend %q requires a dsn", driver)
	}
	sqlDB, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}

	dialectTarget := migrations.DialectPostgres
	client, err := persistence.New(persistenceConfig{driver: driver, server: cfg.DSN}, sqlDB, pgdialect.New())
	if driver == "sqlite3" {
		dialectTarget = migrations.DialectSQLite
		client, err = persistence.New(persistenceConfig{driver: driver, server: cfg.DSN}, sqlDB, sqlitedialect.New())
	}
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}

	_, err = migrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != dialectTarget {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrations.WithValidationTargets(dialectTarget))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	factory, err := sqlstore.NewStoreFactoryFromPersistence(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	if cfg.CacheEnabled {
		cacheConfig := repositorycache.DefaultConfig()
		cache, err := repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		factory = factory.WithCache(cache)
	}
	store, err := factory.BuildStateStore()
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return store, client.Close, nil
}

// buildGoogleTokenSources prefers a service-account key file and falls
// back to a static bearer token.
func buildGoogleTokenSources() (drive.TokenSource, pipeline.TokenSource, error) {
	keyFile := os.Getenv("OUTBOUND_GOOGLE_KEY_FILE")
	if keyFile == "" {
		token := os.Getenv("OUTBOUND_GOOGLE_TOKEN")
		return drive.StaticTokenSource(token), pipeline.StaticTokenSource(token), nil
	}

	raw, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("read service account key %q: %w", keyFile, err)
	}
	key, err := auth.ParseServiceAccountKey(raw)
	if err != nil {
		return nil, nil, err
	}
	source, err := auth.NewServiceAccountTokenSource(auth.ServiceAccountConfig{
		Key: key,
		Scopes: []string{
			"https://www.googleapis.com/auth/drive.readonly",
			"https://www.googleapis.com/auth/spreadsheets",
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return source, source, nil
}

func buildPipeline(source *drive.Provider, sheetsTokens pipeline.TokenSource, logger core.Logger) (*pipeline.Unit, error) {
	extractor, err := pipeline.NewZIPCSVExtractor(source)
	if err != nil {
		return nil, err
	}
	writer, err := pipeline.NewSheetsWriter(pipeline.SheetsWriterConfig{
		TokenSource: sheetsTokens,
	})
	if err != nil {
		return nil, err
	}
	notifier := pipeline.NewSeaTalkNotifier(pipeline.SeaTalkNotifierConfig{
		MentionAll: os.Getenv("OUTBOUND_NOTIFY_AT_ALL") == "1",
	})
	return pipeline.NewUnit(extractor, writer,
		pipeline.WithNotifier(notifier),
		pipeline.WithLogger(logger),
	)
}
