// Package server builds the application's dependencies and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/leetdaily/internal/api"
	"github.com/JakeFAU/leetdaily/internal/clock/system"
	"github.com/JakeFAU/leetdaily/internal/config"
	"github.com/JakeFAU/leetdaily/internal/hash/sha256"
	"github.com/JakeFAU/leetdaily/internal/id/uuid"
	"github.com/JakeFAU/leetdaily/internal/logging"
	"github.com/JakeFAU/leetdaily/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/leetdaily/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/leetdaily/internal/publisher/pubsub"
	"github.com/JakeFAU/leetdaily/internal/solves"
	"github.com/JakeFAU/leetdaily/internal/source/leetcode"
	gcsstorage "github.com/JakeFAU/leetdaily/internal/storage/gcs"
	localstorage "github.com/JakeFAU/leetdaily/internal/storage/local"
	memorystorage "github.com/JakeFAU/leetdaily/internal/storage/memory"
	mongostore "github.com/JakeFAU/leetdaily/internal/storage/mongo"
	pgstore "github.com/JakeFAU/leetdaily/internal/storage/postgres"
	"github.com/JakeFAU/leetdaily/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     solves.EntryStore
	collector *solves.Collector
	apiServer *api.Server

	pgStore        *pgstore.EntryStore
	mongoStore     *mongostore.EntryStore
	gcsBlobs       *gcsstorage.BlobStore
	pubsub         *gcppublisher.Publisher
	tracerShutdown func(context.Context) error
}

// Build creates the application's dependencies. Anything already opened is
// released when a later step fails.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	if err := app.build(ctx); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = app.Close(closeCtx)
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	policy, err := a.cfg.Policy()
	if err != nil {
		return fmt.Errorf("policy init failed: %w", err)
	}
	a.logger.Info("building application dependencies",
		zap.Int("port", a.cfg.Server.Port),
		zap.String("username", a.cfg.Tracker.Username),
		zap.String("window", string(policy.Window)),
		zap.String("persistence", string(policy.Persistence)),
		zap.String("timezone", policy.Location.String()),
		zap.String("backend", a.cfg.Storage.Backend),
	)

	if a.cfg.Telemetry.TracingEnabled {
		tp, err := telemetry.InitTracerProvider(ctx, a.cfg.Telemetry.ServiceName)
		if err != nil {
			return fmt.Errorf("tracer init failed: %w", err)
		}
		a.tracerShutdown = tp.Shutdown
	}

	if err := a.setupStore(ctx); err != nil {
		return err
	}
	blobs, err := a.setupSnapshots(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}

	source := leetcode.New(leetcode.Config{
		Endpoint:  a.cfg.Source.Endpoint,
		Limit:     a.cfg.Source.Limit,
		Timeout:   a.cfg.SourceTimeout(),
		UserAgent: a.cfg.Source.UserAgent,
	}, ratelimit.New(ratelimit.Config{RPS: a.cfg.Source.RatePerSecond, Burst: 1}))
	a.logger.Info("leetcode source configured",
		zap.String("endpoint", a.cfg.Source.Endpoint),
		zap.Int("limit", a.cfg.Source.Limit),
		zap.Duration("timeout", a.cfg.SourceTimeout()),
	)

	a.collector = solves.NewCollector(
		solves.CollectorConfig{
			Username:       a.cfg.Tracker.Username,
			Token:          a.cfg.Auth.Token,
			Policy:         policy,
			Topic:          a.cfg.PubSub.TopicName,
			SnapshotPrefix: a.cfg.Storage.Prefix,
		},
		source,
		a.store,
		publisher,
		blobs,
		sha256.New(),
		system.New(policy.Location),
		uuid.NewUUIDGenerator(),
		a.logger.Named("collector"),
	)
	a.apiServer = api.NewServer(a.collector, a.store, a.cfg.RequestTimeout(), a.logger)
	return nil
}

func (a *App) setupStore(ctx context.Context) error {
	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}
	switch a.cfg.Storage.Backend {
	case "postgres":
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:             a.cfg.Database.DSN,
			Table:           a.cfg.Database.Table,
			FetchTable:      a.cfg.Database.FetchTable,
			MaxConns:        a.cfg.Database.MaxConns,
			MinConns:        a.cfg.Database.MinConns,
			MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
			Location:        loc,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.pgStore = store
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("postgres schema init failed: %w", err)
		}
		a.store = store
		a.logger.Info("using postgres entry store",
			zap.String("table", a.cfg.Database.Table),
			zap.String("fetch_table", a.cfg.Database.FetchTable),
		)
	case "mongo":
		store, err := mongostore.New(ctx, mongostore.Config{
			URI:             a.cfg.Mongo.URI,
			Database:        a.cfg.Mongo.Database,
			Collection:      a.cfg.Mongo.Collection,
			FetchCollection: a.cfg.Mongo.FetchCollection,
			Location:        loc,
		})
		if err != nil {
			return fmt.Errorf("mongo store init failed: %w", err)
		}
		a.mongoStore = store
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("mongo index init failed: %w", err)
		}
		a.store = store
		a.logger.Info("using mongo entry store",
			zap.String("database", a.cfg.Mongo.Database),
			zap.String("collection", a.cfg.Mongo.Collection),
		)
	default:
		a.store = memorystorage.NewEntryStore()
		a.logger.Warn("using in-memory entry store; entries are lost on restart")
	}
	return nil
}

func (a *App) setupSnapshots(ctx context.Context) (solves.BlobStore, error) {
	switch a.cfg.Storage.Snapshots {
	case "gcs":
		blobs, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.gcsBlobs = blobs
		a.logger.Info("archiving snapshots to GCS", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(a.cfg.Storage.LocalDir)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("archiving snapshots on disk", zap.String("dir", a.cfg.Storage.LocalDir))
		return blobs, nil
	case "memory":
		a.logger.Info("archiving snapshots in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (solves.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Info("no Pub/Sub topic configured, saved events disabled")
		return nil, nil
	}
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub project configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.pubsub = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// RunOnce performs one collection run with the configured token.
func (a *App) RunOnce(ctx context.Context) (solves.Result, error) {
	res, err := a.collector.Run(ctx, a.cfg.Auth.Token)
	if err != nil {
		return solves.Result{}, fmt.Errorf("collect: %w", err)
	}
	return res, nil
}

// Run starts the HTTP server and blocks until the context is canceled or
// SIGINT/SIGTERM arrives, then drains and closes dependencies.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)
	if err := <-serveErr; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return closeErr
}

// Close releases every opened dependency.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.gcsBlobs != nil {
		if err := a.gcsBlobs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.mongoStore != nil {
		if err := a.mongoStore.Close(ctx); err != nil {
			a.logger.Warn("mongo close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
