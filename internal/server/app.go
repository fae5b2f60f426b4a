// Package server initializes and runs the crmkeeper server. It loads keys,
// opens PostgreSQL (and Redis when configured), applies migrations,
// bootstraps the administrator and object storage buckets, and runs the
// HTTP API, the operational gRPC endpoint and the refresh-token janitor
// until the root context is cancelled.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/crmkeeper/internal/logging"
	"github.com/dmitrijs2005/crmkeeper/internal/server/auth"
	"github.com/dmitrijs2005/crmkeeper/internal/server/config"
	"github.com/dmitrijs2005/crmkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/crmkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/crmkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/crmkeeper/internal/server/rest"
	"github.com/dmitrijs2005/crmkeeper/internal/server/services"
	"github.com/dmitrijs2005/crmkeeper/internal/server/storage"
	"github.com/go-redis/redis/v8"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/crmkeeper/internal/server/grpc"
)

const shutdownTimeout = 10 * time.Second

// BucketStorage is object storage that can create its own buckets.
type BucketStorage interface {
	services.ObjectStorage
	EnsureBuckets(ctx context.Context) error
}

// Seams for tests.
var (
	openDB         = repomanager.Open
	newRepoManager = func() repomanager.RepositoryManager { return repomanager.NewPostgresRepositoryManager() }
	newRedisClient = refreshtokens.NewRedisClient
	newObjects     = func(ctx context.Context, cfg storage.Config) (BucketStorage, error) {
		return storage.NewS3Storage(ctx, cfg)
	}
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	redis   *redis.Client
	metrics *metrics.Metrics
	auth    *services.AuthService
	files   *services.FileService
	janitor *services.Janitor
	access  *auth.AccessControl
}

// NewApp builds every dependency of the server. Any failure here is fatal
// for the process; resources opened before the failure are released.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (_ *App, err error) {
	app := &App{config: c, logger: logger, metrics: metrics.New()}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	keys, err := auth.LoadKeyMaterial(c.PrivateKeyPath, c.PublicKeyPath)
	if err != nil {
		return nil, err
	}
	codec, err := auth.NewTokenCodec(keys, c.SigningAlgorithm, c.AccessTokenTTL, c.RefreshTokenTTL)
	if err != nil {
		return nil, err
	}
	links, err := auth.NewSignedLinkIssuer([]byte(c.LinkSecret), c.LinkTTL)
	if err != nil {
		return nil, err
	}
	app.access = auth.NewAccessControl(codec)

	app.db, err = openDB(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	rm := newRepoManager()
	if err := rm.RunMigrations(ctx, app.db); err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	store, err := app.refreshStore(ctx, rm)
	if err != nil {
		return nil, err
	}

	app.auth = services.NewAuthService(app.db, rm, store, auth.NewBcryptHasher(bcrypt.DefaultCost), codec,
		logger, services.WithAuthEvents(app.metrics))

	if c.AdminPassword != "" {
		admin, created, err := app.auth.EnsureAdmin(ctx, c.AdminEmail, c.AdminPassword)
		if err != nil {
			return nil, fmt.Errorf("admin bootstrap: %w", err)
		}
		if created {
			logger.Info(ctx, "admin user created", "user_id", admin.ID)
		}
	}

	objects, err := newObjects(ctx, storage.Config{
		Region:        c.S3Region,
		BaseEndpoint:  c.S3BaseEndpoint,
		AccessKey:     c.S3RootUser,
		SecretKey:     c.S3RootPassword,
		PublicBucket:  c.S3PublicBucket,
		PrivateBucket: c.S3PrivateBucket,
	})
	if err != nil {
		return nil, fmt.Errorf("object storage: %w", err)
	}
	if err := objects.EnsureBuckets(ctx); err != nil {
		return nil, fmt.Errorf("object storage: %w", err)
	}
	app.files = services.NewFileService(objects, links, logger)

	app.janitor, err = services.NewJanitor(store, c.JanitorSchedule, logger.With("module", "janitor"))
	if err != nil {
		return nil, err
	}
	return app, nil
}

// refreshStore picks the refresh-record backend from the configuration.
func (app *App) refreshStore(ctx context.Context, rm repomanager.RepositoryManager) (refreshtokens.Store, error) {
	switch app.config.RefreshStore {
	case config.RefreshStoreRedis:
		client, err := newRedisClient(ctx, app.config.RedisAddr, app.config.RedisPassword, app.config.RedisDB)
		if err != nil {
			return nil, err
		}
		app.redis = client
		return refreshtokens.NewRedisStore(client), nil
	default:
		return refreshtokens.NewSQLStore(app.db, rm.RefreshTokens), nil
	}
}

// Handler is the HTTP API of the app.
func (app *App) Handler() http.Handler {
	return rest.NewRouter(rest.Deps{
		Auth:    app.auth,
		Access:  app.access,
		Files:   app.files,
		DB:      app.db,
		Metrics: app.metrics,
	}, rest.Options{
		Logger:       app.logger.With("module", "http"),
		Timeout:      app.config.RequestTimeout,
		CookieSecure: app.config.CookieSecure,
	})
}

func (app *App) runHTTPServer(ctx context.Context) error {
	srv := &http.Server{
		Addr:              app.config.EndpointAddrHTTP,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info(ctx, "Starting HTTP server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	app.logger.Info(ctx, "Stopping HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (app *App) newGRPCServer() *gs.Server {
	env := app.config.Env
	return gs.NewServer(app.config.EndpointAddrGRPC, app.logger, app.access,
		gs.WithMetrics(app.metrics),
		gs.WithReflection(env == logging.EnvLocal || env == logging.EnvDev),
		gs.WithReadiness(app.db, 10*time.Second),
	)
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, or until one
// of the servers fails. Everything opened by NewApp is closed on return.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()
	defer app.close()

	app.logger.Info(ctx, "Starting app...", "env", app.config.Env)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.runHTTPServer(ctx) })
	g.Go(func() error { return app.newGRPCServer().Run(ctx) })
	g.Go(func() error { return app.janitor.Run(ctx) })

	err := g.Wait()
	if err != nil {
		app.logger.Error(ctx, "app stopped with error", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
	return err
}

func (app *App) close() {
	if app.redis != nil {
		_ = app.redis.Close()
	}
	if app.db != nil {
		_ = app.db.Close()
	}
}

// EnsureAdmin is the one-shot admin bootstrap behind cmd/admin: it only
// needs the database, not keys or object storage.
func EnsureAdmin(ctx context.Context, c *config.Config, logger logging.Logger, email, password string) (created bool, err error) {
	db, err := openDB(ctx, c.DatabaseDSN)
	if err != nil {
		return false, fmt.Errorf("db init error: %w", err)
	}
	defer db.Close()

	rm := newRepoManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return false, fmt.Errorf("db init error: %w", err)
	}
	svc := services.NewAuthService(db, rm, nil, auth.NewBcryptHasher(bcrypt.DefaultCost), nil, logger)
	_, created, err = svc.EnsureAdmin(ctx, email, password)
	return created, err
}
