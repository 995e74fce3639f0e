// Package server wires the media pipeline together: it opens the database
// and the idempotency store, builds the upload and message services, and
// runs the HTTP and gRPC gateways until a shutdown signal arrives.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/mediarelay/internal/logging"
	"github.com/dmitrijs2005/mediarelay/internal/server/artifacts"
	"github.com/dmitrijs2005/mediarelay/internal/server/auth"
	"github.com/dmitrijs2005/mediarelay/internal/server/config"
	"github.com/dmitrijs2005/mediarelay/internal/server/delivery"
	"github.com/dmitrijs2005/mediarelay/internal/server/idempotency"
	"github.com/dmitrijs2005/mediarelay/internal/server/messages"
	"github.com/dmitrijs2005/mediarelay/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/mediarelay/internal/server/transform"
	"github.com/dmitrijs2005/mediarelay/internal/server/uploads"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/mediarelay/internal/server/grpc"
	hs "github.com/dmitrijs2005/mediarelay/internal/server/http"
)

const janitorInterval = 10 * time.Minute

type runner interface {
	Run(ctx context.Context) error
}

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	rdb     *redis.Client
	expirer *idempotency.PostgresStore
	servers []runner
}

// openDB is a seam for tests.
var openDB = func(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	app := &App{config: c, logger: logger.With("module", "app")}

	db, err := openDB(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	app.db = db

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		app.close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	store, err := app.newStore(ctx)
	if err != nil {
		app.close()
		return nil, err
	}

	layout := artifacts.NewLayout(c.UploadRoot)
	var mirror artifacts.Mirror = artifacts.NopMirror{}
	if c.S3Enabled {
		m, err := artifacts.NewS3Mirror(ctx, artifacts.S3Settings{
			Region:       c.S3Region,
			AccessKey:    c.S3RootUser,
			SecretKey:    c.S3RootPassword,
			BaseEndpoint: c.S3BaseEndpoint,
			Bucket:       c.S3Bucket,
		}, layout, logger)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("s3 mirror init error: %w", err)
		}
		mirror = m
	}

	verifier := auth.NewHMACVerifier(c.SecretKey)

	uploadService := uploads.NewService(
		idempotency.NewRecords(store, idempotency.NamespaceUpload, c.UploadRecordTTL),
		transform.NewFFmpeg(c.FFmpegPath, c.FFprobePath, logger),
		transform.Inspector{},
		layout, mirror, c.TransformTimeout, logger,
	)

	hub := delivery.NewHub(logger)
	messageService := messages.NewService(db, repos,
		idempotency.NewRecords(store, idempotency.NamespaceMessage, c.SendRecordTTL), hub, logger)
	router := delivery.NewRouter(hub, messageService, verifier, logger)

	app.servers = []runner{
		hs.NewHTTPServer(c.HTTPAddr, logger, uploadService, layout, verifier,
			delivery.NewGateway(hub, router, verifier, logger),
			hs.Limits{Attachment: c.MaxAttachmentBytes, VoiceNote: c.MaxVoiceNoteBytes}),
		gs.NewGRPCServer(c.GRPCAddr, logger, hub, router, verifier),
	}

	return app, nil
}

// newStore selects the idempotency backend.
func (app *App) newStore(ctx context.Context) (idempotency.Store, error) {
	c := app.config
	switch c.StoreBackend {
	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			// Sends and uploads degrade to no deduplication while Redis
			// is down, so an unreachable server is not fatal.
			app.logger.Warn(ctx, "redis unreachable at startup", "addr", c.RedisAddr, "error", err)
		}
		app.rdb = rdb
		return idempotency.NewRedisStore(rdb), nil
	case config.StorePostgres:
		s := idempotency.NewPostgresStore(app.db)
		app.expirer = s
		return s, nil
	case config.StoreMemory:
		return idempotency.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", c.StoreBackend)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run blocks until ctx is cancelled, a signal arrives, or a server fails.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	defer app.close()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range app.servers {
		s := s
		g.Go(func() error { return s.Run(ctx) })
	}
	if app.expirer != nil {
		g.Go(func() error {
			app.expireRecords(ctx, janitorInterval)
			return nil
		})
	}

	err := g.Wait()
	app.logger.Info(ctx, "App stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// expireRecords purges expired rows of the PostgreSQL store, which has no
// native TTL.
func (app *App) expireRecords(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := app.expirer.DeleteExpired(ctx)
			if err != nil {
				app.logger.Error(ctx, "expiring idempotency records failed", "error", err)
				continue
			}
			if n > 0 {
				app.logger.Debug(ctx, "expired idempotency records", "count", n)
			}
		}
	}
}

func (app *App) close() {
	if app.rdb != nil {
		_ = app.rdb.Close()
	}
	if app.db != nil {
		_ = app.db.Close()
	}
}
