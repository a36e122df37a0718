// Command platformd runs the app platform node: revision lifecycle
// admin API, sandbox RPC bridge, and app route dispatch.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/tessera-social/app_platform/internal/app"
	"github.com/tessera-social/app_platform/internal/app/services/bridge"
	"github.com/tessera-social/app_platform/internal/app/storage/postgres"
	redisstore "github.com/tessera-social/app_platform/internal/app/storage/redis"
	"github.com/tessera-social/app_platform/internal/app/workspaces"
	"github.com/tessera-social/app_platform/internal/config"
	"github.com/tessera-social/app_platform/internal/platform/migrations"
	"github.com/tessera-social/app_platform/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}).WithField("component", "platformd")

	stores := app.MemoryStores()

	if cfg.Database.DSN != "" {
		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			log.WithError(err).Error("open database")
			os.Exit(1)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := migrations.Apply(ctx, db); err != nil {
			cancel()
			log.WithError(err).Error("apply migrations")
			os.Exit(1)
		}
		cancel()

		pg := postgres.New(db)
		stores.Revisions = pg
		stores.Pointer = pg
		stores.Audit = pg
		stores.Documents = pg
		stores.Blobs = pg
		stores.Usage = pg
		log.Info("using postgres storage")
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		stores.Usage = redisstore.NewUsageStore(client, "app_platform")
		log.Info("using redis usage counters")
	}

	workspaceRoot := os.Getenv("APPS_WORKSPACE_ROOT")
	if workspaceRoot == "" {
		workspaceRoot = "./workspaces"
	}

	application := app.New(app.Options{
		Config:        cfg,
		Stores:        stores,
		Workspaces:    workspaces.NewDirSource(workspaceRoot),
		WorkspaceRoot: workspaceRoot,
		Fetcher:       bridge.NewHTTPFetcher(15 * time.Second),
		Logger:        log,
	})

	if err := application.Start(); err != nil {
		log.WithError(err).Error("start background workers")
		os.Exit(1)
	}
	defer application.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      application.Handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("listening")
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("server failed")
			os.Exit(1)
		}
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("graceful shutdown")
		}
	}
}
