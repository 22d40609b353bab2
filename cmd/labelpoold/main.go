// Command labelpoold is the Labelpool server daemon.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/labelpool/labelpool/config"
	"github.com/labelpool/labelpool/internal/sqlitedb"
	"github.com/labelpool/labelpool/internal/version"
	"github.com/labelpool/labelpool/lifecycle"
	"github.com/labelpool/labelpool/project"
	"github.com/labelpool/labelpool/server"
	"github.com/labelpool/labelpool/task"
)

var configPath = flag.String("config", "labelpool.yaml", "path to config file")

func main() {
	flag.Parse()

	cfg := config.DefaultConfig()
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config %s: %v", *configPath, err)
		}
		cfg = loaded
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	logger.Info("starting labelpoold",
		"version", version.Version,
		"commit", version.Commit,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data dir %s: %v", cfg.DataDir, err)
	}
	db, err := sqlitedb.Open(filepath.Join(cfg.DataDir, "labelpool.db"))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	tasks, err := task.NewSQLiteStore(db)
	if err != nil {
		log.Fatalf("Failed to init task store: %v", err)
	}
	projects, err := project.NewSQLiteStore(db)
	if err != nil {
		log.Fatalf("Failed to init project store: %v", err)
	}

	// With Redis configured, the engine reads project config through the
	// cache; without it, straight from SQLite.
	var projectSource project.Source = projects
	var cache *project.Cache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		cache = project.NewCache(projects, rdb, cfg.Redis.CacheTTL.Std(), logger)
		projectSource = cache
		logger.Info("project cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL.Std())
	}

	engine := lifecycle.New(tasks, projectSource, logger)

	srv := server.New(*cfg, version.Version, logger)
	srv.SetEngine(engine)
	srv.SetTaskStore(tasks)
	srv.SetProjectStore(projects)
	srv.SetProjectCache(cache)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		log.Fatalf("Server failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Error("server stop error", "error", err)
	}
	logger.Info("shutdown complete")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
