// Command rowdb serves an in-memory, file- or relational-backed table over
// HTTP via a small SQL-like query and command language.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rowdb/rowdb/batch"
	"github.com/rowdb/rowdb/cache"
	"github.com/rowdb/rowdb/config"
	"github.com/rowdb/rowdb/database"
	dbfile "github.com/rowdb/rowdb/database/file"
	dbsql "github.com/rowdb/rowdb/database/sql"
	"github.com/rowdb/rowdb/httpapi"
	"github.com/rowdb/rowdb/queue"
	"github.com/rowdb/rowdb/service"
	"github.com/rowdb/rowdb/util"
)

func main() {
	util.InitSlog()
	cfg := parseOptions(os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, flusher, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("rowdb: failed to open storage backend: %v", err)
	}
	defer db.Close()

	q, err := openQueue(cfg)
	if err != nil {
		log.Fatalf("rowdb: failed to open write-command queue: %v", err)
	}
	defer q.Close()

	svc := service.New(db, q, flusher, cfg.Batch.IntervalSeconds, cfg.Batch.Size)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		svc.Run(ctx)
	}()

	server := httpapi.NewServer(svc, cfg.Server.Addr, cfg.Batch.MaxWorkers)
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("rowdb: listening", "addr", cfg.Server.Addr, "db_type", cfg.Database.Type)
		serverErr <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("rowdb: shutting down")
	case err := <-serverErr:
		if err != nil {
			slog.Error("rowdb: server error", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		slog.Error("rowdb: failed to shut down HTTP server cleanly", "err", err)
	}
	svc.Stop()
	<-consumerDone
}

// openBackend opens the configured storage backend, wrapping the relational
// backend with the cache coherence layer when caching is enabled. The file
// backend is never cached: it is already fully in-memory, so a cache in
// front of it would only add overhead.
func openBackend(ctx context.Context, cfg config.Config) (database.Database, batch.Flusher, error) {
	if cfg.Database.Type == "csv" {
		db, err := dbfile.Open(cfg.Database.Path)
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	}

	relational, err := dbsql.Open(ctx, database.Config{
		Type:  cfg.Database.Type,
		DSN:   cfg.Database.DSN,
		Table: cfg.Database.Table,
	})
	if err != nil {
		return nil, nil, err
	}

	if !cfg.Cache.Enabled {
		return relational, noopFlusher{}, nil
	}

	redisCache := cache.NewRedisCache(
		cfg.Cache.Addr,
		cfg.Cache.ExpectedKeys,
		cfg.Cache.FalsePositiveRate,
		time.Duration(cfg.Cache.LockTTLSeconds*float64(time.Second)),
	)
	cached := cache.NewCachedDatabase(relational, redisCache, cfg.Database.PrimaryKeyColumn)
	return cached, noopFlusher{}, nil
}

type noopFlusher struct{}

func (noopFlusher) Flush(ctx context.Context) error { return nil }

func openQueue(cfg config.Config) (queue.Queue, error) {
	if cfg.Queue.UseRabbitMQ {
		return queue.NewRabbitMQQueue(cfg.Queue.RabbitMQURL, cfg.Queue.QueueName)
	}
	return queue.NewLocalQueue(), nil
}
