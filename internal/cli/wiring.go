package cli

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"go-dm/internal/config"
	"go-dm/internal/db"
	"go-dm/internal/docstore"
)

// openStore connects the configured backend and change feed. The returned
// close func releases both, plus the SQL pool when one was opened.
func openStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (*docstore.DocStore, func(), error) {
	var (
		backend docstore.Backend
		feed    docstore.Feed
		closers []func() error
	)
	fail := func(err error) (*docstore.DocStore, func(), error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, nil, err
	}

	switch cfg.Store.Backend {
	case "memory":
		backend = docstore.NewMemoryBackend()
		logger.Warn("⚠️ Using the in-memory store, data is lost on restart")

	case "bolt":
		b, err := docstore.OpenBolt(cfg.Store.BoltPath)
		if err != nil {
			return fail(fmt.Errorf("open bolt %s: %w", cfg.Store.BoltPath, err))
		}
		backend = b
		logger.Info("✅ Opened bolt store", "path", cfg.Store.BoltPath)

	case "postgres":
		database, err := db.NewDatabase(cfg.Store.PostgresDSN)
		if err != nil {
			return fail(fmt.Errorf("connect postgres: %w", err))
		}
		closers = append(closers, database.Close)
		logger.Info("✅ Connected to PostgreSQL")
		if err := database.AutoMigrate(ctx); err != nil {
			return fail(err)
		}
		logger.Info("✅ Database Schema Initialized")
		backend = docstore.NewPostgresBackend(database.Conn)

	case "mongo":
		m, err := docstore.ConnectMongo(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase)
		if err != nil {
			return fail(fmt.Errorf("connect mongo: %w", err))
		}
		backend = m
		logger.Info("✅ Connected to MongoDB", "database", cfg.Store.MongoDatabase)
		if cfg.Feed.Backend == "mongo" {
			feed = m.Feed(logger)
			logger.Info("✅ Using MongoDB change streams")
		}

	default:
		return fail(fmt.Errorf("unknown store backend %q", cfg.Store.Backend))
	}

	switch cfg.Feed.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Feed.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			_ = backend.Close()
			return fail(fmt.Errorf("connect redis: %w", err))
		}
		feed = docstore.NewRedisFeed(client, logger)
		logger.Info("✅ Connected to Redis", "addr", cfg.Feed.RedisAddr)
	case "local":
		feed = docstore.NewLocalFeed()
	}
	if feed == nil {
		_ = backend.Close()
		return fail(fmt.Errorf("feed backend %q is not available with store %q", cfg.Feed.Backend, cfg.Store.Backend))
	}

	store := docstore.New(backend, feed, logger)
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Warn("store close", "err", err)
		}
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}, nil
}
