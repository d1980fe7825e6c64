package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/abhisek/chapterquiz/internal/config"
	"github.com/abhisek/chapterquiz/internal/mongostore"
	"github.com/abhisek/chapterquiz/internal/questionbank"
	"github.com/abhisek/chapterquiz/internal/rankcache"
	"github.com/abhisek/chapterquiz/internal/ranking"
	"github.com/abhisek/chapterquiz/internal/session"
	"github.com/abhisek/chapterquiz/internal/store"
)

// env holds the opened backends for one command invocation.
type env struct {
	cfg    config.Config
	logger *slog.Logger

	store   *store.Store
	records session.RecordRepo
	bank    questionbank.Provider

	mongo *mongo.Client
	redis *redis.Client
}

// openEnv loads configuration and opens every backend it names. The SQLite
// store is always opened since rankings and activities live there.
func openEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	e := &env{cfg: cfg, logger: newLogger(cfg.LogLevel)}
	slog.SetDefault(e.logger)

	dbPath, err := resolveDBPath(cmd)
	if err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}
	e.store, err = store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	e.records = e.store.Records()
	e.bank = questionbank.NewFileProvider(cfg.BankDir)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.Backend == "mongo" {
		e.mongo, err = mongostore.Connect(ctx, cfg.MongoURI)
		if err != nil {
			e.Close()
			return nil, err
		}
		repo := mongostore.NewRecordRepo(e.mongo.Database(cfg.MongoDatabase), "")
		if err := repo.InitializeIndexes(ctx); err != nil {
			e.Close()
			return nil, err
		}
		e.records = repo
	}

	if cfg.RedisURL != "" {
		e.redis, err = rankcache.Dial(ctx, cfg.RedisURL)
		if err != nil {
			e.Close()
			return nil, err
		}
	}

	e.logger.Debug("backends ready", "db", dbPath, "records", cfg.Backend, "redis", e.redis != nil)
	return e, nil
}

func (e *env) Close() {
	if e.redis != nil {
		e.redis.Close()
	}
	if e.mongo != nil {
		e.mongo.Disconnect(context.Background())
	}
	if e.store != nil {
		e.store.Close()
	}
}

func (e *env) sessions() *session.Service {
	return session.NewService(e.records, e.bank,
		session.WithLogger(e.logger),
		session.WithPolicy(e.cfg.Policy),
		session.WithMaxAttempts(e.cfg.MaxAttempts),
	)
}

func (e *env) aggregator() *ranking.Aggregator {
	opts := []ranking.Option{
		ranking.WithLogger(e.logger),
		ranking.WithPolicy(e.cfg.Policy),
	}
	if e.redis != nil {
		opts = append(opts,
			ranking.WithIndex(rankcache.NewIndex(e.redis, "")),
			ranking.WithLock(rankcache.NewLock(e.redis, ""), ranking.DefaultLockTTL),
		)
	}
	return ranking.NewAggregator(e.records, e.store.Activities(), e.store.Rankings(), opts...)
}
