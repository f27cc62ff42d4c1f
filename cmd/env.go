package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/grant-scorer/internal/metrics"
	"github.com/sells-group/grant-scorer/internal/oracle"
	"github.com/sells-group/grant-scorer/internal/resilience"
	"github.com/sells-group/grant-scorer/internal/scorer"
	"github.com/sells-group/grant-scorer/internal/store"
)

// scoringEnv holds the scorer and the optional backends behind it, shared by
// the score, evaluate and serve commands.
type scoringEnv struct {
	Store    store.Store // nil when store.driver is "none" or not requested
	Oracle   *oracle.Lazy
	Scorer   *scorer.Scorer
	Registry *prometheus.Registry

	redis *redis.Client
}

// Close releases resources held by the environment.
func (e *scoringEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
}

// initScoring builds the oracle chain and scorer. When withStore is set the
// decision store is opened and migrated as well. Callers should defer
// env.Close().
func initScoring(ctx context.Context, withStore bool) (*scoringEnv, error) {
	env := &scoringEnv{Registry: prometheus.NewRegistry()}
	env.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if withStore {
		st, err := initStore(ctx)
		if err != nil {
			return nil, err
		}
		if st != nil {
			if err := st.Migrate(ctx); err != nil {
				_ = st.Close()
				return nil, eris.Wrap(err, "migrate store")
			}
		}
		env.Store = st
	}

	rdb, err := initRedis(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.redis = rdb

	// A nil *redis.Client must reach oracle.New as a nil interface.
	var cache redis.Cmdable
	if rdb != nil {
		cache = rdb
	}
	env.Oracle = oracle.New(cfg.Oracle, cfg.Cache, cache)
	env.Scorer = scorer.New(env.Oracle, scorer.WithMetrics(metrics.New(env.Registry)))
	return env, nil
}

// initStore opens the configured decision store. The "none" driver returns a
// nil store.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "grant.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initRedis connects the prediction cache. An empty URL returns nil.
func initRedis(ctx context.Context) (*redis.Client, error) {
	if cfg.Cache.RedisURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.Cache.RedisURL)
	if err != nil {
		return nil, eris.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(opts)

	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("redis", "ping")
	err = resilience.Do(ctx, retry, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	if err != nil {
		_ = rdb.Close()
		return nil, eris.Wrap(err, "ping redis")
	}

	zap.L().Info("prediction cache connected", zap.String("addr", opts.Addr))
	return rdb, nil
}
