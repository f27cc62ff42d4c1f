package oracle

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sells-group/grant-scorer/internal/model"
)

// Cached is a read-through Redis cache in front of a Predictor. Predictions are
// pure functions of the features, so a cached value is exact. Redis failures are
// logged and fall through to the wrapped predictor.
type Cached struct {
	next   Predictor
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
}

// NewCached wraps next. version namespaces keys so a new model never reads
// another model's cached values.
func NewCached(next Predictor, rdb redis.Cmdable, ttl time.Duration, version string) *Cached {
	return &Cached{next: next, rdb: rdb, ttl: ttl, prefix: "oracle:" + version + ":"}
}

// PredictProbability returns the cached probability or computes and stores it.
func (c *Cached) PredictProbability(ctx context.Context, f model.Features) (float64, error) {
	key := c.prefix + f.Key()

	val, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if p, perr := strconv.ParseFloat(val, 64); perr == nil {
			return p, nil
		}
		zap.L().Warn("oracle: discarding unparsable cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		zap.L().Warn("oracle: cache read failed", zap.String("key", key), zap.Error(err))
	}

	p, err := c.next.PredictProbability(ctx, f)
	if err != nil {
		return 0, err
	}

	if err := c.rdb.Set(ctx, key, strconv.FormatFloat(p, 'g', -1, 64), c.ttl).Err(); err != nil {
		zap.L().Warn("oracle: cache write failed", zap.String("key", key), zap.Error(err))
	}
	return p, nil
}
