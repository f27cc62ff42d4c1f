package oracle

import (
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/grant-scorer/internal/config"
	"github.com/sells-group/grant-scorer/internal/resilience"
)

// New returns the configured predictor chain behind a Lazy handle. rdb may be nil,
// which disables caching.
func New(cfg config.OracleConfig, cache config.CacheConfig, rdb redis.Cmdable) *Lazy {
	return NewLazy(func() (Predictor, error) {
		var (
			p       Predictor
			version string
		)

		switch cfg.Kind {
		case "logistic":
			m := DefaultLogistic()
			if cfg.ModelPath != "" {
				loaded, err := LoadLogistic(cfg.ModelPath)
				if err != nil {
					return nil, err
				}
				m = loaded
			}
			p, version = m, m.Version
		case "remote":
			b := resilience.NewBreaker(resilience.BreakerConfig{
				Name:             "oracle",
				FailureThreshold: cfg.Breaker.FailureThreshold,
				Cooldown:         time.Duration(cfg.Breaker.ResetTimeoutSecs) * time.Second,
			})
			p, version = NewRemote(cfg.URL, cfg.Timeout(), WithBreaker(b)), "remote"
		default:
			return nil, eris.Errorf("oracle: unknown kind %q", cfg.Kind)
		}

		if rdb != nil {
			p = NewCached(p, rdb, time.Duration(cache.TTLSecs)*time.Second, version)
		}

		zap.L().Info("oracle: loaded",
			zap.String("kind", cfg.Kind),
			zap.String("version", version),
			zap.Bool("cached", rdb != nil),
		)
		return p, nil
	})
}
