package oracle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/grant-scorer/internal/config"
	"github.com/sells-group/grant-scorer/internal/model"
)

func TestLazy_LoadsOnceUnderConcurrency(t *testing.T) {
	var loads atomic.Int32
	l := NewLazy(func() (Predictor, error) {
		loads.Add(1)
		return Fixed(0.8), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := l.PredictProbability(context.Background(), model.Features{})
			assert.NoError(t, err)
			assert.InDelta(t, 0.8, p, 0)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
}

func TestLazy_LoadErrorIsSticky(t *testing.T) {
	var loads atomic.Int32
	boom := errors.New("model file missing")
	l := NewLazy(func() (Predictor, error) {
		loads.Add(1)
		return nil, boom
	})

	for i := 0; i < 3; i++ {
		_, err := l.PredictProbability(context.Background(), model.Features{})
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "oracle: load")
	}
	assert.Equal(t, int32(1), loads.Load())
}

func TestLazy_NilPredictor(t *testing.T) {
	l := NewLazy(func() (Predictor, error) { return nil, nil })
	_, err := l.Get()
	assert.Error(t, err)
}

func TestNew_Logistic(t *testing.T) {
	l := New(config.OracleConfig{Kind: "logistic"}, config.CacheConfig{}, nil)

	p, err := l.Get()
	require.NoError(t, err)
	assert.IsType(t, &Logistic{}, p)
}

func TestNew_LogisticWithCache(t *testing.T) {
	_, rdb := setupMiniRedis(t)
	l := New(config.OracleConfig{Kind: "logistic"}, config.CacheConfig{TTLSecs: 60}, rdb)

	p, err := l.Get()
	require.NoError(t, err)
	assert.IsType(t, &Cached{}, p)
}

func TestNew_Remote(t *testing.T) {
	l := New(config.OracleConfig{Kind: "remote", URL: "http://localhost:1", TimeoutSecs: 1}, config.CacheConfig{}, nil)

	p, err := l.Get()
	require.NoError(t, err)
	assert.IsType(t, &Remote{}, p)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(config.OracleConfig{Kind: "sklearn"}, config.CacheConfig{}, nil).Get()
	assert.Error(t, err)

	_, err = New(config.OracleConfig{Kind: "logistic", ModelPath: "/does/not/exist.yaml"}, config.CacheConfig{}, nil).Get()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read model")
}
