package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/grant-scorer/internal/model"
	"github.com/sells-group/grant-scorer/internal/resilience"
)

func TestRemote_PredictProbability(t *testing.T) {
	var got model.Features
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"prob": 0.73}`))
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, time.Second)
	f := model.Features{DistanceKm: 12, ResidencyYearsIE: 1.5, IsImmigrant: 1, ParentsStatus: "low"}

	p, err := r.PredictProbability(context.Background(), f)
	require.NoError(t, err)
	assert.InDelta(t, 0.73, p, 1e-9)
	assert.Equal(t, f, got)
}

func TestRemote_BadResponses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
		down    bool
	}{
		{"server error", 503, "overloaded", "server returned 503", true},
		{"rate limited", 429, "", "server returned 429", true},
		{"client error", 400, "bad", "server returned 400", false},
		{"missing prob", 200, `{}`, "no prob", false},
		{"out of range", 200, `{"prob": 1.2}`, "outside [0,1]", false},
		{"not json", 200, `nope`, "decode response", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewRemote(srv.URL, time.Second).PredictProbability(context.Background(), model.Features{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, tt.down, resilience.IsUnavailable(err))
		})
	}
}

func TestRemote_NoRetryAndBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b := resilience.NewBreaker(resilience.BreakerConfig{Name: "test", FailureThreshold: 2, Cooldown: time.Hour})
	r := NewRemote(srv.URL, time.Second, WithBreaker(b))

	for i := 0; i < 2; i++ {
		_, err := r.PredictProbability(context.Background(), model.Features{})
		require.Error(t, err)
	}
	assert.Equal(t, int32(2), calls.Load())

	_, err := r.PredictProbability(context.Background(), model.Features{})
	assert.True(t, errors.Is(err, resilience.ErrOpen))
	assert.Equal(t, int32(2), calls.Load())
}

func TestRemote_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	_, err := NewRemote(srv.URL, 20*time.Millisecond).PredictProbability(context.Background(), model.Features{})
	require.Error(t, err)
	assert.True(t, resilience.IsUnavailable(err))
}
