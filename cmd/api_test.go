//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/grant-scorer/internal/config"
	"github.com/sells-group/grant-scorer/internal/metrics"
	"github.com/sells-group/grant-scorer/internal/model"
	"github.com/sells-group/grant-scorer/internal/monitoring"
	"github.com/sells-group/grant-scorer/internal/oracle"
	"github.com/sells-group/grant-scorer/internal/rules"
	"github.com/sells-group/grant-scorer/internal/scorer"
	"github.com/sells-group/grant-scorer/internal/store"
)

const middleFarBody = `{"distance_km": 42, "residency_years_ie": 1, "is_immigrant": false, "parents_status": "middle"}`

type testServer struct {
	handler http.Handler
	store   store.Store
}

func newTestServer(t *testing.T, p oracle.Predictor, withStore bool, sc config.ServerConfig) *testServer {
	t.Helper()

	reg := prometheus.NewRegistry()
	sco := scorer.New(p, scorer.WithMetrics(metrics.New(reg)))

	var st store.Store
	if withStore {
		sqlite, err := store.NewSQLite(filepath.Join(t.TempDir(), "decisions.db"))
		require.NoError(t, err)
		require.NoError(t, sqlite.Migrate(context.Background()))
		t.Cleanup(func() { _ = sqlite.Close() })
		st = sqlite
	}

	a := newAPI(sco, st, scorer.DefaultOptions(), 24)
	return &testServer{handler: buildRouter(a, reg, sc), store: st}
}

func (s *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, r)
	return rr
}

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields"`
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestRouter_Health(t *testing.T) {
	s := newTestServer(t, oracle.Fixed(0.5), false, config.ServerConfig{})

	for _, path := range []string{"/", "/health"} {
		rr := s.do(http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rr.Code, path)
		assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
		assert.Equal(t, map[string]string{"status": "ok"}, decodeBody[map[string]string](t, rr))
	}
}

func TestRouter_Score_OracleOverridesRules(t *testing.T) {
	s := newTestServer(t, oracle.Fixed(0.2), false, config.ServerConfig{})

	rr := s.do(http.MethodPost, "/score", middleFarBody)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	res := decodeBody[model.ScoreResult](t, rr)
	assert.False(t, res.Approved)
	assert.Equal(t, model.DecisionDecline, res.Decision)
	assert.Zero(t, res.Amount)
	require.NotNil(t, res.Prob)
	assert.InDelta(t, 0.2, *res.Prob, 1e-12)
	assert.Equal(t, []string{rules.ReasonMiddleFar, scorer.ReasonMLDecline}, res.Reasons)
}

func TestRouter_Score_RulesOnlyQuery(t *testing.T) {
	called := false
	p := oracle.Func(func(context.Context, model.Features) (float64, error) {
		called = true
		return 0, nil
	})
	s := newTestServer(t, p, false, config.ServerConfig{})

	rr := s.do(http.MethodPost, "/score?use_ml=false", middleFarBody)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.False(t, called)

	assert.Contains(t, rr.Body.String(), `"prob":null`)
	assert.Contains(t, rr.Body.String(), `"middle & distance >30km"`, "reasons are not HTML-escaped")
	res := decodeBody[model.ScoreResult](t, rr)
	assert.True(t, res.Approved)
	assert.Equal(t, rules.AmountFar, res.Amount)
	assert.Equal(t, []string{rules.ReasonMiddleFar}, res.Reasons)
}

func TestRouter_Score_ThresholdQuery(t *testing.T) {
	s := newTestServer(t, oracle.Fixed(0.6), false, config.ServerConfig{})

	rr := s.do(http.MethodPost, "/score?threshold=0.7", middleFarBody)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decodeBody[model.ScoreResult](t, rr).Approved)

	rr = s.do(http.MethodPost, "/score?threshold=0.6", middleFarBody)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decodeBody[model.ScoreResult](t, rr).Approved, "cutoff is inclusive")
}

func TestRouter_Score_StatusMustMatchExactly(t *testing.T) {
	s := newTestServer(t, oracle.Fixed(0.9), true, config.ServerConfig{})

	for _, status := range []string{"HIGH", " Low ", "Middle"} {
		t.Run(status, func(t *testing.T) {
			body := `{"distance_km": 5, "residency_years_ie": 0, "is_immigrant": false, "parents_status": "` + status + `"}`
			rr := s.do(http.MethodPost, "/score?use_ml=false", body)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())

			eb := decodeBody[errorBody](t, rr)
			assert.Contains(t, eb.Fields, "parents_status")
			assert.Empty(t, rr.Header().Get("X-Decision-Id"), "rejected request is not recorded")
		})
	}
}

func TestRouter_Score_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		body  string
		field string
	}{
		{"missing field", "", `{"distance_km": 10, "is_immigrant": false, "parents_status": "low"}`, "residency_years_ie"},
		{"wrong type", "", `{"distance_km": "far", "residency_years_ie": 1, "is_immigrant": false, "parents_status": "low"}`, "distance_km"},
		{"negative distance", "", `{"distance_km": -1, "residency_years_ie": 1, "is_immigrant": false, "parents_status": "low"}`, "distance_km"},
		{"unknown status", "", `{"distance_km": 1, "residency_years_ie": 1, "is_immigrant": false, "parents_status": "rich"}`, "parents_status"},
		{"not json", "", `{"distance_km":`, "body"},
		{"threshold range", "?threshold=1.5", middleFarBody, "threshold"},
		{"threshold type", "?threshold=high", middleFarBody, "threshold"},
		{"use_ml type", "?use_ml=maybe", middleFarBody, "use_ml"},
	}
	s := newTestServer(t, oracle.Fixed(0.5), false, config.ServerConfig{})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(http.MethodPost, "/score"+tt.query, tt.body)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())

			body := decodeBody[errorBody](t, rr)
			assert.NotEmpty(t, body.Error)
			assert.Contains(t, body.Fields, tt.field)
		})
	}
}

func TestRouter_Score_OracleFailure(t *testing.T) {
	p := oracle.Func(func(context.Context, model.Features) (float64, error) {
		return 0, errors.New("model server down")
	})
	s := newTestServer(t, p, true, config.ServerConfig{})

	rr := s.do(http.MethodPost, "/score", middleFarBody)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, decodeBody[errorBody](t, rr).Error, "model server down")

	recs, err := s.store.ListDecisions(context.Background(), store.DecisionFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs, "failed scorings are not recorded")
}

func TestRouter_Score_HardDeclineKeepsProb(t *testing.T) {
	s := newTestServer(t, oracle.Fixed(0.95), false, config.ServerConfig{})

	rr := s.do(http.MethodPost, "/score", `{"distance_km": 50, "residency_years_ie": 4, "is_immigrant": true, "parents_status": "low"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	res := decodeBody[model.ScoreResult](t, rr)
	assert.False(t, res.Approved)
	require.NotNil(t, res.Prob)
	assert.Equal(t, []string{rules.ReasonImmigrant3y, scorer.ReasonRuleOverride}, res.Reasons)
}

func TestRouter_Decisions_RecordListShow(t *testing.T) {
	s := newTestServer(t, oracle.Fixed(0.8), true, config.ServerConfig{})

	rr := s.do(http.MethodPost, "/score", middleFarBody)
	require.Equal(t, http.StatusOK, rr.Code)
	id := rr.Header().Get("X-Decision-Id")
	require.NotEmpty(t, id)

	rr = s.do(http.MethodPost, "/score?use_ml=false", `{"distance_km": 10, "residency_years_ie": 0, "is_immigrant": false, "parents_status": "high"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(http.MethodGet, "/decisions", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]model.DecisionRecord](t, rr), 2)

	rr = s.do(http.MethodGet, "/decisions?decision=approve", "")
	require.Equal(t, http.StatusOK, rr.Code)
	approved := decodeBody[[]model.DecisionRecord](t, rr)
	require.Len(t, approved, 1)
	assert.Equal(t, id, approved[0].ID)

	rr = s.do(http.MethodGet, "/decisions/"+id, "")
	require.Equal(t, http.StatusOK, rr.Code)
	rec := decodeBody[model.DecisionRecord](t, rr)
	assert.Equal(t, model.ParentsMiddle, rec.Applicant.ParentsStatus)
	assert.True(t, rec.UseML)
	assert.InDelta(t, 0.5, rec.Threshold, 0)
	assert.Equal(t, rules.AmountFar, rec.Result.Amount)

	rr = s.do(http.MethodGet, "/decisions/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_Decisions_BadQuery(t *testing.T) {
	s := newTestServer(t, oracle.Fixed(0.8), true, config.ServerConfig{})

	rr := s.do(http.MethodGet, "/decisions?decision=maybe&limit=-1", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	body := decodeBody[errorBody](t, rr)
	assert.Contains(t, body.Fields, "decision")
	assert.Contains(t, body.Fields, "limit")
}

func TestRouter_Stats(t *testing.T) {
	s := newTestServer(t, oracle.Fixed(0.8), true, config.ServerConfig{})

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/score", middleFarBody).Code)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/score", `{"distance_km": 20, "residency_years_ie": 1, "is_immigrant": false, "parents_status": "middle"}`).Code)

	rr := s.do(http.MethodGet, "/stats?hours=1", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	snap := decodeBody[monitoring.Snapshot](t, rr)
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, 2, snap.Approved)
	assert.Equal(t, 2, snap.MLDecisions)
	assert.Equal(t, 1, snap.MLOverApprove, "middle near approved by the oracle")
	assert.Equal(t, 1, snap.LookbackHours)
	assert.Equal(t, rules.AmountFar+rules.AmountNear, snap.AmountTotal)

	rr = s.do(http.MethodGet, "/stats?hours=soon", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_NoStore(t *testing.T) {
	s := newTestServer(t, oracle.Fixed(0.8), false, config.ServerConfig{})

	rr := s.do(http.MethodPost, "/score", middleFarBody)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("X-Decision-Id"))

	for _, path := range []string{"/decisions", "/decisions/abc", "/stats"} {
		assert.Equal(t, http.StatusServiceUnavailable, s.do(http.MethodGet, path, "").Code, path)
	}
}

func TestRouter_Metrics(t *testing.T) {
	s := newTestServer(t, oracle.Fixed(0.2), false, config.ServerConfig{})
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/score", middleFarBody).Code)

	rr := s.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `grant_decisions_total{decision="decline",path="ml"} 1`)
	assert.Contains(t, body, `grant_ml_disagreements_total{direction="decline"} 1`)
	assert.Contains(t, body, "grant_score_duration_seconds")
}

func TestRouter_RateLimit(t *testing.T) {
	s := newTestServer(t, oracle.Fixed(0.5), false, config.ServerConfig{RateLimit: 0.001, RateBurst: 1})

	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/score", middleFarBody).Code)
	rr := s.do(http.MethodPost, "/score", middleFarBody)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	// Health stays outside the limiter.
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", "").Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	s := newTestServer(t, oracle.Fixed(0.5), false, config.ServerConfig{CORSOrigins: []string{"https://grants.example.ie"}})

	r := httptest.NewRequest(http.MethodOptions, "/score", nil)
	r.Header.Set("Origin", "https://grants.example.ie")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, r)

	assert.Equal(t, "https://grants.example.ie", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_RequestIDHeaderAccepted(t *testing.T) {
	s := newTestServer(t, oracle.Fixed(0.5), false, config.ServerConfig{})

	r := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBufferString(middleFarBody))
	r.Header.Set("X-Request-Id", "req-123")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, r)
	assert.Equal(t, http.StatusOK, rr.Code)
}
