package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/grant-scorer/internal/config"
	"github.com/sells-group/grant-scorer/internal/model"
	"github.com/sells-group/grant-scorer/internal/monitoring"
	"github.com/sells-group/grant-scorer/internal/scorer"
	"github.com/sells-group/grant-scorer/internal/store"
)

const maxBodyBytes = 1 << 20

// api serves scoring and the audit endpoints. store may be nil, in which case
// decisions are not recorded and the audit endpoints answer 503.
type api struct {
	scorer   *scorer.Scorer
	store    store.Store
	stats    *monitoring.Collector
	defaults scorer.Options
	lookback int
}

func newAPI(sc *scorer.Scorer, st store.Store, defaults scorer.Options, lookbackHours int) *api {
	a := &api{scorer: sc, store: st, defaults: defaults, lookback: lookbackHours}
	if st != nil {
		a.stats = monitoring.NewCollector(st)
	}
	return a
}

// buildRouter wires the API onto a chi router. gatherer backs /metrics.
func buildRouter(a *api, gatherer prometheus.Gatherer, sc config.ServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	origins := sc.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Decision-Id"},
		MaxAge:         300,
	}))

	r.Get("/", healthHandler)
	r.Get("/health", healthHandler)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		if sc.RateLimit > 0 {
			r.Use(rateLimit(rate.NewLimiter(rate.Limit(sc.RateLimit), max(sc.RateBurst, 1))))
		}
		r.Post("/score", a.handleScore)
		r.Get("/decisions", a.handleListDecisions)
		r.Get("/decisions/{id}", a.handleGetDecision)
		r.Get("/stats", a.handleStats)
	})
	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// rateLimit rejects requests beyond the shared token bucket with 429.
func rateLimit(l *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *api) handleScore(w http.ResponseWriter, r *http.Request) {
	log := zap.L().With(zap.String("request_id", middleware.GetReqID(r.Context())))

	opts, err := a.scoreOptions(r)
	if err != nil {
		writeValidation(w, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large", nil)
		return
	}
	applicant, err := decodeApplicant(body)
	if err != nil {
		writeValidation(w, err)
		return
	}

	res, err := a.scorer.Score(r.Context(), applicant, opts)
	if err != nil {
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			writeValidation(w, err)
			return
		}
		log.Error("score failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "scoring failed: "+err.Error(), nil)
		return
	}

	if a.store != nil {
		rec := &model.DecisionRecord{
			Applicant: applicant,
			Result:    *res,
			UseML:     opts.UseML,
			Threshold: opts.Threshold,
		}
		if err := a.store.SaveDecision(context.WithoutCancel(r.Context()), rec); err != nil {
			log.Error("record decision failed", zap.Error(err))
		} else {
			w.Header().Set("X-Decision-Id", rec.ID)
		}
	}

	writeJSON(w, http.StatusOK, res)
}

// scoreOptions applies the use_ml and threshold query parameters over the
// configured defaults.
func (a *api) scoreOptions(r *http.Request) (scorer.Options, error) {
	opts := a.defaults
	fields := map[string]string{}
	q := r.URL.Query()

	if v := q.Get("use_ml"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fields["use_ml"] = "must be a boolean"
		}
		opts.UseML = b
	}
	if v := q.Get("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			fields["threshold"] = "must be a number"
		}
		opts.Threshold = f
	}

	if len(fields) > 0 {
		return opts, &model.ValidationError{Fields: fields}
	}
	return opts, opts.Validate()
}

func (a *api) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusServiceUnavailable, "decision store not configured", nil)
		return
	}

	q := r.URL.Query()
	filter := store.DecisionFilter{Decision: model.Decision(q.Get("decision"))}
	fields := map[string]string{}
	switch filter.Decision {
	case "", model.DecisionApprove, model.DecisionDecline:
	default:
		fields["decision"] = "must be approve or decline"
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		fields["limit"] = "must be a non-negative integer"
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		fields["offset"] = "must be a non-negative integer"
	}
	if len(fields) > 0 {
		writeValidation(w, &model.ValidationError{Fields: fields})
		return
	}

	recs, err := a.store.ListDecisions(r.Context(), filter)
	if err != nil {
		zap.L().Error("list decisions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list decisions failed", nil)
		return
	}
	if recs == nil {
		recs = []model.DecisionRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (a *api) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusServiceUnavailable, "decision store not configured", nil)
		return
	}

	rec, err := a.store.GetDecision(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "decision not found", nil)
		return
	}
	if err != nil {
		zap.L().Error("get decision failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get decision failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *api) handleStats(w http.ResponseWriter, r *http.Request) {
	if a.stats == nil {
		writeError(w, http.StatusServiceUnavailable, "decision store not configured", nil)
		return
	}

	hours := a.lookback
	if v := r.URL.Query().Get("hours"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil {
			writeValidation(w, &model.ValidationError{Fields: map[string]string{"hours": "must be an integer"}})
			return
		}
		hours = h
	}

	snap, err := a.stats.Collect(r.Context(), hours)
	if err != nil {
		zap.L().Error("collect stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "collect stats failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err == nil && n < 0 {
		err = strconv.ErrRange
	}
	return n, err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, fields map[string]string) {
	body := map[string]any{"error": msg}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	writeJSON(w, status, body)
}

// writeValidation answers 400, carrying field detail when err has it.
func writeValidation(w http.ResponseWriter, err error) {
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		writeError(w, http.StatusBadRequest, ve.Error(), ve.Fields)
		return
	}
	writeError(w, http.StatusBadRequest, err.Error(), nil)
}
