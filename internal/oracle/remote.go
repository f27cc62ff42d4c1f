package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/grant-scorer/internal/model"
	"github.com/sells-group/grant-scorer/internal/resilience"
)

// Remote asks a model server for probabilities over HTTP. Calls are never retried;
// a Breaker makes repeated outages fail fast.
type Remote struct {
	url     string
	client  *http.Client
	breaker *resilience.Breaker
}

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) { r.client = c }
}

// WithBreaker overrides the circuit breaker.
func WithBreaker(b *resilience.Breaker) RemoteOption {
	return func(r *Remote) { r.breaker = b }
}

// NewRemote creates a Remote posting to url with the given per-call timeout.
func NewRemote(url string, timeout time.Duration, opts ...RemoteOption) *Remote {
	r := &Remote{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		breaker: resilience.NewBreaker(resilience.BreakerConfig{Name: "oracle"}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

type remoteResponse struct {
	Prob *float64 `json:"prob"`
}

// PredictProbability posts f as JSON and reads {"prob": p}.
func (r *Remote) PredictProbability(ctx context.Context, f model.Features) (float64, error) {
	return resilience.Call(ctx, r.breaker, func(ctx context.Context) (float64, error) {
		return r.do(ctx, f)
	})
}

func (r *Remote) do(ctx context.Context, f model.Features) (float64, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return 0, eris.Wrap(err, "oracle: marshal features")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return 0, eris.Wrap(err, "oracle: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, resilience.Unavailable(eris.Wrap(err, "oracle: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, resilience.Unavailable(
			eris.Errorf("oracle: server returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg)),
			resp.StatusCode,
		)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, eris.Errorf("oracle: server returned %d", resp.StatusCode)
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, eris.Wrap(err, "oracle: decode response")
	}
	if out.Prob == nil {
		return 0, eris.New("oracle: response has no prob")
	}
	p := *out.Prob
	if p < 0 || p > 1 {
		return 0, eris.Errorf("oracle: probability %v outside [0,1]", p)
	}
	return p, nil
}
