package oracle

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/grant-scorer/internal/model"
)

// Lazy defers building a Predictor until first use and builds it exactly once,
// even under concurrent first calls. A load failure is permanent: every later
// call returns the same error.
type Lazy struct {
	load func() (Predictor, error)

	once sync.Once
	p    Predictor
	err  error
}

// NewLazy returns a handle that calls load on first use.
func NewLazy(load func() (Predictor, error)) *Lazy {
	return &Lazy{load: load}
}

// Get returns the loaded predictor, loading it if needed.
func (l *Lazy) Get() (Predictor, error) {
	l.once.Do(func() {
		l.p, l.err = l.load()
		if l.err == nil && l.p == nil {
			l.err = eris.New("oracle: loader returned no predictor")
		}
		if l.err != nil {
			l.err = eris.Wrap(l.err, "oracle: load")
		}
	})
	return l.p, l.err
}

// PredictProbability loads on first use and delegates.
func (l *Lazy) PredictProbability(ctx context.Context, f model.Features) (float64, error) {
	p, err := l.Get()
	if err != nil {
		return 0, err
	}
	return p.PredictProbability(ctx, f)
}
