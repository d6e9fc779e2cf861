// Package similarity scores how alike two canonical events are, in [0,1].
package similarity

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/agenthands/canon/internal/core/model"
	"github.com/agenthands/canon/internal/llm"
	"github.com/coder/hnsw"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Oracle scores a pair of events. Callers treat any error as "not linked".
type Oracle interface {
	Similarity(ctx context.Context, a, b *model.CanonicalEvent) (float64, error)
}

// Forgetter is an Oracle holding state that should not outlive a run.
type Forgetter interface {
	Forget()
}

// Func adapts a plain function to Oracle.
type Func func(ctx context.Context, a, b *model.CanonicalEvent) (float64, error)

func (f Func) Similarity(ctx context.Context, a, b *model.CanonicalEvent) (float64, error) {
	return f(ctx, a, b)
}

// EmbeddingOracle embeds each event's canonical name once and compares vectors by cosine.
type EmbeddingOracle struct {
	Embedder llm.EmbedderClient
	Timeout  time.Duration
	Logger   *logrus.Logger

	mu    sync.RWMutex
	cache map[string][]float32
	calls singleflight.Group
}

func NewEmbeddingOracle(embedder llm.EmbedderClient, timeout time.Duration, logger *logrus.Logger) *EmbeddingOracle {
	return &EmbeddingOracle{
		Embedder: embedder,
		Timeout:  timeout,
		Logger:   logger,
		cache:    make(map[string][]float32),
	}
}

func (o *EmbeddingOracle) Similarity(ctx context.Context, a, b *model.CanonicalEvent) (float64, error) {
	va, err := o.vector(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := o.vector(ctx, b)
	if err != nil {
		return 0, err
	}
	if len(va) != len(vb) || len(va) == 0 {
		return 0, fmt.Errorf("%w: embedding dimensions %d and %d", model.ErrOracleUnavailable, len(va), len(vb))
	}
	if isZero(va) || isZero(vb) {
		return 0, fmt.Errorf("%w: zero embedding for %s/%s", model.ErrOracleUnavailable, a.ID, b.ID)
	}

	// CosineDistance is 1 - cos, so cos comes back directly.
	sim := 1 - float64(hnsw.CosineDistance(va, vb))
	if math.IsNaN(sim) {
		return 0, fmt.Errorf("%w: undefined cosine for %s/%s", model.ErrOracleUnavailable, a.ID, b.ID)
	}
	return math.Max(0, math.Min(1, sim)), nil
}

// Forget drops cached vectors. The consolidator calls it when a run ends.
func (o *EmbeddingOracle) Forget() {
	o.mu.Lock()
	o.cache = make(map[string][]float32)
	o.mu.Unlock()
}

func (o *EmbeddingOracle) vector(ctx context.Context, e *model.CanonicalEvent) ([]float32, error) {
	key := e.ID + "\x00" + e.CanonicalName

	o.mu.RLock()
	v, ok := o.cache[key]
	o.mu.RUnlock()
	if ok {
		return v, nil
	}

	res, err, _ := o.calls.Do(key, func() (interface{}, error) {
		callCtx := ctx
		if o.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, o.Timeout)
			defer cancel()
		}
		vec, err := o.Embedder.Embed(callCtx, e.CanonicalName)
		if err != nil {
			return nil, fmt.Errorf("%w: embed %s: %w", model.ErrOracleUnavailable, e.ID, err)
		}
		o.mu.Lock()
		o.cache[key] = vec
		o.mu.Unlock()
		return vec, nil
	})
	if err != nil {
		if o.Logger != nil {
			o.Logger.WithError(err).WithField("event_id", e.ID).Debug("embedding failed")
		}
		return nil, err
	}
	return res.([]float32), nil
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
