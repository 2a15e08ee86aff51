package asr

import (
	"context"
	"fmt"
	"sync"

	"github.com/verbatim-audio/verbatim/pkg/logger"
)

// Registry fronts a single Engine and serializes model loads so that two
// sessions requesting the same model don't trigger duplicate work. Loads
// block only the requesting caller, never the registry's other users.
type Registry struct {
	engine Engine
	logger *logger.Logger

	mu      sync.Mutex
	loading map[string]chan struct{} // in-flight loads by model
}

// NewRegistry creates a registry over the given engine.
func NewRegistry(engine Engine, log *logger.Logger) *Registry {
	return &Registry{
		engine:  engine,
		logger:  log.Named("asr-registry"),
		loading: make(map[string]chan struct{}),
	}
}

// Ensure makes the model usable, loading it if needed. Concurrent calls
// for the same model share one load; callers whose context expires stop
// waiting but the load itself continues for the others.
func (r *Registry) Ensure(ctx context.Context, model string) error {
	if !ValidModel(model) {
		return fmt.Errorf("unknown model selector %q", model)
	}
	if r.engine.Loaded(model) {
		return nil
	}

	r.mu.Lock()
	done, inFlight := r.loading[model]
	if !inFlight {
		done = make(chan struct{})
		r.loading[model] = done
	}
	r.mu.Unlock()

	if inFlight {
		select {
		case <-done:
			if r.engine.Loaded(model) {
				return nil
			}
			return fmt.Errorf("model %q failed to load", model)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.logger.Info("Loading model", logger.String("model", model))
	err := r.engine.Load(ctx, model)

	r.mu.Lock()
	delete(r.loading, model)
	r.mu.Unlock()
	close(done)

	if err != nil {
		r.logger.Error("Model load failed", logger.String("model", model), logger.Error(err))
		return fmt.Errorf("failed to load model %q: %w", model, err)
	}
	r.logger.Info("Model loaded", logger.String("model", model))
	return nil
}

// Loaded reports whether the model is ready.
func (r *Registry) Loaded(model string) bool {
	return r.engine.Loaded(model)
}

// Transcribe forwards to the engine.
func (r *Registry) Transcribe(ctx context.Context, req Request) (*Result, error) {
	return r.engine.Transcribe(ctx, req)
}
