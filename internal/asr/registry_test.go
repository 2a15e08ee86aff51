package asr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/verbatim-audio/verbatim/pkg/logger"
)

type slowEngine struct {
	mu       sync.Mutex
	loaded   map[string]bool
	loads    int32
	delay    time.Duration
	failLoad bool
}

func (e *slowEngine) Load(ctx context.Context, model string) error {
	atomic.AddInt32(&e.loads, 1)
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.failLoad {
		return errors.New("download failed")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded == nil {
		e.loaded = make(map[string]bool)
	}
	e.loaded[model] = true
	return nil
}

func (e *slowEngine) Loaded(model string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded[model]
}

func (e *slowEngine) Transcribe(ctx context.Context, req Request) (*Result, error) {
	return &Result{}, nil
}

func TestEnsureRejectsUnknownModel(t *testing.T) {
	r := NewRegistry(&slowEngine{}, logger.NewNop())

	if err := r.Ensure(context.Background(), "colossal"); err == nil {
		t.Error("Ensure() accepted an unknown model selector")
	}
}

func TestEnsureLoadsOnce(t *testing.T) {
	engine := &slowEngine{}
	r := NewRegistry(engine, logger.NewNop())

	if err := r.Ensure(context.Background(), ModelSmall); err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}
	if !r.Loaded(ModelSmall) {
		t.Error("model not loaded after Ensure")
	}

	// A second Ensure is a no-op.
	if err := r.Ensure(context.Background(), ModelSmall); err != nil {
		t.Fatalf("second Ensure() error: %v", err)
	}
	if got := atomic.LoadInt32(&engine.loads); got != 1 {
		t.Errorf("engine loaded %d times, want 1", got)
	}
}

func TestEnsureDeduplicatesConcurrentLoads(t *testing.T) {
	engine := &slowEngine{delay: 50 * time.Millisecond}
	r := NewRegistry(engine, logger.NewNop())

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.Ensure(context.Background(), ModelBase)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: Ensure() error: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&engine.loads); got != 1 {
		t.Errorf("engine loaded %d times under concurrency, want 1", got)
	}
}

func TestEnsurePropagatesLoadFailure(t *testing.T) {
	engine := &slowEngine{failLoad: true}
	r := NewRegistry(engine, logger.NewNop())

	if err := r.Ensure(context.Background(), ModelMedium); err == nil {
		t.Error("Ensure() succeeded despite load failure")
	}
	if r.Loaded(ModelMedium) {
		t.Error("failed model reported as loaded")
	}

	// A later attempt retries the load instead of caching the failure.
	engine.failLoad = false
	if err := r.Ensure(context.Background(), ModelMedium); err != nil {
		t.Errorf("retry Ensure() error: %v", err)
	}
}

func TestEnsureWaiterHonorsContext(t *testing.T) {
	engine := &slowEngine{delay: 200 * time.Millisecond}
	r := NewRegistry(engine, logger.NewNop())

	go r.Ensure(context.Background(), ModelLargeV3)
	time.Sleep(20 * time.Millisecond) // let the load start

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := r.Ensure(ctx, ModelLargeV3); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("waiter error = %v, want context deadline", err)
	}
}

func TestValidModel(t *testing.T) {
	for _, model := range []string{ModelTiny, ModelBase, ModelSmall, ModelMedium, ModelLargeV3} {
		if !ValidModel(model) {
			t.Errorf("ValidModel(%q) = false", model)
		}
	}
	if ValidModel("large-v2") {
		t.Error("ValidModel accepted an unknown selector")
	}
}
