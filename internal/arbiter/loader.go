package arbiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"sidekick/internal/config"
)

// Factory loads a backend. It runs at most once per successful load.
type Factory func(ctx context.Context, cfg config.ArbitrationConfig, logger *slog.Logger) (Backend, error)

// BackendFunc adapts a plain function to Backend.
type BackendFunc func(ctx context.Context, systemPrompt, userPrompt string) (Verdict, error)

func (f BackendFunc) Classify(ctx context.Context, systemPrompt, userPrompt string) (Verdict, error) {
	return f(ctx, systemPrompt, userPrompt)
}

func (f BackendFunc) Close() error { return nil }

const (
	StatusDisabled = "disabled"
	StatusIdle     = "idle"
	StatusReady    = "ready"
	StatusFailed   = "failed"
)

type handle struct {
	backend Backend
}

// Loader owns the single arbitration backend. The backend is created lazily
// on first use; a failed load is sticky until Reconfigure.
type Loader struct {
	mu      sync.Mutex
	current atomic.Pointer[handle]
	failed  atomic.Bool
	cfg     atomic.Pointer[config.ArbitrationConfig]
	factory Factory
	logger  *slog.Logger
}

func NewLoader(cfg config.ArbitrationConfig, factory Factory, logger *slog.Logger) *Loader {
	if factory == nil {
		factory = DefaultFactory
	}
	l := &Loader{factory: factory, logger: logger}
	l.cfg.Store(&cfg)
	return l
}

func (l *Loader) config() config.ArbitrationConfig {
	return *l.cfg.Load()
}

// Acquire returns the loaded backend, loading it if needed.
func (l *Loader) Acquire(ctx context.Context) (Backend, error) {
	cfg := l.config()
	if !cfg.Enabled() || l.failed.Load() {
		return nil, ErrUnavailable
	}
	if h := l.current.Load(); h != nil {
		return h.backend, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if h := l.current.Load(); h != nil {
		return h.backend, nil
	}
	if l.failed.Load() {
		return nil, ErrUnavailable
	}

	backend, err := l.factory(ctx, cfg, l.logger)
	if err != nil {
		if ctx.Err() == nil {
			l.failed.Store(true)
		}
		if l.logger != nil {
			l.logger.Warn("arbitration backend load failed", "model", cfg.Model, "base_url", cfg.BaseURL, "err", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	l.current.Store(&handle{backend: backend})
	if l.logger != nil {
		l.logger.Info("arbitration backend loaded", "model", cfg.Model, "base_url", cfg.BaseURL)
	}
	return backend, nil
}

// Classify runs one arbitration call. Calls are serialized on the loader
// lock because backends are not assumed to support concurrent inference.
func (l *Loader) Classify(ctx context.Context, systemPrompt, userPrompt string) (Verdict, error) {
	if _, err := l.Acquire(ctx); err != nil {
		return Verdict{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.current.Load()
	if h == nil {
		return Verdict{}, ErrUnavailable
	}
	return h.backend.Classify(ctx, systemPrompt, userPrompt)
}

// Reconfigure clears the failed flag so the next Acquire retries. A backend
// bound to a different endpoint or model is released.
func (l *Loader) Reconfigure(cfg config.ArbitrationConfig) {
	prev := l.config()
	l.cfg.Store(&cfg)
	l.failed.Store(false)
	if prev.BaseURL != cfg.BaseURL || prev.Model != cfg.Model || !cfg.Enabled() {
		if err := l.Release(); err != nil && l.logger != nil {
			l.logger.Warn("arbitration backend release failed", "err", err)
		}
	}
}

// Release unloads the backend if one is loaded.
func (l *Loader) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.current.Swap(nil)
	if h == nil {
		return nil
	}
	if l.logger != nil {
		l.logger.Info("arbitration backend released")
	}
	return h.backend.Close()
}

func (l *Loader) Status() string {
	switch {
	case !l.config().Enabled():
		return StatusDisabled
	case l.failed.Load():
		return StatusFailed
	case l.current.Load() != nil:
		return StatusReady
	}
	return StatusIdle
}

// DefaultFactory builds an HTTP client and, when configured, checks that the
// endpoint serves the requested model.
func DefaultFactory(ctx context.Context, cfg config.ArbitrationConfig, logger *slog.Logger) (Backend, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("arbitration base_url is empty")
	}
	client := NewClient(
		WithBaseURL(cfg.BaseURL),
		WithAPIKey(cfg.APIKey),
		WithModel(cfg.Model),
		WithTimeout(cfg.Timeout),
		WithRetry(cfg.MaxRetries, cfg.RetryDelay),
		WithSampling(cfg.MaxTokens, cfg.Temperature),
		WithLogger(logger),
	)
	if !cfg.VerifyModel {
		return client, nil
	}
	ids, err := client.Models(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	if !slices.Contains(ids, cfg.Model) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, cfg.Model)
	}
	return client, nil
}
