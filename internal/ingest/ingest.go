package ingest

import (
	"context"
	"log/slog"
	"time"

	"sidekick/internal/config"
	"sidekick/internal/metrics"
	"sidekick/internal/model"
)

func SendNonBlocking(ctx context.Context, out chan<- model.Signal, sig model.Signal, logger *slog.Logger) bool {
	select {
	case out <- sig:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("signal channel full, dropping signal", "kind", sig.Kind, "source", sig.Source, "observed_at", sig.ObservedAt())
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Sink is where every transport hands decoded signals. It drops
// duplicates and never blocks the producer.
type Sink struct {
	cfg     *config.Manager
	out     chan<- model.Signal
	dedupe  *DedupeCache
	metrics *metrics.Store
	logger  *slog.Logger
	now     func() time.Time
}

func NewSink(cfg *config.Manager, out chan<- model.Signal, metricsStore *metrics.Store, logger *slog.Logger) *Sink {
	return &Sink{
		cfg:     cfg,
		out:     out,
		dedupe:  NewDedupeCache(),
		metrics: metricsStore,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sink) DecodeOptions() DecodeOptions {
	cfg := s.cfg.Get()
	return DecodeOptions{
		Now:           s.now(),
		MaxFutureSkew: cfg.Engine.MaxFutureSkew,
		Location:      cfg.Engine.Location(),
	}
}

// Submit forwards sig unless it is a recent duplicate or the channel is
// full.
func (s *Sink) Submit(ctx context.Context, sig model.Signal, source string) bool {
	if sig.Source == "" {
		sig.Source = source
	}
	if window := s.cfg.Get().Ingest.DedupeWindow; window > 0 {
		if s.dedupe.Seen(SignalKey(sig), s.now(), window) {
			s.metrics.Inc(metrics.SignalsDuplicate)
			return false
		}
	}
	if !SendNonBlocking(ctx, s.out, sig, s.logger) {
		s.metrics.Inc(metrics.SignalsDropped)
		return false
	}
	s.metrics.Inc(metrics.SignalsAccepted)
	return true
}

// Accept decodes one envelope and submits it.
func (s *Sink) Accept(ctx context.Context, data []byte, source string) error {
	sig, err := DecodeSignal(data, s.DecodeOptions())
	if err != nil {
		s.reject(source, err)
		return err
	}
	s.Submit(ctx, sig, source)
	return nil
}

func (s *Sink) reject(source string, err error) {
	s.metrics.Inc(metrics.SignalsRejected)
	if s.logger != nil {
		s.logger.Warn("signal rejected", "source", source, "err", err)
	}
}
