package engine

import (
	"context"
	"time"

	"sidekick/internal/metrics"
	"sidekick/internal/model"
)

func (e *Engine) intakeLoop(ctx context.Context, in <-chan model.Signal) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-in:
			if !ok {
				return nil
			}
			if !e.Observe(sig) {
				e.metrics.Inc(metrics.SignalsDropped)
			}
		}
	}
}

// integrationLoop ticks at the configured interval and follows interval
// changes made through ApplyConfig.
func (e *Engine) integrationLoop(ctx context.Context) error {
	interval := e.Config().Engine.IntegrationInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		res, err := e.Tick(ctx)
		if err != nil && ctx.Err() == nil && e.logger != nil {
			e.logger.Warn("integration tick failed", "err", err)
		} else if res.State != nil && e.logger != nil {
			e.logger.Debug("state integrated", "state", res.State.State, "source", res.State.Source, "confidence", res.State.Confidence)
		}
		if next := e.Config().Engine.IntegrationInterval; next > 0 && next != interval {
			interval = next
			ticker.Reset(interval)
		}
	}
}

func (e *Engine) summaryLoop(ctx context.Context) error {
	interval := e.Config().Engine.SummaryInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if !e.paused.Load() {
			if _, err := e.summarizer.Refresh(ctx, ""); err != nil && ctx.Err() == nil {
				e.metrics.Inc(metrics.SummaryFailures)
				if e.logger != nil {
					e.logger.Warn("daily summary refresh failed", "err", err)
				}
			}
		}
		if next := e.Config().Engine.SummaryInterval; next > 0 && next != interval {
			interval = next
			ticker.Reset(interval)
		}
	}
}
