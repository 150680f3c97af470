package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sidekick/internal/arbiter"
	"sidekick/internal/broadcast"
	"sidekick/internal/classify"
	"sidekick/internal/config"
	"sidekick/internal/history"
	"sidekick/internal/metrics"
	"sidekick/internal/model"
	"sidekick/internal/notify"
	"sidekick/internal/storage"
)

const (
	SkipPaused = "paused"
	SkipIdle   = "idle"
)

var ErrPersist = errors.New("engine: state not persisted")

// Notifier shows a fired notification to the user outside the broadcast
// channel.
type Notifier interface {
	Send(ctx context.Context, n model.Notification) error
}

type Options struct {
	Store      storage.Store
	Publisher  broadcast.Publisher
	Loader     *arbiter.Loader
	Summarizer *history.Summarizer
	Metrics    *metrics.Store
	Desktop    Notifier
	Logger     *slog.Logger
	Now        func() time.Time
}

// TickResult reports what one integration tick did. Skipped is set when
// nothing was classified.
type TickResult struct {
	Skipped      string
	State        *model.IntegratedState
	Notification *model.Notification
}

type Status struct {
	Running           bool   `json:"running"`
	Paused            bool   `json:"paused"`
	NotificationMode  string `json:"notification_mode"`
	Arbitration       string `json:"arbitration"`
	FacialAvailable   bool   `json:"facial_available"`
	UsageAvailable    bool   `json:"usage_available"`
	NotificationsSent int    `json:"notifications_sent_today"`
}

type Engine struct {
	cfg        atomic.Pointer[config.Config]
	store      storage.Store
	publisher  broadcast.Publisher
	loader     *arbiter.Loader
	summarizer *history.Summarizer
	metrics    *metrics.Store
	desktop    Notifier
	logger     *slog.Logger
	now        func() time.Time

	facial Cell[model.FacialSnapshot]
	usage  Cell[model.UsageSnapshot]
	paused atomic.Bool

	evalMu    sync.Mutex
	evaluator notify.Evaluator
	daily     *notify.DailyCap
	resumedAt time.Time

	lastMu sync.RWMutex
	last   *model.IntegratedState

	runMu   sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	running bool
}

func New(cfg *config.Config, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewStore()
	}
	e := &Engine{
		store:      opts.Store,
		publisher:  opts.Publisher,
		loader:     opts.Loader,
		summarizer: opts.Summarizer,
		metrics:    opts.Metrics,
		desktop:    opts.Desktop,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	e.cfg.Store(cfg)
	e.daily = notify.NewDailyCap(cfg.Notifications.MaxPerDay, cfg.Engine.Location())
	e.evaluator = e.newEvaluator(cfg)
	return e
}

// newEvaluator builds an evaluator sharing the engine's daily cap, so the
// count for today survives a rebuild.
func (e *Engine) newEvaluator(cfg *config.Config) notify.Evaluator {
	e.daily.Configure(cfg.Notifications.MaxPerDay, cfg.Engine.Location())
	return notify.NewEvaluator(cfg.Notifications, cfg.History.BucketWidth(), e.daily)
}

func (e *Engine) Config() *config.Config {
	return e.cfg.Load()
}

// ApplyConfig swaps the live configuration. The evaluator is rebuilt only
// when notification or history settings changed, so cooldowns and the
// daily count survive unrelated edits.
func (e *Engine) ApplyConfig(cfg *config.Config) {
	prev := e.cfg.Swap(cfg)
	if prev == nil || prev.Notifications != cfg.Notifications || prev.History != cfg.History || prev.Engine.Timezone != cfg.Engine.Timezone {
		e.evalMu.Lock()
		e.evaluator = e.newEvaluator(cfg)
		e.evalMu.Unlock()
	}
	if e.loader != nil {
		e.loader.Reconfigure(cfg.Arbitration)
	}
	if e.logger != nil {
		e.logger.Info("engine config applied", "notification_mode", cfg.Notifications.Mode, "integration_interval", cfg.Engine.IntegrationInterval)
	}
}

// Start launches the intake, integration and summary loops. Calling Start
// on a running engine does nothing.
func (e *Engine) Start(ctx context.Context, in <-chan model.Signal) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	if in != nil {
		g.Go(func() error { return e.intakeLoop(gctx, in) })
	}
	g.Go(func() error { return e.integrationLoop(gctx) })
	if e.summarizer != nil {
		g.Go(func() error { return e.summaryLoop(gctx) })
	}
	e.cancel = cancel
	e.group = g
	e.running = true
	if e.logger != nil {
		e.logger.Info("engine started")
	}
}

// Stop cancels the loops, waits for them and releases the arbitration
// backend.
func (e *Engine) Stop() error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if !e.running {
		return nil
	}
	e.cancel()
	err := e.group.Wait()
	e.running = false
	e.cancel = nil
	e.group = nil
	if e.loader != nil {
		if relErr := e.loader.Release(); relErr != nil {
			err = errors.Join(err, relErr)
		}
	}
	if e.logger != nil {
		e.logger.Info("engine stopped")
	}
	return err
}

func (e *Engine) Running() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.running
}

func (e *Engine) Pause() {
	e.paused.Store(true)
	if e.logger != nil {
		e.logger.Info("engine paused")
	}
}

// Resume drops the cached snapshots and notification history gathered
// before the pause. Bucket evaluation only reads entries logged after this
// point.
func (e *Engine) Resume() {
	e.facial.Clear()
	e.usage.Clear()
	e.evalMu.Lock()
	e.evaluator.Reset()
	e.evaluator.ResetConsecutive()
	e.resumedAt = e.now()
	e.evalMu.Unlock()
	e.paused.Store(false)
	if e.logger != nil {
		e.logger.Info("engine resumed")
	}
}

func (e *Engine) Paused() bool {
	return e.paused.Load()
}

// Observe stores a signal in its cell. Signals are dropped while paused.
func (e *Engine) Observe(sig model.Signal) bool {
	if e.paused.Load() {
		return false
	}
	switch {
	case sig.Facial != nil:
		e.facial.Set(*sig.Facial, sig.Facial.ObservedAt)
	case sig.Usage != nil:
		e.usage.Set(*sig.Usage, sig.Usage.ObservedAt)
	default:
		return false
	}
	return true
}

func (e *Engine) LastState() (model.IntegratedState, bool) {
	e.lastMu.RLock()
	defer e.lastMu.RUnlock()
	if e.last == nil {
		return model.IntegratedState{}, false
	}
	return *e.last, true
}

func (e *Engine) Status() Status {
	cfg := e.Config()
	now := e.now()
	st := Status{
		Running:          e.Running(),
		Paused:           e.Paused(),
		NotificationMode: cfg.Notifications.Mode,
		Arbitration:      arbiter.StatusDisabled,
		FacialAvailable:  e.facial.Fresh(now, cfg.Engine.MaxSnapshotAge) != nil,
		UsageAvailable:   e.usage.Fresh(now, cfg.Engine.MaxSnapshotAge) != nil,
	}
	if e.loader != nil {
		st.Arbitration = e.loader.Status()
	}
	e.evalMu.Lock()
	st.NotificationsSent = e.evaluator.SentToday(now)
	e.evalMu.Unlock()
	return st
}

// Tick runs one integration step: classify the freshest snapshots, persist
// and publish the state, then evaluate notifications.
func (e *Engine) Tick(ctx context.Context) (TickResult, error) {
	e.metrics.Inc(metrics.Ticks)
	if e.paused.Load() {
		e.metrics.Inc(metrics.TicksSkippedPaused)
		return TickResult{Skipped: SkipPaused}, nil
	}
	cfg := e.Config()
	now := e.now()
	facial := e.facial.Fresh(now, cfg.Engine.MaxSnapshotAge)
	usage := e.usage.Fresh(now, cfg.Engine.MaxSnapshotAge)
	if facial == nil && (usage == nil || usage.IsIdle) {
		e.metrics.Inc(metrics.TicksSkippedIdle)
		return TickResult{Skipped: SkipIdle}, nil
	}

	result := e.classify(ctx, facial, usage)
	e.metrics.Inc(metrics.Classifications(string(result.Source)))
	state := classify.Integrate(result, now)
	out := TickResult{State: &state}

	var persistErr error
	if e.store != nil {
		if _, err := e.store.AppendState(ctx, state); err != nil {
			e.metrics.Inc(metrics.PersistenceFailures)
			if e.logger != nil {
				e.logger.Error("append state failed", "state", state.State, "err", err)
			}
			persistErr = fmt.Errorf("%w: %w", ErrPersist, err)
		}
	}

	e.lastMu.Lock()
	e.last = &state
	e.lastMu.Unlock()
	e.publishState(ctx, state)
	if persistErr != nil {
		return out, persistErr
	}

	n, err := e.evaluate(ctx, cfg, state, now)
	if err != nil {
		return out, err
	}
	if n != nil {
		e.deliver(ctx, cfg, n)
		out.Notification = n
	}
	return out, nil
}

func (e *Engine) classify(ctx context.Context, facial *model.FacialSnapshot, usage *model.UsageSnapshot) model.ClassificationResult {
	outcome := classify.Classify(facial, usage)
	if r, ok := outcome.Result(); ok {
		return r
	}
	if e.loader != nil {
		if r, ok := e.arbitrate(ctx, facial, usage); ok {
			return r
		}
	}
	return classify.Fallback(facial, usage)
}

func (e *Engine) arbitrate(ctx context.Context, facial *model.FacialSnapshot, usage *model.UsageSnapshot) (model.ClassificationResult, bool) {
	prompt, err := classify.UserPrompt(facial, usage)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("render arbitration prompt failed", "err", err)
		}
		return model.ClassificationResult{}, false
	}
	v, err := e.loader.Classify(ctx, classify.SystemPrompt, prompt)
	if err != nil {
		if e.loader.Status() != arbiter.StatusDisabled {
			e.metrics.Inc(metrics.ArbitrationFailures)
			if e.logger != nil {
				e.logger.Warn("arbitration failed, using fallback", "err", err)
			}
		}
		return model.ClassificationResult{}, false
	}
	return model.ClassificationResult{
		State:      v.State,
		Confidence: v.Confidence,
		Reasoning:  v.Reasoning,
		Source:     model.SourceArbitration,
	}, true
}

func (e *Engine) evaluate(ctx context.Context, cfg *config.Config, state model.IntegratedState, now time.Time) (*model.Notification, error) {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()
	in := notify.Input{State: state.State, Interval: cfg.Engine.IntegrationInterval}
	if lookback := e.evaluator.Lookback(); lookback > 0 {
		if e.store == nil {
			return nil, nil
		}
		start := now.Add(-lookback)
		if e.resumedAt.After(start) {
			start = e.resumedAt
		}
		entries, err := e.store.QueryRange(ctx, start, now, 0)
		if err != nil {
			return nil, fmt.Errorf("query notification lookback: %w", err)
		}
		in.Segments = history.BuildSegments(entries, history.Options{
			BucketWidth:     cfg.History.BucketWidth(),
			MaxEntryWeight:  cfg.History.MaxEntryWeight,
			LastEntryWeight: cfg.History.LastEntryWeight,
		})
	}
	n, ok := e.evaluator.Evaluate(in, now)
	if !ok {
		return nil, nil
	}
	return n, nil
}

func (e *Engine) deliver(ctx context.Context, cfg *config.Config, n *model.Notification) {
	n.ID = uuid.NewString()
	e.metrics.Inc(metrics.NotificationsFired)
	if e.logger != nil {
		e.logger.Info("notification fired", "id", n.ID, "type", n.Type)
	}
	if e.store != nil {
		if err := e.store.SaveNotification(ctx, *n); err != nil {
			e.metrics.Inc(metrics.PersistenceFailures)
			if e.logger != nil {
				e.logger.Error("save notification failed", "id", n.ID, "err", err)
			}
		}
	}
	if e.publisher != nil {
		if err := e.publisher.PublishNotification(ctx, *n); err != nil {
			e.metrics.Inc(metrics.BroadcastFailures)
			if e.logger != nil {
				e.logger.Warn("publish notification failed", "id", n.ID, "err", err)
			}
		}
	}
	if cfg.Notifications.Desktop && e.desktop != nil {
		sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := e.desktop.Send(sendCtx, *n); err != nil && e.logger != nil {
			e.logger.Warn("desktop notification failed", "id", n.ID, "err", err)
		}
	}
}

func (e *Engine) publishState(ctx context.Context, state model.IntegratedState) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishState(ctx, state); err != nil {
		e.metrics.Inc(metrics.BroadcastFailures)
		if e.logger != nil {
			e.logger.Warn("publish state failed", "err", err)
		}
	}
}
