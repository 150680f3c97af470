package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"sidekick/internal/api"
	"sidekick/internal/arbiter"
	"sidekick/internal/broadcast"
	"sidekick/internal/config"
	"sidekick/internal/engine"
	"sidekick/internal/history"
	"sidekick/internal/ingest"
	"sidekick/internal/logging"
	"sidekick/internal/metrics"
	"sidekick/internal/model"
	"sidekick/internal/notify"
	"sidekick/internal/storage"
)

const configWatchInterval = 3 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine, HTTP API, ingest transports and broadcast hub",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, mgr, logging.NewLogger(mgr.Get().LogLevel))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// engineControl binds the engine to the serve context and signal channel so
// the API can start it without arguments.
type engineControl struct {
	*engine.Engine
	ctx context.Context
	in  <-chan model.Signal
}

func (c *engineControl) Start() {
	c.Engine.Start(c.ctx, c.in)
}

func historyOptions(cfg config.HistoryConfig) history.Options {
	return history.Options{
		BucketWidth:          cfg.BucketWidth(),
		MaxEntryWeight:       cfg.MaxEntryWeight,
		LastEntryWeight:      cfg.LastEntryWeight,
		FocusBlockMinMinutes: cfg.FocusBlockMinMinutes,
	}
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	store, err := storage.NewStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Driver, err)
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("initializing %s store: %w", cfg.Driver, err)
	}
	return store, nil
}

// serve runs every component until ctx is canceled.
func serve(ctx context.Context, mgr *config.Manager, logger *slog.Logger) error {
	cfg := mgr.Get()
	logger.Info("sidekick starting", "version", appVersion, "config", mgr.Path())

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	metricsStore := metrics.NewStore()
	loader := arbiter.NewLoader(cfg.Arbitration, nil, logger.With("component", "arbiter"))

	var publishers broadcast.Multi
	var hub *broadcast.Hub
	if cfg.Broadcast.WebSocket.Enabled {
		hub = broadcast.NewHub(cfg.Broadcast.WebSocket, logger.With("component", "hub"))
		defer hub.Close()
		publishers = append(publishers, hub)
	}
	if cfg.Broadcast.Kafka.Enabled {
		kp := broadcast.NewKafkaPublisher(cfg.Broadcast.Kafka)
		defer func() { _ = kp.Close() }()
		publishers = append(publishers, kp)
		logger.Info("kafka broadcast enabled", "topic", cfg.Broadcast.Kafka.Topic)
	}

	summarizer := history.NewSummarizer(store, cfg.Engine.Location(), historyOptions(cfg.History), logger.With("component", "history"))
	opts := engine.Options{
		Store:      store,
		Publisher:  publishers,
		Loader:     loader,
		Summarizer: summarizer,
		Metrics:    metricsStore,
		Desktop:    notify.NewDesktop(),
		Logger:     logger.With("component", "engine"),
	}
	eng := engine.New(cfg, opts)

	signals := make(chan model.Signal, cfg.Ingest.ChannelBuffer)
	ingestLogger := logger.With("component", "ingest")
	sink := ingest.NewSink(mgr, signals, metricsStore, ingestLogger)
	ingest.StartREST(ctx, mgr, sink, ingestLogger)
	if _, err := ingest.StartTCPStream(ctx, mgr, sink, ingestLogger); err != nil {
		return fmt.Errorf("starting tcp stream: %w", err)
	}
	ingest.StartFileTail(ctx, mgr, sink, ingestLogger)
	ingest.StartKafka(ctx, mgr, sink, ingestLogger)

	ctrl := &engineControl{Engine: eng, ctx: ctx, in: signals}
	deps := api.Deps{
		Config:     mgr,
		Engine:     ctrl,
		Store:      store,
		Summarizer: summarizer,
		Metrics:    metricsStore,
		Ingest:     ingest.NewRESTServer(sink, ingestLogger),
		Logger:     logger.With("component", "api"),
		Version:    appVersion,
	}
	if hub != nil {
		deps.Hub = hub
	}
	api.Start(ctx, deps)

	if cfg.Engine.AutoStart {
		ctrl.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		mgr.Watch(configWatchInterval, func(next *config.Config) {
			eng.ApplyConfig(next)
			logger.Info("config reloaded")
		}, func(err error) {
			logger.Warn("config reload failed", "err", err)
		}, gctx.Done())
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("sidekick shutting down")
		return eng.Stop()
	})
	return g.Wait()
}
