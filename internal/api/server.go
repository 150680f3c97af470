package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sidekick/internal/config"
	"sidekick/internal/engine"
	"sidekick/internal/history"
	"sidekick/internal/ingest"
	"sidekick/internal/metrics"
	"sidekick/internal/model"
	"sidekick/internal/normalize"
	"sidekick/internal/storage"
)

type EngineControl interface {
	Start()
	Stop() error
	Pause()
	Resume()
	Running() bool
	Paused() bool
	Status() engine.Status
	LastState() (model.IntegratedState, bool)
	ApplyConfig(cfg *config.Config)
}

type Deps struct {
	Config     *config.Manager
	Engine     EngineControl
	Store      storage.Store
	Summarizer *history.Summarizer
	Metrics    *metrics.Store
	Hub        http.Handler
	Ingest     *ingest.RESTServer
	Logger     *slog.Logger
	Version    string
	Now        func() time.Time
}

type Server struct {
	cfg        *config.Manager
	engine     EngineControl
	store      storage.Store
	summarizer *history.Summarizer
	metrics    *metrics.Store
	hub        http.Handler
	ingest     *ingest.RESTServer
	logger     *slog.Logger
	version    string
	now        func() time.Time
	started    time.Time
}

func NewServer(d Deps) *Server {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Server{
		cfg:        d.Config,
		engine:     d.Engine,
		store:      d.Store,
		summarizer: d.Summarizer,
		metrics:    d.Metrics,
		hub:        d.Hub,
		ingest:     d.Ingest,
		logger:     d.Logger,
		version:    d.Version,
		now:        d.Now,
		started:    d.Now(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/history/bucketed", s.handleBucketed)
	mux.HandleFunc("/daily-stats", s.handleDailyStats)
	mux.HandleFunc("/settings", s.handleSettings)
	mux.HandleFunc("/engine/{action}", s.handleEngine)
	mux.HandleFunc("/notifications", s.handleNotifications)
	mux.HandleFunc("/notifications/pending", s.handlePending)
	mux.HandleFunc("/notifications/{id}/respond", s.handleRespond)
	mux.HandleFunc("/reports/generate", s.handleGenerateReport)
	if s.hub != nil {
		mux.Handle("/ws/state", s.hub)
	}
	if s.ingest != nil {
		s.ingest.Register(mux)
	}
	return mux
}

func Start(ctx context.Context, d Deps) *http.Server {
	if d.Config == nil {
		return nil
	}
	current := d.Config.Get().API
	if !current.Enabled {
		if d.Logger != nil {
			d.Logger.Info("api disabled")
		}
		return nil
	}
	if d.Logger != nil {
		d.Logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{Addr: current.Addr, Handler: NewServer(d).Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if d.Logger != nil {
				d.Logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) location() *time.Location {
	return s.cfg.Get().Engine.Location()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	running := s.engine != nil && s.engine.Running()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"monitoring":     running,
		"uptime_seconds": float64(int64(s.now().Sub(s.started).Seconds()*10)) / 10,
	})
}

type statusResponse struct {
	Status     string            `json:"status"`
	Time       string            `json:"time"`
	Version    string            `json:"version"`
	ConfigPath string            `json:"config_path"`
	Engine     *engine.Status    `json:"engine,omitempty"`
	Ingest     ingestStatus      `json:"ingest"`
	API        apiStatus         `json:"api"`
	Storage    string            `json:"storage"`
	Metrics    *metrics.Snapshot `json:"metrics,omitempty"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	FileTail  bool `json:"file_tail"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       s.now().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
		},
		API:     apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Storage: cfg.Storage.Driver,
	}
	if s.engine != nil {
		st := s.engine.Status()
		resp.Engine = &st
	}
	if s.metrics != nil {
		snap := s.metrics.Snapshot()
		resp.Metrics = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.engine != nil {
		if st, ok := s.engine.LastState(); ok {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	writeJSON(w, http.StatusOK, model.IntegratedState{
		State:     model.StateUnknown,
		Reasoning: "Engine not running or no data yet",
	})
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "history store not available")
		return false
	}
	return true
}

func (s *Server) timeParam(r *http.Request, name string) (time.Time, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return time.Time{}, nil
	}
	return normalize.ParseTimestamp(v, s.location())
}

func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < lo || n > hi {
		return 0, errors.New(name + " out of range")
	}
	return n, nil
}

func (s *Server) rangeParams(r *http.Request) (time.Time, time.Time, error) {
	start, err := s.timeParam(r, "start")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := s.timeParam(r, "end")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireStore(w) {
		return
	}
	start, end, err := s.rangeParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(r, "limit", 1000, 1, 10000)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.store.QueryRange(r.Context(), start, end, limit)
	if err != nil {
		s.internalError(w, "query history", err)
		return
	}
	notifications, err := s.store.ListNotifications(r.Context(), start, end, 0)
	if err != nil {
		s.internalError(w, "list notifications", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state_log":     entries,
		"notifications": notifications,
		"count":         len(entries),
	})
}

func (s *Server) handleBucketed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireStore(w) {
		return
	}
	start, end, err := s.rangeParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if start.IsZero() || end.IsZero() {
		writeError(w, http.StatusBadRequest, "start and end are required")
		return
	}
	cfg := s.cfg.Get()
	minutes, err := intParam(r, "bucket_minutes", cfg.History.BucketMinutes, 1, 60)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.store.QueryRange(r.Context(), start, end, 100000)
	if err != nil {
		s.internalError(w, "query history", err)
		return
	}
	segments := history.BuildSegments(entries, history.Options{
		BucketWidth:     time.Duration(minutes) * time.Minute,
		MaxEntryWeight:  cfg.History.MaxEntryWeight,
		LastEntryWeight: cfg.History.LastEntryWeight,
	})
	writeJSON(w, http.StatusOK, map[string]any{"segments": segments, "count": len(segments)})
}

func (s *Server) dateParam(r *http.Request) (string, error) {
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		return history.Today(s.now(), s.location()), nil
	}
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return "", errors.New("date must be YYYY-MM-DD")
	}
	return date, nil
}

func (s *Server) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.summarizer == nil {
		writeError(w, http.StatusServiceUnavailable, "history store not available")
		return
	}
	date, err := s.dateParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := s.summarizer.Stats(r.Context(), date)
	if err != nil {
		s.internalError(w, "daily stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.summarizer == nil {
		writeError(w, http.StatusServiceUnavailable, "history store not available")
		return
	}
	date, err := s.dateParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := s.summarizer.GenerateReport(r.Context(), date)
	if err != nil {
		s.internalError(w, "generate report", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireStore(w) {
		return
	}
	start, end, err := s.rangeParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(r, "limit", 100, 1, 1000)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := s.store.ListNotifications(r.Context(), start, end, limit)
	if err != nil {
		s.internalError(w, "list notifications", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

const pendingWindow = 300 * time.Second

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	pending := make([]model.Notification, 0)
	if s.store == nil {
		writeJSON(w, http.StatusOK, pending)
		return
	}
	now := s.now()
	list, err := s.store.ListNotifications(r.Context(), now.Add(-pendingWindow), now, 0)
	if err != nil {
		s.internalError(w, "list notifications", err)
		return
	}
	for _, n := range list {
		if n.UserAction == nil {
			pending = append(pending, n)
		}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireStore(w) {
		return
	}
	var req struct {
		Action model.UserAction `json:"action"`
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
	}
	if req.Action == "" {
		req.Action = model.ActionDismissed
	}
	if !req.Action.Valid() {
		writeError(w, http.StatusBadRequest, "action must be accepted, snoozed or dismissed")
		return
	}
	id := r.PathValue("id")
	if err := s.store.RecordUserAction(r.Context(), id, req.Action); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "notification not found")
			return
		}
		s.internalError(w, "record user action", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "action": req.Action})
}

type actionResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) handleEngine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not available")
		return
	}
	var msg string
	switch r.PathValue("action") {
	case "start":
		if s.engine.Running() {
			msg = "Already running"
		} else {
			s.engine.Start()
			msg = "Monitoring started"
		}
	case "stop":
		if !s.engine.Running() {
			msg = "Already stopped"
		} else if err := s.engine.Stop(); err != nil {
			s.internalError(w, "stop engine", err)
			return
		} else {
			msg = "Monitoring stopped"
		}
	case "pause":
		switch {
		case s.engine.Paused():
			msg = "Already paused"
		case !s.engine.Running():
			msg = "Not monitoring"
		default:
			s.engine.Pause()
			msg = "Monitoring paused"
		}
	case "resume":
		if !s.engine.Paused() {
			msg = "Not paused"
		} else {
			s.engine.Resume()
			msg = "Monitoring resumed"
		}
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Status: "ok", Message: msg})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	if s.logger != nil {
		s.logger.Error("api request failed", "op", op, "err", err)
	}
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
