package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"sidekick/internal/config"
	"sidekick/internal/model"
)

type RESTServer struct {
	sink   *Sink
	logger *slog.Logger
}

func NewRESTServer(sink *Sink, logger *slog.Logger) *RESTServer {
	return &RESTServer{sink: sink, logger: logger}
}

// Register mounts the signal routes on mux.
func (s *RESTServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("/signals", s.handleSignals)
	mux.HandleFunc("/signals/facial", s.handleSingle(DecodeFacial))
	mux.HandleFunc("/signals/usage", s.handleSingle(DecodeUsage))
}

func StartREST(ctx context.Context, cfg *config.Manager, sink *Sink, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	mux := http.NewServeMux()
	NewRESTServer(sink, logger).Register(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	httpServer := &http.Server{Addr: current.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if logger != nil {
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

type ingestResponse struct {
	Accepted int    `json:"accepted"`
	Dropped  int    `json:"dropped"`
	Failed   int    `json:"failed"`
	Error    string `json:"error,omitempty"`
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return nil, false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil || len(body) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func writeResult(w http.ResponseWriter, resp ingestResponse) {
	w.Header().Set("Content-Type", "application/json")
	if resp.Accepted == 0 && resp.Dropped == 0 && resp.Failed > 0 {
		w.WriteHeader(http.StatusBadRequest)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *RESTServer) submit(ctx context.Context, sigs []model.Signal, resp *ingestResponse) {
	for _, sig := range sigs {
		if s.sink.Submit(ctx, sig, "rest") {
			resp.Accepted++
		} else {
			resp.Dropped++
		}
	}
}

func (s *RESTServer) handleSignals(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	sigs, errs, err := DecodeSignals(body, s.sink.DecodeOptions())
	if err != nil {
		s.sink.reject("rest", err)
		writeResult(w, ingestResponse{Failed: 1, Error: err.Error()})
		return
	}
	resp := ingestResponse{Failed: len(errs)}
	for _, e := range errs {
		s.sink.reject("rest", e)
	}
	if len(errs) > 0 {
		resp.Error = errs[0].Error()
	}
	s.submit(r.Context(), sigs, &resp)
	writeResult(w, resp)
}

func (s *RESTServer) handleSingle(decode func([]byte, DecodeOptions) (model.Signal, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readBody(w, r)
		if !ok {
			return
		}
		sig, err := decode(body, s.sink.DecodeOptions())
		if err != nil {
			s.sink.reject("rest", err)
			writeResult(w, ingestResponse{Failed: 1, Error: err.Error()})
			return
		}
		var resp ingestResponse
		s.submit(r.Context(), []model.Signal{sig}, &resp)
		writeResult(w, resp)
	}
}
