package arbiter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidekick/internal/config"
	"sidekick/internal/model"
)

func TestParseVerdict(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    Verdict
		wantErr bool
	}{
		{
			name:    "plain",
			content: `{"state":"drowsy","confidence":0.8,"reasoning":"eyes closing"}`,
			want:    Verdict{State: model.StateDrowsy, Confidence: 0.8, Reasoning: "eyes closing"},
		},
		{
			name:    "fenced with prose",
			content: "Sure:\n```json\n{\"state\": \"Focused\", \"confidence\": 0.9}\n```",
			want:    Verdict{State: model.StateFocused, Confidence: 0.9},
		},
		{
			name:    "missing confidence",
			content: `{"state":"away"}`,
			want:    Verdict{State: model.StateAway, Confidence: 0.5},
		},
		{
			name:    "confidence clamped",
			content: `{"state":"distracted","confidence":1.7}`,
			want:    Verdict{State: model.StateDistracted, Confidence: 1},
		},
		{
			name:    "two objects",
			content: "{\"state\":\"drowsy\",\"confidence\":0.6}\nAlternatively: {\"state\":\"focused\"}",
			want:    Verdict{State: model.StateDrowsy, Confidence: 0.6},
		},
		{
			name:    "trailing brace in prose",
			content: "{\"state\":\"away\",\"confidence\":0.9} (no face detected}",
			want:    Verdict{State: model.StateAway, Confidence: 0.9},
		},
		{
			name:    "brace before object",
			content: "Using {signals}: {\"state\":\"focused\",\"confidence\":0.7}",
			want:    Verdict{State: model.StateFocused, Confidence: 0.7},
		},
		{name: "unknown state", content: `{"state":"sleepy","confidence":0.7}`, wantErr: true},
		{name: "no object", content: "I think drowsy", wantErr: true},
		{name: "broken json", content: `{"state": }`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseVerdict(tc.content)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrMalformedVerdict)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func chatServer(t *testing.T, reply string, models []string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) != 2 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": reply}}},
		})
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		data := make([]map[string]string, 0, len(models))
		for _, id := range models {
			data = append(data, map[string]string{"id": id})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestClientClassify(t *testing.T) {
	srv, calls := chatServer(t, `{"state":"focused","confidence":0.75,"reasoning":"typing"}`, nil)
	c := NewClient(WithBaseURL(srv.URL+"/v1/"), WithAPIKey("secret"))
	defer c.Close()

	v, err := c.Classify(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, model.StateFocused, v.State)
	assert.Equal(t, 0.75, v.Confidence)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"loading","code":503}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"state\":\"away\",\"confidence\":0.6}"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRetry(1, time.Millisecond))
	v, err := c.Classify(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, model.StateAway, v.State)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad prompt","code":"invalid"}}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRetry(0, 0))
	_, err := c.Classify(context.Background(), "sys", "user")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "bad prompt", apiErr.Message)
	assert.False(t, apiErr.IsRetryable())
}

func TestDefaultFactoryVerifiesModel(t *testing.T) {
	srv, _ := chatServer(t, `{}`, []string{"other-model"})
	cfg := config.DefaultConfig().Arbitration
	cfg.BaseURL = srv.URL + "/v1"
	cfg.Model = "qwen2.5-3b-instruct"

	_, err := DefaultFactory(context.Background(), cfg, nil)
	require.ErrorIs(t, err, ErrModelNotFound)

	cfg.Model = "other-model"
	b, err := DefaultFactory(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, b.Close())
}

type fakeBackend struct {
	closed atomic.Bool
}

func (f *fakeBackend) Classify(ctx context.Context, _, _ string) (Verdict, error) {
	return Verdict{State: model.StateDistracted, Confidence: 0.6}, nil
}

func (f *fakeBackend) Close() error {
	f.closed.Store(true)
	return nil
}

func enabledConfig() config.ArbitrationConfig {
	cfg := config.DefaultConfig().Arbitration
	cfg.BaseURL = "http://model.local/v1"
	return cfg
}

func TestLoaderLoadsOnceUnderConcurrency(t *testing.T) {
	var loads atomic.Int32
	factory := func(ctx context.Context, cfg config.ArbitrationConfig, _ *slog.Logger) (Backend, error) {
		loads.Add(1)
		time.Sleep(10 * time.Millisecond)
		return &fakeBackend{}, nil
	}
	l := NewLoader(enabledConfig(), factory, nil)
	assert.Equal(t, StatusIdle, l.Status())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := l.Classify(context.Background(), "sys", "user")
			assert.NoError(t, err)
			assert.Equal(t, model.StateDistracted, v.State)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), loads.Load())
	assert.Equal(t, StatusReady, l.Status())
}

func TestLoaderFailureIsSticky(t *testing.T) {
	var loads atomic.Int32
	factory := func(ctx context.Context, cfg config.ArbitrationConfig, _ *slog.Logger) (Backend, error) {
		loads.Add(1)
		return nil, errors.New("weights missing")
	}
	l := NewLoader(enabledConfig(), factory, nil)

	_, err := l.Acquire(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
	_, err = l.Classify(context.Background(), "sys", "user")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1), loads.Load())
	assert.Equal(t, StatusFailed, l.Status())

	l.Reconfigure(enabledConfig())
	_, err = l.Acquire(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), loads.Load())
}

func TestLoaderCanceledLoadIsNotSticky(t *testing.T) {
	var loads atomic.Int32
	factory := func(ctx context.Context, cfg config.ArbitrationConfig, _ *slog.Logger) (Backend, error) {
		if loads.Add(1) == 1 {
			return nil, ctx.Err()
		}
		return &fakeBackend{}, nil
	}
	l := NewLoader(enabledConfig(), factory, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Acquire(ctx)
	require.Error(t, err)
	assert.Equal(t, StatusIdle, l.Status())

	_, err = l.Acquire(context.Background())
	require.NoError(t, err)
}

func TestLoaderDisabled(t *testing.T) {
	cfg := enabledConfig()
	cfg.Mode = "none"
	l := NewLoader(cfg, func(context.Context, config.ArbitrationConfig, *slog.Logger) (Backend, error) {
		t.Fatal("factory must not run when disabled")
		return nil, nil
	}, nil)
	_, err := l.Acquire(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, StatusDisabled, l.Status())
}

func TestLoaderReleaseAndReconfigure(t *testing.T) {
	var backends []*fakeBackend
	var mu sync.Mutex
	factory := func(ctx context.Context, cfg config.ArbitrationConfig, _ *slog.Logger) (Backend, error) {
		mu.Lock()
		defer mu.Unlock()
		b := &fakeBackend{}
		backends = append(backends, b)
		return b, nil
	}
	l := NewLoader(enabledConfig(), factory, nil)
	_, err := l.Acquire(context.Background())
	require.NoError(t, err)

	same := enabledConfig()
	same.Temperature = 0.3
	l.Reconfigure(same)
	assert.Equal(t, StatusReady, l.Status())
	assert.False(t, backends[0].closed.Load())

	moved := enabledConfig()
	moved.Model = "llama-3.2-3b"
	l.Reconfigure(moved)
	assert.True(t, backends[0].closed.Load())
	assert.Equal(t, StatusIdle, l.Status())

	_, err = l.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, l.Release())
	assert.True(t, backends[1].closed.Load())
	require.NoError(t, l.Release())
}
