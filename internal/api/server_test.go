package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidekick/internal/config"
	"sidekick/internal/engine"
	"sidekick/internal/history"
	"sidekick/internal/metrics"
	"sidekick/internal/model"
	"sidekick/internal/storage"
)

var now = time.Date(2024, 2, 14, 12, 0, 0, 0, time.UTC)

type fakeEngine struct {
	running bool
	paused  bool
	applied *config.Config
	last    *model.IntegratedState
	starts  int
	stopErr error
}

func (f *fakeEngine) Start() {
	f.running = true
	f.starts++
}

func (f *fakeEngine) Stop() error {
	f.running = false
	return f.stopErr
}

func (f *fakeEngine) Pause()        { f.paused = true }
func (f *fakeEngine) Resume()       { f.paused = false }
func (f *fakeEngine) Running() bool { return f.running }
func (f *fakeEngine) Paused() bool  { return f.paused }

func (f *fakeEngine) Status() engine.Status {
	return engine.Status{Running: f.running, Paused: f.paused, NotificationMode: "bucket"}
}
func (f *fakeEngine) LastState() (model.IntegratedState, bool) {
	if f.last == nil {
		return model.IntegratedState{}, false
	}
	return *f.last, true
}
func (f *fakeEngine) ApplyConfig(cfg *config.Config) { f.applied = cfg }

type fixture struct {
	srv    *httptest.Server
	store  storage.Store
	engine *fakeEngine
	cfg    *config.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Engine.Timezone = "UTC"
	mgr := config.NewStaticManager(cfg)
	store := storage.NewMemory(1000)
	eng := &fakeEngine{}
	s := NewServer(Deps{
		Config:     mgr,
		Engine:     eng,
		Store:      store,
		Summarizer: history.NewSummarizer(store, time.UTC, history.DefaultOptions(), nil),
		Metrics:    metrics.NewStore(),
		Now:        func() time.Time { return now },
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, store: store, engine: eng, cfg: mgr}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, _ = out.ReadFrom(resp.Body)
	return resp, out.Bytes()
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	start := now.Add(-30 * time.Minute)
	for i := 0; i < 180; i++ {
		state := model.StateFocused
		if i >= 120 {
			state = model.StateDistracted
		}
		_, err := f.store.AppendState(ctx, model.IntegratedState{
			State: state, Confidence: 0.8, Source: model.SourceRule, Timestamp: start.Add(time.Duration(i) * 10 * time.Second),
		})
		require.NoError(t, err)
	}
	require.NoError(t, f.store.SaveNotification(ctx, model.Notification{
		ID: "old", Type: model.NotifyDistracted, Message: "m", Timestamp: now.Add(-20 * time.Minute),
	}))
	require.NoError(t, f.store.SaveNotification(ctx, model.Notification{
		ID: "recent", Type: model.NotifyDistracted, Message: "m", Timestamp: now.Add(-time.Minute),
	}))
}

func TestHealthAndState(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)

	resp, body = f.do(t, http.MethodGet, "/state", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var st model.IntegratedState
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, model.StateUnknown, st.State)

	f.engine.last = &model.IntegratedState{State: model.StateFocused, Confidence: 0.9, Source: model.SourceRule, Timestamp: now}
	_, body = f.do(t, http.MethodGet, "/state", nil)
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, model.StateFocused, st.State)

	resp, _ = f.do(t, http.MethodPost, "/state", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "sqlite", out["storage"])
	assert.Contains(t, out, "engine")
	assert.Contains(t, out, "metrics")
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	resp, body := f.do(t, http.MethodGet, "/history?limit=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		StateLog      []model.StateLogEntry `json:"state_log"`
		Notifications []model.Notification  `json:"notifications"`
		Count         int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 10, out.Count)
	assert.Equal(t, model.StateDistracted, out.StateLog[9].State)
	assert.Len(t, out.Notifications, 2)

	start := now.Add(-30 * time.Minute).Unix()
	path := "/history?start=" + itoa(start) + "&end=" + itoa(start+50)
	_, body = f.do(t, http.MethodGet, path, nil)
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 6, out.Count)

	resp, _ = f.do(t, http.MethodGet, "/history?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/history?start=soon", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestBucketedHistory(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	start := now.Add(-30 * time.Minute).Unix()
	end := now.Unix()

	resp, body := f.do(t, http.MethodGet, "/history/bucketed?start="+itoa(start)+"&end="+itoa(end), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Segments []model.Segment `json:"segments"`
		Count    int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Equal(t, 2, out.Count)
	assert.Equal(t, model.StateFocused, out.Segments[0].State)
	assert.Equal(t, 20.0, out.Segments[0].DurationMin)
	assert.Equal(t, model.StateDistracted, out.Segments[1].State)

	resp, _ = f.do(t, http.MethodGet, "/history/bucketed?start="+itoa(start)+"&end="+itoa(end)+"&bucket_minutes=61", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/history/bucketed?start="+itoa(start), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDailyStatsAndReport(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	resp, body := f.do(t, http.MethodGet, "/daily-stats?date=2024-02-14", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats model.DailyStats
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, "2024-02-14", stats.Date)
	assert.Greater(t, stats.FocusedMinutes, 0.0)
	assert.Equal(t, 2, stats.NotificationCount)

	resp, _ = f.do(t, http.MethodGet, "/daily-stats?date=14.02.2024", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/reports/generate?date=2024-02-14", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summary model.DailySummary
	require.NoError(t, json.Unmarshal(body, &summary))
	require.NotNil(t, summary.Report)
	assert.Equal(t, history.ReportSourceLocal, summary.Report.Source)

	cached, ok, err := f.store.DailySummary(context.Background(), "2024-02-14")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotNil(t, cached.Report)
}

func TestNotifications(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	_, body := f.do(t, http.MethodGet, "/notifications", nil)
	var list []model.Notification
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 2)

	_, body = f.do(t, http.MethodGet, "/notifications/pending", nil)
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "recent", list[0].ID)

	resp, body := f.do(t, http.MethodPost, "/notifications/recent/respond", map[string]string{"action": "accepted"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "accepted")

	_, body = f.do(t, http.MethodGet, "/notifications/pending", nil)
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Empty(t, list)

	resp, _ = f.do(t, http.MethodPost, "/notifications/old/respond", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	all, err := f.store.ListNotifications(context.Background(), time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	require.NotNil(t, all[0].UserAction)
	assert.Equal(t, model.ActionDismissed, *all[0].UserAction)

	resp, _ = f.do(t, http.MethodPost, "/notifications/missing/respond", map[string]string{"action": "snoozed"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/notifications/recent/respond", map[string]string{"action": "ignored"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSettings(t *testing.T) {
	f := newFixture(t)
	_, body := f.do(t, http.MethodGet, "/settings", nil)
	var got settingsResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 15, got.DrowsyCooldownMinutes)
	assert.Equal(t, 16, got.OverFocusThresholdBuckets)

	resp, body := f.do(t, http.MethodPut, "/settings", map[string]any{
		"drowsy_cooldown_minutes":  5,
		"drowsy_trigger_buckets":   3,
		"integration_interval_sec": 5,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 5, got.DrowsyCooldownMinutes)
	assert.Equal(t, 3, got.DrowsyTriggerBuckets)
	assert.Equal(t, 5*time.Minute, f.cfg.Get().Notifications.DrowsyCooldown)
	require.NotNil(t, f.engine.applied)
	assert.Equal(t, 5*time.Second, f.engine.applied.Engine.IntegrationInterval)

	resp, _ = f.do(t, http.MethodPut, "/settings", map[string]any{"over_focus_threshold_buckets": 40})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 16, f.cfg.Get().Notifications.OverFocusThresholdBuckets)
}

func TestSettingsSaveLeavesOverridesInMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	mgr, err := config.NewManager(path)
	require.NoError(t, err)
	require.NoError(t, mgr.SetOverlay(func(c *config.Config) { c.Arbitration.APIKey = "sk-from-env" }))
	eng := &fakeEngine{}
	store := storage.NewMemory(10)
	s := NewServer(Deps{
		Config:     mgr,
		Engine:     eng,
		Store:      store,
		Summarizer: history.NewSummarizer(store, time.UTC, history.DefaultOptions(), nil),
		Metrics:    metrics.NewStore(),
		Now:        func() time.Time { return now },
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	f := &fixture{srv: srv, store: store, engine: eng, cfg: mgr}

	resp, _ := f.do(t, http.MethodPut, "/settings", map[string]any{"max_per_day": 4})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk-from-env")
	saved, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, saved.Notifications.MaxPerDay)
	assert.Empty(t, saved.Arbitration.APIKey)

	assert.Equal(t, "sk-from-env", mgr.Get().Arbitration.APIKey)
	assert.Equal(t, 4, mgr.Get().Notifications.MaxPerDay)
	require.NotNil(t, eng.applied)
	assert.Equal(t, "sk-from-env", eng.applied.Arbitration.APIKey)
}

func TestEngineControl(t *testing.T) {
	f := newFixture(t)
	message := func(path string) string {
		resp, body := f.do(t, http.MethodPost, path, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out actionResponse
		require.NoError(t, json.Unmarshal(body, &out))
		return out.Message
	}
	assert.Equal(t, "Not monitoring", message("/engine/pause"))
	assert.Equal(t, "Monitoring started", message("/engine/start"))
	assert.Equal(t, "Already running", message("/engine/start"))
	assert.Equal(t, "Monitoring paused", message("/engine/pause"))
	assert.Equal(t, "Already paused", message("/engine/pause"))
	assert.Equal(t, "Monitoring resumed", message("/engine/resume"))
	assert.Equal(t, "Not paused", message("/engine/resume"))
	assert.Equal(t, "Monitoring stopped", message("/engine/stop"))
	assert.Equal(t, "Already stopped", message("/engine/stop"))
	assert.Equal(t, 1, f.engine.starts)

	resp, _ := f.do(t, http.MethodPost, "/engine/reboot", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/engine/start", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
