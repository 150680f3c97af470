package ingest

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidekick/internal/config"
	"sidekick/internal/metrics"
	"sidekick/internal/model"
	"sidekick/internal/normalize"
)

var fixedNow = time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC)

func testOpts() DecodeOptions {
	return DecodeOptions{Now: fixedNow, MaxFutureSkew: 2 * time.Second, Location: time.UTC}
}

func facialLine(ts int) string {
	return fmt.Sprintf(`{"kind":"facial","facial":{"timestamp":%d,"ear_average":0.3,"perclos":0.1,"head_pose":{"yaw":5,"pitch":2,"roll":0}}}`, ts)
}

func TestDecodeSignalFacial(t *testing.T) {
	sig, err := DecodeSignal([]byte(facialLine(1707868800)), testOpts())
	require.NoError(t, err)
	assert.Equal(t, model.SignalFacial, sig.Kind)
	require.NotNil(t, sig.Facial)
	assert.Nil(t, sig.Usage)
	assert.Equal(t, time.Unix(1707868800, 0).UTC(), sig.Facial.ObservedAt)
	require.NotNil(t, sig.Facial.EARAverage)
	assert.Equal(t, 0.3, *sig.Facial.EARAverage)
	assert.True(t, sig.Facial.Detected())
}

func TestDecodeSignalTimestamps(t *testing.T) {
	future := fixedNow.Add(time.Hour).Unix()
	sig, err := DecodeSignal([]byte(facialLine(int(future))), testOpts())
	require.NoError(t, err)
	assert.Equal(t, fixedNow, sig.Facial.ObservedAt)

	sig, err = DecodeSignal([]byte(`{"kind":"usage","usage":{"active_app":"code","idle_seconds":3}}`), testOpts())
	require.NoError(t, err)
	assert.Equal(t, fixedNow, sig.Usage.ObservedAt)
	assert.Equal(t, "code", sig.Usage.ActiveApp)

	sig, err = DecodeSignal([]byte(`{"kind":"usage","usage":{"timestamp":"2024-02-13T23:59:00Z","is_idle":true}}`), testOpts())
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(-time.Minute), sig.Usage.ObservedAt)
	assert.True(t, sig.Usage.IsIdle)
}

func TestDecodeSignalRejects(t *testing.T) {
	cases := map[string]string{
		"not json":       `{"kind":`,
		"missing kind":   `{"facial":{"timestamp":1707868800}}`,
		"unknown kind":   `{"kind":"audio"}`,
		"missing body":   `{"kind":"usage"}`,
		"both snapshots": `{"kind":"facial","facial":{},"usage":{}}`,
		"ratio range":    `{"kind":"facial","facial":{"perclos":1.5}}`,
		"negative idle":  `{"kind":"usage","usage":{"idle_seconds":-1}}`,
		"bad timestamp":  `{"kind":"usage","usage":{"timestamp":"yesterday"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeSignal([]byte(body), testOpts())
			require.ErrorIs(t, err, normalize.ErrInvalidSignal)
		})
	}
}

func TestDecodeSignalsArray(t *testing.T) {
	body := "[" + facialLine(1707868800) + `,{"kind":"usage","usage":{"idle_seconds":-4}},` + facialLine(1707868801) + "]"
	sigs, errs, err := DecodeSignals([]byte(body), testOpts())
	require.NoError(t, err)
	assert.Len(t, sigs, 2)
	assert.Len(t, errs, 1)

	_, _, err = DecodeSignals([]byte("  "), testOpts())
	require.Error(t, err)
	_, _, err = DecodeSignals([]byte("[{"), testOpts())
	require.Error(t, err)
}

func TestDecodeBareSnapshots(t *testing.T) {
	sig, err := DecodeFacial([]byte(`{"timestamp":1707868800.5,"face_detected":false}`), testOpts())
	require.NoError(t, err)
	assert.Equal(t, model.SignalFacial, sig.Kind)
	assert.False(t, sig.Facial.Detected())
	assert.Equal(t, time.Unix(1707868800, 5e8).UTC(), sig.Facial.ObservedAt)

	sig, err = DecodeUsage([]byte(`{"timestamp":1707868800000,"app_switches_in_window":7}`), testOpts())
	require.NoError(t, err)
	assert.Equal(t, 7, sig.Usage.AppSwitches)
	assert.Equal(t, time.Unix(1707868800, 0).UTC(), sig.Usage.ObservedAt)
}

func TestDedupeCache(t *testing.T) {
	d := NewDedupeCache()
	assert.False(t, d.Seen("a", fixedNow, time.Second))
	assert.True(t, d.Seen("a", fixedNow.Add(500*time.Millisecond), time.Second))
	assert.False(t, d.Seen("a", fixedNow.Add(3*time.Second), time.Second))
}

func TestSignalKeyIgnoresSource(t *testing.T) {
	a, err := DecodeSignal([]byte(facialLine(1707868800)), testOpts())
	require.NoError(t, err)
	b := a
	b.Source = "kafka"
	assert.Equal(t, SignalKey(a), SignalKey(b))

	c, err := DecodeSignal([]byte(facialLine(1707868801)), testOpts())
	require.NoError(t, err)
	assert.NotEqual(t, SignalKey(a), SignalKey(c))
}

func newTestSink(t *testing.T, buffer int, mutate func(*config.Config)) (*Sink, chan model.Signal, *metrics.Store) {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	out := make(chan model.Signal, buffer)
	m := metrics.NewStore()
	s := NewSink(config.NewStaticManager(cfg), out, m, nil)
	s.now = func() time.Time { return fixedNow }
	return s, out, m
}

func TestSinkDropsDuplicates(t *testing.T) {
	s, out, m := newTestSink(t, 4, nil)
	ctx := context.Background()
	require.NoError(t, s.Accept(ctx, []byte(facialLine(1707868800)), "rest"))
	require.NoError(t, s.Accept(ctx, []byte(facialLine(1707868800)), "tcp_stream"))
	require.Len(t, out, 1)
	sig := <-out
	assert.Equal(t, "rest", sig.Source)
	assert.Equal(t, int64(1), m.Counter(metrics.SignalsAccepted))
	assert.Equal(t, int64(1), m.Counter(metrics.SignalsDuplicate))

	require.Error(t, s.Accept(ctx, []byte(`{"kind":"x"}`), "rest"))
	assert.Equal(t, int64(1), m.Counter(metrics.SignalsRejected))
}

func TestSinkClampedFutureTimestampsCollapse(t *testing.T) {
	s, out, m := newTestSink(t, 4, nil)
	ctx := context.Background()
	require.NoError(t, s.Accept(ctx, []byte(facialLine(1707868805)), "rest"))
	require.NoError(t, s.Accept(ctx, []byte(facialLine(1707868900)), "rest"))
	require.Len(t, out, 1)
	assert.Equal(t, fixedNow, (<-out).ObservedAt())
	assert.Equal(t, int64(1), m.Counter(metrics.SignalsDuplicate))

	s.now = func() time.Time { return fixedNow.Add(time.Minute) }
	require.NoError(t, s.Accept(ctx, []byte(facialLine(1707868900)), "rest"))
	require.Len(t, out, 1)
	assert.Equal(t, fixedNow.Add(time.Minute), (<-out).ObservedAt())
}

func TestSinkDropsWhenFull(t *testing.T) {
	s, out, m := newTestSink(t, 1, func(c *config.Config) { c.Ingest.DedupeWindow = 0 })
	ctx := context.Background()
	require.NoError(t, s.Accept(ctx, []byte(facialLine(1707868800)), "rest"))
	require.NoError(t, s.Accept(ctx, []byte(facialLine(1707868800)), "rest"))
	assert.Len(t, out, 1)
	assert.Equal(t, int64(1), m.Counter(metrics.SignalsDropped))
}

func TestRESTSignals(t *testing.T) {
	s, out, _ := newTestSink(t, 8, nil)
	mux := http.NewServeMux()
	NewRESTServer(s, nil).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/signals", "application/json",
		strings.NewReader("["+facialLine(1707868795)+","+facialLine(1707868790)+"]"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out, 2)

	resp, err = http.Post(srv.URL+"/signals/usage", "application/json",
		strings.NewReader(`{"timestamp":1707868780,"active_app":"term","idle_seconds":1}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out, 3)

	resp, err = http.Post(srv.URL+"/signals", "application/json", strings.NewReader(`{"kind":"facial","facial":{"perclos":3}}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/signals/facial")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func receive(t *testing.T, out <-chan model.Signal) model.Signal {
	t.Helper()
	select {
	case sig := <-out:
		return sig
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for signal")
	}
	return model.Signal{}
}

func TestTCPStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, out, _ := newTestSink(t, 8, func(c *config.Config) {
		c.Ingest.TCPStream.Enabled = true
		c.Ingest.TCPStream.Addr = "127.0.0.1:0"
	})
	addr, err := StartTCPStream(ctx, s.cfg, s, nil)
	require.NoError(t, err)
	require.NotNil(t, addr)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = fmt.Fprintf(conn, "%s\n\nnot json\n%s\n", facialLine(1707868800), facialLine(1707868801))
	require.NoError(t, err)

	first := receive(t, out)
	second := receive(t, out)
	assert.Equal(t, "tcp_stream", first.Source)
	assert.True(t, first.ObservedAt().Before(second.ObservedAt()))
}

func TestTCPStreamDisabled(t *testing.T) {
	s, _, _ := newTestSink(t, 1, nil)
	addr, err := StartTCPStream(context.Background(), s.cfg, s, nil)
	require.NoError(t, err)
	assert.Nil(t, addr)
}

func TestFileTailHandlesPartialLines(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	path := filepath.Join(t.TempDir(), "signals.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(facialLine(1707868800)+"\n"), 0o644))

	s, out, _ := newTestSink(t, 8, func(c *config.Config) {
		c.Ingest.FileTail.Enabled = true
		c.Ingest.FileTail.StartAtEnd = false
		c.Ingest.FileTail.Files = []string{path}
	})
	StartFileTail(ctx, s.cfg, s, nil)
	first := receive(t, out)
	assert.Equal(t, "file_tail", first.Source)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	line := facialLine(1707868700)
	_, err = f.WriteString(line[:20])
	require.NoError(t, err)
	time.Sleep(300 * time.Millisecond)
	select {
	case <-out:
		t.Fatal("partial line must not be submitted")
	default:
	}
	_, err = f.WriteString(line[20:] + "\n")
	require.NoError(t, err)

	second := receive(t, out)
	assert.Equal(t, time.Unix(1707868700, 0).UTC(), second.ObservedAt())
}
