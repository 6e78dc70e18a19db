package gateway

import (
	"bytes"
	"context"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/classwatch/internal/concept"
	"github.com/roach88/classwatch/internal/engine"
	"github.com/roach88/classwatch/internal/ir"
	"github.com/roach88/classwatch/internal/logging"
	"github.com/roach88/classwatch/internal/metrics"
	"github.com/roach88/classwatch/internal/providers"
	"github.com/roach88/classwatch/internal/syncs"
)

type fixture struct {
	eng     *engine.Engine
	api     *providers.API
	assoc   *providers.Associator
	metrics *metrics.Metrics
	server  *Server
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()

	model := providers.NewScriptedModel([]providers.Box{
		{X1: 10, Y1: 5, X2: 40, Y2: 60, Class: providers.ClassPerson, Conf: 0.9},
		{X1: 20, Y1: 30, X2: 28, Y2: 38, Class: providers.ClassCellPhone, Conf: 0.7},
	})
	open := func(string) (providers.Source, error) { return providers.NewSyntheticSource(64, 64), nil }

	f := &fixture{
		eng:     engine.New(engine.WithLogger(logging.Discard())),
		api:     providers.NewAPI(),
		assoc:   providers.NewAssociator(),
		metrics: metrics.New(),
	}
	for _, p := range []concept.Provider{
		providers.NewTicker(),
		providers.NewCamera(open),
		providers.NewDetector(model),
		f.assoc,
		providers.NewRenderer(),
		providers.NewCounter(),
		f.api,
	} {
		require.NoError(t, f.eng.RegisterConcept(p))
	}
	require.NoError(t, syncs.Register(f.eng, syncs.Options{}))

	cfg := Config{
		Engine:         f.eng,
		API:            f.api,
		Metrics:        f.metrics,
		MetricsHandler: f.metrics.Handler(),
		Logger:         logging.Discard(),
		StreamInterval: 5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(cfg)
	require.NoError(t, err)
	f.server = srv
	return f
}

func (f *fixture) tick(t *testing.T, key string) {
	t.Helper()
	_, err := f.eng.Invoke(context.Background(), "Ticker", "tick", ir.IRObject{"key": ir.IRString(key)}, "")
	require.NoError(t, err)
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNewRequiresEngine(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestCount(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get("/count")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"using":0}`, rec.Body.String())

	f.tick(t, "capture")
	f.tick(t, "detect")

	rec = f.get("/count")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"using":1}`, rec.Body.String())
}

func TestRequestsReleaseFlowsAndCallbacks(t *testing.T) {
	f := newFixture(t, nil)

	for range 3 {
		require.Equal(t, http.StatusOK, f.get("/count").Code)
	}
	assert.Eventually(t, func() bool {
		return len(f.eng.Flows()) == 0 && f.api.Pending() == 0
	}, time.Second, time.Millisecond)
}

func TestFrameBeforeCapture(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get("/frame.jpg")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestFrameAfterCapture(t *testing.T) {
	f := newFixture(t, nil)
	f.tick(t, "capture")

	rec := f.get("/frame.jpg?ts=123")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	img, err := jpeg.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
}

func TestIndex(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get("/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `<span id="count">0</span>`)
}

func TestUnknownPath(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusNotFound, f.get("/nope").Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get("/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestMetricsCountsRequests(t *testing.T) {
	f := newFixture(t, nil)
	f.get("/count")
	f.get("/frame.jpg")
	f.get("/nope")

	rec := f.get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `classwatch_gateway_requests_total{path="/count",status="200"} 1`)
	assert.Contains(t, body, `classwatch_gateway_requests_total{path="/frame.jpg",status="503"} 1`)
	assert.Contains(t, body, `classwatch_gateway_requests_total{path="other",status="404"} 1`)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.RateLimit = 1 })

	assert.Equal(t, http.StatusOK, f.get("/count").Code)
	assert.Equal(t, http.StatusTooManyRequests, f.get("/count").Code)
	assert.Equal(t, http.StatusOK, f.get("/healthz").Code)
}

// blockingEngine never finishes a dispatch before its context ends.
type blockingEngine struct{}

func (blockingEngine) Invoke(ctx context.Context, _, _ string, _ ir.IRObject, _ string) (ir.ActionRecord, error) {
	<-ctx.Done()
	return ir.ActionRecord{}, ctx.Err()
}

func (blockingEngine) Query(context.Context, string, string, ir.IRObject) (ir.IRObject, error) {
	return ir.IRObject{}, nil
}

func (blockingEngine) Forget(string) {}

func TestReplyTimeout(t *testing.T) {
	srv, err := New(Config{
		Engine:       blockingEngine{},
		Logger:       logging.Discard(),
		ReplyTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/count", nil))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestStream(t *testing.T) {
	f := newFixture(t, nil)
	f.tick(t, "capture")
	f.tick(t, "detect")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "--frame\r\nContent-Type: image/jpeg\r\n"))
	assert.GreaterOrEqual(t, strings.Count(body, "--frame\r\n"), 1)
}

// recordingEngine notes every query it forwards.
type recordingEngine struct {
	Engine

	mu      sync.Mutex
	queries []string
}

func (r *recordingEngine) Query(ctx context.Context, provider, query string, args ir.IRObject) (ir.IRObject, error) {
	r.mu.Lock()
	r.queries = append(r.queries, provider+"."+query)
	r.mu.Unlock()
	return r.Engine.Query(ctx, provider, query, args)
}

func (r *recordingEngine) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.queries...)
}

func streamOnce(t *testing.T, srv *Server) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream", nil).WithContext(ctx))

	body := rec.Body.Bytes()
	head := []byte("\r\n\r\n")
	start := bytes.Index(body, head)
	require.Positive(t, start, "no part in stream")
	start += len(head)
	end := bytes.Index(body[start:], []byte("\r\n--frame"))
	if end < 0 {
		end = len(body) - start - 2
	}
	return body[start : start+end]
}

func TestStreamOverlaysThroughEngineQueries(t *testing.T) {
	var rec *recordingEngine
	f := newFixture(t, func(c *Config) {
		rec = &recordingEngine{Engine: c.Engine}
		c.Engine = rec
	})
	f.tick(t, "capture")
	f.tick(t, "detect")

	part := streamOnce(t, f.server)
	_, err := jpeg.Decode(bytes.NewReader(part))
	require.NoError(t, err)

	seen := rec.seen()
	assert.Contains(t, seen, "Associator._latest")
	assert.Contains(t, seen, "Renderer._overlay")
}

func TestStreamSkipsOverlayWithoutDetections(t *testing.T) {
	var rec *recordingEngine
	f := newFixture(t, func(c *Config) {
		rec = &recordingEngine{Engine: c.Engine}
		c.Engine = rec
	})
	f.tick(t, "capture")

	part := streamOnce(t, f.server)
	_, err := jpeg.Decode(bytes.NewReader(part))
	require.NoError(t, err)

	seen := rec.seen()
	assert.Contains(t, seen, "Associator._latest")
	assert.NotContains(t, seen, "Renderer._overlay")
}

func TestStreamWithoutFrames(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestEncodeBody(t *testing.T) {
	data, err := encodeBody(ir.IRObject{"image": ir.IRBytes{1, 2}}, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, data)

	_, err = encodeBody(ir.IRObject{}, "image/jpeg")
	require.Error(t, err)

	data, err = encodeBody(ir.IRObject{"html": ir.IRString("<p>")}, "text/html; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, "<p>", string(data))

	data, err = encodeBody(ir.IRObject{"using": ir.IRInt(2)}, "application/json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"using":2}`, string(data))
}
