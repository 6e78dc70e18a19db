package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/classwatch/internal/concept"
	"github.com/roach88/classwatch/internal/engine"
	"github.com/roach88/classwatch/internal/ir"
)

func TestObserverCounts(t *testing.T) {
	m := New()

	m.Dispatched("Ticker", "tick", 2*time.Millisecond, nil)
	m.Dispatched("Ticker", "tick", time.Millisecond, nil)
	m.Dispatched("Camera", "capture", time.Millisecond, errors.New("no device"))
	m.RuleFired("TickToCapture")
	m.RuleDeduplicated("TickToCapture")
	m.EffectFailed("TickToCapture", errors.New("boom"))
	m.CascadeFinished("flow-1", engine.CascadeStats{Passes: 2})
	m.CascadeFinished("flow-2", engine.CascadeStats{Passes: 3, Err: &engine.StepsExceededError{Flow: "flow-2", Steps: 5, Limit: 5}})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.records.WithLabelValues("Ticker", "tick")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.records.WithLabelValues("Camera", "capture")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ruleFirings.WithLabelValues("TickToCapture")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ruleDedup.WithLabelValues("TickToCapture")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.effectFailure.WithLabelValues("TickToCapture")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.quotaStops))
	assert.Equal(t, 2, testutil.CollectAndCount(m.dispatchTime))
}

func TestRequestServed(t *testing.T) {
	m := New()

	m.RequestServed("/count", http.StatusOK)
	m.RequestServed("/count", http.StatusOK)
	m.RequestServed("/frame.jpg", http.StatusGatewayTimeout)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("/count", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/frame.jpg", "504")))
}

func TestEngineReportsToMetrics(t *testing.T) {
	m := New()
	e := engine.New(engine.WithObserver(m))

	echo := concept.MustDefine("Echo", "echoes",
		concept.Action("say", func(_ context.Context, in ir.IRObject) (ir.IRObject, error) {
			return in, nil
		}, concept.Args(concept.Arg("text", "string")), concept.Arg("text", "string")),
		concept.Action("log", func(context.Context, ir.IRObject) (ir.IRObject, error) {
			return ir.IRObject{}, nil
		}, nil),
	)
	require.NoError(t, e.RegisterConcept(echo))
	require.NoError(t, e.RegisterSync(engine.Rule{
		Name: "LogSay",
		When: []engine.WhenPattern{{Provider: "Echo", Operation: "say"}},
		Effect: func(*engine.Frame) []engine.Effect {
			return []engine.Effect{{Provider: "Echo", Operation: "log", Input: ir.IRObject{}}}
		},
	}))

	_, err := e.Invoke(context.Background(), "Echo", "say", ir.IRObject{"text": ir.IRString("hi")}, "")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.records.WithLabelValues("Echo", "say")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.records.WithLabelValues("Echo", "log")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ruleFirings.WithLabelValues("LogSay")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.cascadePasses))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RuleFired("GetCount")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `classwatch_rule_firings_total{rule="GetCount"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}
