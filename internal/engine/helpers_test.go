package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/classwatch/internal/concept"
	"github.com/roach88/classwatch/internal/ir"
)

// box is a test provider whose actions echo their input as output.
// Actions named "silent*" leave output unset and "fail*" return an error.
// The "_calls" query reports how often an action ran.
type box struct {
	*concept.Table

	mu    sync.Mutex
	calls map[string]int
}

func newBox(t testing.TB, name string, actions ...string) *box {
	t.Helper()
	b := &box{calls: make(map[string]int)}

	ops := make([]concept.Op, 0, len(actions)+1)
	for _, action := range actions {
		ops = append(ops, concept.Action(action, b.handler(action), nil))
	}
	ops = append(ops, concept.Query("_calls", b.callsQuery, concept.Args(concept.Arg("action", "string")), concept.Arg("n", "int")))

	table, err := concept.Define(name, "test provider", ops...)
	require.NoError(t, err)
	b.Table = table
	return b
}

func (b *box) handler(action string) concept.Handler {
	return func(_ context.Context, in ir.IRObject) (ir.IRObject, error) {
		b.mu.Lock()
		b.calls[action]++
		b.mu.Unlock()

		switch {
		case strings.HasPrefix(action, "silent"):
			return nil, nil
		case strings.HasPrefix(action, "fail"):
			return nil, errors.New("boom")
		}
		return in.Clone(), nil
	}
}

func (b *box) callsQuery(_ context.Context, in ir.IRObject) (ir.IRObject, error) {
	action, _ := in.GetString("action")
	b.mu.Lock()
	defer b.mu.Unlock()
	return ir.IRObject{"n": ir.IRInt(b.calls[action])}, nil
}

func (b *box) count(action string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[action]
}

// emit returns an effect producer with a fixed effect list.
func emit(effects ...Effect) EffectFunc {
	return func(*Frame) []Effect { return effects }
}

func newTestEngine(t testing.TB, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithFlowGenerator(NewSequentialGenerator("flow")),
		WithIDGenerator(NewSequentialGenerator("rec")),
	}
	return New(append(base, opts...)...)
}

// stepClock is a manual wall clock.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
	by  time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.by)
	return c.now
}

// fakeObserver counts observer calls.
type fakeObserver struct {
	mu         sync.Mutex
	dispatched int
	dispErrors int
	fired      map[string]int
	dedup      map[string]int
	failed     map[string]int
	cascades   []CascadeStats
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{fired: map[string]int{}, dedup: map[string]int{}, failed: map[string]int{}}
}

func (o *fakeObserver) Dispatched(_, _ string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatched++
	if err != nil {
		o.dispErrors++
	}
}

func (o *fakeObserver) RuleFired(rule string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fired[rule]++
}

func (o *fakeObserver) RuleDeduplicated(rule string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dedup[rule]++
}

func (o *fakeObserver) EffectFailed(rule string, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed[rule]++
}

func (o *fakeObserver) CascadeFinished(_ string, stats CascadeStats) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cascades = append(o.cascades, stats)
}

// fakeRecorder keeps exported records and firings in memory.
type fakeRecorder struct {
	mu      sync.Mutex
	records []ir.ActionRecord
	firings []ir.Firing
}

func (r *fakeRecorder) RecordAction(_ context.Context, rec ir.ActionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *fakeRecorder) RecordFiring(_ context.Context, f ir.Firing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.firings = append(r.firings, f)
	return nil
}
