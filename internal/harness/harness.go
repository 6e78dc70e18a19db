package harness

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/roach88/classwatch/internal/compiler"
	"github.com/roach88/classwatch/internal/concept"
	"github.com/roach88/classwatch/internal/engine"
	"github.com/roach88/classwatch/internal/ir"
	"github.com/roach88/classwatch/internal/logging"
	"github.com/roach88/classwatch/internal/providers"
	"github.com/roach88/classwatch/internal/syncs"
	"github.com/roach88/classwatch/internal/testutil"
)

// Option configures Run.
type Option func(*runConfig)

type runConfig struct {
	logger   *slog.Logger
	recorder engine.Recorder
}

// WithLogger routes engine and provider logs to l. Default: discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) { c.logger = l }
}

// WithRecorder also sends every record and firing to r, for example a
// trace store.
func WithRecorder(r engine.Recorder) Option {
	return func(c *runConfig) { c.recorder = r }
}

// Harness holds one scenario's engine and deterministic helpers.
type Harness struct {
	engine *engine.Engine
	flow   string
	clock  *testutil.ManualClock
	fired  *firingLog
	logger *slog.Logger
}

// Run executes a scenario on a fresh engine and returns its trace.
//
// An error means the scenario could not be set up (bad rule file, invalid
// provider script). Failed expectations and assertions are reported in the
// result instead.
func Run(ctx context.Context, sc *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: logging.Discard()}
	for _, opt := range opts {
		opt(&cfg)
	}

	h, err := setup(sc, cfg)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range sc.Steps {
		h.runStep(ctx, i, step, result)
	}

	result.Trace = h.trace()
	for _, msg := range EvaluateAssertions(result, sc.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func setup(sc *Scenario, cfg runConfig) (*Harness, error) {
	h := &Harness{
		flow:   testutil.NewFixedFlowGenerator(sc.FlowToken).Generate(),
		clock:  testutil.NewManualClock(testutil.Epoch, time.Millisecond),
		fired:  &firingLog{next: cfg.recorder, rules: make(map[string]string)},
		logger: cfg.logger,
	}

	engineOpts := []engine.Option{
		engine.WithLogger(cfg.logger),
		engine.WithFlowGenerator(testutil.NewFixedFlowGenerator(h.flow)),
		engine.WithIDGenerator(engine.NewSequentialGenerator("rec")),
		engine.WithNow(h.clock.Now),
		engine.WithRecorder(h.fired),
	}
	if sc.MaxSteps > 0 {
		engineOpts = append(engineOpts, engine.WithMaxSteps(sc.MaxSteps))
	}
	h.engine = engine.New(engineOpts...)

	if sc.Builtin {
		if err := h.registerBuiltins(sc); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedNames(sc.Providers) {
		table, err := buildProvider(name, sc.Providers[name])
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		if err := h.engine.RegisterConcept(table); err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
	}

	defs, err := loadRuleFiles(sc)
	if err != nil {
		return nil, err
	}
	if errs := compiler.Validate(defs, specsOf(h.engine)); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid rules:\n  %s", strings.Join(msgs, "\n  "))
	}

	if sc.Builtin {
		if err := syncs.Register(h.engine, syncs.Options{}, defs...); err != nil {
			return nil, err
		}
		return h, nil
	}
	for _, rule := range compiler.Rules(defs) {
		if err := h.engine.RegisterSync(rule); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// registerBuiltins registers the classwatch providers with sequential
// handles and a synthetic camera.
func (h *Harness) registerBuiltins(sc *Scenario) error {
	var model providers.Model = providers.NewScriptedModel()
	if sc.Detections != "" {
		m, err := providers.LoadScriptedModel(sc.resolve(sc.Detections))
		if err != nil {
			return err
		}
		model = m
	}
	seq := func(prefix string) providers.Option {
		return providers.WithIDs(engine.NewSequentialGenerator(prefix).Generate)
	}
	common := []providers.Option{providers.WithLogger(h.logger), providers.WithNow(h.clock.Peek)}
	with := func(prefix string) []providers.Option {
		return append([]providers.Option{seq(prefix)}, common...)
	}
	open := func(string) (providers.Source, error) { return providers.NewSyntheticSource(64, 64), nil }

	for _, p := range []concept.Provider{
		providers.NewTicker(),
		providers.NewCamera(open, with("frame")...),
		providers.NewDetector(model, with("det")...),
		providers.NewAssociator(with("assoc")...),
		providers.NewRenderer(with("render")...),
		providers.NewCounter(),
		providers.NewAPI(with("req")...),
	} {
		if err := h.engine.RegisterConcept(p); err != nil {
			return err
		}
	}
	return nil
}

func loadRuleFiles(sc *Scenario) ([]compiler.RuleDef, error) {
	var defs []compiler.RuleDef
	for _, path := range sc.Rules {
		resolved := sc.resolve(path)
		src, err := os.ReadFile(resolved)
		if err != nil {
			return nil, fmt.Errorf("read rule file: %w", err)
		}
		compiled, err := compiler.CompileSource(resolved, string(src))
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", path, err)
		}
		defs = append(defs, compiled...)
	}
	return defs, nil
}

func (h *Harness) runStep(ctx context.Context, i int, step Step, result *Result) {
	flow := step.Flow
	if flow == "" {
		flow = h.flow
	}
	args, err := ir.ObjectFromGo(step.Args)
	if err != nil {
		result.AddError(fmt.Sprintf("steps[%d]: args: %v", i, err))
		return
	}

	var out ir.IRObject
	target := step.Invoke
	if step.Query != "" {
		target = step.Query
		provider, name, _ := splitAction(step.Query)
		out, err = h.engine.Query(ctx, provider, name, args)
	} else {
		provider, operation, _ := splitAction(step.Invoke)
		var res engine.Result
		res, err = h.engine.Run(ctx, provider, operation, args, flow)
		if err == nil {
			out = res.Record.Output
			result.Cascades = append(result.Cascades, res.Cascade)
			checkQuota(i, step, res.Cascade, result)
		}
	}

	h.logger.Debug("step finished", "step", i, "action", target, "flow", flow, "err", err)

	if step.ExpectError != "" {
		switch {
		case err == nil:
			result.AddError(fmt.Sprintf("steps[%d] %s: expected error containing %q, got success", i, target, step.ExpectError))
		case !strings.Contains(err.Error(), step.ExpectError):
			result.AddError(fmt.Sprintf("steps[%d] %s: expected error containing %q, got %q", i, target, step.ExpectError, err))
		}
		return
	}
	if err != nil {
		result.AddError(fmt.Sprintf("steps[%d] %s: %v", i, target, err))
		return
	}
	if step.Expect != nil {
		want, err := ir.ObjectFromGo(step.Expect)
		if err != nil {
			result.AddError(fmt.Sprintf("steps[%d]: expect: %v", i, err))
			return
		}
		if !matches(out, want) {
			result.AddError(fmt.Sprintf("steps[%d] %s: output %s does not match %s", i, target, display(out), display(want)))
		}
	}
}

func checkQuota(i int, step Step, stats engine.CascadeStats, result *Result) {
	hit := engine.IsQuotaError(stats.Err)
	switch {
	case step.ExpectQuota && !hit:
		result.AddError(fmt.Sprintf("steps[%d] %s: expected the cascade to exceed the step quota", i, step.Invoke))
	case !step.ExpectQuota && hit:
		result.AddError(fmt.Sprintf("steps[%d] %s: %v", i, step.Invoke, stats.Err))
	}
}

// trace returns the scenario flow's records annotated with the rule that
// produced each.
func (h *Harness) trace() []TraceEvent {
	log := h.engine.Log(h.flow)
	events := make([]TraceEvent, len(log))
	for i, rec := range log {
		events[i] = TraceEvent{
			Seq:    rec.Seq,
			Action: actionName(rec.Provider, rec.Operation),
			Input:  rec.Input,
			Output: rec.Output,
			Rule:   h.fired.ruleFor(rec.ID),
		}
	}
	return events
}

// Engine exposes the engine after setup, for tests that inspect it.
func (h *Harness) Engine() *engine.Engine {
	return h.engine
}

// firingLog remembers which rule produced each record and forwards to an
// optional recorder.
type firingLog struct {
	next engine.Recorder

	mu    sync.Mutex
	rules map[string]string
}

func (l *firingLog) RecordAction(ctx context.Context, rec ir.ActionRecord) error {
	if l.next == nil {
		return nil
	}
	return l.next.RecordAction(ctx, rec)
}

func (l *firingLog) RecordFiring(ctx context.Context, f ir.Firing) error {
	if f.RecordID != "" {
		l.mu.Lock()
		l.rules[f.RecordID] = f.Rule
		l.mu.Unlock()
	}
	if l.next == nil {
		return nil
	}
	return l.next.RecordFiring(ctx, f)
}

func (l *firingLog) ruleFor(id string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rules[id]
}

func specsOf(e *engine.Engine) []ir.ConceptSpec {
	registered := e.Providers()
	specs := make([]ir.ConceptSpec, len(registered))
	for i, p := range registered {
		specs[i] = p.Spec()
	}
	return specs
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}
