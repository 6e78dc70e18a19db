package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/classwatch/internal/concept"
	"github.com/roach88/classwatch/internal/ir"
)

// Engine is the reactive rule engine.
//
// Thread-safety model:
//   - Invoke, Run, Query, StartFlow, Log, Forget: safe from any goroutine
//   - RegisterConcept, RegisterSync: safe from any goroutine, but only until
//     the first Invoke or Query seals the engine
//
// One mutex serializes dispatch+append and emitted-set updates across all
// flows. Matching, guards and effect producers run outside it.
//
// INVARIANTS:
//   - rules slice order NEVER changes after sealing
//   - provider and rule names are unique and NFC-normalized
//   - a flow's log is append-only; Seq strictly increases, At never decreases
type Engine struct {
	mu        sync.Mutex
	sealed    bool
	providers map[string]concept.Provider
	order     []string
	rules     []Rule
	ruleNames map[string]struct{}
	flows     map[string]*flowState

	clock    *Clock
	flowGen  TokenGenerator
	idGen    TokenGenerator
	now      func() time.Time
	logger   *slog.Logger
	observer Observer
	recorder Recorder
	maxSteps int
}

// flowState is everything the engine keeps per flow. Guarded by Engine.mu.
type flowState struct {
	log     []ir.ActionRecord
	emitted emittedSet
	quota   *QuotaEnforcer
	lastAt  time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMaxSteps sets the maximum appends per flow.
//
// Default: 1000 steps (DefaultMaxSteps)
// Use WithMaxSteps(10) for testing quota enforcement.
func WithMaxSteps(maxSteps int) Option {
	return func(e *Engine) {
		e.maxSteps = maxSteps
	}
}

// WithObserver installs a metrics observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithRecorder installs an audit recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithFlowGenerator sets the flow token generator. Default: UUIDv7Generator.
func WithFlowGenerator(g TokenGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.flowGen = g
		}
	}
}

// WithIDGenerator sets the record ID generator. Default: UUIDv7Generator.
func WithIDGenerator(g TokenGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.idGen = g
		}
	}
}

// WithNow sets the wall clock used to stamp records. Default: time.Now.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an empty engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		providers: make(map[string]concept.Provider),
		ruleNames: make(map[string]struct{}),
		flows:     make(map[string]*flowState),
		clock:     NewClock(),
		flowGen:   UUIDv7Generator{},
		idGen:     UUIDv7Generator{},
		now:       time.Now,
		logger:    slog.Default(),
		observer:  nopObserver{},
		maxSteps:  DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterConcept adds a provider to the registry.
func (e *Engine) RegisterConcept(p concept.Provider) error {
	name := ir.NormalizeName(p.Name())

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sealed {
		return fmt.Errorf("register provider %s: %w", name, ErrSealed)
	}
	if name == "" {
		return fmt.Errorf("register provider: %w: empty name", concept.ErrDefinition)
	}
	if _, dup := e.providers[name]; dup {
		return fmt.Errorf("register provider %s: %w", name, ErrDuplicate)
	}
	e.providers[name] = p
	e.order = append(e.order, name)
	return nil
}

// RegisterSync appends a rule. Rules are evaluated in registration order.
func (e *Engine) RegisterSync(r Rule) error {
	nr, err := r.normalized()
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sealed {
		return fmt.Errorf("register rule %s: %w", nr.Name, ErrSealed)
	}
	if _, dup := e.ruleNames[nr.Name]; dup {
		return fmt.Errorf("register rule %s: %w", nr.Name, ErrDuplicate)
	}
	e.ruleNames[nr.Name] = struct{}{}
	e.rules = append(e.rules, nr)
	return nil
}

// StartFlow allocates a fresh flow token.
func (e *Engine) StartFlow() string {
	return e.flowGen.Generate()
}

// Result is the outcome of Run: the appended record and the cascade it set off.
type Result struct {
	Record  ir.ActionRecord
	Cascade CascadeStats
}

// Invoke dispatches provider.operation with input in flow ("" starts a new
// flow), appends the record, evaluates the flow to its fixpoint and returns
// the record. A failed dispatch appends nothing.
func (e *Engine) Invoke(ctx context.Context, provider, operation string, input ir.IRObject, flow string) (ir.ActionRecord, error) {
	res, err := e.Run(ctx, provider, operation, input, flow)
	return res.Record, err
}

// Run is Invoke that also reports cascade statistics.
func (e *Engine) Run(ctx context.Context, provider, operation string, input ir.IRObject, flow string) (Result, error) {
	rec, err := e.dispatch(ctx, provider, operation, input, flow, true)
	if err != nil {
		return Result{}, err
	}
	stats := e.evaluate(ctx, rec.Flow)
	return Result{Record: rec, Cascade: stats}, nil
}

// Query runs a pure query against a provider. Queries do not touch any flow
// and do not take the engine mutex.
func (e *Engine) Query(ctx context.Context, provider, name string, input ir.IRObject) (ir.IRObject, error) {
	provider = ir.NormalizeName(provider)

	e.mu.Lock()
	e.sealed = true
	p, ok := e.providers[provider]
	e.mu.Unlock()

	if !ok {
		return nil, &concept.OperationError{Provider: provider, Operation: name, Err: concept.ErrNotFound}
	}
	return p.Query(ctx, name, input)
}

// dispatch performs one operation and appends its record.
// With create=false the flow must already exist.
func (e *Engine) dispatch(ctx context.Context, provider, operation string, input ir.IRObject, flow string, create bool) (ir.ActionRecord, error) {
	provider = ir.NormalizeName(provider)
	operation = ir.NormalizeName(operation)
	if input == nil {
		input = ir.IRObject{}
	}
	input = input.Clone()

	e.mu.Lock()
	e.sealed = true

	p, ok := e.providers[provider]
	if !ok {
		e.mu.Unlock()
		err := &concept.OperationError{Provider: provider, Operation: operation, Err: concept.ErrNotFound}
		e.observer.Dispatched(provider, operation, 0, err)
		return ir.ActionRecord{}, err
	}

	if flow == "" {
		flow = e.flowGen.Generate()
	}
	st, fresh := e.flows[flow], false
	if st == nil {
		if !create {
			e.mu.Unlock()
			return ir.ActionRecord{}, fmt.Errorf("flow %s: %w", flow, concept.ErrNotFound)
		}
		st = &flowState{emitted: make(emittedSet), quota: NewQuotaEnforcer(e.maxSteps)}
		e.flows[flow] = st
		fresh = true
	}
	if err := st.quota.Check(flow); err != nil {
		e.mu.Unlock()
		return ir.ActionRecord{}, err
	}

	start := time.Now()
	out, err := p.Perform(ctx, operation, input)
	elapsed := time.Since(start)
	if err != nil {
		st.quota.Release()
		if fresh {
			delete(e.flows, flow)
		}
		e.mu.Unlock()
		e.observer.Dispatched(provider, operation, elapsed, err)
		return ir.ActionRecord{}, err
	}

	at := e.now()
	if at.Before(st.lastAt) {
		at = st.lastAt
	}
	st.lastAt = at

	rec := ir.ActionRecord{
		ID:        e.idGen.Generate(),
		Provider:  provider,
		Operation: operation,
		Input:     input,
		Output:    out.Clone(),
		Flow:      flow,
		Seq:       e.clock.Next(),
		At:        at,
	}
	st.log = append(st.log, rec)
	e.mu.Unlock()

	e.observer.Dispatched(provider, operation, elapsed, nil)
	e.logger.Debug("record appended",
		"flow", flow,
		"record_id", rec.ID,
		"provider", provider,
		"operation", operation,
		"seq", rec.Seq,
	)
	if e.recorder != nil {
		if err := e.recorder.RecordAction(context.WithoutCancel(ctx), rec); err != nil {
			e.logger.Warn("record export failed", "flow", flow, "record_id", rec.ID, "error", err)
		}
	}
	return rec.Clone(), nil
}

// snapshot copies a flow's log. Returns false if the flow is unknown.
func (e *Engine) snapshot(flow string) ([]ir.ActionRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.flows[flow]
	if !ok {
		return nil, false
	}
	return slices.Clone(st.log), true
}

// Log returns a deep copy of a flow's records in append order.
func (e *Engine) Log(flow string) []ir.ActionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.flows[flow]
	if !ok {
		return nil
	}
	out := make([]ir.ActionRecord, len(st.log))
	for i, rec := range st.log {
		out[i] = rec.Clone()
	}
	return out
}

// Forget releases a flow's log, emitted-set and quota. The token is never
// handed out again; invoking it later starts an empty log under that token.
func (e *Engine) Forget(flow string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.flows, flow)
}

// Flows returns the tokens of all flows currently held, sorted.
func (e *Engine) Flows() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]string, 0, len(e.flows))
	for f := range e.flows {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// EmittedCount returns the number of effect keys fired in a flow.
func (e *Engine) EmittedCount(flow string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st, ok := e.flows[flow]; ok {
		return len(st.emitted)
	}
	return 0
}

// Providers returns the registered providers in registration order.
func (e *Engine) Providers() []concept.Provider {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]concept.Provider, len(e.order))
	for i, name := range e.order {
		out[i] = e.providers[name]
	}
	return out
}

// Rules returns the registered rule names in evaluation order.
func (e *Engine) Rules() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]string, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Name
	}
	return out
}

// MaxSteps returns the configured maximum steps per flow.
func (e *Engine) MaxSteps() int {
	return e.maxSteps
}

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}
