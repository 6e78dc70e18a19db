package syncs

import (
	_ "embed"
	"fmt"
	"slices"

	"github.com/roach88/classwatch/internal/compiler"
	"github.com/roach88/classwatch/internal/engine"
)

//go:embed rules.cue
var rulesSource string

// DefaultDevice is the camera device captured when none is configured.
const DefaultDevice = "0"

// Order is the registration order of the built-in rules.
var Order = []string{
	"TickToCapture",
	"TickToDetect",
	"AssociateAfterDetect",
	"RenderAfterAssociate",
	"GetFrame",
	"GetCount",
	"IndexPage",
}

// Options configures the Go rules.
type Options struct {
	// Device is passed to Camera.capture.
	Device string
}

func (o Options) device() string {
	if o.Device == "" {
		return DefaultDevice
	}
	return o.Device
}

// Declarative compiles the embedded rule file.
func Declarative() ([]compiler.RuleDef, error) {
	defs, err := compiler.CompileSource("rules.cue", rulesSource)
	if err != nil {
		return nil, fmt.Errorf("compile embedded rules: %w", err)
	}
	return defs, nil
}

// Native returns the rules written in Go.
func Native(opts Options) []engine.Rule {
	return []engine.Rule{
		TickToCapture(opts.device()),
		GetFrame(),
		IndexPage(),
	}
}

// Rules assembles the full rule set: the Go rules, the embedded declarative
// rules, and extra (typically loaded from a rules directory), which override
// embedded rules by name.
func Rules(opts Options, extra ...compiler.RuleDef) ([]engine.Rule, error) {
	defs, err := Declarative()
	if err != nil {
		return nil, err
	}
	return assemble(Native(opts), Merge(defs, extra)), nil
}

// Register adds the full rule set to e in registration order.
func Register(e *engine.Engine, opts Options, extra ...compiler.RuleDef) error {
	rules, err := Rules(opts, extra...)
	if err != nil {
		return err
	}
	for _, r := range rules {
		if err := e.RegisterSync(r); err != nil {
			return fmt.Errorf("register %s: %w", r.Name, err)
		}
	}
	return nil
}

// Merge overlays extra onto base by rule name, keeping base positions.
func Merge(base, extra []compiler.RuleDef) []compiler.RuleDef {
	out := slices.Clone(base)
	for _, d := range extra {
		i := slices.IndexFunc(out, func(b compiler.RuleDef) bool { return b.Name == d.Name })
		if i >= 0 {
			out[i] = d
			continue
		}
		out = append(out, d)
	}
	return out
}

// assemble orders native and declarative rules by Order, then appends any
// rule Order does not name in the order given.
func assemble(native []engine.Rule, defs []compiler.RuleDef) []engine.Rule {
	byName := make(map[string]engine.Rule, len(native)+len(defs))
	var names []string
	add := func(r engine.Rule) {
		if _, seen := byName[r.Name]; !seen {
			names = append(names, r.Name)
		}
		byName[r.Name] = r
	}
	for _, r := range native {
		add(r)
	}
	for _, r := range compiler.Rules(defs) {
		add(r)
	}

	out := make([]engine.Rule, 0, len(byName))
	for _, name := range Order {
		if r, ok := byName[name]; ok {
			out = append(out, r)
			delete(byName, name)
		}
	}
	for _, name := range names {
		if r, ok := byName[name]; ok {
			out = append(out, r)
		}
	}
	return out
}
