package compiler

import (
	"context"

	"github.com/roach88/classwatch/internal/engine"
	"github.com/roach88/classwatch/internal/ir"
)

// Rule builds the engine rule for d.
func (d RuleDef) Rule() engine.Rule {
	when := make([]engine.WhenPattern, len(d.When))
	for i, w := range d.When {
		when[i] = engine.WhenPattern{
			Provider:  w.Provider,
			Operation: w.Operation,
			Input:     w.Input,
			Output:    w.Output,
		}
	}

	return engine.Rule{
		Name:   d.Name,
		When:   when,
		Guard:  d.guard(),
		Effect: d.effect(),
	}
}

// Rules builds engine rules for defs, preserving order.
func Rules(defs []RuleDef) []engine.Rule {
	out := make([]engine.Rule, len(defs))
	for i, d := range defs {
		out[i] = d.Rule()
	}
	return out
}

func (d RuleDef) guard() engine.Guard {
	if len(d.Where) == 0 {
		return nil
	}
	where := d.Where
	return func(ctx context.Context, q engine.Querier, f *engine.Frame) bool {
		for _, w := range where {
			out, err := q.Query(ctx, w.Provider, w.Query, w.Input.build(f))
			if err != nil {
				return false
			}
			for key, name := range w.Output {
				v, ok := out[key]
				if !ok {
					return false
				}
				if _, null := v.(ir.IRNull); null || v == nil {
					return false
				}
				f.Bind(name, v)
			}
		}
		return true
	}
}

func (d RuleDef) effect() engine.EffectFunc {
	then := d.Then
	return func(f *engine.Frame) []engine.Effect {
		effects := make([]engine.Effect, len(then))
		for i, t := range then {
			effects[i] = engine.Effect{
				Provider:  t.Provider,
				Operation: t.Operation,
				Input:     t.Input.build(f),
			}
		}
		return effects
	}
}
