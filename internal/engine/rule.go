package engine

import (
	"context"
	"fmt"

	"github.com/roach88/classwatch/internal/ir"
)

// Term is one input term of a when-pattern: either a literal the record's
// input must equal, or a variable the record's input is bound to.
type Term struct {
	bind  bool
	name  string
	value ir.IRValue
}

// Lit matches an input value by structural equality (ir.Equal).
// Any value is a valid literal, including strings that look like variables.
func Lit(v ir.IRValue) Term {
	if v == nil {
		v = ir.IRNull{}
	}
	return Term{value: v}
}

// Bind binds the actual input value to the named variable, whatever it is.
func Bind(name string) Term {
	return Term{bind: true, name: name}
}

// IsBind reports whether the term binds a variable.
func (t Term) IsBind() bool { return t.bind }

// Var returns the bound variable name ("" for literals).
func (t Term) Var() string { return t.name }

// Value returns the literal value (nil for binds).
func (t Term) Value() ir.IRValue { return t.value }

func (t Term) String() string {
	if t.bind {
		return "?" + t.name
	}
	out, err := ir.MarshalCanonical(t.value)
	if err != nil {
		return fmt.Sprintf("%v", t.value)
	}
	return string(out)
}

// WhenPattern matches the most recent record of Provider.Operation.
type WhenPattern struct {
	Provider  string
	Operation string

	// Input terms keyed by input field. An absent field reads as null.
	Input map[string]Term

	// Output maps output keys to variable names. Each key must be present.
	Output map[string]string
}

// Querier is the read-only view of the engine given to guards.
type Querier interface {
	Query(ctx context.Context, provider, name string, input ir.IRObject) (ir.IRObject, error)
}

// Guard runs after all patterns match. It may query providers and bind
// further variables; returning false vetoes the rule for this pass.
type Guard func(ctx context.Context, q Querier, f *Frame) bool

// EffectFunc produces the invocations a matched rule requests.
type EffectFunc func(f *Frame) []Effect

// Effect is one requested invocation.
type Effect struct {
	Provider  string
	Operation string
	Input     ir.IRObject
}

// Rule is a named synchronization: when-patterns, optional guard, effect.
type Rule struct {
	Name   string
	When   []WhenPattern
	Guard  Guard
	Effect EffectFunc
}

// normalized validates r and returns a copy with NFC identifiers.
func (r Rule) normalized() (Rule, error) {
	r.Name = ir.NormalizeName(r.Name)
	if r.Name == "" {
		return Rule{}, fmt.Errorf("%w: rule name is required", ErrInvalidRule)
	}
	if len(r.When) == 0 {
		return Rule{}, fmt.Errorf("%w: rule %s has no when-patterns", ErrInvalidRule, r.Name)
	}
	if r.Effect == nil {
		return Rule{}, fmt.Errorf("%w: rule %s has no effect", ErrInvalidRule, r.Name)
	}

	when := make([]WhenPattern, len(r.When))
	for i, p := range r.When {
		np := WhenPattern{
			Provider:  ir.NormalizeName(p.Provider),
			Operation: ir.NormalizeName(p.Operation),
		}
		if np.Provider == "" || np.Operation == "" {
			return Rule{}, fmt.Errorf("%w: rule %s when[%d]: provider and operation are required", ErrInvalidRule, r.Name, i)
		}
		if len(p.Input) > 0 {
			np.Input = make(map[string]Term, len(p.Input))
			for k, term := range p.Input {
				if term.bind {
					term.name = ir.NormalizeName(term.name)
					if term.name == "" {
						return Rule{}, fmt.Errorf("%w: rule %s when[%d].input.%s: empty variable name", ErrInvalidRule, r.Name, i, k)
					}
				}
				np.Input[k] = term
			}
		}
		if len(p.Output) > 0 {
			np.Output = make(map[string]string, len(p.Output))
			for k, v := range p.Output {
				v = ir.NormalizeName(v)
				if v == "" {
					return Rule{}, fmt.Errorf("%w: rule %s when[%d].output.%s: empty variable name", ErrInvalidRule, r.Name, i, k)
				}
				np.Output[k] = v
			}
		}
		when[i] = np
	}
	r.When = when
	return r, nil
}
