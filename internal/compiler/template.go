package compiler

import (
	"slices"

	"github.com/roach88/classwatch/internal/engine"
	"github.com/roach88/classwatch/internal/ir"
)

// Template builds an input value from a rule's variable bindings.
type Template interface {
	// Eval builds the value. Unbound variables evaluate to null.
	Eval(f *engine.Frame) ir.IRValue

	// Vars lists the variables the template reads.
	Vars() []string
}

// Literal is a constant value.
type Literal struct {
	Value ir.IRValue
}

func (l Literal) Eval(*engine.Frame) ir.IRValue { return ir.CloneValue(l.Value) }
func (Literal) Vars() []string                  { return nil }

// Variable reads a bound variable.
type Variable struct {
	Name string
}

func (v Variable) Eval(f *engine.Frame) ir.IRValue { return f.Get(v.Name) }
func (v Variable) Vars() []string                  { return []string{v.Name} }

// ObjectTemplate builds an object field by field.
type ObjectTemplate map[string]Template

func (o ObjectTemplate) Eval(f *engine.Frame) ir.IRValue {
	return o.build(f)
}

func (o ObjectTemplate) build(f *engine.Frame) ir.IRObject {
	out := make(ir.IRObject, len(o))
	for k, t := range o {
		out[k] = t.Eval(f)
	}
	return out
}

func (o ObjectTemplate) Vars() []string {
	var vars []string
	for _, t := range o {
		vars = append(vars, t.Vars()...)
	}
	slices.Sort(vars)
	return slices.Compact(vars)
}

// ListTemplate builds an array element by element.
type ListTemplate []Template

func (l ListTemplate) Eval(f *engine.Frame) ir.IRValue {
	out := make(ir.IRArray, len(l))
	for i, t := range l {
		out[i] = t.Eval(f)
	}
	return out
}

func (l ListTemplate) Vars() []string {
	var vars []string
	for _, t := range l {
		vars = append(vars, t.Vars()...)
	}
	slices.Sort(vars)
	return slices.Compact(vars)
}
