package concept

import (
	"context"
	"fmt"

	"github.com/roach88/classwatch/internal/ir"
)

// Provider is a capability module reachable through the engine.
type Provider interface {
	// Name is the unique registry name.
	Name() string

	// Spec describes the operation table.
	Spec() ir.ConceptSpec

	// Perform runs a mutating action.
	Perform(ctx context.Context, action string, input ir.IRObject) (ir.IRObject, error)

	// Query runs a pure, "_"-prefixed query.
	Query(ctx context.Context, name string, input ir.IRObject) (ir.IRObject, error)
}

// Handler implements one operation. A nil output with a nil error leaves the
// record's output unset.
type Handler func(ctx context.Context, input ir.IRObject) (ir.IRObject, error)

// Op binds an operation signature to its handler.
type Op struct {
	Sig    ir.OperationSig
	Handle Handler
	Pure   bool // declared with Query
}

// Action declares a mutating operation.
func Action(name string, h Handler, args []ir.NamedArg, outputs ...ir.NamedArg) Op {
	return Op{Sig: ir.OperationSig{Name: name, Args: args, Outputs: outputs}, Handle: h}
}

// Query declares a pure operation. The name must carry the "_" prefix.
func Query(name string, h Handler, args []ir.NamedArg, outputs ...ir.NamedArg) Op {
	return Op{Sig: ir.OperationSig{Name: name, Args: args, Outputs: outputs}, Handle: h, Pure: true}
}

// Arg declares a required field.
func Arg(name, typ string) ir.NamedArg {
	return ir.NamedArg{Name: name, Type: typ}
}

// Opt declares an optional field.
func Opt(name, typ string) ir.NamedArg {
	return ir.NamedArg{Name: name, Type: typ, Optional: true}
}

// Args groups field declarations.
func Args(fields ...ir.NamedArg) []ir.NamedArg {
	return fields
}

// Table is a fixed operation table implementing Provider. Providers embed a
// *Table built by Define.
type Table struct {
	spec    ir.ConceptSpec
	actions map[string]Op
	queries map[string]Op
}

// Define builds the operation table for a provider. Queries must carry the
// "_" prefix and actions must not.
func Define(name, purpose string, ops ...Op) (*Table, error) {
	name = ir.NormalizeName(name)
	if name == "" {
		return nil, fmt.Errorf("%w: provider name is required", ErrDefinition)
	}

	t := &Table{
		spec:    ir.ConceptSpec{Name: name, Purpose: purpose},
		actions: make(map[string]Op),
		queries: make(map[string]Op),
	}
	for _, op := range ops {
		op.Sig.Name = ir.NormalizeName(op.Sig.Name)
		if errs := op.Sig.Validate(); len(errs) > 0 {
			return nil, fmt.Errorf("%w: %s.%s: %s", ErrDefinition, name, op.Sig.Name, ir.JoinValidationErrors(errs))
		}
		if op.Handle == nil {
			return nil, fmt.Errorf("%w: %s.%s has no handler", ErrDefinition, name, op.Sig.Name)
		}
		if _, dup := t.actions[op.Sig.Name]; dup {
			return nil, fmt.Errorf("%w: %s.%s defined twice", ErrDefinition, name, op.Sig.Name)
		}
		if _, dup := t.queries[op.Sig.Name]; dup {
			return nil, fmt.Errorf("%w: %s.%s defined twice", ErrDefinition, name, op.Sig.Name)
		}
		if op.Pure != ir.IsQueryName(op.Sig.Name) {
			if op.Pure {
				return nil, fmt.Errorf("%w: query %s.%s must start with %q", ErrDefinition, name, op.Sig.Name, ir.QueryPrefix)
			}
			return nil, fmt.Errorf("%w: action %s.%s must not start with %q", ErrDefinition, name, op.Sig.Name, ir.QueryPrefix)
		}
		if op.Pure {
			t.queries[op.Sig.Name] = op
			t.spec.Queries = append(t.spec.Queries, op.Sig)
		} else {
			t.actions[op.Sig.Name] = op
			t.spec.Actions = append(t.spec.Actions, op.Sig)
		}
	}
	return t, nil
}

// MustDefine is like Define but panics on error.
// Use only for tables built from constant declarations.
func MustDefine(name, purpose string, ops ...Op) *Table {
	t, err := Define(name, purpose, ops...)
	if err != nil {
		panic(err)
	}
	return t
}

// Name implements Provider.
func (t *Table) Name() string {
	return t.spec.Name
}

// Spec implements Provider.
func (t *Table) Spec() ir.ConceptSpec {
	return t.spec
}

// Perform implements Provider.
func (t *Table) Perform(ctx context.Context, action string, input ir.IRObject) (ir.IRObject, error) {
	action = ir.NormalizeName(action)
	op, ok := t.actions[action]
	if !ok {
		return nil, opError(t.spec.Name, action, ErrNotFound)
	}
	return t.call(ctx, op, input)
}

// Query implements Provider.
func (t *Table) Query(ctx context.Context, name string, input ir.IRObject) (ir.IRObject, error) {
	name = ir.NormalizeName(name)
	if !ir.IsQueryName(name) {
		return nil, opError(t.spec.Name, name, ErrInvalidQuery)
	}
	op, ok := t.queries[name]
	if !ok {
		return nil, opError(t.spec.Name, name, ErrNotFound)
	}
	return t.call(ctx, op, input)
}

func (t *Table) call(ctx context.Context, op Op, input ir.IRObject) (ir.IRObject, error) {
	if input == nil {
		input = ir.IRObject{}
	}
	if errs := op.Sig.CheckArgs(input); len(errs) > 0 {
		return nil, opError(t.spec.Name, op.Sig.Name, &InputError{Violations: errs})
	}
	out, err := op.Handle(ctx, input)
	if err != nil {
		return nil, opError(t.spec.Name, op.Sig.Name, err)
	}
	return out, nil
}
