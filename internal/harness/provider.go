package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/classwatch/internal/concept"
	"github.com/roach88/classwatch/internal/ir"
)

// buildProvider turns a scripted provider into an operation table.
// Operations are declared in name order.
func buildProvider(name string, def ProviderDef) (*concept.Table, error) {
	purpose := def.Purpose
	if purpose == "" {
		purpose = "Scripted provider."
	}

	names := make([]string, 0, len(def.Operations))
	for op := range def.Operations {
		names = append(names, op)
	}
	slices.Sort(names)

	ops := make([]concept.Op, 0, len(names))
	for _, opName := range names {
		opDef := def.Operations[opName]
		args, err := fields(opDef.Args)
		if err != nil {
			return nil, fmt.Errorf("%s.%s args: %w", name, opName, err)
		}
		outputs, err := fields(opDef.Outputs)
		if err != nil {
			return nil, fmt.Errorf("%s.%s outputs: %w", name, opName, err)
		}
		handler, err := scriptedHandler(opDef)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", name, opName, err)
		}
		if ir.IsQueryName(opName) {
			ops = append(ops, concept.Query(opName, handler, args, outputs...))
		} else {
			ops = append(ops, concept.Action(opName, handler, args, outputs...))
		}
	}
	return concept.Define(name, purpose, ops...)
}

// fields converts a name->type map into declarations in name order.
// A trailing "?" on the type marks the field optional.
func fields(m map[string]string) ([]ir.NamedArg, error) {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	slices.Sort(names)

	out := make([]ir.NamedArg, 0, len(names))
	for _, n := range names {
		typ, optional := strings.CutSuffix(m[n], "?")
		if !ir.ValidTypes[typ] {
			return nil, fmt.Errorf("field %q has unknown type %q", n, m[n])
		}
		if optional {
			out = append(out, concept.Opt(n, typ))
		} else {
			out = append(out, concept.Arg(n, typ))
		}
	}
	return out, nil
}

func scriptedHandler(def OperationDef) (concept.Handler, error) {
	if def.Fail != "" {
		msg := def.Fail
		return func(context.Context, ir.IRObject) (ir.IRObject, error) {
			return nil, errors.New(msg)
		}, nil
	}

	returns, err := ir.ObjectFromGo(def.Returns)
	if err != nil {
		return nil, fmt.Errorf("returns: %w", err)
	}
	echo := def.Echo
	return func(_ context.Context, in ir.IRObject) (ir.IRObject, error) {
		out := ir.IRObject{}
		if echo {
			out = in.Clone()
		}
		for k, v := range returns {
			out[k] = ir.CloneValue(v)
		}
		return out, nil
	}, nil
}
