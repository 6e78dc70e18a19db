package compiler

import (
	"fmt"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/token"

	"github.com/roach88/classwatch/internal/engine"
	"github.com/roach88/classwatch/internal/ir"
)

// RuleDef is a declarative rule as written in a rule file.
//
// Rule files look like:
//
//	rule: AssociateAfterDetect: {
//		when: [{provider: "Detector", operation: "detect", output: {detections: "det"}}]
//		where: [
//			{provider: "Detector", query: "_get", input: {detections: {var: "det"}}, output: {boxes: "boxes"}},
//		]
//		then: [{provider: "Associator", operation: "assign", input: {boxes: {var: "boxes"}}}]
//	}
type RuleDef struct {
	Name  string
	When  []WhenDef
	Where []WhereDef
	Then  []ThenDef
	Pos   token.Pos
}

// WhenDef matches the most recent record of Provider.Operation.
type WhenDef struct {
	Provider  string
	Operation string
	Input     map[string]engine.Term
	Output    map[string]string
}

// WhereDef runs a query after the when-patterns matched and binds its
// outputs. A failed query or a missing or null output vetoes the rule.
type WhereDef struct {
	Provider string
	Query    string
	Input    ObjectTemplate
	Output   map[string]string
}

// ThenDef is one effect.
type ThenDef struct {
	Provider  string
	Operation string
	Input     ObjectTemplate
}

// CompileSource compiles every rule in a CUE source text.
func CompileSource(filename, src string) ([]RuleDef, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileRules(v)
}

// CompileRules compiles the rules under the top-level "rule" field of v,
// in declaration order. A value without rules compiles to nothing.
func CompileRules(v cue.Value) ([]RuleDef, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rulesVal := v.LookupPath(cue.ParsePath("rule"))
	if !rulesVal.Exists() {
		return nil, nil
	}

	iter, err := rulesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var defs []RuleDef
	for iter.Next() {
		def, err := CompileRule(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	return defs, nil
}

// CompileRule parses one rule struct.
func CompileRule(name string, v cue.Value) (*RuleDef, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := checkFields(v, "rule "+name, "when", "where", "then"); err != nil {
		return nil, err
	}

	def := &RuleDef{Name: ir.NormalizeName(name), Pos: v.Pos()}

	var err error
	def.When, err = parseWhen(v)
	if err != nil {
		return nil, err
	}

	whereVal := v.LookupPath(cue.ParsePath("where"))
	if whereVal.Exists() {
		def.Where, err = parseWhere(whereVal)
		if err != nil {
			return nil, err
		}
	}

	def.Then, err = parseThen(v)
	if err != nil {
		return nil, err
	}

	return def, nil
}

// parseWhen extracts the when-patterns from a rule.
func parseWhen(v cue.Value) ([]WhenDef, error) {
	items, err := requiredList(v, "when")
	if err != nil {
		return nil, err
	}

	when := make([]WhenDef, 0, len(items))
	for i, item := range items {
		field := fmt.Sprintf("when[%d]", i)
		if err := checkFields(item, field, "provider", "operation", "input", "output"); err != nil {
			return nil, err
		}

		w := WhenDef{}
		if w.Provider, err = requiredString(item, field, "provider"); err != nil {
			return nil, err
		}
		if w.Operation, err = requiredString(item, field, "operation"); err != nil {
			return nil, err
		}

		if inputVal := item.LookupPath(cue.ParsePath("input")); inputVal.Exists() {
			w.Input = make(map[string]engine.Term)
			iter, err := inputVal.Fields()
			if err != nil {
				return nil, formatCUEError(err)
			}
			for iter.Next() {
				term, err := parseTerm(iter.Value(), field+".input."+iter.Label())
				if err != nil {
					return nil, err
				}
				w.Input[iter.Label()] = term
			}
		}

		if w.Output, err = parseOutputs(item, field); err != nil {
			return nil, err
		}
		when = append(when, w)
	}
	return when, nil
}

// parseWhere extracts the query steps of a rule.
func parseWhere(v cue.Value) ([]WhereDef, error) {
	items, err := listItems(v, "where")
	if err != nil {
		return nil, err
	}

	where := make([]WhereDef, 0, len(items))
	for i, item := range items {
		field := fmt.Sprintf("where[%d]", i)
		if err := checkFields(item, field, "provider", "query", "input", "output"); err != nil {
			return nil, err
		}

		w := WhereDef{}
		if w.Provider, err = requiredString(item, field, "provider"); err != nil {
			return nil, err
		}
		if w.Query, err = requiredString(item, field, "query"); err != nil {
			return nil, err
		}
		if !ir.IsQueryName(w.Query) {
			return nil, &CompileError{
				Field:   field + ".query",
				Message: fmt.Sprintf("query %q must start with %q", w.Query, ir.QueryPrefix),
				Pos:     item.Pos(),
			}
		}
		if w.Input, err = parseInputTemplate(item, field); err != nil {
			return nil, err
		}
		if w.Output, err = parseOutputs(item, field); err != nil {
			return nil, err
		}
		where = append(where, w)
	}
	return where, nil
}

// parseThen extracts the effects of a rule.
func parseThen(v cue.Value) ([]ThenDef, error) {
	items, err := requiredList(v, "then")
	if err != nil {
		return nil, err
	}

	then := make([]ThenDef, 0, len(items))
	for i, item := range items {
		field := fmt.Sprintf("then[%d]", i)
		if err := checkFields(item, field, "provider", "operation", "input"); err != nil {
			return nil, err
		}

		t := ThenDef{}
		if t.Provider, err = requiredString(item, field, "provider"); err != nil {
			return nil, err
		}
		if t.Operation, err = requiredString(item, field, "operation"); err != nil {
			return nil, err
		}
		if t.Input, err = parseInputTemplate(item, field); err != nil {
			return nil, err
		}
		then = append(then, t)
	}
	return then, nil
}

// parseTerm parses a when-pattern input term:
//
//	{var: "name"}   binds the actual value
//	{lit: value}    matches value exactly, whatever its shape
//	value           matches value exactly
func parseTerm(v cue.Value, field string) (engine.Term, error) {
	if name, ok, err := varRef(v, field); err != nil || ok {
		return engine.Bind(name), err
	}
	if lit := litRef(v); lit.Exists() {
		val, err := toIR(lit, field+".lit")
		return engine.Lit(val), err
	}
	val, err := toIR(v, field)
	return engine.Lit(val), err
}

// parseTemplate parses a query or effect input value. Objects and lists are
// templates whose members may reference variables.
func parseTemplate(v cue.Value, field string) (Template, error) {
	if name, ok, err := varRef(v, field); err != nil || ok {
		return Variable{Name: name}, err
	}
	if lit := litRef(v); lit.Exists() {
		val, err := toIR(lit, field+".lit")
		return Literal{Value: val}, err
	}

	switch v.IncompleteKind() {
	case cue.StructKind:
		obj := ObjectTemplate{}
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			t, err := parseTemplate(iter.Value(), field+"."+iter.Label())
			if err != nil {
				return nil, err
			}
			obj[iter.Label()] = t
		}
		return obj, nil
	case cue.ListKind:
		var list ListTemplate
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for i := 0; iter.Next(); i++ {
			t, err := parseTemplate(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return nil, err
			}
			list = append(list, t)
		}
		return list, nil
	}

	val, err := toIR(v, field)
	return Literal{Value: val}, err
}

func parseInputTemplate(item cue.Value, field string) (ObjectTemplate, error) {
	inputVal := item.LookupPath(cue.ParsePath("input"))
	if !inputVal.Exists() {
		return ObjectTemplate{}, nil
	}
	if inputVal.IncompleteKind() != cue.StructKind {
		return nil, &CompileError{Field: field + ".input", Message: "input must be a struct", Pos: inputVal.Pos()}
	}
	t, err := parseTemplate(inputVal, field+".input")
	if err != nil {
		return nil, err
	}
	obj, ok := t.(ObjectTemplate)
	if !ok {
		return nil, &CompileError{Field: field + ".input", Message: "input must be a struct of fields", Pos: inputVal.Pos()}
	}
	return obj, nil
}

// parseOutputs reads an output-key to variable-name map.
func parseOutputs(item cue.Value, field string) (map[string]string, error) {
	outVal := item.LookupPath(cue.ParsePath("output"))
	if !outVal.Exists() {
		return nil, nil
	}

	iter, err := outVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	out := make(map[string]string)
	for iter.Next() {
		name, err := iter.Value().String()
		if err != nil || name == "" {
			return nil, &CompileError{
				Field:   fmt.Sprintf("%s.output.%s", field, iter.Label()),
				Message: "output binding must be a variable name",
				Pos:     iter.Value().Pos(),
			}
		}
		out[iter.Label()] = name
	}
	return out, nil
}

// varRef recognizes {var: "name"}.
func varRef(v cue.Value, field string) (string, bool, error) {
	if v.IncompleteKind() != cue.StructKind || structLen(v) != 1 {
		return "", false, nil
	}
	nameVal := v.LookupPath(cue.ParsePath("var"))
	if !nameVal.Exists() {
		return "", false, nil
	}
	name, err := nameVal.String()
	if err != nil || name == "" {
		return "", false, &CompileError{
			Field:   field + ".var",
			Message: "variable reference must be a non-empty string",
			Pos:     nameVal.Pos(),
		}
	}
	return name, true, nil
}

// litRef recognizes {lit: value} and returns value.
func litRef(v cue.Value) cue.Value {
	if v.IncompleteKind() != cue.StructKind || structLen(v) != 1 {
		return cue.Value{}
	}
	return v.LookupPath(cue.ParsePath("lit"))
}

func structLen(v cue.Value) int {
	iter, err := v.Fields()
	if err != nil {
		return 0
	}
	n := 0
	for iter.Next() {
		n++
	}
	return n
}

// toIR converts a concrete CUE value into an IR value.
func toIR(v cue.Value, field string) (ir.IRValue, error) {
	if !v.IsConcrete() {
		return nil, &CompileError{Field: field, Message: "value must be concrete", Pos: v.Pos()}
	}

	switch v.Kind() {
	case cue.NullKind:
		return ir.IRNull{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		return ir.IRBool(b), formatCUEError(err)
	case cue.IntKind:
		n, err := v.Int64()
		return ir.IRInt(n), formatCUEError(err)
	case cue.FloatKind:
		f, err := v.Float64()
		return ir.IRFloat(f), formatCUEError(err)
	case cue.StringKind:
		s, err := v.String()
		return ir.IRString(s), formatCUEError(err)
	case cue.BytesKind:
		b, err := v.Bytes()
		return ir.IRBytes(b), formatCUEError(err)
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.IRArray{}
		for i := 0; iter.Next(); i++ {
			elem, err := toIR(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.IRObject{}
		for iter.Next() {
			elem, err := toIR(iter.Value(), field+"."+iter.Label())
			if err != nil {
				return nil, err
			}
			obj[iter.Label()] = elem
		}
		return obj, nil
	default:
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("unsupported value kind: %v", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}

func requiredString(v cue.Value, parent, name string) (string, error) {
	fieldVal := v.LookupPath(cue.ParsePath(name))
	if !fieldVal.Exists() {
		return "", &CompileError{
			Field:   parent + "." + name,
			Message: name + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fieldVal.String()
	if err != nil || s == "" {
		return "", &CompileError{
			Field:   parent + "." + name,
			Message: name + " must be a non-empty string",
			Pos:     fieldVal.Pos(),
		}
	}
	return ir.NormalizeName(s), nil
}

func requiredList(v cue.Value, name string) ([]cue.Value, error) {
	listVal := v.LookupPath(cue.ParsePath(name))
	if !listVal.Exists() {
		return nil, &CompileError{
			Field:   name,
			Message: name + " clause is required",
			Pos:     v.Pos(),
		}
	}
	items, err := listItems(listVal, name)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, &CompileError{
			Field:   name,
			Message: name + " clause must not be empty",
			Pos:     listVal.Pos(),
		}
	}
	return items, nil
}

func listItems(v cue.Value, field string) ([]cue.Value, error) {
	if v.IncompleteKind() != cue.ListKind {
		return nil, &CompileError{Field: field, Message: field + " must be a list", Pos: v.Pos()}
	}
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var items []cue.Value
	for iter.Next() {
		items = append(items, iter.Value())
	}
	return items, nil
}

// checkFields rejects fields outside allowed.
func checkFields(v cue.Value, field string, allowed ...string) error {
	if v.IncompleteKind() != cue.StructKind {
		return &CompileError{Field: field, Message: "must be a struct", Pos: v.Pos()}
	}
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		if !slices.Contains(allowed, iter.Label()) {
			return &CompileError{
				Field:   field + "." + iter.Label(),
				Message: fmt.Sprintf("unknown field %q", iter.Label()),
				Pos:     iter.Value().Pos(),
			}
		}
	}
	return nil
}
