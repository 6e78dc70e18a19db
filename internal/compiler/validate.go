package compiler

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/classwatch/internal/ir"
)

// Validation error codes (E110-E119)
const (
	ErrUnknownProvider        = "E110" // provider not registered
	ErrUnknownOperation       = "E111" // operation not declared by the provider
	ErrUndeclaredOutput       = "E112" // output binding names an undeclared output
	ErrMissingArg             = "E113" // effect or query omits a required arg
	ErrUndefinedBoundVariable = "E114" // variable used before any pattern binds it
	ErrDuplicateRule          = "E115" // rule name defined twice
	ErrArgType                = "E116" // literal arg has the wrong type
)

// ValidationError represents a rule validation error.
type ValidationError struct {
	Rule    string `json:"rule"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s: %s", e.Code, e.Line, e.Rule, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s: %s", e.Code, e.Rule, e.Field, e.Message)
}

// Validate checks rule definitions against the provider specs they will run
// with. Returns all errors found (does not fail-fast).
func Validate(defs []RuleDef, specs []ir.ConceptSpec) []ValidationError {
	byName := make(map[string]ir.ConceptSpec, len(specs))
	for _, s := range specs {
		byName[ir.NormalizeName(s.Name)] = s
	}

	var errs []ValidationError
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		v := ruleValidator{def: d, specs: byName, bound: make(map[string]bool)}
		if d.Pos.IsValid() {
			v.line = d.Pos.Line()
		}
		if seen[d.Name] {
			v.fail("name", ErrDuplicateRule, fmt.Sprintf("rule %q is defined more than once", d.Name))
		}
		seen[d.Name] = true

		v.validate()
		errs = append(errs, v.errs...)
	}
	return errs
}

type ruleValidator struct {
	def   RuleDef
	specs map[string]ir.ConceptSpec
	bound map[string]bool
	line  int
	errs  []ValidationError
}

func (v *ruleValidator) fail(field, code, msg string) {
	v.errs = append(v.errs, ValidationError{
		Rule:    v.def.Name,
		Field:   field,
		Message: msg,
		Code:    code,
		Line:    v.line,
	})
}

// validate walks the rule in evaluation order: when-patterns bind first,
// then each where step may use earlier bindings and add its own, then
// effects use all of them.
func (v *ruleValidator) validate() {
	for i, w := range v.def.When {
		field := fmt.Sprintf("when[%d]", i)
		sig, ok := v.lookup(field, w.Provider, w.Operation)
		for _, key := range sortedKeys(w.Input) {
			if term := w.Input[key]; term.IsBind() {
				v.bound[term.Var()] = true
			}
		}
		v.bindOutputs(field, sig, ok, w.Output)
	}

	for i, w := range v.def.Where {
		field := fmt.Sprintf("where[%d]", i)
		sig, ok := v.lookup(field, w.Provider, w.Query)
		v.checkInput(field, sig, ok, w.Input)
		v.bindOutputs(field, sig, ok, w.Output)
	}

	for i, t := range v.def.Then {
		field := fmt.Sprintf("then[%d]", i)
		if ir.IsQueryName(t.Operation) {
			v.fail(field+".operation", ErrUnknownOperation, fmt.Sprintf("effects must invoke actions, %q is a query", t.Operation))
			continue
		}
		sig, ok := v.lookup(field, t.Provider, t.Operation)
		v.checkInput(field, sig, ok, t.Input)
	}
}

func (v *ruleValidator) lookup(field, provider, operation string) (ir.OperationSig, bool) {
	spec, ok := v.specs[provider]
	if !ok {
		v.fail(field+".provider", ErrUnknownProvider, fmt.Sprintf("unknown provider %q", provider))
		return ir.OperationSig{}, false
	}
	sig, ok := spec.Operation(operation)
	if !ok {
		v.fail(field+".operation", ErrUnknownOperation, fmt.Sprintf("provider %q has no operation %q", provider, operation))
		return ir.OperationSig{}, false
	}
	return sig, true
}

func (v *ruleValidator) bindOutputs(field string, sig ir.OperationSig, known bool, outputs map[string]string) {
	for _, key := range sortedKeys(outputs) {
		if known && !sig.HasOutput(key) {
			v.fail(fmt.Sprintf("%s.output.%s", field, key), ErrUndeclaredOutput,
				fmt.Sprintf("%s does not declare output %q", sig.Name, key))
		}
		v.bound[outputs[key]] = true
	}
}

func (v *ruleValidator) checkInput(field string, sig ir.OperationSig, known bool, input ObjectTemplate) {
	for _, key := range sortedKeys(input) {
		for _, name := range input[key].Vars() {
			if !v.bound[name] {
				v.fail(fmt.Sprintf("%s.input.%s", field, key), ErrUndefinedBoundVariable,
					fmt.Sprintf("variable %q is not bound by an earlier pattern", name))
			}
		}
	}
	if !known {
		return
	}

	for _, arg := range sig.Args {
		t, present := input[arg.Name]
		if !present {
			if !arg.Optional {
				v.fail(field+".input", ErrMissingArg, fmt.Sprintf("%s requires arg %q", sig.Name, arg.Name))
			}
			continue
		}
		if lit, ok := t.(Literal); ok && !ir.TypeMatches(arg.Type, lit.Value) {
			v.fail(fmt.Sprintf("%s.input.%s", field, arg.Name), ErrArgType,
				fmt.Sprintf("%s arg %q wants %s, got %s", sig.Name, arg.Name, arg.Type, ir.TypeName(lit.Value)))
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
