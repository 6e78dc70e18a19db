package ir

import (
	"fmt"
	"strings"
)

// ValidTypes defines the allowed type strings for operation args and outputs.
var ValidTypes = map[string]bool{
	"string": true,
	"int":    true,
	"float":  true,
	"bool":   true,
	"bytes":  true,
	"array":  true,
	"object": true,
	"ref":    true,
	"any":    true,
}

// ValidationError represents a validation error with field path and message.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the signature against schema rules.
// Returns all errors (not fail-fast) for better developer experience.
func (s *OperationSig) Validate() []ValidationError {
	var errs []ValidationError

	if s.Name == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "operation name is required"})
	}

	errs = append(errs, validateFields("args", s.Args)...)
	errs = append(errs, validateFields("outputs", s.Outputs)...)
	return errs
}

func validateFields(path string, fields []NamedArg) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		if f.Name == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s[%d].name", path, i),
				Message: "field name is required",
			})
		}
		if seen[f.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s[%d].name", path, i),
				Message: fmt.Sprintf("duplicate field name: %q", f.Name),
			})
		}
		seen[f.Name] = true
		if !ValidTypes[f.Type] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s[%d].type", path, i),
				Message: fmt.Sprintf("invalid type %q for %q, must be one of: %s", f.Type, f.Name, validTypeList),
			})
		}
	}
	return errs
}

const validTypeList = "string, int, float, bool, bytes, array, object, ref, any"

// CheckArgs checks input against the signature's declared args.
// Required args must be present and non-null; present args must have the
// declared type. Undeclared keys are allowed. Returns all violations.
func (s OperationSig) CheckArgs(input IRObject) []ValidationError {
	var errs []ValidationError
	for _, arg := range s.Args {
		v, ok := input[arg.Name]
		if !ok || isNull(v) {
			if !arg.Optional {
				errs = append(errs, ValidationError{Field: arg.Name, Message: "required field missing"})
			}
			continue
		}
		if !TypeMatches(arg.Type, v) {
			errs = append(errs, ValidationError{
				Field:   arg.Name,
				Message: fmt.Sprintf("expected %s, got %s", arg.Type, TypeName(v)),
			})
		}
	}
	return errs
}

// TypeMatches reports whether v satisfies the schema type name.
// A "float" field accepts integers.
func TypeMatches(typeName string, v IRValue) bool {
	switch typeName {
	case "any":
		return true
	case "float":
		switch v.(type) {
		case IRFloat, IRInt:
			return true
		}
		return false
	default:
		return TypeName(v) == typeName
	}
}

// JoinValidationErrors renders errs as one message.
func JoinValidationErrors(errs []ValidationError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

func isNull(v IRValue) bool {
	switch v.(type) {
	case nil, IRNull:
		return true
	}
	return false
}
