package ir

import "time"

// ActionRecord is the immutable record of one completed operation.
// Output is nil until the operation has produced a result; rules never match
// a record without output.
type ActionRecord struct {
	ID        string    `json:"id"` // UUIDv7
	Provider  string    `json:"provider"`
	Operation string    `json:"operation"`
	Input     IRObject  `json:"input"`
	Output    IRObject  `json:"output"`
	Flow      string    `json:"flow"`
	Seq       int64     `json:"seq"` // Logical clock, strictly increasing per engine
	At        time.Time `json:"at"`  // Wall time, non-decreasing per flow
}

// Clone returns a deep copy of the record.
func (r ActionRecord) Clone() ActionRecord {
	r.Input = r.Input.Clone()
	r.Output = r.Output.Clone()
	return r
}

// Ref returns the "Provider.operation" form used in logs.
func (r ActionRecord) Ref() string {
	return r.Provider + "." + r.Operation
}

// Firing records one rule firing: the effect it emitted and the record the
// effect produced. RecordID is empty when the effect dispatch failed.
type Firing struct {
	Rule      string `json:"rule"`
	Flow      string `json:"flow"`
	EffectKey string `json:"effect_key"` // EffectHash of the canonical key
	RecordID  string `json:"record_id,omitempty"`
	Seq       int64  `json:"seq"`
	Error     string `json:"error,omitempty"`
}

// ConceptSpec describes a provider's operation table.
type ConceptSpec struct {
	Name    string         `json:"name"`
	Purpose string         `json:"purpose,omitempty"`
	Actions []OperationSig `json:"actions"`
	Queries []OperationSig `json:"queries"`
}

// Action returns the action signature named name.
func (s ConceptSpec) Action(name string) (OperationSig, bool) {
	return findSig(s.Actions, name)
}

// Query returns the query signature named name.
func (s ConceptSpec) Query(name string) (OperationSig, bool) {
	return findSig(s.Queries, name)
}

// Operation returns the action or query signature named name.
func (s ConceptSpec) Operation(name string) (OperationSig, bool) {
	if IsQueryName(name) {
		return s.Query(name)
	}
	return s.Action(name)
}

func findSig(sigs []OperationSig, name string) (OperationSig, bool) {
	name = NormalizeName(name)
	for _, sig := range sigs {
		if sig.Name == name {
			return sig, true
		}
	}
	return OperationSig{}, false
}

// OperationSig is the typed signature of an action or query.
type OperationSig struct {
	Name    string     `json:"name"`
	Args    []NamedArg `json:"args"`
	Outputs []NamedArg `json:"outputs"`
}

// HasOutput reports whether the signature declares output field name.
func (s OperationSig) HasOutput(name string) bool {
	for _, out := range s.Outputs {
		if out.Name == name {
			return true
		}
	}
	return false
}

// NamedArg represents a named field with a type.
type NamedArg struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Optional bool   `json:"optional,omitempty"`
}
