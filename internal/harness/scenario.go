package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/classwatch/internal/ir"
)

// Scenario is a YAML test scenario.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario checks.
	Description string `yaml:"description"`

	// FlowToken is the flow every step runs in. Default: "test-flow".
	FlowToken string `yaml:"flow_token,omitempty"`

	// Builtin registers the classwatch providers and rules. Scripted
	// providers may not reuse their names.
	Builtin bool `yaml:"builtin,omitempty"`

	// Detections is a scripted detections file for the built-in Detector.
	Detections string `yaml:"detections,omitempty"`

	// Rules lists CUE rule files, relative to the scenario file. With
	// Builtin a rule named like a built-in replaces it.
	Rules []string `yaml:"rules,omitempty"`

	// Providers are scripted providers keyed by name.
	Providers map[string]ProviderDef `yaml:"providers,omitempty"`

	// MaxSteps bounds appends per flow. Default: the engine default.
	MaxSteps int `yaml:"max_steps,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// BaseDir resolves relative paths. Set by LoadScenario.
	BaseDir string `yaml:"-"`
}

// ProviderDef scripts a provider.
type ProviderDef struct {
	Purpose    string                  `yaml:"purpose,omitempty"`
	Operations map[string]OperationDef `yaml:"operations"`
}

// OperationDef scripts one operation. Names starting with "_" are queries.
type OperationDef struct {
	Args    map[string]string `yaml:"args,omitempty"`
	Outputs map[string]string `yaml:"outputs,omitempty"`
	Returns map[string]any    `yaml:"returns,omitempty"`
	Echo    bool              `yaml:"echo,omitempty"`
	Fail    string            `yaml:"fail,omitempty"`
}

// Step invokes an action or runs a query.
type Step struct {
	Invoke string         `yaml:"invoke,omitempty"`
	Query  string         `yaml:"query,omitempty"`
	Args   map[string]any `yaml:"args,omitempty"`

	// Flow runs the step in another flow. Its records do not appear in
	// the scenario trace.
	Flow string `yaml:"flow,omitempty"`

	// Expect is a subset match against the output.
	Expect map[string]any `yaml:"expect,omitempty"`

	// ExpectError is a substring the step's error must contain.
	ExpectError string `yaml:"expect_error,omitempty"`

	// ExpectQuota expects the cascade to stop at the step quota.
	ExpectQuota bool `yaml:"expect_quota,omitempty"`
}

// Assertion checks the final trace.
type Assertion struct {
	Type    string         `yaml:"type"`
	Action  string         `yaml:"action,omitempty"`
	Args    map[string]any `yaml:"args,omitempty"`
	Output  map[string]any `yaml:"output,omitempty"`
	Rule    string         `yaml:"rule,omitempty"`
	Count   int            `yaml:"count,omitempty"`
	Actions []string       `yaml:"actions,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceAbsent   = "trace_absent"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
)

// LoadScenario reads a scenario file. Relative rule and detections paths
// resolve against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario decodes and validates a scenario. Unknown fields are
// rejected.
func ParseScenario(data []byte, baseDir string) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	s.BaseDir = baseDir

	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// resolve returns path relative to the scenario's base directory.
func (s *Scenario) resolve(path string) string {
	if filepath.IsAbs(path) || s.BaseDir == "" {
		return path
	}
	return filepath.Join(s.BaseDir, path)
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.Detections != "" && !s.Builtin {
		return fmt.Errorf("detections requires builtin: true")
	}
	if s.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be non-negative")
	}

	for _, rule := range s.Rules {
		if _, err := os.Stat(s.resolve(rule)); err != nil {
			return fmt.Errorf("rule file not found: %s", rule)
		}
	}

	for name, p := range s.Providers {
		if len(p.Operations) == 0 {
			return fmt.Errorf("providers.%s: operations are required", name)
		}
		for op, def := range p.Operations {
			if def.Fail != "" && (def.Echo || def.Returns != nil) {
				return fmt.Errorf("providers.%s.%s: fail excludes echo and returns", name, op)
			}
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step) error {
	switch {
	case step.Invoke == "" && step.Query == "":
		return fmt.Errorf("steps[%d]: invoke or query is required", i)
	case step.Invoke != "" && step.Query != "":
		return fmt.Errorf("steps[%d]: invoke and query are exclusive", i)
	case step.ExpectError != "" && step.Expect != nil:
		return fmt.Errorf("steps[%d]: expect and expect_error are exclusive", i)
	case step.Query != "" && step.ExpectQuota:
		return fmt.Errorf("steps[%d]: expect_quota applies to invoke steps", i)
	}

	target := step.Invoke
	if target == "" {
		target = step.Query
	}
	if _, _, err := splitAction(target); err != nil {
		return fmt.Errorf("steps[%d]: %w", i, err)
	}
	if step.Query != "" {
		_, name, _ := splitAction(step.Query)
		if !ir.IsQueryName(name) {
			return fmt.Errorf("steps[%d]: query %q must start with %q", i, name, ir.QueryPrefix)
		}
	}
	return nil
}

func validateAssertion(i int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	case AssertTraceContains, AssertTraceAbsent:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for %s", i, a.Type)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", i)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", i)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", i)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}

// splitAction splits "Provider.operation".
func splitAction(s string) (provider, operation string, err error) {
	provider, operation, ok := strings.Cut(s, ".")
	if !ok || provider == "" || operation == "" {
		return "", "", fmt.Errorf("%q is not Provider.operation", s)
	}
	return provider, operation, nil
}
