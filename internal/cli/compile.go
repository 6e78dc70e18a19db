package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/classwatch/internal/compiler"
	"github.com/roach88/classwatch/internal/syncs"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output  string
	Builtin bool
}

// RuleSummary describes a compiled rule: what it matches, what it asks and
// what it invokes.
type RuleSummary struct {
	Name     string   `json:"name"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Triggers []string `json:"triggers"`
	Queries  []string `json:"queries,omitempty"`
	Effects  []string `json:"effects"`
}

// CompilationResult is the output of compile.
type CompilationResult struct {
	Rules    []RuleSummary           `json:"rules"`
	Warnings []compiler.CycleWarning `json:"warnings,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <rules-dir>",
		Short: "Compile rule files and summarize the rule graph",
		Long: `Compile the CUE rule files in a directory and print, for every rule, the
actions that trigger it, the queries its guard runs and the actions it
invokes. With --builtin the built-in declarative rules are included,
merged the way serve merges them: a file rule replaces the built-in rule
of the same name.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "also write the summary as JSON to this file")
	cmd.Flags().BoolVar(&opts.Builtin, "builtin", false, "include the built-in declarative rules")

	return cmd
}

func runCompile(opts *CompileOptions, dir string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	loaded, err := LoadRules(dir)
	if err != nil {
		return f.Fail(ExitCommandError, loadErrorCode(err), err.Error())
	}

	defs := loaded.Rules
	if opts.Builtin {
		builtin, err := syncs.Declarative()
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeCompile, err.Error())
		}
		defs = syncs.Merge(builtin, defs)
	}

	result := CompilationResult{
		Rules:    make([]RuleSummary, len(defs)),
		Warnings: compiler.AnalyzeCycles(defs),
	}
	for i, d := range defs {
		result.Rules[i] = summarize(d)
		f.VerboseLog("Compiled rule %s", d.Name)
	}

	if opts.Output != "" {
		if err := writeJSON(opts.Output, result); err != nil {
			return f.Fail(ExitCommandError, ErrCodeWriteFailed, err.Error())
		}
	}

	if f.JSON() {
		return f.Success(result)
	}
	printCompilation(f, result, opts.Output)
	return nil
}

func summarize(d compiler.RuleDef) RuleSummary {
	s := RuleSummary{Name: d.Name, Triggers: []string{}, Effects: []string{}}
	if d.Pos.IsValid() {
		s.File = d.Pos.Filename()
		s.Line = d.Pos.Line()
	}
	for _, w := range d.When {
		s.Triggers = append(s.Triggers, w.Provider+"."+w.Operation)
	}
	for _, w := range d.Where {
		s.Queries = append(s.Queries, w.Provider+"."+w.Query)
	}
	for _, t := range d.Then {
		s.Effects = append(s.Effects, t.Provider+"."+t.Operation)
	}
	return s
}

func printCompilation(f *OutputFormatter, result CompilationResult, output string) {
	f.Printf("✓ Compiled %d rule(s)\n\n", len(result.Rules))
	for _, r := range result.Rules {
		f.Printf("  %s: %v → %v\n", r.Name, r.Triggers, r.Effects)
		if f.Verbose && len(r.Queries) > 0 {
			f.Printf("      queries: %v\n", r.Queries)
		}
	}
	for _, w := range result.Warnings {
		f.Printf("\nwarning: %s\n", w.Message)
	}
	if output != "" {
		f.Printf("\nWrote %s\n", output)
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
