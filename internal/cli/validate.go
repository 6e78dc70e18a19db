package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/classwatch/internal/app"
	"github.com/roach88/classwatch/internal/compiler"
	"github.com/roach88/classwatch/internal/config"
	"github.com/roach88/classwatch/internal/ir"
	"github.com/roach88/classwatch/internal/logging"
)

// ValidationResult is the outcome of validating a rules directory.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Rules    int                        `json:"rules"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <rules-dir>",
		Short: "Check rule files against the built-in providers",
		Long: `Compile the CUE rule files in a directory and check every rule against
the operation tables of the built-in providers: unknown providers and
operations, undeclared outputs, missing or mistyped args, and variables
used before any pattern binds them. Rule cycles are reported as warnings.

Exit codes:
  0 - All rules valid
  1 - One or more rules invalid
  2 - Command error (missing directory, CUE syntax error)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	loaded, err := LoadRules(dir)
	if err != nil {
		return f.Fail(ExitCommandError, loadErrorCode(err), err.Error())
	}
	f.VerboseLog("Compiled %d rule(s) from %d file(s) in %s", len(loaded.Rules), len(loaded.Files), dir)

	specs, err := builtinSpecs()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, err.Error())
	}

	result := ValidationResult{
		Rules:    len(loaded.Rules),
		Errors:   compiler.Validate(loaded.Rules, specs),
		Warnings: compiler.AnalyzeCycles(loaded.Rules),
	}
	result.Valid = len(result.Errors) == 0

	if f.JSON() {
		resp := Response{Status: "ok", Data: result}
		if !result.Valid {
			resp.Status = "error"
			resp.Error = &ResponseError{Code: result.Errors[0].Code, Message: result.Errors[0].Message}
		}
		if err := f.Encode(resp); err != nil {
			return err
		}
	} else {
		printValidation(f, result)
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	}
	return nil
}

func printValidation(f *OutputFormatter, result ValidationResult) {
	for _, w := range result.Warnings {
		f.Printf("warning: %s\n", w.Message)
	}
	if result.Valid {
		f.Printf("✓ %d rule(s) valid\n", result.Rules)
		return
	}
	f.Printf("✗ Validation failed\n\n")
	for _, e := range result.Errors {
		f.Printf("  %s\n", e.Error())
	}
}

// builtinSpecs returns the operation tables of the built-in providers.
func builtinSpecs() ([]ir.ConceptSpec, error) {
	sys, err := app.New(config.Config{}, logging.Discard())
	if err != nil {
		return nil, err
	}
	specs := sys.Specs()
	return specs, sys.Close()
}
