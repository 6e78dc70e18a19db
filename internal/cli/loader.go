package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/classwatch/internal/compiler"
)

// Error codes shared by the CLI commands. Rule validation codes (E11x) come
// from the compiler.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeCompile     = "E010" // Rule does not compile
	ErrCodeTestFailed  = "E020" // Scenario failed
)

// LoadResult holds the rules compiled from a directory.
type LoadResult struct {
	Rules []compiler.RuleDef
	Files []string
}

// LoadError is a loader failure with its CLI error code.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Line returns the source line of the error, or 0.
func (e *LoadError) Line() int {
	if e.Pos.IsValid() {
		return e.Pos.Line()
	}
	return 0
}

// LoadRules compiles every .cue file under dir as one CUE instance and
// returns its rules in declaration order.
func LoadRules(dir string) (*LoadResult, error) {
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("rules directory not found: %s", dir)}
	case err != nil:
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing rules directory: %v", err)}
	case !info.IsDir():
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	rel := make([]string, len(files))
	for i, f := range files {
		rel[i] = "./" + filepath.Base(f)
	}

	instances := load.Instances(rel, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	defs, err := compiler.CompileRules(value)
	if err != nil {
		return nil, compileLoadError(err)
	}
	return &LoadResult{Rules: defs, Files: files}, nil
}

// FindCUEFiles returns the .cue files directly in dir, sorted by name.
// CUE loads named files from a single directory, so subdirectories are
// not searched.
func FindCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".cue" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

func compileLoadError(err error) *LoadError {
	var cerr *compiler.CompileError
	if errors.As(err, &cerr) {
		return &LoadError{Code: ErrCodeCompile, Message: fmt.Sprintf("%s: %s", cerr.Field, cerr.Message), Pos: cerr.Pos}
	}
	return &LoadError{Code: ErrCodeCompile, Message: err.Error()}
}

// loadErrorCode returns the CLI code for a LoadRules error.
func loadErrorCode(err error) string {
	var lerr *LoadError
	if errors.As(err, &lerr) {
		return lerr.Code
	}
	return ErrCodeGeneric
}
