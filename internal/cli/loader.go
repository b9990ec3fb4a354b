package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/polyasm/internal/compiler"
	"github.com/roach88/polyasm/internal/config"
	"github.com/roach88/polyasm/internal/ir"
)

// LoadResult contains a loaded program and where it came from.
type LoadResult struct {
	Program   *ir.Program
	FileCount int // Number of files read
}

// LoadError represents an error that occurred while loading a program.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadProgram reads a program from a .cue, .yaml, .yml or .json file, or
// from a directory holding one CUE package that defines `program`.
func LoadProgram(path string) (*LoadResult, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("program not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing %s: %v", path, err)}
	}

	if info.IsDir() {
		return loadPackage(path)
	}

	p, err := compiler.LoadFile(path)
	if err != nil {
		return nil, convertCompileError(err)
	}
	return &LoadResult{Program: p, FileCount: 1}, nil
}

// loadPackage builds the CUE package in dir and compiles its `program`.
func loadPackage(dir string) (*LoadResult, error) {
	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	progVal := value.LookupPath(cue.ParsePath("program"))
	if !progVal.Exists() {
		return nil, &LoadError{Code: ErrCodeNoProgram, Message: fmt.Sprintf("no program defined in %s", dir)}
	}
	p, err := compiler.CompileProgram(progVal)
	if err != nil {
		return nil, convertCompileError(err)
	}
	return &LoadResult{Program: p, FileCount: len(cueFiles)}, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// loadConfig reads path, or returns the default configuration when path
// is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeConfig, Message: err.Error()}
	}
	return cfg, nil
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeLoadFailed,
		Message: err.Error(),
	}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric       = "E001" // Generic/unknown error
	ErrCodeScanError     = "E002" // Directory scan error
	ErrCodeNoFiles       = "E003" // No CUE files found
	ErrCodeLoadFailed    = "E004" // Program load failed
	ErrCodeNotFound      = "E005" // Path not found
	ErrCodeBuildFailed   = "E006" // CUE build failed
	ErrCodeWriteFailed   = "E007" // File write error
	ErrCodeNoProgram     = "E008" // CUE package without `program`
	ErrCodeConfig        = "E009" // Config file error
	ErrCodeInvalidTarget = "E010" // Unparseable target triple
	ErrCodeStore         = "E011" // Build ledger error
	ErrCodeImportFailed  = "E012" // Artifact could not be imported

	// Program description errors
	ErrCodeProgramName  = "E101" // Missing program name
	ErrCodeNoFunctions  = "E102" // No functions defined
	ErrCodeInvalidType  = "E105" // Unknown type name
	ErrCodeInvalidOp    = "E106" // Unknown op or bad operand
	ErrCodeInvalidConst = "E107" // Malformed constant
)

// MapFieldToErrorCode maps a compiler error field to an error code.
// Fields are paths such as "functions.main.body[2].op".
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "name":
		return ErrCodeProgramName
	case field == "functions":
		return ErrCodeNoFunctions
	case strings.HasSuffix(field, ".init"), strings.HasSuffix(field, ".value"):
		return ErrCodeInvalidConst
	case strings.HasSuffix(field, ".type"), strings.Contains(field, ".params"),
		strings.Contains(field, ".locals"), strings.HasSuffix(field, ".returns"):
		return ErrCodeInvalidType
	case strings.Contains(field, ".body"):
		return ErrCodeInvalidOp
	default:
		return ErrCodeGeneric
	}
}
