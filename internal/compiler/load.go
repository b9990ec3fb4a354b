package compiler

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/polyasm/internal/ir"
)

// LoadFile reads a program from disk. CUE files go through
// CompileSource; YAML and JSON files are IR documents.
func LoadFile(path string) (*ir.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read program file: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".cue":
		return CompileSource(path, data)
	case ".yaml", ".yml", ".json":
		p, err := ir.DecodeDocument(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("program file %s: unsupported extension %q (want .cue, .yaml, .yml or .json)", path, ext)
	}
}
