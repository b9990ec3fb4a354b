package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/polyasm/internal/compiler"
	"github.com/roach88/polyasm/internal/config"
	"github.com/roach88/polyasm/internal/ir"
	"github.com/roach88/polyasm/internal/target"
)

// Scenario defines one build scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario checks.
	Description string `yaml:"description,omitempty"`

	// Target is a triple accepted by target.Parse.
	Target string `yaml:"target"`

	// Program is an inline IR document. Exactly one of Program and
	// ProgramFile is set.
	Program *ir.Document `yaml:"program,omitempty"`

	// ProgramFile is a .cue, .yaml or .json program, relative to the
	// scenario file.
	ProgramFile string `yaml:"program_file,omitempty"`

	// Config is an optional polyasm.yaml or polyasm.toml, relative to the
	// scenario file.
	Config string `yaml:"config,omitempty"`

	// Expect lists what the build must produce.
	Expect Expect `yaml:"expect"`
}

// Expect specifies the expected build outcome. Empty fields are not
// checked.
type Expect struct {
	// Backend is the name of the backend that must win dispatch.
	Backend string `yaml:"backend,omitempty"`

	// File is the output file the byte and text checks apply to. When
	// empty, the build must produce exactly one file.
	File string `yaml:"file,omitempty"`

	// ContainsHex lists byte sequences, written as hex with optional
	// spaces, that must appear in the file.
	ContainsHex []string `yaml:"contains_hex,omitempty"`

	// ContainsText lists strings that must appear in the file.
	ContainsText []string `yaml:"contains_text,omitempty"`

	// Functions lists the function names recovered by importing the
	// artifact back, in order.
	Functions []string `yaml:"functions,omitempty"`

	// Error is the expected error code (UNSUPPORTED_TARGET, UNKNOWN_SYMBOL, ...).
	// When set, the build must fail with that code and nothing else is
	// checked.
	Error string `yaml:"error,omitempty"`
}

func (e *Expect) isEmpty() bool {
	return e.Backend == "" && e.File == "" && len(e.ContainsHex) == 0 &&
		len(e.ContainsText) == 0 && len(e.Functions) == 0 && e.Error == ""
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
//
// ProgramFile and Config are resolved relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "contains_hexes:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve paths BEFORE validation
	base := filepath.Dir(path)
	if scenario.ProgramFile != "" && !filepath.IsAbs(scenario.ProgramFile) {
		scenario.ProgramFile = filepath.Join(base, scenario.ProgramFile)
	}
	if scenario.Config != "" && !filepath.IsAbs(scenario.Config) {
		scenario.Config = filepath.Join(base, scenario.Config)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Target == "" {
		return fmt.Errorf("target is required")
	}
	if _, err := target.Parse(s.Target); err != nil {
		return fmt.Errorf("target: %w", err)
	}

	switch {
	case s.Program == nil && s.ProgramFile == "":
		return fmt.Errorf("one of program or program_file is required")
	case s.Program != nil && s.ProgramFile != "":
		return fmt.Errorf("program and program_file are mutually exclusive")
	}

	if s.ProgramFile != "" {
		if _, err := os.Stat(s.ProgramFile); os.IsNotExist(err) {
			return fmt.Errorf("program file not found: %s", s.ProgramFile)
		}
	}
	if s.Config != "" {
		if _, err := os.Stat(s.Config); os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", s.Config)
		}
	}

	return validateExpect(&s.Expect)
}

// validateExpect rejects empty and contradictory expectations.
func validateExpect(e *Expect) error {
	if e.isEmpty() {
		return fmt.Errorf("expect: at least one expectation is required")
	}

	if e.Error != "" && (e.Backend != "" || e.File != "" || len(e.ContainsHex) > 0 ||
		len(e.ContainsText) > 0 || len(e.Functions) > 0) {
		return fmt.Errorf("expect: error cannot be combined with output expectations")
	}

	for i, h := range e.ContainsHex {
		if _, err := parseHex(h); err != nil {
			return fmt.Errorf("expect.contains_hex[%d]: %w", i, err)
		}
	}

	return nil
}

// loadProgram returns the scenario's program from whichever source it names.
func (s *Scenario) loadProgram() (*ir.Program, error) {
	if s.Program != nil {
		return s.Program.Program()
	}
	return compiler.LoadFile(s.ProgramFile)
}

// loadConfig returns the scenario's config, or the default one.
func (s *Scenario) loadConfig() (*config.Config, error) {
	if s.Config == "" {
		return config.Default(), nil
	}
	return config.Load(s.Config)
}
