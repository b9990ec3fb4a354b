// Package config loads polyasm.yaml / polyasm.toml: function mapping
// overrides, per-platform backend options and import adapter entries.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/polyasm/internal/jvm"
	"github.com/roach88/polyasm/internal/mapper"
	"github.com/roach88/polyasm/internal/msil"
	"github.com/roach88/polyasm/internal/pe"
	"github.com/roach88/polyasm/internal/wasi"
)

// Config is the decoded configuration file.
type Config struct {
	// FunctionMappings overrides the default mapper table:
	// canonical name -> platform tag (pe, msil, jvm, wasi) -> native name.
	FunctionMappings map[string]map[string]string `yaml:"function_mappings" toml:"function_mappings"`

	Platforms Platforms `yaml:"platforms" toml:"platforms"`

	// Adapters lists the import adapters; formats not listed stay enabled.
	Adapters []Adapter `yaml:"adapters" toml:"adapters"`
}

// Platforms holds backend options per platform.
type Platforms struct {
	JVM  JVM  `yaml:"jvm" toml:"jvm"`
	MSIL MSIL `yaml:"msil" toml:"msil"`
	PE   PE   `yaml:"pe" toml:"pe"`
	WASI WASI `yaml:"wasi" toml:"wasi"`
}

type JVM struct {
	ClassMajor int    `yaml:"class_major" toml:"class_major"`
	ClassMinor int    `yaml:"class_minor" toml:"class_minor"`
	SourceFile string `yaml:"source_file" toml:"source_file"`
}

type MSIL struct {
	// Runtime is the CLR version, "4.0" by default. Only the major part
	// reaches the output.
	Runtime    string `yaml:"runtime" toml:"runtime"`
	ShortForms bool   `yaml:"short_forms" toml:"short_forms"`
}

type PE struct {
	// Subsystem is "console" or "gui".
	Subsystem string `yaml:"subsystem" toml:"subsystem"`
	// ImageBase of zero keeps the per-architecture default. x86 builds use
	// it only when it fits in 32 bits.
	ImageBase uint64 `yaml:"image_base" toml:"image_base"`
	// ImageBaseX86 overrides ImageBase for x86 builds.
	ImageBaseX86 uint64 `yaml:"image_base_x86" toml:"image_base_x86"`
}

// imageBaseAlign is the Windows loader's allocation granularity.
const imageBaseAlign = 0x10000

type WASI struct {
	MemoryPages int `yaml:"memory_pages" toml:"memory_pages"`
}

// Adapter enables or disables the importer for one artifact format.
type Adapter struct {
	Name    string `yaml:"name" toml:"name"`
	Format  string `yaml:"format" toml:"format"`
	Enabled *bool  `yaml:"enabled" toml:"enabled"`
}

// IsEnabled treats a missing enabled key as true.
func (a Adapter) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// Formats accepted in adapter entries.
var Formats = []string{"wasm", "class", "msil", "exe"}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	p := &c.Platforms
	if p.JVM.ClassMajor == 0 {
		p.JVM.ClassMajor = int(jvm.DefaultOptions().MajorVersion)
	}
	if p.MSIL.Runtime == "" {
		p.MSIL.Runtime = fmt.Sprintf("%d.0", msil.DefaultOptions().RuntimeVersion)
	}
	if p.PE.Subsystem == "" {
		p.PE.Subsystem = "console"
	}
	if p.WASI.MemoryPages == 0 {
		p.WASI.MemoryPages = int(wasi.DefaultOptions().MemoryPages)
	}
}

// Load reads path, choosing the decoder by extension, and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var c *Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		c, err = DecodeYAML(bytes.NewReader(data))
	case ".toml":
		c, err = DecodeTOML(data)
	default:
		return nil, fmt.Errorf("config file %s: unsupported extension %q (want .yaml, .yml or .toml)", path, ext)
	}
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

// DecodeYAML parses a YAML config, rejecting unknown keys.
func DecodeYAML(r io.Reader) (*Config, error) {
	var c Config
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

// DecodeTOML parses a TOML config, rejecting unknown keys.
func DecodeTOML(data []byte) (*Config, error) {
	var c Config
	decoder := toml.NewDecoder(bytes.NewReader(data)).Strict(true)
	if err := decoder.Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

// FieldError is one validation failure.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, &FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	for name, tags := range c.FunctionMappings {
		if name == "" {
			fail("function_mappings", "canonical name must not be empty")
		}
		for tag, native := range tags {
			field := fmt.Sprintf("function_mappings.%s.%s", name, tag)
			if !mapper.ValidTag(tag) {
				fail(field, "unknown platform %q (want pe, msil, jvm or wasi)", tag)
			}
			if native == "" {
				fail(field, "mapped name must not be empty")
			}
		}
	}

	p := c.Platforms
	if p.JVM.ClassMajor < 45 || p.JVM.ClassMajor > 70 {
		fail("platforms.jvm.class_major", "%d is outside 45..70", p.JVM.ClassMajor)
	}
	if p.JVM.ClassMinor < 0 || p.JVM.ClassMinor > 0xFFFF {
		fail("platforms.jvm.class_minor", "%d does not fit in 16 bits", p.JVM.ClassMinor)
	}
	if _, err := runtimeMajor(p.MSIL.Runtime); err != nil {
		fail("platforms.msil.runtime", "%v", err)
	}
	if _, err := subsystem(p.PE.Subsystem); err != nil {
		fail("platforms.pe.subsystem", "%v", err)
	}
	if p.PE.ImageBase%imageBaseAlign != 0 {
		fail("platforms.pe.image_base", "%#x is not 64 KiB aligned", p.PE.ImageBase)
	}
	if p.PE.ImageBaseX86%imageBaseAlign != 0 {
		fail("platforms.pe.image_base_x86", "%#x is not 64 KiB aligned", p.PE.ImageBaseX86)
	}
	if p.PE.ImageBaseX86 > math.MaxUint32 {
		fail("platforms.pe.image_base_x86", "%#x does not fit in 32 bits", p.PE.ImageBaseX86)
	}
	if p.WASI.MemoryPages < 1 || p.WASI.MemoryPages > 65536 {
		fail("platforms.wasi.memory_pages", "%d is outside 1..65536", p.WASI.MemoryPages)
	}

	seen := make(map[string]bool)
	for i, a := range c.Adapters {
		field := fmt.Sprintf("adapters[%d]", i)
		if a.Name == "" {
			fail(field, "name is required")
		} else if seen[a.Name] {
			fail(field, "duplicate adapter %q", a.Name)
		}
		seen[a.Name] = true
		if !isFormat(a.Format) {
			fail(field, "unknown format %q (want %s)", a.Format, strings.Join(Formats, ", "))
		}
	}
	return errors.Join(errs...)
}

func isFormat(f string) bool {
	for _, known := range Formats {
		if f == known {
			return true
		}
	}
	return false
}

func runtimeMajor(v string) (int, error) {
	major, _, _ := strings.Cut(v, ".")
	n, err := strconv.Atoi(major)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid runtime version %q", v)
	}
	return n, nil
}

func subsystem(s string) (uint16, error) {
	switch strings.ToLower(s) {
	case "console", "cui":
		return pe.SubsystemConsole, nil
	case "gui", "windows":
		return pe.SubsystemGUI, nil
	}
	return 0, fmt.Errorf("unknown subsystem %q (want console or gui)", s)
}

// Mapper builds the function name mapper: the default table with the
// configured overrides applied.
func (c *Config) Mapper() *mapper.Mapper {
	if len(c.FunctionMappings) == 0 {
		return mapper.Default()
	}
	overrides := make(map[string]map[mapper.Tag]string, len(c.FunctionMappings))
	for name, tags := range c.FunctionMappings {
		m := make(map[mapper.Tag]string, len(tags))
		for tag, native := range tags {
			m[mapper.Tag(tag)] = native
		}
		overrides[name] = m
	}
	return mapper.Default().Override(overrides)
}

// AdapterEnabled reports whether the importer for format may be used.
func (c *Config) AdapterEnabled(format string) bool {
	for _, a := range c.Adapters {
		if a.Format == format {
			return a.IsEnabled()
		}
	}
	return true
}

// JVMOptions converts the jvm platform block. Call after Validate.
func (c *Config) JVMOptions() jvm.Options {
	j := c.Platforms.JVM
	return jvm.Options{MajorVersion: uint16(j.ClassMajor), MinorVersion: uint16(j.ClassMinor), SourceFile: j.SourceFile}
}

// MSILOptions converts the msil platform block. Call after Validate.
func (c *Config) MSILOptions() msil.Options {
	major, err := runtimeMajor(c.Platforms.MSIL.Runtime)
	if err != nil {
		major = msil.DefaultOptions().RuntimeVersion
	}
	return msil.Options{RuntimeVersion: major, ShortForms: c.Platforms.MSIL.ShortForms}
}

// PEOptions converts the pe platform block for x64. Call after Validate.
func (c *Config) PEOptions() pe.Options {
	return pe.Options{ImageBase: c.Platforms.PE.ImageBase, Subsystem: c.peSubsystem()}
}

// PEX86Options converts the pe platform block for x86: image_base_x86
// when set, else image_base when it fits in 32 bits, else the default.
func (c *Config) PEX86Options() pe.Options {
	base := c.Platforms.PE.ImageBaseX86
	if base == 0 && c.Platforms.PE.ImageBase <= math.MaxUint32 {
		base = c.Platforms.PE.ImageBase
	}
	return pe.Options{ImageBase: base, Subsystem: c.peSubsystem()}
}

func (c *Config) peSubsystem() uint16 {
	sub, err := subsystem(c.Platforms.PE.Subsystem)
	if err != nil {
		return pe.SubsystemConsole
	}
	return sub
}

// WASIOptions converts the wasi platform block. Call after Validate.
func (c *Config) WASIOptions() wasi.Options {
	return wasi.Options{MemoryPages: uint32(c.Platforms.WASI.MemoryPages)}
}
