// Package target describes compilation targets as a triple of
// architecture, binary format (ABI) and runtime API.
package target

import (
	"fmt"
	"strconv"
	"strings"
)

// Architecture is the instruction set or virtual machine.
type Architecture int

const (
	ArchUnknown Architecture = iota
	ArchX86
	ArchX86_64
	ArchARM32
	ArchARM64
	ArchJVM
	ArchCLR
	ArchWASM32
	ArchWASM64
)

var archNames = map[Architecture]string{
	ArchUnknown: "unknown",
	ArchX86:     "x86",
	ArchX86_64:  "x86_64",
	ArchARM32:   "arm32",
	ArchARM64:   "arm64",
	ArchJVM:     "jvm",
	ArchCLR:     "clr",
	ArchWASM32:  "wasm32",
	ArchWASM64:  "wasm64",
}

func (a Architecture) String() string {
	if s, ok := archNames[a]; ok {
		return s
	}
	return "arch(" + strconv.Itoa(int(a)) + ")"
}

// Abi is the binary container format the artifact is written in.
type Abi int

const (
	AbiUnknown Abi = iota
	AbiPE
	AbiELF
	AbiMachO
	AbiMSIL
	AbiJavaAssembly
	AbiWebAssemblyTextFormat
)

var abiNames = map[Abi]string{
	AbiUnknown:               "unknown",
	AbiPE:                    "pe",
	AbiELF:                   "elf",
	AbiMachO:                 "macho",
	AbiMSIL:                  "msil",
	AbiJavaAssembly:          "jasm",
	AbiWebAssemblyTextFormat: "wat",
}

func (a Abi) String() string {
	if s, ok := abiNames[a]; ok {
		return s
	}
	return "abi(" + strconv.Itoa(int(a)) + ")"
}

// ApiKind selects the runtime family of an Api.
type ApiKind int

const (
	ApiUnknown ApiKind = iota
	ApiMicrosoftVisualC
	ApiJvmRuntime
	ApiClrRuntime
	ApiWASI
)

// Api is the runtime the artifact links against. Version is meaningful
// for the JVM (class file major version family, e.g. 8) and the CLR
// (runtime major version, e.g. 4).
type Api struct {
	Kind    ApiKind
	Version int
}

// Runtime API constructors.
var (
	MicrosoftVisualC = Api{Kind: ApiMicrosoftVisualC}
	WASI             = Api{Kind: ApiWASI}
	UnknownApi       = Api{Kind: ApiUnknown}
)

// JvmRuntime returns the JVM runtime API of the given version.
func JvmRuntime(version int) Api { return Api{Kind: ApiJvmRuntime, Version: version} }

// ClrRuntime returns the CLR runtime API of the given version.
func ClrRuntime(version int) Api { return Api{Kind: ApiClrRuntime, Version: version} }

func (a Api) String() string {
	switch a.Kind {
	case ApiMicrosoftVisualC:
		return "msvc"
	case ApiJvmRuntime:
		return "jvm" + strconv.Itoa(a.Version)
	case ApiClrRuntime:
		return "clr" + strconv.Itoa(a.Version)
	case ApiWASI:
		return "wasi"
	}
	return "unknown"
}

// Target is the (architecture, ABI, API) triple used for backend selection.
type Target struct {
	Arch Architecture
	Abi  Abi
	Api  Api
}

// Common targets.
var (
	WindowsX64 = Target{Arch: ArchX86_64, Abi: AbiPE, Api: MicrosoftVisualC}
	WindowsX86 = Target{Arch: ArchX86, Abi: AbiPE, Api: MicrosoftVisualC}
	JVM8       = Target{Arch: ArchJVM, Abi: AbiJavaAssembly, Api: JvmRuntime(8)}
	CLR4       = Target{Arch: ArchCLR, Abi: AbiMSIL, Api: ClrRuntime(4)}
	WASIP1     = Target{Arch: ArchWASM32, Abi: AbiWebAssemblyTextFormat, Api: WASI}
)

// String renders the triple as "arch-abi-api", the form Parse accepts.
func (t Target) String() string {
	return t.Arch.String() + "-" + t.Abi.String() + "-" + t.Api.String()
}

// Parse reads "arch-abi-api" triples such as "x86_64-pe-msvc",
// "jvm-jasm-jvm8" or "wasm32-wat-wasi". Short aliases "windows",
// "win32", "jvm", "clr" and "wasi" name the common targets. Missing
// components are Unknown.
func Parse(s string) (Target, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return Target{}, fmt.Errorf("empty target")
	case "windows", "win64":
		return WindowsX64, nil
	case "win32":
		return WindowsX86, nil
	case "jvm", "java":
		return JVM8, nil
	case "clr", "msil", "dotnet":
		return CLR4, nil
	case "wasi", "wasm":
		return WASIP1, nil
	}

	parts := strings.Split(s, "-")
	if len(parts) > 3 {
		return Target{}, fmt.Errorf("target %q has more than three components", s)
	}

	var t Target
	var err error
	if t.Arch, err = parseArch(parts[0]); err != nil {
		return Target{}, err
	}
	if len(parts) > 1 {
		if t.Abi, err = parseAbi(parts[1]); err != nil {
			return Target{}, err
		}
	}
	if len(parts) > 2 {
		if t.Api, err = parseApi(parts[2]); err != nil {
			return Target{}, err
		}
	}
	return t, nil
}

func parseArch(s string) (Architecture, error) {
	switch s {
	case "x64", "amd64":
		return ArchX86_64, nil
	case "i386", "i686":
		return ArchX86, nil
	case "aarch64":
		return ArchARM64, nil
	}
	for a, name := range archNames {
		if name == s {
			return a, nil
		}
	}
	return ArchUnknown, fmt.Errorf("unknown architecture %q", s)
}

func parseAbi(s string) (Abi, error) {
	switch s {
	case "il":
		return AbiMSIL, nil
	case "class", "java":
		return AbiJavaAssembly, nil
	case "wasm":
		return AbiWebAssemblyTextFormat, nil
	}
	for a, name := range abiNames {
		if name == s {
			return a, nil
		}
	}
	return AbiUnknown, fmt.Errorf("unknown abi %q", s)
}

func parseApi(s string) (Api, error) {
	switch {
	case s == "msvc":
		return MicrosoftVisualC, nil
	case s == "wasi":
		return WASI, nil
	case s == "unknown" || s == "":
		return UnknownApi, nil
	case strings.HasPrefix(s, "jvm"):
		v, err := parseVersion(strings.TrimPrefix(s, "jvm"))
		return JvmRuntime(v), err
	case strings.HasPrefix(s, "clr"):
		v, err := parseVersion(strings.TrimPrefix(s, "clr"))
		return ClrRuntime(v), err
	}
	return UnknownApi, fmt.Errorf("unknown api %q", s)
}

func parseVersion(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid runtime version %q", s)
	}
	return v, nil
}

// Score applies the shared scoring rubric of a backend whose primary
// target is primary:
//
//	exact arch + ABI + API      100
//	exact arch + ABI, API unknown 30
//	arch matches, ABI unknown    10
//	anything else                -1
//
// A runtime version of 0 on either side matches any version; a version
// mismatch within the same runtime family scores like an unknown API.
func Score(primary, requested Target) float32 {
	if requested.Arch != primary.Arch {
		return -1
	}
	switch {
	case requested.Abi == primary.Abi && apiMatches(primary.Api, requested.Api):
		return 100
	case requested.Abi == primary.Abi &&
		(requested.Api.Kind == ApiUnknown || requested.Api.Kind == primary.Api.Kind):
		return 30
	case requested.Abi == AbiUnknown:
		return 10
	}
	return -1
}

func apiMatches(primary, requested Api) bool {
	if primary.Kind != requested.Kind {
		return false
	}
	return primary.Version == 0 || requested.Version == 0 || primary.Version == requested.Version
}
