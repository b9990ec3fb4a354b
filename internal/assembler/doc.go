// Package assembler wires the backends, importers and build ledger into
// one front door.
//
// An Assembler is built from a config.Config: the function mapper and
// per-platform options flow into the five default backends (jvm, msil,
// pe-x64, pe-x86, wasi), the adapter list decides which importers are
// available, and an optional store records every successful build.
//
// Thread-safety: an Assembler is immutable after New and safe for
// concurrent use. The ledger serializes its own writes.
package assembler
