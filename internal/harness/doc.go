// Package harness runs build scenarios: a program, a target and a set of
// expectations about what the assembler produces.
//
// Each scenario is a YAML file:
//
//	name: const42
//	target: wasm32-wat-wasi
//	program_file: const42.cue      # or an inline IR document under program:
//	expect:
//	  backend: wasi
//	  file: Const42.wasm
//	  contains_hex: ["41 2a 21 00 20 00 0f 0b"]
//	  functions: [_start]          # names recovered by importing the artifact
//
// Scenarios that should fail name the expected error code instead:
//
//	expect:
//	  error: UNSUPPORTED_TARGET
//
// Every run uses a fresh in-memory ledger with a deterministic clock and
// sequential build IDs, so the ledger record in the Result is identical
// across runs. Golden snapshots hold a hex dump of every output file (or
// the text itself for MSIL) and are compared byte for byte.
package harness
