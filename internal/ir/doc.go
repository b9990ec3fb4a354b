// Package ir provides the language-neutral intermediate representation for polyasm.
//
// This package contains the program model only. Every backend and import
// adapter imports ir; ir imports nothing internal. This keeps IR the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Type and Constant are closed sums (sealed interfaces)
//   - Instruction is a tagged union: one Op plus the operand fields it uses
//   - IR values are immutable after construction; backends only read them
//   - Constants are literal; pools are built per backend during emission
//   - Program hashes use canonical JSON with domain separation
package ir
