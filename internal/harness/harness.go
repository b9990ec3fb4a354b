package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/polyasm/internal/assembler"
	"github.com/roach88/polyasm/internal/backend"
	"github.com/roach88/polyasm/internal/ir"
	"github.com/roach88/polyasm/internal/store"
	"github.com/roach88/polyasm/internal/target"
	"github.com/roach88/polyasm/internal/testutil"
)

// Harness is the scenario execution engine.
// It runs scenarios with a deterministic clock and build IDs.
type Harness struct {
	store     *store.Store
	assembler *assembler.Assembler
	logger    *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory ledger for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Load the config and the program
// 2. Build through the assembler, recording into the ledger
// 3. Check the expectations against the output or the error
//
// The returned error covers problems running the scenario itself; an
// unexpected build failure is reported through Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	cfg, err := scenario.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	prog, err := scenario.loadProgram()
	if err != nil {
		return nil, fmt.Errorf("failed to load program: %w", err)
	}
	t, err := target.Parse(scenario.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid target: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	asm, err := assembler.New(cfg,
		assembler.WithStore(st),
		assembler.WithClock(testutil.NewDeterministicClock()),
		assembler.WithIDs(testutil.NewSequentialIDs("build")),
		assembler.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create assembler: %w", err)
	}

	h := &Harness{store: st, assembler: asm, logger: logger}
	return h.run(context.Background(), scenario, prog, t)
}

func (h *Harness) run(ctx context.Context, scenario *Scenario, prog *ir.Program, t target.Target) (*Result, error) {
	result := NewResult()

	res, err := h.assembler.Build(ctx, prog, t)
	if err != nil {
		result.BuildError = err
		if res == nil {
			checkBuildError(result, scenario.Expect, err)
			return result, nil
		}
		// Output without a ledger record is a harness failure.
		return nil, fmt.Errorf("failed to record build: %w", err)
	}

	result.Backend = res.Output.Backend
	result.Files = res.Output.Files
	rec := res.Record
	result.Record = &rec

	if scenario.Expect.Error != "" {
		result.AddError(fmt.Sprintf("expected error %s, build succeeded with backend %s", scenario.Expect.Error, res.Output.Backend))
		return result, nil
	}

	if _, ok, err := h.store.GetBuild(ctx, rec.ID); err != nil || !ok {
		result.AddError(fmt.Sprintf("build %s missing from ledger", rec.ID))
	}

	for _, msg := range EvaluateExpectations(result, scenario.Expect, h.assembler) {
		result.AddError(msg)
	}
	return result, nil
}

// checkBuildError compares a failed build against the expected code.
func checkBuildError(result *Result, expect Expect, err error) {
	if expect.Error == "" {
		result.AddError(fmt.Sprintf("build failed: %v", err))
		return
	}
	code, ok := backend.CodeOf(err)
	if !ok {
		result.AddError(fmt.Sprintf("expected error %s, got uncoded error: %v", expect.Error, err))
		return
	}
	if string(code) != expect.Error {
		result.AddError(fmt.Sprintf("expected error %s, got %s: %v", expect.Error, code, err))
	}
}
