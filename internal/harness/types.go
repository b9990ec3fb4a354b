package harness

import (
	"github.com/roach88/polyasm/internal/store"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every expectation matched.
	Pass bool `json:"pass"`

	// Backend is the backend that won dispatch, empty if the build failed.
	Backend string `json:"backend,omitempty"`

	// Files holds the build output by file name.
	Files map[string][]byte `json:"-"`

	// Record is the ledger entry written for the build.
	Record *store.Build `json:"record,omitempty"`

	// BuildError is the build failure, if any.
	BuildError error `json:"-"`

	// Errors contains expectation failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Files:  map[string][]byte{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
