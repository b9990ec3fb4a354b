package assembler

import (
	"time"

	"github.com/google/uuid"
)

// IDGenerator hands out build IDs.
type IDGenerator interface {
	NewID() string
}

// Clock stamps ledger records.
type Clock interface {
	Now() time.Time
}

// UUIDv7Generator generates time-sortable build IDs, so ledger rows
// sort by creation even when timestamps collide.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewID returns a hyphenated UUIDv7.
//
// Panics if the random source fails.
func (UUIDv7Generator) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }
