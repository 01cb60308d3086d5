package scheduler

import (
	"encoding/binary"

	"github.com/oklog/ulid/v2"
)

// newJobID draws a fresh 64-bit id from a fresh ULID (spec.md §9:
// collisions are negligible and ignored, and nothing external depends on
// the id scheme beyond uniqueness). Grounded on the teacher's own
// internal/daemon job-id minting (`ulid.Make().String()`); folding the
// ULID's 16 bytes into 64 bits by XOR-ing its two halves keeps the same
// entropy source the teacher already used for this exact role, rather than
// introducing a library the teacher never imported. The low half carries
// the entropy that ulid.Make() advances within a single millisecond, so
// ids minted in the same millisecond still differ.
func newJobID() uint64 {
	id := ulid.Make()
	return binary.BigEndian.Uint64(id[:8]) ^ binary.BigEndian.Uint64(id[8:])
}
