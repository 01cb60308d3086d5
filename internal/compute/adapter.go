// Package compute wraps the native-style PoS label computation behind the
// blocking adapter contract the Worker consumes. spec.md treats the
// primitive's internals as an opaque external collaborator; this package
// gives that collaborator a concrete, real implementation in terms of
// golang.org/x/crypto/scrypt rather than leaving it as FFI into a CUDA or
// Vulkan library.
package compute

import "github.com/posservice/posd/internal/types"

// Options selects which phases of a compute cycle to run.
type Options uint8

const (
	ComputeLeaves Options = 1 << iota
	ComputePow
)

// ResultCode mirrors the native primitive's integer return codes.
type ResultCode int

const (
	NoError               ResultCode = 0
	PowSolutionFound      ResultCode = 1
	ComputeError          ResultCode = -1
	Timeout               ResultCode = -2
	Already               ResultCode = -3
	Canceled              ResultCode = -4
	MissingComputeOptions ResultCode = -5
	InvalidParam          ResultCode = -6
)

// CycleRequest is the full parameter set for one call into the adapter.
type CycleRequest struct {
	ProviderID uint32
	// ClientID is the client-supplied id as received (<=64 bytes, spec.md
	// §3). The native primitive's own fixed-size seed (§6.3) is derived
	// from this internally by the Adapter implementation, not by callers.
	ClientID      []byte
	Start         uint64
	End           uint64
	BitsPerIndex  uint32
	Salt          [32]byte
	Options       Options
	N, R, P       uint32
	PowDifficulty [32]byte
}

// CycleResult is the out-params the adapter fills in, plus the label bytes
// written into the caller-supplied buffer.
type CycleResult struct {
	Code           ResultCode
	IdxSolution    uint64
	HashesComputed uint64
	HashesPerSec   float64
}

// Adapter is the Compute Primitive Adapter (C1): a single blocking call
// that produces labels for a contiguous index range and, optionally,
// searches those same indices for a proof-of-work solution.
type Adapter interface {
	// Enumerate lists the providers visible to this adapter. Called once
	// at startup by the Provider Registry.
	Enumerate() ([]types.Provider, error)

	// Compute executes one cycle, blocking until done. outBuf must be at
	// least (req.End-req.Start+1)*req.BitsPerIndex/8 bytes. When
	// req.Options includes ComputeLeaves, Compute fills it with label bytes
	// starting at bit 0 unless the result code is neither NoError nor
	// PowSolutionFound, in which case outBuf contents are undefined. A
	// ComputePow-only call does not write label bytes into outBuf.
	Compute(req CycleRequest, outBuf []byte) CycleResult
}
