// Package rpc adapts the Scheduler's operations onto an HTTP+JSON surface.
// spec.md §1 explicitly treats "the wire RPC framing" as an external
// collaborator the core only describes the interface of; this package is
// that collaborator, built on net/http and gorilla/mux rather than a
// generated gRPC stub (see DESIGN.md for why the teacher's grpc/protobuf
// dependency is not wired here).
package rpc

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/posservice/posd/internal/types"
)

// jobDTO is the wire shape of a Job: fixed-size byte arrays become hex
// strings, timestamps become RFC3339 (a zero time is omitted).
type jobDTO struct {
	ID                 uint64     `json:"id"`
	ClientID           string     `json:"client_id"`
	FriendlyName       string     `json:"friendly_name"`
	SizeBits           uint64     `json:"size_bits"`
	BitsPerIndex       uint32     `json:"bits_per_index"`
	BitsWritten        uint64     `json:"bits_written"`
	PowDifficulty      string     `json:"pow_difficulty"`
	ComputePowSolution bool       `json:"compute_pow_solution"`
	PowSolutionIndex   *uint64    `json:"pow_solution_index,omitempty"`
	Status             string     `json:"status"`
	Submitted          *time.Time `json:"submitted,omitempty"`
	Started            *time.Time `json:"started,omitempty"`
	Stopped            *time.Time `json:"stopped,omitempty"`
	LastError          *errorDTO  `json:"last_error,omitempty"`
	ComputeProviderID  *uint32    `json:"compute_provider_id,omitempty"`
	StartIndex         uint64     `json:"start_index"`
}

type errorDTO struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func toJobDTO(j types.Job) jobDTO {
	dto := jobDTO{
		ID:                 j.ID,
		ClientID:           hex.EncodeToString(j.ClientID),
		FriendlyName:       j.FriendlyName,
		SizeBits:           j.SizeBits,
		BitsPerIndex:       j.BitsPerIndex,
		BitsWritten:        j.BitsWritten,
		PowDifficulty:      hex.EncodeToString(j.PowDifficulty[:]),
		ComputePowSolution: j.ComputePowSolution,
		Status:             j.Status.String(),
		StartIndex:         j.StartIndex,
	}
	if j.PowSolutionIndex != types.MaxU64 {
		v := j.PowSolutionIndex
		dto.PowSolutionIndex = &v
	}
	if !j.Submitted.IsZero() {
		dto.Submitted = &j.Submitted
	}
	if !j.Started.IsZero() {
		dto.Started = &j.Started
	}
	if !j.Stopped.IsZero() {
		dto.Stopped = &j.Stopped
	}
	if j.LastError != nil {
		dto.LastError = &errorDTO{Code: j.LastError.Code, Message: j.LastError.Message}
	}
	if j.ComputeProviderID != types.MaxU32 {
		v := j.ComputeProviderID
		dto.ComputeProviderID = &v
	}
	return dto
}

type providerDTO struct {
	ID    uint32 `json:"id"`
	Model string `json:"model"`
	Class string `json:"class"`
}

func toProviderDTO(p types.Provider) providerDTO {
	return providerDTO{ID: p.ID, Model: p.Model, Class: p.Class.String()}
}

type configDTO struct {
	DataDir         string `json:"data_dir"`
	IndexesPerCycle uint64 `json:"indexes_per_cycle"`
	BitsPerIndex    uint32 `json:"bits_per_index"`
	Salt            string `json:"salt"`
	N               uint32 `json:"n"`
	R               uint32 `json:"r"`
	P               uint32 `json:"p"`
}

func toConfigDTO(c types.Config) configDTO {
	return configDTO{
		DataDir:         c.DataDir,
		IndexesPerCycle: c.IndexesPerCycle,
		BitsPerIndex:    c.BitsPerIndex,
		Salt:            hex.EncodeToString(c.Salt[:]),
		N:               c.N,
		R:               c.R,
		P:               c.P,
	}
}

func (d configDTO) toConfig() (types.Config, error) {
	var salt [32]byte
	decoded, err := hex.DecodeString(d.Salt)
	if err != nil {
		return types.Config{}, fmt.Errorf("salt is not valid hex: %w", err)
	}
	if len(decoded) != 32 {
		return types.Config{}, fmt.Errorf("salt must decode to 32 bytes, got %d", len(decoded))
	}
	copy(salt[:], decoded)
	return types.Config{
		DataDir:         d.DataDir,
		IndexesPerCycle: d.IndexesPerCycle,
		BitsPerIndex:    d.BitsPerIndex,
		Salt:            salt,
		N:               d.N,
		R:               d.R,
		P:               d.P,
	}, nil
}

type addJobDTO struct {
	ClientID           string `json:"client_id"`
	FriendlyName       string `json:"friendly_name"`
	SizeBits           uint64 `json:"size_bits"`
	BitsPerIndex       uint32 `json:"bits_per_index"`
	StartIndex         uint64 `json:"start_index"`
	PowDifficulty      string `json:"pow_difficulty"`
	ComputePowSolution bool   `json:"compute_pow_solution"`
}

func (d addJobDTO) toRequest() (types.AddJobRequest, error) {
	var clientID []byte
	var powDifficulty [32]byte
	if d.ClientID != "" {
		decoded, err := hex.DecodeString(d.ClientID)
		if err != nil || len(decoded) > types.MaxClientIDBytes {
			return types.AddJobRequest{}, fmt.Errorf("client_id must be <=%d bytes of hex", types.MaxClientIDBytes)
		}
		clientID = decoded
	}
	if d.PowDifficulty != "" {
		decoded, err := hex.DecodeString(d.PowDifficulty)
		if err != nil || len(decoded) != 32 {
			return types.AddJobRequest{}, fmt.Errorf("pow_difficulty must be exactly 32 bytes of hex")
		}
		copy(powDifficulty[:], decoded)
	}
	bitsPerIndex := d.BitsPerIndex
	if bitsPerIndex == 0 {
		bitsPerIndex = 8
	}
	return types.AddJobRequest{
		ClientID:           clientID,
		FriendlyName:       d.FriendlyName,
		SizeBits:           d.SizeBits,
		BitsPerIndex:       bitsPerIndex,
		StartIndex:         d.StartIndex,
		PowDifficulty:      powDifficulty,
		ComputePowSolution: d.ComputePowSolution,
	}, nil
}

type abortJobDTO struct {
	DeleteJob  bool `json:"delete_job"`
	DeleteData bool `json:"delete_data"`
}

type errorResponse struct {
	Error string `json:"error"`
}
