// Package worker implements the PoS Worker (C6): the per-job blocking task
// that iterates compute cycles, streams labels to a job file, optionally
// searches for a PoW index, and reports progress back to the Scheduler via
// status-update callbacks. Grounded on original_source's
// crates/pos-service/src/pos_task.rs (start_task/update_job_status/
// task_error) and, for the blocking-goroutine-per-unit shape, the
// teacher's worker-pool pattern of one goroutine per unit of work.
package worker

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/posservice/posd/internal/compute"
	"github.com/posservice/posd/internal/types"
)

// Report is how a Worker communicates back to the Scheduler. It must never
// block for long: the Scheduler posts it onto its own mailbox.
type Report func(types.Job)

// Run executes the full Worker algorithm for one job (spec.md §4.6) on the
// calling goroutine, which must be a dedicated blocking goroutine and never
// the Scheduler's own mailbox loop. job and cfg are value copies taken at
// spawn time (spec.md §3, §9 "value-copy worker inputs"); ctx is checked
// once per cycle boundary for cooperative abort (spec.md §9 open question
// #1 — decided as a hybrid: a cycle already in flight always finishes).
func Run(ctx context.Context, job types.Job, cfg types.Config, adapter compute.Adapter, report Report, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("job_id", job.ID, "provider_id", job.ComputeProviderID)

	bitsPerCycle := cfg.IndexesPerCycle * uint64(cfg.BitsPerIndex)
	if bitsPerCycle == 0 {
		taskError(&job, 500, "invalid cycle size", report)
		return
	}
	iterations := job.SizeBits / bitsPerCycle
	bufSize := cfg.IndexesPerCycle * uint64(cfg.BitsPerIndex) / 8
	buf := make([]byte, bufSize)

	path := filepath.Join(cfg.DataDir, fmt.Sprintf("%d.pos", job.ID))
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("create data dir", "error", err)
		taskError(&job, 501, "create data directory: "+err.Error(), report)
		return
	}
	f, err := os.Create(path)
	if err != nil {
		logger.Error("create job file", "error", err)
		taskError(&job, 501, "create job file: "+err.Error(), report)
		return
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	for i := uint64(0); i < iterations; i++ {
		select {
		case <-ctx.Done():
			taskError(&job, 503, "aborted between cycles", report)
			return
		default:
		}

		start := i * cfg.IndexesPerCycle
		end := start + cfg.IndexesPerCycle - 1

		opts := compute.ComputeLeaves
		if job.ComputePowSolution && job.PowSolutionIndex == types.MaxU64 {
			opts |= compute.ComputePow
		}

		res := adapter.Compute(compute.CycleRequest{
			ProviderID:    job.ComputeProviderID,
			ClientID:      job.ClientID,
			Start:         start,
			End:           end,
			BitsPerIndex:  cfg.BitsPerIndex,
			Salt:          cfg.Salt,
			Options:       opts,
			N:             cfg.N,
			R:             cfg.R,
			P:             cfg.P,
			PowDifficulty: job.PowDifficulty,
		}, buf)

		if res.IdxSolution != types.MaxU64 && job.PowSolutionIndex == types.MaxU64 {
			job.PowSolutionIndex = res.IdxSolution
		}
		if res.Code != compute.NoError && res.Code != compute.PowSolutionFound {
			taskError(&job, 501, fmt.Sprintf("compute primitive returned %d", res.Code), report)
			return
		}
		if res.HashesComputed < cfg.IndexesPerCycle {
			taskError(&job, 502, "compute primitive under-delivered hashes", report)
			return
		}
		if _, err := w.Write(buf); err != nil {
			logger.Error("write cycle buffer", "error", err)
			taskError(&job, 501, "write: "+err.Error(), report)
			return
		}
		job.BitsWritten += bitsPerCycle
		report(job.Clone())
	}

	if err := w.Flush(); err != nil {
		logger.Error("flush writer", "error", err)
		taskError(&job, 501, "flush: "+err.Error(), report)
		return
	}

	if job.ComputePowSolution && job.PowSolutionIndex == types.MaxU64 {
		if err := powOnlySearch(ctx, &job, cfg, adapter); err != nil {
			taskError(&job, 501, err.Error(), report)
			return
		}
	}

	if job.Status == types.Started {
		job.Status = types.Completed
		job.Stopped = time.Now()
		report(job.Clone())
	}
}

// powOnlySearch implements step 5 of the Worker algorithm: once the leaves
// phase is exhausted without finding a PoW solution, keep searching
// PoW-only cycles past the materialized range until one is found.
func powOnlySearch(ctx context.Context, job *types.Job, cfg types.Config, adapter compute.Adapter) error {
	iterations := job.SizeBits / (cfg.IndexesPerCycle * uint64(cfg.BitsPerIndex))
	start := iterations * cfg.IndexesPerCycle
	scratch := make([]byte, cfg.IndexesPerCycle*uint64(cfg.BitsPerIndex)/8)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("aborted during pow-only search")
		default:
		}

		end := start + cfg.IndexesPerCycle - 1
		res := adapter.Compute(compute.CycleRequest{
			ProviderID:    job.ComputeProviderID,
			ClientID:      job.ClientID,
			Start:         start,
			End:           end,
			BitsPerIndex:  cfg.BitsPerIndex,
			Salt:          cfg.Salt,
			Options:       compute.ComputePow,
			N:             cfg.N,
			R:             cfg.R,
			P:             cfg.P,
			PowDifficulty: job.PowDifficulty,
		}, scratch)

		if res.Code != compute.NoError && res.Code != compute.PowSolutionFound {
			return fmt.Errorf("compute primitive returned %d during pow-only search", res.Code)
		}
		if res.IdxSolution != types.MaxU64 {
			job.PowSolutionIndex = res.IdxSolution
			return nil
		}
		start += cfg.IndexesPerCycle
	}
}

// taskError sets last_error, flips status to Stopped, stamps stopped, and
// emits a final report before the Worker returns (spec.md §4.6).
func taskError(job *types.Job, code int, message string, report Report) {
	job.LastError = &types.JobError{Code: code, Message: message}
	job.Status = types.Stopped
	job.Stopped = time.Now()
	report(job.Clone())
}
