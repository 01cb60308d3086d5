package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/posservice/posd/internal/compute"
	"github.com/posservice/posd/internal/types"
)

// fakeAdapter fills every label byte with 0xAB and never finds a PoW
// solution unless forceSolutionAt is set, so tests stay deterministic and
// fast regardless of real scrypt cost.
type fakeAdapter struct {
	forceSolutionAt *uint64
	shortHashes     bool
}

func (f *fakeAdapter) Enumerate() ([]types.Provider, error) { return nil, nil }

func (f *fakeAdapter) Compute(req compute.CycleRequest, outBuf []byte) compute.CycleResult {
	for i := range outBuf {
		outBuf[i] = 0xAB
	}
	computed := req.End - req.Start + 1
	if f.shortHashes {
		computed--
	}
	result := compute.CycleResult{Code: compute.NoError, IdxSolution: types.MaxU64, HashesComputed: computed}
	if req.Options&compute.ComputePow != 0 && f.forceSolutionAt != nil &&
		*f.forceSolutionAt >= req.Start && *f.forceSolutionAt <= req.End {
		result.IdxSolution = *f.forceSolutionAt
		result.Code = compute.PowSolutionFound
	}
	return result
}

func testConfig(dir string) types.Config {
	return types.Config{
		DataDir:         dir,
		IndexesPerCycle: 8192,
		BitsPerIndex:    8,
		N:               512,
		R:               1,
		P:               1,
	}
}

func TestRunCompletesWithoutPow(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	job := types.Job{ID: 1, SizeBits: cfg.IndexesPerCycle * 8 * 4, Status: types.Started, ComputeProviderID: 0, PowSolutionIndex: types.MaxU64}

	var reports []types.Job
	worker := &fakeAdapter{}
	Run(context.Background(), job, cfg, worker, func(j types.Job) { reports = append(reports, j) }, nil)

	last := reports[len(reports)-1]
	require.Equal(t, types.Completed, last.Status)
	require.Equal(t, job.SizeBits, last.BitsWritten)
	require.Len(t, reports, 4+1) // one per cycle, plus the terminal completion

	info, err := os.Stat(filepath.Join(dir, "1.pos"))
	require.NoError(t, err)
	require.Equal(t, int64(job.SizeBits/8), info.Size())
}

func TestRunFindsPowDuringLeaves(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	solutionIdx := uint64(100)
	job := types.Job{
		ID: 2, SizeBits: cfg.IndexesPerCycle * 8 * 2, Status: types.Started,
		ComputePowSolution: true, PowSolutionIndex: types.MaxU64,
	}

	var reports []types.Job
	Run(context.Background(), job, cfg, &fakeAdapter{forceSolutionAt: &solutionIdx},
		func(j types.Job) { reports = append(reports, j) }, nil)

	last := reports[len(reports)-1]
	require.Equal(t, types.Completed, last.Status)
	require.Equal(t, solutionIdx, last.PowSolutionIndex)
}

func TestRunPowOnlyTailSearch(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	iterations := uint64(2)
	// Solution sits past the materialized range, forcing the PoW-only tail.
	solutionIdx := iterations*cfg.IndexesPerCycle + cfg.IndexesPerCycle*3
	job := types.Job{
		ID: 3, SizeBits: cfg.IndexesPerCycle * 8 * iterations, Status: types.Started,
		ComputePowSolution: true, PowSolutionIndex: types.MaxU64,
	}

	var reports []types.Job
	Run(context.Background(), job, cfg, &fakeAdapter{forceSolutionAt: &solutionIdx},
		func(j types.Job) { reports = append(reports, j) }, nil)

	last := reports[len(reports)-1]
	require.Equal(t, types.Completed, last.Status)
	require.Equal(t, solutionIdx, last.PowSolutionIndex)
}

func TestRunStopsOnShortHashes(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	job := types.Job{ID: 4, SizeBits: cfg.IndexesPerCycle * 8 * 2, Status: types.Started, PowSolutionIndex: types.MaxU64}

	var reports []types.Job
	Run(context.Background(), job, cfg, &fakeAdapter{shortHashes: true}, func(j types.Job) { reports = append(reports, j) }, nil)

	last := reports[len(reports)-1]
	require.Equal(t, types.Stopped, last.Status)
	require.NotNil(t, last.LastError)
	require.Equal(t, 502, last.LastError.Code)
}

func TestRunAbortsBetweenCycles(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	job := types.Job{ID: 5, SizeBits: cfg.IndexesPerCycle * 8 * 100, Status: types.Started, PowSolutionIndex: types.MaxU64}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var reports []types.Job
	Run(ctx, job, cfg, &fakeAdapter{}, func(j types.Job) { reports = append(reports, j) }, nil)

	last := reports[len(reports)-1]
	require.Equal(t, types.Stopped, last.Status)
	require.Equal(t, 503, last.LastError.Code)
}
