package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/posservice/posd/internal/compute"
	"github.com/posservice/posd/internal/events"
	"github.com/posservice/posd/internal/provider"
	"github.com/posservice/posd/internal/types"
)

type fakeAdapter struct {
	providers []types.Provider
}

func (f *fakeAdapter) Enumerate() ([]types.Provider, error) { return f.providers, nil }

func (f *fakeAdapter) Compute(req compute.CycleRequest, outBuf []byte) compute.CycleResult {
	for i := range outBuf {
		outBuf[i] = 0xCD
	}
	return compute.CycleResult{Code: compute.NoError, IdxSolution: types.MaxU64, HashesComputed: req.End - req.Start + 1}
}

func newTestScheduler(t *testing.T, numProviders int) (*Scheduler, types.Config) {
	t.Helper()
	providers := make([]types.Provider, numProviders)
	ids := make([]uint32, numProviders)
	for i := 0; i < numProviders; i++ {
		providers[i] = types.Provider{ID: uint32(i), Model: "fake", Class: types.ClassCPU}
		ids[i] = uint32(i)
	}
	adapter := &fakeAdapter{providers: providers}
	pool := provider.NewPool(ids)
	cfg := types.Config{DataDir: t.TempDir(), IndexesPerCycle: 8, BitsPerIndex: 8, N: 512, R: 1, P: 1}

	s := New(adapter, pool, providers, cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(cancel)
	return s, cfg
}

func waitForStatus(t *testing.T, s *Scheduler, id uint64, want types.Status) types.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := s.GetJob(context.Background(), id)
		if ok && job.Status == want {
			return job
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("job %d never reached status %v", id, want)
	return types.Job{}
}

func TestAddJobAdmitsWhenPoolNonEmpty(t *testing.T) {
	s, cfg := newTestScheduler(t, 1)
	job, err := s.AddJob(context.Background(), types.AddJobRequest{SizeBits: cfg.IndexesPerCycle * 8 * 2})
	require.NoError(t, err)
	require.Equal(t, types.Started, job.Status)
	require.NotEqual(t, types.MaxU32, job.ComputeProviderID)

	waitForStatus(t, s, job.ID, types.Completed)
}

func TestAddJobQueuesWhenPoolEmpty(t *testing.T) {
	s, cfg := newTestScheduler(t, 0)
	job, err := s.AddJob(context.Background(), types.AddJobRequest{SizeBits: cfg.IndexesPerCycle * 8 * 2})
	require.NoError(t, err)
	require.Equal(t, types.Queued, job.Status)
}

func TestAddJobValidationRejection(t *testing.T) {
	s, _ := newTestScheduler(t, 1)
	_, err := s.AddJob(context.Background(), types.AddJobRequest{SizeBits: 100})
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, s.GetAllJobs(context.Background()))
}

func TestThreeJobsAgainstOneProviderAllComplete(t *testing.T) {
	s, cfg := newTestScheduler(t, 1)
	size := cfg.IndexesPerCycle * 8 * 2

	var ids []uint64
	started, queued := 0, 0
	for i := 0; i < 3; i++ {
		job, err := s.AddJob(context.Background(), types.AddJobRequest{SizeBits: size})
		require.NoError(t, err)
		ids = append(ids, job.ID)
		if job.Status == types.Started {
			started++
		} else {
			queued++
		}
	}
	require.Equal(t, 1, started)
	require.Equal(t, 2, queued)

	for _, id := range ids {
		waitForStatus(t, s, id, types.Completed)
	}
}

func TestSubscriberPrunedOnDrop(t *testing.T) {
	s, cfg := newTestScheduler(t, 1)
	_, ch, err := s.Subscribe(context.Background(), 0)
	require.NoError(t, err)

	job, err := s.AddJob(context.Background(), types.AddJobRequest{SizeBits: cfg.IndexesPerCycle * 8 * 2})
	require.NoError(t, err)
	<-ch // drain one update

	waitForStatus(t, s, job.ID, types.Completed)

	// never drain again: eventually the bounded channel fills and the
	// scheduler prunes the subscriber without blocking or panicking.
	for i := 0; i < events.Capacity+5; i++ {
		_, err := s.AddJob(context.Background(), types.AddJobRequest{SizeBits: cfg.IndexesPerCycle * 8 * 2})
		require.NoError(t, err)
	}
}

func TestSetConfigRefusedWhileJobQueued(t *testing.T) {
	s, cfg := newTestScheduler(t, 0)
	_, err := s.AddJob(context.Background(), types.AddJobRequest{SizeBits: cfg.IndexesPerCycle * 8 * 2})
	require.NoError(t, err)

	err = s.SetConfig(context.Background(), cfg)
	require.ErrorIs(t, err, ErrConfigInUse)
}
