package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/posservice/posd/internal/types"
)

type fakeScheduler struct {
	jobs      map[uint64]types.Job
	cfg       types.Config
	providers []types.Provider
	addErr    error
}

func (f *fakeScheduler) AddJob(ctx context.Context, req types.AddJobRequest) (types.Job, error) {
	if f.addErr != nil {
		return types.Job{}, f.addErr
	}
	job := types.Job{ID: 1, SizeBits: req.SizeBits, Status: types.Queued, ComputeProviderID: types.MaxU32, PowSolutionIndex: types.MaxU64}
	f.jobs[job.ID] = job
	return job, nil
}
func (f *fakeScheduler) UpdateJobStatus(job types.Job) {}
func (f *fakeScheduler) AbortJob(ctx context.Context, req types.AbortJobRequest) error {
	if _, ok := f.jobs[req.ID]; !ok {
		return errNotFound
	}
	delete(f.jobs, req.ID)
	return nil
}
func (f *fakeScheduler) GetJob(ctx context.Context, id uint64) (types.Job, bool) {
	j, ok := f.jobs[id]
	return j, ok
}
func (f *fakeScheduler) GetAllJobs(ctx context.Context) []types.Job {
	out := make([]types.Job, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out
}
func (f *fakeScheduler) GetConfig(ctx context.Context) types.Config { return f.cfg }
func (f *fakeScheduler) SetConfig(ctx context.Context, cfg types.Config) error {
	f.cfg = cfg
	return nil
}
func (f *fakeScheduler) Subscribe(ctx context.Context, filter uint64) (uint64, <-chan types.Job, error) {
	ch := make(chan types.Job, 1)
	close(ch)
	return 1, ch, nil
}
func (f *fakeScheduler) GetProviders(ctx context.Context) []types.Provider { return f.providers }

func newTestServer() (*Server, *fakeScheduler) {
	fs := &fakeScheduler{jobs: make(map[uint64]types.Job), providers: []types.Provider{{ID: 0, Model: "cpu0", Class: types.ClassCPU}}}
	return NewServer(fs, nil), fs
}

func TestAddJobAndGetJob(t *testing.T) {
	s, _ := newTestServer()
	body, _ := json.Marshal(addJobDTO{SizeBits: 8192})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var dto jobDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	require.Equal(t, uint64(1), dto.ID)

	req2 := httptest.NewRequest(http.MethodGet, "/jobs/1", nil)
	rec2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
}

func TestGetJobNotFound(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/jobs/999", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetProviders(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/providers", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out []providerDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	require.Equal(t, "cpu", out[0].Class)
}

func TestAbortJobUnknownID(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/jobs/42/abort", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
