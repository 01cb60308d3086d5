// Package scheduler implements the Scheduler (C5), the Job Store (C3), and
// the Config Holder (C8): the single-consumer mailbox actor that owns every
// piece of mutable service state and serializes all changes to it.
// Grounded on original_source/crates/pos-service/src/server.rs's
// xactor-actor PosServer, translated into an idiomatic Go
// goroutine-plus-channel mailbox; the copy-before-return idiom for safe
// reads is adapted from the teacher's
// internal/scheduler.GetState/GetAllStates.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/posservice/posd/internal/compute"
	"github.com/posservice/posd/internal/events"
	"github.com/posservice/posd/internal/provider"
	"github.com/posservice/posd/internal/types"
	"github.com/posservice/posd/internal/worker"
)

// Scheduler owns the Job Store, Provider Pool, pending queue, subscriber
// set, and Config. All of that state is touched only from Run, which is
// the single mailbox consumer; everything else sends a command and waits.
type Scheduler struct {
	adapter compute.Adapter
	logger  *slog.Logger
	cmds    chan any

	// owned exclusively by Run
	jobs             map[uint64]types.Job
	pending          []types.Job
	pool             *provider.Pool
	cfg              types.Config
	bus              *events.Bus
	cancels          map[uint64]context.CancelFunc
	registrySnapshot []types.Provider
	workers          *errgroup.Group
}

// New builds a Scheduler. cfg is the initial Config (spec.md §6.4
// defaults, overridden by the loaded configuration file); pool is seeded
// from the Provider Registry at startup, and providers is the Registry's
// immutable descriptor list, returned verbatim by GetProviders.
func New(adapter compute.Adapter, pool *provider.Pool, providers []types.Provider, cfg types.Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		adapter:          adapter,
		logger:           logger,
		cmds:             make(chan any),
		jobs:             make(map[uint64]types.Job),
		pool:             pool,
		cfg:              cfg,
		bus:              events.NewBus(),
		cancels:          make(map[uint64]context.CancelFunc),
		registrySnapshot: providers,
		workers:          &errgroup.Group{},
	}
}

// Wait blocks until every Worker goroutine spawned by this Scheduler has
// returned. Used during graceful shutdown, once Run's context is canceled
// (Run keeps draining the mailbox meanwhile), to wait for in-flight compute
// cycles to reach their next checkpoint and report.
func (s *Scheduler) Wait() error {
	return s.workers.Wait()
}

// Run is the mailbox loop. It must be started exactly once, typically in
// its own goroutine. On cancellation it keeps draining the mailbox — a
// Worker whose context was just canceled still needs to land its final
// UpdateJobStatus — until every spawned Worker has returned, and only then
// stops.
//
// s.workers.Wait() is only ever launched from inside the <-ctx.Done() case
// below, in this same goroutine, after which admit() (the only caller of
// s.workers.Go) refuses to spawn any further Worker because ctx.Err() is
// already non-nil. That ordering — both the admission check and the Wait
// launch live in this one single-threaded loop — is what keeps a trailing
// addJobCmd from racing an Add against a Wait that already observed zero
// (spawning the Wait from an independent goroutine racing ctx.Done() on
// its own would not give that guarantee).
func (s *Scheduler) Run(ctx context.Context) {
	shuttingDown := false
	workersDone := make(chan struct{})

	for {
		if shuttingDown {
			select {
			case <-workersDone:
				return
			case cmd := <-s.cmds:
				s.handle(ctx, cmd)
			}
			continue
		}

		select {
		case <-ctx.Done():
			shuttingDown = true
			go func() {
				_ = s.workers.Wait()
				close(workersDone)
			}()
		case cmd := <-s.cmds:
			s.handle(ctx, cmd)
		}
	}
}

func (s *Scheduler) handle(ctx context.Context, cmd any) {
	switch c := cmd.(type) {
	case addJobCmd:
		job, err := s.addJob(ctx, c.req)
		c.reply <- addJobResult{job: job, err: err}
	case updateStatusCmd:
		s.updateJobStatus(ctx, c.job)
	case abortJobCmd:
		c.reply <- s.abortJob(c.req)
	case getJobCmd:
		job, ok := s.getJob(c.id)
		c.reply <- getJobResult{job: job, ok: ok}
	case getAllJobsCmd:
		c.reply <- s.getAllJobs()
	case getConfigCmd:
		c.reply <- s.cfg.Clone()
	case setConfigCmd:
		c.reply <- s.setConfig(c.cfg)
	case subscribeCmd:
		id, ch := s.bus.Subscribe(c.filter)
		c.reply <- subscribeResult{id: id, ch: ch}
	case getProvidersCmd:
		c.reply <- s.registrySnapshot
	default:
		s.logger.Error("scheduler received unknown command", "type", fmt.Sprintf("%T", cmd))
	}
}

// --- public, synchronous API -------------------------------------------------

// AddJob validates and admits or queues a job (spec.md §4.1 AddJob).
func (s *Scheduler) AddJob(ctx context.Context, req types.AddJobRequest) (types.Job, error) {
	reply := make(chan addJobResult, 1)
	select {
	case s.cmds <- addJobCmd{req: req, reply: reply}:
	case <-ctx.Done():
		return types.Job{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.job, res.err
	case <-ctx.Done():
		return types.Job{}, ctx.Err()
	}
}

// UpdateJobStatus is how a Worker reports progress or a terminal outcome.
// It is fire-and-forget from the Worker's perspective: the call returns as
// soon as the message is enqueued, matching spec.md §5's "short
// asynchronous hop".
func (s *Scheduler) UpdateJobStatus(job types.Job) {
	s.cmds <- updateStatusCmd{job: job}
}

// AbortJob implements spec.md §4.1 AbortJob.
func (s *Scheduler) AbortJob(ctx context.Context, req types.AbortJobRequest) error {
	reply := make(chan error, 1)
	select {
	case s.cmds <- abortJobCmd{req: req, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetJob returns a copy of the job, if known (Started, terminal, or still
// pending).
func (s *Scheduler) GetJob(ctx context.Context, id uint64) (types.Job, bool) {
	reply := make(chan getJobResult, 1)
	select {
	case s.cmds <- getJobCmd{id: id, reply: reply}:
	case <-ctx.Done():
		return types.Job{}, false
	}
	res := <-reply
	return res.job, res.ok
}

// GetAllJobs returns a copy of every known job (pending, Started, terminal).
func (s *Scheduler) GetAllJobs(ctx context.Context) []types.Job {
	reply := make(chan []types.Job, 1)
	select {
	case s.cmds <- getAllJobsCmd{reply: reply}:
	case <-ctx.Done():
		return nil
	}
	return <-reply
}

// GetConfig returns a deep copy of the current Config.
func (s *Scheduler) GetConfig(ctx context.Context) types.Config {
	reply := make(chan types.Config, 1)
	select {
	case s.cmds <- getConfigCmd{reply: reply}:
	case <-ctx.Done():
		return types.Config{}
	}
	return <-reply
}

// SetConfig replaces the Config atomically, refusing while any job is
// non-terminal (spec.md §9 open question #2, decided: refuse).
func (s *Scheduler) SetConfig(ctx context.Context, cfg types.Config) error {
	reply := make(chan error, 1)
	select {
	case s.cmds <- setConfigCmd{cfg: cfg, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-reply
}

// Subscribe registers a new status-update subscriber (spec.md §4.1, §4.7).
func (s *Scheduler) Subscribe(ctx context.Context, filter uint64) (uint64, <-chan types.Job, error) {
	reply := make(chan subscribeResult, 1)
	select {
	case s.cmds <- subscribeCmd{filter: filter, reply: reply}:
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
	res := <-reply
	return res.id, res.ch, nil
}

// GetProviders returns the immutable provider descriptor list (spec.md §6.1
// GetProviders).
func (s *Scheduler) GetProviders(ctx context.Context) []types.Provider {
	reply := make(chan []types.Provider, 1)
	select {
	case s.cmds <- getProvidersCmd{reply: reply}:
	case <-ctx.Done():
		return nil
	}
	return <-reply
}

// --- internal handlers, run only from the mailbox goroutine -----------------

var (
	// ErrValidation reports an invalid AddJob request; no state changes.
	ErrValidation = fmt.Errorf("validation error")
	// ErrConfigInUse reports SetConfig while a job is non-terminal.
	ErrConfigInUse = fmt.Errorf("config cannot change while a job is queued or running")
	// ErrJobNotFound reports an AbortJob target that does not exist.
	ErrJobNotFound = fmt.Errorf("job not found")
)

func (s *Scheduler) addJob(ctx context.Context, req types.AddJobRequest) (types.Job, error) {
	// An unset bits_per_index means the fixed 8, as in the RPC layer.
	if req.BitsPerIndex == 0 {
		req.BitsPerIndex = 8
	}
	if err := validateAddJob(req, s.cfg); err != nil {
		return types.Job{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	job := types.Job{
		ID:                 newJobID(),
		ClientID:           append([]byte(nil), req.ClientID...),
		FriendlyName:       req.FriendlyName,
		SizeBits:           req.SizeBits,
		BitsPerIndex:       req.BitsPerIndex,
		PowDifficulty:      req.PowDifficulty,
		ComputePowSolution: req.ComputePowSolution,
		PowSolutionIndex:   types.MaxU64,
		Status:             types.Queued,
		Submitted:          time.Now(),
		ComputeProviderID:  types.MaxU32,
		StartIndex:         req.StartIndex,
	}

	if !s.pool.Empty() {
		s.admit(ctx, &job)
	} else {
		s.pending = append(s.pending, job)
	}
	s.bus.Publish(job.Clone())
	return job.Clone(), nil
}

func validateAddJob(req types.AddJobRequest, cfg types.Config) error {
	if req.BitsPerIndex != 8 {
		return fmt.Errorf("bits_per_index must be 8")
	}
	if len(req.ClientID) > types.MaxClientIDBytes {
		return fmt.Errorf("client_id must be <=%d bytes", types.MaxClientIDBytes)
	}
	bitsPerCycle := cfg.IndexesPerCycle * uint64(cfg.BitsPerIndex)
	if bitsPerCycle == 0 {
		return fmt.Errorf("config has zero-size compute cycle")
	}
	if req.SizeBits == 0 || req.SizeBits%bitsPerCycle != 0 {
		return fmt.Errorf("size_bits must be a positive multiple of indexes_per_cycle * bits_per_index")
	}
	if req.SizeBits < bitsPerCycle {
		return fmt.Errorf("size_bits must be >= indexes_per_cycle * bits_per_index")
	}
	return nil
}

// admit pops a provider, marks job Started, stores it, and spawns its
// Worker. Never blocks on the Worker itself (spec.md §4.1 Admit).
//
// It refuses to spawn once ctx is already canceled: Run is shutting down
// and has (or is about to, from the very same goroutine) started waiting
// on s.workers, so a new Worker here would race that wait (see Run). The
// job is left queued instead — nothing is lost beyond what a Non-goal
// (no persistent recovery across restarts) already accepts.
func (s *Scheduler) admit(ctx context.Context, job *types.Job) {
	if ctx.Err() != nil {
		s.pending = append(s.pending, *job)
		return
	}
	id, ok := s.pool.Pop()
	if !ok {
		s.pending = append(s.pending, *job)
		return
	}
	job.Status = types.Started
	job.Started = time.Now()
	job.ComputeProviderID = id
	job.PowSolutionIndex = types.MaxU64
	s.jobs[job.ID] = job.Clone()

	workerCtx, cancel := context.WithCancel(ctx)
	s.cancels[job.ID] = cancel

	jobCopy := job.Clone()
	cfgCopy := s.cfg.Clone()
	s.workers.Go(func() error {
		worker.Run(workerCtx, jobCopy, cfgCopy, s.adapter, s.UpdateJobStatus, s.logger)
		return nil
	})
}

func (s *Scheduler) updateJobStatus(ctx context.Context, job types.Job) {
	if _, ok := s.jobs[job.ID]; ok {
		s.jobs[job.ID] = job.Clone()
		if job.Status.Terminal() {
			delete(s.cancels, job.ID)
			if job.ComputeProviderID != types.MaxU32 {
				s.pool.Push(job.ComputeProviderID)
			}
			s.promoteNext(ctx)
		}
		s.bus.Publish(job.Clone())
		return
	}

	// Late-stage reordering: the id might still be sitting in the pending
	// queue, or it may have been deleted out from under an in-flight
	// Worker via AbortJob(delete_job=true). In the latter case we must
	// still reclaim the provider to preserve the pool invariant.
	for i := range s.pending {
		if s.pending[i].ID == job.ID {
			s.pending[i] = job
			s.bus.Publish(job.Clone())
			return
		}
	}
	if job.Status.Terminal() && job.ComputeProviderID != types.MaxU32 {
		delete(s.cancels, job.ID)
		s.pool.Push(job.ComputeProviderID)
		s.promoteNext(ctx)
	}
	s.bus.Publish(job.Clone())
}

// promoteNext pops the oldest pending job, if any, and admits it.
func (s *Scheduler) promoteNext(ctx context.Context) {
	if len(s.pending) == 0 || s.pool.Empty() {
		return
	}
	next := s.pending[0]
	s.pending = s.pending[1:]
	s.admit(ctx, &next)
	s.bus.Publish(next.Clone())
}

func (s *Scheduler) abortJob(req types.AbortJobRequest) error {
	if req.ID == 0 {
		ids := make([]uint64, 0, len(s.jobs))
		for id := range s.jobs {
			ids = append(ids, id)
		}
		for _, id := range ids {
			s.abortOne(types.AbortJobRequest{ID: id, DeleteJob: req.DeleteJob, DeleteData: req.DeleteData})
		}
		for i := len(s.pending) - 1; i >= 0; i-- {
			s.abortOne(types.AbortJobRequest{ID: s.pending[i].ID, DeleteJob: req.DeleteJob, DeleteData: req.DeleteData})
		}
		return nil
	}
	return s.abortOne(req)
}

func (s *Scheduler) abortOne(req types.AbortJobRequest) error {
	for i, j := range s.pending {
		if j.ID == req.ID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			if req.DeleteData {
				removeJobFile(s.cfg.DataDir, req.ID)
			}
			return nil
		}
	}

	job, ok := s.jobs[req.ID]
	if !ok {
		return fmt.Errorf("%w: job %d", ErrJobNotFound, req.ID)
	}
	if job.Status == types.Started {
		// Best-effort signal only (spec.md §9 open question #1): the
		// Worker checks this between cycles, never mid-cycle.
		if cancel, ok := s.cancels[req.ID]; ok {
			cancel()
		}
	}
	if req.DeleteJob {
		delete(s.jobs, req.ID)
	}
	if req.DeleteData {
		removeJobFile(s.cfg.DataDir, req.ID)
	}
	return nil
}

func (s *Scheduler) getJob(id uint64) (types.Job, bool) {
	if j, ok := s.jobs[id]; ok {
		return j.Clone(), true
	}
	for _, j := range s.pending {
		if j.ID == id {
			return j.Clone(), true
		}
	}
	return types.Job{}, false
}

func (s *Scheduler) getAllJobs() []types.Job {
	out := make([]types.Job, 0, len(s.jobs)+len(s.pending))
	for _, j := range s.jobs {
		out = append(out, j.Clone())
	}
	for _, j := range s.pending {
		out = append(out, j.Clone())
	}
	return out
}

func (s *Scheduler) setConfig(cfg types.Config) error {
	if len(s.pending) > 0 {
		return ErrConfigInUse
	}
	for _, j := range s.jobs {
		if !j.Status.Terminal() {
			return ErrConfigInUse
		}
	}
	s.cfg = cfg.Clone()
	return nil
}
