package scheduler

import "github.com/posservice/posd/internal/types"

// Every RPC-facing operation is modeled as a command sent over the
// Scheduler's mailbox and, except for the status-update path, answered on
// a reply channel — this is the single-consumer serialization spec.md §5
// describes.

type addJobCmd struct {
	req   types.AddJobRequest
	reply chan addJobResult
}

type addJobResult struct {
	job types.Job
	err error
}

type updateStatusCmd struct {
	job types.Job
}

type abortJobCmd struct {
	req   types.AbortJobRequest
	reply chan error
}

type getJobCmd struct {
	id    uint64
	reply chan getJobResult
}

type getJobResult struct {
	job types.Job
	ok  bool
}

type getAllJobsCmd struct {
	reply chan []types.Job
}

type getConfigCmd struct {
	reply chan types.Config
}

type setConfigCmd struct {
	cfg   types.Config
	reply chan error
}

type subscribeCmd struct {
	filter uint64
	reply  chan subscribeResult
}

type subscribeResult struct {
	id uint64
	ch <-chan types.Job
}

type getProvidersCmd struct {
	reply chan []types.Provider
}
