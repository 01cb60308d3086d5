// Package events implements the Status Fan-out (C7): delivery of every
// job-state mutation to the set of live subscribers, pruning subscribers
// whose delivery channel has stopped accepting sends. Adapted from the
// teacher's subscriber-bus pattern (non-blocking send, drop on a full or
// closed channel) generalized from one bus per job to a single
// service-wide registry keyed by subscription id, matching spec.md §4.7.
package events

import "github.com/posservice/posd/internal/types"

// Capacity is the fixed size of every subscriber channel (spec.md §4.1, §5).
const Capacity = 32

type subscriber struct {
	ch     chan types.Job
	filter uint64 // 0 matches every job
}

// Bus holds the live subscriber set. It is not safe for concurrent use:
// spec.md §4.7 requires fan-out to run inside the Scheduler's single
// consumer, so Bus is only ever touched from that one goroutine.
type Bus struct {
	next        uint64
	subscribers map[uint64]*subscriber
}

// NewBus returns an empty subscriber registry.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[uint64]*subscriber)}
}

// Subscribe registers a new subscriber and returns its id and the receive
// end of its bounded channel.
func (b *Bus) Subscribe(filter uint64) (uint64, <-chan types.Job) {
	b.next++
	id := b.next
	sub := &subscriber{ch: make(chan types.Job, Capacity), filter: filter}
	b.subscribers[id] = sub
	return id, sub.ch
}

// Unsubscribe drops a subscriber and closes its channel, if present.
func (b *Bus) Unsubscribe(id uint64) {
	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

// Publish delivers job to every subscriber whose filter matches, via a
// non-blocking send. A subscriber whose channel is full or whose receiver
// has gone away is dropped from the set (policy: treat a full channel as a
// slow consumer, per spec.md §5 backpressure).
func (b *Bus) Publish(job types.Job) {
	for id, sub := range b.subscribers {
		if sub.filter != 0 && sub.filter != job.ID {
			continue
		}
		select {
		case sub.ch <- job:
		default:
			close(sub.ch)
			delete(b.subscribers, id)
		}
	}
}

// Len reports the current subscriber count, mainly for tests.
func (b *Bus) Len() int {
	return len(b.subscribers)
}
