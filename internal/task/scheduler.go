// Package task implements the §5 cooperative scheduler: every `go` spawn
// gets its own goroutine and its own call stack, but RunExclusive
// serializes actual bytecode execution against the shared heap/shape/intern
// state, since the source language has no explicit yield/await construct to
// hang real interleaving off of. "VM executes bytecode atomically with
// respect to other tasks" (§5) is satisfied trivially this way: at most one
// task's registers are ever live against the heap at once.
package task

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Scheduler owns the spawn queue and the exclusive-execution lock shared by
// the main program and every task it spawns.
type Scheduler struct {
	group *errgroup.Group
	ctx   context.Context
	sem   *semaphore.Weighted

	heapLock sync.Mutex

	nextID int64

	mu    sync.Mutex
	uuids map[int64]uuid.UUID
}

// NewScheduler returns a scheduler that lets at most maxConcurrent tasks
// hold a semaphore slot (waiting for the heap lock or running) at once.
// Spawn still starts a goroutine for every task; the ones beyond the bound
// wait on the semaphore.
func NewScheduler(ctx context.Context, maxConcurrent int64) *Scheduler {
	g, gctx := errgroup.WithContext(ctx)
	return &Scheduler{
		group: g,
		ctx:   gctx,
		sem:   semaphore.NewWeighted(maxConcurrent),
		uuids: make(map[int64]uuid.UUID),
	}
}

// RunExclusive runs fn while holding the scheduler's heap lock. The main
// program calls this once, around its whole top-level run, so spawned
// tasks never observe a heap mid-mutation by the spawning frame.
func (s *Scheduler) RunExclusive(fn func() error) error {
	s.heapLock.Lock()
	defer s.heapLock.Unlock()
	return fn()
}

// Spawn starts fn on its own goroutine under a fresh task id, returning
// immediately so the spawning frame can keep running. fn only begins once
// it both clears the concurrency semaphore and acquires the heap lock.
func (s *Scheduler) Spawn(fn func(taskID int64) error) int64 {
	id := atomic.AddInt64(&s.nextID, 1)

	s.mu.Lock()
	s.uuids[id] = uuid.New()
	s.mu.Unlock()

	s.group.Go(func() error {
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			return err
		}
		defer s.sem.Release(1)
		return s.RunExclusive(func() error { return fn(id) })
	})
	return id
}

// Wait blocks until every spawned task has completed, returning the first
// task error (if any) per errgroup's usual semantics.
func (s *Scheduler) Wait() error {
	return s.group.Wait()
}

// UUID returns the stable external identifier assigned to id at spawn time,
// for diagnostics that outlive the profiler's internal counter.
func (s *Scheduler) UUID(id int64) (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uuids[id]
	return u, ok
}
