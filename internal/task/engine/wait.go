package engine

import (
	"context"
	"runtime"
	"sync/atomic"
)

// DoWork pops one task (the caller's local queue first, then the global
// queue) and runs it on the calling thread. It reports whether a task ran.
//
// Each call resolves the caller's worker id, which costs a gettid and a
// scan over the workers. Loops should use Helper instead.
func (s *Scheduler) DoWork() bool {
	return s.runOne(s.WorkerID())
}

// Helper is DoWork with the caller's worker id resolved once. It is bound
// to the goroutine that created it: workers never leave their thread and
// every other goroutine resolves to the same non-worker id.
type Helper struct {
	s      *Scheduler
	worker int
}

func (s *Scheduler) Helper() Helper { return Helper{s: s, worker: s.WorkerID()} }

// WorkerID is the id resolved when h was created.
func (h Helper) WorkerID() int { return h.worker }

// DoWork runs at most one queued task and reports whether one ran.
func (h Helper) DoWork() bool { return h.s.runOne(h.worker) }

// WaitAtomic helps execute queued tasks until signal no longer equals
// sentinel. It busy-waits: a signal nobody changes never returns.
func (s *Scheduler) WaitAtomic(signal *atomic.Int32, sentinel int32) {
	worker := s.WorkerID()
	spin := s.cfg.Spin.WaitSpin
	misses := 0
	for signal.Load() == sentinel {
		if s.runOne(worker) {
			misses = 0
			continue
		}
		if misses++; misses >= spin {
			misses = 0
			runtime.Gosched()
		}
	}
}

// WaitAtomicContext is WaitAtomic bounded by ctx. Tasks are never
// interrupted: a task that already started runs to completion before the
// context is checked again.
func (s *Scheduler) WaitAtomicContext(ctx context.Context, signal *atomic.Int32, sentinel int32) error {
	worker := s.WorkerID()
	spin := s.cfg.Spin.WaitSpin
	misses := 0
	for signal.Load() == sentinel {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.runOne(worker) {
			misses = 0
			continue
		}
		if misses++; misses >= spin {
			misses = 0
			runtime.Gosched()
		}
	}
	return nil
}

// WaitCounter helps execute queued tasks until c reaches target.
func (s *Scheduler) WaitCounter(c *Counter, target int32) {
	worker := s.WorkerID()
	spin := s.cfg.Spin.WaitSpin
	misses := 0
	for c.Value() != target {
		if s.runOne(worker) {
			misses = 0
			continue
		}
		if misses++; misses >= spin {
			misses = 0
			runtime.Gosched()
		}
	}
}
