package workload

import (
	"sync/atomic"

	"framesched/internal/task/engine"
)

// Runner is the slice of *engine.Scheduler the workloads use.
type Runner interface {
	Submit(items ...engine.Item)
	WaitAtomic(signal *atomic.Int32, sentinel int32)
	WaitCounter(c *engine.Counter, target int32)
	WorkerCount() int
	Capacity() int
}

var _ Runner = (*engine.Scheduler)(nil)

// waitZero helps with queued work until signal reaches zero.
func waitZero(r Runner, signal *atomic.Int32) {
	for v := signal.Load(); v != 0; v = signal.Load() {
		r.WaitAtomic(signal, v)
	}
}
