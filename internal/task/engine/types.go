package engine

import (
	"strconv"
	"time"
)

// TaskID indexes the slot pool. NullTask is never allocated or queued.
type TaskID uint32

const NullTask TaskID = 0

// WorkFunc is the body of a task. data is owned by the submitter and must
// outlive the execution.
type WorkFunc func(data any)

// Affinity selects the queue a task is routed to.
//
// The zero value (AffinityNone) routes to the global queue, which every
// worker drains. OnWorker(k) pins the task to the thread whose WorkerID is k;
// k == 0 addresses threads that are not scheduler workers (they drain it
// through DoWork / WaitAtomic).
type Affinity int32

const AffinityNone Affinity = 0

// OnWorker pins a task to worker k.
func OnWorker(k int) Affinity { return Affinity(k + 1) }

// Worker returns the targeted worker id, or false for AffinityNone.
func (a Affinity) Worker() (int, bool) {
	if a <= AffinityNone {
		return 0, false
	}
	return int(a) - 1, true
}

func (a Affinity) String() string {
	k, ok := a.Worker()
	if !ok {
		return "none"
	}
	return "worker(" + strconv.Itoa(k) + ")"
}

// Item is one task submission.
type Item struct {
	Name     string
	Work     WorkFunc
	Data     any
	Affinity Affinity

	// Counter, if set, is decremented after Work returns.
	Counter *Counter
}

// task is the slot record written by Submit and read by the executing thread.
type task struct {
	data     any
	work     WorkFunc
	name     string
	affinity Affinity
	counter  *Counter
}

type State int32

const (
	StateCreated State = iota
	StateRunning
	StateDraining
	StateJoined
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateJoined:
		return "joined"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// SpinConfig holds the busy-wait and idle parameters.
type SpinConfig struct {
	// StartupSpin is the number of flag polls between yields while workers
	// wait for Start to release them. Default 64.
	StartupSpin int

	// IdleSpin is the number of empty polls before a worker yields. Default 32.
	IdleSpin int

	// IdleYields is the number of consecutive yields before an idle worker
	// sleeps for IdleSleep. Ignored when IdleSleep is 0.
	IdleYields int

	// IdleSleep is 0 by default: idle workers only yield.
	IdleSleep time.Duration

	// WaitSpin is the number of empty polls inside WaitAtomic before the
	// waiter yields. Default 16.
	WaitSpin int
}

// Config controls the scheduler.
type Config struct {
	// Capacity of the slot pool and of every queue. Rounded up to a power of
	// two. Default 4096.
	Capacity int

	// ReservedMainThreads is subtracted from the CPU count to size the worker
	// pool. 0 applies the default (1); negative reserves nothing.
	ReservedMainThreads int

	// Workers, when > 0, overrides the derived worker count.
	Workers int

	// CPUs, when > 0, replaces runtime.NumCPU() in the worker-count formula.
	CPUs int

	// PinWorkers binds each worker thread to one CPU (Linux only; logged and
	// ignored elsewhere).
	PinWorkers bool

	Spin SpinConfig

	// Profiler brackets every task execution. nil disables profiling.
	Profiler Profiler

	// OnComplete runs on the executing thread after a task (and its Counter)
	// finished. It must be cheap and must not block.
	OnComplete func(id TaskID, name string)

	// Fatal is called with a *FatalError before the scheduler panics with it.
	// nil logs the error.
	Fatal func(err error)
}

const (
	defaultCapacity     = 4096
	defaultReserved     = 1
	defaultStartupSpin  = 64
	defaultIdleSpin     = 32
	defaultWaitSpin     = 16
	defaultIdleYields   = 64
	maxWorkerCountLimit = 1024
)

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = defaultCapacity
	}
	if c.ReservedMainThreads == 0 {
		c.ReservedMainThreads = defaultReserved
	}
	if c.ReservedMainThreads < 0 {
		c.ReservedMainThreads = 0
	}
	if c.Workers > maxWorkerCountLimit {
		c.Workers = maxWorkerCountLimit
	}
	if c.Spin.StartupSpin <= 0 {
		c.Spin.StartupSpin = defaultStartupSpin
	}
	if c.Spin.IdleSpin <= 0 {
		c.Spin.IdleSpin = defaultIdleSpin
	}
	if c.Spin.WaitSpin <= 0 {
		c.Spin.WaitSpin = defaultWaitSpin
	}
	if c.Spin.IdleSleep < 0 {
		c.Spin.IdleSleep = 0
	}
	if c.Spin.IdleSleep > 0 && c.Spin.IdleYields <= 0 {
		c.Spin.IdleYields = defaultIdleYields
	}
	return c
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	State       string        `json:"state"`
	Workers     int           `json:"workers"`
	Capacity    int           `json:"capacity"`
	Pinned      bool          `json:"pinned"`
	Submitted   uint64        `json:"submitted"`
	Executed    uint64        `json:"executed"`
	IdleYields  uint64        `json:"idle_yields"`
	IdleSleeps  uint64        `json:"idle_sleeps"`
	GlobalQueue int           `json:"global_queue"`
	LocalQueues []int         `json:"local_queues"`
	PerWorker   []uint64      `json:"per_worker_executed"`
	Uptime      time.Duration `json:"uptime"`
}

// Pending returns the number of queued, not yet executed tasks.
func (s Snapshot) Pending() int {
	n := s.GlobalQueue
	for _, l := range s.LocalQueues {
		n += l
	}
	return n
}
