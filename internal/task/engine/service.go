package engine

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/cpu"

	"framesched/internal/eventbus"
	"framesched/internal/task/queue"
	logx "framesched/pkg/logx"
)

const (
	EventStarted       = "scheduler.started"
	EventStopped       = "scheduler.stopped"
	EventPendingOnStop = "scheduler.pending_on_stop"
	EventWorkerStarted = "worker.started"
	EventWorkerStopped = "worker.stopped"
)

// LifecycleEvent is the payload of scheduler and worker events.
type LifecycleEvent struct {
	Workers  int    `json:"workers,omitempty"`
	Capacity int    `json:"capacity,omitempty"`
	Worker   int    `json:"worker,omitempty"`
	CPU      int    `json:"cpu,omitempty"`
	Pending  int    `json:"pending,omitempty"`
	Executed uint64 `json:"executed,omitempty"`
}

// Scheduler owns the slot pool, the queues and the worker threads.
//
// Queue 0 of locals belongs to non-worker threads; queue k (1..WorkerCount)
// belongs to worker k.
type Scheduler struct {
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	prof    Profiler
	workers int

	pool   *slotPool
	global *queue.Ring[TaskID]
	locals []*queue.Ring[TaskID]
	tls    threadLocal
	stats  []workerStats

	state     atomic.Int32
	submitted atomic.Uint64

	mu        sync.Mutex
	wg        sync.WaitGroup
	joined    chan struct{}
	startedAt atomic.Int64 // unix nanos
}

type workerStats struct {
	executed   atomic.Uint64
	idleYields atomic.Uint64
	idleSleeps atomic.Uint64
	_          cpu.CacheLinePad
}

// New builds a scheduler in the Created state. Queues accept tasks right
// away; workers start draining them after Start.
func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Scheduler {
	cfg = cfg.withDefaults()
	capacity := queue.RoundPow2(cfg.Capacity)
	cfg.Capacity = capacity

	workers := cfg.Workers
	if workers <= 0 {
		cpus := cfg.CPUs
		if cpus <= 0 {
			cpus = runtime.NumCPU()
		}
		workers = max(cpus-cfg.ReservedMainThreads, 0)
	}

	s := &Scheduler{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		prof:    cfg.Profiler,
		workers: workers,
		pool:    newSlotPool(capacity),
		global:  queue.New[TaskID](capacity),
		locals:  make([]*queue.Ring[TaskID], workers+1),
		tls:     newThreadLocal(workers),
		stats:   make([]workerStats, workers+1),
		joined:  make(chan struct{}),
	}
	if s.prof == nil {
		s.prof = nopProfiler{}
	}
	for i := range s.locals {
		s.locals[i] = queue.New[TaskID](capacity)
	}
	return s
}

// WorkerCount is the number of worker threads (fixed at New).
func (s *Scheduler) WorkerCount() int { return s.workers }

// WorkerID returns the calling thread's worker id, 0 when the caller is not
// a scheduler worker.
func (s *Scheduler) WorkerID() int { return s.tls.lookup() }

// Capacity is the slot pool size.
func (s *Scheduler) Capacity() int { return s.pool.capacity() }

func (s *Scheduler) State() State { return State(s.state.Load()) }

// Start spawns the workers and releases them.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch st := s.State(); st {
	case StateCreated:
	case StateDestroyed:
		return ErrDestroyed
	default:
		return ErrAlreadyStarted
	}

	s.wg.Add(s.workers)
	for id := 1; id <= s.workers; id++ {
		go s.worker(id)
	}
	go func() {
		s.wg.Wait()
		close(s.joined)
	}()

	s.startedAt.Store(time.Now().UnixNano())
	s.state.Store(int32(StateRunning))

	s.log.Info("scheduler started",
		logx.Int("workers", s.workers),
		logx.Int("capacity", s.pool.capacity()),
		logx.Int("reserved_main_threads", s.cfg.ReservedMainThreads),
		logx.Bool("pinned", s.cfg.PinWorkers),
	)
	s.publish(EventStarted, LifecycleEvent{Workers: s.workers, Capacity: s.pool.capacity()})
	return nil
}

// Stop clears the running flag, joins the workers and destroys the queues.
// Tasks still queued at that point never run; they are reported, not
// executed. If ctx ends before the workers join, Stop returns ctx.Err() and
// may be called again.
func (s *Scheduler) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case StateDestroyed:
		return nil
	case StateCreated:
		// Never started: nothing to join.
		s.state.Store(int32(StateJoined))
	case StateRunning:
		s.state.Store(int32(StateDraining))
	}

	if s.State() == StateDraining {
		select {
		case <-s.joined:
		case <-ctx.Done():
			s.log.Warn("scheduler stop interrupted before workers joined", logx.Err(ctx.Err()))
			return ctx.Err()
		}
		s.state.Store(int32(StateJoined))
	}

	pending := s.drain()
	if pending > 0 {
		s.log.Warn("scheduler stopped with pending tasks", logx.Int("pending", pending))
		s.publish(EventPendingOnStop, LifecycleEvent{Pending: pending})
	}

	s.state.Store(int32(StateDestroyed))
	executed := s.executed()
	s.log.Info("scheduler stopped", logx.Uint64("executed", executed), logx.Uint64("submitted", s.submitted.Load()))
	s.publish(EventStopped, LifecycleEvent{Executed: executed})
	return nil
}

// drain empties every queue and releases the referenced slots.
func (s *Scheduler) drain() int {
	n := 0
	drainOne := func(q *queue.Ring[TaskID]) {
		for {
			id, ok := q.TryPop()
			if !ok {
				return
			}
			s.pool.take(id)
			n++
		}
	}
	drainOne(s.global)
	for _, q := range s.locals {
		drainOne(q)
	}
	return n
}

// Submit enqueues every item. All items are validated before any is queued;
// an invalid item, a batch that cannot fit the pool, a full queue, or a
// destroyed scheduler is fatal.
func (s *Scheduler) Submit(items ...Item) {
	if len(items) == 0 {
		return
	}
	if s.State() == StateDestroyed {
		s.fail("submit", NullTask, items[0].Name, ErrDestroyed)
	}
	if len(items) >= s.pool.capacity() {
		s.fail("submit", NullTask, "", ErrCapacityExceeded)
	}
	for i := range items {
		if items[i].Work == nil {
			s.fail("submit", NullTask, items[i].Name, ErrNilWork)
		}
		if _, ok := s.route(items[i].Affinity); !ok {
			s.fail("submit", NullTask, items[i].Name, ErrInvalidAffinity)
		}
	}

	for i := range items {
		it := &items[i]
		q, _ := s.route(it.Affinity)
		id := s.pool.allocate()
		s.pool.store(id, it)
		s.push(q, id, it.Name)
	}
	s.submitted.Add(uint64(len(items)))
}

// execute runs one popped task on the calling thread.
func (s *Scheduler) execute(worker int, id TaskID) {
	t := s.pool.take(id)
	sc := s.prof.EnterScope(t.name, worker)
	t.work(t.data)
	s.prof.LeaveScope(sc)
	if t.counter != nil {
		t.counter.Done()
	}
	if s.cfg.OnComplete != nil {
		s.cfg.OnComplete(id, t.name)
	}
	s.stats[worker].executed.Add(1)
}

// runOne pops and executes at most one task for the given worker id.
func (s *Scheduler) runOne(worker int) bool {
	id, ok := s.pop(worker)
	if !ok {
		return false
	}
	s.execute(worker, id)
	return true
}

func (s *Scheduler) executed() uint64 {
	var n uint64
	for i := range s.stats {
		n += s.stats[i].executed.Load()
	}
	return n
}

// Snapshot reads counters without stopping anything; values from different
// workers are not mutually consistent.
func (s *Scheduler) Snapshot() Snapshot {
	snap := Snapshot{
		State:       s.State().String(),
		Workers:     s.workers,
		Capacity:    s.pool.capacity(),
		Pinned:      s.cfg.PinWorkers,
		Submitted:   s.submitted.Load(),
		GlobalQueue: s.global.Len(),
		LocalQueues: make([]int, len(s.locals)),
		PerWorker:   make([]uint64, len(s.stats)),
	}
	for i, q := range s.locals {
		snap.LocalQueues[i] = q.Len()
	}
	for i := range s.stats {
		ex := s.stats[i].executed.Load()
		snap.PerWorker[i] = ex
		snap.Executed += ex
		snap.IdleYields += s.stats[i].idleYields.Load()
		snap.IdleSleeps += s.stats[i].idleSleeps.Load()
	}
	if at := s.startedAt.Load(); at != 0 {
		snap.Uptime = time.Since(time.Unix(0, at))
	}
	return snap
}

func (s *Scheduler) fail(op string, id TaskID, name string, err error) {
	fe := &FatalError{Op: op, Task: id, Name: name, Err: err}
	if s.cfg.Fatal != nil {
		s.cfg.Fatal(fe)
	} else {
		s.log.Error("scheduler invariant violated", logx.Err(fe), logx.Stack(logx.StackTrace(3, 16)))
	}
	panic(fe)
}

func (s *Scheduler) publish(typ string, ev LifecycleEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}
