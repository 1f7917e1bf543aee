package engine

import (
	"runtime"
	"time"

	logx "framesched/pkg/logx"
)

// worker is the body of one worker thread. The goroutine stays locked to its
// OS thread until it returns; the thread is discarded with it.
func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	runtime.LockOSThread()

	cpuID := -1
	if s.cfg.PinWorkers {
		cpuID = (s.cfg.ReservedMainThreads + id - 1) % runtime.NumCPU()
		if err := pinThread(cpuID); err != nil {
			s.log.Warn("worker pinning failed", logx.Int("worker", id), logx.Int("cpu", cpuID), logx.Err(err))
			cpuID = -1
		}
	}

	s.awaitStart()

	s.tls.bind(id)
	defer s.tls.unbind(id)

	s.log.Debug("worker.started", logx.Int("worker", id), logx.Int("cpu", cpuID))
	s.publish(EventWorkerStarted, LifecycleEvent{Worker: id, CPU: cpuID})

	s.loop(id)

	s.log.Debug("worker.stopped", logx.Int("worker", id), logx.Uint64("executed", s.stats[id].executed.Load()))
	s.publish(EventWorkerStopped, LifecycleEvent{Worker: id, CPU: cpuID})
}

// awaitStart spins until Start publishes the running state.
func (s *Scheduler) awaitStart() {
	spin := s.cfg.Spin.StartupSpin
	for n := 1; s.State() == StateCreated; n++ {
		if n%spin == 0 {
			runtime.Gosched()
		}
	}
}

func (s *Scheduler) loop(id int) {
	st := &s.stats[id]
	spin := s.cfg.Spin
	misses, yields := 0, 0
	for s.State() == StateRunning {
		if s.runOne(id) {
			misses, yields = 0, 0
			continue
		}
		misses++
		if misses < spin.IdleSpin {
			continue
		}
		misses = 0
		if spin.IdleSleep > 0 && yields >= spin.IdleYields {
			yields = 0
			st.idleSleeps.Add(1)
			time.Sleep(spin.IdleSleep)
			continue
		}
		yields++
		st.idleYields.Add(1)
		runtime.Gosched()
	}
}
