package engine

import "framesched/internal/task/queue"

// route maps an affinity to its queue: none goes to the global queue,
// OnWorker(k) to the local queue of worker k.
func (s *Scheduler) route(a Affinity) (*queue.Ring[TaskID], bool) {
	k, pinned := a.Worker()
	if !pinned {
		return s.global, true
	}
	if k < 0 || k >= len(s.locals) {
		return nil, false
	}
	return s.locals[k], true
}

func (s *Scheduler) push(q *queue.Ring[TaskID], id TaskID, name string) {
	if id == NullTask {
		s.fail("push", id, name, ErrNullTask)
	}
	if !q.Push(id) {
		s.fail("push", id, name, ErrQueueOverflow)
	}
}

// pop tries the local queue of worker id first, then the global queue.
func (s *Scheduler) pop(id int) (TaskID, bool) {
	if tid, ok := s.locals[id].TryPop(); ok {
		return tid, true
	}
	return s.global.TryPop()
}
