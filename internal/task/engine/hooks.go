package engine

import "time"

// Profiler brackets task executions. Implementations are called from every
// worker concurrently and must not block.
type Profiler interface {
	EnterScope(name string, worker int) Scope
	LeaveScope(sc Scope)
}

// Scope is returned by EnterScope and handed back to LeaveScope unchanged.
type Scope struct {
	Name   string
	Worker int
	Start  time.Time
}

type nopProfiler struct{}

func (nopProfiler) EnterScope(string, int) Scope { return Scope{} }
func (nopProfiler) LeaveScope(Scope)             {}
