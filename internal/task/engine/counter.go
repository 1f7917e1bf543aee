package engine

import "sync/atomic"

// Counter is a fan-in signal: submitters set it to the number of tasks, each
// task (or the scheduler, via Item.Counter) decrements it, and a waiter
// helps with queued work until it reaches the target value.
type Counter struct {
	v atomic.Int32
}

func NewCounter(n int32) *Counter {
	c := &Counter{}
	c.v.Store(n)
	return c
}

func (c *Counter) Add(n int32) int32 { return c.v.Add(n) }
func (c *Counter) Done() int32       { return c.v.Add(-1) }
func (c *Counter) Value() int32      { return c.v.Load() }

// Signal exposes the underlying atomic for WaitAtomic.
func (c *Counter) Signal() *atomic.Int32 { return &c.v }
