package engine

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// slotPool is a fixed array of task records addressed by TaskID.
//
// Allocation is a single atomic increment; slots are never freed; they are
// recycled when the counter wraps past the capacity. More than capacity-1
// tasks in flight therefore overwrite live slots.
type slotPool struct {
	_    cpu.CacheLinePad
	next atomic.Uint32
	_    cpu.CacheLinePad

	mask  uint32
	slots []task
}

func newSlotPool(capacity int) *slotPool {
	return &slotPool{
		mask:  uint32(capacity - 1),
		slots: make([]task, capacity),
	}
}

func (p *slotPool) capacity() int { return len(p.slots) }

// allocate never returns NullTask.
func (p *slotPool) allocate() TaskID {
	for {
		if id := TaskID(p.next.Add(1) & p.mask); id != NullTask {
			return id
		}
	}
}

func (p *slotPool) store(id TaskID, it *Item) {
	p.slots[id] = task{
		data:     it.Data,
		work:     it.Work,
		name:     it.Name,
		affinity: it.Affinity,
		counter:  it.Counter,
	}
}

// take copies the record out and clears the slot so Data can be collected.
func (p *slotPool) take(id TaskID) task {
	t := p.slots[id]
	p.slots[id] = task{}
	return t
}
