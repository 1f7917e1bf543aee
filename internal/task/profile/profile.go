// Package profile aggregates task execution time per task name.
//
// Each worker writes to its own shard, so the hot path only takes an
// uncontended mutex. Threads that are not workers share shard 0.
package profile

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/sys/cpu"

	"framesched/internal/task/engine"
)

type Stat struct {
	Name  string        `json:"name"`
	Count uint64        `json:"count"`
	Total time.Duration `json:"total"`
	Max   time.Duration `json:"max"`
}

func (s Stat) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

type shard struct {
	mu    sync.Mutex
	stats map[string]*Stat
	_     cpu.CacheLinePad
}

// Profiler implements engine.Profiler.
type Profiler struct {
	shards []shard
}

var _ engine.Profiler = (*Profiler)(nil)

// New sizes the profiler for worker ids 0..workers.
func New(workers int) *Profiler {
	p := &Profiler{shards: make([]shard, workers+1)}
	for i := range p.shards {
		p.shards[i].stats = map[string]*Stat{}
	}
	return p
}

func (p *Profiler) EnterScope(name string, worker int) engine.Scope {
	return engine.Scope{Name: name, Worker: worker, Start: time.Now()}
}

func (p *Profiler) LeaveScope(sc engine.Scope) {
	d := time.Since(sc.Start)
	w := sc.Worker
	if w < 0 || w >= len(p.shards) {
		w = 0
	}
	sh := &p.shards[w]
	sh.mu.Lock()
	st := sh.stats[sc.Name]
	if st == nil {
		st = &Stat{Name: sc.Name}
		sh.stats[sc.Name] = st
	}
	st.Count++
	st.Total += d
	if d > st.Max {
		st.Max = d
	}
	sh.mu.Unlock()
}

// Snapshot merges all shards, sorted by total time (descending).
func (p *Profiler) Snapshot() []Stat {
	merged := map[string]*Stat{}
	for i := range p.shards {
		sh := &p.shards[i]
		sh.mu.Lock()
		for name, st := range sh.stats {
			m := merged[name]
			if m == nil {
				m = &Stat{Name: name}
				merged[name] = m
			}
			m.Count += st.Count
			m.Total += st.Total
			m.Max = max(m.Max, st.Max)
		}
		sh.mu.Unlock()
	}
	out := make([]Stat, 0, len(merged))
	for _, st := range merged {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Top returns at most n entries of Snapshot.
func (p *Profiler) Top(n int) []Stat {
	s := p.Snapshot()
	if n > 0 && len(s) > n {
		s = s[:n]
	}
	return s
}

func (p *Profiler) Reset() {
	for i := range p.shards {
		sh := &p.shards[i]
		sh.mu.Lock()
		clear(sh.stats)
		sh.mu.Unlock()
	}
}
