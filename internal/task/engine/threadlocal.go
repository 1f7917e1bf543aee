package engine

import "sync/atomic"

// threadLocal maps the calling OS thread to its worker id.
//
// Workers lock their goroutine to a dedicated OS thread for their whole
// lifetime, so the key registered at worker entry stays valid until the
// worker unbinds. Index 0 is unused: unknown callers resolve to 0.
type threadLocal struct {
	keys []atomic.Int64
}

func newThreadLocal(workers int) threadLocal {
	return threadLocal{keys: make([]atomic.Int64, workers+1)}
}

func (t *threadLocal) bind(id int)   { t.keys[id].Store(currentThreadKey()) }
func (t *threadLocal) unbind(id int) { t.keys[id].Store(0) }

func (t *threadLocal) lookup() int {
	if len(t.keys) <= 1 {
		return 0
	}
	k := currentThreadKey()
	for i := 1; i < len(t.keys); i++ {
		if t.keys[i].Load() == k {
			return i
		}
	}
	return 0
}
