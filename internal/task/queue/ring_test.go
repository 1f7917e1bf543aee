package queue

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRoundPow2(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   int
		want int
	}{
		{in: -1, want: 2},
		{in: 0, want: 2},
		{in: 2, want: 2},
		{in: 3, want: 4},
		{in: 4096, want: 4096},
		{in: 4097, want: 8192},
	}
	for _, tc := range cases {
		if got := RoundPow2(tc.in); got != tc.want {
			t.Fatalf("RoundPow2(%d)=%d want %d", tc.in, got, tc.want)
		}
	}
}

func TestRing_FIFOAndBounds(t *testing.T) {
	t.Parallel()

	r := New[uint32](4)
	if r.Cap() != 4 {
		t.Fatalf("cap=%d want 4", r.Cap())
	}
	if _, ok := r.TryPop(); ok {
		t.Fatalf("pop on empty ring succeeded")
	}
	for i := uint32(1); i <= 4; i++ {
		if !r.Push(i) {
			t.Fatalf("push %d failed", i)
		}
	}
	if r.Push(5) {
		t.Fatalf("push on full ring succeeded")
	}
	if r.Len() != 4 {
		t.Fatalf("len=%d want 4", r.Len())
	}
	for want := uint32(1); want <= 4; want++ {
		got, ok := r.TryPop()
		if !ok || got != want {
			t.Fatalf("pop=(%d,%v) want (%d,true)", got, ok, want)
		}
	}
	if r.Len() != 0 {
		t.Fatalf("len=%d want 0", r.Len())
	}

	// Wrap around several laps.
	for lap := 0; lap < 10; lap++ {
		for i := uint32(0); i < 3; i++ {
			if !r.Push(i + 1) {
				t.Fatalf("lap %d push failed", lap)
			}
		}
		for i := uint32(0); i < 3; i++ {
			if got, ok := r.TryPop(); !ok || got != i+1 {
				t.Fatalf("lap %d pop=(%d,%v)", lap, got, ok)
			}
		}
	}
}

func TestRing_MPMC(t *testing.T) {
	t.Parallel()

	const (
		producers = 8
		consumers = 8
		perProd   = 5000
	)
	r := New[int](256)
	total := int64(producers * perProd)

	var sent, recv, count atomic.Int64
	seen := make([]atomic.Int32, producers*perProd+1)

	var pw sync.WaitGroup
	for p := 0; p < producers; p++ {
		pw.Add(1)
		go func(p int) {
			defer pw.Done()
			for i := 0; i < perProd; i++ {
				v := p*perProd + i + 1
				for !r.Push(v) {
					runtime.Gosched()
				}
				sent.Add(int64(v))
			}
		}(p)
	}

	var cw sync.WaitGroup
	for c := 0; c < consumers; c++ {
		cw.Add(1)
		go func() {
			defer cw.Done()
			for count.Load() < total {
				v, ok := r.TryPop()
				if !ok {
					runtime.Gosched()
					continue
				}
				seen[v].Add(1)
				recv.Add(int64(v))
				count.Add(1)
			}
		}()
	}

	pw.Wait()
	done := make(chan struct{})
	go func() {
		cw.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("timeout: received %d/%d", count.Load(), total)
	}

	if sent.Load() != recv.Load() {
		t.Fatalf("checksum mismatch: sent=%d recv=%d", sent.Load(), recv.Load())
	}
	for v := 1; v < len(seen); v++ {
		if n := seen[v].Load(); n != 1 {
			t.Fatalf("value %d observed %d times", v, n)
		}
	}
}
