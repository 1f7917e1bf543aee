package workload

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"framesched/internal/task/engine"
	logx "framesched/pkg/logx"
)

func newScheduler(t *testing.T, workers, capacity int) *engine.Scheduler {
	t.Helper()
	s := engine.New(engine.Config{Workers: workers, Capacity: capacity}, logx.Nop(), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func TestDurations_Percentile(t *testing.T) {
	t.Parallel()

	var d durations
	if d.percentile(99) != 0 || d.mean() != 0 {
		t.Fatalf("empty durations not zero")
	}
	for i := 1; i <= 100; i++ {
		d.add(time.Duration(i) * time.Millisecond)
	}
	if got := d.percentile(50); got != 50*time.Millisecond {
		t.Fatalf("p50=%v", got)
	}
	if got := d.percentile(99); got != 99*time.Millisecond {
		t.Fatalf("p99=%v", got)
	}
	if d.max != 100*time.Millisecond || d.mean() != 50500*time.Microsecond {
		t.Fatalf("max=%v mean=%v", d.max, d.mean())
	}
}

func TestFrame_RunsConfiguredFrames(t *testing.T) {
	t.Parallel()

	s := newScheduler(t, 3, 256)
	f, err := NewFrame(FrameConfig{Frames: 5, JobsPerFrame: 8, Entities: 1000, PresentWorker: 2}, s, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("new frame: %v", err)
	}
	st := f.Run(context.Background())
	if st.Frames != 5 || st.Tasks != 5*9 {
		t.Fatalf("stats=%+v", st)
	}
	if st.Max < st.P50 || st.Avg <= 0 {
		t.Fatalf("stats=%+v", st)
	}

	// Every entity with a non-zero velocity moved.
	for i, e := range f.ents {
		if e.vel[2] != 0 && e.pos[2] == 0 {
			t.Fatalf("entity %d never integrated", i)
		}
	}
}

func TestFrame_StopsOnCancel(t *testing.T) {
	t.Parallel()

	s := newScheduler(t, 2, 64)
	f, err := NewFrame(FrameConfig{FPS: 200, JobsPerFrame: 4, Entities: 64, PresentWorker: -1}, s, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("new frame: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	st := f.Run(ctx)
	if st.Frames == 0 || st.Frames > 40 {
		t.Fatalf("frames=%d", st.Frames)
	}
	f.SetFPS(0)
}

func TestNewFrame_Validates(t *testing.T) {
	t.Parallel()

	s := engine.New(engine.Config{Workers: 2, Capacity: 16}, logx.Nop(), nil)
	if _, err := NewFrame(FrameConfig{PresentWorker: 3}, s, logx.Nop(), nil); err == nil {
		t.Fatalf("present worker beyond pool accepted")
	}
	if _, err := NewFrame(FrameConfig{JobsPerFrame: 16, PresentWorker: -1}, s, logx.Nop(), nil); err == nil {
		t.Fatalf("jobs_per_frame at capacity accepted")
	}
}

func TestCompile_HashesMatchingFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	want := map[string]uint64{}
	write := func(rel, body string) {
		p := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		h := fnv.New64a()
		_, _ = h.Write([]byte(body))
		want[p] = h.Sum64()
	}
	// More files than half the capacity forces several batches.
	for i := 0; i < 40; i++ {
		write(filepath.Join("res", string(rune('a'+i%26)), "file"+string(rune('a'+i/26))+".res"), "payload-"+string(rune('A'+i%26)))
	}
	if err := os.WriteFile(filepath.Join(dir, "skip.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := newScheduler(t, 2, 16)
	results, st, err := Compile(context.Background(), s, dir, "*.res", logx.Nop(), nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if st.Files != 40 || st.Failed != 0 || len(results) != 40 {
		t.Fatalf("stats=%+v results=%d", st, len(results))
	}
	for _, r := range results {
		if !r.Completed() || r.Err != nil {
			t.Fatalf("result %s: completed=%v err=%v", r.Path, r.Completed(), r.Err)
		}
		if r.Hash != want[r.Path] {
			t.Fatalf("hash mismatch for %s", r.Path)
		}
	}

	// Same tree, same digest.
	_, st2, err := Compile(context.Background(), s, dir, "*.res", logx.Nop(), nil)
	if err != nil || st2.Digest != st.Digest {
		t.Fatalf("digest not stable: %x vs %x err=%v", st.Digest, st2.Digest, err)
	}
}

func TestCompile_BadInputs(t *testing.T) {
	t.Parallel()

	s := newScheduler(t, 1, 16)
	if _, _, err := Compile(context.Background(), s, filepath.Join(t.TempDir(), "missing"), "", logx.Nop(), nil); err == nil {
		t.Fatalf("missing dir accepted")
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Compile(context.Background(), s, dir, "[", logx.Nop(), nil); err == nil {
		t.Fatalf("bad pattern accepted")
	}
}
