package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"framesched/internal/config"
	"framesched/internal/storage"
	"framesched/internal/task/engine"
	logx "framesched/pkg/logx"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "framesched.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitDone(t *testing.T, a *App) {
	t.Helper()
	select {
	case <-a.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("workload did not finish")
	}
}

func TestApp_FrameRunRecorded(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	dir := t.TempDir()
	store := filepath.Join(dir, "history")
	path := writeConfig(t, dir, `
scheduler:
  workers: 2
  capacity: 256
logging:
  level: error
workload:
  fps: -1
  frames: 3
  jobs_per_frame: 4
  entities: 256
  present_worker: 1
storage:
  driver: file
  path: `+store+`
`)

	a, err := New(path, "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if a.Scheduler().WorkerCount() != 2 || a.Scheduler().Capacity() != 256 {
		t.Fatalf("workers=%d capacity=%d", a.Scheduler().WorkerCount(), a.Scheduler().Capacity())
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitDone(t, a)

	run := a.Run()
	if run.Mode != config.ModeFrame || run.Frames != 3 || run.Tasks != 15 {
		t.Fatalf("run=%+v", run)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopWorkloadDone); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if st := a.Scheduler().State(); st != engine.StateDestroyed {
		t.Fatalf("state=%v", st)
	}
	if err := a.Err(); err != nil {
		t.Fatalf("err=%v", err)
	}

	st, err := storage.Open(storage.Config{Driver: "file", Path: store}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	runs, err := st.RecentRuns(context.Background(), 5)
	if err != nil || len(runs) != 1 || runs[0].Frames != 3 {
		t.Fatalf("runs=%+v err=%v", runs, err)
	}
}

func TestApp_StopDuringFrameLoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	for i, pause := range []time.Duration{0, time.Millisecond, 5 * time.Millisecond, 20 * time.Millisecond, 50 * time.Millisecond} {
		dir := t.TempDir()
		store := filepath.Join(dir, "history")
		path := writeConfig(t, dir, `
scheduler:
  workers: 1
  capacity: 64
logging:
  level: error
workload:
  fps: -1
  frames: -1
  jobs_per_frame: 8
  entities: 65536
  present_worker: 1
storage:
  driver: file
  path: `+store+`
`)
		a, err := New(path, "")
		if err != nil {
			t.Fatalf("#%d new: %v", i, err)
		}
		if err := a.Start(context.Background()); err != nil {
			t.Fatalf("#%d start: %v", i, err)
		}
		time.Sleep(pause)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = a.Stop(ctx, StopSignal)
		cancel()
		if err != nil {
			t.Fatalf("#%d stop: %v", i, err)
		}
		if err := a.Err(); err != nil {
			t.Fatalf("#%d err=%v", i, err)
		}
		run := a.Run()
		if run.StartedAt.IsZero() || run.EndedAt.IsZero() || run.Error != "" {
			t.Fatalf("#%d run=%+v", i, run)
		}
		if st := a.Scheduler().State(); st != engine.StateDestroyed {
			t.Fatalf("#%d state=%v", i, st)
		}

		st, err := storage.Open(storage.Config{Driver: "file", Path: store}, logx.Nop())
		if err != nil {
			t.Fatal(err)
		}
		runs, err := st.RecentRuns(context.Background(), 5)
		_ = st.Close()
		if err != nil || len(runs) != 1 || runs[0].Frames != run.Frames {
			t.Fatalf("#%d runs=%+v err=%v", i, runs, err)
		}
	}
}

func TestApp_StopDuringCompile(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	dir := t.TempDir()
	src := filepath.Join(dir, "assets")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 200; i++ {
		name := filepath.Join(src, fmt.Sprintf("f%03d.res", i))
		if err := os.WriteFile(name, []byte(strings.Repeat("x", 4096)), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	path := writeConfig(t, dir, `
scheduler:
  workers: 1
  capacity: 4
logging:
  level: error
workload:
  compile:
    dir: `+src+`
`)

	a, err := New(path, "compile")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopSignal); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := a.Err(); err != nil {
		t.Fatalf("err=%v", err)
	}
	if run := a.Run(); run.StartedAt.IsZero() || run.Error != "" {
		t.Fatalf("run=%+v", run)
	}
}

func TestApp_CompileModeOverride(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	dir := t.TempDir()
	src := filepath.Join(dir, "assets")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.res", "b.res", "c.txt"} {
		if err := os.WriteFile(filepath.Join(src, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	path := writeConfig(t, dir, `
scheduler:
  workers: 1
  capacity: 64
logging:
  level: error
workload:
  compile:
    dir: `+src+`
    pattern: "*.res"
`)

	a, err := New(path, "compile")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitDone(t, a)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopWorkloadDone); err != nil {
		t.Fatalf("stop: %v", err)
	}
	run := a.Run()
	if run.Mode != config.ModeCompile || run.Files != 2 || run.Bytes != 10 || run.Error != "" {
		t.Fatalf("run=%+v", run)
	}
}

func TestNew_RejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	if _, err := New(filepath.Join(dir, "missing.yaml"), ""); err == nil {
		t.Fatalf("missing config accepted")
	}

	path := writeConfig(t, dir, "logging:\n  level: error\n")
	if _, err := New(path, "render"); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("bad mode: err=%v", err)
	}
	if _, err := New(path, "compile"); err == nil || !strings.Contains(err.Error(), "compile.dir") {
		t.Fatalf("compile without dir: err=%v", err)
	}

	path = writeConfig(t, dir, "scheduler:\n  workers: 1\n  capacity: 16\nlogging:\n  level: error\nworkload:\n  jobs_per_frame: 32\n")
	if _, err := New(path, ""); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("oversized frame: err=%v", err)
	}
}

func TestMapFrameConfig_Defaults(t *testing.T) {
	t.Parallel()

	one := 1
	cases := []struct {
		name string
		in   config.WorkloadConfig
		fps  float64
		n    int
		pw   int
	}{
		{"defaults", config.WorkloadConfig{}, defaultFPS, defaultFrames, -1},
		{"unpaced forever", config.WorkloadConfig{FPS: -1, Frames: -1}, 0, 0, -1},
		{"explicit", config.WorkloadConfig{FPS: 30, Frames: 7, PresentWorker: &one}, 30, 7, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mapFrameConfig(&config.Config{Workload: tc.in})
			if got.FPS != tc.fps || got.Frames != tc.n || got.PresentWorker != tc.pw {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	if _, on, err := mapStorageConfig(&config.Config{}); on || err != nil {
		t.Fatalf("nil storage: on=%v err=%v", on, err)
	}
	if _, _, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "sqlite"}}); err == nil {
		t.Fatalf("sqlite without path accepted")
	}
	sc, on, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "SQLite", Path: "x.db", BusyTimeout: "3s"}})
	if !on || err != nil || sc.Driver != "sqlite" || sc.BusyTimeout != 3*time.Second {
		t.Fatalf("sc=%+v on=%v err=%v", sc, on, err)
	}
}
