package report

import (
	"context"
	"sync"
	"testing"
	"time"

	"framesched/internal/eventbus"
	"framesched/internal/storage"
	"framesched/internal/task/engine"
	"framesched/internal/task/profile"
	logx "framesched/pkg/logx"
)

type fakeSched struct{ snap engine.Snapshot }

func (f fakeSched) Snapshot() engine.Snapshot { return f.snap }

type memStore struct {
	mu      sync.Mutex
	samples []storage.Sample
}

func (m *memStore) AppendSample(_ context.Context, s storage.Sample) error {
	m.mu.Lock()
	m.samples = append(m.samples, s)
	m.mu.Unlock()
	return nil
}
func (m *memStore) AppendRun(context.Context, storage.RunRecord) error { return nil }
func (m *memStore) RecentRuns(context.Context, int) ([]storage.RunRecord, error) {
	return nil, nil
}
func (m *memStore) Close() error { return nil }

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}

func TestNormalizeSchedule(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":              "@every 10s",
		"  @hourly ":    "@hourly",
		"5s":            "@every 5s",
		"1m30s":         "@every 1m30s",
		"*/5 * * * * *": "*/5 * * * * *",
		"garbage":       "garbage",
	}
	for in, want := range cases {
		if got := NormalizeSchedule(in); got != want {
			t.Fatalf("NormalizeSchedule(%q)=%q want %q", in, got, want)
		}
	}

	s := New(Config{}, fakeSched{}, nil, nil, logx.Nop(), nil)
	if err := s.ValidateSchedule("garbage"); err == nil {
		t.Fatalf("garbage schedule accepted")
	}
	if err := s.ValidateSchedule("0 */2 * * *"); err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}
}

func TestReport_SampleEventAndStore(t *testing.T) {
	t.Parallel()

	prof := profile.New(1)
	sc := prof.EnterScope("integrate", 1)
	sc.Start = sc.Start.Add(-time.Millisecond)
	prof.LeaveScope(sc)

	bus := eventbus.New()
	events, unsub := bus.SubscribePrefix(4, "report.")
	defer unsub()

	store := &memStore{}
	snap := engine.Snapshot{State: "running", Workers: 3, Submitted: 10, Executed: 7, GlobalQueue: 2, LocalQueues: []int{1, 0}}
	s := New(Config{Top: 3}, fakeSched{snap: snap}, prof, store, logx.Nop(), bus)

	smp := s.Report(context.Background())
	if smp.Pending != 3 || smp.Executed != 7 || smp.TopScope != "integrate" || smp.TopMean < time.Millisecond {
		t.Fatalf("sample=%+v", smp)
	}
	if store.len() != 1 || s.Ticks() != 1 {
		t.Fatalf("stored=%d ticks=%d", store.len(), s.Ticks())
	}
	ev := <-events
	tick, ok := ev.Data.(Tick)
	if ev.Type != EventTick || !ok || tick.Snapshot.Workers != 3 || len(tick.Top) != 1 {
		t.Fatalf("event=%+v", ev)
	}
}

func TestService_CronRunsAndApply(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	s := New(Config{Enabled: true, Schedule: "@every 1s"}, fakeSched{snap: engine.Snapshot{State: "running"}}, nil, store, logx.Nop(), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for s.Ticks() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if s.Ticks() == 0 {
		t.Fatalf("cron job never ran")
	}

	if err := s.Apply(Config{Enabled: true, Schedule: "not a schedule"}); err == nil {
		t.Fatalf("bad schedule accepted")
	}
	if err := s.Apply(Config{Enabled: false}); err != nil {
		t.Fatalf("disable: %v", err)
	}
	n := s.Ticks()
	time.Sleep(1500 * time.Millisecond)
	if s.Ticks() != n {
		t.Fatalf("disabled reporter kept ticking")
	}
}
