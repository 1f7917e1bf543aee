// Package report periodically logs and records scheduler health using a
// cron schedule.
package report

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"framesched/internal/eventbus"
	"framesched/internal/storage"
	"framesched/internal/task/engine"
	"framesched/internal/task/profile"
	logx "framesched/pkg/logx"
)

const (
	EventTick = "report.tick"

	defaultSchedule = "@every 10s"
	defaultTop      = 5
)

type Config struct {
	Enabled  bool
	Schedule string
	Timezone string
	Top      int
}

// Snapshotter is satisfied by *engine.Scheduler.
type Snapshotter interface {
	Snapshot() engine.Snapshot
}

// TopScopes is satisfied by *profile.Profiler.
type TopScopes interface {
	Top(n int) []profile.Stat
}

// Tick is the payload of report.tick events.
type Tick struct {
	Snapshot engine.Snapshot `json:"snapshot"`
	Top      []profile.Stat  `json:"top,omitempty"`
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	started bool

	// Read by the cron job; never take mu there (Stop waits for the job).
	runCtx atomic.Value // context.Context
	top    atomic.Int32

	parser cron.Parser
	sched  Snapshotter
	prof   TopScopes
	store  storage.Store
	log    logx.Logger
	bus    eventbus.Bus

	ticks atomic.Uint64
}

// New builds a reporter. prof, store and bus may be nil.
func New(cfg Config, sched Snapshotter, prof TopScopes, store storage.Store, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:    cfg,
		sched:  sched,
		prof:   prof,
		store:  store,
		log:    log,
		bus:    bus,
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	s.top.Store(int32(cfg.Top))
	return s
}

// NormalizeSchedule accepts a cron expression, a descriptor ("@hourly",
// "@every 5s") or a bare Go duration ("5s", shorthand for "@every 5s").
func NormalizeSchedule(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return defaultSchedule
	}
	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return s
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return "@every " + d.String()
	}
	return s
}

// ValidateSchedule reports whether expr parses.
func (s *Service) ValidateSchedule(expr string) error {
	if _, err := s.parser.Parse(NormalizeSchedule(expr)); err != nil {
		return fmt.Errorf("report schedule %q: %w", expr, err)
	}
	return nil
}

// Start registers the report job. It is a no-op when disabled or running.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.runCtx.Store(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return s.startLocked()
}

func (s *Service) startLocked() error {
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("report timezone %q: %w", tz, err)
		}
		loc = l
	}

	expr := NormalizeSchedule(s.cfg.Schedule)
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	if _, err := c.AddJob(expr, cron.FuncJob(s.run)); err != nil {
		return fmt.Errorf("report schedule %q: %w", expr, err)
	}
	c.Start()
	s.c = c
	s.log.Info("reporter started", logx.String("schedule", expr), logx.String("tz", loc.String()))
	return nil
}

// Apply swaps the config and re-registers the job when needed.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cfg
	s.cfg = cfg
	s.top.Store(int32(cfg.Top))
	if prev == cfg {
		return nil
	}
	s.stopLocked(context.Background())
	if !s.started {
		// Not started yet; Start picks the new config up.
		return nil
	}
	return s.startLocked()
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	s.stopLocked(ctx)
}

func (s *Service) stopLocked(ctx context.Context) {
	if s.c == nil {
		return
	}
	c := s.c
	s.c = nil
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Ticks counts completed reports.
func (s *Service) Ticks() uint64 { return s.ticks.Load() }

func (s *Service) run() {
	ctx, _ := s.runCtx.Load().(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}
	s.Report(ctx)
}

// Report takes one sample now: it logs it, publishes a report.tick event and
// appends it to the store.
func (s *Service) Report(ctx context.Context) storage.Sample {
	top := int(s.top.Load())
	if top <= 0 {
		top = defaultTop
	}

	snap := s.sched.Snapshot()
	var stats []profile.Stat
	if s.prof != nil {
		stats = s.prof.Top(top)
	}

	smp := storage.Sample{
		At:         time.Now(),
		State:      snap.State,
		Workers:    snap.Workers,
		Submitted:  snap.Submitted,
		Executed:   snap.Executed,
		Pending:    snap.Pending(),
		IdleYields: snap.IdleYields,
	}
	if len(stats) > 0 {
		smp.TopScope = stats[0].Name
		smp.TopMean = stats[0].Mean()
	}

	fields := []logx.Field{
		logx.String("state", snap.State),
		logx.Int("workers", snap.Workers),
		logx.Uint64("submitted", snap.Submitted),
		logx.Uint64("executed", snap.Executed),
		logx.Int("pending", smp.Pending),
		logx.Uint64("idle_yields", snap.IdleYields),
	}
	for i, st := range stats {
		fields = append(fields, logx.String(fmt.Sprintf("top%d", i+1), fmt.Sprintf("%s n=%d mean=%s max=%s", st.Name, st.Count, st.Mean(), st.Max)))
	}
	s.log.Info("scheduler report", fields...)

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventTick, Time: smp.At, Data: Tick{Snapshot: snap, Top: stats}})
	}
	if s.store != nil {
		if err := s.store.AppendSample(ctx, smp); err != nil {
			s.log.Warn("report sample not stored", logx.Err(err))
		}
	}
	s.ticks.Add(1)
	return smp
}
