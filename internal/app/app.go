package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"framesched/internal/config"
	"framesched/internal/eventbus"
	"framesched/internal/observability/pprof"
	"framesched/internal/runtime/supervisor"
	"framesched/internal/storage"
	"framesched/internal/task/engine"
	"framesched/internal/task/profile"
	"framesched/internal/task/report"
	"framesched/internal/workload"
	logx "framesched/pkg/logx"
	"framesched/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	mode string

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store

	sched  *engine.Scheduler
	prof   *profile.Profiler
	report *report.Service
	pprof  *pprof.Service
	frame  *workload.Frame // nil in compile mode

	sup      *supervisor.Supervisor
	done     chan struct{}
	doneOnce sync.Once
	workDone chan struct{} // closed by runWorkload only

	mu  sync.Mutex
	run storage.RunRecord
}

// New loads the config and builds every component without starting any.
// mode, when not empty, overrides workload.mode.
func New(cfgPath, mode string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if m := strings.ToLower(strings.TrimSpace(mode)); m != "" {
		if m != config.ModeFrame && m != config.ModeCompile {
			return nil, fmt.Errorf("%w: mode %q (want %q or %q)", config.ErrInvalid, mode, config.ModeFrame, config.ModeCompile)
		}
		mode = m
	} else {
		mode = workloadMode(cfg)
	}
	if mode == config.ModeCompile && strings.TrimSpace(cfg.Workload.Compile.Dir) == "" {
		return nil, fmt.Errorf("%w: workload.compile.dir is required in compile mode", config.ErrInvalid)
	}

	logs, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	bus := eventbus.New()

	// Everything built after this point is released by fail().
	var store storage.Store
	fail := func(err error) (*App, error) {
		if store != nil {
			_ = store.Close()
		}
		_ = logs.Close()
		return nil, err
	}

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return fail(err)
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return fail(err)
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return fail(err)
	}
	prof := profile.New(profileShards(cfg))
	engCfg.Profiler = prof
	sched := engine.New(engCfg, log.With(logx.String("comp", "engine")), bus)

	pprofCfg, err := mapPprofConfig(cfg)
	if err != nil {
		return fail(err)
	}

	a := &App{
		cfgm:   cfgm,
		mode:   mode,
		log:    log.With(logx.String("comp", "app")),
		logs:   logs,
		bus:    bus,
		store:  store,
		sched:  sched,
		prof:   prof,
		report: report.New(mapReportConfig(cfg), sched, prof, store, log.With(logx.String("comp", "report")), bus),
		pprof:  pprof.New(pprofCfg, debugSource{sched, prof}, log),
		done:   make(chan struct{}),
	}
	if err := a.report.ValidateSchedule(cfg.Report.Schedule); err != nil {
		return fail(err)
	}
	if mode == config.ModeFrame {
		f, err := workload.NewFrame(mapFrameConfig(cfg), sched, log.With(logx.String("comp", "workload")), bus)
		if err != nil {
			return fail(fmt.Errorf("%w: %v", config.ErrInvalid, err))
		}
		a.frame = f
	}
	cfgm.SetValidator(a.validate)

	a.log.Info("app configured",
		logx.String("config", cfgPath),
		logx.String("mode", mode),
		logx.Int("workers", sched.WorkerCount()),
		logx.Int("capacity", sched.Capacity()),
	)
	return a, nil
}

// validate rejects reloads that could not be applied.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPprofConfig(cfg); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Report.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("report.timezone: invalid %q: %w", tz, err)
		}
	}
	return a.report.ValidateSchedule(cfg.Report.Schedule)
}

// debugSource joins the scheduler snapshot with the profiler ranking.
type debugSource struct {
	*engine.Scheduler
	prof *profile.Profiler
}

func (d debugSource) Top(n int) []profile.Stat { return d.prof.Top(n) }

func (a *App) Scheduler() *engine.Scheduler { return a.sched }

func (a *App) Bus() eventbus.Bus { return a.bus }

// Done is closed when the workload finished or the app supervisor was
// canceled by a fatal error.
func (a *App) Done() <-chan struct{} { return a.done }

func (a *App) finish() { a.doneOnce.Do(func() { close(a.done) }) }

// Err returns the first supervisor error, else the workload error.
func (a *App) Err() error {
	if a.sup != nil {
		if err := a.sup.Err(); err != nil {
			return err
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.run.Error != "" {
		return errors.New(a.run.Error)
	}
	return nil
}

// Run returns the record of the last finished workload run.
func (a *App) Run() storage.RunRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.run
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	sctx := a.sup.Context()

	if err := a.sched.Start(); err != nil {
		return err
	}
	if err := a.report.Start(sctx); err != nil {
		return err
	}
	if a.pprof.Enabled() {
		a.pprof.Start(sctx)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if iv, err := systemd.WatchdogInterval(); err != nil {
		a.log.Warn("systemd watchdog misconfigured", logx.Err(err))
	} else if iv > 0 {
		a.sup.Go("systemd.watchdog", func(c context.Context) error {
			return systemd.Watchdog(c, iv, a.healthy)
		})
	}

	a.workDone = make(chan struct{})
	a.sup.Go0("workload", a.runWorkload)
	go func() {
		select {
		case <-sctx.Done():
			a.finish()
		case <-a.done:
		}
	}()

	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	}
	a.log.Info("app started")
	return nil
}

func (a *App) healthy() bool { return a.sched.State() == engine.StateRunning }

func (a *App) runWorkload(ctx context.Context) {
	defer close(a.workDone)
	defer a.finish()
	log := a.log.With(logx.String("comp", "workload"))

	rec := storage.RunRecord{
		StartedAt: time.Now(),
		Mode:      a.mode,
		Workers:   a.sched.WorkerCount(),
		Capacity:  a.sched.Capacity(),
	}
	_, _ = systemd.Status("running %s workload", a.mode)

	switch a.mode {
	case config.ModeCompile:
		cc := a.cfgm.Get().Workload.Compile
		_, st, err := workload.Compile(ctx, a.sched, cc.Dir, cc.Pattern, log, a.bus)
		rec.Files, rec.Bytes, rec.Tasks = st.Files, st.Bytes, uint64(st.Files)
		switch {
		case errors.Is(err, context.Canceled):
			log.Info("compile interrupted")
		case err != nil:
			rec.Error = err.Error()
			log.Error("compile failed", logx.Err(err))
		}
	default:
		st := a.frame.Run(ctx)
		rec.Frames, rec.Tasks = st.Frames, st.Tasks
		rec.FrameAvg, rec.FrameP99, rec.FrameMax = st.Avg, st.P99, st.Max
	}
	rec.EndedAt = time.Now()

	a.mu.Lock()
	a.run = rec
	a.mu.Unlock()
	_, _ = systemd.Status("%s workload finished: %d tasks", a.mode, rec.Tasks)
}

// reloadLoop applies hot-reloadable sections. Scheduler, storage and
// workload shape changes are only logged.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		var next *config.Config
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			next = cfg
		}
		// Keep only the newest of a burst.
	drain:
		for {
			select {
			case newer := <-sub:
				if newer != nil {
					next = newer
				}
			default:
				break drain
			}
		}
		a.apply(ctx, last, next)
		last = next
	}
}

func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	a.logs.Apply(mapLogConfig(next))
	if err := a.report.Apply(mapReportConfig(next)); err != nil {
		a.log.Warn("report config not applied", logx.Err(err))
	}
	if a.frame != nil && prev.Workload.FPS != next.Workload.FPS {
		a.frame.SetFPS(frameFPS(next.Workload.FPS))
	}
	if pc, err := mapPprofConfig(next); err != nil {
		a.log.Warn("invalid pprof config; keeping previous", logx.Err(err))
	} else {
		a.pprof.Reconfigure(ctx, pc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	if restart {
		a.log.Warn("config change needs a restart to take full effect", fields...)
	}
	a.log.Info("config reloaded", fields...)
}

// Stop unwinds in reverse start order. Each step is bounded so one
// component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		c, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(c); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	// The workload submits until it sees the cancel, so the scheduler
	// must outlive it.
	step("workload", 5*time.Second, func(c context.Context) error {
		if a.workDone == nil {
			return nil
		}
		select {
		case <-a.workDone:
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("report", time.Second, func(c context.Context) error { a.report.Stop(c); return nil })
	step("pprof", time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	step("scheduler", 5*time.Second, a.sched.Stop)
	step("storage", 2*time.Second, func(c context.Context) error {
		if a.store == nil {
			return nil
		}
		rec := a.Run()
		var err error
		if !rec.StartedAt.IsZero() {
			err = a.store.AppendRun(c, rec)
		}
		return errors.Join(err, a.store.Close())
	})
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
