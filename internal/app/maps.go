package app

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"framesched/internal/config"
	"framesched/internal/observability/pprof"
	"framesched/internal/storage"
	"framesched/internal/task/engine"
	"framesched/internal/task/report"
	"framesched/internal/workload"
	logx "framesched/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	sc := cfg.Scheduler
	idleSleep, err := config.ParseDurationField("scheduler.spin.idle_sleep", sc.Spin.IdleSleep)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Capacity:            sc.Capacity,
		ReservedMainThreads: sc.ReservedMainThreads,
		Workers:             sc.Workers,
		PinWorkers:          sc.PinWorkers,
		Spin: engine.SpinConfig{
			StartupSpin: sc.Spin.StartupSpin,
			IdleSpin:    sc.Spin.IdleSpin,
			IdleYields:  sc.Spin.IdleYields,
			IdleSleep:   idleSleep,
			WaitSpin:    sc.Spin.WaitSpin,
		},
	}, nil
}

// profileShards sizes the profiler before the scheduler exists. Worker ids
// past the estimate share shard 0.
func profileShards(cfg *config.Config) int {
	if cfg.Scheduler.Workers > 0 {
		return cfg.Scheduler.Workers
	}
	return runtime.NumCPU()
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "sqlite":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapReportConfig(cfg *config.Config) report.Config {
	return report.Config{
		Enabled:  cfg.Report.Enabled,
		Schedule: cfg.Report.Schedule,
		Timezone: cfg.Report.Timezone,
		Top:      cfg.Report.Top,
	}
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	pc := cfg.Pprof
	read, err := config.ParseDurationOrDefault("pprof.read_timeout", pc.ReadTimeout, 5*time.Second)
	if err != nil {
		return pprof.Config{}, err
	}
	// /debug/pprof/profile streams for 30s by default.
	write, err := config.ParseDurationOrDefault("pprof.write_timeout", pc.WriteTimeout, 60*time.Second)
	if err != nil {
		return pprof.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("pprof.idle_timeout", pc.IdleTimeout, 60*time.Second)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:              pc.Enabled,
		Addr:                 pc.Addr,
		Prefix:               pc.Prefix,
		Token:                pc.Token,
		AllowInsecure:        pc.AllowInsecure,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idle,
		MutexProfileFraction: pc.MutexProfileFraction,
		BlockProfileRate:     pc.BlockProfileRate,
	}, nil
}

const (
	defaultFPS    = 60
	defaultFrames = 600
)

// frameFPS maps the configured fps: 0 is the default, negative is unpaced.
func frameFPS(fps float64) float64 {
	switch {
	case fps == 0:
		return defaultFPS
	case fps < 0:
		return 0
	}
	return fps
}

func mapFrameConfig(cfg *config.Config) workload.FrameConfig {
	w := cfg.Workload
	frames := w.Frames
	switch {
	case frames == 0:
		frames = defaultFrames
	case frames < 0:
		frames = 0
	}
	present := -1
	if w.PresentWorker != nil {
		present = *w.PresentWorker
	}
	return workload.FrameConfig{
		FPS:           frameFPS(w.FPS),
		Frames:        frames,
		JobsPerFrame:  w.JobsPerFrame,
		Entities:      w.Entities,
		PresentWorker: present,
	}
}

func workloadMode(cfg *config.Config) string {
	if m := strings.ToLower(strings.TrimSpace(cfg.Workload.Mode)); m != "" {
		return m
	}
	return config.ModeFrame
}
