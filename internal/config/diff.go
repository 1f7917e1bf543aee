package config

import (
	"reflect"
	"strings"

	logx "framesched/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe log
// fields describing the new values (tokens are never logged). restart is
// true when a changed section only takes effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart bool) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		restart = true
		attrs = append(attrs,
			logx.Int("scheduler.capacity", newCfg.Scheduler.Capacity),
			logx.Int("scheduler.workers", newCfg.Scheduler.Workers),
			logx.Bool("scheduler.pin_workers", newCfg.Scheduler.PinWorkers),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Workload, newCfg.Workload) {
		changed = append(changed, "workload")
		attrs = append(attrs,
			logx.String("workload.mode", newCfg.Workload.Mode),
			logx.Float64("workload.fps", newCfg.Workload.FPS),
			logx.Int("workload.jobs_per_frame", newCfg.Workload.JobsPerFrame),
		)
		// Only the pacing is applied live.
		o, n := oldCfg.Workload, newCfg.Workload
		o.FPS, n.FPS = 0, 0
		if !reflect.DeepEqual(o, n) {
			restart = true
		}
	}

	if !reflect.DeepEqual(oldCfg.Report, newCfg.Report) {
		changed = append(changed, "report")
		attrs = append(attrs,
			logx.Bool("report.enabled", newCfg.Report.Enabled),
			logx.String("report.schedule", strings.TrimSpace(newCfg.Report.Schedule)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		restart = true
		if newCfg.Storage != nil {
			attrs = append(attrs,
				logx.String("storage.driver", newCfg.Storage.Driver),
				logx.String("storage.path", newCfg.Storage.Path),
			)
		}
	}

	op, np := oldCfg.Pprof, newCfg.Pprof
	tokenChanged := op.Token != np.Token
	op.Token, np.Token = "", ""
	if tokenChanged || op != np {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
		)
	}

	return changed, attrs, restart
}
