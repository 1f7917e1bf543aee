package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

var ErrInvalid = errors.New("invalid config")

// Validate checks values that would otherwise fail late (bad durations,
// unknown modes, impossible sizes). It collects every problem.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	s := cfg.Scheduler
	if s.Capacity < 0 {
		add("scheduler.capacity must be >= 0")
	}
	if s.Workers < 0 {
		add("scheduler.workers must be >= 0")
	}
	if _, err := ParseDurationField("scheduler.spin.idle_sleep", s.Spin.IdleSleep); err != nil {
		errs = append(errs, err)
	}

	w := cfg.Workload
	switch strings.ToLower(strings.TrimSpace(w.Mode)) {
	case "", ModeFrame:
	case ModeCompile:
		if strings.TrimSpace(w.Compile.Dir) == "" {
			add("workload.compile.dir is required in compile mode")
		}
		if p := w.Compile.Pattern; p != "" {
			if _, err := filepath.Match(p, ""); err != nil {
				add("workload.compile.pattern %q: %v", p, err)
			}
		}
	default:
		add("workload.mode %q (want %q or %q)", w.Mode, ModeFrame, ModeCompile)
	}
	if w.Frames < -1 {
		add("workload.frames must be >= -1")
	}
	if w.JobsPerFrame < 0 || w.Entities < 0 {
		add("workload.jobs_per_frame and workload.entities must be >= 0")
	}

	if cfg.Report.Top < 0 {
		add("report.top must be >= 0")
	}

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			add("storage.driver %q", st.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	for path, raw := range map[string]string{
		"pprof.read_timeout":  cfg.Pprof.ReadTimeout,
		"pprof.write_timeout": cfg.Pprof.WriteTimeout,
		"pprof.idle_timeout":  cfg.Pprof.IdleTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const (
	ModeFrame   = "frame"
	ModeCompile = "compile"
)

// ParseDurationField parses an optional non-negative Go duration; blank is 0.
// key names the field in errors.
func ParseDurationField(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	case d < 0:
		return 0, fmt.Errorf("%w: %s: negative duration %q", ErrInvalid, key, raw)
	}
	return d, nil
}

// ParseDurationOrDefault returns def when the field is blank or zero.
func ParseDurationOrDefault(key, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(key, raw)
	if err == nil && d == 0 {
		d = def
	}
	return d, err
}
