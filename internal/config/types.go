package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Scheduler SchedulerConfig `json:"scheduler"`
	Logging   LoggingConfig   `json:"logging"`
	Workload  WorkloadConfig  `json:"workload"`
	Report    ReportConfig    `json:"report,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Pprof     PprofConfig     `json:"pprof,omitempty"`
}

// SchedulerConfig sizes the task scheduler. Changes need a restart.
//
// Defaults (when fields are omitted/zero):
//   - capacity: 4096 (rounded up to a power of two)
//   - reserved_main_threads: 1 (use -1 to reserve none)
//   - workers: logical CPUs - reserved_main_threads
//   - pin_workers: false
type SchedulerConfig struct {
	Capacity            int        `json:"capacity,omitempty"`
	ReservedMainThreads int        `json:"reserved_main_threads,omitempty"`
	Workers             int        `json:"workers,omitempty"`
	PinWorkers          bool       `json:"pin_workers,omitempty"`
	Spin                SpinConfig `json:"spin,omitempty"`
}

// SpinConfig tunes busy-waiting. Zero values keep the scheduler defaults.
type SpinConfig struct {
	StartupSpin int    `json:"startup_spin,omitempty"`
	IdleSpin    int    `json:"idle_spin,omitempty"`
	IdleYields  int    `json:"idle_yields,omitempty"`
	IdleSleep   string `json:"idle_sleep,omitempty"` // default "0s": never sleep
	WaitSpin    int    `json:"wait_spin,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// WorkloadConfig selects what the process drives through the scheduler.
//
// Defaults:
//   - mode: "frame"
//   - fps: 60 (negative runs unpaced)
//   - frames: 600 (-1 runs until stopped)
//   - jobs_per_frame: 64
//   - entities: 65536
//   - present_worker: -1 (no pinned job)
//   - compile.pattern: "*"
type WorkloadConfig struct {
	Mode          string        `json:"mode,omitempty"`
	FPS           float64       `json:"fps,omitempty"`
	Frames        int           `json:"frames,omitempty"`
	JobsPerFrame  int           `json:"jobs_per_frame,omitempty"`
	Entities      int           `json:"entities,omitempty"`
	PresentWorker *int          `json:"present_worker,omitempty"`
	Compile       CompileConfig `json:"compile,omitempty"`
}

type CompileConfig struct {
	Dir     string `json:"dir,omitempty"`
	Pattern string `json:"pattern,omitempty"`
}

// ReportConfig controls the periodic scheduler report.
//
// Schedule accepts cron expressions with optional seconds and descriptors
// such as "@every 10s". Default "@every 10s"; top defaults to 5.
type ReportConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Top      int    `json:"top,omitempty"`
}

// StorageConfig controls the optional run history store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./framesched_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// PprofConfig controls the optional debug HTTP server.
//
// Prefer binding to localhost (e.g. "127.0.0.1:6060"). A non-loopback
// address needs a token or allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
