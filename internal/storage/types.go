package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Sample is one periodic scheduler report.
type Sample struct {
	At         time.Time     `json:"at"`
	State      string        `json:"state"`
	Workers    int           `json:"workers"`
	Submitted  uint64        `json:"submitted"`
	Executed   uint64        `json:"executed"`
	Pending    int           `json:"pending"`
	IdleYields uint64        `json:"idle_yields"`
	TopScope   string        `json:"top_scope,omitempty"`
	TopMean    time.Duration `json:"top_mean,omitempty"`
}

// RunRecord summarizes one workload run.
type RunRecord struct {
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Mode      string        `json:"mode"`
	Workers   int           `json:"workers"`
	Capacity  int           `json:"capacity"`
	Tasks     uint64        `json:"tasks"`
	Frames    int           `json:"frames,omitempty"`
	FrameAvg  time.Duration `json:"frame_avg,omitempty"`
	FrameP99  time.Duration `json:"frame_p99,omitempty"`
	FrameMax  time.Duration `json:"frame_max,omitempty"`
	Files     int           `json:"files,omitempty"`
	Bytes     int64         `json:"bytes,omitempty"`
	Error     string        `json:"error,omitempty"`
}
