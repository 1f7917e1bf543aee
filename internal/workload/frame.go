package workload

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"framesched/internal/eventbus"
	"framesched/internal/task/engine"
	logx "framesched/pkg/logx"
)

const EventFinished = "workload.finished"

type FrameConfig struct {
	// FPS paces the loop; <= 0 runs unpaced.
	FPS float64
	// Frames to run; 0 runs until ctx ends.
	Frames       int
	JobsPerFrame int
	Entities     int
	// PresentWorker pins one job per frame to that worker id; < 0 disables it.
	PresentWorker int
}

func (c FrameConfig) withDefaults() FrameConfig {
	if c.JobsPerFrame <= 0 {
		c.JobsPerFrame = 64
	}
	if c.Entities <= 0 {
		c.Entities = 65536
	}
	return c
}

type FrameStats struct {
	Frames   int           `json:"frames"`
	Tasks    uint64        `json:"tasks"`
	Avg      time.Duration `json:"avg"`
	P50      time.Duration `json:"p50"`
	P99      time.Duration `json:"p99"`
	Max      time.Duration `json:"max"`
	Checksum float64       `json:"checksum"`
}

type entity struct {
	pos [3]float32
	vel [3]float32
}

// chunk is the Data of one integration job. Chunks are allocated once and
// reused every frame.
type chunk struct {
	ents []entity
	dt   float32
}

type present struct {
	ents     []entity
	checksum float64
}

// Frame runs the frame loop.
type Frame struct {
	cfg FrameConfig
	r   Runner
	log logx.Logger
	bus eventbus.Bus

	lim *rate.Limiter

	ents   []entity
	chunks []chunk
	items  []engine.Item
	pres   present

	mu       sync.Mutex
	stats    durations
	tasks    uint64
	checksum float64
}

// NewFrame validates cfg against the runner's worker count.
func NewFrame(cfg FrameConfig, r Runner, log logx.Logger, bus eventbus.Bus) (*Frame, error) {
	cfg = cfg.withDefaults()
	if cfg.PresentWorker > r.WorkerCount() {
		return nil, fmt.Errorf("present_worker %d exceeds worker count %d", cfg.PresentWorker, r.WorkerCount())
	}
	if cfg.JobsPerFrame >= r.Capacity() {
		return nil, fmt.Errorf("jobs_per_frame %d must be below scheduler capacity %d", cfg.JobsPerFrame, r.Capacity())
	}
	jobs := min(cfg.JobsPerFrame, cfg.Entities)

	f := &Frame{
		cfg:    cfg,
		r:      r,
		log:    log,
		bus:    bus,
		lim:    rate.NewLimiter(fpsLimit(cfg.FPS), 1),
		ents:   make([]entity, cfg.Entities),
		chunks: make([]chunk, jobs),
		items:  make([]engine.Item, jobs),
	}
	for i := range f.ents {
		f.ents[i].vel = [3]float32{float32(i%7) - 3, float32(i%5) - 2, 1}
	}
	per := (len(f.ents) + jobs - 1) / jobs
	for i := range f.chunks {
		lo := min(i*per, len(f.ents))
		hi := min(lo+per, len(f.ents))
		f.chunks[i].ents = f.ents[lo:hi]
		f.items[i] = engine.Item{Name: "frame.integrate", Work: integrate, Data: &f.chunks[i]}
	}
	f.pres.ents = f.ents
	return f, nil
}

func fpsLimit(fps float64) rate.Limit {
	if fps <= 0 || math.IsInf(fps, 1) {
		return rate.Inf
	}
	return rate.Limit(fps)
}

// SetFPS changes the pacing of a running loop.
func (f *Frame) SetFPS(fps float64) {
	f.lim.SetLimit(fpsLimit(fps))
	f.log.Info("frame pacing changed", logx.Float64("fps", fps))
}

func integrate(data any) {
	c := data.(*chunk)
	for i := range c.ents {
		e := &c.ents[i]
		for k := 0; k < 3; k++ {
			e.pos[k] += e.vel[k] * c.dt
		}
	}
}

func presentFrame(data any) {
	p := data.(*present)
	var sum float64
	for i := range p.ents {
		sum += float64(p.ents[i].pos[0] + p.ents[i].pos[1] + p.ents[i].pos[2])
	}
	p.checksum = sum
}

// Run executes frames until the configured count is reached or ctx ends,
// and returns the stats of the frames that completed.
func (f *Frame) Run(ctx context.Context) FrameStats {
	f.log.Info("frame loop started",
		logx.Float64("fps", f.cfg.FPS),
		logx.Int("frames", f.cfg.Frames),
		logx.Int("jobs_per_frame", len(f.items)),
		logx.Int("entities", len(f.ents)),
		logx.Int("present_worker", f.cfg.PresentWorker),
	)

	done := engine.NewCounter(0)
	last := time.Now()
	for frame := 0; f.cfg.Frames == 0 || frame < f.cfg.Frames; frame++ {
		// Wait only fails when ctx ends (or would end before the next slot).
		if err := f.lim.Wait(ctx); err != nil {
			break
		}

		start := time.Now()
		dt := float32(start.Sub(last).Seconds())
		last = start
		for i := range f.chunks {
			f.chunks[i].dt = dt
		}

		done.Add(int32(len(f.items)))
		for i := range f.items {
			f.items[i].Counter = done
		}
		f.r.Submit(f.items...)
		f.r.WaitCounter(done, 0)
		n := uint64(len(f.items))

		if f.cfg.PresentWorker >= 0 {
			done.Add(1)
			f.r.Submit(engine.Item{
				Name:     "frame.present",
				Work:     presentFrame,
				Data:     &f.pres,
				Affinity: engine.OnWorker(f.cfg.PresentWorker),
				Counter:  done,
			})
			f.r.WaitCounter(done, 0)
			n++
		}

		f.mu.Lock()
		f.stats.add(time.Since(start))
		f.tasks += n
		f.checksum = f.pres.checksum
		f.mu.Unlock()
	}

	st := f.Stats()
	f.log.Info("frame loop finished",
		logx.Int("frames", st.Frames),
		logx.Uint64("tasks", st.Tasks),
		logx.Duration("avg", st.Avg),
		logx.Duration("p99", st.P99),
		logx.Duration("max", st.Max),
	)
	if f.bus != nil {
		f.bus.Publish(eventbus.Event{Type: EventFinished, Data: st})
	}
	return st
}

// Stats is safe to call while Run is in progress.
func (f *Frame) Stats() FrameStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FrameStats{
		Frames:   f.stats.n,
		Tasks:    f.tasks,
		Avg:      f.stats.mean(),
		P50:      f.stats.percentile(50),
		P99:      f.stats.percentile(99),
		Max:      f.stats.max,
		Checksum: f.checksum,
	}
}
