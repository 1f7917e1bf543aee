// Package supervisor runs the process's auxiliary goroutines (config watch,
// workload driver, debug server, watchdog) under one cancellable context.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	logx "framesched/pkg/logx"
)

// Supervisor owns a context and every named goroutine started under it.
// The first failure is kept; with cancel-on-error it also ends the context.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	cancelOnErr bool

	group    sync.WaitGroup
	waitOnce sync.Once
	exited   chan struct{}

	mu      sync.Mutex
	err     error
	started uint64
	live    map[string]int
}

type Option func(*Supervisor)

// Counters are operational signals only, not a synchronization primitive.
type Counters struct {
	Active  int64    `json:"active"`
	Started uint64   `json:"started"`
	Running []string `json:"running,omitempty"`
}

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError ends the context on the first error or panic.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	s := &Supervisor{
		exited: make(chan struct{}),
		live:   make(map[string]int),
	}
	s.ctx, s.cancel = context.WithCancel(parent)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel ends the context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first failure recorded, or nil.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Supervisor) Counters() Counters {
	s.mu.Lock()
	c := Counters{Started: s.started}
	for name, n := range s.live {
		c.Active += int64(n)
		c.Running = append(c.Running, name)
	}
	s.mu.Unlock()
	slices.Sort(c.Running)
	return c
}

func (s *Supervisor) enter(name string) {
	s.mu.Lock()
	s.started++
	s.live[name]++
	s.mu.Unlock()
	s.group.Add(1)
}

func (s *Supervisor) leave(name string, err error) {
	s.mu.Lock()
	if s.live[name]--; s.live[name] <= 0 {
		delete(s.live, name)
	}
	first := err != nil && s.err == nil
	if first {
		s.err = err
	}
	s.mu.Unlock()

	if err != nil && s.cancelOnErr {
		s.cancel()
	}
	s.log.Debug("goroutine stopped", logx.String("name", name), logx.Bool("failed", err != nil))
	s.group.Done()
}

// Go runs fn in a new goroutine. A panic is recovered and recorded as an error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.enter(name)
	go func() {
		err := s.call(name, fn)
		if err != nil && !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%s: %w", name, err)
		} else {
			err = nil
		}
		s.leave(name, err)
	}()
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// call runs fn once, turning a panic into an error.
func (s *Supervisor) call(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		err = fmt.Errorf("panic: %v", r)
	}()
	return fn(s.ctx)
}

// RestartOption configures GoRestart.
type RestartOption func(*restartPolicy)

type restartPolicy struct {
	floor, ceil time.Duration
	limit       int // <=0 means unlimited
}

// WithRestartBackoff bounds the exponential delay between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.floor = min
		}
		if max > 0 {
			p.ceil = max
		}
	}
}

// WithMaxRestarts gives up after n restarts. The first run does not count.
func WithMaxRestarts(n int) RestartOption { return func(p *restartPolicy) { p.limit = n } }

// healthyRun resets the backoff when a run lasted at least this long.
const healthyRun = 30 * time.Second

// next returns the jittered delay for attempt and the base for the one after.
func (p restartPolicy) next(base time.Duration) (wait, after time.Duration) {
	wait = base
	if spread := int64(base) / 5; spread > 0 {
		wait += time.Duration(rand.Int63n(spread + 1))
	}
	return wait, min(base*2, p.ceil)
}

// GoRestart runs fn and restarts it after an error or panic until the
// context ends. A nil return ends the loop.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{floor: 250 * time.Millisecond, ceil: 30 * time.Second}
	for _, opt := range opts {
		opt(&p)
	}
	p.ceil = max(p.ceil, p.floor)

	s.Go(name, func(ctx context.Context) error {
		base := p.floor
		restarts := 0
		for {
			began := time.Now()
			err := s.call(name, fn)
			if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			if p.limit > 0 && restarts >= p.limit {
				s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("restarts", restarts), logx.Err(err))
				return err
			}
			if time.Since(began) >= healthyRun {
				base = p.floor
			}
			var wait time.Duration
			wait, base = p.next(base)
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
			if !sleep(ctx, wait) {
				return nil
			}
			restarts++
		}
	})
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Stop cancels the context and waits for every goroutine.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine returned or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.group.Wait()
			close(s.exited)
		}()
	})
	select {
	case <-s.exited:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Wait or Stop has seen every goroutine exit.
func (s *Supervisor) Done() <-chan struct{} { return s.exited }
