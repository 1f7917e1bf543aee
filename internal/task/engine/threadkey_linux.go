//go:build linux

package engine

import "golang.org/x/sys/unix"

// A locked goroutine is the only goroutine its thread runs, so the kernel
// thread id identifies the worker.
func currentThreadKey() int64 { return int64(unix.Gettid()) }
