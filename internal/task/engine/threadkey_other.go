//go:build !linux

package engine

import (
	"bytes"
	"runtime"
	"strconv"
)

// Without gettid, key by goroutine id; workers never change goroutines.
func currentThreadKey() int64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
