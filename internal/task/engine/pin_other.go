//go:build !linux

package engine

import "errors"

func pinThread(int) error { return errors.New("cpu pinning is only supported on linux") }
