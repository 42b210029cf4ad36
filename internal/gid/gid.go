// Package gid extracts the calling goroutine's runtime id, used by the
// Executor to implement ThisWorkerID without threading an explicit
// parameter through every task signature (spec.md section 4.1 requires
// this_worker_id() to be callable with no arguments from inside a running
// task). Go has no public goroutine-local storage, so this parses the
// "goroutine N [...]" header runtime.Stack always emits — a well-known,
// if unglamorous, trick; it is never on a scheduling hot path, only called
// when a task explicitly asks for its worker id.
package gid

import (
	"bytes"
	"runtime"
	"strconv"
)

// Get returns the current goroutine's runtime-assigned id.
func Get() int64 {
	buf := make([]byte, 64)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, len(buf)*2)
	}
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	idx := bytes.IndexByte(buf, ' ')
	if idx < 0 {
		return -1
	}
	id, err := strconv.ParseInt(string(buf[:idx]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
