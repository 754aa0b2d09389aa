package dispatch

import (
	"bytes"
	"runtime"
	"strconv"
)

// goid returns the current goroutine id, parsed from the stack header
// ("goroutine 123 [running]:"). The runtime offers no public accessor;
// this is the same approach net/http2 and gtk bindings use to assert
// thread affinity.
func goid() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)

	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}

	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
