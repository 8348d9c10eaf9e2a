package commonutils

import (
	"bytes"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
)

func GoID() int64 {
	// A small buffer is enough for the first line of runtime.Stack
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	// The first line looks like: "goroutine 123 [running]:\n"
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return -1
	}
	n, err := strconv.ParseInt(string(b[:i]), 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// CallSite describes where a call came from.
type CallSite struct {
	File     string
	Line     int
	Function string
	GID      int64
}

func (c CallSite) String() string {
	if c.File == "" {
		return "unknown caller"
	}
	return fmt.Sprintf("%s:%d (%s) goroutine %d", c.File, c.Line, c.Function, c.GID)
}

// Caller reports the call site skip frames above its own caller.
// skip=0 -> caller of Caller, skip=1 -> caller's caller, and so on.
func Caller(skip int) CallSite {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return CallSite{GID: GoID()}
	}
	name := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		name = fn.Name()
	}
	return CallSite{File: filepath.Base(file), Line: line, Function: name, GID: GoID()}
}
