// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package exception implements the process-fault reporting of §7 Error
// Handling Design: a recovered panic in a process's goroutine is turned
// into a register-file-style dump and a symbolized stack walk rather than
// crashing the whole scheduler.
package exception

import (
	"fmt"
	"runtime"
	"strings"
)

// Fault describes a process terminated by an unhandled exception: the
// recovered panic value, plus the symbolized stack walked at the point of
// recovery (§7: "dump the register file, walk the stack with symbol
// resolution").
type Fault struct {
	PID    int
	Reason any
	Frames []Frame
}

// Frame is one symbolized stack entry.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Recover builds a Fault from a recovered panic value, walking the caller's
// stack with runtime.Callers/CallersFrames. Call it directly inside a
// deferred recover, e.g.:
//
//	defer func() {
//	    if r := recover(); r != nil {
//	        fault := exception.Recover(pid, r)
//	        ...
//	    }
//	}()
func Recover(pid int, reason any) *Fault {
	const maxFrames = 32
	pcs := make([]uintptr, maxFrames)
	// Skip Callers, Recover, the deferred recover func itself, and the
	// runtime's panic frame.
	n := runtime.Callers(4, pcs)

	frames := runtime.CallersFrames(pcs[:n])
	fault := &Fault{PID: pid, Reason: reason}
	for {
		frame, more := frames.Next()
		fault.Frames = append(fault.Frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more {
			break
		}
	}
	return fault
}

// String renders the fault the way a kernel panic dump would: the reason
// on its own line, then one indented line per stack frame.
func (f *Fault) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "process %d: unhandled exception: %v\n", f.PID, f.Reason)
	for _, frame := range f.Frames {
		fmt.Fprintf(&b, "\t%s\n\t\t%s:%d\n", frame.Function, frame.File, frame.Line)
	}
	return b.String()
}
