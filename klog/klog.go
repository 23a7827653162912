// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package klog implements the in-memory kernel log buffer of §4.h,
// optionally flushed to a backing file every two seconds by a background
// goroutine, mirroring kernelLog.c's logStream/logUpdater pair.
package klog

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"
)

// Level names the severity of a logged message.
type Level int

const (
	LevelDebug Level = iota
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Clock abstracts the time source used to timestamp entries, so tests can
// supply a fixed one.
type Clock func() time.Time

// Log is an in-memory buffer of formatted log lines with an optional
// background flush to a file, the same split kernelLog.c draws between
// its in-memory logStream and its on-disk logFileStream.
type Log struct {
	mu         sync.Mutex
	buf        bytes.Buffer
	toConsole  bool
	clock      Clock
	out        io.Writer
	stopFlush  chan struct{}
	flushDone  chan struct{}
	flushEvery time.Duration
}

// New returns a Log with entries timestamped by clock. Use SetOutput and
// StartFlush to wire in a backing file.
func New(clock Clock) *Log {
	return &Log{clock: clock, flushEvery: 2 * time.Second}
}

// SetToConsole toggles whether Printf also writes through to the console
// writer set by SetOutput (kernelLogSetToConsole/kernelLogGetToConsole).
func (l *Log) SetToConsole(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.toConsole = enabled
}

// ToConsole reports whether console echo is enabled.
func (l *Log) ToConsole() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.toConsole
}

// Printf appends a formatted, timestamped line to the in-memory buffer
// (kernelLog's "format + timestamp via RTC, append to stream").
func (l *Log) Printf(level Level, format string, args ...any) {
	line := fmt.Sprintf("[%s] %s: %s\n", l.clock().Format(time.RFC3339), level, fmt.Sprintf(format, args...))

	l.mu.Lock()
	l.buf.WriteString(line)
	toConsole := l.toConsole
	out := l.out
	l.mu.Unlock()

	if toConsole && out != nil {
		io.WriteString(out, line)
	}
}

// Bytes returns a copy of everything buffered so far but not yet flushed.
func (l *Log) Bytes() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte{}, l.buf.Bytes()...)
}

// SetOutput sets the writer flushLogStream drains into.
func (l *Log) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
}

// flush pops everything currently buffered and writes it to out, the way
// flushLogStream pops up to 512 bytes at a time from logStream.
func (l *Log) flush() error {
	l.mu.Lock()
	if l.buf.Len() == 0 || l.out == nil {
		l.mu.Unlock()
		return nil
	}
	pending := append([]byte{}, l.buf.Bytes()...)
	l.buf.Reset()
	out := l.out
	l.mu.Unlock()

	_, err := out.Write(pending)
	return err
}

// Flush forces an immediate drain to the backing writer.
func (l *Log) Flush() error {
	return l.flush()
}

// StartFlush launches a background goroutine that flushes every two
// seconds, mirroring logUpdater's "while true { flush; wait(2000) }" loop
// (kernelLogSetFile spawns this thread once a backing file is attached).
func (l *Log) StartFlush() {
	l.mu.Lock()
	if l.stopFlush != nil {
		l.mu.Unlock()
		return
	}
	l.stopFlush = make(chan struct{})
	l.flushDone = make(chan struct{})
	stop := l.stopFlush
	done := l.flushDone
	l.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(l.flushEvery)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				l.flush()
				return
			case <-ticker.C:
				l.flush()
			}
		}
	}()
}

// StopFlush halts the background flush goroutine, flushing once more on
// the way out (kernelLogShutdown's final flush before closing the file).
func (l *Log) StopFlush() {
	l.mu.Lock()
	stop := l.stopFlush
	done := l.flushDone
	l.stopFlush = nil
	l.flushDone = nil
	l.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}
