// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package klog

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestPrintfBuffersUntilFlushed(t *testing.T) {
	l := New(fixedClock(time.Unix(0, 0)))
	l.Printf(LevelError, "disk %d failed", 3)

	if !strings.Contains(string(l.Bytes()), "disk 3 failed") {
		t.Fatalf("Bytes() = %q, want it to contain the formatted message", l.Bytes())
	}

	var out bytes.Buffer
	l.SetOutput(&out)
	if err := l.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !strings.Contains(out.String(), "disk 3 failed") {
		t.Fatalf("output = %q, want it to contain the flushed message", out.String())
	}
	if len(l.Bytes()) != 0 {
		t.Fatal("expected buffer to be empty after Flush")
	}
}

func TestPrintfEchoesToConsoleWhenEnabled(t *testing.T) {
	l := New(fixedClock(time.Unix(0, 0)))
	var console bytes.Buffer
	l.SetOutput(&console)
	l.SetToConsole(true)

	l.Printf(LevelWarn, "low memory")

	if !strings.Contains(console.String(), "low memory") {
		t.Fatalf("console = %q, want it to contain the message immediately", console.String())
	}
}

func TestStartFlushDrainsPeriodically(t *testing.T) {
	l := New(fixedClock(time.Unix(0, 0)))
	l.flushEvery = 10 * time.Millisecond

	var out bytes.Buffer
	l.SetOutput(&out)
	l.Printf(LevelDebug, "boot complete")

	l.StartFlush()
	defer l.StopFlush()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), "boot complete") {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected periodic flush to drain the buffered message")
}

func TestStopFlushPerformsFinalFlush(t *testing.T) {
	l := New(fixedClock(time.Unix(0, 0)))
	l.flushEvery = time.Hour

	var out bytes.Buffer
	l.SetOutput(&out)
	l.StartFlush()

	l.Printf(LevelError, "shutting down")
	l.StopFlush()

	if !strings.Contains(out.String(), "shutting down") {
		t.Fatalf("output = %q, want the final flush to have drained the message", out.String())
	}
}

func TestLevelStringNames(t *testing.T) {
	cases := map[Level]string{LevelDebug: "debug", LevelWarn: "warn", LevelError: "error"}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Fatalf("Level(%d).String() = %q, want %q", level, got, want)
		}
	}
}
