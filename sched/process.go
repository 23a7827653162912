// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package sched implements the process/scheduler component of §4.c:
// per-process state, 8-level priority scheduling with starvation
// prevention, suspension primitives (yield/wait/block/signalRead), signals,
// and the per-process I/O permission bitmap.
package sched

import (
	"sync"
	"time"

	"github.com/kvisor/kernel/gdt"
	"github.com/kvisor/kernel/internal/bitset"
)

// Privilege is the ring a process runs at. Supervisor is ring 0 (most
// privileged) and compares as the lowest value, so a numeric privilege
// comparison ("caller > required") reads the same way the x86 DPL check
// does (§4.d).
type Privilege int

const (
	Supervisor Privilege = iota
	User
)

// State is a process's scheduling state.
type State int

const (
	StateRunning State = iota
	StateReady
	StateWaiting
	StateIOWait
	StateSleeping
	StateStopped
	StateFinished
	StateZombie
)

// PriorityLevels is the number of priority levels (0 = highest).
const PriorityLevels = 8

// DefaultPriority is the level assigned to a newly created process.
const DefaultPriority = PriorityLevels/2 - 1

// KernelThreadPriority is the fixed priority assigned to kernel threads.
const KernelThreadPriority = 1

// UserStackSize and SupervisorStackSize are the fixed per-process stack
// allocations (§4.c Spawn).
const (
	UserStackSize       = 32 * 1024
	SupervisorStackSize = 32 * 1024
)

// IOBitmapOffset is the byte offset of the I/O permission bitmap past the
// TSS base (§4.c: "embedded at offset IOBITMAP_OFFSET (0x68)").
const IOBitmapOffset = 0x68

// TSS is the hardware task context a process carries (§3 Process).
type TSS struct {
	CR3       uint32
	EIP       uint32
	EFLAGS    uint32
	EAX, EBX, ECX, EDX         uint32
	ESI, EDI, EBP, ESP         uint32
	CS, DS, SS, ES, FS, GS     uint32
	IOMapBase uint16
}

// WaitCondition captures why a process is suspended.
type WaitCondition struct {
	Until        time.Time
	ForPID       int
	YieldedSlice bool
}

// Process is a single schedulable unit (§3 Process).
type Process struct {
	PID       int
	Name      string
	UserID    int
	Priority  int
	Privilege Privilege
	ParentPID int

	GDTSelector gdt.Selector
	TSS         TSS

	CurrentDir string
	Env        map[string]string

	UserStack       []byte
	SupervisorStack []byte

	FPUState [512]byte
	FPUValid bool

	IOPerm *bitset.Set

	mu          sync.Mutex
	state       State
	wait        WaitCondition
	exitCode    int
	startTime   time.Time
	cpuTime     time.Duration
	cpuPercent  float64
	detached    bool

	signalMask   uint64
	signalStream chan int

	exitCh chan struct{}
}

// State returns the process's current scheduling state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Process) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// ExitCode returns the exit code a finished or zombie process terminated
// with.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// CPUTime returns the cumulative CPU time charged to the process.
func (p *Process) CPUTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cpuTime
}

func (p *Process) chargeCPU(d time.Duration) {
	p.mu.Lock()
	p.cpuTime += d
	p.mu.Unlock()
}
