package sched

import (
	"fmt"
	"sync"
	"time"

	"github.com/kvisor/kernel/gdt"
	"github.com/kvisor/kernel/internal/bitset"
	"github.com/kvisor/kernel/internal/exception"
)

// ErrPermission, ErrNoFree, ErrNoSuchProcess mirror the ERR_* taxonomy of
// spec §6, scoped to this package rather than re-exporting apigw's codes to
// avoid a dependency cycle (apigw depends on sched, not the reverse).
var (
	ErrPermission    = fmt.Errorf("sched: permission")
	ErrNoFree        = fmt.Errorf("sched: no free")
	ErrNoSuchProcess = fmt.Errorf("sched: no such process")
)

// CPUPercentTimeslices is the rolling window, in scheduling slices, over
// which the starvation-prevention ratio is measured (§4.c).
const CPUPercentTimeslices = 300

// Scheduler owns the process table, the GDT, and the ready queues. Only one
// CPU mutates this state (§1 non-goals: SMP); the mutex exists so test
// goroutines standing in for interrupt handlers and kernel threads can touch
// it concurrently, not to model multi-CPU contention.
type Scheduler struct {
	mu sync.Mutex

	gdt *gdt.Table

	table  map[int]*Process
	nextPID int

	ready [PriorityLevels][]*Process
	picks [PriorityLevels]int

	current *Process

	// OnTerminate is invoked, in order, whenever a process terminates —
	// used to hook in connection/resource teardown owned by other
	// packages (e.g. net.Registry.CloseAll) without an import cycle.
	OnTerminate []func(pid int)

	// OnFault, if set, is invoked with the fault report of a kernel
	// thread goroutine that panics, before the process is
	// force-terminated (§7: process faults are reported, not allowed to
	// crash the scheduler).
	OnFault func(*exception.Fault)
}

// NewScheduler creates a scheduler backed by the given descriptor table.
func NewScheduler(t *gdt.Table) *Scheduler {
	return &Scheduler{
		gdt:     t,
		table:   make(map[int]*Process),
		nextPID: 1,
	}
}

// CreateProcess allocates a GDT slot, a TSS, a user stack, and — if
// privileged — a supervisor stack (§4.c Spawn).
func (s *Scheduler) CreateProcess(name string, priv Privilege, processImage []byte) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel, err := s.gdt.Request()
	if err != nil {
		return nil, ErrNoFree
	}

	p := &Process{
		PID:          s.nextPID,
		Name:         name,
		Privilege:    priv,
		Priority:     DefaultPriority,
		GDTSelector:  sel,
		Env:          make(map[string]string),
		UserStack:    make([]byte, UserStackSize),
		IOPerm:       bitset.NewSet(0),
		state:        StateReady,
		startTime:    time.Now(),
		signalStream: make(chan int, 32),
		exitCh:       make(chan struct{}),
	}
	s.nextPID++

	if priv == Supervisor {
		p.SupervisorStack = make([]byte, SupervisorStackSize)
	}

	p.TSS.IOMapBase = IOBitmapOffset

	s.table[p.PID] = p
	s.ready[p.Priority] = append(s.ready[p.Priority], p)

	return p, nil
}

// Spawn builds a process image and enqueues it ready, at default priority
// and user privilege.
func (s *Scheduler) Spawn(entryPoint uint32, name string, argv []string) (*Process, error) {
	p, err := s.CreateProcess(name, User, nil)
	if err != nil {
		return nil, err
	}

	p.TSS.EIP = entryPoint
	p.Env["_argc"] = fmt.Sprint(len(argv))

	return p, nil
}

// SpawnKernelThread creates a supervisor-privilege process at
// KernelThreadPriority, shares the kernel's address space (CR3 left zero —
// kernel threads never switch page tables), and runs fn in its own
// goroutine until it returns or the scheduler terminates it.
func (s *Scheduler) SpawnKernelThread(name string, fn func(p *Process)) (*Process, error) {
	p, err := s.CreateProcess(name, Supervisor, nil)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.setPriorityLocked(p, KernelThreadPriority)
	s.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				fault := exception.Recover(p.PID, r)
				if s.OnFault != nil {
					s.OnFault(fault)
				}
				s.KillProcess(p.PID, true)
				return
			}
			s.Terminate(p.PID, 0)
		}()
		fn(p)
	}()

	return p, nil
}

// SetPriority sets a process's priority level, rejecting values outside
// 0..7 and privilege escalation above the caller's own (§4.c Failure
// semantics).
func (s *Scheduler) SetPriority(callerPID, pid, level int) error {
	if level < 0 || level >= PriorityLevels {
		return ErrPermission
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	caller, ok := s.table[callerPID]
	if !ok {
		return ErrNoSuchProcess
	}
	target, ok := s.table[pid]
	if !ok {
		return ErrNoSuchProcess
	}
	if caller.Privilege != Supervisor && caller.PID != target.PID {
		return ErrPermission
	}

	s.setPriorityLocked(target, level)

	return nil
}

func (s *Scheduler) setPriorityLocked(p *Process, level int) {
	if p.state == StateReady {
		s.removeFromReadyLocked(p)
		p.Priority = level
		s.ready[level] = append(s.ready[level], p)
	} else {
		p.Priority = level
	}
}

func (s *Scheduler) removeFromReadyLocked(p *Process) {
	q := s.ready[p.Priority]
	for i, v := range q {
		if v == p {
			s.ready[p.Priority] = append(q[:i], q[i+1:]...)
			return
		}
	}
}

// Next picks the next process to run: the highest-priority ready process,
// subject to the 3:1 starvation-prevention ratio against the next
// strictly-higher level (§4.c). Returns nil if no process is ready.
func (s *Scheduler) Next() *Process {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.nextLocked()
}

func (s *Scheduler) nextLocked() *Process {
	top := -1
	for lvl := 0; lvl < PriorityLevels; lvl++ {
		if len(s.ready[lvl]) > 0 {
			top = lvl
			break
		}
	}
	if top == -1 {
		return nil
	}

	cand := top
	for lvl := top + 1; lvl < PriorityLevels; lvl++ {
		if len(s.ready[lvl]) == 0 {
			continue
		}
		// Strict 3:1 ratio: lvl must not fall behind cand by more than
		// 3x within the rolling window, or it is starved and wins this
		// slice instead.
		if s.picks[cand] >= 3*(s.picks[lvl]+1) {
			cand = lvl
		}
	}

	q := s.ready[cand]
	p := q[0]
	s.ready[cand] = append(q[1:], p)

	s.picks[cand]++
	if total := sumPicks(s.picks[:]); total >= CPUPercentTimeslices {
		for i := range s.picks {
			s.picks[i] = 0
		}
	}

	s.current = p
	p.setState(StateRunning)

	return p
}

func sumPicks(picks []int) int {
	total := 0
	for _, c := range picks {
		total += c
	}
	return total
}

// Current returns the process the scheduler most recently dispatched.
func (s *Scheduler) Current() *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Yield gives up the remainder of pid's slice, returning it to the back of
// its ready queue.
func (s *Scheduler) Yield(pid int) error {
	s.mu.Lock()
	p, ok := s.table[pid]
	if !ok {
		s.mu.Unlock()
		return ErrNoSuchProcess
	}
	p.wait.YieldedSlice = true
	p.setState(StateReady)
	s.ready[p.Priority] = append(s.ready[p.Priority], p)
	s.mu.Unlock()

	return nil
}

// Process looks up a process by pid.
func (s *Scheduler) Process(pid int) (*Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.table[pid]
	return p, ok
}

// Detach lets pid run independently of its parent — its exit no longer
// requires a parent block() to reap it.
func (s *Scheduler) Detach(pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.table[pid]
	if !ok {
		return ErrNoSuchProcess
	}
	p.detached = true
	return nil
}

// Terminate marks pid finished, unblocks any waiter, runs teardown hooks,
// returns its GDT selector to the free list, and — unless it is a zombie a
// parent may still reap — removes it from the table.
func (s *Scheduler) Terminate(pid, exitCode int) error {
	return s.terminate(pid, exitCode, false)
}

// KillProcess marks pid finished; if force, it skips the zombie/reap
// negotiation entirely (§5 Cancellation and timeouts).
func (s *Scheduler) KillProcess(pid int, force bool) error {
	return s.terminate(pid, -1, force)
}

func (s *Scheduler) terminate(pid, exitCode int, force bool) error {
	s.mu.Lock()
	p, ok := s.table[pid]
	if !ok {
		s.mu.Unlock()
		return ErrNoSuchProcess
	}

	s.removeFromReadyLocked(p)
	p.mu.Lock()
	p.exitCode = exitCode
	p.mu.Unlock()

	becomesZombie := !force && !p.detached && s.hasLiveParentLocked(p)
	if becomesZombie {
		p.setState(StateZombie)
	} else {
		p.setState(StateFinished)
		delete(s.table, pid)
		s.gdt.Release(p.GDTSelector)
	}
	s.mu.Unlock()

	close(p.exitCh)

	for _, hook := range s.OnTerminate {
		hook(pid)
	}

	return nil
}

func (s *Scheduler) hasLiveParentLocked(p *Process) bool {
	parent, ok := s.table[p.ParentPID]
	return ok && parent.state != StateFinished && parent.state != StateZombie
}

// Reap removes a zombie process from the table once its parent has
// collected its exit code via Block.
func (s *Scheduler) reap(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.table[pid]
	if !ok || p.state != StateZombie {
		return
	}
	delete(s.table, pid)
	s.gdt.Release(p.GDTSelector)
}

// Wait blocks the calling goroutine (standing in for pid) for ms
// milliseconds of wall-clock time, marking pid sleeping meanwhile.
func (s *Scheduler) Wait(pid int, ms int) error {
	p, ok := s.Process(pid)
	if !ok {
		return ErrNoSuchProcess
	}

	p.setState(StateSleeping)
	p.mu.Lock()
	p.wait.Until = time.Now().Add(time.Duration(ms) * time.Millisecond)
	p.mu.Unlock()

	time.Sleep(time.Duration(ms) * time.Millisecond)
	p.setState(StateReady)

	return nil
}

// Block waits for pid's target process to exit and returns its exit code.
func (s *Scheduler) Block(callerPID, targetPID int) (int, error) {
	caller, ok := s.Process(callerPID)
	if !ok {
		return 0, ErrNoSuchProcess
	}
	target, ok := s.Process(targetPID)
	if !ok {
		return 0, ErrNoSuchProcess
	}

	caller.mu.Lock()
	caller.wait.ForPID = targetPID
	caller.mu.Unlock()
	caller.setState(StateWaiting)

	<-target.exitCh

	caller.setState(StateReady)
	code := target.ExitCode()
	s.reap(targetPID)

	return code, nil
}
