package sched

// SetIOPerm sets or clears a process's permission for an I/O port (bit=1
// deny, bit=0 allow, per §3's bitmap convention), supervisor-privilege
// callers only, and reloads the TSS IOMapBase when the bitmap grows (§4.c).
func (s *Scheduler) SetIOPerm(callerPID, targetPID, port int, deny bool) error {
	caller, ok := s.Process(callerPID)
	if !ok {
		return ErrNoSuchProcess
	}
	if caller.Privilege != Supervisor {
		return ErrPermission
	}

	target, ok := s.Process(targetPID)
	if !ok {
		return ErrNoSuchProcess
	}

	target.mu.Lock()
	defer target.mu.Unlock()

	grew := target.IOPerm.Len() <= port
	target.IOPerm.Set(port, deny)
	if grew {
		target.TSS.IOMapBase = IOBitmapOffset + uint16(len(target.IOPerm.Bytes()))
	}

	return nil
}

// GetIOPerm reports whether pid is denied access to port (false = allowed).
func (s *Scheduler) GetIOPerm(pid, port int) (bool, error) {
	p, ok := s.Process(pid)
	if !ok {
		return false, ErrNoSuchProcess
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.IOPerm.Get(port), nil
}
