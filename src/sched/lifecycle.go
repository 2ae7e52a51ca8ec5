package sched

import (
	"fmt"

	"github.com/assembler-0/VoidFrame-sub000/src/defs"
	"github.com/assembler-0/VoidFrame-sub000/src/security"
	"github.com/assembler-0/VoidFrame-sub000/src/util"
)

// Reserve finds a free process-table slot and a free PID and marks
// both used, without otherwise initializing the slot. Callers (src/proc)
// use the reserved pid to issue a security token and set up a stack
// before calling Admit; if anything after Reserve fails, Release must
// be called to roll the reservation back (no partial process is ever
// left visible to the scheduler).
func (s *Scheduler) Reserve() (slot int, pid defs.Pid_t, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot = s.findFreeSlot()
	if slot < 0 {
		return 0, 0, false
	}
	pid, pidOk := s.findFreePid()
	if !pidOk {
		return 0, 0, false
	}
	s.markSlotUsed(slot)
	s.markPidUsed(pid)
	s.procs[slot] = process{}
	return slot, pid, true
}

// Release undoes a Reserve that was never followed by Admit.
func (s *Scheduler) Release(slot int, pid defs.Pid_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearSlotUsed(slot)
	s.clearPidUsed(pid)
}

func (s *Scheduler) findFreeSlot() int {
	for slot := 1; slot < MaxProcesses; slot++ {
		if !s.slotUsed(slot) {
			return slot
		}
	}
	return -1
}

func (s *Scheduler) findFreePid() (defs.Pid_t, bool) {
	for pid := defs.Pid_t(1); int(pid) < MaxProcesses; pid++ {
		if !s.pidUsed(pid) {
			return pid, true
		}
	}
	return 0, false
}

// Admit finalizes a reserved slot: fills in the PCB, classifies and
// enqueues it.
func (s *Scheduler) Admit(slot int, pid defs.Pid_t, priv defs.PrivLevel, token security.Token, ctx defs.RegFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	level := classify(priv, token.Flags, 0, 0)
	p := &s.procs[slot]
	*p = process{
		valid:             true,
		Pid:               pid,
		Privilege:         priv,
		Token:             token,
		Priority:          level,
		BasePriority:      level,
		CreationTick:      s.tick,
		LastScheduledTick: s.tick,
		Context:           ctx,
		node:              nilNode,
	}
	for i := range p.BurstHistory {
		p.BurstHistory[i] = s.queues[level].quantum / 2
	}
	p.state.store(defs.PROC_READY)
	s.pidToSlot.Set(uint64(pid), slot)
	s.enqueueAt(slot, level)
	s.totalProcesses++
}

// Lookup returns a read-only snapshot of pid's process-table entry.
func (s *Scheduler) Lookup(pid defs.Pid_t) (security.ProcessSnapshot, int, bool) {
	slot, ok := s.pidToSlot.Get(uint64(pid))
	if !ok {
		return security.ProcessSnapshot{}, 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &s.procs[slot]
	if !p.valid {
		return security.ProcessSnapshot{}, 0, false
	}
	return security.ProcessSnapshot{
		Pid:       p.Pid,
		Privilege: p.Privilege,
		Token:     p.Token,
		State:     p.state.load(),
	}, slot, true
}

// CurrentPid returns the pid of the process occupying the CPU.
func (s *Scheduler) CurrentPid() defs.Pid_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[s.currentSlot].Pid
}

// CurrentTick returns the scheduler's own notion of the current tick,
// used by callers (e.g. src/security's token issuance) that need a
// timestamp consistent with scheduling decisions.
func (s *Scheduler) CurrentTick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// ForceTerminate bypasses every ordinary permission check (IMMUNE,
// CRITICAL, privilege level) and kills pid outright. This is the
// mechanism the process manager's checked Terminate delegates to once
// its own checks pass, and also what the integrity monitor calls
// through its ForceKill callback.
func (s *Scheduler) ForceTerminate(pid defs.Pid_t, reason defs.TerminationReason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forceTerminateLocked(pid, reason, 0)
}

func (s *Scheduler) forceTerminateLocked(pid defs.Pid_t, reason defs.TerminationReason, code int) bool {
	slot, ok := s.pidToSlot.Get(uint64(pid))
	if !ok {
		return false
	}
	p := &s.procs[slot]
	if !p.valid || slot == 0 {
		return false
	}
	for {
		cur := p.state.load()
		if cur == defs.PROC_TERMINATED || cur == defs.PROC_ZOMBIE || cur == defs.PROC_DYING {
			return false
		}
		if p.state.cas(cur, defs.PROC_DYING) {
			break
		}
	}
	if p.node != nilNode {
		s.removeNode(slot, p.Priority)
	}
	p.TermReason = reason
	p.ExitCode = code
	p.state.store(defs.PROC_ZOMBIE)
	s.termQueue = append(s.termQueue, slot)
	if s.currentSlot == slot {
		s.currentSlot = 0
		s.quantumRemaining = 0
	}
	return true
}

// TerminatedSlot identifies one reaped zombie, returned so src/proc
// can release the resources it owns (stack, IPC queue) that the
// scheduler itself knows nothing about.
type TerminatedSlot struct {
	Slot int
	Pid  defs.Pid_t
}

// DrainTerminated pops up to maxK zombie slots off the termination
// queue, without yet freeing them; the
// caller must call FinalizeSlot once it has released any resources it
// tracks per-pid.
func (s *Scheduler) DrainTerminated(maxK int) []TerminatedSlot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxK <= 0 || maxK > CleanupMaxPerCall {
		maxK = CleanupMaxPerCall
	}
	n := util.Min(len(s.termQueue), maxK)
	out := make([]TerminatedSlot, 0, n)
	for i := 0; i < n; i++ {
		slot := s.termQueue[i]
		out = append(out, TerminatedSlot{Slot: slot, Pid: s.procs[slot].Pid})
	}
	s.termQueue = s.termQueue[n:]
	return out
}

// FinalizeSlot completes the reap of a previously drained slot: the
// PCB is zeroed, its pid and slot numbers become available for reuse.
func (s *Scheduler) FinalizeSlot(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &s.procs[slot]
	pid := p.Pid
	p.state.store(defs.PROC_TERMINATED)
	s.pidToSlot.Del(uint64(pid))
	s.clearPidUsed(pid)
	s.clearSlotUsed(slot)
	s.totalProcesses--
	*p = process{}
}

// WakeIfBlocked transitions pid from BLOCKED to READY (e.g. on IPC
// message delivery). A user process not already in the interactive
// band is promoted to RTThreshold on wake.
func (s *Scheduler) WakeIfBlocked(pid defs.Pid_t) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.pidToSlot.Get(uint64(pid))
	if !ok {
		return false
	}
	p := &s.procs[slot]
	if !p.state.cas(defs.PROC_BLOCKED, defs.PROC_READY) {
		return false
	}
	if p.Privilege != defs.PRIV_SYSTEM && p.Priority > RTThreshold {
		p.Priority = RTThreshold
	}
	s.enqueueAt(slot, p.Priority)
	return true
}

// Snapshot returns up to window ProcessSnapshots, the integrity
// monitor's Scan source. The starting point rotates with the tick
// counter so repeated bounded scans eventually cover every slot.
func (s *Scheduler) Snapshot(window int) []security.ProcessSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if window <= 0 {
		return nil
	}
	out := make([]security.ProcessSnapshot, 0, window)
	start := int(s.tick % MaxProcesses)
	for i := 0; i < MaxProcesses && len(out) < window; i++ {
		slot := (start + i) % MaxProcesses
		p := &s.procs[slot]
		if !p.valid {
			continue
		}
		out = append(out, security.ProcessSnapshot{
			Pid:       p.Pid,
			Privilege: p.Privilege,
			Token:     p.Token,
			State:     p.state.load(),
		})
	}
	return out
}

// Metrics reports the counters src/freqctl's sampler blends into a
// target frequency: active/ready process counts, the cumulative
// context-switch count and the real-time/total ready-queue depths.
func (s *Scheduler) Metrics() (active, ready int, contextSwitches uint64, rtDepth, totalDepth int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for level := 0; level < RTThreshold; level++ {
		rtDepth += s.queues[level].count
	}
	for level := 0; level < NumLevels; level++ {
		totalDepth += s.queues[level].count
	}
	return s.activeCount(), totalDepth, s.contextSwitches, rtDepth, totalDepth
}

// QueueDepths returns the ready-process count at every priority level,
// index 0 first; the shape src/diag's sampler renders.
func (s *Scheduler) QueueDepths() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]int, NumLevels)
	for level := 0; level < NumLevels; level++ {
		out[level] = s.queues[level].count
	}
	return out
}

// CheckInvariants verifies the process table and ready queues are
// mutually consistent: active-slot count must equal the tracked
// process count (idle included), and every queued slot's level must
// match its recorded Priority.
func (s *Scheduler) CheckInvariants() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if got, want := s.activeCount(), s.totalProcesses+1; got != want {
		return fmt.Errorf("sched: active slot count %d != tracked process count %d", got, want)
	}
	for level := 0; level < NumLevels; level++ {
		q := &s.queues[level]
		seen := 0
		for idx := q.head; idx != nilNode; idx = s.nodes[idx].next {
			slot := s.nodes[idx].slot
			if s.procs[slot].Priority != level {
				return fmt.Errorf("sched: slot %d queued at level %d but Priority=%d", slot, level, s.procs[slot].Priority)
			}
			seen++
			if seen > MaxProcesses {
				return fmt.Errorf("sched: level %d queue appears cyclic", level)
			}
		}
		if seen != q.count {
			return fmt.Errorf("sched: level %d queue count mismatch: linked %d, recorded %d", level, seen, q.count)
		}
	}
	return nil
}
