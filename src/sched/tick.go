package sched

import (
	"github.com/assembler-0/VoidFrame-sub000/src/defs"
	"github.com/assembler-0/VoidFrame-sub000/src/security"
)

// recordBurst appends an observed burst length to the process's
// rolling history.
func (p *process) recordBurst(ticks uint32) {
	p.BurstHistory[p.burstCursor%CPUBurstHistory] = ticks
	p.burstCursor++
}

func (p *process) avgBurst() uint32 {
	var total uint32
	for _, b := range p.BurstHistory {
		total += b
	}
	return total / CPUBurstHistory
}

// Tick is the scheduler's periodic entry point, called once per timer
// interrupt with the interrupted context. It runs the full MLFQ
// decision: fairness boost, aging, current-process bookkeeping, the
// preemption decision, and dispatch. regs is updated in place to the
// context that should run next.
func (s *Scheduler) Tick(regs *defs.RegFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tick++
	s.scheduleStart = s.tick

	if s.tick-s.lastBoostTick >= FairnessBoostInterval {
		s.lastBoostTick = s.tick
		s.fairnessBoostLocked()
	}
	if s.tick-s.lastAgingTick >= AgingCheckInterval {
		s.lastAgingTick = s.tick
		s.smartAgingLocked()
	}

	cur := &s.procs[s.currentSlot]
	switch cur.state.load() {
	case defs.PROC_DYING, defs.PROC_ZOMBIE, defs.PROC_TERMINATED:
		s.selectAndDispatchLocked(regs)
		return
	}

	if s.currentSlot == 0 {
		// Idle never holds a quantum or sits on a ready queue; just
		// see whether anything became runnable.
		cur.Context = *regs
		if s.findBestQueue() >= 0 {
			s.selectAndDispatchLocked(regs)
		}
		return
	}

	// Per-tick bookkeeping for the running process happens whether or
	// not it ends up preempted: burst history, cumulative CPU, and the
	// token revalidation. A corrupt token must not ride out the rest
	// of its quantum.
	used := s.quantumGranted - s.quantumRemaining
	cur.recordBurst(used)
	cur.Accnt.Systadd(1)
	if !security.Validate(&cur.Token, cur.Pid) {
		s.report("running process token corrupted, pid %d", cur.Pid)
		s.forceTerminateLocked(cur.Pid, defs.TERM_SECURITY, -1)
		s.selectAndDispatchLocked(regs)
		return
	}
	cur.Context = *regs

	if s.quantumRemaining > 0 {
		s.quantumRemaining--
	}
	if s.quantumRemaining > 0 {
		// Still time left on the current process's slice; preempt only
		// for a waiting top-RT process (when the current one sits far
		// enough below it) or for any strictly better queue.
		rtWaiting := s.queues[CriticalPreemptionLevel].count > 0 &&
			cur.Priority > PreemptionMinPriorityGap
		if !rtWaiting {
			if best := s.findBestQueue(); best < 0 || best >= cur.Priority {
				return
			}
		}
	}

	s.preemptCurrentLocked(s.currentSlot, cur, used)
	s.selectAndDispatchLocked(regs)
}

// preemptCurrentLocked re-queues the outgoing process, demoting or
// promoting it per the quantum it actually consumed. The caller has
// already recorded the burst and revalidated the token.
func (s *Scheduler) preemptCurrentLocked(slot int, cur *process, used uint32) {
	cur.PreemptionCount++
	s.Stats.Preemptions.Inc()

	level := cur.Priority
	if cur.Privilege != defs.PRIV_SYSTEM {
		if s.quantumRemaining == 0 {
			if level < NumLevels-1 {
				level++ // CPU-bound: used the whole quantum, demote one level
			}
		} else if used < s.queues[level].quantum/2 && level > RTThreshold {
			level = RTThreshold // interactive: yielded before half-quantum, boost to user RT
		}
	} else if level > cur.BasePriority {
		level = cur.BasePriority // SYSTEM processes revert if demoted
	}
	cur.Priority = level
	cur.state.store(defs.PROC_READY)
	s.enqueueAt(slot, level)
}

// selectAndDispatchLocked picks the next runnable process via
// findBestQueue, applying a preflight integrity check to each
// candidate: a stale token or a SYSTEM privilege level without the
// SUPERVISOR/CRITICAL/IMMUNE flags backing it force-terminates the
// candidate and selection retries. If nothing survives, the idle slot
// runs.
func (s *Scheduler) selectAndDispatchLocked(regs *defs.RegFrame) {
	for {
		level := s.findBestQueue()
		if level < 0 {
			s.dispatchLocked(0, regs)
			return
		}
		slot := s.dequeueHead(level)
		p := &s.procs[slot]
		if !security.Validate(&p.Token, p.Pid) {
			s.Stats.Preflights.Inc()
			s.report("preflight token validation failed, pid %d", p.Pid)
			s.forceTerminateLocked(p.Pid, defs.TERM_SECURITY, -1)
			continue
		}
		if p.Privilege == defs.PRIV_SYSTEM &&
			p.Token.Flags&(defs.FLAG_SUPERVISOR|defs.FLAG_CRITICAL|defs.FLAG_IMMUNE) == 0 {
			s.Stats.Preflights.Inc()
			s.report("illicit SYSTEM privilege, pid %d", p.Pid)
			s.forceTerminateLocked(p.Pid, defs.TERM_SECURITY, -1)
			continue
		}
		s.dispatchLocked(slot, regs)
		return
	}
}

func (s *Scheduler) dispatchLocked(slot int, regs *defs.RegFrame) {
	if s.currentSlot == 0 && slot != 0 {
		// Idle never sits on a ready queue; park it READY by hand.
		s.procs[0].state.store(defs.PROC_READY)
	}
	p := &s.procs[slot]
	p.state.store(defs.PROC_RUNNING)
	p.LastScheduledTick = s.tick
	s.currentSlot = slot

	if slot == 0 {
		s.quantumRemaining = 0
		s.quantumGranted = 0
		*regs = p.Context
		return
	}

	quantum := s.queues[p.Priority].quantum
	if p.IOOps >= IOInteractiveThreshold*3 {
		quantum = quantum * IOQuantumBoostFactor / IOQuantumBoostDivisor
	}
	if avg := p.avgBurst(); avg > quantum*CPUIntensiveMultiplier {
		quantum = quantum * CPUQuantumPenaltyFactor / CPUQuantumPenaltyDivisor
	}
	s.quantumRemaining = quantum
	s.quantumGranted = quantum

	s.contextSwitches++
	s.Stats.Dispatches.Inc()
	elapsed := uint32(s.tick - s.scheduleStart)
	s.csOverheadEMA = (s.csOverheadEMA*7 + elapsed) / 8
	*regs = p.Context
}

// fairnessBoostLocked promotes READY processes that have waited past
// FairnessWaitThreshold or StarvationTicks: SYSTEM processes to level
// 0, user processes to RTThreshold. Unlike the aging pass it walks the
// whole process table, not just the regular queues.
func (s *Scheduler) fairnessBoostLocked() {
	for slot := 1; slot < MaxProcesses; slot++ {
		p := &s.procs[slot]
		if !p.valid || p.state.load() != defs.PROC_READY {
			continue
		}
		waited := s.tick - p.LastScheduledTick
		if waited <= FairnessWaitThreshold && waited <= StarvationTicks {
			continue
		}
		dst := RTThreshold
		if p.Privilege == defs.PRIV_SYSTEM {
			dst = 0
		}
		if p.Priority <= dst {
			continue
		}
		s.removeNode(slot, p.Priority)
		p.Priority = dst
		s.enqueueAt(slot, dst)
		s.Stats.Boosts.Inc()
	}
}

// smartAgingLocked ages processes that have waited an unusually long
// time relative to current system load, with a lower threshold (more
// aggressive aging) when the system is heavily loaded.
func (s *Scheduler) smartAgingLocked() {
	load := 0
	for l := 0; l < NumLevels; l++ {
		load += s.queues[l].count
	}
	threshold := uint64(StarvationTicks)
	if load > AgingAccelerationUnder {
		threshold /= 2
	}

	for level := RTThreshold; level < NumLevels; level++ {
		q := &s.queues[level]
		idx := q.head
		for idx != nilNode {
			next := s.nodes[idx].next
			slot := s.nodes[idx].slot
			p := &s.procs[slot]
			waited := s.tick - p.LastScheduledTick
			if waited >= threshold || waited >= StarvationTicks {
				dst := RTThreshold
				if p.Privilege == defs.PRIV_SYSTEM {
					dst = 0
				}
				if dst == level {
					idx = next
					continue
				}
				s.removeNode(slot, level)
				p.Priority = dst
				p.LastScheduledTick = s.tick
				s.enqueueAt(slot, dst)
				s.Stats.Agings.Inc()
			}
			idx = next
		}
	}
}

// Block transitions the current process to BLOCKED (e.g. an empty IPC
// receive) and immediately selects a replacement; used by src/ipc's
// Receive before it actually waits.
func (s *Scheduler) Block(regs *defs.RegFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scheduleStart = s.tick
	if s.currentSlot == 0 {
		// Idle cannot block; just look for other work.
		s.selectAndDispatchLocked(regs)
		return
	}
	cur := &s.procs[s.currentSlot]
	cur.Context = *regs
	used := s.quantumGranted - s.quantumRemaining
	cur.recordBurst(used)
	cur.IOOps++
	s.quantumRemaining = 0
	cur.state.store(defs.PROC_BLOCKED)
	s.selectAndDispatchLocked(regs)
}

// Yield voluntarily gives up the remainder of the current quantum.
// The outgoing process is re-queued using the ordinary
// preemption rule, so a process that yields early is rewarded with a
// promotion the same way a process preempted for idling would be.
func (s *Scheduler) Yield(regs *defs.RegFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scheduleStart = s.tick
	if s.currentSlot == 0 {
		s.selectAndDispatchLocked(regs)
		return
	}
	cur := &s.procs[s.currentSlot]
	used := s.quantumGranted - s.quantumRemaining
	cur.recordBurst(used)
	if !security.Validate(&cur.Token, cur.Pid) {
		s.report("running process token corrupted, pid %d", cur.Pid)
		s.forceTerminateLocked(cur.Pid, defs.TERM_SECURITY, -1)
		s.selectAndDispatchLocked(regs)
		return
	}
	cur.Context = *regs
	s.preemptCurrentLocked(s.currentSlot, cur, used)
	s.selectAndDispatchLocked(regs)
}
