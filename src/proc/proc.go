// Package proc implements the process lifecycle: permission-checked
// creation and termination on top of the scheduler's mechanism,
// guarded-stack allocation via the VM and page-table engines, and the
// bounded reaper that drains the scheduler's termination queue.
//
// Check ordering in Create is load-bearing: the caller's permission is
// verified before its token, and both before any resource is
// allocated, so an attacker's create attempt never consumes a slot.
package proc

import (
	"fmt"
	"io"

	"github.com/assembler-0/VoidFrame-sub000/src/defs"
	"github.com/assembler-0/VoidFrame-sub000/src/mem"
	"github.com/assembler-0/VoidFrame-sub000/src/ptab"
	"github.com/assembler-0/VoidFrame-sub000/src/sched"
	"github.com/assembler-0/VoidFrame-sub000/src/security"
	"github.com/assembler-0/VoidFrame-sub000/src/vm"
)

// StackPages is the number of 4 KiB pages given to each process's
// kernel stack, not counting the guard page below it.
const StackPages = 16

// GuardPages precedes every stack as an unmapped range: a stack
// overflow faults there instead of silently corrupting an adjacent
// allocation.
const GuardPages = 1

// ExitStub is the return address pushed under a fresh process's
// initial stack pointer. It stands in for the kernel's process-exit
// trampoline: when a process's entry function returns normally instead
// of calling Terminate itself, execution "returns into" this address.
// Nothing in this module ever actually jumps there (there is no
// instruction-level execution substrate for an entry function to run
// against), so it is a layout convention rather than a functioning
// trampoline.
const ExitStub uint64 = 0xffff_ffff_dead_0000

type stackRecord struct {
	base   uint64
	size   uint64
	frames []mem.Pa_t
}

// Manager is the process-lifecycle singleton. It holds no process
// state of its own beyond stack bookkeeping; everything else is owned
// by the wired-in Scheduler.
type Manager struct {
	Sched  *sched.Scheduler
	VSpace *vm.Space
	PTab   *ptab.Space
	Phys   *mem.Allocator

	Console io.Writer

	// OnCreate/OnReap let a caller (cmd/voidframe) wire IPC-queue
	// registration to the process lifecycle without src/proc needing
	// to import src/ipc directly.
	OnCreate func(pid defs.Pid_t)
	OnReap   func(pid defs.Pid_t)

	stacks map[defs.Pid_t]stackRecord
}

// NewManager builds a Manager over the given singletons.
func NewManager(s *sched.Scheduler, vspace *vm.Space, pt *ptab.Space, phys *mem.Allocator, console io.Writer) *Manager {
	return &Manager{
		Sched:   s,
		VSpace:  vspace,
		PTab:    pt,
		Phys:    phys,
		Console: console,
		stacks:  make(map[defs.Pid_t]stackRecord),
	}
}

func (m *Manager) report(format string, args ...interface{}) {
	if m.Console == nil {
		return
	}
	fmt.Fprintf(m.Console, "proc: "+format+"\n", args...)
}

// Create admits a new process, checking callerPid's authority first
// (PRIV_SYSTEM processes may only be created by a SUPERVISOR-flagged
// caller; callerPid 0 is the kernel's own bootstrap context and
// bypasses the check).
func (m *Manager) Create(callerPid defs.Pid_t, entry uint64, priv defs.PrivLevel, flags uint32) (defs.Pid_t, error) {
	if callerPid != 0 {
		caller, _, ok := m.Sched.Lookup(callerPid)
		if !ok {
			return 0, defs.ESRCH
		}
		if priv == defs.PRIV_SYSTEM && !caller.Token.HasFlag(defs.FLAG_SUPERVISOR) {
			m.report("pid %d attempted unauthorized SYSTEM-privilege creation", callerPid)
			m.Sched.ForceTerminate(callerPid, defs.TERM_SECURITY)
			return 0, defs.EPERM
		}
		if !security.Validate(&caller.Token, callerPid) {
			m.Sched.ForceTerminate(callerPid, defs.TERM_SECURITY)
			return 0, defs.EPERM
		}
	}

	slot, pid, ok := m.Sched.Reserve()
	if !ok {
		return 0, defs.ENOSPC
	}

	rec, err := m.allocStack()
	if err != nil {
		m.Sched.Release(slot, pid)
		m.report("stack allocation failed for pid %d: %v", pid, err)
		return 0, defs.ENOMEM
	}

	stackTop := rec.base + rec.size
	retAddr := stackTop - 8
	if err := m.PTab.PokeU64(retAddr, ExitStub); err != nil {
		m.unwindStack(rec)
		m.Sched.Release(slot, pid)
		return 0, defs.EFAULT
	}

	tick := m.Sched.CurrentTick()
	token := security.Issue(pid, callerPid, priv, flags, tick)
	ctx := defs.RegFrame{
		RSP:    retAddr,
		RIP:    entry,
		CS:     defs.KernelCS,
		SS:     defs.KernelSS,
		RFLAGS: defs.DefaultFlags,
	}

	m.stacks[pid] = rec
	m.Sched.Admit(slot, pid, priv, token, ctx)

	if m.OnCreate != nil {
		m.OnCreate(pid)
	}
	return pid, nil
}

// allocStack reserves GuardPages+StackPages of kernel-space virtual
// address, leaving the guard range unmapped and backing the rest with
// freshly allocated physical frames.
func (m *Manager) allocStack() (stackRecord, error) {
	total := uint64(GuardPages+StackPages) * ptab.PageSize
	base, err := m.VSpace.Alloc(vm.RegionHigh, total)
	if err != nil {
		return stackRecord{}, err
	}

	rec := stackRecord{base: base, size: total}
	guardEnd := base + uint64(GuardPages)*ptab.PageSize
	for va := guardEnd; va < base+total; va += ptab.PageSize {
		pa, ok := m.Phys.AllocFrame()
		if !ok {
			m.unwindStack(rec)
			return stackRecord{}, fmt.Errorf("proc: out of physical memory for stack")
		}
		if err := m.PTab.Map(va, uint64(pa), ptab.PTE_W); err != nil {
			m.Phys.FreeFrame(pa)
			m.unwindStack(rec)
			return stackRecord{}, err
		}
		rec.frames = append(rec.frames, pa)
	}
	return rec, nil
}

// unwindStack releases whatever prefix of a stack allocation
// succeeded before a later page failed; no partial resource is ever
// left unaccounted for.
func (m *Manager) unwindStack(rec stackRecord) {
	for _, pa := range rec.frames {
		m.Phys.FreeFrame(pa)
	}
	guardEnd := rec.base + uint64(GuardPages)*ptab.PageSize
	m.PTab.Unmap(guardEnd, rec.size-uint64(GuardPages)*ptab.PageSize)
	m.VSpace.Free(rec.base, rec.size)
}

// Terminate ends targetPid. If callerPid != targetPid, the caller must
// be privileged enough: a SYSTEM-privilege target can only be
// terminated by another SYSTEM-privilege process, and IMMUNE/CRITICAL
// targets refuse ordinary termination entirely. The checks apply
// whatever the reason; the integrity monitor's ForceKill path bypasses
// them by calling sched.ForceTerminate directly rather than this
// method.
func (m *Manager) Terminate(callerPid, targetPid defs.Pid_t, reason defs.TerminationReason, code int) error {
	target, _, ok := m.Sched.Lookup(targetPid)
	if !ok {
		return defs.ESRCH
	}

	if callerPid != targetPid {
		caller, _, ok := m.Sched.Lookup(callerPid)
		if !ok {
			return defs.ESRCH
		}
		if target.Privilege == defs.PRIV_SYSTEM && caller.Privilege != defs.PRIV_SYSTEM {
			m.Sched.ForceTerminate(callerPid, defs.TERM_SECURITY)
			return defs.EPERM
		}
		if target.Token.HasFlag(defs.FLAG_IMMUNE) || target.Token.HasFlag(defs.FLAG_CRITICAL) {
			m.Sched.ForceTerminate(callerPid, defs.TERM_SECURITY)
			return defs.EPERM
		}
		if !security.Validate(&caller.Token, callerPid) {
			m.Sched.ForceTerminate(callerPid, defs.TERM_SECURITY)
			return defs.EPERM
		}
	}

	if !m.Sched.ForceTerminate(targetPid, reason) {
		return defs.ESRCH
	}
	return nil
}

// Reap drains up to maxK zombie processes, releasing the stack and
// IPC resources this package and its OnReap caller own, then finalizes
// each slot for reuse. It returns the number of processes reaped.
func (m *Manager) Reap(maxK int) int {
	drained := m.Sched.DrainTerminated(maxK)
	for _, d := range drained {
		if rec, ok := m.stacks[d.Pid]; ok {
			m.unwindStack(rec)
			delete(m.stacks, d.Pid)
		}
		if m.OnReap != nil {
			m.OnReap(d.Pid)
		}
		m.Sched.FinalizeSlot(d.Slot)
	}
	return len(drained)
}
