// Package sched implements the MLFQ preemptive scheduler: per-priority
// ready queues, classify-on-enqueue, fairness-boost and aging passes, a
// tick handler that runs the full select/dispatch decision, and the
// process-table mechanics (slot/PID allocation, the termination queue)
// that the process-lifecycle package builds its policy on top of.
package sched

import (
	"fmt"
	"io"
	"sync"

	"github.com/assembler-0/VoidFrame-sub000/src/accnt"
	"github.com/assembler-0/VoidFrame-sub000/src/defs"
	"github.com/assembler-0/VoidFrame-sub000/src/hashtable"
	"github.com/assembler-0/VoidFrame-sub000/src/security"
	"github.com/assembler-0/VoidFrame-sub000/src/stats"
	"github.com/assembler-0/VoidFrame-sub000/src/util"
)

// NumLevels is the number of MLFQ priority levels. Levels below
// RTThreshold are real-time and always preferred when non-empty.
const (
	NumLevels   = 8
	RTThreshold = 2
)

// MaxProcesses bounds the process table; slot 0 is permanently the
// idle process.
const MaxProcesses = 256

// CPUBurstHistory is the rolling window of recent burst lengths kept
// per process; its mean drives the dispatch-time quantum penalty.
const CPUBurstHistory = 8

// Quantum curve: RT levels get QuantumBase shifted up toward level 0,
// capped at QuantumMax; regular levels decay geometrically from
// QuantumBase down to QuantumMin.
const (
	QuantumBase       = 8
	QuantumMax        = 64
	QuantumMin        = 2
	QuantumDecayShift = 1
)

// Dispatch-time quantum adjustment: an I/O-heavy process gets a longer
// slice, a process whose average burst dwarfs the base quantum gets a
// shorter one.
const (
	IOQuantumBoostFactor     = 3
	IOQuantumBoostDivisor    = 2
	CPUIntensiveMultiplier   = 2
	CPUQuantumPenaltyFactor  = 3
	CPUQuantumPenaltyDivisor = 4
)

// Aging/fairness tunables.
const (
	FairnessBoostInterval  = 500 // ticks between full priority-boost sweeps
	AgingCheckInterval     = 100 // ticks between aging passes
	StarvationTicks        = 300 // wait time past which a queued process is aged up regardless of load
	AgingAccelerationUnder = 32  // system load (total queued) above which aging is more aggressive
	FairnessWaitThreshold  = 150 // wait time past which fairnessBoostLocked promotes a READY process
)

// LoadBalanceThreshold: a regular level with more than this many
// waiting processes is skipped in favor of another non-empty regular
// level, to avoid constant queue hopping between nearly-empty levels.
const LoadBalanceThreshold = 4

// Preemption tunables.
const (
	PreemptionMinPriorityGap = 1
	CriticalPreemptionLevel  = 0
)

// CleanupMaxPerCall bounds how many zombies a single reap pass drains.
const CleanupMaxPerCall = 16

// process is one process-table slot. Exported fields are read by
// src/proc and src/security through Lookup/Snapshot; scheduling-internal
// bookkeeping (node index, queue level) stays unexported.
type process struct {
	valid bool

	Pid       defs.Pid_t
	Privilege defs.PrivLevel
	Token     security.Token

	state atomicState

	Priority     int
	BasePriority int

	CreationTick      uint64
	LastScheduledTick uint64

	Accnt           accnt.Accnt_t
	IOOps           uint32
	PreemptionCount uint32
	BurstHistory    [CPUBurstHistory]uint32
	burstCursor     int

	Context defs.RegFrame

	TermReason defs.TerminationReason
	ExitCode   int

	node int // index into Scheduler.nodes, nilNode if not queued
}

const nilNode = -1

// qnode is one ready-queue link, drawn from a fixed-size arena (the
// same "arena of fixed-index cells" shape src/vm uses for free-block
// nodes) so enqueue/dequeue never allocates.
type qnode struct {
	slot       int
	next, prev int
}

// queue is one priority level's doubly linked ready list plus its own
// quantum curve and load-balancing counters.
type queue struct {
	head, tail int
	count      int
	quantum    uint32
	totalWait  uint64
}

// Scheduler is the MLFQ scheduler singleton: one process table, one
// set of ready queues, and the termination queue processes are pushed
// onto when they die.
type Scheduler struct {
	mu sync.Mutex

	procs [MaxProcesses]process

	activeWords [(MaxProcesses + 63) / 64]uint64
	pidWords    [(MaxProcesses + 63) / 64]uint64

	nodes       []qnode
	nodeFree    []int
	queues      [NumLevels]queue
	levelActive [(NumLevels + 63) / 64]uint64 // bitmap of non-empty levels (single word suffices; sized for symmetry)

	currentSlot      int
	quantumRemaining uint32
	quantumGranted   uint32 // what dispatch handed out, after boost/penalty
	scheduleStart    uint64 // tick at entry to the current Tick call
	tick             uint64
	lastBoostTick    uint64
	lastAgingTick    uint64
	totalProcesses   int
	csOverheadEMA    uint32
	contextSwitches  uint64

	termQueue []int // zombie slot indices awaiting Reap

	pidToSlot *hashtable.Table_t[uint64, int]

	Stats SchedStats

	Console io.Writer
}

// SchedStats are togglable instrumentation counters for the
// scheduler's hot paths; free when stats.Enabled is off.
type SchedStats struct {
	Dispatches  stats.Counter_t
	Preemptions stats.Counter_t
	Boosts      stats.Counter_t
	Agings      stats.Counter_t
	Preflights  stats.Counter_t
}

// DumpStats renders the instrumentation counters as text.
func (s *Scheduler) DumpStats() string {
	return stats.Dump(&s.Stats)
}

// NewScheduler builds a Scheduler with the idle process installed at
// slot 0, pid 0, holding the FLAG_CORE security bits.
func NewScheduler(console io.Writer) *Scheduler {
	s := &Scheduler{
		pidToSlot:     hashtable.Mk[uint64, int](MaxProcesses*2 + 1),
		Console:       console,
		csOverheadEMA: 5, // initial estimate, refined by the dispatch EMA
	}
	for l := 0; l < NumLevels; l++ {
		s.queues[l] = queue{head: nilNode, tail: nilNode, quantum: quantumForLevel(l)}
	}
	s.markSlotUsed(0)
	s.markPidUsed(0)
	idle := &s.procs[0]
	idle.valid = true
	idle.Pid = 0
	idle.Privilege = defs.PRIV_SYSTEM
	idle.Token = security.Issue(0, 0, defs.PRIV_SYSTEM, defs.FLAG_IMMUNE|defs.FLAG_CRITICAL|defs.FLAG_SUPERVISOR, 0)
	idle.node = nilNode
	idle.state.store(defs.PROC_RUNNING)
	s.pidToSlot.Set(0, 0)
	s.currentSlot = 0
	return s
}

// quantumForLevel implements the quantum curve: RT levels receive a
// larger slice the closer they sit to level 0, regular levels decay
// geometrically toward QuantumMin.
func quantumForLevel(level int) uint32 {
	if level < RTThreshold {
		return util.Min[uint32](QuantumBase<<uint(RTThreshold-level), QuantumMax)
	}
	return util.Max[uint32](QuantumBase>>uint((level-RTThreshold)*QuantumDecayShift), QuantumMin)
}

func (s *Scheduler) report(format string, args ...interface{}) {
	if s.Console == nil {
		return
	}
	fmt.Fprintf(s.Console, "sched: "+format+"\n", args...)
}

func wordBit(slot int) (int, uint64) { return slot / 64, uint64(1) << uint(slot%64) }

func (s *Scheduler) markSlotUsed(slot int) {
	w, b := wordBit(slot)
	s.activeWords[w] |= b
}

func (s *Scheduler) clearSlotUsed(slot int) {
	w, b := wordBit(slot)
	s.activeWords[w] &^= b
}

func (s *Scheduler) slotUsed(slot int) bool {
	w, b := wordBit(slot)
	return s.activeWords[w]&b != 0
}

func (s *Scheduler) markPidUsed(pid defs.Pid_t) {
	w, b := wordBit(int(pid))
	s.pidWords[w] |= b
}

func (s *Scheduler) clearPidUsed(pid defs.Pid_t) {
	w, b := wordBit(int(pid))
	s.pidWords[w] &^= b
}

func (s *Scheduler) pidUsed(pid defs.Pid_t) bool {
	w, b := wordBit(int(pid))
	return s.pidWords[w]&b != 0
}

// activeCount returns the number of occupied slots, idle included.
func (s *Scheduler) activeCount() int {
	n := 0
	for _, w := range s.activeWords {
		n += popcount64(w)
	}
	return n
}

func popcount64(w uint64) int {
	n := 0
	for w != 0 {
		w &= w - 1
		n++
	}
	return n
}
