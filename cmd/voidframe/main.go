// Command voidframe boots the kernel-core singletons and runs the
// background scheduled processes that keep them advancing: the MLFQ
// scheduler's own tick loop, the security integrity monitor, the
// dynamic-frequency controller and the diagnostics sampler.
//
// Boot order follows the dependency graph: physical memory, then page
// tables, then virtual memory, then the kernel heap, then the
// scheduler and process manager, then the subsystems (security,
// freqctl, ipc, diag) that ride on top of it.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/assembler-0/VoidFrame-sub000/src/defs"
	"github.com/assembler-0/VoidFrame-sub000/src/diag"
	"github.com/assembler-0/VoidFrame-sub000/src/freqctl"
	"github.com/assembler-0/VoidFrame-sub000/src/ipc"
	"github.com/assembler-0/VoidFrame-sub000/src/kheap"
	"github.com/assembler-0/VoidFrame-sub000/src/mem"
	"github.com/assembler-0/VoidFrame-sub000/src/proc"
	"github.com/assembler-0/VoidFrame-sub000/src/ptab"
	"github.com/assembler-0/VoidFrame-sub000/src/sched"
	"github.com/assembler-0/VoidFrame-sub000/src/security"
	"github.com/assembler-0/VoidFrame-sub000/src/stats"
	"github.com/assembler-0/VoidFrame-sub000/src/sysapi"
	"github.com/assembler-0/VoidFrame-sub000/src/vm"
)

func main() {
	var (
		physMemMiB   = flag.Int("phys-mem-mib", 64, "simulated physical memory size in MiB")
		heapMiB      = flag.Int("heap-mib", 8, "kernel heap size in MiB")
		tickInterval = flag.Duration("tick-interval", time.Millisecond, "scheduler timer-interrupt period")
		diagInterval = flag.Duration("diag-interval", time.Second, "diagnostics snapshot period")
		withStats    = flag.Bool("stats", false, "enable scheduler instrumentation counters")
	)
	flag.Parse()

	stats.Enabled.Store(*withStats)
	if err := run(*physMemMiB, *heapMiB, *tickInterval, *diagInterval); err != nil {
		log.Fatal(err)
	}
}

func run(physMemMiB, heapMiB int, tickInterval, diagInterval time.Duration) error {
	// The buddy allocator manages a bounded window at the base of each
	// canonical half; one arena node covers at most 1 GiB, so a 1 TiB
	// window costs 1024 seed nodes.
	const (
		windowSize = 1 << 40
		lowStart   = 0x1000
		lowEnd     = lowStart + windowSize
		highStart  = 0xffff_8000_0000_0000
		highEnd    = highStart + windowSize
	)

	physSize := uint64(physMemMiB) << 20
	ram := make([]byte, physSize)
	phys := mem.NewAllocator(0, physSize, 0, 1<<20) // first MiB reserved for boot structures

	ptSpace, err := ptab.NewSpace(phys, ram, nil)
	if err != nil {
		return err
	}

	vspace := vm.NewSpace(4096, lowStart, lowEnd, highStart, highEnd)

	heap, err := kheap.NewHeap(vspace, vm.RegionHigh, uint64(heapMiB)<<20, kheap.ValidationHigh)
	if err != nil {
		return err
	}

	schedConsole := os.Stdout
	s := sched.NewScheduler(schedConsole)
	procs := proc.NewManager(s, vspace, ptSpace, phys, schedConsole)
	ipcMgr := ipc.NewManager()

	procs.OnCreate = func(pid defs.Pid_t) { ipcMgr.Register(pid) }
	procs.OnReap = func(pid defs.Pid_t) { ipcMgr.Unregister(pid) }
	ipcMgr.Wake = s.WakeIfBlocked
	ipcMgr.BeforeBlock = func(pid defs.Pid_t) {
		if pid == s.CurrentPid() {
			var regs defs.RegFrame
			s.Block(&regs)
		}
	}

	monitorPid, err := procs.Create(0, 0, defs.PRIV_SYSTEM, defs.FLAG_SUPERVISOR|defs.FLAG_CRITICAL)
	if err != nil {
		return err
	}
	monitor := security.NewMonitor(schedConsole)
	monitor.Scan = s.Snapshot
	monitor.ForceKill = func(pid defs.Pid_t, reason string) { s.ForceTerminate(pid, defs.TERM_SECURITY) }
	monitor.CheckInvariants = s.CheckInvariants
	monitor.SelfPid = monitorPid

	freq := freqctl.NewController(nil, func() freqctl.Sample {
		active, ready, cs, rt, total := s.Metrics()
		return freqctl.Sample{
			ActiveProcesses: active,
			ReadyProcesses:  ready,
			ContextSwitches: cs,
			RTQueueDepth:    rt,
			TotalQueueDepth: total,
		}
	}, schedConsole)

	sampler := diag.NewSampler(diagInterval)
	sampler.QueueDepths = s.QueueDepths
	sampler.Heap = heap.Stats
	sampler.Output = io.Discard

	_ = sysapi.NewDispatcher(s, procs, ipcMgr, ptSpace, schedConsole) // vector-0x80 surface; wired per trap by whatever installs the IDT

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return tickLoop(ctx, s, monitor, freq, procs, tickInterval) })
	g.Go(func() error { return sampler.Run(ctx) })

	err = g.Wait()
	if stats.Enabled.Load() {
		os.Stdout.WriteString(s.DumpStats())
	}
	return err
}

// tickLoop advances the scheduler once per tickInterval and drives the
// periodic subsystems (integrity monitor, frequency controller, zombie
// reaper) off the same tick counter, the way a timer-interrupt handler
// chain would.
func tickLoop(ctx context.Context, s *sched.Scheduler, monitor *security.Monitor, freq *freqctl.Controller, procs *proc.Manager, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// The controller's PIT hook reprograms this loop's ticker: the
	// baseline frequency keeps the configured interval, other targets
	// scale the period proportionally. Safe without a lock because
	// freq.Tick (the only caller) runs on this goroutine.
	freq.PitSetFrequency = func(mhz uint16) {
		if mhz == 0 {
			return
		}
		ticker.Reset(time.Duration(float64(interval) * freqctl.BaselineFreqMHz / float64(mhz)))
	}

	var regs defs.RegFrame
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(&regs)
			tick := s.CurrentTick()
			monitor.Tick(tick)
			freq.Tick(tick)
			procs.Reap(sched.CleanupMaxPerCall)
		}
	}
}
