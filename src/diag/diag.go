// Package diag exports a periodic diagnostic snapshot of the scheduler's
// ready-queue depths and the kernel heap's block list as a pprof
// profile: the inspection surface behind the D_STAT/D_PROF device
// numbers, in a format existing tooling can already read.
package diag

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/pprof/profile"
	"golang.org/x/sync/errgroup"

	"github.com/assembler-0/VoidFrame-sub000/src/defs"
)

// QueueDepths reports the ready-process count at each MLFQ level, index
// 0 being the highest (most real-time) priority.
type QueueDepths func() []int

// HeapStats reports the kernel heap's coarse allocator counters, the
// same shape src/kheap.Heap.Stats returns.
type HeapStats func() (allocs, frees int64, blocks int, freeBytes uint64)

// Sampler periodically renders a Profile snapshot and writes it to
// Output. It holds no scheduler or heap state of its own; both are
// supplied via callbacks, the same wiring the integrity monitor and
// frequency controller use, so this package never imports the
// scheduler or heap directly.
type Sampler struct {
	QueueDepths QueueDepths
	Heap        HeapStats
	Output      io.Writer

	Interval time.Duration

	sampleIndex int64
}

// NewSampler builds a Sampler at the given period. Callers must still
// set QueueDepths, Heap and Output.
func NewSampler(interval time.Duration) *Sampler {
	return &Sampler{Interval: interval}
}

// Run drives the sampler until ctx is cancelled, rendering one profile
// per Interval. It is meant to be launched as one member of an
// errgroup.Group alongside the scheduler's other background processes
// (the integrity monitor, the frequency controller).
func (s *Sampler) Run(ctx context.Context) error {
	if s.Interval <= 0 {
		return fmt.Errorf("diag: non-positive sampling interval")
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.sampleOnce(); err != nil {
				return err
			}
		}
	}
}

// sampleOnce renders and writes a single snapshot.
func (s *Sampler) sampleOnce() error {
	s.sampleIndex++
	p := s.render()
	if s.Output == nil {
		return nil
	}
	return p.Write(s.Output)
}

// render builds a pprof Profile whose samples are the per-level ready
// queue depths plus a synthetic "heap" location whose sample value is
// the current block count, with the alloc/free/free-byte counters
// attached as numeric labels. TimeNanos/DurationNanos are left
// zero: this kernel core has no wall-clock source to stamp them with, so
// a caller archiving these snapshots must rely on arrival order instead.
func (s *Sampler) render() *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "ready_processes", Unit: "count"},
		},
		PeriodType: &profile.ValueType{Type: "queue_depth", Unit: "count"},
		Period:     1,
		Comments: []string{
			fmt.Sprintf("voidframe diag, device %d", defs.D_PROF),
		},
	}

	queueFn := &profile.Function{ID: 1, Name: "mlfq_queue_depth"}
	heapFn := &profile.Function{ID: 2, Name: "kheap_block_list"}
	p.Function = []*profile.Function{queueFn, heapFn}

	queueLoc := &profile.Location{
		ID:   1,
		Line: []profile.Line{{Function: queueFn}},
	}
	heapLoc := &profile.Location{
		ID:   2,
		Line: []profile.Line{{Function: heapFn}},
	}
	p.Location = []*profile.Location{queueLoc, heapLoc}

	if s.QueueDepths != nil {
		for level, depth := range s.QueueDepths() {
			p.Sample = append(p.Sample, &profile.Sample{
				Location: []*profile.Location{queueLoc},
				Value:    []int64{int64(depth)},
				Label:    map[string][]string{"level": {fmt.Sprintf("%d", level)}},
			})
		}
	}

	if s.Heap != nil {
		allocs, frees, blocks, freeBytes := s.Heap()
		p.Sample = append(p.Sample, &profile.Sample{
			Location:     []*profile.Location{heapLoc},
			Value:        []int64{int64(blocks)},
			Label:        map[string][]string{"unit": {"blocks"}},
			NumLabel:     map[string][]int64{"allocs": {allocs}, "frees": {frees}, "free_bytes": {int64(freeBytes)}},
			NumUnit:      map[string][]string{"allocs": {"count"}, "frees": {"count"}, "free_bytes": {"bytes"}},
		})
	}

	return p
}

// Supervise launches the sampler plus any number of other background
// scheduled processes under one errgroup.Group, returning once ctx is
// cancelled or any of them fails.
func Supervise(ctx context.Context, tasks ...func(context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		g.Go(func() error { return task(ctx) })
	}
	return g.Wait()
}
