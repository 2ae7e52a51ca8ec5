package sched

import (
	"sync/atomic"

	"github.com/assembler-0/VoidFrame-sub000/src/defs"
)

// atomicState wraps an atomic.Int32 to give compare-and-swap semantics
// over defs.ProcessState. Every transition out of RUNNING or into
// DYING goes through cas so two killers cannot both claim a process.
type atomicState struct {
	v atomic.Int32
}

func (a *atomicState) load() defs.ProcessState {
	return defs.ProcessState(a.v.Load())
}

func (a *atomicState) store(s defs.ProcessState) {
	a.v.Store(int32(s))
}

func (a *atomicState) cas(old, new_ defs.ProcessState) bool {
	return a.v.CompareAndSwap(int32(old), int32(new_))
}
