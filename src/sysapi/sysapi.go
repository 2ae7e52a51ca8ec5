// Package sysapi implements the vector-0x80 system-call surface:
// exit/write/read/getpid/ipc_send/ipc_recv, dispatched from the
// register frame a trap handler would hand the kernel. The convention
// is a numbered dispatch over register-frame arguments (number plus
// three arguments, result in RAX), one function per call.
package sysapi

import (
	"io"

	"github.com/assembler-0/VoidFrame-sub000/src/defs"
	"github.com/assembler-0/VoidFrame-sub000/src/ipc"
	"github.com/assembler-0/VoidFrame-sub000/src/proc"
	"github.com/assembler-0/VoidFrame-sub000/src/ptab"
	"github.com/assembler-0/VoidFrame-sub000/src/sched"
	"github.com/assembler-0/VoidFrame-sub000/src/util"
)

// Syscall numbers.
const (
	SysExit    = 1
	SysWrite   = 2
	SysRead    = 3
	SysGetpid  = 4
	SysIPCSend = 5
	SysIPCRecv = 6
)

// errU64 reinterprets a negative Err_t as the uint64 RAX would carry it.
func errU64(e defs.Err_t) uint64 {
	return uint64(int64(e))
}

// MaxSyscallBuffer bounds a single write's byte count.
const MaxSyscallBuffer = 1024

// Dispatcher wires the syscall surface to the scheduler, process
// manager and IPC manager singletons. Unlike src/security.Monitor and
// src/freqctl.Controller, which take callbacks, it depends on concrete
// types: it is the outermost caller-facing layer and has no cycle to
// avoid.
type Dispatcher struct {
	Sched *sched.Scheduler
	Procs *proc.Manager
	IPC   *ipc.Manager
	PTab  *ptab.Space

	Console io.Writer
}

// NewDispatcher builds a Dispatcher over the given singletons.
func NewDispatcher(s *sched.Scheduler, p *proc.Manager, im *ipc.Manager, pt *ptab.Space, console io.Writer) *Dispatcher {
	return &Dispatcher{Sched: s, Procs: p, IPC: im, PTab: pt, Console: console}
}

// Dispatch services one trap into vector 0x80. regs.RDI carries the
// syscall number, RSI/RDX/RCX the three arguments; the result (or a
// negative defs.Err_t) is written back into regs.RAX.
func (d *Dispatcher) Dispatch(callerPid defs.Pid_t, regs *defs.RegFrame) {
	number := regs.RDI
	arg1, arg2, arg3 := regs.RSI, regs.RDX, regs.RCX

	var result uint64
	switch number {
	case SysExit:
		d.sysExit(callerPid, int(int64(arg1)))
		// exit never returns to the caller's saved context; Terminate
		// plus the next Tick reschedule away from this process.
		return
	case SysWrite:
		result = d.sysWrite(arg1, arg2, arg3)
	case SysRead:
		result = 0 // read is a stub until a console input source exists
	case SysGetpid:
		result = uint64(d.Sched.CurrentPid())
	case SysIPCSend:
		result = d.sysIPCSend(callerPid, defs.Pid_t(arg1), arg2)
	case SysIPCRecv:
		result = d.sysIPCRecv(callerPid, arg1)
	default:
		result = errU64(defs.EINVAL)
	}
	regs.RAX = result
}

// sysExit terminates the calling process with exit code code.
func (d *Dispatcher) sysExit(pid defs.Pid_t, code int) {
	d.Procs.Terminate(pid, pid, defs.TERM_NORMAL, code)
}

// sysWrite implements fd=1 console output: copies at most
// MaxSyscallBuffer bytes out of the caller's mapped memory at vaddr and
// writes them to the console, NUL-terminating at the first zero byte
// the way a C string write would.
func (d *Dispatcher) sysWrite(fd, vaddr, count uint64) uint64 {
	if fd != 1 {
		return errU64(defs.EINVAL)
	}
	count = util.Min[uint64](count, MaxSyscallBuffer)
	buf := make([]byte, 0, count)
	for uint64(len(buf)) < count {
		va := vaddr + uint64(len(buf))
		n := util.Min[uint64](count-uint64(len(buf)), ptab.PageSize-va%ptab.PageSize)
		chunk, err := d.PTab.ReadBytes(va, int(n))
		if err != nil {
			return errU64(defs.EFAULT)
		}
		buf = append(buf, chunk...)
	}
	for i, b := range buf {
		if b == 0 {
			buf = buf[:i]
			break
		}
	}
	if d.Console != nil {
		d.Console.Write(buf)
	}
	return uint64(len(buf))
}

// sysIPCSend forwards to the IPC manager. The trap ABI passes a
// message pointer in arg2; this module has no user address space
// distinct from the sender's own process state, so the argument is
// carried as the message Value and the caller's pid is recorded as
// SenderPid (this dispatcher is the trap-numbering layer, not a full
// user-space runtime).
func (d *Dispatcher) sysIPCSend(callerPid, targetPid defs.Pid_t, msgValue uint64) uint64 {
	msg := ipc.Message{SenderPid: callerPid, Type: ipc.Data, Value: msgValue}
	if err := d.IPC.Send(targetPid, msg); err != nil {
		return errU64(defs.ENOENT)
	}
	return 0
}

// sysIPCRecv forwards to src/ipc.Receive, returning the received
// message's Value in RAX (the narrow projection of "copy into the
// caller's buffer" this dispatcher can express without a real user
// address space to copy into).
func (d *Dispatcher) sysIPCRecv(callerPid defs.Pid_t, _ uint64) uint64 {
	msg, err := d.IPC.Receive(callerPid)
	if err != nil {
		return errU64(defs.ESRCH)
	}
	return msg.Value
}
