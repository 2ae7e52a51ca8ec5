package defs

// RegFrame is the packed register frame the interrupt entry/exit
// trampoline lays out on the stack. Field order is load-bearing for a
// real trampoline and must stay bit-compatible with the assembly stub;
// here it is the single shape every scheduling decision point (tick,
// yield, block) reads and rewrites.
type RegFrame struct {
	R15, R14, R13, R12, R11, R10, R9, R8 uint64
	RBP, RDI, RSI, RDX, RCX, RBX, RAX    uint64
	DS, ES, FS, GS                       uint64

	InterruptNumber, ErrorCode uint64

	RIP    uint64
	CS     uint64
	RFLAGS uint64
	RSP    uint64
	SS     uint64
}

// Kernel segment selectors and the default flags word (interrupts
// enabled) used when a freshly created process is dispatched for the
// first time.
const (
	KernelCS     uint64 = 0x08
	KernelSS     uint64 = 0x10
	DefaultFlags uint64 = 0x202
)
