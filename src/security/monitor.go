package security

import (
	"fmt"
	"io"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/assembler-0/VoidFrame-sub000/src/defs"
)

// Default periods (in timer ticks) for the integrity monitor's
// checks.
const (
	DefaultTokenCheckInterval     = 50
	DefaultPrivilegeCheckInterval = 25
	DefaultInvariantCheckInterval = 200
	DefaultLockdownThreshold      = 50
	DefaultPanicThreshold         = 200
	DefaultTokenScanWindow        = 16
	DefaultPrivilegeScanWindow    = 8
	// DefaultDecayInterval/DefaultDecayAmount let an isolated spike
	// settle back down instead of leaving the system one violation away
	// from a repeat lockdown forever.
	DefaultDecayInterval = 200
	DefaultDecayAmount   = 1
	// postLockdownFloor is what ThreatLevel is reduced to (not zeroed)
	// immediately after a lockdown sweep, so a system that just survived
	// one stays flagged as recently compromised.
	postLockdownFloor = 20
)

// ProcessSnapshot is a point-in-time, read-only view of one process the
// monitor inspects. Supplying these via a callback rather than importing
// the scheduler/process package directly avoids a sched<->security
// import cycle (sched depends on security for Token, not the reverse).
type ProcessSnapshot struct {
	Pid       defs.Pid_t
	Privilege defs.PrivLevel
	Token     Token
	State     defs.ProcessState
}

// Monitor is the background integrity auditor. It holds no process-table
// state of its own; every scan is mediated through the callbacks the
// owner wires up at construction.
type Monitor struct {
	// TokenScanWindow processes are revalidated by Scan every
	// TokenCheckInterval ticks (excludes the monitor's own pid).
	Scan func(window int) []ProcessSnapshot
	// ForceKill terminates pid bypassing ordinary permission checks,
	// regardless of IMMUNE/CRITICAL flags.
	ForceKill func(pid defs.Pid_t, reason string)
	// CheckInvariants reports a structural problem with the scheduler,
	// or nil if everything checks out.
	CheckInvariants func() error
	// SelfPid is excluded from the token-revalidation scan.
	SelfPid defs.Pid_t

	TokenCheckInterval     uint64
	PrivilegeCheckInterval uint64
	InvariantCheckInterval uint64
	DecayInterval          uint64
	TokenScanWindow        int
	PrivilegeScanWindow    int
	LockdownThreshold      uint32
	PanicThreshold         uint32
	DecayAmount            uint32

	ThreatLevel            uint32
	SecurityViolationCount uint64

	Console io.Writer

	printer *message.Printer

	lastTokenCheck     uint64
	lastPrivilegeCheck uint64
	lastInvariantCheck uint64
	lastDecay          uint64
}

// NewMonitor builds a Monitor with the package's default intervals and
// thresholds. Callers must still set Scan/ForceKill/CheckInvariants/SelfPid.
func NewMonitor(console io.Writer) *Monitor {
	return &Monitor{
		TokenCheckInterval:     DefaultTokenCheckInterval,
		PrivilegeCheckInterval: DefaultPrivilegeCheckInterval,
		InvariantCheckInterval: DefaultInvariantCheckInterval,
		DecayInterval:          DefaultDecayInterval,
		TokenScanWindow:        DefaultTokenScanWindow,
		PrivilegeScanWindow:    DefaultPrivilegeScanWindow,
		LockdownThreshold:      DefaultLockdownThreshold,
		PanicThreshold:         DefaultPanicThreshold,
		DecayAmount:            DefaultDecayAmount,
		Console:                console,
		printer:                message.NewPrinter(language.AmericanEnglish),
	}
}

// Tick runs whichever periodic checks are due at currentTick. It must be
// invoked once per scheduler tick from the monitor's own scheduled
// process.
func (m *Monitor) Tick(currentTick uint64) {
	if currentTick-m.lastTokenCheck >= m.TokenCheckInterval {
		m.lastTokenCheck = currentTick
		m.checkTokens()
	}
	if currentTick-m.lastPrivilegeCheck >= m.PrivilegeCheckInterval {
		m.lastPrivilegeCheck = currentTick
		m.checkPrivilegeEscalation()
	}
	if currentTick-m.lastInvariantCheck >= m.InvariantCheckInterval {
		m.lastInvariantCheck = currentTick
		m.checkSchedulerInvariants()
	}
	if currentTick-m.lastDecay >= m.DecayInterval {
		m.lastDecay = currentTick
		m.decay()
	}
}

// decay lets an isolated spike settle back down over time instead of
// leaving the system permanently one violation away from a repeat
// lockdown.
func (m *Monitor) decay() {
	if m.ThreatLevel == 0 {
		return
	}
	if m.ThreatLevel <= m.DecayAmount {
		m.ThreatLevel = 0
		return
	}
	m.ThreatLevel -= m.DecayAmount
}

func (m *Monitor) checkTokens() {
	if m.Scan == nil {
		return
	}
	for _, p := range m.Scan(m.TokenScanWindow) {
		if p.Pid == m.SelfPid {
			continue
		}
		if p.State != defs.PROC_READY && p.State != defs.PROC_RUNNING {
			continue
		}
		if !Validate(&p.Token, p.Pid) {
			m.report("token corruption detected, pid %d", p.Pid)
			m.SecurityViolationCount++
			m.escalate(10)
			m.ForceKill(p.Pid, "token corruption")
		}
	}
}

func (m *Monitor) checkPrivilegeEscalation() {
	if m.Scan == nil {
		return
	}
	for _, p := range m.Scan(m.PrivilegeScanWindow) {
		if p.Pid == m.SelfPid {
			continue
		}
		if p.Privilege == defs.PRIV_SYSTEM && p.Token.Flags&(defs.FLAG_SUPERVISOR|defs.FLAG_CRITICAL) == 0 {
			m.report("unauthorized privilege escalation, pid %d", p.Pid)
			m.SecurityViolationCount++
			m.escalate(20)
			m.ForceKill(p.Pid, "unauthorized privilege escalation")
		}
	}
}

func (m *Monitor) checkSchedulerInvariants() {
	if m.CheckInvariants == nil {
		return
	}
	if err := m.CheckInvariants(); err != nil {
		m.report("scheduler invariant violated: %v", err)
		m.escalate(15)
	}
}

// escalate raises the threat level by delta and triggers lockdown/panic
// once a threshold is crossed.
func (m *Monitor) escalate(delta uint32) {
	m.ThreatLevel += delta
	if m.ThreatLevel >= m.PanicThreshold {
		panic(fmt.Sprintf("security: threat level %d exceeds panic threshold %d", m.ThreatLevel, m.PanicThreshold))
	}
	if m.ThreatLevel >= m.LockdownThreshold {
		m.lockdown()
	}
}

// lockdown force-kills every process that is neither CRITICAL nor
// IMMUNE. It enumerates processes through Scan with a window large
// enough to cover the whole table.
func (m *Monitor) lockdown() {
	if m.Scan == nil || m.ForceKill == nil {
		return
	}
	for _, p := range m.Scan(1 << 20) {
		if p.Pid == m.SelfPid {
			continue
		}
		if p.Token.Flags&(defs.FLAG_CRITICAL|defs.FLAG_IMMUNE) != 0 {
			continue
		}
		m.ForceKill(p.Pid, "selective lockdown")
	}
	if m.ThreatLevel > postLockdownFloor {
		m.ThreatLevel = postLockdownFloor
	}
}

// report renders a locale-formatted line (threat-level and violation
// counters read more naturally with thousands separators once a
// system has been up a while) to the console.
func (m *Monitor) report(format string, args ...interface{}) {
	if m.Console == nil {
		return
	}
	p := m.printer
	if p == nil {
		p = message.NewPrinter(language.AmericanEnglish)
	}
	p.Fprintf(m.Console, "security: "+format+"\n", args...)
}
