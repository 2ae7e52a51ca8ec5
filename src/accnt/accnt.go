// Package accnt tracks per-process CPU time, split between time spent
// running user code and time spent in the kernel on the process's
// behalf.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"
)

// Accnt_t accumulates nanoseconds of user and system time for a single
// process. All fields are safe for concurrent use.
type Accnt_t struct {
	Userns int64
	Sysns  int64
	sync.Mutex
}

// Utadd records d nanoseconds of user-mode execution.
func (a *Accnt_t) Utadd(d time.Duration) {
	atomic.AddInt64(&a.Userns, int64(d))
}

// Systadd records d nanoseconds of kernel-mode execution on the
// process's behalf.
func (a *Accnt_t) Systadd(d time.Duration) {
	atomic.AddInt64(&a.Sysns, int64(d))
}

// Finish folds any accounting held by the caller (e.g. a thread that is
// about to exit) into this account.
func (a *Accnt_t) Finish(userns, sysns int64) {
	atomic.AddInt64(&a.Userns, userns)
	atomic.AddInt64(&a.Sysns, sysns)
}

// Add merges other into a, used when reaping a child's accounting into
// its parent.
func (a *Accnt_t) Add(other *Accnt_t) {
	a.Lock()
	defer a.Unlock()
	other.Lock()
	defer other.Unlock()
	a.Userns += other.Userns
	a.Sysns += other.Sysns
}

// Fetch returns a consistent snapshot of the accumulated times.
func (a *Accnt_t) Fetch() (userns, sysns int64) {
	return atomic.LoadInt64(&a.Userns), atomic.LoadInt64(&a.Sysns)
}

// Total returns the sum of user and system time.
func (a *Accnt_t) Total() time.Duration {
	u, s := a.Fetch()
	return time.Duration(u + s)
}
