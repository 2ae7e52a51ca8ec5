// Package stats provides lightweight, togglable counters for the kernel
// core's hot paths. Unlike a compile-time #ifdef, the Enabled flag is a
// runtime switch: counters are always safe to bump, they simply no-op
// when disabled so the hot path pays only a branch.
package stats

import (
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
)

// Enabled turns instrumentation on or off for every Counter_t and
// Cycles_t in the process. Flip it from diagnostics tooling, not from
// steady-state kernel code.
var Enabled atomic.Bool

// Counter_t is a monotonically increasing event counter.
type Counter_t struct {
	n atomic.Int64
}

// Inc increments the counter by one when instrumentation is enabled.
func (c *Counter_t) Inc() {
	if Enabled.Load() {
		c.n.Add(1)
	}
}

// Add increments the counter by d when instrumentation is enabled.
func (c *Counter_t) Add(d int64) {
	if Enabled.Load() {
		c.n.Add(d)
	}
}

// Get returns the current value.
func (c *Counter_t) Get() int64 {
	return c.n.Load()
}

// Cycles_t accumulates a duration-like quantity, e.g. ticks spent in a
// given scheduler state.
type Cycles_t struct {
	n atomic.Int64
}

// Add accumulates d when instrumentation is enabled.
func (c *Cycles_t) Add(d int64) {
	if Enabled.Load() {
		c.n.Add(d)
	}
}

// Get returns the accumulated value.
func (c *Cycles_t) Get() int64 {
	return c.n.Load()
}

// Dump reflects over st's fields and renders every Counter_t and
// Cycles_t it finds as "name: value" lines. st must be a pointer to a
// struct.
func Dump(st interface{}) string {
	v := reflect.ValueOf(st)
	if v.Kind() != reflect.Ptr {
		panic("Dump requires a pointer")
	}
	v = v.Elem()
	t := v.Type()

	var sb strings.Builder
	for i := 0; i < t.NumField(); i++ {
		f := v.Field(i)
		name := t.Field(i).Name
		switch c := f.Addr().Interface().(type) {
		case *Counter_t:
			fmt.Fprintf(&sb, "%s: %d\n", name, c.Get())
		case *Cycles_t:
			fmt.Fprintf(&sb, "%s: %d\n", name, c.Get())
		}
	}
	return sb.String()
}
