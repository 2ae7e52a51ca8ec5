// Package ipc implements the per-process bounded message queue:
// fixed-capacity ring buffers of typed, prioritized messages, with
// FIFO delivery per sender and a BLOCKED->READY wake hook into the
// scheduler.
package ipc

import (
	"fmt"
	"sync"

	"github.com/assembler-0/VoidFrame-sub000/src/defs"
	"github.com/assembler-0/VoidFrame-sub000/src/util"
)

// MessageType enumerates the kinds of message a queue carries.
type MessageType int

const (
	Data MessageType = iota
	Notification
	Request
	Response
	Signal
	Broadcast
	Urgent
)

// Priority orders messages for delivery scheduling purposes (tracked
// via the queue's priority bitmap; delivery itself stays FIFO within a
// single sender).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// MaxPayload bounds a message's inline payload.
const MaxPayload = 512

// Capacity is the number of messages one process's queue can hold
// before Send starts dropping.
const Capacity = 32

// Message is one IPC message. Payload is used up to PayloadSize bytes;
// Value carries small structured request/response traffic without
// needing a separate wire format (this is an in-kernel transfer, not a
// marshaled one).
type Message struct {
	SenderPid   defs.Pid_t
	SequenceID  uint64
	Type        MessageType
	Priority    Priority
	Timestamp   uint64
	PayloadSize int
	Payload     [MaxPayload]byte
	Value       uint64
}

// Queue is one process's inbound message queue.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf        [Capacity]Message
	head, tail int
	count      int

	dropped        uint64
	priorityBitmap uint32

	nextSeq uint64
}

func newQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

var (
	errNoProcess = fmt.Errorf("ipc: no such process")
	errQueueFull = fmt.Errorf("ipc: queue full")
)

// Manager owns every registered process's queue plus the scheduler
// hooks needed to implement blocking receive without importing
// src/sched directly into the message-queue data structures.
type Manager struct {
	mu     sync.RWMutex
	queues map[defs.Pid_t]*Queue

	// Wake flips a BLOCKED receiver to READY (sched.Scheduler.WakeIfBlocked).
	Wake func(pid defs.Pid_t) bool
	// BeforeBlock is called with pid just before Receive/ReceiveType
	// waits on an empty queue; cmd/voidframe wires it to
	// sched.Scheduler.Block when pid is the running process.
	BeforeBlock func(pid defs.Pid_t)
}

// NewManager builds an empty Manager. Wake and BeforeBlock should be
// set by the caller before any process registers.
func NewManager() *Manager {
	return &Manager{queues: make(map[defs.Pid_t]*Queue)}
}

// Register creates pid's queue. Called once, at process creation.
func (m *Manager) Register(pid defs.Pid_t) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[pid] = newQueue()
}

// Unregister removes pid's queue entirely, called during reap.
func (m *Manager) Unregister(pid defs.Pid_t) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queues, pid)
}

func (m *Manager) queue(pid defs.Pid_t) (*Queue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queues[pid]
	return q, ok
}

// Send enqueues msg for targetPid. A full queue increments the
// dropped counter and reports errQueueFull; senders never block.
func (m *Manager) Send(targetPid defs.Pid_t, msg Message) error {
	q, ok := m.queue(targetPid)
	if !ok {
		return errNoProcess
	}

	q.mu.Lock()
	if q.count == Capacity {
		q.dropped++
		q.mu.Unlock()
		return errQueueFull
	}
	msg.SequenceID = q.nextSeq
	q.nextSeq++
	q.buf[q.tail] = msg
	q.tail = util.RingAdvance(q.tail, 1, Capacity)
	q.count++
	q.priorityBitmap |= 1 << uint(msg.Priority)
	q.cond.Signal()
	q.mu.Unlock()

	if m.Wake != nil {
		m.Wake(targetPid)
	}
	return nil
}

// Receive blocks the calling goroutine until pid's queue has a
// message, then returns the oldest one.
func (m *Manager) Receive(pid defs.Pid_t) (Message, error) {
	q, ok := m.queue(pid)
	if !ok {
		return Message{}, errNoProcess
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 && m.BeforeBlock != nil {
		m.BeforeBlock(pid)
	}
	for q.count == 0 {
		q.cond.Wait()
	}
	msg := q.buf[q.head]
	q.head = util.RingAdvance(q.head, 1, Capacity)
	q.count--
	if q.count == 0 {
		q.priorityBitmap = 0
	}
	return msg, nil
}

// ReceiveType blocks until a message of the given type is available,
// extracting it out of order if necessary and shifting later entries
// forward to keep the ring contiguous. Ordering between two messages
// of the SAME type from the same sender is preserved.
func (m *Manager) ReceiveType(pid defs.Pid_t, want MessageType) (Message, error) {
	q, ok := m.queue(pid)
	if !ok {
		return Message{}, errNoProcess
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if found := q.findType(want); found >= 0 {
			return q.extractAt(found), nil
		}
		if m.BeforeBlock != nil {
			m.BeforeBlock(pid)
		}
		q.cond.Wait()
	}
}

func (q *Queue) findType(want MessageType) int {
	for i := 0; i < q.count; i++ {
		pos := util.RingAdvance(q.head, i, Capacity)
		if q.buf[pos].Type == want {
			return i
		}
	}
	return -1
}

// extractAt removes the logical i-th queued message (0 == head),
// shifting everything after it back by one slot.
func (q *Queue) extractAt(i int) Message {
	pos := util.RingAdvance(q.head, i, Capacity)
	msg := q.buf[pos]
	for j := i; j < q.count-1; j++ {
		from := util.RingAdvance(q.head, j+1, Capacity)
		to := util.RingAdvance(q.head, j, Capacity)
		q.buf[to] = q.buf[from]
	}
	q.count--
	q.tail = util.RingAdvance(q.head, q.count, Capacity)
	if q.count == 0 {
		q.priorityBitmap = 0
	}
	return msg
}

// HasMessages reports whether pid has at least one queued message.
func (m *Manager) HasMessages(pid defs.Pid_t) bool {
	q, ok := m.queue(pid)
	if !ok {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count > 0
}

// QueueCount returns the number of messages currently queued for pid.
func (m *Manager) QueueCount(pid defs.Pid_t) int {
	q, ok := m.queue(pid)
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Dropped returns the number of messages dropped for pid due to a
// full queue.
func (m *Manager) Dropped(pid defs.Pid_t) uint64 {
	q, ok := m.queue(pid)
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// FlushQueue discards every pending message for pid without
// delivering them, used when a process is force-terminated.
func (m *Manager) FlushQueue(pid defs.Pid_t) {
	q, ok := m.queue(pid)
	if !ok {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.head, q.tail, q.count, q.priorityBitmap = 0, 0, 0, 0
}
