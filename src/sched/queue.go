package sched

import "github.com/assembler-0/VoidFrame-sub000/src/defs"

func (s *Scheduler) newQNode(slot int) int {
	var idx int
	if n := len(s.nodeFree); n > 0 {
		idx = s.nodeFree[n-1]
		s.nodeFree = s.nodeFree[:n-1]
	} else {
		idx = len(s.nodes)
		s.nodes = append(s.nodes, qnode{})
	}
	s.nodes[idx] = qnode{slot: slot, next: nilNode, prev: nilNode}
	return idx
}

func (s *Scheduler) releaseQNode(idx int) {
	s.nodeFree = append(s.nodeFree, idx)
}

func (s *Scheduler) setLevelActive(level int, active bool) {
	w, b := wordBit(level)
	if active {
		s.levelActive[w] |= b
	} else {
		s.levelActive[w] &^= b
	}
}

// enqueueAt links slot onto the tail of level's ready queue without
// touching Priority/BasePriority; callers decide those first.
func (s *Scheduler) enqueueAt(slot, level int) {
	p := &s.procs[slot]
	idx := s.newQNode(slot)
	q := &s.queues[level]
	p.node = idx
	n := &s.nodes[idx]
	n.prev = q.tail
	n.next = nilNode
	if q.tail != nilNode {
		s.nodes[q.tail].next = idx
	} else {
		q.head = idx
	}
	q.tail = idx
	q.count++
	s.setLevelActive(level, true)
}

// removeNode unlinks slot's queue node from level, wherever it is in
// the chain, and releases the arena cell.
func (s *Scheduler) removeNode(slot, level int) {
	p := &s.procs[slot]
	if p.node == nilNode {
		return
	}
	q := &s.queues[level]
	n := s.nodes[p.node]
	if n.prev != nilNode {
		s.nodes[n.prev].next = n.next
	} else {
		q.head = n.next
	}
	if n.next != nilNode {
		s.nodes[n.next].prev = n.prev
	} else {
		q.tail = n.prev
	}
	q.count--
	if q.count == 0 {
		s.setLevelActive(level, false)
	}
	s.releaseQNode(p.node)
	p.node = nilNode
}

// dequeueHead pops and returns the slot at the head of level's queue,
// or -1 if empty.
func (s *Scheduler) dequeueHead(level int) int {
	q := &s.queues[level]
	if q.head == nilNode {
		return nilNode
	}
	slot := s.nodes[q.head].slot
	s.removeNode(slot, level)
	return slot
}

// IOInteractiveThreshold is the I/O-operation count past which a
// process is treated as interactive and classified into level 1.
const IOInteractiveThreshold = 3

// Burst-history bands for the "otherwise" branch of classify: a fresh
// or recently I/O-light process is sorted into level 2/3/N-1 by the
// arithmetic mean of its CPU-burst history.
const (
	ShortBurstTicks  = 4
	MediumBurstTicks = 16
)

// classify assigns an initial priority level to a freshly admitted
// process: SYSTEM processes carrying CRITICAL go straight to the top
// real-time level; an I/O-heavy process (by its prior I/O-operation
// count) lands in the interactive band; everyone else is sorted by the
// mean of their CPU-burst history into the short/medium/long regular
// bands. PRIV_RESTRICTED always bottoms out at the lowest regular
// level regardless of history.
func classify(priv defs.PrivLevel, flags uint32, ioOps uint32, avgBurst uint32) int {
	if priv == defs.PRIV_SYSTEM && flags&defs.FLAG_CRITICAL != 0 {
		return 0
	}
	if priv == defs.PRIV_RESTRICTED {
		return NumLevels - 1
	}
	if ioOps > IOInteractiveThreshold {
		return 1
	}
	switch {
	case avgBurst <= ShortBurstTicks:
		return RTThreshold
	case avgBurst <= MediumBurstTicks:
		return RTThreshold + 1
	default:
		return NumLevels - 1
	}
}

// findBestQueue scans the RT levels first, then the regular levels in
// priority order, returning the first one that isn't overloaded: a
// regular level is skipped only if its count exceeds
// LoadBalanceThreshold and some other regular level also has work
// waiting; the first non-empty regular level found is the fallback if
// every candidate gets skipped.
func (s *Scheduler) findBestQueue() int {
	for l := 0; l < RTThreshold; l++ {
		if s.queues[l].count > 0 {
			return l
		}
	}

	fallback := nilNode
	otherRegularReady := false
	for l := RTThreshold; l < NumLevels; l++ {
		if s.queues[l].count > 0 {
			if fallback != nilNode {
				otherRegularReady = true
				break
			}
			fallback = l
		}
	}
	if fallback == nilNode {
		return nilNode
	}

	for l := RTThreshold; l < NumLevels; l++ {
		c := s.queues[l].count
		if c == 0 {
			continue
		}
		if c > LoadBalanceThreshold && otherRegularReady {
			continue
		}
		return l
	}
	return fallback
}
