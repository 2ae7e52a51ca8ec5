// Package kheap implements the kernel heap: a variable-size best-fit
// free list carved out of a single backing arena obtained from the
// virtual-address buddy allocator, with small fast-path caches for a
// handful of common allocation sizes.
package kheap

import (
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/assembler-0/VoidFrame-sub000/src/vm"
)

// ValidationLevel controls how much defensive work Alloc/Free perform.
type ValidationLevel int

const (
	// ValidationLow only checks, on free, that the address names a
	// known, currently allocated block.
	ValidationLow ValidationLevel = iota
	// ValidationHigh additionally poisons freed memory and verifies a
	// checksum over the block header on every free.
	ValidationHigh
)

const blockMagicAlloc = 0xB10C_A110_C0DE_CAFE
const blockMagicFree = 0xFEED_FACE_DEAD_BEEF
const poisonByte = 0xDE

// minSplitRemainder is the smallest remainder worth splitting off as its
// own free block; smaller slivers are left attached to the allocation.
const minSplitRemainder = 32

// sizeClasses are the pre-defined small-size classes, each with its
// own bounded fast-cache.
var sizeClasses = [12]uint64{16, 24, 32, 48, 64, 96, 128, 192, 256, 384, 512, 768}

const cacheCapacity = 8

type blockMeta struct {
	offset   uint64
	size     uint64 // usable size, excludes bookkeeping
	free     bool
	inCache  bool
	cacheOf  int // index into sizeClasses, -1 if not a cache candidate
	checksum uint64
}

func (b *blockMeta) computeChecksum() uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d:%d", b.offset, b.size)
	return h.Sum64()
}

// Heap is the kernel heap singleton.
type Heap struct {
	mu sync.Mutex

	vspace  *vm.Space
	region  vm.Region
	base    uint64
	size    uint64
	backing []byte

	blocks        []*blockMeta
	indexByOffset map[uint64]int

	caches [12][]*blockMeta

	validation ValidationLevel

	allocCount int64
	freeCount  int64
}

// NewHeap reserves size bytes from vspace's region and returns a heap
// managing it.
func NewHeap(vspace *vm.Space, region vm.Region, size uint64, level ValidationLevel) (*Heap, error) {
	base, err := vspace.Alloc(region, size)
	if err != nil {
		return nil, err
	}
	h := &Heap{
		vspace:        vspace,
		region:        region,
		base:          base,
		size:          size,
		backing:       make([]byte, size),
		indexByOffset: make(map[uint64]int),
		validation:    level,
	}
	root := &blockMeta{offset: 0, size: size, free: true, cacheOf: -1}
	h.blocks = append(h.blocks, root)
	h.indexByOffset[0] = 0
	return h, nil
}

func classFor(size uint64) int {
	for i, c := range sizeClasses {
		if size == c {
			return i
		}
	}
	return -1
}

// reindexFrom fixes indexByOffset for blocks[from:] after a slice splice.
func (h *Heap) reindexFrom(from int) {
	for i := from; i < len(h.blocks); i++ {
		h.indexByOffset[h.blocks[i].offset] = i
	}
}

// Alloc reserves at least size bytes and returns the virtual address
// of the user area (the heap's base plus the block's offset), or an
// error if the heap is exhausted.
func (h *Heap) Alloc(size uint64) (uint64, error) {
	if size == 0 {
		return 0, fmt.Errorf("kheap: zero-size allocation")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if ci := classFor(size); ci >= 0 && len(h.caches[ci]) > 0 {
		n := len(h.caches[ci])
		b := h.caches[ci][n-1]
		h.caches[ci] = h.caches[ci][:n-1]
		b.free = false
		b.inCache = false
		h.allocCount++
		return h.base + b.offset, nil
	}

	best := -1
	for i, b := range h.blocks {
		if !b.free {
			continue
		}
		if b.size < size {
			continue
		}
		if best == -1 || b.size < h.blocks[best].size {
			best = i
		}
	}
	if best == -1 {
		return 0, fmt.Errorf("kheap: out of memory allocating %d bytes", size)
	}

	b := h.blocks[best]
	if b.size >= size+minSplitRemainder {
		rem := &blockMeta{offset: b.offset + size, size: b.size - size, free: true, cacheOf: -1}
		b.size = size
		h.blocks = append(h.blocks, nil)
		copy(h.blocks[best+2:], h.blocks[best+1:])
		h.blocks[best+1] = rem
		h.reindexFrom(best + 1)
	}
	b.free = false
	b.cacheOf = classFor(b.size)
	b.checksum = b.computeChecksum()
	h.allocCount++
	return h.base + b.offset, nil
}

// Free releases a block previously returned by Alloc. Freeing an
// unallocated or corrupted address is structural heap corruption and
// panics.
func (h *Heap) Free(addr uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if addr < h.base {
		panic("kheap: free of address below heap base")
	}
	off := addr - h.base
	idx, ok := h.indexByOffset[off]
	if !ok {
		panic(fmt.Sprintf("kheap: free of unknown block at offset %d", off))
	}
	b := h.blocks[idx]
	if b.free {
		panic(fmt.Sprintf("kheap: double free at offset %d", off))
	}
	if h.validation == ValidationHigh && b.checksum != b.computeChecksum() {
		panic(fmt.Sprintf("kheap: checksum mismatch freeing block at offset %d", off))
	}

	if h.validation == ValidationHigh {
		for i := uint64(0); i < b.size && off+i < uint64(len(h.backing)); i++ {
			h.backing[off+i] = poisonByte
		}
	}

	h.freeCount++

	if ci := classFor(b.size); ci >= 0 && len(h.caches[ci]) < cacheCapacity {
		b.free = true
		b.inCache = true
		h.caches[ci] = append(h.caches[ci], b)
		return
	}

	b.free = true
	b.inCache = false
	h.coalesce(idx)
}

// coalesce merges blocks[idx] with its physical neighbors while they are
// free and not parked in a fast cache.
func (h *Heap) coalesce(idx int) {
	if idx+1 < len(h.blocks) {
		next := h.blocks[idx+1]
		if next.free && !next.inCache {
			h.blocks[idx].size += next.size
			h.removeBlock(idx + 1)
		}
	}
	if idx > 0 {
		prev := h.blocks[idx-1]
		if prev.free && !prev.inCache {
			prev.size += h.blocks[idx].size
			h.removeBlock(idx)
		}
	}
}

func (h *Heap) removeBlock(idx int) {
	delete(h.indexByOffset, h.blocks[idx].offset)
	h.blocks = append(h.blocks[:idx], h.blocks[idx+1:]...)
	h.reindexFrom(idx)
}

// Stats reports coarse allocator counters, used by src/diag.
func (h *Heap) Stats() (allocs, frees int64, blocks int, freeBytes uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, b := range h.blocks {
		if b.free {
			freeBytes += b.size
		}
	}
	for _, c := range h.caches {
		for _, b := range c {
			freeBytes += b.size
		}
	}
	return h.allocCount, h.freeCount, len(h.blocks), freeBytes
}
