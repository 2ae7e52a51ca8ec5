package ptab

import (
	"testing"

	"github.com/assembler-0/VoidFrame-sub000/src/mem"
)

const ramSize = 64 << 20 // 64 MiB simulated physical memory

func newTestSpace(t *testing.T) *Space {
	t.Helper()
	alloc := mem.NewAllocator(0, ramSize, 0, 0)
	ram := make([]byte, ramSize)
	s, err := NewSpace(alloc, ram, NullFlusher{})
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	return s
}

func TestMapAndTranslate(t *testing.T) {
	s := newTestSpace(t)
	va := uint64(HighCanonicalStart)
	pa := uint64(4 << 20)

	if err := s.Map(va, pa, PTE_W); err != nil {
		t.Fatalf("Map: %v", err)
	}
	got, ok := s.Translate(va)
	if !ok {
		t.Fatal("Translate: expected mapping present")
	}
	if got != pa {
		t.Fatalf("Translate: got %#x want %#x", got, pa)
	}

	// offset within the page should translate correctly.
	got, ok = s.Translate(va + 0x10)
	if !ok || got != pa+0x10 {
		t.Fatalf("Translate with offset: got %#x ok=%v", got, ok)
	}
}

func TestMapAlreadyMapped(t *testing.T) {
	s := newTestSpace(t)
	va := uint64(HighCanonicalStart)
	if err := s.Map(va, 4<<20, PTE_W); err != nil {
		t.Fatalf("first Map: %v", err)
	}
	if err := s.Map(va, 8<<20, PTE_W); err != AlreadyMapped {
		t.Fatalf("expected AlreadyMapped, got %v", err)
	}
	// The original PTE must not have been altered.
	got, _ := s.Translate(va)
	if got != 4<<20 {
		t.Fatalf("PTE mutated on failed remap: got %#x", got)
	}
}

func TestUnmap(t *testing.T) {
	s := newTestSpace(t)
	va := uint64(HighCanonicalStart)
	if err := s.Map(va, 4<<20, PTE_W); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := s.Unmap(va, PageSize); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if _, ok := s.Translate(va); ok {
		t.Fatal("expected no mapping after Unmap")
	}
	// unmapping an already-unmapped range must not error.
	if err := s.Unmap(va, PageSize); err != nil {
		t.Fatalf("Unmap of already-unmapped range: %v", err)
	}
}

func TestUnmapReclaimsEmptyPageTable(t *testing.T) {
	s := newTestSpace(t)
	va := uint64(HighCanonicalStart)
	if err := s.Map(va, 4<<20, PTE_W); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := s.Unmap(va, PageSize); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if len(s.freeTables) != 1 {
		t.Fatalf("expected the emptied page table to be recycled, got %d cached", len(s.freeTables))
	}
	// the recycled table must come back zeroed and usable.
	if err := s.Map(va, 8<<20, PTE_W); err != nil {
		t.Fatalf("Map after reclaim: %v", err)
	}
	if pa, ok := s.Translate(va); !ok || pa != 8<<20 {
		t.Fatalf("Translate after reclaim: got %#x ok=%v", pa, ok)
	}
}

func TestMapHuge(t *testing.T) {
	s := newTestSpace(t)
	va := uint64(HighCanonicalStart)
	pa := uint64(4 << 20)
	if err := s.MapHuge(va, pa, PTE_W); err != nil {
		t.Fatalf("MapHuge: %v", err)
	}
	got, ok := s.Translate(va + 0x1000)
	if !ok || got != pa+0x1000 {
		t.Fatalf("Translate within huge page: got %#x ok=%v", got, ok)
	}
}

func TestMapRejectsMisalignedOrNonCanonical(t *testing.T) {
	s := newTestSpace(t)
	if err := s.Map(HighCanonicalStart+1, 4<<20, PTE_W); err != InvalidAddress {
		t.Fatalf("expected InvalidAddress for misaligned vaddr, got %v", err)
	}
	if err := s.Map(0x0000_8000_0000_0000, 4<<20, PTE_W); err != InvalidAddress {
		t.Fatalf("expected InvalidAddress for non-canonical vaddr, got %v", err)
	}
}

func TestMapMMIOForcesCacheDisable(t *testing.T) {
	s := newTestSpace(t)
	va := uint64(HighCanonicalStart)
	if err := s.MapMMIO(va, 0xfe00_0000, PageSize, PTE_W); err != nil {
		t.Fatalf("MapMMIO: %v", err)
	}
	pt, idx, _, err := s.walk(va, false)
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	e := pt[idx]
	if e&PTE_CD == 0 || e&PTE_WT == 0 {
		t.Fatalf("MMIO mapping missing cache-disable/write-through: %#x", e)
	}
}

type countingFlusher struct {
	pages  int
	reload int
}

func (c *countingFlusher) InvalidatePage(uintptr) { c.pages++ }
func (c *countingFlusher) ReloadAll()             { c.reload++ }

func TestTLBBatchThreshold(t *testing.T) {
	alloc := mem.NewAllocator(0, ramSize, 0, 0)
	ram := make([]byte, ramSize)
	cf := &countingFlusher{}
	s, err := NewSpace(alloc, ram, cf)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}

	va := uint64(HighCanonicalStart)
	// Unmapping a 16-page range produces more than 8 batched entries in
	// a single locked operation, which should trigger a full reload
	// instead of sixteen single-page invalidations.
	for i := 0; i < 16; i++ {
		if err := s.Map(va+uint64(i)*PageSize, uint64(4<<20)+uint64(i)*PageSize, PTE_W); err != nil {
			t.Fatalf("Map %d: %v", i, err)
		}
	}
	cf.pages, cf.reload = 0, 0
	if err := s.Unmap(va, 16*PageSize); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if cf.reload != 1 {
		t.Fatalf("expected exactly one full TLB reload, got %d (pages=%d)", cf.reload, cf.pages)
	}
}
