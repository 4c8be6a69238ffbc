// Conventional-memory arena with firing-squad free-by-range
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package arena tracks conventional-memory allocations made on behalf of
// the UNDI driver and the PXE runtime. Its allocator is adapted from
// tamago's dma.Region first-fit allocator; its free-by-range operation
// ("firing squad") is adapted from the original UNDI driver's
// assemble_firing_squad/shoot_targets bitmap sweep, which exists to release
// the UNDI driver's base-code/data/stack regions after PXENV_UNDI_LOADER
// without clobbering any KiB still claimed by a region the runtime must
// keep (its own trampoline, the retained UNDI runtime code/data).
package arena

import (
	"container/list"
	"reflect"
	"unsafe"
)

// ConventionalMemoryKiB is the span the firing-squad bitmap covers: the
// first 640 KiB of conventional memory, the classic real-mode addressable
// range below the video/ROM hole.
const ConventionalMemoryKiB = 640

// Shoot marks a bitmap bit as a release target; DontShoot marks it
// protected. Overlapping Assemble calls resolve by last write wins on the
// affected bits, so a protecting call issued after a targeting one always
// wins for the KiBs it covers.
type Paint bool

const (
	Shoot     Paint = true
	DontShoot Paint = false
)

type block struct {
	addr uint32
	size uint32
	// res distinguishes regular (Alloc/Free) from reserved (Reserve/Release)
	// blocks, mirroring the teacher allocator's bookkeeping.
	res bool
}

// Arena is a first-fit allocator over a fixed conventional-memory range,
// plus the firing-squad bitmap used to reclaim arbitrary regions that were
// never allocated through this arena in the first place (the UNDI driver's
// own base-code/data/stack, loaded directly at fixed physical offsets).
type Arena struct {
	start uint32
	size  uint32

	freeBlocks *list.List
	usedBlocks map[uint32]*block

	lineup [ConventionalMemoryKiB]Paint
	painted [ConventionalMemoryKiB]bool
}

// New creates an arena over [start, start+size).
func New(start uint32, size uint32) *Arena {
	a := &Arena{
		start:      start,
		size:       size,
		freeBlocks: list.New(),
		usedBlocks: make(map[uint32]*block),
	}

	a.freeBlocks.PushBack(&block{addr: start, size: size})

	return a
}

// Start returns the arena's base address.
func (a *Arena) Start() uint32 { return a.start }

// End returns the arena's exclusive end address.
func (a *Arena) End() uint32 { return a.start + a.size }

// Alloc reserves size bytes, with optional power-of-2 alignment (0 means
// word alignment), returning the allocation's base address.
func (a *Arena) Alloc(size int, align int) (addr uint32) {
	if size == 0 {
		return 0
	}

	b := a.alloc(uint32(size), uint32(align))
	a.usedBlocks[b.addr] = b

	return b.addr
}

// Free releases a region previously returned by Alloc.
func (a *Arena) Free(addr uint32) {
	a.freeBlock(addr, false)
}

// Owns reports whether addr is currently tracked as an outstanding
// allocation.
func (a *Arena) Owns(addr uint32) bool {
	_, ok := a.usedBlocks[addr]
	return ok
}

// Bytes returns a Go slice backed directly by the physical memory at
// [addr, addr+size), for callers (virtqueue rings, bounce buffers) that
// need to read or write the memory an allocation occupies rather than just
// track its address. The arena itself never dereferences this memory; it
// only ever moves (base, length) value objects between its free and used
// lists, per design.
func (a *Arena) Bytes(addr uint32, size uint32) (buf []byte) {
	if size == 0 {
		return nil
	}

	hdr := (*reflect.SliceHeader)(unsafe.Pointer(&buf))
	hdr.Data = uintptr(unsafe.Pointer(uintptr(addr)))
	hdr.Len = int(size)
	hdr.Cap = hdr.Len

	return
}

func (a *Arena) alloc(size uint32, align uint32) *block {
	var e *list.Element
	var freeBlock *block
	var pad uint32

	if align == 0 {
		align = 4
	}

	for e = a.freeBlocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)

		pad = -b.addr & (align - 1)

		if b.size >= size+pad {
			freeBlock = b
			break
		}
	}

	if freeBlock == nil {
		panic("arena: out of memory")
	}

	defer a.freeBlocks.Remove(e)

	total := size + pad

	if r := freeBlock.size - total; r != 0 {
		newBlockAfter := &block{addr: freeBlock.addr + total, size: r}
		freeBlock.size = total
		a.freeBlocks.InsertAfter(newBlockAfter, e)
	}

	if pad != 0 {
		newBlockBefore := &block{addr: freeBlock.addr, size: pad}
		freeBlock.addr += pad
		freeBlock.size -= pad
		a.freeBlocks.InsertBefore(newBlockBefore, e)
	}

	return freeBlock
}

func (a *Arena) free(usedBlock *block) {
	for e := a.freeBlocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)

		if b.addr > usedBlock.addr {
			a.freeBlocks.InsertBefore(usedBlock, e)
			a.defrag()
			return
		}
	}

	a.freeBlocks.PushBack(usedBlock)
	a.defrag()
}

func (a *Arena) defrag() {
	var prevBlock *block

	for e := a.freeBlocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)

		if prevBlock != nil && prevBlock.addr+prevBlock.size == b.addr {
			prevBlock.size += b.size
			defer a.freeBlocks.Remove(e)
			continue
		}

		prevBlock = b
	}
}

func (a *Arena) freeBlock(addr uint32, res bool) {
	if addr == 0 {
		return
	}

	b, ok := a.usedBlocks[addr]
	if !ok || b.res != res {
		return
	}

	a.free(b)
	delete(a.usedBlocks, addr)
}

// Forget directly returns an arbitrary region to the free list without
// requiring it to have been tracked by a prior Alloc. This is how Shoot
// donates the UNDI driver's unloaded base-code/data/stack regions back to
// the arena: those regions were never allocated through this arena, they
// were installed at fixed physical offsets by the loader.
func (a *Arena) Forget(addr uint32, size uint32) {
	if size == 0 {
		return
	}

	a.free(&block{addr: addr, size: size})
}

func kib(addr uint32) int {
	return int(addr / 1024)
}

// Assemble paints the bitmap bits covering [start, start+length), rounded
// outward to KiB boundaries, with shoot. Call it once per region in a
// lineup; later calls win over earlier ones for any bit they both cover.
func (a *Arena) Assemble(start uint32, length uint32, shoot Paint) {
	if length == 0 {
		return
	}

	first := kib(start)
	last := kib(start + length - 1)

	for k := first; k <= last && k < ConventionalMemoryKiB; k++ {
		if k < 0 {
			continue
		}

		a.lineup[k] = shoot
		a.painted[k] = true
	}
}

// Shoot scans the bitmap assembled by prior Assemble calls, finds maximal
// runs of painted Shoot bits, and calls Forget on each run's address range
// (phys_to_virt is the identity function at this design level: the arena
// operates on physical conventional-memory addresses throughout). The
// bitmap is cleared once the sweep completes, ready for the next lineup.
func (a *Arena) Shoot() {
	k := 0

	for k < ConventionalMemoryKiB {
		if !a.painted[k] || a.lineup[k] != Shoot {
			k++
			continue
		}

		runStart := k

		for k < ConventionalMemoryKiB && a.painted[k] && a.lineup[k] == Shoot {
			k++
		}

		runLen := k - runStart

		a.Forget(uint32(runStart)*1024, uint32(runLen)*1024)
	}

	a.painted = [ConventionalMemoryKiB]bool{}
	a.lineup = [ConventionalMemoryKiB]Paint{}
}

// Protected reports whether the KiB containing addr is currently painted
// DontShoot in the in-progress lineup (used by tests to verify the overlap
// invariant before a Shoot call clears the bitmap).
func (a *Arena) Protected(addr uint32) bool {
	k := kib(addr)

	if k < 0 || k >= ConventionalMemoryKiB {
		return false
	}

	return a.painted[k] && a.lineup[k] == DontShoot
}
