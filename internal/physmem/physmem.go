// Raw physical memory access for ROM/BIOS region scanning
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package physmem gives scan and loader read/write access to physical
// memory addresses that the arena does not itself own or allocate — BIOS
// data areas, option ROM windows, a discovered UNDI driver's existing
// code/data — the same direct-pointer access tamago's dma.block used for
// its DMA buffers, generalized to arbitrary addresses rather than only
// arena-tracked ones.
package physmem

import (
	"unsafe"
)

// Memory is the read/write surface scan and loader depend on. Direct is the
// production implementation; tests substitute Sim, a plain byte-slice
// backend, so ROM-hunt and pixie-hunt logic can run under `go test`
// without touching real addresses.
type Memory interface {
	Read(addr uint32, buf []byte)
	Write(addr uint32, buf []byte)
}

// Direct accesses physical memory directly through an unsafe pointer. It is
// only ever valid on the bare-metal target this core ships on.
type Direct struct{}

func (Direct) Read(addr uint32, buf []byte) {
	if len(buf) == 0 {
		return
	}

	var ptr unsafe.Pointer
	ptr = unsafe.Add(ptr, uintptr(addr))
	mem := unsafe.Slice((*byte)(ptr), len(buf))
	copy(buf, mem)
}

func (Direct) Write(addr uint32, buf []byte) {
	if len(buf) == 0 {
		return
	}

	var ptr unsafe.Pointer
	ptr = unsafe.Add(ptr, uintptr(addr))
	mem := unsafe.Slice((*byte)(ptr), len(buf))
	copy(mem, buf)
}

// Sim is a hosted, byte-slice-backed Memory for tests and the netdevbridge
// simulation harness. Base is the lowest address Sim covers; Data backs
// [Base, Base+len(Data)).
type Sim struct {
	Base uint32
	Data []byte
}

func (s *Sim) Read(addr uint32, buf []byte) {
	off, ok := s.offset(addr, len(buf))
	if !ok {
		return
	}

	copy(buf, s.Data[off:off+len(buf)])
}

func (s *Sim) Write(addr uint32, buf []byte) {
	off, ok := s.offset(addr, len(buf))
	if !ok {
		return
	}

	copy(s.Data[off:off+len(buf)], buf)
}

func (s *Sim) offset(addr uint32, n int) (int, bool) {
	if addr < s.Base {
		return 0, false
	}

	off := int(addr - s.Base)

	if off+n > len(s.Data) {
		return 0, false
	}

	return off, true
}

var _ Memory = Direct{}
var _ Memory = (*Sim)(nil)
