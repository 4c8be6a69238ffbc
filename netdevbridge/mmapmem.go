// mmap-backed physmem.Memory for hosted test harnesses
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package netdevbridge

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/netboot-go/pxecore/internal/physmem"
)

// MappedMemory is a physmem.Memory backed by a real mmap'd file region
// rather than a plain Go byte slice (physmem.Sim), so a hosted test can
// exercise the same page-granularity access pattern arena's Bytes and
// scan's window-sized reads see against bare-metal conventional memory.
// Grounded on the file-descriptor-backed mmap pattern used elsewhere in
// the corpus for page-cache-style memory mapping.
type MappedMemory struct {
	Base uint32

	f    *os.File
	data []byte
}

// NewMappedMemory backs [base, base+size) with an anonymous-content,
// zero-filled temp file mmap'd MAP_SHARED, so writes are visible to any
// other mapping of the same file (a harness can reopen it to inspect
// state a dispatch call wrote, the way a debugger would inspect real
// conventional memory).
func NewMappedMemory(base uint32, size int) (*MappedMemory, error) {
	f, err := os.CreateTemp("", "pxecore-mem-*")
	if err != nil {
		return nil, fmt.Errorf("netdevbridge: create backing file: %w", err)
	}

	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("netdevbridge: size backing file: %w", err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("netdevbridge: mmap backing file: %w", err)
	}

	return &MappedMemory{Base: base, f: f, data: data}, nil
}

// Close unmaps the region and removes its backing file.
func (m *MappedMemory) Close() error {
	name := m.f.Name()

	if err := unix.Munmap(m.data); err != nil {
		return fmt.Errorf("netdevbridge: munmap: %w", err)
	}

	if err := m.f.Close(); err != nil {
		return fmt.Errorf("netdevbridge: close backing file: %w", err)
	}

	return os.Remove(name)
}

func (m *MappedMemory) offset(addr uint32, n int) (int, bool) {
	if addr < m.Base {
		return 0, false
	}

	off := int(addr - m.Base)

	if off+n > len(m.data) {
		return 0, false
	}

	return off, true
}

func (m *MappedMemory) Read(addr uint32, buf []byte) {
	off, ok := m.offset(addr, len(buf))
	if !ok {
		return
	}

	copy(buf, m.data[off:off+len(buf)])
}

func (m *MappedMemory) Write(addr uint32, buf []byte) {
	off, ok := m.offset(addr, len(buf))
	if !ok {
		return
	}

	copy(m.data[off:off+len(buf)], buf)
}

var _ physmem.Memory = (*MappedMemory)(nil)
