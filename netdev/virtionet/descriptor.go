// VirtIO split virtqueue support
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package virtionet

import (
	"bytes"
	"encoding/binary"

	"github.com/netboot-go/pxecore/arena"
)

// Reserved feature bits.
const featurePacked = 34

// Descriptor flags.
const (
	flagNext     = 1
	flagWrite    = 2
	flagIndirect = 3
)

// descriptor is a single VirtIO split virtqueue descriptor.
type descriptor struct {
	Address uint64
	Length  uint32
	Flags   uint16
	Next    uint16

	addr uint32
	buf  []byte
}

func (d *descriptor) init(a *arena.Arena, length int) {
	d.addr = a.Alloc(length, 0)
	d.Address = uint64(d.addr)
	d.Length = uint32(length)
	d.buf = a.Bytes(d.addr, uint32(length))
}

func (d *descriptor) destroy(a *arena.Arena) {
	a.Free(d.addr)
}

func (d *descriptor) bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d.Address)
	binary.Write(buf, binary.LittleEndian, d.Length)
	binary.Write(buf, binary.LittleEndian, d.Flags)
	binary.Write(buf, binary.LittleEndian, d.Next)
	return buf.Bytes()
}

// available is the VirtIO split virtqueue "Available" ring.
type available struct {
	Flags      uint16
	Index      uint16
	Ring       []uint16
	EventIndex uint16
}

func (d *available) bytes() []byte {
	buf := new(bytes.Buffer)

	binary.Write(buf, binary.LittleEndian, d.Flags)
	binary.Write(buf, binary.LittleEndian, d.Index)

	for _, r := range d.Ring {
		binary.Write(buf, binary.LittleEndian, r)
	}

	binary.Write(buf, binary.LittleEndian, d.EventIndex)

	return buf.Bytes()
}

// usedEntry is a single element of the "Used" ring.
type usedEntry struct {
	Index  uint32
	Length uint32
}

func (d *usedEntry) bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// usedRing is the VirtIO split virtqueue "Used" ring.
type usedRing struct {
	Flags      uint16
	Index      uint16
	Pad        [2]byte
	Ring       []usedEntry
	AvailEvent uint16
}

func (d *usedRing) bytes() []byte {
	buf := new(bytes.Buffer)

	binary.Write(buf, binary.LittleEndian, d.Flags)
	binary.Write(buf, binary.LittleEndian, d.Index)
	binary.Write(buf, binary.LittleEndian, d.Pad)

	for _, r := range d.Ring {
		buf.Write(r.bytes())
	}

	binary.Write(buf, binary.LittleEndian, d.AvailEvent)

	return buf.Bytes()
}

// virtualQueue is a VirtIO split virtual queue: a descriptor table plus its
// available and used rings, backed by arena-reserved DMA memory.
type virtualQueue struct {
	descriptors []descriptor
	avail       available
	used        usedRing

	size    int
	segment int

	addr uint32
	buf  []byte
}

func (q *virtualQueue) init(a *arena.Arena, size int, segment int) {
	q.size = size
	q.segment = segment

	q.descriptors = make([]descriptor, size)
	q.avail.Ring = make([]uint16, size)
	q.used.Ring = make([]usedEntry, size)

	for i := range q.descriptors {
		q.descriptors[i].init(a, segment)
	}

	buf := q.bytes()
	q.addr = a.Alloc(len(buf), 16)
}

func (q *virtualQueue) destroy(a *arena.Arena) {
	for i := range q.descriptors {
		q.descriptors[i].destroy(a)
	}

	a.Free(q.addr)
}

func (q *virtualQueue) bytes() []byte {
	buf := new(bytes.Buffer)

	for i := range q.descriptors {
		buf.Write(q.descriptors[i].bytes())
	}

	buf.Write(q.avail.bytes())
	buf.Write(make([]byte, buf.Len()%4096))
	buf.Write(q.used.bytes())

	return buf.Bytes()
}

// address returns the queue's descriptor-table, available-ring and
// used-ring physical addresses, as required by QueueDesc/QueueDriver/
// QueueDevice MMIO registers.
func (q *virtualQueue) address() (desc uint32, driver uint32, device uint32) {
	desc = q.addr
	driver = desc + uint32(len(q.descriptors))*16
	device = driver + uint32(len(q.avail.bytes()))
	device += (device - desc) % 4096

	return
}
