// UNDI ROM, pixie and PnP BIOS discovery
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package scan searches conventional and option-ROM memory for the
// signature-and-checksum structures the UNDI loader protocol depends on:
// an already-installed "!PXE" pixie, 0x55AA option ROM headers carrying a
// PCIR/PnP/UNDI triplet, and the $PnP BIOS table. Adapted from the
// original driver's hunt_pixie/hunt_rom/hunt_undi_rom/hunt_pnp_bios, which
// ratchet a static cursor downward across repeated calls; Scanner's
// per-hunt cursors play the same role so a caller resuming a search after a miss picks up
// where the last call left off.
package scan

import (
	"bytes"
	"encoding/binary"

	"github.com/netboot-go/pxecore/internal/bits"
	"github.com/netboot-go/pxecore/internal/physmem"
	"github.com/netboot-go/pxecore/pci"
	"github.com/netboot-go/pxecore/pxeapi"
)

// Conventional memory boundaries the hunts operate within.
const (
	PixieHuntStart = 0xA0000
	PnPHuntStart   = 0xF0000
	PnPHuntEnd     = 0x100000
	ROMHuntStart   = 0xC0000
	ROMHuntEnd     = 0x100000
	ROMStep        = 0x800
	huntAlign      = 16
)

// FreeBaseMemoryTop reports the top of conventional memory still free for
// allocation, supplied by the caller (the arena knows this, scan does not
// own memory bookkeeping).
type FreeBaseMemoryTop func() uint32

// Scanner hunts for UNDI discovery artifacts over a Memory backend.
type Scanner struct {
	Mem physmem.Memory

	pixieCursor uint32
	romCursor   uint32
	pnpCursor   uint32

	started bool
}

// NewScanner returns a Scanner ready to hunt, its cursors at their
// starting positions.
func NewScanner(mem physmem.Memory) *Scanner {
	return &Scanner{
		Mem:         mem,
		pixieCursor: PixieHuntStart,
		romCursor:   ROMHuntEnd,
		pnpCursor:   PnPHuntEnd,
	}
}

// PnPHeader is the $PnP BIOS installation check structure.
type PnPHeader struct {
	Signature   [4]byte
	StructRev   uint8
	Length      uint8
	ControlField uint16
	Checksum    uint8
}

// HuntPnPBIOS scans downward from 0x100000 to 0xF0000 in 16-byte steps,
// returning the physical address of a valid $PnP installation check
// structure.
func (s *Scanner) HuntPnPBIOS() (addr uint32, ok bool) {
	for s.pnpCursor > PnPHuntStart {
		s.pnpCursor -= huntAlign

		var sig [4]byte
		s.Mem.Read(s.pnpCursor, sig[:])

		if sig != [4]byte{'$', 'P', 'n', 'P'} {
			continue
		}

		hdr := make([]byte, 9)
		s.Mem.Read(s.pnpCursor, hdr)

		length := hdr[5]
		if length == 0 {
			continue
		}

		block := make([]byte, length)
		s.Mem.Read(s.pnpCursor, block)

		if bits.Checksum(block) != 0 {
			continue
		}

		return s.pnpCursor, true
	}

	return 0, false
}

// HuntPixie scans conventional memory from 0xA0000 downward in 16-byte
// steps for an already-installed "!PXE" record. freeTop is the current top
// of free base memory: a candidate lying inside free memory is reusable by
// another allocator, so it is skipped, without being logged, and never
// returned as found.
func (s *Scanner) HuntPixie(freeTop uint32) (p *pxeapi.PXE, addr uint32, ok bool) {
	for s.pixieCursor > 0 {
		s.pixieCursor -= huntAlign

		var sig [4]byte
		s.Mem.Read(s.pixieCursor, sig[:])

		if sig != [4]byte{'!', 'P', 'X', 'E'} {
			continue
		}

		var length [1]byte
		s.Mem.Read(s.pixieCursor+4, length[:])

		if length[0] == 0 {
			continue
		}

		raw := make([]byte, length[0])
		s.Mem.Read(s.pixieCursor, raw)

		if bits.Checksum(raw) != 0 {
			continue
		}

		if s.pixieCursor < freeTop {
			// candidate lies inside free base memory: skip, an earlier
			// allocator may reuse this range.
			continue
		}

		// Decode through a struct-sized window so a record whose
		// StructLength is shorter than the struct still decodes; the
		// fields past StructLength read as zero.
		pxe := &pxeapi.PXE{}
		full := make([]byte, binary.Size(pxe))
		copy(full, raw)
		if err := binary.Read(bytes.NewReader(full), binary.LittleEndian, pxe); err != nil {
			continue
		}

		return pxe, s.pixieCursor, true
	}

	return nil, 0, false
}

// romHeader is the 0x55AA option ROM signature header.
type romHeader struct {
	Signature [2]byte
	_         [0x16]byte
	PCIROff   uint16
}

// HuntROM scans [0xC0000, 0x100000) in 2 KiB steps for a 0x55AA option ROM
// whose PCIR vendor/device IDs match dev and whose $PnP header checksums;
// the UNDI ROM ID block is checked by HuntUNDIROM. Non-PCI devices should not call
// this: the original skips the ROM hunt entirely for ISAPnP adapters.
func (s *Scanner) HuntROM(dev *pci.Device) (addr uint32, ok bool) {
	for s.romCursor > ROMHuntStart {
		s.romCursor -= ROMStep

		var sig [2]byte
		s.Mem.Read(s.romCursor, sig[:])

		if sig != [2]byte{0x55, 0xAA} {
			continue
		}

		var pcirOffBuf [2]byte
		s.Mem.Read(s.romCursor+0x18, pcirOffBuf[:])
		pcirOff := binary.LittleEndian.Uint16(pcirOffBuf[:])

		if pcirOff == 0 {
			continue
		}

		pcir := make([]byte, 8)
		s.Mem.Read(s.romCursor+uint32(pcirOff), pcir)

		if string(pcir[:4]) != "PCIR" {
			continue
		}

		vendor := binary.LittleEndian.Uint16(pcir[4:6])
		device := binary.LittleEndian.Uint16(pcir[6:8])

		if dev == nil || vendor != dev.Vendor || device != dev.Device {
			continue
		}

		var pnpOffBuf [2]byte
		s.Mem.Read(s.romCursor+0x1A, pnpOffBuf[:])
		pnpOff := binary.LittleEndian.Uint16(pnpOffBuf[:])

		if pnpOff == 0 {
			continue
		}

		pnpSig := make([]byte, 4)
		s.Mem.Read(s.romCursor+uint32(pnpOff), pnpSig)

		if string(pnpSig) != "$PnP" {
			continue
		}

		pnpLenBuf := make([]byte, 1)
		s.Mem.Read(s.romCursor+uint32(pnpOff)+5, pnpLenBuf)

		pnpBlock := make([]byte, pnpLenBuf[0])
		s.Mem.Read(s.romCursor+uint32(pnpOff), pnpBlock)

		if bits.Checksum(pnpBlock) != 0 {
			continue
		}

		return s.romCursor, true
	}

	return 0, false
}

// UNDIROMID is the "UNDI" signature block embedded in a matched option ROM.
type UNDIROMID struct {
	Signature    [4]byte
	StructLength uint8
	Checksum     uint8
	Rev          uint8
	UNDIRev      [3]byte
}

// HuntUNDIROM loops HuntROM until it finds a ROM whose embedded UNDI ROM ID
// block (signature "UNDI") carries a valid checksum over its declared
// length, returning the ROM base and the offset of the UNDI ROM ID block.
func (s *Scanner) HuntUNDIROM(dev *pci.Device, undiIDOffset func(romAddr uint32) uint16) (romAddr uint32, idOffset uint16, ok bool) {
	for {
		addr, found := s.HuntROM(dev)
		if !found {
			return 0, 0, false
		}

		off := undiIDOffset(addr)
		if off == 0 {
			continue
		}

		sig := make([]byte, 4)
		s.Mem.Read(addr+uint32(off), sig)

		if string(sig) != "UNDI" {
			continue
		}

		lenBuf := make([]byte, 1)
		s.Mem.Read(addr+uint32(off)+4, lenBuf)

		block := make([]byte, lenBuf[0])
		s.Mem.Read(addr+uint32(off), block)

		if bits.Checksum(block) != 0 {
			continue
		}

		return addr, off, true
	}
}
