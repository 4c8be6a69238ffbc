// Packed PXE runtime structures and wire serialization
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package pxeapi

import (
	"bytes"
	"encoding/binary"

	"github.com/netboot-go/pxecore/internal/bits"
)

// SegOff is a real-mode far pointer: 16-bit segment, 16-bit offset. Treated
// as an opaque far-pointer value outside this package; only scan, loader
// and pxert resolve it against physical memory.
type SegOff struct {
	Offset  uint16
	Segment uint16
}

// Linear returns the flat physical address SegOff addresses under the
// classic real-mode seg<<4+off rule.
func (s SegOff) Linear() uint32 {
	return uint32(s.Segment)<<4 + uint32(s.Offset)
}

// IsZero reports whether both fields are zero, the far-pointer's
// conventional "absent" encoding.
func (s SegOff) IsZero() bool {
	return s.Offset == 0 && s.Segment == 0
}

// SegDesc is one of the seven address/size descriptors in the !PXE record:
// a segment's base address, physical address and size.
type SegDesc struct {
	SegAddr  uint16
	PhysAddr uint32
	SegSize  uint16
}

// Descriptor indices within PXE.SegDesc, in the order the PXE 2.1 spec
// fixes them.
const (
	SegStack = iota
	SegUNDIData
	SegUNDICode
	SegUNDICodeWrite
	SegBCData
	SegBCCode
	SegBCCodeWrite
	segDescCount
)

// PXE is the "!PXE" runtime descriptor. Field order and widths follow the
// PXE 2.1 specification exactly; nothing here may be reordered.
type PXE struct {
	Signature    [4]byte
	StructLength uint8
	StructCksum  uint8
	StructRev    uint8
	Reserved1    uint8

	UNDIROMID  SegOff
	BaseROMID  SegOff

	EntryPointSP  SegOff
	EntryPointESP uint32

	StatusCallout SegOff

	Reserved2 uint8
	SegDescCnt uint8
	FirstSelector uint16

	SegDesc [segDescCount]SegDesc
}

// NewPXE returns a zeroed !PXE record with its fixed fields populated:
// signature, structure length, descriptor count. The checksum is left at
// zero; call Stamp after filling in the rest.
func NewPXE() *PXE {
	p := &PXE{
		Signature:  [4]byte{'!', 'P', 'X', 'E'},
		SegDescCnt: segDescCount,
	}

	p.StructLength = uint8(binary.Size(p))

	return p
}

// Bytes serializes the record in its on-wire little-endian layout.
func (p *PXE) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, p)
	return buf.Bytes()
}

// Stamp recomputes StructCksum so the byte-sum of the whole record is zero.
func (p *PXE) Stamp() {
	p.StructCksum = 0
	sum := bits.Checksum(p.Bytes())
	p.StructCksum = uint8(0 - sum)
}

// Verify reports whether the record's signature is intact and its checksum
// holds.
func (p *PXE) Verify() bool {
	if p.Signature != [4]byte{'!', 'P', 'X', 'E'} {
		return false
	}

	return bits.Checksum(p.Bytes()[:p.StructLength]) == 0
}

// PXENV is the "PXENV+" boot-server descriptor.
type PXENV struct {
	Signature [6]byte
	Version   uint16
	Length    uint8
	Checksum  uint8

	RMEntry SegOff

	PMOffset   uint32
	PMSelector uint16

	StackSeg  uint16
	StackSize uint16

	BCCodeSeg  uint16
	BCCodeSize uint16
	BCDataSeg  uint16
	BCDataSize uint16

	UNDIDataSeg  uint16
	UNDIDataSize uint16
	UNDICodeSeg  uint16
	UNDICodeSize uint16

	PXEPtr SegOff
}

// PXENVVersion is the PXE 2.1 PXENV+ version field value.
const PXENVVersion = 0x0201

// NewPXENV returns a zeroed PXENV+ record with its fixed fields populated.
func NewPXENV() *PXENV {
	p := &PXENV{
		Signature: [6]byte{'P', 'X', 'E', 'N', 'V', '+'},
		Version:   PXENVVersion,
	}

	p.Length = uint8(binary.Size(p))

	return p
}

// Bytes serializes the record in its on-wire little-endian layout.
func (p *PXENV) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, p)
	return buf.Bytes()
}

// Stamp recomputes Checksum so the byte-sum of the whole record is zero.
func (p *PXENV) Stamp() {
	p.Checksum = 0
	sum := bits.Checksum(p.Bytes())
	p.Checksum = uint8(0 - sum)
}

// Verify reports whether the record's signature is intact and its checksum
// holds.
func (p *PXENV) Verify() bool {
	if p.Signature != [6]byte{'P', 'X', 'E', 'N', 'V', '+'} {
		return false
	}

	return bits.Checksum(p.Bytes()[:p.Length]) == 0
}

// DataBlock is a single TBD scatter-gather entry.
type DataBlock struct {
	TDPtrType byte
	TDRsvdByte byte
	TDDataLen uint16
	TDDataPtr SegOff
}

// TBD is the Transmit Buffer Descriptor PXENV_UNDI_TRANSMIT points at.
type TBD struct {
	ImmedLength   uint16
	Xmit          SegOff
	DataBlkCount  uint16
	DataBlock     [MaxDataBlks]DataBlock
}

// Bytes serializes the TBD in its on-wire little-endian layout.
func (t *TBD) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, t)
	return buf.Bytes()
}

// UnmarshalTBD decodes a TBD from its on-wire little-endian layout.
func UnmarshalTBD(data []byte) (*TBD, error) {
	t := &TBD{}

	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, t); err != nil {
		return nil, err
	}

	return t, nil
}

// BootPlayer is the cached BOOTP/DHCP reply PXENV_GET_CACHED_INFO serves.
// The 128-byte BootFile field is the one the MS-RIS filename workaround
// overwrites with the most recently requested NBP filename.
type BootPlayer struct {
	Opcode    uint8
	Hardware  uint8
	HardLen   uint8
	GateHops  uint8
	Ident     uint32
	Seconds   uint16
	Flags     uint16
	CAddr     [4]byte
	YAddr     [4]byte
	SAddr     [4]byte
	GAddr     [4]byte
	CHAddr    [16]byte
	ServerName [64]byte
	BootFile  [128]byte
	// Vendor is the DHCP options / vendor-extension area; 308 bytes keeps
	// the record at the PXE spec's 544-byte minimum cached-packet size.
	Vendor [308]byte
}

// Bytes serializes the record in its on-wire little-endian layout.
func (b *BootPlayer) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, b)
	return buf.Bytes()
}
