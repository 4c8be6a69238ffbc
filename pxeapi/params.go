// Per-opcode parameter blocks and their wire marshaling
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package pxeapi

import (
	"bytes"
	"encoding/binary"
)

// StatusField is embedded as the first field of every parameter block, per
// the PXE spec convention that a handler's outcome is always reported
// through a Status word at a fixed offset. Embedding keeps the field at
// offset zero for every struct below while giving dispatch a single
// promoted accessor to set it without a type switch per opcode.
type StatusField struct {
	Status Status
}

// SetStatus writes the handler's outcome, satisfying dispatch's "status is
// always written before return" invariant generically across opcodes.
func (s *StatusField) SetStatus(v Status) { s.Status = v }

// GetStatus reads back the outcome a handler wrote.
func (s StatusField) GetStatus() Status { return s.Status }

// StartUndiParams is PXENV_START_UNDI's parameter block: the PCI
// bus:device:function the NBP discovered the adapter at.
type StartUndiParams struct {
	StatusField
	AX, BX, DX uint16
}

// UndiStartupParams, UndiCleanupParams, UndiShutdownParams and
// UndiResetAdapterParams carry only the shared status word; the UNDI
// driver takes no further input for these opcodes.
type UndiStartupParams struct{ StatusField }
type UndiCleanupParams struct{ StatusField }
type UndiShutdownParams struct{ StatusField }

// UndiResetAdapterParams is PXENV_UNDI_RESET_ADAPTER's parameter block.
type UndiResetAdapterParams struct {
	StatusField
	R1, R2, R3 uint32
}

// UndiInitializeParams is PXENV_UNDI_INITIALIZE's parameter block.
type UndiInitializeParams struct {
	StatusField
	ProtocolIni SegOff
	_           [8]uint32
}

// UndiOpenParams is PXENV_UNDI_OPEN's parameter block.
type UndiOpenParams struct {
	StatusField
	OpenFlag     uint16
	PktFilter    uint16
	McastAddr    [8]byte
}

// UndiCloseParams carries only the shared status word.
type UndiCloseParams struct{ StatusField }

// UndiTransmitParams is PXENV_UNDI_TRANSMIT's parameter block.
type UndiTransmitParams struct {
	StatusField
	Protocol   uint8
	XmitFlag   uint16
	DestAddr   SegOff
	TBD        SegOff
	Reserved   [4]uint32
}

// UndiSetStationAddressParams is PXENV_UNDI_SET_STATION_ADDRESS's
// parameter block.
type UndiSetStationAddressParams struct {
	StatusField
	StationAddress [16]byte
}

// UndiGetInformationParams is PXENV_UNDI_GET_INFORMATION's parameter
// block, populated entirely by the handler on success.
type UndiGetInformationParams struct {
	StatusField
	BaseIo     uint16
	IntNumber  uint16
	MaxTranUnit uint16
	HwType     uint16
	HwAddrLen  uint16
	CurrentNodeAddress [16]byte
	PermNodeAddress    [16]byte
	ROMAddress         uint16
	RxBufCt            uint16
	TxBufCt            uint16
}

// UndiGetStatisticsParams is PXENV_UNDI_GET_STATISTICS's parameter block.
type UndiGetStatisticsParams struct {
	StatusField
	XmtGoodFrames  uint32
	RcvGoodFrames  uint32
	RcvCRCErrors   uint32
	RcvResourceErrors uint32
}

// UndiClearStatisticsParams carries only the shared status word.
type UndiClearStatisticsParams struct{ StatusField }

// UndiGetNicTypeParams is PXENV_UNDI_GET_NIC_TYPE's parameter block; only
// the PCI branch is populated, matching the scanner's "non-PCI devices
// skip the ROM hunt" policy.
type UndiGetNicTypeParams struct {
	StatusField
	NicType  uint8
	BusType  uint32
	BusDevFn uint16
	VendorID uint16
	DeviceID uint16
}

// UndiGetIfaceInfoParams is PXENV_UNDI_GET_IFACE_INFO's parameter block.
type UndiGetIfaceInfoParams struct {
	StatusField
	IfaceType   [16]byte
	LinkSpeed   uint32
	ServiceFlags uint32
	Reserved    [12]uint32
}

// UndiSetMcastAddressParams and UndiGetMcastAddressParams are stubbed:
// spec.md's Non-goals exclude multicast filtering beyond broadcast +
// directed, so their handlers return Unsupported without touching these
// fields.
type UndiSetMcastAddressParams struct {
	StatusField
	McastAddr [16]byte
}
type UndiGetMcastAddressParams struct {
	StatusField
	InetAddr  [4]byte
	McastAddr [16]byte
}

// UndiInitiateDiagsParams and UndiForceInterruptParams are likewise
// stubbed: on-card diagnostics and forced-interrupt testing are out of
// scope.
type UndiInitiateDiagsParams struct{ StatusField }
type UndiForceInterruptParams struct{ StatusField }

// UndiGetStateParams is PXENV_UNDI_GET_STATE's parameter block; the
// original marks this opcode "impossible" because its implementation
// would alias the stop opcode (spec.md §3's rationale for the four
// latched flags), so it always returns Unsupported.
type UndiGetStateParams struct {
	StatusField
	UndiState uint8
}

// UndiIsrParams is PXENV_UNDI_ISR's parameter block, shared by all three
// sub-opcodes. isr.Pump reads FuncFlag on entry and fills the remaining
// fields according to which sub-opcode and outcome ran.
type UndiIsrParams struct {
	StatusField
	FuncFlag          uint16
	BufferLength      uint16
	FrameLength       uint16
	FrameHeaderLength uint16
	Frame             SegOff
	ProtType          uint8
	PktType           uint8
}

// StopUndiParams carries only the shared status word.
type StopUndiParams struct{ StatusField }

// TftpOpenParams is PXENV_TFTP_OPEN's parameter block.
type TftpOpenParams struct {
	StatusField
	ServerIP [4]byte
	GatewayIP [4]byte
	Filename [128]byte
	TFTPPort uint16
	PacketSize uint16
}

// TftpCloseParams carries only the shared status word.
type TftpCloseParams struct{ StatusField }

// TftpReadParams is PXENV_TFTP_READ's parameter block.
type TftpReadParams struct {
	StatusField
	Buffer     SegOff
	BufferSize uint16
	PacketNumber uint16
}

// TftpReadFileParams is PXENV_TFTP_READ_FILE's parameter block.
type TftpReadFileParams struct {
	StatusField
	FileName [128]byte
	BufferSize uint32
	Buffer     uint32
	ServerIP   [4]byte
	GatewayIP  [4]byte
	McastIP    [4]byte
	TFTPClntPort uint16
	TFTPSrvPort  uint16
	TFTPOpenTimeOut uint16
	TFTPReopenDelay uint16
}

// TftpGetFSizeParams is PXENV_TFTP_GET_FSIZE's parameter block.
type TftpGetFSizeParams struct {
	StatusField
	ServerIP  [4]byte
	GatewayIP [4]byte
	Filename  [128]byte
	FileSize  uint32
}

// UdpOpenParams is PXENV_UDP_OPEN's parameter block.
type UdpOpenParams struct {
	StatusField
	SrcIP [4]byte
}

// UdpCloseParams carries only the shared status word.
type UdpCloseParams struct{ StatusField }

// UdpWriteParams is PXENV_UDP_WRITE's parameter block.
type UdpWriteParams struct {
	StatusField
	IPAddr   [4]byte
	GatewayIP [4]byte
	SrcPort  uint16
	DstPort  uint16
	BufferSize uint16
	Buffer   SegOff
}

// UdpReadParams is PXENV_UDP_READ's parameter block. Open question #2:
// the original leaves Status as its entry value (FAILURE, set by the
// caller of await_reply) if await_reply never matches; this
// implementation follows that default rather than inventing a timeout
// code the spec does not name.
type UdpReadParams struct {
	StatusField
	SrcIP    [4]byte
	DestIP   [4]byte
	SrcPort  uint16
	DestPort uint16
	BufferSize uint16
	Buffer   SegOff
}

// UnloadStackParams carries only the shared status word.
type UnloadStackParams struct{ StatusField }

// GetCachedInfoParams is PXENV_GET_CACHED_INFO's parameter block. Open
// question #4: Buffer == 0 with BufferSize != 0 is treated the same as
// BufferSize == 0 (served from the core's own cache), matching the
// original rather than rejecting it as an invalid parameter.
type GetCachedInfoParams struct {
	StatusField
	PacketType uint16
	Buffer     SegOff
	BufferSize uint16
	BufferLimit uint16
}

// PacketType values for GET_CACHED_INFO.
const (
	PacketTypeDHCPDiscover uint16 = 1
	PacketTypeDHCPAck      uint16 = 2
	PacketTypeCachedReply  uint16 = 3
)

// RestartTftpParams is PXENV_RESTART_TFTP's parameter block: a TFTP_READ_FILE
// request whose buffer is the fixed physical load address 0x7C00.
type RestartTftpParams struct {
	TftpReadFileParams
}

// StartBaseParams and StopBaseParams carry only the shared status word.
type StartBaseParams struct{ StatusField }
type StopBaseParams struct{ StatusField }

// UndiLoaderParams is the input structure PXENV_UNDI_LOADER's caller
// supplies: not a genuine PXE opcode (spec.md §4.2), but routed through
// the same dispatch entry as the rest, per the original's choice (open
// question #1).
type UndiLoaderParams struct {
	StatusField
	UndiDS     uint16
	UndiCS     uint16
	PXEPtr     SegOff
	PXENVPtr   SegOff
	BusDevFn   uint16
}

// Bytes serializes v in its on-wire little-endian layout. Parameter block
// types are plain structs with no pointers beyond SegOff, so this never
// fails; callers that need an error-returning variant should use
// encoding/binary directly.
func Bytes(v interface{}) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}

// Unmarshal decodes raw into v using the on-wire little-endian layout.
func Unmarshal(raw []byte, v interface{}) error {
	return binary.Read(bytes.NewReader(raw), binary.LittleEndian, v)
}

// Size returns the on-wire size of a parameter block type, for callers
// that need to size a read from real memory before decoding it.
func Size(v interface{}) int {
	return binary.Size(v)
}
