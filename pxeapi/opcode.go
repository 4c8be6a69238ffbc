// PXE API opcode table
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package pxeapi

// Opcode is a PXENV_* function number, the 16-bit word the NBP places in
// the real-mode call gate's first stack argument.
type Opcode uint16

const (
	OpUNDIStartup            Opcode = 0x0001
	OpUNDICleanup            Opcode = 0x0002
	OpUNDIInitialize         Opcode = 0x0003
	OpUNDIResetAdapter       Opcode = 0x0004
	OpUNDIShutdown           Opcode = 0x0005
	OpUNDIOpen               Opcode = 0x0006
	OpUNDIClose              Opcode = 0x0007
	OpUNDITransmit           Opcode = 0x0008
	OpUNDISetMCastAddress    Opcode = 0x0009
	OpUNDISetStationAddress  Opcode = 0x000A
	OpUNDISetPacketFilter    Opcode = 0x000B
	OpUNDIGetInformation     Opcode = 0x000C
	OpUNDIGetStatistics      Opcode = 0x000D
	OpUNDIClearStatistics    Opcode = 0x000E
	OpUNDIInitiateDiags      Opcode = 0x000F
	OpUNDIForceInterrupt     Opcode = 0x0010
	OpUNDIGetMCastAddress    Opcode = 0x0011
	OpUNDIGetNICType         Opcode = 0x0012
	OpUNDIGetIfaceInfo       Opcode = 0x0013
	OpUNDIISR                Opcode = 0x0014
	OpUNDIGetState           Opcode = 0x0015
	OpStartUNDI              Opcode = 0x0000
	OpStopUNDI               Opcode = 0x0016

	OpTFTPOpen     Opcode = 0x0020
	OpTFTPClose    Opcode = 0x0021
	OpTFTPRead     Opcode = 0x0022
	OpTFTPReadFile Opcode = 0x0023
	OpTFTPGetFSize Opcode = 0x0025

	OpUDPOpen  Opcode = 0x0030
	OpUDPClose Opcode = 0x0031
	OpUDPWrite Opcode = 0x0033
	OpUDPRead  Opcode = 0x0032

	OpUnloadStack  Opcode = 0x0070
	OpGetCachedInfo Opcode = 0x0071
	OpRestartTFTP  Opcode = 0x0073
	OpStartBase    Opcode = 0x0075
	OpStopBase     Opcode = 0x0076

	// OpUNDILoader is not a genuine PXE API call; the source exposes it on
	// the same dispatch entry as the rest.
	OpUNDILoader Opcode = 0x104D
)

// PXENV_UNDI_ISR sub-opcodes (FuncFlag on entry).
const (
	ISRInStart   uint16 = 1
	ISRInProcess uint16 = 2
	ISRInGetNext uint16 = 3
)

// PXENV_UNDI_ISR outcomes (FuncFlag on exit).
const (
	ISROutOurs    uint16 = 0
	ISROutNotOurs uint16 = 1
	ISROutDone    uint16 = 0
	ISROutTransmit uint16 = 2
	ISROutReceive  uint16 = 3
	ISROutBusy     uint16 = 4
)

// Protocol/packet type values shared by ISR and the transmit builder.
const (
	ProtIP   uint8 = 1
	ProtARP  uint8 = 2
	ProtRARP uint8 = 3

	PktTypeUnicast   uint8 = 0
	PktTypeBroadcast uint8 = 1
)

// UNDI_TRANSMIT XmitFlag values.
const (
	XmitDestAddr  uint16 = 0
	XmitBroadcast uint16 = 1
)

// MaxDataBlks is the TBD's maximum scatter-gather descriptor count.
const MaxDataBlks = 8
