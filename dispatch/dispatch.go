// API dispatcher: opcode table and the single api_call entry point
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dispatch maps the ~40 PXENV_* opcodes onto handlers, asserting
// each handler's required readiness through state.Machine.EnsureState
// before it runs and guaranteeing a status word is written into the
// caller's parameter block on every exit, per spec.md §4.2. PXENV_UNDI_ISR
// is the one exemption: it is reached re-entrantly from interrupt context,
// so it hard-checks "currently Ready" instead of driving a transition.
package dispatch

import (
	"log"
	"net"

	"github.com/netboot-go/pxecore/internal/physmem"
	"github.com/netboot-go/pxecore/isr"
	"github.com/netboot-go/pxecore/netdev"
	"github.com/netboot-go/pxecore/pxeapi"
	"github.com/netboot-go/pxecore/state"
	"github.com/netboot-go/pxecore/transport"
	"github.com/netboot-go/pxecore/tx"
)

// Debug gates narration of dispatch decisions.
var Debug bool

func debugf(format string, args ...interface{}) {
	if Debug {
		log.Printf("pxecore/dispatch: "+format, args...)
	}
}

// UNDIDescriptor shadows the UNDI driver's internal state with the four
// independent latched flags spec.md §3 requires, because
// PXENV_UNDI_GET_STATE aliases the stop opcode and cannot be trusted.
type UNDIDescriptor struct {
	Prestarted  bool
	Started     bool
	Initialized bool
	Opened      bool

	PCIBusDevFn uint16
	StationAddr net.HardwareAddr

	IOBase uint16
	IRQ    uint16
	MTU    uint16
	HWType uint16
}

// Dispatcher owns the runtime structures, the readiness machine and the
// UNDI descriptor for the stack's lifetime, per spec.md §3's ownership
// rule. It is built once by stack.Stack and never duplicated.
type Dispatcher struct {
	State  *state.Machine
	ISR    *isr.Pump
	TX     *tx.Builder
	Device netdev.Device
	Mem    physmem.Memory

	TFTP transport.TFTP
	UDP  transport.UDP

	UNDI UNDIDescriptor

	// LinkLayerAddrLen is the link-layer address length the transmit
	// builder and ISR classification use (6 for Ethernet).
	LinkLayerAddrLen int

	// Loader runs PXENV_UNDI_LOADER (opcode 0x104D, not a genuine PXE
	// API call per spec.md §4.2 and §9 open question #1): a hook rather
	// than an inline call because the loader needs ROM-discovery state
	// (scan.Scanner, the arena, hidemem) that dispatch does not itself
	// own.
	Loader func(*pxeapi.UndiLoaderParams) pxeapi.Status

	// Teardown runs platform teardown for PXENV_UNLOAD_STACK, returning
	// false if the stack cannot quiesce (pending TX, a stuck vector) —
	// the caller must then retry later per spec.md §4.2's KEEP_ALL
	// contract.
	Teardown func() bool

	// StartNBP is invoked once PXENV_RESTART_TFTP's TFTP_READ_FILE has
	// completed, handing control to the freshly loaded image. A no-op
	// StartNBP is valid for tests that only want to observe the cache
	// update.
	StartNBP func()

	cache       map[uint16]*pxeapi.BootPlayer
	cacheAddr   uint32
	risFilename string
}

// New returns a Dispatcher ready to accept Call. cacheAddr is the
// conventional-memory address the cached BOOTP packets live at, so
// PXENV_GET_CACHED_INFO can hand back a far pointer into it when asked for
// one.
func New(machine *state.Machine, pump *isr.Pump, builder *tx.Builder, device netdev.Device, mem physmem.Memory, cacheAddr uint32) *Dispatcher {
	return &Dispatcher{
		State:            machine,
		ISR:              pump,
		TX:               builder,
		Device:           device,
		Mem:              mem,
		LinkLayerAddrLen: 6,
		cache:            make(map[uint16]*pxeapi.BootPlayer),
		cacheAddr:        cacheAddr,
	}
}

type statusSetter interface {
	SetStatus(pxeapi.Status)
}

// handle reads a T-shaped parameter block from paramPtr, drives the
// readiness machine to readiness (writing onUnreachable and failing if
// that cannot be reached), runs fn, writes back whatever status fn
// returns, and serializes the block back to memory. Every handler in this
// file is one call to handle, which is what gives api_call its "status is
// always written" guarantee for free.
func handle[T any, PT interface {
	*T
	statusSetter
}](d *Dispatcher, readiness state.Readiness, onUnreachable pxeapi.Status, paramPtr pxeapi.SegOff, fn func(PT) pxeapi.Status) pxeapi.Exit {
	var v T
	p := PT(&v)

	raw := make([]byte, pxeapi.Size(p))
	d.Mem.Read(paramPtr.Linear(), raw)
	pxeapi.Unmarshal(raw, p)

	if !d.State.EnsureState(readiness) {
		p.SetStatus(onUnreachable)
		d.Mem.Write(paramPtr.Linear(), pxeapi.Bytes(p))
		return pxeapi.ExitFailure
	}

	status := fn(p)
	p.SetStatus(status)
	d.Mem.Write(paramPtr.Linear(), pxeapi.Bytes(p))

	if status == pxeapi.StatusSuccess {
		return pxeapi.ExitSuccess
	}

	return pxeapi.ExitFailure
}

// writeUnsupported stamps the two-byte status field of an opcode this
// dispatcher does not recognise, without knowing its parameter block's
// shape.
func (d *Dispatcher) writeUnsupported(paramPtr pxeapi.SegOff) {
	d.Mem.Write(paramPtr.Linear(), pxeapi.Bytes(&pxeapi.StatusField{Status: pxeapi.StatusUnsupported}))
}

// Call is the single dispatch entry every opcode funnels through. It
// always writes params.Status before returning, per spec.md §8's testable
// property.
func (d *Dispatcher) Call(opcode pxeapi.Opcode, paramPtr pxeapi.SegOff) pxeapi.Exit {
	switch opcode {
	case pxeapi.OpStartUNDI:
		return handle[pxeapi.StartUndiParams](d, state.Midway, pxeapi.StatusUNDIInvalidState, paramPtr, d.startUndi)
	case pxeapi.OpUNDIStartup:
		return handle[pxeapi.UndiStartupParams](d, state.Midway, pxeapi.StatusUNDIInvalidState, paramPtr, d.undiStartup)
	case pxeapi.OpUNDICleanup:
		return handle[pxeapi.UndiCleanupParams](d, state.Midway, pxeapi.StatusUNDIInvalidState, paramPtr, d.undiCleanup)
	case pxeapi.OpUNDIInitialize:
		return handle[pxeapi.UndiInitializeParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.undiInitialize)
	case pxeapi.OpUNDIResetAdapter:
		return handle[pxeapi.UndiResetAdapterParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.undiResetAdapter)
	case pxeapi.OpUNDIShutdown:
		return handle[pxeapi.UndiShutdownParams](d, state.Midway, pxeapi.StatusUNDIInvalidState, paramPtr, d.undiShutdown)
	case pxeapi.OpUNDIOpen:
		return handle[pxeapi.UndiOpenParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.undiOpen)
	case pxeapi.OpUNDIClose:
		return handle[pxeapi.UndiCloseParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.undiClose)
	case pxeapi.OpUNDITransmit:
		return handle[pxeapi.UndiTransmitParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.undiTransmit)
	case pxeapi.OpUNDISetStationAddress:
		return handle[pxeapi.UndiSetStationAddressParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.undiSetStationAddress)
	case pxeapi.OpUNDIGetInformation:
		return handle[pxeapi.UndiGetInformationParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.undiGetInformation)
	case pxeapi.OpUNDIGetStatistics:
		return handle[pxeapi.UndiGetStatisticsParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.undiGetStatistics)
	case pxeapi.OpUNDIClearStatistics:
		return handle[pxeapi.UndiClearStatisticsParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.undiClearStatistics)
	case pxeapi.OpUNDIGetNICType:
		return handle[pxeapi.UndiGetNicTypeParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.undiGetNicType)
	case pxeapi.OpUNDIGetIfaceInfo:
		return handle[pxeapi.UndiGetIfaceInfoParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.undiGetIfaceInfo)
	case pxeapi.OpUNDISetMCastAddress:
		return handle[pxeapi.UndiSetMcastAddressParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.unsupportedSetMcast)
	case pxeapi.OpUNDIGetMCastAddress:
		return handle[pxeapi.UndiGetMcastAddressParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.unsupportedGetMcast)
	case pxeapi.OpUNDIInitiateDiags:
		return handle[pxeapi.UndiInitiateDiagsParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.unsupportedDiags)
	case pxeapi.OpUNDIForceInterrupt:
		return handle[pxeapi.UndiForceInterruptParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.unsupportedForceInterrupt)
	case pxeapi.OpUNDIGetState:
		return handle[pxeapi.UndiGetStateParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.undiGetState)
	case pxeapi.OpUNDIISR:
		return d.handleISR(paramPtr)
	case pxeapi.OpStopUNDI:
		return handle[pxeapi.StopUndiParams](d, state.Unloaded, pxeapi.StatusKeepUNDI, paramPtr, d.stopUndi)

	case pxeapi.OpTFTPOpen:
		return handle[pxeapi.TftpOpenParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.tftpOpen)
	case pxeapi.OpTFTPClose:
		return handle[pxeapi.TftpCloseParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.tftpClose)
	case pxeapi.OpTFTPRead:
		return handle[pxeapi.TftpReadParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.tftpRead)
	case pxeapi.OpTFTPReadFile:
		return handle[pxeapi.TftpReadFileParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.tftpReadFile)
	case pxeapi.OpTFTPGetFSize:
		return handle[pxeapi.TftpGetFSizeParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.tftpGetFSize)

	case pxeapi.OpUDPOpen:
		return handle[pxeapi.UdpOpenParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.udpOpen)
	case pxeapi.OpUDPClose:
		return handle[pxeapi.UdpCloseParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.udpClose)
	case pxeapi.OpUDPRead:
		return handle[pxeapi.UdpReadParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.udpRead)
	case pxeapi.OpUDPWrite:
		return handle[pxeapi.UdpWriteParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.udpWrite)

	case pxeapi.OpUnloadStack:
		return handle[pxeapi.UnloadStackParams](d, state.Unloaded, pxeapi.StatusKeepAll, paramPtr, d.unloadStack)
	case pxeapi.OpGetCachedInfo:
		return handle[pxeapi.GetCachedInfoParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.getCachedInfo)
	case pxeapi.OpRestartTFTP:
		return handle[pxeapi.RestartTftpParams](d, state.Ready, pxeapi.StatusUNDIInvalidState, paramPtr, d.restartTFTP)
	case pxeapi.OpStartBase:
		return handle[pxeapi.StartBaseParams](d, state.Unloaded, pxeapi.StatusUnsupported, paramPtr, func(*pxeapi.StartBaseParams) pxeapi.Status {
			return pxeapi.StatusUnsupported
		})
	case pxeapi.OpStopBase:
		return handle[pxeapi.StopBaseParams](d, state.Unloaded, pxeapi.StatusSuccess, paramPtr, func(*pxeapi.StopBaseParams) pxeapi.Status {
			return pxeapi.StatusSuccess
		})
	case pxeapi.OpUNDILoader:
		return d.handleLoader(paramPtr)

	default:
		debugf("unsupported opcode %#04x", uint16(opcode))
		d.writeUnsupported(paramPtr)
		return pxeapi.ExitFailure
	}
}

func (d *Dispatcher) startUndi(p *pxeapi.StartUndiParams) pxeapi.Status {
	d.UNDI.PCIBusDevFn = p.AX
	d.UNDI.Prestarted = true
	return pxeapi.StatusSuccess
}

func (d *Dispatcher) undiStartup(*pxeapi.UndiStartupParams) pxeapi.Status {
	d.UNDI.Started = true
	return pxeapi.StatusSuccess
}

func (d *Dispatcher) undiCleanup(*pxeapi.UndiCleanupParams) pxeapi.Status {
	d.UNDI.Started = false
	return pxeapi.StatusSuccess
}

func (d *Dispatcher) undiInitialize(*pxeapi.UndiInitializeParams) pxeapi.Status {
	d.UNDI.Initialized = true
	return pxeapi.StatusSuccess
}

func (d *Dispatcher) undiResetAdapter(*pxeapi.UndiResetAdapterParams) pxeapi.Status {
	return pxeapi.StatusSuccess
}

func (d *Dispatcher) undiShutdown(*pxeapi.UndiShutdownParams) pxeapi.Status {
	d.UNDI.Initialized = false
	return pxeapi.StatusSuccess
}

func (d *Dispatcher) undiOpen(*pxeapi.UndiOpenParams) pxeapi.Status {
	d.UNDI.Opened = true
	return pxeapi.StatusSuccess
}

func (d *Dispatcher) undiClose(*pxeapi.UndiCloseParams) pxeapi.Status {
	d.UNDI.Opened = false
	d.ISR.Reset()
	return pxeapi.StatusSuccess
}

func (d *Dispatcher) undiTransmit(p *pxeapi.UndiTransmitParams) pxeapi.Status {
	var dest net.HardwareAddr

	if p.XmitFlag == pxeapi.XmitDestAddr {
		raw := make([]byte, d.LinkLayerAddrLen)
		d.Mem.Read(p.DestAddr.Linear(), raw)
		dest = net.HardwareAddr(raw)
	}

	if err := d.TX.Transmit(p.TBD, p.Protocol, p.XmitFlag, dest, d.LinkLayerAddrLen); err != nil {
		debugf("transmit failed: %v", err)
		return pxeapi.StatusUNDIInvalidParameter
	}

	d.ISR.NoteTransmit()

	return pxeapi.StatusSuccess
}

func (d *Dispatcher) undiSetStationAddress(p *pxeapi.UndiSetStationAddressParams) pxeapi.Status {
	requested := net.HardwareAddr(p.StationAddress[:d.LinkLayerAddrLen])

	if d.UNDI.StationAddr == nil {
		d.UNDI.StationAddr = d.Device.Address()
	}

	if requested.String() != d.UNDI.StationAddr.String() {
		return pxeapi.StatusUnsupported
	}

	return pxeapi.StatusSuccess
}

func (d *Dispatcher) undiGetInformation(p *pxeapi.UndiGetInformationParams) pxeapi.Status {
	p.BaseIo = d.UNDI.IOBase
	p.IntNumber = d.UNDI.IRQ
	p.MaxTranUnit = d.UNDI.MTU
	p.HwType = d.UNDI.HWType
	p.HwAddrLen = uint16(d.LinkLayerAddrLen)

	addr := d.Device.Address()
	copy(p.CurrentNodeAddress[:], addr)
	copy(p.PermNodeAddress[:], addr)

	return pxeapi.StatusSuccess
}

func (d *Dispatcher) undiGetStatistics(p *pxeapi.UndiGetStatisticsParams) pxeapi.Status {
	stats := d.Device.Statistics()

	p.XmtGoodFrames = stats.TxCount
	p.RcvGoodFrames = stats.RxCount
	p.RcvCRCErrors = stats.RxErrors
	p.RcvResourceErrors = 0

	return pxeapi.StatusSuccess
}

func (d *Dispatcher) undiClearStatistics(*pxeapi.UndiClearStatisticsParams) pxeapi.Status {
	d.Device.ClearStatistics()
	return pxeapi.StatusSuccess
}

func (d *Dispatcher) undiGetNicType(p *pxeapi.UndiGetNicTypeParams) pxeapi.Status {
	const nicTypePCI = 2

	p.NicType = nicTypePCI
	p.BusDevFn = d.UNDI.PCIBusDevFn

	return pxeapi.StatusSuccess
}

func (d *Dispatcher) undiGetIfaceInfo(p *pxeapi.UndiGetIfaceInfoParams) pxeapi.Status {
	copy(p.IfaceType[:], "Ethernet")
	return pxeapi.StatusSuccess
}

// unsupportedSetMcast, unsupportedGetMcast, unsupportedDiags and
// unsupportedForceInterrupt are carried for opcode-table completeness
// only: spec.md's Non-goals exclude multicast filtering beyond
// broadcast+directed and on-card diagnostics.
func (d *Dispatcher) unsupportedSetMcast(*pxeapi.UndiSetMcastAddressParams) pxeapi.Status {
	return pxeapi.StatusUnsupported
}

func (d *Dispatcher) unsupportedGetMcast(*pxeapi.UndiGetMcastAddressParams) pxeapi.Status {
	return pxeapi.StatusUnsupported
}

func (d *Dispatcher) unsupportedDiags(*pxeapi.UndiInitiateDiagsParams) pxeapi.Status {
	return pxeapi.StatusUnsupported
}

func (d *Dispatcher) unsupportedForceInterrupt(*pxeapi.UndiForceInterruptParams) pxeapi.Status {
	return pxeapi.StatusUnsupported
}

// undiGetState always fails: the original marks this opcode "impossible"
// because its answer would have to alias the stop opcode, the same reason
// spec.md §3 gives for shadowing driver state in four latched flags
// instead of querying it.
func (d *Dispatcher) undiGetState(*pxeapi.UndiGetStateParams) pxeapi.Status {
	return pxeapi.StatusUnsupported
}

func (d *Dispatcher) stopUndi(*pxeapi.StopUndiParams) pxeapi.Status {
	d.UNDI = UNDIDescriptor{}
	return pxeapi.StatusSuccess
}

// handleISR is exempt from the generic ensure_state assertion per
// spec.md §4.2: it may run from a hardware interrupt, where blocking a
// state transition would be unsafe. It hard-checks Ready instead.
func (d *Dispatcher) handleISR(paramPtr pxeapi.SegOff) pxeapi.Exit {
	var p pxeapi.UndiIsrParams

	raw := make([]byte, pxeapi.Size(&p))
	d.Mem.Read(paramPtr.Linear(), raw)
	pxeapi.Unmarshal(raw, &p)

	if d.State.Current() != state.Ready {
		p.Status = pxeapi.StatusUNDIInvalidState
		d.Mem.Write(paramPtr.Linear(), pxeapi.Bytes(&p))
		return pxeapi.ExitFailure
	}

	result := d.ISR.Process(p.FuncFlag)

	p.FuncFlag = result.FuncFlag
	p.Status = result.Status
	p.BufferLength = result.BufferLength
	p.FrameLength = result.FrameLength
	p.FrameHeaderLength = result.FrameHeaderLength
	p.Frame = result.Frame
	p.ProtType = result.ProtType
	p.PktType = result.PktType

	d.Mem.Write(paramPtr.Linear(), pxeapi.Bytes(&p))

	if result.Status == pxeapi.StatusSuccess {
		return pxeapi.ExitSuccess
	}

	return pxeapi.ExitFailure
}

func (d *Dispatcher) tftpOpen(p *pxeapi.TftpOpenParams) pxeapi.Status {
	if d.TFTP == nil {
		return pxeapi.StatusTFTPCannotOpenConnection
	}

	name := cString(p.Filename[:])

	var block transport.Block
	if err := d.TFTP.Block(&transport.TFTPRequest{ServerIP: net.IP(p.ServerIP[:]), Filename: name}, &block); err != nil {
		return pxeapi.StatusTFTPOpenTimeout
	}

	return pxeapi.StatusSuccess
}

func (d *Dispatcher) tftpClose(*pxeapi.TftpCloseParams) pxeapi.Status {
	return pxeapi.StatusSuccess
}

func (d *Dispatcher) tftpRead(p *pxeapi.TftpReadParams) pxeapi.Status {
	if d.TFTP == nil {
		return pxeapi.StatusTFTPCannotReadFromConnection
	}

	var block transport.Block
	if err := d.TFTP.Block(nil, &block); err != nil {
		return pxeapi.StatusTFTPReadTimeout
	}

	n := len(block.Data)
	if n > int(p.BufferSize) {
		n = int(p.BufferSize)
	}

	d.Mem.Write(p.Buffer.Linear(), block.Data[:n])
	p.PacketNumber = block.Number

	return pxeapi.StatusSuccess
}

func (d *Dispatcher) tftpReadFile(p *pxeapi.TftpReadFileParams) pxeapi.Status {
	if d.TFTP == nil {
		return pxeapi.StatusTFTPCannotOpenConnection
	}

	name := cString(p.FileName[:])
	off := uint32(0)

	err := d.TFTP.ReadFile(net.IP(p.ServerIP[:]), name, func(b transport.Block) error {
		if off+uint32(len(b.Data)) > p.BufferSize {
			return errBufferTooSmall
		}

		d.Mem.Write(p.Buffer+off, b.Data)
		off += uint32(len(b.Data))

		return nil
	})

	if err != nil {
		return pxeapi.StatusTFTPFileNotFound
	}

	return pxeapi.StatusSuccess
}

func (d *Dispatcher) tftpGetFSize(p *pxeapi.TftpGetFSizeParams) pxeapi.Status {
	if d.TFTP == nil {
		return pxeapi.StatusTFTPFileNotFound
	}

	size, err := d.TFTP.FileSize(net.IP(p.ServerIP[:]), cString(p.Filename[:]))
	if err != nil {
		return pxeapi.StatusTFTPFileNotFound
	}

	p.FileSize = size

	return pxeapi.StatusSuccess
}

func (d *Dispatcher) udpOpen(*pxeapi.UdpOpenParams) pxeapi.Status {
	return pxeapi.StatusSuccess
}

func (d *Dispatcher) udpClose(*pxeapi.UdpCloseParams) pxeapi.Status {
	return pxeapi.StatusSuccess
}

func (d *Dispatcher) udpWrite(p *pxeapi.UdpWriteParams) pxeapi.Status {
	if d.UDP == nil {
		return pxeapi.StatusUDPClosed
	}

	payload := make([]byte, p.BufferSize)
	d.Mem.Read(p.Buffer.Linear(), payload)

	if err := d.UDP.Transmit(net.IP(p.IPAddr[:]), p.SrcPort, p.DstPort, payload); err != nil {
		return pxeapi.StatusUDPClosed
	}

	return pxeapi.StatusSuccess
}

// udpRead defaults to Status = FAILURE before calling AwaitReply, matching
// the original's default and leaving the precise timeout status
// implementation-defined (spec.md §9, open question #2).
func (d *Dispatcher) udpRead(p *pxeapi.UdpReadParams) pxeapi.Status {
	if d.UDP == nil {
		return pxeapi.StatusFailure
	}

	filter := transport.ReplyFilter{
		LocalPort: p.DestPort,
		PeerIP:    net.IP(p.SrcIP[:]),
		PeerPort:  p.SrcPort,
	}

	srcIP, srcPort, payload, matched := d.UDP.AwaitReply(filter, 0)
	if !matched {
		return pxeapi.StatusFailure
	}

	n := len(payload)
	if n > int(p.BufferSize) {
		n = int(p.BufferSize)
	}

	d.Mem.Write(p.Buffer.Linear(), payload[:n])
	copy(p.SrcIP[:], srcIP.To4())
	p.SrcPort = srcPort

	return pxeapi.StatusSuccess
}

func (d *Dispatcher) unloadStack(*pxeapi.UnloadStackParams) pxeapi.Status {
	if d.Teardown != nil && !d.Teardown() {
		return pxeapi.StatusKeepAll
	}

	return pxeapi.StatusSuccess
}

func (d *Dispatcher) getCachedInfo(p *pxeapi.GetCachedInfoParams) pxeapi.Status {
	entry, ok := d.cache[p.PacketType]
	if !ok {
		entry = &pxeapi.BootPlayer{}
		d.cache[p.PacketType] = entry
	}

	if d.risFilename != "" {
		copy(entry.BootFile[:], d.risFilename)
	}

	raw := entry.Bytes()

	// Open question #4: Buffer == 0 with BufferSize != 0 is treated the
	// same as BufferSize == 0, matching the original rather than
	// rejecting it as an invalid parameter.
	if p.Buffer.IsZero() {
		p.Buffer = pxeapi.SegOff{Offset: 0, Segment: uint16(d.cacheAddr >> 4)}
		p.BufferSize = uint16(len(raw))
		d.Mem.Write(d.cacheAddr, raw)
		return pxeapi.StatusSuccess
	}

	n := len(raw)
	if n > int(p.BufferSize) {
		n = int(p.BufferSize)
	}

	d.Mem.Write(p.Buffer.Linear(), raw[:n])

	return pxeapi.StatusSuccess
}

func (d *Dispatcher) restartTFTP(p *pxeapi.RestartTftpParams) pxeapi.Status {
	d.risFilename = cString(p.FileName[:])

	// The image always loads at the fixed physical address 0x7C00,
	// whatever Buffer the caller supplied.
	p.Buffer = 0x7C00

	status := d.tftpReadFile(&p.TftpReadFileParams)
	if status != pxeapi.StatusSuccess {
		return status
	}

	if d.StartNBP != nil {
		d.StartNBP()
	}

	return pxeapi.StatusSuccess
}

func (d *Dispatcher) handleLoader(paramPtr pxeapi.SegOff) pxeapi.Exit {
	var p pxeapi.UndiLoaderParams

	raw := make([]byte, pxeapi.Size(&p))
	d.Mem.Read(paramPtr.Linear(), raw)
	pxeapi.Unmarshal(raw, &p)

	status := pxeapi.StatusUnsupported
	if d.Loader != nil {
		status = d.Loader(&p)
	}

	p.Status = status
	d.Mem.Write(paramPtr.Linear(), pxeapi.Bytes(&p))

	if status == pxeapi.StatusSuccess {
		return pxeapi.ExitSuccess
	}

	return pxeapi.ExitFailure
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}

	return string(b)
}

type bufferTooSmall struct{}

func (bufferTooSmall) Error() string { return "dispatch: caller buffer too small for TFTP transfer" }

var errBufferTooSmall = bufferTooSmall{}
