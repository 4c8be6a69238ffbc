// ISR pump: PXENV_UNDI_ISR sub-opcode handling over a polled net_device
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package isr implements the PXENV_UNDI_ISR pseudo-poll emulation:
// IN_START claims the (real or simulated) hardware interrupt and masks the
// device's vector; IN_PROCESS/IN_GET_NEXT harvest one event per call,
// reporting a drained transmit-completion counter before a received
// packet, and re-enabling the interrupt once both are empty. The pump is
// single-threaded cooperative, matching spec.md §5: it never suspends and
// mutates only the bounded queue-based state spec.md §4.5 names (the RX
// queue netdev.Device already owns and the outstanding-TX counter here).
package isr

import (
	"encoding/binary"
	"net"

	"gvisor.dev/gvisor/pkg/tcpip/header"

	"github.com/netboot-go/pxecore/internal/physmem"
	"github.com/netboot-go/pxecore/netdev"
	"github.com/netboot-go/pxecore/pxeapi"
)

// Result is what one PXENV_UNDI_ISR cycle reports back to the caller.
type Result struct {
	FuncFlag          uint16
	Status            pxeapi.Status
	BufferLength      uint16
	FrameLength       uint16
	FrameHeaderLength uint16
	Frame             pxeapi.SegOff
	ProtType          uint8
	PktType           uint8
}

// Pump drives one net_device through the ISR sub-opcode protocol. Bounce
// is the fixed-location conventional-memory buffer received frames are
// copied into before being reported to the NBP (spec.md §4.5, "size-
// limited"); BounceAddr/BounceLen describe where it lives so Result.Frame
// can point at it.
type Pump struct {
	Device     netdev.Device
	Mem        physmem.Memory
	BounceAddr uint32
	BounceLen  int

	outstandingTX int

	// held keeps, in arrival order, frames a Poll returned before a
	// harvest call could report them.
	held [][]byte
}

// New returns a Pump bound to device, writing received frames into the
// bounce buffer at [bounceAddr, bounceAddr+bounceLen).
func New(device netdev.Device, mem physmem.Memory, bounceAddr uint32, bounceLen int) *Pump {
	return &Pump{Device: device, Mem: mem, BounceAddr: bounceAddr, BounceLen: bounceLen}
}

// NoteTransmit records one PXENV_UNDI_TRANSMIT that validated
// successfully, so a later ISR cycle has something to drain. Called by the
// dispatcher after tx.Builder.Transmit succeeds.
func (p *Pump) NoteTransmit() {
	p.outstandingTX++
}

// Reset zeroes the outstanding-TX counter. Called on PXENV_UNDI_CLOSE or
// any transition to <= Midway, per spec.md §4.5's cancellation policy.
func (p *Pump) Reset() {
	p.outstandingTX = 0
}

// Outstanding reports the current outstanding-TX count, for tests and the
// dispatcher's own bookkeeping.
func (p *Pump) Outstanding() int {
	return p.outstandingTX
}

// Process runs one PXENV_UNDI_ISR sub-opcode. The caller is responsible
// for the "currently Ready" hard check spec.md §4.2 requires before
// calling Process at all; Process itself assumes the device is live.
func (p *Pump) Process(funcFlag uint16) Result {
	switch funcFlag {
	case pxeapi.ISRInStart:
		return p.start()
	case pxeapi.ISRInProcess, pxeapi.ISRInGetNext:
		return p.harvest()
	default:
		return Result{FuncFlag: pxeapi.ISROutDone, Status: pxeapi.StatusUNDIInvalidParameter}
	}
}

// start claims the interrupt. Open question #3: this unconditionally
// reports OUT_OURS rather than querying the UNDI driver for the same
// sub-op, matching the original's documented simplification over strict
// PXE conformance.
func (p *Pump) start() Result {
	if frame, ok := p.Device.Poll(); ok {
		p.held = append(p.held, frame)
	}
	p.Device.IRQ(netdev.IRQDisable)

	return Result{FuncFlag: pxeapi.ISROutOurs, Status: pxeapi.StatusSuccess}
}

// harvest implements IN_PROCESS/IN_GET_NEXT: poll again to cover NBPs that
// skip IN_START, drain one transmit completion if one is owed and the
// device's queue has caught up, otherwise dequeue one received packet, or
// report OUT_DONE and re-arm the interrupt if there is nothing left.
func (p *Pump) harvest() Result {
	if frame, ok := p.Device.Poll(); ok {
		p.held = append(p.held, frame)
	}

	if p.outstandingTX > 0 && p.Device.TXQueueEmpty() {
		p.outstandingTX--
		return Result{FuncFlag: pxeapi.ISROutTransmit, Status: pxeapi.StatusSuccess}
	}

	for {
		var frame []byte

		if len(p.held) > 0 {
			frame, p.held = p.held[0], p.held[1:]
		} else if polled, ok := p.Device.Poll(); ok {
			frame = polled
		} else {
			p.Device.IRQ(netdev.IRQEnable)
			return Result{FuncFlag: pxeapi.ISROutDone, Status: pxeapi.StatusSuccess}
		}

		if p.isLoopback(frame) {
			// Our own transmission echoed back to us (scenario: a
			// broadcast ARP reply whose sender is our own station
			// address). Consumed, but never handed to the NBP.
			continue
		}

		return p.deliver(frame)
	}
}

// isLoopback reports whether frame's Ethernet source address is our own,
// the self-filter spec.md §8 scenario 3 requires so a looped-back
// broadcast never reaches the NBP as a spurious receive.
func (p *Pump) isLoopback(frame []byte) bool {
	if len(frame) < 12 {
		return false
	}

	src := net.HardwareAddr(frame[6:12])
	own := p.Device.Address()

	return len(own) > 0 && src.String() == own.String()
}

func (p *Pump) deliver(frame []byte) Result {
	n := len(frame)
	if p.BounceLen > 0 && n > p.BounceLen {
		n = p.BounceLen
	}

	if p.Mem != nil {
		p.Mem.Write(p.BounceAddr, frame[:n])
	}

	headerLen := 0
	if n >= header.EthernetMinimumSize {
		headerLen = header.EthernetMinimumSize
	}

	protType, pktType := classify(frame)

	return Result{
		FuncFlag:          pxeapi.ISROutReceive,
		Status:            pxeapi.StatusSuccess,
		BufferLength:      uint16(n),
		FrameLength:       uint16(n),
		FrameHeaderLength: uint16(headerLen),
		Frame:             pxeapi.SegOff{Offset: 0, Segment: uint16(p.BounceAddr >> 4)},
		ProtType:          protType,
		PktType:           pktType,
	}
}

// ethertypeRARP has no header.* constant in gVisor; tx.EthertypeRARP
// carries the same reasoning.
const ethertypeRARP = 0x8035

func classify(frame []byte) (protType, pktType uint8) {
	pktType = pxeapi.PktTypeUnicast

	if len(frame) >= 1 && frame[0]&0x01 == 1 {
		pktType = pxeapi.PktTypeBroadcast
	}

	if len(frame) < header.EthernetMinimumSize {
		return 0, pktType
	}

	switch binary.BigEndian.Uint16(frame[12:14]) {
	case uint16(header.IPv4ProtocolNumber):
		protType = pxeapi.ProtIP
	case uint16(header.ARPProtocolNumber):
		protType = pxeapi.ProtARP
	case ethertypeRARP:
		protType = pxeapi.ProtRARP
	}

	return protType, pktType
}
