package isr

import (
	"net"
	"testing"

	"github.com/netboot-go/pxecore/internal/physmem"
	"github.com/netboot-go/pxecore/netdev"
	"github.com/netboot-go/pxecore/pxeapi"
)

type fakeDevice struct {
	addr      net.HardwareAddr
	rx        [][]byte
	irqMode   netdev.IRQMode
	polled    int
	txEmpty   bool
}

func (f *fakeDevice) Probe() (net.HardwareAddr, error) { return f.addr, nil }
func (f *fakeDevice) Address() net.HardwareAddr         { return f.addr }
func (f *fakeDevice) Disable() error                    { return nil }
func (f *fakeDevice) Transmit(frame []byte) error       { return nil }
func (f *fakeDevice) TXQueueEmpty() bool                { return f.txEmpty }
func (f *fakeDevice) IRQ(mode netdev.IRQMode)           { f.irqMode = mode }
func (f *fakeDevice) Statistics() netdev.Statistics     { return netdev.Statistics{} }
func (f *fakeDevice) ClearStatistics()                  {}

func (f *fakeDevice) Poll() ([]byte, bool) {
	f.polled++

	if len(f.rx) == 0 {
		return nil, false
	}

	frame := f.rx[0]
	f.rx = f.rx[1:]

	return frame, true
}

func ethFrame(dst, src net.HardwareAddr, ethertype uint16, payload []byte) []byte {
	frame := make([]byte, 14+len(payload))
	copy(frame[0:6], dst)
	copy(frame[6:12], src)
	frame[12] = byte(ethertype >> 8)
	frame[13] = byte(ethertype)
	copy(frame[14:], payload)
	return frame
}

func TestInStartAlwaysClaimsInterrupt(t *testing.T) {
	dev := &fakeDevice{addr: net.HardwareAddr{1, 2, 3, 4, 5, 6}}
	p := New(dev, &physmem.Sim{Base: 0, Data: make([]byte, 4096)}, 0x1000, 1514)

	result := p.Process(pxeapi.ISRInStart)

	if result.FuncFlag != pxeapi.ISROutOurs {
		t.Fatalf("expected OUT_OURS, got %v", result.FuncFlag)
	}

	if dev.irqMode != netdev.IRQDisable {
		t.Fatal("IN_START should disable the device IRQ")
	}
}

func TestHarvestDrainsTransmitBeforeReceive(t *testing.T) {
	dev := &fakeDevice{addr: net.HardwareAddr{1, 2, 3, 4, 5, 6}, txEmpty: true}
	p := New(dev, &physmem.Sim{Base: 0, Data: make([]byte, 4096)}, 0x1000, 1514)

	p.NoteTransmit()

	result := p.Process(pxeapi.ISRInProcess)

	if result.FuncFlag != pxeapi.ISROutTransmit {
		t.Fatalf("expected OUT_TRANSMIT, got %v", result.FuncFlag)
	}

	if p.Outstanding() != 0 {
		t.Fatalf("expected outstanding count to reach 0, got %d", p.Outstanding())
	}
}

func TestHarvestDeliversReceivedFrame(t *testing.T) {
	dev := &fakeDevice{addr: net.HardwareAddr{1, 2, 3, 4, 5, 6}}
	dev.rx = append(dev.rx, ethFrame(
		net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		0x0806,
		make([]byte, 28),
	))

	mem := &physmem.Sim{Base: 0, Data: make([]byte, 4096)}
	p := New(dev, mem, 0x1000, 1514)

	result := p.Process(pxeapi.ISRInProcess)

	if result.FuncFlag != pxeapi.ISROutReceive {
		t.Fatalf("expected OUT_RECEIVE, got %v", result.FuncFlag)
	}

	if result.ProtType != pxeapi.ProtARP {
		t.Fatalf("expected ARP prot type, got %v", result.ProtType)
	}

	if result.PktType != pxeapi.PktTypeBroadcast {
		t.Fatalf("expected broadcast pkt type, got %v", result.PktType)
	}
}

func TestHarvestReportsActualCopiedLengthNotBounceCapacity(t *testing.T) {
	dev := &fakeDevice{addr: net.HardwareAddr{1, 2, 3, 4, 5, 6}}
	frame := ethFrame(
		net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		0x0806,
		make([]byte, 28),
	)
	dev.rx = append(dev.rx, frame)

	p := New(dev, &physmem.Sim{Base: 0, Data: make([]byte, 4096)}, 0x1000, 1514)

	result := p.Process(pxeapi.ISRInProcess)

	if result.FuncFlag != pxeapi.ISROutReceive {
		t.Fatalf("expected OUT_RECEIVE, got %v", result.FuncFlag)
	}

	if int(result.BufferLength) != len(frame) {
		t.Fatalf("BufferLength must report the bytes actually copied (%d), not the bounce buffer's 1514-byte capacity, got %d", len(frame), result.BufferLength)
	}

	if result.BufferLength != result.FrameLength {
		t.Fatalf("BufferLength and FrameLength must agree on the copied length, got %d and %d", result.BufferLength, result.FrameLength)
	}
}

func TestHarvestReturnsDoneAndReArmsWhenEmpty(t *testing.T) {
	dev := &fakeDevice{addr: net.HardwareAddr{1, 2, 3, 4, 5, 6}}
	p := New(dev, &physmem.Sim{Base: 0, Data: make([]byte, 4096)}, 0x1000, 1514)

	result := p.Process(pxeapi.ISRInGetNext)

	if result.FuncFlag != pxeapi.ISROutDone {
		t.Fatalf("expected OUT_DONE, got %v", result.FuncFlag)
	}

	if dev.irqMode != netdev.IRQEnable {
		t.Fatal("draining to empty should re-enable the device IRQ")
	}
}

func TestHarvestFiltersLoopbackSelfTraffic(t *testing.T) {
	own := net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}

	dev := &fakeDevice{addr: own}
	// An ARP reply whose Ethernet source is our own station address:
	// scenario 3, a broadcast-loopback self-reply must never surface as
	// OUT_RECEIVE.
	dev.rx = append(dev.rx, ethFrame(
		net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		own,
		0x0806,
		make([]byte, 28),
	))

	p := New(dev, &physmem.Sim{Base: 0, Data: make([]byte, 4096)}, 0x1000, 1514)

	result := p.Process(pxeapi.ISRInProcess)

	if result.FuncFlag != pxeapi.ISROutDone {
		t.Fatalf("expected the loopback frame to be silently dropped, got %v", result.FuncFlag)
	}
}

func TestUnknownSubOpcodeReturnsInvalidParameter(t *testing.T) {
	dev := &fakeDevice{addr: net.HardwareAddr{1, 2, 3, 4, 5, 6}}
	p := New(dev, &physmem.Sim{Base: 0, Data: make([]byte, 4096)}, 0x1000, 1514)

	result := p.Process(99)

	if result.FuncFlag != pxeapi.ISROutDone || result.Status != pxeapi.StatusUNDIInvalidParameter {
		t.Fatalf("expected OUT_DONE/UNDI_INVALID_PARAMETER, got %v/%v", result.FuncFlag, result.Status)
	}
}
