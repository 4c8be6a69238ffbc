package tx

import (
	"net"
	"testing"

	"github.com/netboot-go/pxecore/internal/physmem"
	"github.com/netboot-go/pxecore/netdev"
	"github.com/netboot-go/pxecore/pxeapi"
)

type fakeDevice struct {
	addr net.HardwareAddr
	sent [][]byte
}

func (f *fakeDevice) Probe() (net.HardwareAddr, error) { return f.addr, nil }
func (f *fakeDevice) Address() net.HardwareAddr        { return f.addr }
func (f *fakeDevice) Disable() error                   { return nil }
func (f *fakeDevice) Poll() ([]byte, bool)             { return nil, false }
func (f *fakeDevice) TXQueueEmpty() bool               { return true }
func (f *fakeDevice) IRQ(netdev.IRQMode)                {}
func (f *fakeDevice) Statistics() netdev.Statistics    { return netdev.Statistics{} }
func (f *fakeDevice) ClearStatistics()                 {}

func (f *fakeDevice) Transmit(frame []byte) error {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.sent = append(f.sent, cp)
	return nil
}

// writeTBD places tbd's on-wire encoding at addr in mem and returns the
// SegOff a caller's UNDI_TRANSMIT parameter block would point at.
func writeTBD(mem physmem.Memory, addr uint32, tbd *pxeapi.TBD) pxeapi.SegOff {
	mem.Write(addr, tbd.Bytes())
	return pxeapi.SegOff{Segment: uint16(addr >> 4), Offset: 0}
}

// TestTransmitARPBroadcastSendsFrameWithBroadcastDestination is spec.md
// §8 scenario 2: Protocol = 2 (ARP), XmitFlag = 1 (BROADCAST),
// ImmedLength = 28, DataBlkCount = 0. The device must see exactly one
// transmit whose first 6 bytes are FF FF FF FF FF FF.
func TestTransmitARPBroadcastSendsFrameWithBroadcastDestination(t *testing.T) {
	mem := &physmem.Sim{Base: 0, Data: make([]byte, 0x10000)}
	dev := &fakeDevice{addr: net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}}
	b := &Builder{Mem: mem, Device: dev}

	immediate := make([]byte, 28)
	for i := range immediate {
		immediate[i] = byte(i)
	}
	mem.Write(0x3000, immediate)

	tbd := &pxeapi.TBD{
		ImmedLength:  28,
		Xmit:         pxeapi.SegOff{Segment: 0x300, Offset: 0},
		DataBlkCount: 0,
	}
	tbdPtr := writeTBD(mem, 0x2000, tbd)

	if err := b.Transmit(tbdPtr, pxeapi.ProtARP, pxeapi.XmitBroadcast, nil, 6); err != nil {
		t.Fatalf("expected ARP broadcast transmit to succeed, got %v", err)
	}

	if len(dev.sent) != 1 {
		t.Fatalf("expected exactly one transmit, got %d", len(dev.sent))
	}

	frame := dev.sent[0]

	want := net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	if got := net.HardwareAddr(frame[:6]); got.String() != want.String() {
		t.Fatalf("expected first 6 bytes to be the broadcast address %v, got %v", want, got)
	}

	if len(frame) != EthernetHeaderLen+28 {
		t.Fatalf("expected frame length %d (header + 28-byte immediate payload), got %d", EthernetHeaderLen+28, len(frame))
	}

	if got := net.HardwareAddr(frame[6:12]); got.String() != dev.addr.String() {
		t.Fatalf("expected source address to be the device's own, got %v", got)
	}
}

// TestTransmitDataBlkCountOverEightIsRejected is spec.md §8's boundary
// behaviour: DataBlkCount > 8 (MAX_DATA_BLKS) must fail validation rather
// than read past the TBD's scatter-gather array.
func TestTransmitDataBlkCountOverEightIsRejected(t *testing.T) {
	mem := &physmem.Sim{Base: 0, Data: make([]byte, 0x10000)}
	dev := &fakeDevice{addr: net.HardwareAddr{1, 2, 3, 4, 5, 6}}
	b := &Builder{Mem: mem, Device: dev}

	tbd := &pxeapi.TBD{DataBlkCount: pxeapi.MaxDataBlks + 1}
	tbdPtr := writeTBD(mem, 0x2000, tbd)

	if err := b.Transmit(tbdPtr, pxeapi.ProtIP, pxeapi.XmitBroadcast, nil, 6); err == nil {
		t.Fatal("expected DataBlkCount > MAX_DATA_BLKS to be rejected")
	}

	if len(dev.sent) != 0 {
		t.Fatal("a rejected transmit must not reach the device")
	}
}

// TestTransmitZeroPayloadStillSendsLinkLayerHeaderOnly is spec.md §8's
// other boundary case: DataBlkCount == 0 and ImmedLength == 0 succeeds,
// producing a link-layer-header-only frame.
func TestTransmitZeroPayloadStillSendsLinkLayerHeaderOnly(t *testing.T) {
	mem := &physmem.Sim{Base: 0, Data: make([]byte, 0x10000)}
	dev := &fakeDevice{addr: net.HardwareAddr{1, 2, 3, 4, 5, 6}}
	b := &Builder{Mem: mem, Device: dev}

	tbd := &pxeapi.TBD{ImmedLength: 0, DataBlkCount: 0}
	tbdPtr := writeTBD(mem, 0x2000, tbd)

	if err := b.Transmit(tbdPtr, pxeapi.ProtIP, pxeapi.XmitBroadcast, nil, 6); err != nil {
		t.Fatalf("expected a zero-payload transmit to succeed, got %v", err)
	}

	if len(dev.sent) != 1 {
		t.Fatalf("expected exactly one transmit, got %d", len(dev.sent))
	}

	if len(dev.sent[0]) != EthernetHeaderLen {
		t.Fatalf("expected a header-only frame of %d bytes, got %d", EthernetHeaderLen, len(dev.sent[0]))
	}
}

// TestTransmitUnknownProtocolSkipsLinkLayerHeader: Protocol UNKNOWN (0)
// transmits the raw payload with no link-layer header prepended.
func TestTransmitUnknownProtocolSkipsLinkLayerHeader(t *testing.T) {
	mem := &physmem.Sim{Base: 0, Data: make([]byte, 0x10000)}
	dev := &fakeDevice{addr: net.HardwareAddr{1, 2, 3, 4, 5, 6}}
	b := &Builder{Mem: mem, Device: dev}

	immediate := []byte{0x11, 0x22, 0x33}
	mem.Write(0x3000, immediate)

	tbd := &pxeapi.TBD{ImmedLength: uint16(len(immediate)), Xmit: pxeapi.SegOff{Segment: 0x300, Offset: 0}}
	tbdPtr := writeTBD(mem, 0x2000, tbd)

	if err := b.Transmit(tbdPtr, 0, pxeapi.XmitBroadcast, nil, 6); err != nil {
		t.Fatalf("expected UNKNOWN protocol transmit to succeed, got %v", err)
	}

	if len(dev.sent[0]) != len(immediate) {
		t.Fatalf("expected no link-layer header, frame length %d, got %d", len(immediate), len(dev.sent[0]))
	}
}

// TestTransmitInvalidProtocolIsRejected covers an unmapped Protocol value.
func TestTransmitInvalidProtocolIsRejected(t *testing.T) {
	mem := &physmem.Sim{Base: 0, Data: make([]byte, 0x10000)}
	dev := &fakeDevice{addr: net.HardwareAddr{1, 2, 3, 4, 5, 6}}
	b := &Builder{Mem: mem, Device: dev}

	tbd := &pxeapi.TBD{}
	tbdPtr := writeTBD(mem, 0x2000, tbd)

	if err := b.Transmit(tbdPtr, 0xff, pxeapi.XmitBroadcast, nil, 6); err == nil {
		t.Fatal("expected an unrecognised Protocol value to be rejected")
	}
}
