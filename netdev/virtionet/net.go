// VirtIO network device, adapted as a netdev.Device
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package virtionet

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/netboot-go/pxecore/arena"
	"github.com/netboot-go/pxecore/irqmask"
	"github.com/netboot-go/pxecore/netdev"
)

const queueSize = 16
const segmentSize = 2048

// Net is a VirtIO network device instance, implementing netdev.Device.
type Net struct {
	sync.Mutex

	// Index is the controller index, for diagnostics only.
	Index int
	// Base is the VirtIO MMIO base address.
	Base uint32
	// MAC is the device's link-layer address; if nil, Probe generates a
	// locally-administered unicast address.
	MAC net.HardwareAddr

	// IRQ optionally masks/unmasks the device's interrupt line through
	// the I/O APIC redirection table.
	IRQLine  *irqmask.Controller
	IRQIndex int

	io    transport
	txq   virtualQueue
	rxq   virtualQueue
	arena *arena.Arena

	stats netdev.Statistics

	rxPending [][]byte
}

// Probe brings the VirtIO network device up: negotiates the device is
// present and of the expected type, assigns or validates the MAC, and sets
// up the transmit/receive virtqueues.
func (n *Net) Probe() (net.HardwareAddr, error) {
	n.Lock()
	defer n.Unlock()

	if n.arena == nil {
		return nil, errors.New("virtionet: no arena configured, call SetArena before Probe")
	}

	n.io = transport{base: n.Base}

	if n.MAC == nil {
		n.MAC = make([]byte, 6)
		rand.Read(n.MAC)
		n.MAC[0] &= 0xfe
		n.MAC[0] |= 0x02
	} else if len(n.MAC) != 6 {
		return nil, errors.New("invalid MAC")
	}

	if err := n.io.init(); err != nil {
		return nil, err
	}

	if id := n.io.deviceID(); id != NetworkCard {
		return nil, fmt.Errorf("incompatible device ID (%x)", id)
	}

	n.io.setStatus(statusAcknowledge)
	n.io.setStatus(statusDriver)
	n.io.setStatus(statusFeaturesOK)

	n.io.selectQueue(0)
	n.txq.init(n.arena, queueSize, segmentSize)

	n.io.selectQueue(1)
	n.rxq.init(n.arena, queueSize, segmentSize)

	n.io.setStatus(statusDriverOK)

	return n.MAC, nil
}

// Address returns the device's current link-layer address.
func (n *Net) Address() net.HardwareAddr {
	n.Lock()
	defer n.Unlock()

	return n.MAC
}

// SetArena wires the conventional-memory arena this device reserves its
// virtqueue buffers from. It must be called before Probe.
func (n *Net) SetArena(a *arena.Arena) {
	n.arena = a
}

// Disable tears the device down and releases its virtqueue memory.
func (n *Net) Disable() error {
	n.Lock()
	defer n.Unlock()

	n.io.setStatus(statusNeedsReset)

	n.txq.destroy(n.arena)
	n.rxq.destroy(n.arena)

	return nil
}

// Transmit pushes a single fully-formed link-layer frame onto the transmit
// virtqueue and notifies the device.
func (n *Net) Transmit(frame []byte) error {
	n.Lock()
	defer n.Unlock()

	if len(frame) > segmentSize {
		return errors.New("frame exceeds virtqueue segment size")
	}

	idx := n.txq.avail.Index % uint16(n.txq.size)
	d := &n.txq.descriptors[idx]

	copy(d.buf, frame)
	d.Length = uint32(len(frame))
	d.Flags = 0

	n.txq.avail.Ring[idx] = idx
	n.txq.avail.Index++

	n.io.notify(0)

	n.stats.TxCount++

	return nil
}

// TXQueueEmpty always reports true: Transmit pushes directly onto the
// virtqueue and notifies the device synchronously, so by the time it
// returns there is never an outstanding in-flight descriptor to drain.
func (n *Net) TXQueueEmpty() bool {
	return true
}

// Poll drains one received frame from the receive virtqueue, if the device
// has made one available.
func (n *Net) Poll() ([]byte, bool) {
	n.Lock()
	defer n.Unlock()

	if len(n.rxPending) == 0 {
		n.drainUsed()
	}

	if len(n.rxPending) == 0 {
		return nil, false
	}

	frame := n.rxPending[0]
	n.rxPending = n.rxPending[1:]
	n.stats.RxCount++

	return frame, true
}

func (n *Net) drainUsed() {
	for n.rxq.used.Index != uint16(len(n.rxq.used.Ring)) {
		idx := n.rxq.used.Index % uint16(n.rxq.size)
		entry := n.rxq.used.Ring[idx]

		d := &n.rxq.descriptors[idx]
		frame := make([]byte, entry.Length)
		copy(frame, d.buf)

		n.rxPending = append(n.rxPending, frame)
		n.rxq.used.Index++
	}
}

// IRQ masks or unmasks the device's assigned I/O APIC redirection entry, if
// one was configured.
func (n *Net) IRQ(mode netdev.IRQMode) {
	if n.IRQLine == nil {
		return
	}

	switch mode {
	case netdev.IRQDisable:
		n.IRQLine.Mask(n.IRQIndex)
	case netdev.IRQEnable:
		n.IRQLine.Unmask(n.IRQIndex)
	}
}

// Statistics returns the device's cumulative transmit/receive counters.
func (n *Net) Statistics() netdev.Statistics {
	n.Lock()
	defer n.Unlock()

	return n.stats
}

// ClearStatistics resets the device's cumulative counters to zero.
func (n *Net) ClearStatistics() {
	n.Lock()
	defer n.Unlock()

	n.stats = netdev.Statistics{}
}
