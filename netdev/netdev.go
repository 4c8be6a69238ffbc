// Network device capability consumed by the PXE core
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package netdev defines the NIC media-access driver contract the PXE core
// consumes. It is an external collaborator per the core's design: the core
// never implements a MAC/PHY driver itself, it only drives one through this
// interface. netdev/virtionet is one concrete implementation, adapted from
// tamago's virtio network driver.
package netdev

import "net"

// IRQMode selects how Device should (un)mask its interrupt, passed by the
// ISR pump around each PXENV_UNDI_ISR cycle.
type IRQMode int

const (
	IRQEnable IRQMode = iota
	IRQDisable
)

// Statistics mirrors the counters PXENV_UNDI_GET_STATISTICS reports.
type Statistics struct {
	TxCount    uint32
	TxErrors   uint32
	RxCount    uint32
	RxErrors   uint32
}

// Device is the NIC driver primitive set the core drives: eth_probe,
// eth_disable, eth_transmit, eth_poll and eth_irq(mode) in the original's
// naming.
type Device interface {
	// Probe brings the device up and returns its link-layer address.
	Probe() (net.HardwareAddr, error)
	// Address returns the device's current link-layer address without
	// side effects, for callers that only need it to build a frame
	// header.
	Address() net.HardwareAddr
	// Disable shuts the device down, releasing any interrupt or DMA
	// resources it was holding.
	Disable() error
	// Transmit sends a single frame, already fully formed with its
	// link-layer header.
	Transmit(frame []byte) error
	// Poll drains one received frame if available.
	Poll() (frame []byte, ok bool)
	// TXQueueEmpty reports whether every frame handed to Transmit has
	// completed, the signal the ISR pump uses to decide when an
	// outstanding PXENV_UNDI_TRANSMIT has finished (spec.md §4.5).
	TXQueueEmpty() bool
	// IRQ masks or unmasks the device's interrupt line.
	IRQ(mode IRQMode)
	// Statistics returns the device's cumulative counters.
	Statistics() Statistics
	// ClearStatistics resets the device's cumulative counters to zero.
	ClearStatistics()
}
