// Loopback netdev.Device backed by a gVisor channel endpoint
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package netdevbridge is a nested module, mirroring the teacher's own
// imx6/usb/ethernet nested-module pattern: it carries the dependencies a
// hosted (non-bare-metal) test harness needs that the core itself must
// not: a gVisor tcpip stack to originate and observe Ethernet frames,
// golang.org/x/sys for a conventional-memory simulation backed by a real
// mmap'd region rather than a Go byte slice, and golang.org/x/time to
// rate-limit a simulated interrupt line so ISR-pump tests can exercise
// back-pressure instead of assuming every Poll call is free.
//
// Loopback implements netdev.Device the way the teacher's CDC-ECM driver
// bridges a USB host-side gVisor stack to a device-side Rx/Tx pair
// (imx6/usb/ethernet/cdc_ecm.go): every Transmit is injected into the
// gVisor channel.Endpoint as an inbound packet (so a test harness can
// attach a real tcpip.Stack and observe it as a normal NIC would produce
// it) and is simultaneously queued for this device's own Poll, so the
// same frame loops back as a receive event — letting isr's self-filter
// logic (spec.md §8 scenario 3) run against a real frame rather than a
// synthetic one.
package netdevbridge

import (
	"errors"
	"net"

	"golang.org/x/time/rate"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/buffer"
	"gvisor.dev/gvisor/pkg/tcpip/link/channel"
	"gvisor.dev/gvisor/pkg/tcpip/stack"

	"github.com/netboot-go/pxecore/netdev"
)

const ethernetHeaderLen = 14

var errShortFrame = errors.New("netdevbridge: frame shorter than an Ethernet header")

// Loopback is a netdev.Device over a gVisor channel.Endpoint: Transmit
// injects the frame inbound to Endpoint (for a test-attached tcpip.Stack
// to observe) and also appends it to this device's own receive queue, so
// Poll can harvest it exactly as a physical loopback cable would deliver
// a broadcast echo back to its own sender.
type Loopback struct {
	// Endpoint is the gVisor link endpoint a test harness's own
	// tcpip.Stack attaches to, to originate or inspect traffic this
	// device carries.
	Endpoint *channel.Endpoint

	// PollLimiter gates Poll, simulating a NIC whose interrupt line
	// cannot be serviced faster than the hardware's real coalescing
	// rate; a full token bucket never throttles a test.
	PollLimiter *rate.Limiter

	addr      net.HardwareAddr
	queue     [][]byte
	irqMasked bool
	stats     netdev.Statistics
}

// NewLoopback returns a Loopback device advertising addr as its link-layer
// address, with its gVisor endpoint's queue depth and MTU set to the
// values the teacher's own CDC-ECM harness uses.
func NewLoopback(addr net.HardwareAddr) *Loopback {
	return &Loopback{
		Endpoint:    channel.New(64, 1514, tcpip.LinkAddress(string(addr))),
		PollLimiter: rate.NewLimiter(rate.Inf, 1),
		addr:        addr,
	}
}

// Probe brings the loopback device "up" — there is no real hardware to
// initialise, so this only returns the configured address.
func (l *Loopback) Probe() (net.HardwareAddr, error) {
	return l.addr, nil
}

// Address returns the device's link-layer address without side effects.
func (l *Loopback) Address() net.HardwareAddr {
	return l.addr
}

// Disable tears down the gVisor endpoint.
func (l *Loopback) Disable() error {
	l.Endpoint.Close()
	return nil
}

// Transmit injects frame into the gVisor endpoint as an inbound packet and
// loops it back onto this device's own receive queue.
func (l *Loopback) Transmit(frame []byte) error {
	if len(frame) < ethernetHeaderLen {
		return errShortFrame
	}

	hdr := buffer.NewViewFromBytes(frame[:ethernetHeaderLen])
	proto := tcpip.NetworkProtocolNumber(uint16(frame[12])<<8 | uint16(frame[13]))
	payload := buffer.NewViewFromBytes(frame[ethernetHeaderLen:])

	pkt := &stack.PacketBuffer{
		LinkHeader: hdr,
		Data:       payload.ToVectorisedView(),
	}

	l.Endpoint.InjectInbound(proto, pkt)

	cp := make([]byte, len(frame))
	copy(cp, frame)
	l.queue = append(l.queue, cp)

	l.stats.TxCount++

	return nil
}

// Poll dequeues one looped-back frame, gated by PollLimiter so a test can
// model a NIC that cannot be serviced arbitrarily fast.
func (l *Loopback) Poll() (frame []byte, ok bool) {
	if !l.PollLimiter.Allow() {
		return nil, false
	}

	if len(l.queue) == 0 {
		return nil, false
	}

	frame, l.queue = l.queue[0], l.queue[1:]
	l.stats.RxCount++

	return frame, true
}

// TXQueueEmpty always reports true: the loopback device completes every
// Transmit synchronously, so the ISR pump never finds a pending
// transmit-completion count that still needs the device to catch up.
func (l *Loopback) TXQueueEmpty() bool {
	return true
}

// IRQ records whether the simulated interrupt line is currently masked,
// for tests that want to assert the ISR pump's IN_START/harvest sequence
// actually (un)masks it.
func (l *Loopback) IRQ(mode netdev.IRQMode) {
	l.irqMasked = mode == netdev.IRQDisable
}

// IRQMasked reports whether IRQDisable was the most recent IRQ call.
func (l *Loopback) IRQMasked() bool {
	return l.irqMasked
}

// Statistics returns the device's cumulative counters.
func (l *Loopback) Statistics() netdev.Statistics {
	return l.stats
}

// ClearStatistics resets the device's cumulative counters to zero.
func (l *Loopback) ClearStatistics() {
	l.stats = netdev.Statistics{}
}

var _ netdev.Device = (*Loopback)(nil)
