// VirtIO MMIO transport
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package virtionet implements netdev.Device over a VirtIO network card,
// adapted from tamago's virtio driver (virtio/net.go, virtio.go,
// descriptor.go). The original used a package-global DMA region; this
// version takes an *arena.Arena explicitly, since the PXE core never has a
// single implicit owner of conventional memory the way a tamago applet
// does.
package virtionet

import (
	"errors"

	"github.com/netboot-go/pxecore/internal/reg"
)

// VirtIO MMIO device registers.
const (
	regMagic             = 0x000
	regVersion           = 0x004
	regDeviceID          = 0x008
	regVendorID          = 0x00c
	regDeviceFeatures    = 0x010
	regDeviceFeaturesSel = 0x014
	regDriverFeatures    = 0x020
	regDriverFeaturesSel = 0x024
	regQueueSel          = 0x030
	regQueueNumMax       = 0x034
	regQueueNum          = 0x038
	regQueueReady        = 0x044
	regQueueNotify       = 0x050
	regInterruptStatus   = 0x060
	regInterruptACK      = 0x064
	regStatus            = 0x070
	regQueueDesc         = 0x080
	regQueueDriver       = 0x090
	regQueueDevice       = 0x0a0
	regConfigGeneration  = 0x0fc
	regConfig            = 0x100
)

const magic = 0x74726976 // "virt"

// Device IDs.
const (
	NetworkCard = 0x01
)

// Device status bits.
const (
	statusAcknowledge = 0
	statusDriver      = 1
	statusDriverOK    = 2
	statusFeaturesOK  = 3
	statusNeedsReset  = 6
	statusFailed      = 7
)

// transport represents the MMIO register window of a VirtIO device.
type transport struct {
	base  uint32
	queue *virtualQueue
}

func (t *transport) init() error {
	if t.base == 0 || reg.Read(t.base+regMagic) != magic {
		return errors.New("invalid VirtIO instance")
	}

	if reg.Read(t.base+regVersion) != 0x02 {
		return errors.New("unsupported VirtIO interface")
	}

	return nil
}

func (t *transport) deviceID() uint32 {
	return reg.Read(t.base + regDeviceID)
}

func (t *transport) deviceFeatures() uint32 {
	return reg.Read(t.base + regDeviceFeatures)
}

func (t *transport) selectQueue(index uint32) {
	reg.Write(t.base+regQueueSel, index)
}

func (t *transport) maxQueueSize() uint32 {
	return reg.Read(t.base + regQueueNumMax)
}

func (t *transport) setQueueSize(n uint32) {
	reg.Write(t.base+regQueueNum, n)
}

func (t *transport) setStatus(bit int) {
	v := reg.Read(t.base + regStatus)
	v |= 1 << uint(bit)
	reg.Write(t.base+regStatus, v)
}

func (t *transport) notify(queue uint32) {
	reg.Write(t.base+regQueueNotify, queue)
}

func (t *transport) interruptStatus() uint32 {
	return reg.Read(t.base + regInterruptStatus)
}

func (t *transport) ackInterrupt(bits uint32) {
	reg.Write(t.base+regInterruptACK, bits)
}
