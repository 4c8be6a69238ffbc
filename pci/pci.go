// PCI configuration-space probing for UNDI ROM discovery
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package pci implements Intel-chipset PCI configuration-space access
// (CONFIG_ADDRESS/CONFIG_DATA I/O ports), adapted from tamago's
// soc/intel/pci driver. scan uses it to match a discovered UNDI ROM's
// PCIR vendor/device IDs against devices actually present on the bus, per
// the original driver's hunt_rom behavior.
package pci

import (
	"github.com/netboot-go/pxecore/internal/bits"
	"github.com/netboot-go/pxecore/internal/reg"
)

const (
	ConfigAddress = 0x0cf8
	ConfigData    = 0x0cfc
)

const (
	maxBuses   = 256
	maxDevices = 32
)

// Header Type 0x0 offsets.
const (
	VendorID           = 0x00
	Command            = 0x04
	RevisionID         = 0x08
	Bar0               = 0x10
	CapabilitiesOffset = 0x34
)

// Device represents a PCI device identified by its bus:slot location.
type Device struct {
	// Bus number
	Bus uint32
	// Vendor ID
	Vendor uint16
	// Device ID
	Device uint16

	// PCI Slot
	Slot uint32
}

func (d *Device) address(fn uint32, off uint32) uint32 {
	return 1<<31 | d.Bus<<16 | d.Slot<<11 | fn<<8 | off&0xfc
}

// Read reads the device configuration space for a given function and
// register offset.
func (d *Device) Read(fn uint32, off uint32) uint32 {
	reg.Out32(ConfigAddress, d.address(fn, off))
	return reg.In32(ConfigData) >> ((off & 2) * 8)
}

// Write writes the device configuration space for a given function and
// register offset; the offset must be 32-bit aligned.
func (d *Device) Write(fn uint32, off uint32, val uint32) {
	if (off&2)*8 != 0 {
		return
	}

	reg.Out32(ConfigAddress, d.address(fn, off))
	reg.Out32(ConfigData, val)
}

// BaseAddress returns a device Base Address Register (BAR), decoding 64-bit
// BAR pairs transparently.
func (d *Device) BaseAddress(n int) uint {
	if n > 5 {
		return 0
	}

	off := Bar0 + uint32(n)*4
	bar := d.Read(0, off)

	switch bits.GetN(&bar, 1, 0b11) {
	case 0:
		return uint(bar)
	case 2:
		return uint(d.Read(0, off+4))<<32 | uint(bar)&0xfffffff0
	}

	return 0
}

func (d *Device) probe() bool {
	if d.Bus > maxBuses {
		return false
	}

	val := d.Read(0, VendorID)

	if d.Vendor = uint16(val); d.Vendor == 0xffff {
		return false
	}

	d.Device = uint16(val >> 16)

	return true
}

// Probe searches a bus for a device matching vendor:device, returning nil if
// none is present.
func Probe(bus int, vendor uint16, device uint16) *Device {
	d := &Device{
		Bus: uint32(bus),
	}

	for slot := uint32(0); slot < maxDevices; slot++ {
		d.Slot = slot

		if d.probe() && d.Vendor == vendor && d.Device == device {
			return d
		}
	}

	return nil
}

// Devices returns every responding PCI device on a given bus.
func Devices(bus int) (devices []*Device) {
	for slot := uint32(0); slot < maxDevices; slot++ {
		d := &Device{
			Bus:  uint32(bus),
			Slot: slot,
		}

		if d.probe() {
			devices = append(devices, d)
		}
	}

	return
}
