// I/O APIC interrupt mask/unmask for the UNDI ISR pump
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package irqmask adapts tamago's soc/intel/ioapic driver down to the one
// operation the ISR pump actually needs: masking and unmasking a single
// redirection table entry, so isr can quiet the NIC's vector for the
// duration of a PXENV_UNDI_ISR call and avoid an interrupt storm while the
// real-mode BIOS is still servicing the current one.
package irqmask

import (
	"github.com/netboot-go/pxecore/internal/bits"
	"github.com/netboot-go/pxecore/internal/reg"
)

// Supported vectors.
const (
	MinVector = 16
	MaxVector = 255
)

// I/O APIC registers.
const (
	ioregsel = 0x00
	iowin    = 0x10

	ioapicid  = 0x00
	ioapicver = 0x01
	verEntries = 16

	redtblBase    = 0x10
	redtblDest    = 56
	redtblMask    = 16
	redtblDestMod = 11
	redtblIntVec  = 0
)

// Controller represents a single I/O APIC instance.
type Controller struct {
	// Index is the controller identification number.
	Index int
	// Base is the MMIO base register address.
	Base uint32
	// GSIBase is the controller's Global System Interrupt base.
	GSIBase int
}

// Init initializes the I/O APIC.
func (c *Controller) Init() {
	reg.Write(c.Base+ioregsel, ioapicid)
	reg.SetN(c.Base+iowin, 24, 0xf, uint32(c.Index))
}

// Entries returns the size of the IOAPIC redirection table.
func (c *Controller) Entries() int {
	reg.Write(c.Base+ioregsel, ioapicver)
	maxIndex := reg.Get(c.Base+iowin, verEntries, 0xff)
	return int(maxIndex) + 1
}

func (c *Controller) redtbl(index int) uint32 {
	reg.Write(c.Base+ioregsel, redtblBase+uint32(index*2))
	return reg.Read(c.Base + iowin)
}

func (c *Controller) setRedtbl(index int, val uint32) {
	reg.Write(c.Base+ioregsel, redtblBase+uint32(index*2))
	reg.Write(c.Base+iowin, val)
}

// Enable activates a redirection table entry for the given interrupt
// vector, routed to the bootstrap processor in physical destination mode.
func (c *Controller) Enable(index int, vector int) {
	if vector < MinVector || vector > MaxVector {
		return
	}

	index -= c.GSIBase

	if index > c.Entries()-1 {
		return
	}

	var val uint32

	bits.Clear(&val, redtblDestMod)
	bits.SetN(&val, redtblDest, 0xf, 0)
	bits.Clear(&val, redtblMask)
	bits.SetN(&val, redtblIntVec, 0xff, uint32(vector))

	c.setRedtbl(index, val)
}

// Mask disables delivery of a redirection table entry without disturbing
// its destination or vector fields, so a later Unmask restores it exactly.
func (c *Controller) Mask(index int) {
	index -= c.GSIBase

	if index < 0 || index > c.Entries()-1 {
		return
	}

	val := c.redtbl(index)
	bits.Set(&val, redtblMask)
	c.setRedtbl(index, val)
}

// Unmask re-enables delivery of a previously masked redirection table
// entry.
func (c *Controller) Unmask(index int) {
	index -= c.GSIBase

	if index < 0 || index > c.Entries()-1 {
		return
	}

	val := c.redtbl(index)
	bits.Clear(&val, redtblMask)
	c.setRedtbl(index, val)
}
