// Optional 16550 UART trace console
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package diag adapts tamago's soc/intel/uart driver into an optional
// trace console for the PXE core. Nothing in the dispatch path requires a
// console; a stack is only ever given one to narrate ROM hunts, loader
// calls and ISR cycles when a caller wants that visibility.
package diag

import (
	"runtime"

	"github.com/netboot-go/pxecore/internal/reg"
)

// UART registers.
const (
	DefaultBaudrate = 115200

	rbr = 0x00
	thr = 0x00
	ier = 0x01
	fcr = 0x02
	mcr = 0x04

	lsr      = 0x05
	lsrDR    = 0
	lsrTHRE  = 5
)

// Console represents a 16550-compatible serial port instance reachable over
// port I/O.
type Console struct {
	// Index is the controller number, for diagnostic messages only.
	Index int
	// Base is the controller's I/O port base address.
	Base uint16
}

// Init validates the console configuration. It does not touch hardware: the
// BIOS has already programmed the UART by the time a preboot NBP runs.
func (c *Console) Init() {
	if c.Base == 0 {
		panic("invalid console instance")
	}
}

// Tx transmits a single character, blocking until the transmit FIFO has
// room.
func (c *Console) Tx(b byte) {
	for reg.In8(c.Base+lsr)&(1<<lsrTHRE) == 0 {
	}

	reg.Out8(c.Base+thr, b)
}

// Rx receives a single character if one is available.
func (c *Console) Rx() (b byte, valid bool) {
	if reg.In8(c.Base+lsr)&(1<<lsrDR) == 0 {
		return
	}

	return reg.In8(c.Base + rbr), true
}

// Write implements io.Writer, transmitting buf one character at a time.
func (c *Console) Write(buf []byte) (n int, _ error) {
	for n = 0; n < len(buf); n++ {
		c.Tx(buf[n])
	}

	return
}

// Read implements io.Reader, draining whatever is already buffered in the
// receive FIFO.
func (c *Console) Read(buf []byte) (n int, _ error) {
	var valid bool

	for n = 0; n < len(buf); n++ {
		buf[n], valid = c.Rx()

		if !valid {
			if n == 0 {
				runtime.Gosched()
			}

			break
		}
	}

	return
}
