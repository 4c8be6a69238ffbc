// UNDI real-mode call gateway
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package undicall marshals the three-argument real-mode call convention
// UNDI drivers expect — opcode word, parameter-structure offset, parameter-
// structure segment, returned through lcall to the !PXE record's
// EntryPointSP — and restores the A20 gate unconditionally on return,
// because some UNDI drivers corrupt it. The actual far-call mechanism is
// necessarily architecture- and environment-specific (real assembly on
// bare metal); this package models it as an opaque Gate so the rest of the
// core never depends on that detail, per the call-gate abstraction the
// design calls for.
package undicall

import "github.com/netboot-go/pxecore/pxeapi"

// Gate is the opaque real-mode call-gate implementation backend. One
// concrete Gate exists per target ISA; the core only ever holds this
// interface.
type Gate interface {
	// Call invokes the UNDI entry point at entry with the three
	// conventional stack arguments and returns the vendor's status word.
	Call(entry pxeapi.SegOff, opcode pxeapi.Opcode, paramOff uint16, paramSeg uint16) (status uint16)
}

// A20 restores the A20 gate. Implementations must make SetEnabled(true)
// idempotent and safe to call even if the gate was never disabled.
type A20 interface {
	SetEnabled(enabled bool)
}

// Caller wraps a Gate with the A20 restore guarantee: every Call
// unconditionally re-enables A20 on return, regardless of how the UNDI
// driver left it.
type Caller struct {
	Gate Gate
	A20  A20
}

// Call invokes the UNDI entry point and restores A20 before returning,
// whether the call succeeded or not.
func (c *Caller) Call(entry pxeapi.SegOff, opcode pxeapi.Opcode, paramOff uint16, paramSeg uint16) uint16 {
	defer func() {
		if c.A20 != nil {
			c.A20.SetEnabled(true)
		}
	}()

	return c.Gate.Call(entry, opcode, paramOff, paramSeg)
}

// Silent behaves like Call but discards the vendor status word, for
// opcodes the original driver invokes fire-and-forget (e.g. shutdown paths
// where the caller has already decided the outcome).
func (c *Caller) Silent(entry pxeapi.SegOff, opcode pxeapi.Opcode, paramOff uint16, paramSeg uint16) {
	c.Call(entry, opcode, paramOff, paramSeg)
}
