// Runtime publisher: !PXE / PXENV+ construction and the INT 1Ah hook
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package pxert builds and maintains the !PXE and PXENV+ runtime records
// and owns the INT 1Ah vector while hooked. It is named pxert, not
// "runtime", to avoid shadowing the standard library package of that name.
package pxert

import (
	"github.com/netboot-go/pxecore/arena"
	"github.com/netboot-go/pxecore/pxeapi"
)

// Int1A is the real-mode interrupt vector table hook surface. One
// concrete implementation exists per target environment.
type Int1A interface {
	// Save returns the currently installed INT 1Ah handler, so Unhook can
	// restore it later.
	Save() pxeapi.SegOff
	// Install publishes handler as the INT 1Ah vector.
	Install(handler pxeapi.SegOff)
	// Restore writes a previously saved handler back into the vector.
	Restore(handler pxeapi.SegOff)
	// Current returns whatever handler is presently installed, so Unhook
	// can detect a badly-behaved NBP that stole the vector.
	Current() pxeapi.SegOff
}

// Layout is the set of conventional-memory regions the trampoline
// allocation covers: the PXE callback trampoline, the real-mode-callback
// interface, and the E820 mangler trampoline, all within a single
// contiguous allocation per the design's "arch_data" requirement.
type Layout struct {
	Base uint32
	Size uint32

	TrampolineOffset uint32
	CallbackOffset   uint32
	E820MangerOffset uint32
}

// Publisher owns the !PXE and PXENV+ records plus the INT 1Ah hook state.
type Publisher struct {
	PXE   *pxeapi.PXE
	PXENV *pxeapi.PXENV

	int1a Int1A

	savedHandler pxeapi.SegOff
	handler      pxeapi.SegOff

	hooked bool

	trampoline uint32
}

// New builds a Publisher, allocating the trampoline region from a and
// filling in the !PXE/PXENV+ fixed fields. layoutSize is the total size of
// the trampoline + callback interface + E820 mangler allocation.
func New(a *arena.Arena, layoutSize int, handler pxeapi.SegOff, int1a Int1A) *Publisher {
	base := a.Alloc(layoutSize, 16)

	p := &Publisher{
		PXE:        pxeapi.NewPXE(),
		PXENV:      pxeapi.NewPXENV(),
		int1a:      int1a,
		handler:    handler,
		trampoline: base,
	}

	p.stamp()

	return p
}

// Trampoline returns the base address of the single contiguous allocation
// backing the PXE trampoline, callback interface and E820 mangler.
func (p *Publisher) Trampoline() uint32 {
	return p.trampoline
}

func (p *Publisher) stamp() {
	p.PXE.Stamp()
	p.PXENV.Stamp()
}

// SetSegDesc sets one of the !PXE record's seven segment descriptors and
// recomputes its checksum.
func (p *Publisher) SetSegDesc(index int, desc pxeapi.SegDesc) {
	p.PXE.SegDesc[index] = desc
	p.stamp()
}

// SetEntryPoint sets the stack-convention entry point both records
// advertise and recomputes checksums.
func (p *Publisher) SetEntryPoint(entry pxeapi.SegOff) {
	p.PXE.EntryPointSP = entry
	p.PXENV.RMEntry = entry
	p.stamp()
}

// Hook installs the runtime's own INT 1Ah handler, saving whatever handler
// preceded it, and populates PXENVPtr with a far pointer to the embedded
// PXENV+ record. Hooking while already hooked is a no-op success.
func (p *Publisher) Hook(pxenvLocation pxeapi.SegOff) bool {
	if p.hooked {
		return true
	}

	p.savedHandler = p.int1a.Save()
	p.int1a.Install(p.handler)
	p.PXE.EntryPointSP = p.handler
	p.PXENV.PXEPtr = pxenvLocation
	p.stamp()
	p.hooked = true

	return true
}

// Unhook restores the saved INT 1Ah handler. It returns false if the
// currently installed handler no longer matches the one this Publisher
// installed — a badly-behaved NBP overwrote the vector, and restoring
// blindly in that case would silently clobber whatever now occupies it.
func (p *Publisher) Unhook() bool {
	if !p.hooked {
		return true
	}

	if p.int1a.Current() != p.handler {
		return false
	}

	p.int1a.Restore(p.savedHandler)
	p.hooked = false

	return true
}

// Hooked reports whether this Publisher currently owns the INT 1Ah vector.
func (p *Publisher) Hooked() bool {
	return p.hooked
}
