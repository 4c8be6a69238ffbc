// E820 memory-map mangler for hiding the core's working area
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package hidemem installs an INT 15h E820 mangler that removes the core's
// own working area from the memory map the BIOS reports, so neither the
// OS loader nor a UNDI loader that probes E820 steps on the core's
// trampoline, arena, or UNDI driver regions. Hooking and unhooking mirror
// the original's hide_etherboot/unhide_etherboot pairing: installation is
// idempotent, and a failed unhide is reported rather than silently
// swallowed, since it means something has overwritten the hook.
package hidemem

// Hook is the INT 15h E820 vector install surface, environment-specific by
// design (a real-mode interrupt vector table write on bare metal).
type Hook interface {
	// Install publishes the mangler into the INT 15h vector, returning
	// false if the vector could not be claimed.
	Install(region Region) bool
	// Remove restores whatever INT 15h handler preceded Install,
	// returning false if the vector no longer holds the mangler (a
	// badly-behaved NBP overwrote it after Install).
	Remove() bool
}

// Region is the (base, length) conventional-memory window hidden from the
// E820 map while the mangler is installed.
type Region struct {
	Base   uint32
	Length uint32
}

// Manager owns the mangler's install state, the one piece of bookkeeping
// the rest of the core needs: whether hiding is currently active.
type Manager struct {
	hook   Hook
	region Region

	active bool
}

// NewManager returns a Manager bound to hook, not yet installed.
func NewManager(hook Hook) *Manager {
	return &Manager{hook: hook}
}

// Hide installs the mangler over region. Calling Hide while already active
// is a no-op success, matching install idempotency elsewhere in the stack.
func (m *Manager) Hide(region Region) bool {
	if m.active {
		return true
	}

	if !m.hook.Install(region) {
		return false
	}

	m.region = region
	m.active = true

	return true
}

// Unhide removes the mangler. Calling Unhide while inactive is a no-op
// success. A failed removal leaves Manager still marked active, so a
// caller's own state machine does not silently believe memory is no
// longer hidden.
func (m *Manager) Unhide() bool {
	if !m.active {
		return true
	}

	if !m.hook.Remove() {
		return false
	}

	m.active = false

	return true
}

// Active reports whether the mangler is currently installed.
func (m *Manager) Active() bool {
	return m.active
}

// Region returns the currently hidden region; the zero value if inactive.
func (m *Manager) Region() Region {
	return m.region
}
