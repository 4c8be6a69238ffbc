// Readiness state machine for the PXE stack lifecycle
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package state implements the three-state readiness machine every API
// handler asserts before running: Unloaded, Midway, Ready. Transitions are
// driven by EnsureState, which never skips a state and never leaves the
// machine in an inconsistent position — a failed transition stays at its
// last good state rather than reporting a state it did not actually reach.
package state

import "log"

// Debug gates narration of state transitions, mirroring the teacher's
// runtime-switch convention for driver tracing.
var Debug bool

// Readiness is one of the three legal resting states of the stack.
type Readiness int

const (
	Unloaded Readiness = iota
	Midway
	Ready
)

func (r Readiness) String() string {
	switch r {
	case Unloaded:
		return "unloaded"
	case Midway:
		return "midway"
	case Ready:
		return "ready"
	default:
		return "invalid"
	}
}

// Hooks are the side effects EnsureState drives through on each edge of the
// Unloaded/Midway/Ready machine. Each is supplied by the stack wiring
// (hidemem, the INT 1Ah publisher, the NIC discovery/attach chain); state
// itself holds no hardware knowledge.
type Hooks struct {
	// HookVectors installs the E820 mangler and publishes the INT 1Ah
	// handler. Called on the Unloaded -> Midway edge.
	HookVectors func() bool
	// UnhookVectors restores the saved INT 1Ah handler and removes the
	// E820 mangler. Called on the Midway -> Unloaded edge; returning
	// false aborts the transition, per the "do not leave a live handler
	// in reclaimed memory" invariant.
	UnhookVectors func() bool
	// InitNIC brings the network device up. Called on the Midway -> Ready
	// edge.
	InitNIC func() bool
	// QuiesceNIC masks the device IRQ and deactivates it. Called on the
	// Ready -> Midway edge.
	QuiesceNIC func()
}

// Machine tracks the current readiness and drives transitions through a set
// of Hooks.
type Machine struct {
	current Readiness
	hooks   Hooks
}

// New returns a Machine starting Unloaded.
func New(hooks Hooks) *Machine {
	return &Machine{current: Unloaded, hooks: hooks}
}

// Current returns the machine's present readiness.
func (m *Machine) Current() Readiness {
	return m.current
}

func debugf(format string, args ...interface{}) {
	if Debug {
		log.Printf("pxecore/state: "+format, args...)
	}
}

// EnsureState drives the machine from its current readiness to target,
// one edge at a time, stopping at the first failed edge. It returns true
// only if target was actually reached.
func (m *Machine) EnsureState(target Readiness) bool {
	for m.current != target {
		switch {
		case target > m.current && m.current == Unloaded:
			if m.hooks.HookVectors == nil || !m.hooks.HookVectors() {
				debugf("unloaded -> midway failed")
				return false
			}

			m.current = Midway
			debugf("unloaded -> midway")

		case target > m.current && m.current == Midway:
			if m.hooks.InitNIC == nil || !m.hooks.InitNIC() {
				debugf("midway -> ready failed")
				return false
			}

			m.current = Ready
			debugf("midway -> ready")

		case target < m.current && m.current == Ready:
			if m.hooks.QuiesceNIC != nil {
				m.hooks.QuiesceNIC()
			}

			m.current = Midway
			debugf("ready -> midway")

		case target < m.current && m.current == Midway:
			if m.hooks.UnhookVectors == nil || !m.hooks.UnhookVectors() {
				debugf("midway -> unloaded failed, remaining midway")
				return false
			}

			m.current = Unloaded
			debugf("midway -> unloaded")

		default:
			return false
		}
	}

	return true
}
