// Top-level PXE stack lifecycle: install / hook / unhook / remove
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package stack wires arena, scan, loader, undicall, hidemem, pxert, state,
// isr, tx and dispatch into the single process-wide PXE stack spec.md §3
// describes, replacing the original's global mutable singletons
// (pxe_stack, undi, dev_ib_data) with one Stack value behind an optional,
// per spec.md §9's design notes: Install is idempotent-no-op once a Stack
// exists, and Remove clears the slot only once the readiness machine
// actually reaches Unloaded.
package stack

import (
	"errors"
	"log"

	"github.com/netboot-go/pxecore/arena"
	"github.com/netboot-go/pxecore/dispatch"
	"github.com/netboot-go/pxecore/hidemem"
	"github.com/netboot-go/pxecore/internal/physmem"
	"github.com/netboot-go/pxecore/isr"
	"github.com/netboot-go/pxecore/loader"
	"github.com/netboot-go/pxecore/netdev"
	"github.com/netboot-go/pxecore/pci"
	"github.com/netboot-go/pxecore/pxeapi"
	"github.com/netboot-go/pxecore/pxert"
	"github.com/netboot-go/pxecore/scan"
	"github.com/netboot-go/pxecore/state"
	"github.com/netboot-go/pxecore/transport"
	"github.com/netboot-go/pxecore/tx"
	"github.com/netboot-go/pxecore/undicall"
)

// Debug gates narration of lifecycle transitions (install/hook/unhook/
// remove), mirroring the Debug switches the packages it wires already use.
var Debug bool

func debugf(format string, args ...interface{}) {
	if Debug {
		log.Printf("pxecore/stack: "+format, args...)
	}
}

// ErrCannotRemove is returned by Remove when the readiness machine cannot
// reach Unloaded — per spec.md §3, Remove must fail loudly rather than
// silently leave an interrupt handler in memory that is about to be freed.
var ErrCannotRemove = errors.New("stack: cannot remove, state machine could not reach unloaded")

// PCIMatch identifies the NIC this stack drives by PCI vendor:device, used
// by the UNDI ROM hunt (spec.md §4.3) to validate a candidate option ROM.
type PCIMatch struct {
	Bus    int
	Vendor uint16
	Device uint16
}

// Config is the struct-literal wiring every Stack is built from, matching
// the teacher's board-init convention (spec.md §6: no flags, no env vars,
// no config file format anywhere in the corpus).
type Config struct {
	Mem    physmem.Memory
	Arena  *arena.Arena
	Device netdev.Device

	Int1A    pxert.Int1A
	HideHook hidemem.Hook

	UNDIGate undicall.Gate
	A20      undicall.A20

	// Handler is the stack's own real-mode entry point, published into
	// both runtime records and the INT 1Ah vector on Hook.
	Handler pxeapi.SegOff

	// TrampolineSize is the single contiguous allocation covering the
	// PXE trampoline, the real-mode-callback interface and the E820
	// mangler trampoline (spec.md §4.8's "arch_data" requirement).
	TrampolineSize int

	// HideRegion is the core's own working area, masked from the E820
	// map while hooked and for the duration of any UNDI loader call.
	HideRegion hidemem.Region

	CacheAddr  uint32
	BounceAddr uint32
	BounceLen  int

	TFTP transport.TFTP
	UDP  transport.UDP

	PCI PCIMatch

	// Teardown runs platform-specific teardown (heap release, console
	// quiesce) once PXENV_UNLOAD_STACK has reached Unloaded. A nil
	// Teardown is valid: ensure_state(Unloaded) alone is sufficient for
	// hosted tests.
	Teardown func() bool

	// StartNBP hands control to the freshly loaded image after
	// PXENV_RESTART_TFTP's TFTP_READ_FILE completes.
	StartNBP func()
}

// Stack is the single installed PXE runtime: the dispatcher, the
// readiness machine, the runtime publisher, and the discovery/loader
// machinery the PXENV_UNDI_LOADER opcode drives.
type Stack struct {
	cfg Config

	State      *state.Machine
	Dispatcher *dispatch.Dispatcher
	Publisher  *pxert.Publisher
	Hidemem    *hidemem.Manager
	Scanner    *scan.Scanner

	undi *undicall.Caller
	pci  *pci.Device
}

// current is the process-wide optional singleton spec.md §9 calls for.
// A nil current means "not installed".
var current *Stack

// InstallPXEStack builds the PXE stack from cfg if none exists yet, or
// returns the already-installed Stack unchanged. Per spec.md §8's
// round-trip law, a second InstallPXEStack call performs no allocation.
func InstallPXEStack(cfg Config) *Stack {
	if current != nil {
		debugf("install: already installed, no-op")
		return current
	}

	current = newStack(cfg)
	debugf("install: new stack built, trampoline at %#x", current.Publisher.Trampoline())

	return current
}

// Current returns the installed Stack, or nil if none is installed.
func Current() *Stack {
	return current
}

func newStack(cfg Config) *Stack {
	publisher := pxert.New(cfg.Arena, cfg.TrampolineSize, cfg.Handler, cfg.Int1A)
	hide := hidemem.NewManager(cfg.HideHook)
	pump := isr.New(cfg.Device, cfg.Mem, cfg.BounceAddr, cfg.BounceLen)
	builder := &tx.Builder{Mem: cfg.Mem, Device: cfg.Device}
	scanner := scan.NewScanner(cfg.Mem)

	s := &Stack{
		cfg:       cfg,
		Publisher: publisher,
		Hidemem:   hide,
		Scanner:   scanner,
	}

	if cfg.UNDIGate != nil {
		s.undi = &undicall.Caller{Gate: cfg.UNDIGate, A20: cfg.A20}
	}

	if cfg.PCI.Vendor != 0 || cfg.PCI.Device != 0 {
		s.pci = pci.Probe(cfg.PCI.Bus, cfg.PCI.Vendor, cfg.PCI.Device)
	}

	s.State = state.New(state.Hooks{
		HookVectors:   s.hookVectors,
		UnhookVectors: s.unhookVectors,
		InitNIC:       s.initNIC,
		QuiesceNIC:    s.quiesceNIC,
	})

	d := dispatch.New(s.State, pump, builder, cfg.Device, cfg.Mem, cfg.CacheAddr)
	d.TFTP = cfg.TFTP
	d.UDP = cfg.UDP
	d.Loader = s.runLoader
	d.Teardown = s.teardown
	d.StartNBP = cfg.StartNBP

	s.Dispatcher = d

	return s
}

// hookVectors is the Unloaded -> Midway edge: install the E820 mangler
// over the core's own working area, then publish the stack's handler into
// INT 1Ah and the PXENV+ location the handler's !PXE pointer resolves to.
func (s *Stack) hookVectors() bool {
	if !s.Hidemem.Hide(s.cfg.HideRegion) {
		debugf("hook: could not hide working area")
		return false
	}

	pxenvLocation := pxeapi.SegOff{Offset: 0, Segment: uint16(s.Publisher.Trampoline() >> 4)}

	if !s.Publisher.Hook(pxenvLocation) {
		s.Hidemem.Unhide()
		debugf("hook: publisher refused hook")
		return false
	}

	debugf("hook: vectors installed")

	return true
}

// unhookVectors is the Midway -> Unloaded edge: restore the saved INT 1Ah
// handler, then remove the E820 mangler. Per spec.md §4.1, a failed
// mangler removal aborts the whole transition — the caller must remain
// Midway rather than have left a live handler in memory about to be freed.
func (s *Stack) unhookVectors() bool {
	if !s.Publisher.Unhook() {
		debugf("unhook: badly-behaved NBP stole INT 1Ah, refusing to proceed")
		return false
	}

	if !s.Hidemem.Unhide() {
		debugf("unhook: E820 mangler could not be removed, aborting transition")
		return false
	}

	debugf("unhook: vectors removed")

	return true
}

// initNIC is the Midway -> Ready edge: run the device's probe/attach
// chain. It runs on every such edge; a device that a previous run left up
// is probed again, not reused.
func (s *Stack) initNIC() bool {
	if s.cfg.Device == nil {
		return false
	}

	addr, err := s.cfg.Device.Probe()
	if err != nil {
		debugf("initNIC: probe failed: %v", err)
		return false
	}

	s.Dispatcher.UNDI.StationAddr = addr
	s.Dispatcher.UNDI.IOBase = 0
	s.Dispatcher.UNDI.HWType = hwTypeEthernet

	if s.pci != nil {
		s.Dispatcher.UNDI.PCIBusDevFn = uint16(s.pci.Bus)<<8 | uint16(s.pci.Slot)
	}

	debugf("initNIC: device up, address %v", addr)

	return true
}

// quiesceNIC is the Ready -> Midway edge: zero the ISR pump's
// outstanding-TX count, mask the interrupt and shut the device down,
// swallowing Disable's error the way the original ignores spurious status
// codes around UNDI_SHUTDOWN (spec.md §7).
func (s *Stack) quiesceNIC() {
	s.Dispatcher.ISR.Reset()

	if s.cfg.Device == nil {
		return
	}

	s.cfg.Device.IRQ(netdev.IRQDisable)

	if err := s.cfg.Device.Disable(); err != nil {
		debugf("quiesceNIC: disable reported %v, ignored", err)
	}
}

// teardown backs PXENV_UNLOAD_STACK: drive the machine to Unloaded and run
// any platform-specific cleanup. Returning false maps to KEEP_ALL at the
// dispatcher, per spec.md §4.2.
func (s *Stack) teardown() bool {
	if !s.State.EnsureState(state.Unloaded) {
		return false
	}

	if s.cfg.Teardown != nil {
		return s.cfg.Teardown()
	}

	return true
}

// RemovePXEStack clears the installed Stack, requiring the readiness
// machine to have reached Unloaded first (spec.md §3: "Remove implies
// ensure_state(Unloaded) and fails loudly if that cannot be reached").
func RemovePXEStack() error {
	if current == nil {
		return nil
	}

	if !current.State.EnsureState(state.Unloaded) {
		return ErrCannotRemove
	}

	current = nil
	debugf("remove: stack cleared")

	return nil
}

// hwTypeEthernet is the PXENV_UNDI_GET_INFORMATION HwType value for
// Ethernet, RFC 1700's ARP hardware type 1.
const hwTypeEthernet = 1

// runLoader backs the PXENV_UNDI_LOADER opcode (0x104D, not a genuine PXE
// API call per spec.md §4.2/§9 open question #1, exposed on the same
// dispatch entry as the original): run the discovery chain spec.md §4.3
// describes, then invoke loader.Load against whatever UNDI ROM it finds.
func (s *Stack) runLoader(p *pxeapi.UndiLoaderParams) pxeapi.Status {
	if s.undi == nil {
		return pxeapi.StatusUnsupported
	}

	romAddr, idOffset, ok := s.Scanner.HuntUNDIROM(s.pci, func(addr uint32) uint16 {
		var off [2]byte
		s.cfg.Mem.Read(addr+0x1e, off[:])
		return uint16(off[0]) | uint16(off[1])<<8
	})

	if !ok {
		debugf("loader: no matching UNDI ROM found")
		return pxeapi.StatusUNDIInvalidState
	}

	var codeSize [2]byte
	s.cfg.Mem.Read(romAddr+uint32(idOffset)+8, codeSize[:])
	var dataSize [2]byte
	s.cfg.Mem.Read(romAddr+uint32(idOffset)+10, dataSize[:])

	pnpAddr, _ := s.Scanner.HuntPnPBIOS()
	pnpPtr := pxeapi.SegOff{}
	if pnpAddr != 0 {
		pnpPtr = pxeapi.SegOff{Offset: 0, Segment: uint16(pnpAddr >> 4)}
	}

	entry := pxeapi.SegOff{Offset: 0, Segment: uint16(romAddr >> 4)}
	busDevFn := s.Dispatcher.UNDI.PCIBusDevFn

	gate := loaderGate{caller: s.undi}

	result, err := loader.Load(s.cfg.Arena, gate, s.cfg.Mem, s.Hidemem, s.cfg.HideRegion, entry, busDevFn, s.pci != nil,
		pnpPtr, uint32(codeSize[0])|uint32(codeSize[1])<<8, uint32(dataSize[0])|uint32(dataSize[1])<<8)
	if err != nil {
		debugf("loader: load failed: %v", err)
		return pxeapi.StatusUNDIInvalidState
	}

	p.PXEPtr = pxeapi.SegOff{Offset: 0, Segment: uint16(result.CodeAddr >> 4)}
	p.PXENVPtr = pxeapi.SegOff{Offset: 0, Segment: uint16(s.Publisher.Trampoline() >> 4)}
	p.UndiCS = uint16(result.CodeAddr >> 4)
	p.UndiDS = uint16(result.DataAddr >> 4)

	return pxeapi.StatusSuccess
}

// loaderGate adapts undicall.Caller's opcode/offset/segment convention to
// loader.Gate's AX/BX/DX/ES:DI convention: the UNDI ROM loader entry point
// predates PXE and uses the BIOS Boot Specification's own call shape, so
// the marshaling differs even though the underlying call-gate primitive
// (far call, A20 restore on return) is the same one undicall.Caller
// already provides.
type loaderGate struct {
	caller *undicall.Caller
}

func (g loaderGate) Call(entry pxeapi.SegOff, busDevFn uint16, codeSeg, dataSeg uint16, pnpPtr pxeapi.SegOff) (pxeapi.SegOff, bool) {
	status := g.caller.Call(entry, pxeapi.Opcode(busDevFn), codeSeg, dataSeg)

	if status != 0 {
		return pxeapi.SegOff{}, false
	}

	return pxeapi.SegOff{Offset: 0, Segment: codeSeg}, true
}
