// UNDI loader: discovered-ROM loader invocation
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package loader invokes a discovered UNDI ROM's loader entry point,
// adapted from the original driver's undi_loader(): allocate code/data
// segments, fill in the AX/BX/DX/ES:DI input the BIOS Boot Specification's
// loader convention expects, hide the core's working area for the
// duration of the call (the loader often probes E820 itself), and on
// return validate and cache the !PXE pointer it hands back.
package loader

import (
	"errors"

	"github.com/netboot-go/pxecore/arena"
	"github.com/netboot-go/pxecore/hidemem"
	"github.com/netboot-go/pxecore/internal/physmem"
	"github.com/netboot-go/pxecore/pxeapi"
)

var (
	// ErrNoPCIDevice is returned if asked to load a ROM with no PCI
	// identity: "attempted to call loader of an ISA ROM" in the
	// original, a caller mistake rather than a recoverable condition.
	ErrNoPCIDevice = errors.New("loader: UNDI ROM has no PCI bus:devfn")
	// ErrLoaderFailed is returned when the ROM's loader entry point
	// itself reports failure.
	ErrLoaderFailed = errors.New("loader: UNDI ROM loader call failed")
	// ErrInvalidPXE is returned when the returned !PXE pointer's
	// signature or checksum does not validate.
	ErrInvalidPXE = errors.New("loader: returned !PXE record failed validation")
	// ErrHookLost is returned when the E820 mangler could not be
	// unhidden after the loader call returned: spec.md §4.4 marks this
	// fatal, since the loader may have trashed the hook.
	ErrHookLost = errors.New("loader: could not unhide working area after loader call, hook lost")
)

// Gate is the real-mode call-gate backend for a UNDI ROM's own loader
// entry point. It is distinct from undicall.Gate: the loader predates PXE
// and uses the BIOS Boot Specification's own AX/BX/DX/ES:DI convention
// rather than the opcode/offset/segment convention every other UNDI call
// uses, so it gets its own narrow interface instead of being shoehorned
// into undicall's.
type Gate interface {
	// Call invokes the ROM's loader entry point with the PCI bus:devfn
	// in AX, 0xFFFF in BX/DX, and pnpPtr (zero if absent) in ES:DI,
	// passing the allocated code/data segment selectors so the loader
	// can place its driver there. It returns the far pointer the loader
	// wrote back for the !PXE record, and whether the call reported
	// success.
	Call(entry pxeapi.SegOff, busDevFn uint16, codeSeg, dataSeg uint16, pnpPtr pxeapi.SegOff) (pxePtr pxeapi.SegOff, ok bool)
}

// Result is what a successful Load returns: the validated !PXE record and
// the (base, length) of the code/data segments the caller now owns and
// must eventually reclaim (by Arena.Free in Unloaded, or by the
// firing-squad sweep once the UNDI base code itself is unloaded).
type Result struct {
	PXE       *pxeapi.PXE
	CodeAddr  uint32
	CodeSize  uint32
	DataAddr  uint32
	DataSize  uint32
}

// Load runs the full §4.4 algorithm against a UNDI ROM whose loader entry
// point is entry and whose UNDI ROM ID block advertises codeSize/dataSize.
// hide/hideRegion is the core's own working area, masked from E820 for the
// duration of the call. pnpPtr is the $PnP BIOS table scan discovered, or
// the zero value if none was found.
func Load(a *arena.Arena, gate Gate, mem physmem.Memory, hide *hidemem.Manager, hideRegion hidemem.Region, entry pxeapi.SegOff, busDevFn uint16, hasPCI bool, pnpPtr pxeapi.SegOff, codeSize, dataSize uint32) (*Result, error) {
	if !hasPCI {
		return nil, ErrNoPCIDevice
	}

	codeAddr := a.Alloc(int(codeSize), 16)
	dataAddr := a.Alloc(int(dataSize), 16)

	codeSeg := uint16(codeAddr >> 4)
	dataSeg := uint16(dataAddr >> 4)

	if !hide.Hide(hideRegion) {
		a.Free(codeAddr)
		a.Free(dataAddr)
		return nil, errors.New("loader: could not hide working area before loader call")
	}

	pxePtr, ok := gate.Call(entry, busDevFn, codeSeg, dataSeg, pnpPtr)

	if !hide.Unhide() {
		// The loader trashed the hook: fatal per spec.md §4.4 step 5.
		// The code/data segments are left allocated deliberately; a
		// caller that cannot trust the memory map any further should
		// not also be trying to free regions within it.
		return nil, ErrHookLost
	}

	if !ok {
		a.Free(codeAddr)
		a.Free(dataAddr)
		return nil, ErrLoaderFailed
	}

	raw := make([]byte, 16)
	mem.Read(pxePtr.Linear(), raw)

	length := raw[4]
	if length == 0 {
		a.Free(codeAddr)
		a.Free(dataAddr)
		return nil, ErrInvalidPXE
	}

	full := make([]byte, length)
	mem.Read(pxePtr.Linear(), full)

	pxe := &pxeapi.PXE{}
	if err := pxeapi.Unmarshal(full, pxe); err != nil || !pxe.Verify() {
		a.Free(codeAddr)
		a.Free(dataAddr)
		return nil, ErrInvalidPXE
	}

	return &Result{
		PXE:      pxe,
		CodeAddr: codeAddr,
		CodeSize: codeSize,
		DataAddr: dataAddr,
		DataSize: dataSize,
	}, nil
}
