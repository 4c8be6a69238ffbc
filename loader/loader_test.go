package loader

import (
	"testing"

	"github.com/netboot-go/pxecore/arena"
	"github.com/netboot-go/pxecore/hidemem"
	"github.com/netboot-go/pxecore/internal/physmem"
	"github.com/netboot-go/pxecore/pxeapi"
)

type fakeHook struct {
	installed bool
	removable bool
}

func (h *fakeHook) Install(hidemem.Region) bool { h.installed = true; return true }
func (h *fakeHook) Remove() bool {
	if !h.removable {
		return false
	}
	h.installed = false
	return true
}

type fakeGate struct {
	pxeOffset uint16
	ok        bool
}

func (g *fakeGate) Call(entry pxeapi.SegOff, busDevFn uint16, codeSeg, dataSeg uint16, pnpPtr pxeapi.SegOff) (pxeapi.SegOff, bool) {
	return pxeapi.SegOff{Offset: g.pxeOffset, Segment: codeSeg}, g.ok
}

func writePixie(mem *physmem.Sim, addr uint32) {
	pxe := pxeapi.NewPXE()
	pxe.Stamp()
	mem.Write(addr, pxe.Bytes())
}

func TestLoadSucceedsAndValidatesPXE(t *testing.T) {
	a := arena.New(0x10000, 0x10000)
	hide := hidemem.NewManager(&fakeHook{removable: true})
	mem := &physmem.Sim{Base: 0, Data: make([]byte, 0x20000)}

	gate := &fakeGate{pxeOffset: 0, ok: true}

	result, err := Load(a, gate, mem, hide, hidemem.Region{Base: 0x1000, Length: 0x1000},
		pxeapi.SegOff{Segment: 0xC000, Offset: 0x0003}, 0x0018, true, pxeapi.SegOff{}, 256, 128)

	// The gate in this test reports success but never actually wrote a
	// pixie; Load should fail validating it.
	if err == nil {
		t.Fatal("expected validation failure since no pixie was written to memory")
	}

	// Now write a valid pixie at the address Load will read from and
	// retry: CodeSeg is codeAddr>>4; Arena allocations start at the
	// arena base for a fresh arena.
	codeAddr := a.Start()
	writePixie(mem, codeAddr)

	result, err = Load(a, gate, mem, hide, hidemem.Region{Base: 0x1000, Length: 0x1000},
		pxeapi.SegOff{Segment: 0xC000, Offset: 0x0003}, 0x0018, true, pxeapi.SegOff{}, 256, 128)

	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !result.PXE.Verify() {
		t.Fatal("returned !PXE record should verify")
	}

	if hide.Active() {
		t.Fatal("Load should unhide the working area before returning")
	}
}

func TestLoadRejectsNonPCIDevice(t *testing.T) {
	a := arena.New(0x10000, 0x10000)
	hide := hidemem.NewManager(&fakeHook{removable: true})
	mem := &physmem.Sim{Base: 0, Data: make([]byte, 0x1000)}

	_, err := Load(a, &fakeGate{ok: true}, mem, hide, hidemem.Region{}, pxeapi.SegOff{}, 0, false, pxeapi.SegOff{}, 16, 16)

	if err != ErrNoPCIDevice {
		t.Fatalf("expected ErrNoPCIDevice, got %v", err)
	}
}

func TestLoadFreesSegmentsOnFailure(t *testing.T) {
	a := arena.New(0x10000, 0x1000)
	hide := hidemem.NewManager(&fakeHook{removable: true})
	mem := &physmem.Sim{Base: 0, Data: make([]byte, 0x2000)}

	before := a.Start()

	_, err := Load(a, &fakeGate{ok: false}, mem, hide, hidemem.Region{}, pxeapi.SegOff{}, 0x0018, true, pxeapi.SegOff{}, 256, 128)

	if err != ErrLoaderFailed {
		t.Fatalf("expected ErrLoaderFailed, got %v", err)
	}

	// The segments must have been returned to the arena: a subsequent
	// allocation of the same size should succeed from the same
	// starting point rather than the arena reporting itself full.
	addr := a.Alloc(256, 16)

	if addr != before {
		t.Fatalf("expected freed code segment to be reused at %#x, got %#x", before, addr)
	}
}

func TestLoadReturnsHookLostWhenUnhideFails(t *testing.T) {
	a := arena.New(0x10000, 0x10000)
	hide := hidemem.NewManager(&fakeHook{removable: false})
	mem := &physmem.Sim{Base: 0, Data: make([]byte, 0x2000)}

	_, err := Load(a, &fakeGate{ok: true}, mem, hide, hidemem.Region{Base: 0x1000, Length: 0x1000},
		pxeapi.SegOff{}, 0x0018, true, pxeapi.SegOff{}, 256, 128)

	if err != ErrHookLost {
		t.Fatalf("expected ErrHookLost, got %v", err)
	}
}
