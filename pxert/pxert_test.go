package pxert

import (
	"testing"

	"github.com/netboot-go/pxecore/arena"
	"github.com/netboot-go/pxecore/pxeapi"
)

type fakeInt1A struct {
	current pxeapi.SegOff
	saved   pxeapi.SegOff
}

func (f *fakeInt1A) Save() pxeapi.SegOff {
	f.saved = f.current
	return f.saved
}

func (f *fakeInt1A) Install(handler pxeapi.SegOff) {
	f.current = handler
}

func (f *fakeInt1A) Restore(handler pxeapi.SegOff) {
	f.current = handler
}

func (f *fakeInt1A) Current() pxeapi.SegOff {
	return f.current
}

func TestNewStampsValidRecords(t *testing.T) {
	a := arena.New(0x10000, 0x10000)
	int1a := &fakeInt1A{current: pxeapi.SegOff{Segment: 0xF000, Offset: 0x1234}}

	p := New(a, 256, pxeapi.SegOff{Segment: 0x2000, Offset: 0x0010}, int1a)

	if !p.PXE.Verify() {
		t.Fatal("!PXE record should verify immediately after construction")
	}

	if !p.PXENV.Verify() {
		t.Fatal("PXENV+ record should verify immediately after construction")
	}
}

func TestSetSegDescKeepsChecksumValid(t *testing.T) {
	a := arena.New(0x10000, 0x10000)
	int1a := &fakeInt1A{}

	p := New(a, 256, pxeapi.SegOff{}, int1a)

	p.SetSegDesc(pxeapi.SegStack, pxeapi.SegDesc{SegAddr: 0x3000, PhysAddr: 0x30000, SegSize: 0x400})

	if !p.PXE.Verify() {
		t.Fatal("!PXE checksum must still hold after mutating a segment descriptor")
	}
}

func TestHookUnhookRoundTrip(t *testing.T) {
	a := arena.New(0x10000, 0x10000)
	original := pxeapi.SegOff{Segment: 0xF000, Offset: 0x1234}
	int1a := &fakeInt1A{current: original}

	handler := pxeapi.SegOff{Segment: 0x2000, Offset: 0x0}
	p := New(a, 256, handler, int1a)

	if !p.Hook(pxeapi.SegOff{Segment: 0x2000, Offset: 0x0010}) {
		t.Fatal("Hook should succeed")
	}

	if int1a.Current() != handler {
		t.Fatalf("expected installed handler %v, got %v", handler, int1a.Current())
	}

	if !p.Unhook() {
		t.Fatal("Unhook should succeed")
	}

	if int1a.Current() != original {
		t.Fatalf("expected restored handler %v, got %v", original, int1a.Current())
	}
}

func TestUnhookFailsIfVectorStolen(t *testing.T) {
	a := arena.New(0x10000, 0x10000)
	int1a := &fakeInt1A{}

	handler := pxeapi.SegOff{Segment: 0x2000, Offset: 0x0}
	p := New(a, 256, handler, int1a)

	p.Hook(pxeapi.SegOff{})

	// a badly-behaved NBP overwrites the vector after Hook.
	int1a.current = pxeapi.SegOff{Segment: 0x9999, Offset: 0x1}

	if p.Unhook() {
		t.Fatal("Unhook must fail when the vector no longer holds our handler")
	}

	if !p.Hooked() {
		t.Fatal("Publisher must still consider itself hooked after a failed Unhook")
	}
}
