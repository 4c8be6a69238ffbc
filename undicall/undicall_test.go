package undicall

import (
	"testing"

	"github.com/netboot-go/pxecore/pxeapi"
)

type fakeGate struct {
	called bool
	panic  bool
	status uint16
}

func (g *fakeGate) Call(entry pxeapi.SegOff, opcode pxeapi.Opcode, off, seg uint16) uint16 {
	g.called = true

	if g.panic {
		panic("vendor driver corrupted the stack")
	}

	return g.status
}

type fakeA20 struct {
	enabledCalls int
}

func (a *fakeA20) SetEnabled(enabled bool) {
	if enabled {
		a.enabledCalls++
	}
}

func TestCallRestoresA20OnSuccess(t *testing.T) {
	gate := &fakeGate{status: 0x42}
	a20 := &fakeA20{}

	c := &Caller{Gate: gate, A20: a20}

	status := c.Call(pxeapi.SegOff{}, pxeapi.OpUNDIStartup, 0, 0)

	if status != 0x42 {
		t.Fatalf("expected status 0x42, got %#x", status)
	}

	if a20.enabledCalls != 1 {
		t.Fatalf("expected A20 to be re-enabled once, got %d", a20.enabledCalls)
	}
}

func TestCallRestoresA20OnPanic(t *testing.T) {
	gate := &fakeGate{panic: true}
	a20 := &fakeA20{}

	c := &Caller{Gate: gate, A20: a20}

	defer func() {
		recover()

		if a20.enabledCalls != 1 {
			t.Fatalf("expected A20 to be re-enabled even after a panicking call, got %d", a20.enabledCalls)
		}
	}()

	c.Call(pxeapi.SegOff{}, pxeapi.OpUNDIStartup, 0, 0)
}
