package stack

import (
	"net"
	"testing"

	"github.com/netboot-go/pxecore/arena"
	"github.com/netboot-go/pxecore/hidemem"
	"github.com/netboot-go/pxecore/internal/physmem"
	"github.com/netboot-go/pxecore/netdev"
	"github.com/netboot-go/pxecore/pxeapi"
	"github.com/netboot-go/pxecore/state"
)

type fakeDevice struct {
	addr    net.HardwareAddr
	disable bool
}

func (f *fakeDevice) Probe() (net.HardwareAddr, error) { return f.addr, nil }
func (f *fakeDevice) Address() net.HardwareAddr        { return f.addr }
func (f *fakeDevice) Disable() error                   { f.disable = true; return nil }
func (f *fakeDevice) Transmit([]byte) error            { return nil }
func (f *fakeDevice) Poll() ([]byte, bool)             { return nil, false }
func (f *fakeDevice) TXQueueEmpty() bool               { return true }
func (f *fakeDevice) IRQ(netdev.IRQMode)               {}
func (f *fakeDevice) Statistics() netdev.Statistics    { return netdev.Statistics{} }
func (f *fakeDevice) ClearStatistics()                 {}

type fakeInt1A struct {
	current pxeapi.SegOff
}

func (h *fakeInt1A) Save() pxeapi.SegOff           { return h.current }
func (h *fakeInt1A) Install(handler pxeapi.SegOff) { h.current = handler }
func (h *fakeInt1A) Restore(handler pxeapi.SegOff) { h.current = handler }
func (h *fakeInt1A) Current() pxeapi.SegOff        { return h.current }

type fakeHideHook struct {
	installed bool
	removable bool
}

func (h *fakeHideHook) Install(hidemem.Region) bool { h.installed = true; return true }
func (h *fakeHideHook) Remove() bool {
	if !h.removable {
		return false
	}
	h.installed = false
	return true
}

func resetSingleton() {
	current = nil
}

func testConfig() Config {
	a := arena.New(0x10000, 0x10000)
	mem := &physmem.Sim{Base: 0, Data: make([]byte, 0x20000)}
	dev := &fakeDevice{addr: net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}}

	return Config{
		Mem:            mem,
		Arena:          a,
		Device:         dev,
		Int1A:          &fakeInt1A{},
		HideHook:       &fakeHideHook{removable: true},
		Handler:        pxeapi.SegOff{Segment: 0x0050, Offset: 0x0010},
		TrampolineSize: 256,
		HideRegion:     hidemem.Region{Base: 0x10000, Length: 0x10000},
		CacheAddr:      0x8000,
		BounceAddr:     0x9000,
		BounceLen:      1514,
	}
}

func TestInstallIsIdempotent(t *testing.T) {
	resetSingleton()
	defer resetSingleton()

	s1 := InstallPXEStack(testConfig())
	s2 := InstallPXEStack(testConfig())

	if s1 != s2 {
		t.Fatal("second InstallPXEStack call should return the same Stack, not build a new one")
	}

	if s1.State.Current() != state.Unloaded {
		t.Fatalf("freshly installed stack should start Unloaded, got %v", s1.State.Current())
	}
}

func TestHookThenUnhookRestoresVector(t *testing.T) {
	resetSingleton()
	defer resetSingleton()

	int1a := &fakeInt1A{current: pxeapi.SegOff{Segment: 0xF000, Offset: 0x1234}}
	cfg := testConfig()
	cfg.Int1A = int1a

	s := InstallPXEStack(cfg)

	original := int1a.Current()

	if !s.State.EnsureState(state.Midway) {
		t.Fatal("expected Unloaded -> Midway to succeed")
	}

	if int1a.Current() != cfg.Handler {
		t.Fatalf("hook should install the stack's own handler, got %v", int1a.Current())
	}

	if !s.State.EnsureState(state.Unloaded) {
		t.Fatal("expected Midway -> Unloaded to succeed")
	}

	if int1a.Current() != original {
		t.Fatalf("unhook should restore the original vector byte-for-byte, got %v want %v", int1a.Current(), original)
	}
}

func TestUnhookRefusesWhenVectorStolen(t *testing.T) {
	resetSingleton()
	defer resetSingleton()

	int1a := &fakeInt1A{}
	cfg := testConfig()
	cfg.Int1A = int1a

	s := InstallPXEStack(cfg)

	if !s.State.EnsureState(state.Midway) {
		t.Fatal("expected Unloaded -> Midway to succeed")
	}

	// A badly-behaved NBP steals the vector.
	int1a.current = pxeapi.SegOff{Segment: 0xDEAD, Offset: 0xBEEF}

	if s.State.EnsureState(state.Unloaded) {
		t.Fatal("expected Midway -> Unloaded to fail when the vector was stolen")
	}

	if s.State.Current() != state.Midway {
		t.Fatalf("stack must remain Midway rather than leave a live handler in reclaimed memory, got %v", s.State.Current())
	}
}

func TestEnsureStateReadyInitializesDevice(t *testing.T) {
	resetSingleton()
	defer resetSingleton()

	s := InstallPXEStack(testConfig())

	if !s.State.EnsureState(state.Ready) {
		t.Fatal("expected Unloaded -> Ready to succeed")
	}

	if s.Dispatcher.UNDI.StationAddr == nil {
		t.Fatal("expected initNIC to populate the UNDI descriptor's station address")
	}
}

func TestRemoveFailsWhenManglerCannotBeUnhooked(t *testing.T) {
	resetSingleton()
	defer resetSingleton()

	cfg := testConfig()
	cfg.HideHook = &fakeHideHook{removable: false}

	s := InstallPXEStack(cfg)

	if !s.State.EnsureState(state.Ready) {
		t.Fatal("expected Unloaded -> Ready to succeed")
	}

	if err := RemovePXEStack(); err != ErrCannotRemove {
		t.Fatalf("expected ErrCannotRemove when the E820 mangler cannot be unhooked, got %v", err)
	}

	if Current() == nil {
		t.Fatal("a failed Remove must not clear the installed stack")
	}

	if s.State.Current() != state.Midway {
		t.Fatalf("stack must remain Midway, not silently report Unloaded, got %v", s.State.Current())
	}
}

func TestInstallThenImmediateRemove(t *testing.T) {
	resetSingleton()
	defer resetSingleton()

	InstallPXEStack(testConfig())

	if err := RemovePXEStack(); err != nil {
		t.Fatalf("expected a freshly installed (Unloaded) stack to remove cleanly, got %v", err)
	}

	if Current() != nil {
		t.Fatal("expected Current() to be nil after RemovePXEStack")
	}
}
