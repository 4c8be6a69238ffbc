package state

import "testing"

func TestEnsureStateAdvancesStepwise(t *testing.T) {
	var order []string

	hooks := Hooks{
		HookVectors: func() bool {
			order = append(order, "hook")
			return true
		},
		InitNIC: func() bool {
			order = append(order, "init")
			return true
		},
		QuiesceNIC: func() {
			order = append(order, "quiesce")
		},
		UnhookVectors: func() bool {
			order = append(order, "unhook")
			return true
		},
	}

	m := New(hooks)

	if m.Current() != Unloaded {
		t.Fatalf("new machine should start Unloaded, got %v", m.Current())
	}

	if !m.EnsureState(Ready) {
		t.Fatal("EnsureState(Ready) should succeed")
	}

	if m.Current() != Ready {
		t.Fatalf("expected Ready, got %v", m.Current())
	}

	want := []string{"hook", "init"}
	if len(order) != len(want) || order[0] != want[0] || order[1] != want[1] {
		t.Fatalf("expected hook then init, got %v", order)
	}
}

func TestEnsureStateStopsAtFirstFailedEdge(t *testing.T) {
	hooks := Hooks{
		HookVectors: func() bool { return true },
		InitNIC:     func() bool { return false },
	}

	m := New(hooks)

	if m.EnsureState(Ready) {
		t.Fatal("EnsureState(Ready) should fail when InitNIC fails")
	}

	if m.Current() != Midway {
		t.Fatalf("failed Midway->Ready edge should leave machine at Midway, got %v", m.Current())
	}
}

func TestEnsureStateUnhookFailureStaysAtMidway(t *testing.T) {
	hooks := Hooks{
		HookVectors:   func() bool { return true },
		UnhookVectors: func() bool { return false },
	}

	m := New(hooks)

	if !m.EnsureState(Midway) {
		t.Fatal("EnsureState(Midway) should succeed")
	}

	if m.EnsureState(Unloaded) {
		t.Fatal("EnsureState(Unloaded) should fail when UnhookVectors fails")
	}

	if m.Current() != Midway {
		t.Fatalf("failed unhook must leave the machine at Midway, not Unloaded, got %v", m.Current())
	}
}

func TestEnsureStateDescendsFromReady(t *testing.T) {
	var quiesced, unhooked bool

	hooks := Hooks{
		HookVectors:   func() bool { return true },
		InitNIC:       func() bool { return true },
		QuiesceNIC:    func() { quiesced = true },
		UnhookVectors: func() bool { unhooked = true; return true },
	}

	m := New(hooks)

	if !m.EnsureState(Ready) {
		t.Fatal("EnsureState(Ready) should succeed")
	}

	if !m.EnsureState(Unloaded) {
		t.Fatal("EnsureState(Unloaded) should succeed")
	}

	if !quiesced || !unhooked {
		t.Fatalf("descending from Ready to Unloaded must quiesce the NIC and unhook vectors, got quiesced=%v unhooked=%v", quiesced, unhooked)
	}

	if m.Current() != Unloaded {
		t.Fatalf("expected Unloaded, got %v", m.Current())
	}
}
