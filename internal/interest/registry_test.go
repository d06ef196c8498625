package interest

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

type recordingObserver struct {
	events []CurveEvent
}

func (o *recordingObserver) CurveChanged(ev CurveEvent) {
	o.events = append(o.events, ev)
}

func TestNewAssetDuplicate(t *testing.T) {
	reg, cap := newTestRegistry(t)
	mustNewAsset(t, reg, cap, "usdc")
	if err := reg.NewAsset(cap, "usdc"); !errors.Is(err, ErrAlreadyConfigured) {
		t.Fatalf("err = %v, want ErrAlreadyConfigured", err)
	}
}

func TestNewAssetDefaults(t *testing.T) {
	reg, cap := newTestRegistry(t)
	mustNewAsset(t, reg, cap, "usdc")

	cfg, err := reg.Config("usdc")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Params != DefaultParams() {
		t.Errorf("params = %+v, want defaults", cfg.Params)
	}
	if !cfg.Ri.IsZero() || !cfg.Tcrit.IsZero() {
		t.Error("fresh asset should start with zero memory")
	}
}

func TestCapabilityAuthorization(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, foreign := NewRegistry("intruder", NopObserver{}, zerolog.Nop())

	if err := reg.NewAsset(foreign, "usdc"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("NewAsset err = %v, want ErrUnauthorized", err)
	}
	if err := reg.SetConfig(foreign, "usdc", DefaultParams()); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("SetConfig err = %v, want ErrUnauthorized", err)
	}
	if err := reg.RestoreMemory(foreign, "usdc", uint256.NewInt(1), uint256.NewInt(1)); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("RestoreMemory err = %v, want ErrUnauthorized", err)
	}
}

func TestSetConfigValidation(t *testing.T) {
	reg, cap := newTestRegistry(t)
	mustNewAsset(t, reg, cap, "usdc")

	bad := DefaultParams()
	bad.Ulow = bad.Uopt + 1
	if err := reg.SetConfig(cap, "usdc", bad); !errors.Is(err, ErrInvalidCurveParameters) {
		t.Errorf("err = %v, want ErrInvalidCurveParameters", err)
	}

	if err := reg.SetConfig(cap, "ghost", DefaultParams()); !errors.Is(err, ErrUnknownAsset) {
		t.Errorf("err = %v, want ErrUnknownAsset", err)
	}
}

// Reconfiguring replaces the curve shape but never the accrued memory:
// Ri and Tcrit belong to the pool's history, not to the parameter set.
func TestSetConfigKeepsMemory(t *testing.T) {
	reg, cap := newTestRegistry(t)
	mustNewAsset(t, reg, cap, "usdc")
	if err := reg.RestoreMemory(cap, "usdc", uint256.NewInt(123), uint256.NewInt(456)); err != nil {
		t.Fatal(err)
	}

	next := DefaultParams()
	next.Klin = 2_000_000_000
	if err := reg.SetConfig(cap, "usdc", next); err != nil {
		t.Fatal(err)
	}

	cfg, err := reg.Config("usdc")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Params.Klin != 2_000_000_000 {
		t.Errorf("klin = %d, want 2000000000", cfg.Params.Klin)
	}
	if cfg.Ri.Uint64() != 123 || cfg.Tcrit.Uint64() != 456 {
		t.Errorf("memory = (%s, %s), want (123, 456)", cfg.Ri.Dec(), cfg.Tcrit.Dec())
	}
}

func TestConfigUnknownAsset(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if _, err := reg.Config("ghost"); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("err = %v, want ErrUnknownAsset", err)
	}
}

func TestKeysSorted(t *testing.T) {
	reg, cap := newTestRegistry(t)
	for _, key := range []string{"weth", "dai", "usdc"} {
		mustNewAsset(t, reg, cap, key)
	}
	got := reg.Keys()
	want := []string{"dai", "usdc", "weth"}
	if len(got) != len(want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Keys() = %v, want %v", got, want)
		}
	}
}

func TestObserverReceivesEvents(t *testing.T) {
	obs := &recordingObserver{}
	reg, cap := NewRegistry("owner", obs, zerolog.Nop())

	if err := reg.NewAsset(cap, "usdc"); err != nil {
		t.Fatal(err)
	}
	if err := reg.RestoreMemory(cap, "usdc", uint256.NewInt(9), uint256.NewInt(8)); err != nil {
		t.Fatal(err)
	}
	next := DefaultParams()
	next.Beta = 300_000
	if err := reg.SetConfig(cap, "usdc", next); err != nil {
		t.Fatal(err)
	}

	if len(obs.events) < 2 {
		t.Fatalf("got %d events, want at least 2", len(obs.events))
	}
	first := obs.events[0]
	if first.Caller != "owner" || first.Key != "usdc" {
		t.Errorf("first event = %q/%q, want owner/usdc", first.Caller, first.Key)
	}
	if first.Params != DefaultParams() {
		t.Errorf("first event params = %+v, want defaults", first.Params)
	}

	last := obs.events[len(obs.events)-1]
	if last.Params.Beta != 300_000 {
		t.Errorf("last event beta = %d, want 300000", last.Params.Beta)
	}
	if last.Ri.Uint64() != 9 || last.Tcrit.Uint64() != 8 {
		t.Errorf("last event memory = (%s, %s), want (9, 8)", last.Ri.Dec(), last.Tcrit.Dec())
	}
}
