package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lending-rate-engine/internal/alerting"
	"lending-rate-engine/internal/config"
	"lending-rate-engine/internal/interest"
	"lending-rate-engine/internal/pool"
	"lending-rate-engine/internal/storage"
)

type memStateStore struct {
	states map[string]storage.CurveState
}

func newMemStateStore() *memStateStore {
	return &memStateStore{states: make(map[string]storage.CurveState)}
}

func (m *memStateStore) UpsertCurveState(_ context.Context, state storage.CurveState) error {
	m.states[state.AssetKey] = state
	return nil
}

func (m *memStateStore) GetCurveState(_ context.Context, key string) (storage.CurveState, error) {
	return m.states[key], nil
}

func (m *memStateStore) ListCurveStates(_ context.Context) ([]storage.CurveState, error) {
	out := make([]storage.CurveState, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s)
	}
	return out, nil
}

type memSampleStore struct {
	samples []storage.AccrualSample
}

func (m *memSampleStore) UpsertAccrualSample(_ context.Context, s storage.AccrualSample) error {
	m.samples = append(m.samples, s)
	return nil
}

func (m *memSampleStore) ListSamplesBetween(_ context.Context, _ string, _, _ time.Time) ([]storage.AccrualSample, error) {
	return m.samples, nil
}

func (m *memSampleStore) ListRecentSamples(_ context.Context, _ int) ([]storage.AccrualSample, error) {
	return m.samples, nil
}

func (m *memSampleStore) MarkSampleErrored(_ context.Context, _ string, _ time.Time, _ string) error {
	return nil
}

func (m *memSampleStore) CountSamples(_ context.Context) (int64, error) {
	return int64(len(m.samples)), nil
}

type captureNotifier struct {
	notes []alerting.Notification
}

func (c *captureNotifier) Notify(_ context.Context, note alerting.Notification) error {
	c.notes = append(c.notes, note)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Assets:   []config.AssetConfig{{Key: "usdc"}},
		Alerting: config.AlertingConfig{Enabled: true, Channels: []string{"webhook"}},
	}
}

type harness struct {
	svc      *Service
	fetcher  *pool.Static
	states   *memStateStore
	samples  *memSampleStore
	notifier *captureNotifier
	now      time.Time
}

func newHarness(t *testing.T, deposits, borrows uint64) *harness {
	t.Helper()

	registry, cap := interest.NewRegistry("service", interest.NopObserver{}, zerolog.Nop())
	h := &harness{
		states:   newMemStateStore(),
		samples:  &memSampleStore{},
		notifier: &captureNotifier{},
		now:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.fetcher = &pool.Static{
		TotalDeposits: uint256.NewInt(deposits),
		TotalBorrows:  uint256.NewInt(borrows),
		Clock:         func() time.Time { return h.now },
	}
	h.svc = New(testConfig(), nil, registry, cap, h.fetcher, h.states, h.samples, h.notifier, zerolog.Nop())
	if err := h.svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return h
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	if err := h.svc.ProcessBucket(context.Background(), h.now); err != nil {
		t.Fatalf("ProcessBucket: %v", err)
	}
}

func TestFirstPassEstablishesWatermark(t *testing.T) {
	h := newHarness(t, 100_000_000_000, 90_000_000_000)

	h.tick(t)

	if len(h.samples.samples) != 0 {
		t.Fatalf("got %d samples on first pass, want 0", len(h.samples.samples))
	}
	state, ok := h.states.states["usdc"]
	if !ok {
		t.Fatal("curve state not persisted on first pass")
	}
	if state.LastUpdated != h.now.UnixMicro() {
		t.Fatalf("watermark = %d, want %d", state.LastUpdated, h.now.UnixMicro())
	}
}

func TestAccrualPersistedAndMemoryCarried(t *testing.T) {
	h := newHarness(t, 100_000_000_000, 90_000_000_000)

	h.tick(t)
	h.now = h.now.Add(time.Hour)
	h.tick(t)

	if len(h.samples.samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(h.samples.samples))
	}
	first := h.samples.samples[0]
	if got := first.Rcomp.String(); got != "253932" {
		t.Errorf("rcomp = %s, want 253932", got)
	}
	if first.ElapsedSecs != 3600 {
		t.Errorf("elapsed = %d, want 3600", first.ElapsedSecs)
	}
	if first.Overflow {
		t.Error("overflow flagged for a normal window")
	}

	h.now = h.now.Add(time.Hour)
	h.tick(t)

	second := h.samples.samples[1]
	if got := second.Rcomp.String(); got != "420464" {
		t.Errorf("second hour rcomp = %s, want 420464 (grown via critical memory)", got)
	}

	state := h.states.states["usdc"]
	if got := state.Tcrit.String(); got != "2000001600" {
		t.Errorf("persisted tcrit = %s, want 2000001600", got)
	}
	if len(h.notifier.notes) != 0 {
		t.Errorf("got %d alerts, want none", len(h.notifier.notes))
	}
}

func TestOverflowTriggersAlert(t *testing.T) {
	h := newHarness(t, 50_000_000_000, 50_000_000_000)

	h.tick(t)
	h.now = h.now.Add(365 * 24 * time.Hour)
	h.tick(t)

	if len(h.samples.samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(h.samples.samples))
	}
	if !h.samples.samples[0].Overflow {
		t.Fatal("sample not marked overflowed")
	}
	if len(h.notifier.notes) != 1 {
		t.Fatalf("got %d alerts, want 1", len(h.notifier.notes))
	}
	note := h.notifier.notes[0]
	if note.AssetKey != "usdc" {
		t.Errorf("alert asset = %s, want usdc", note.AssetKey)
	}
	if note.Rcomp.Cmp(decimal.RequireFromString("65536000000000")) != 0 {
		t.Errorf("alert rcomp = %s, want 65536000000000", note.Rcomp)
	}
}

func TestStalePoolStateDropped(t *testing.T) {
	h := newHarness(t, 100_000_000_000, 50_000_000_000)

	h.tick(t)
	h.now = h.now.Add(time.Hour)
	h.tick(t)
	before := len(h.samples.samples)

	h.now = h.now.Add(-30 * time.Minute)
	h.tick(t)

	if len(h.samples.samples) != before {
		t.Fatalf("stale state consumed a window: %d samples, want %d", len(h.samples.samples), before)
	}
}

func TestBootstrapRehydratesCurveState(t *testing.T) {
	states := newMemStateStore()
	params, err := json.Marshal(interest.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	states.states["usdc"] = storage.CurveState{
		AssetKey:    "usdc",
		Params:      params,
		Ri:          decimal.RequireFromString("1691187839"),
		Tcrit:       decimal.RequireFromString("1000000800"),
		LastUpdated: start.UnixMicro(),
	}

	registry, cap := interest.NewRegistry("service", interest.NopObserver{}, zerolog.Nop())
	samples := &memSampleStore{}
	now := start
	fetcher := &pool.Static{
		TotalDeposits: uint256.NewInt(100_000_000_000),
		TotalBorrows:  uint256.NewInt(90_000_000_000),
		Clock:         func() time.Time { return now },
	}
	svc := New(testConfig(), nil, registry, cap, fetcher, states, samples, nil, zerolog.Nop())
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	// The watermark came from storage, so the very first pass already has a
	// window to accrue, continuing the critical memory from the prior run.
	now = now.Add(time.Hour)
	if err := svc.ProcessBucket(context.Background(), now); err != nil {
		t.Fatalf("ProcessBucket: %v", err)
	}

	if len(samples.samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(samples.samples))
	}
	if got := samples.samples[0].Rcomp.String(); got != "420464" {
		t.Fatalf("rcomp = %s, want 420464 (second critical hour)", got)
	}
}
