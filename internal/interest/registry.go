package interest

import (
	"sort"
	"sync"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// Registry is the keyed store of curve configurations. Reads are pure;
// writes require the Capability minted when the registry was created.
// A single mutex serializes every mutation: accrual reads and rewrites
// Ri/Tcrit non-atomically, so per-key calls must not interleave.
type Registry struct {
	mu       sync.Mutex
	assets   map[string]*CurveConfig
	observer Observer
	logger   zerolog.Logger
}

// Capability is the governance write token for one registry. Only the
// value returned by NewRegistry is accepted; the zero value and tokens
// minted for other registries are rejected.
type Capability struct {
	registry *Registry
	caller   string
}

// Caller reports the identity the capability was minted for.
func (c Capability) Caller() string { return c.caller }

// NewRegistry creates an empty registry and mints its write capability.
// caller identifies the governance holder in emitted events.
func NewRegistry(caller string, observer Observer, logger zerolog.Logger) (*Registry, Capability) {
	if observer == nil {
		observer = NopObserver{}
	}
	r := &Registry{
		assets:   make(map[string]*CurveConfig),
		observer: observer,
		logger:   logger.With().Str("component", "interest_registry").Logger(),
	}
	return r, Capability{registry: r, caller: caller}
}

func (r *Registry) authorize(cap Capability) error {
	if cap.registry != r {
		return ErrUnauthorized
	}
	return nil
}

// NewAsset registers key with the default curve and zeroed memory.
func (r *Registry) NewAsset(cap Capability, key string) error {
	if err := r.authorize(cap); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.assets[key]; ok {
		return ErrAlreadyConfigured
	}
	cfg := &CurveConfig{Params: DefaultParams()}
	r.assets[key] = cfg

	r.logger.Info().Str("asset", key).Msg("asset curve registered")
	r.emitLocked(cap.caller, key, cfg)
	return nil
}

// SetConfig replaces key's thresholds and sensitivities after validation.
// The persistent memory Ri/Tcrit carries forward unchanged so a parameter
// edit never causes a rate discontinuity.
func (r *Registry) SetConfig(cap Capability, key string, params CurveParams) error {
	if err := r.authorize(cap); err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.assets[key]
	if !ok {
		return ErrUnknownAsset
	}
	cfg.Params = params

	r.logger.Info().Str("asset", key).Msg("asset curve reconfigured")
	r.emitLocked(cap.caller, key, cfg)
	return nil
}

// RestoreMemory reinstates persisted Ri/Tcrit for key, for ledgers that
// rehydrate the registry at startup.
func (r *Registry) RestoreMemory(cap Capability, key string, ri, tcrit *uint256.Int) error {
	if err := r.authorize(cap); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.assets[key]
	if !ok {
		return ErrUnknownAsset
	}
	cfg.Ri.Set(ri)
	cfg.Tcrit.Set(tcrit)
	return nil
}

// Config returns a copy of key's curve.
func (r *Registry) Config(key string) (CurveConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.assets[key]
	if !ok {
		return CurveConfig{}, ErrUnknownAsset
	}
	return *cfg, nil
}

// Keys lists the registered asset keys in stable order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.assets))
	for k := range r.assets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Registry) emitLocked(caller, key string, cfg *CurveConfig) {
	ev := CurveEvent{Caller: caller, Key: key, Params: cfg.Params}
	ev.Ri.Set(&cfg.Ri)
	ev.Tcrit.Set(&cfg.Tcrit)
	r.observer.CurveChanged(ev)
}
