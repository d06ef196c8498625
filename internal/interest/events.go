package interest

import "github.com/holiman/uint256"

// CurveEvent describes a configuration change for an external observer:
// the acting capability holder, the asset, and the curve as committed.
type CurveEvent struct {
	Caller string
	Key    string
	Params CurveParams
	Ri     uint256.Int
	Tcrit  uint256.Int
}

// Observer receives curve events. Implementations must not call back into
// the registry; the event is emitted after the state is committed.
type Observer interface {
	CurveChanged(event CurveEvent)
}

// NopObserver discards all events.
type NopObserver struct{}

// CurveChanged implements Observer.
func (NopObserver) CurveChanged(CurveEvent) {}
