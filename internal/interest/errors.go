package interest

import "errors"

var (
	// ErrInvalidTimestamp indicates an accrual window ending before it starts.
	ErrInvalidTimestamp = errors.New("interest: now precedes last update")
	// ErrAlreadyConfigured indicates a duplicate asset registration.
	ErrAlreadyConfigured = errors.New("interest: asset already configured")
	// ErrUnknownAsset indicates an asset key with no curve.
	ErrUnknownAsset = errors.New("interest: unknown asset")
	// ErrInvalidCurveParameters indicates threshold ordering or positivity violations.
	ErrInvalidCurveParameters = errors.New("interest: invalid curve parameters")
	// ErrUnauthorized indicates a write attempted without the governance capability.
	ErrUnauthorized = errors.New("interest: governance capability required")
	// ErrExpOutOfRange indicates a binary exponent outside the supported domain.
	ErrExpOutOfRange = errors.New("interest: exponent out of range")
)
