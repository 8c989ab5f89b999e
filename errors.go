package hyperloglockless

import "errors"

// Validation errors surfaced at the API boundary. Insert, Count, Clear,
// Len, and Precision are infallible by contract and never return these.
var (
	// ErrInvalidPrecision reports a precision outside [MinPrecision,
	// MaxPrecision] at construction or deserialization.
	ErrInvalidPrecision = errors.New("precision out of range")

	// ErrIncompatiblePrecision reports a merge between sketches of
	// different precisions, or a serialized payload whose length disagrees
	// with its declared precision.
	ErrIncompatiblePrecision = errors.New("incompatible precision")

	// ErrCorruptPayload reports a truncated payload or a register value
	// outside the legal rank domain during deserialization.
	ErrCorruptPayload = errors.New("corrupt payload")
)
