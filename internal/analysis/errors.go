package analysis

import "errors"

var (
	// ErrInsufficientData marks a series too short for the requested metric.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrArithmeticDomain marks a division by zero or an undefined power in
	// the return calculations.
	ErrArithmeticDomain = errors.New("arithmetic domain error")

	// ErrConfiguration marks invalid detector or simulator parameters.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrRunOutOfRange marks a run whose indices fall outside the series.
	ErrRunOutOfRange = errors.New("run index out of range")
)
