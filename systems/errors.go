package systems

import "errors"

// Error taxonomy for the diffusion core. Callers match with errors.Is;
// none of these are retryable.
var (
	// ErrConfiguration reports a bad field or domain setup detected at construction.
	ErrConfiguration = errors.New("configuration error")
	// ErrUnknownSubstance reports a lookup of a substance that was never defined.
	ErrUnknownSubstance = errors.New("unknown substance")
	// ErrInvalidArgument reports a caller bug such as a negative secretion amount.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNumericInstability reports coefficients that break the explicit diffusion scheme.
	ErrNumericInstability = errors.New("numeric instability")
)
