package host

import "errors"

var (
	ErrInvalidTickRate = errors.New("tick rate must be positive")
	ErrNoMetrics       = errors.New("metrics are not configured")
)
