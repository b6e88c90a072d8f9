package pricing

import "errors"

// Errors returned when a quote can not be produced
var (
	ErrInvalidCycle     = errors.New("billing cycle not offered by plan")
	ErrPlanNotAvailable = errors.New("plan not available")
)
