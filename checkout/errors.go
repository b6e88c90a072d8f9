package checkout

import (
	"errors"

	"github.com/zllovesuki/storecheckout/remote"
	"github.com/zllovesuki/storecheckout/spec"
)

// DefaultFailureMessage is shown when a failed step carries no message
const DefaultFailureMessage = remote.DefaultFallback

var (
	// ErrNoChange is returned for a submission that keeps plan, cycle and card
	ErrNoChange = errors.New("submission changes nothing")
	// ErrInFlight is returned while another submission for the same shop is running
	ErrInFlight = errors.New("another checkout is in progress for this shop")
	// ErrPlanNotFound is returned when the catalog has no such plan
	ErrPlanNotFound = errors.New("plan not found")
)

// ValidationError is malformed or incomplete form input. No call is issued for it.
type ValidationError struct {
	Fields spec.FieldErrors
}

func (e *ValidationError) Error() string {
	return e.Fields.Error()
}
