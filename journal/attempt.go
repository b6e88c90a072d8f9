package journal

import (
	"time"

	"github.com/zllovesuki/storecheckout/spec"
)

// Attempt is one checkout submission as recorded for reconciliation
type Attempt struct {
	ID       string `json:"id" gorm:"primaryKey"`
	ShopID   int64  `json:"shop_id" gorm:"index"`
	SellerID int64  `json:"seller_id"`
	Email    string `json:"email"`
	PlanID   string `json:"plan_id"`
	Cycle    string `json:"cycle"`

	// Decision is the phase Decide entered, Pending its continuation
	Decision string `json:"decision"`
	Pending  string `json:"pending"`

	// State is the terminal phase; empty while the chain runs
	State       string        `json:"state"`
	FailedPhase string        `json:"failed_phase,omitempty"`
	Error       string        `json:"error,omitempty"`
	Targets     spec.Metadata `json:"targets"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Steps []Step `json:"steps" gorm:"constraint:OnDelete:CASCADE"`
}

// Step is the outcome of one collaborator call in an Attempt
type Step struct {
	ID        uint      `json:"-" gorm:"primaryKey"`
	AttemptID string    `json:"-" gorm:"index"`
	Kind      string    `json:"kind"`
	OK        bool      `json:"ok"`
	Message   string    `json:"message,omitempty"`
	CardID    string    `json:"card_id,omitempty"`
	ElapsedMS int64     `json:"elapsed_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// Finished reports whether the attempt reached a terminal state
func (a *Attempt) Finished() bool {
	return a.FinishedAt != nil
}
