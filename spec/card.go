package spec

import (
	"fmt"
	"time"
)

const almostExpiredWindow = 30 * 24 * time.Hour

// SavedCard is a card stored in the vault. The checkout only reads and selects from the set.
type SavedCard struct {
	ID              string    `json:"id"`
	Brand           string    `json:"brand"`
	Last4           string    `json:"last4"`
	HolderName      string    `json:"name,omitempty"`
	Type            string    `json:"type,omitempty"`
	ExpirationMonth int       `json:"expiration_month"`
	ExpirationYear  int       `json:"expiration_year"`
	IsDefault       bool      `json:"is_default"`
	IsBackup        bool      `json:"is_backup"`
	Status          string    `json:"status,omitempty"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
}

// ExpiresAt is the last instant of the expiration month, in loc.
// A card expiring 03/25 is valid through 2025-03-31T23:59:59.999.
func ExpiresAt(month, year int, loc *time.Location) time.Time {
	if year < 100 {
		year += 2000
	}
	firstOfNext := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, loc)
	return firstOfNext.Add(-time.Millisecond)
}

// ExpiresAt returns the end of the card's validity
func (c SavedCard) ExpiresAt(loc *time.Location) time.Time {
	return ExpiresAt(c.ExpirationMonth, c.ExpirationYear, loc)
}

// IsExpired reports whether the card can no longer be charged at now
func (c SavedCard) IsExpired(now time.Time) bool {
	return c.ExpiresAt(now.Location()).Before(now)
}

// DaysLeft is the number of whole days before expiry, never negative
func (c SavedCard) DaysLeft(now time.Time) int {
	d := c.ExpiresAt(now.Location()).Sub(now)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// AlmostExpired reports whether the card expires within the next 30 days
func (c SavedCard) AlmostExpired(now time.Time) bool {
	d := c.ExpiresAt(now.Location()).Sub(now)
	return d > 0 && d <= almostExpiredWindow
}

// ExpirationLabel formats the expiry as MM/YY
func (c SavedCard) ExpirationLabel() string {
	return fmt.Sprintf("%02d/%02d", c.ExpirationMonth, c.ExpirationYear%100)
}
