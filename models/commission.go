package models

import "time"

// CommissionType distinguishes the one-time installation bonus from the
// recurring monthly bonus.
type CommissionType string

const (
	CommissionTypeInstallation CommissionType = "installation"
	CommissionTypeMonthly      CommissionType = "monthly"
)

// CommissionStatus is the lifecycle state of a commission.
type CommissionStatus string

const (
	CommissionStatusPending   CommissionStatus = "pending"
	CommissionStatusEarned    CommissionStatus = "earned"
	CommissionStatusApplied   CommissionStatus = "applied"   // terminal
	CommissionStatusCancelled CommissionStatus = "cancelled" // terminal
)

// IsTerminal reports whether no further transition may leave this status.
func (s CommissionStatus) IsTerminal() bool {
	return s == CommissionStatusApplied || s == CommissionStatusCancelled
}

// IsValid reports whether s is one of the known lifecycle states.
func (s CommissionStatus) IsValid() bool {
	switch s {
	case CommissionStatusPending, CommissionStatusEarned, CommissionStatusApplied, CommissionStatusCancelled:
		return true
	}
	return false
}

// Commission is a monetary credit owed to a referrer for a specific referred
// client. Amount and Currency are frozen from the settings snapshot in effect
// at creation time; later settings changes never alter existing rows.
//
// PeriodIndex is 0 for the installation bonus and 1..MonthsToEarn for monthly
// cycles. The composite unique index makes event delivery idempotent: a
// re-fired installation or monthly-cycle event hits the constraint instead of
// producing a duplicate row.
type Commission struct {
	ID         string `gorm:"primaryKey;type:uuid" json:"id"`
	ReferrerID string `gorm:"type:uuid;not null;index;uniqueIndex:idx_commission_period" json:"referrer_id"`
	ReferredID string `gorm:"type:uuid;not null;index;uniqueIndex:idx_commission_period" json:"referred_id"`

	Type        CommissionType `gorm:"not null;uniqueIndex:idx_commission_period" json:"type"`
	PeriodIndex int            `gorm:"not null;default:0;uniqueIndex:idx_commission_period" json:"period_index"`

	Amount   float64 `gorm:"not null" json:"amount"`
	Currency string  `gorm:"size:8;not null" json:"currency"`

	Status     CommissionStatus `gorm:"not null;default:'pending';index" json:"status"`
	EarnedAt   time.Time        `json:"earned_at"`
	AppliedAt  *time.Time       `json:"applied_at,omitempty"`
	InvoiceRef *string          `json:"invoice_ref,omitempty"` // external invoice the credit was applied against
	Notes      string           `gorm:"type:text" json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
