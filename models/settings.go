package models

import "time"

// SettingsID is the fixed key of the singleton pricing configuration row.
const SettingsID = "default"

// ReferralSettings is the single active pricing configuration for the
// program. Mutation is a full-record upsert on the fixed key; the engine
// reads a snapshot at commission-creation time and freezes the amounts on
// the commission row.
type ReferralSettings struct {
	ID string `gorm:"primaryKey;size:32" json:"id"`

	InstallAmount float64 `gorm:"not null" json:"install_amount"` // one-time installation bonus
	MonthlyAmount float64 `gorm:"not null" json:"monthly_amount"` // recurring bonus per eligible cycle
	MonthsToEarn  int     `gorm:"not null" json:"months_to_earn"` // number of eligible monthly cycles
	Currency      string  `gorm:"size:8;not null" json:"currency"`

	// ShareBaseURL is the public site referral links are built on.
	ShareBaseURL string `json:"share_base_url"`

	// Contact/display fields shown alongside the program terms.
	CompanyName  string `json:"company_name,omitempty"`
	SupportEmail string `json:"support_email,omitempty"`
	SupportPhone string `json:"support_phone,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
