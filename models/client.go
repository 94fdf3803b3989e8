package models

import (
	"time"

	"gorm.io/gorm"
)

// Client is a program participant — a referrer, a referred subscriber, or both.
// It mirrors the subscriber record owned by the external billing system;
// ExternalID is the join key the reconciliation path upserts on.
type Client struct {
	ID         string `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalID string `gorm:"uniqueIndex;not null" json:"external_id"` // billing system's subscriber id — immutable once set

	Name     string `gorm:"not null" json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Username string `json:"username,omitempty"`

	// ReferralCode is assigned once at creation and never reassigned or reused.
	ReferralCode string `gorm:"uniqueIndex" json:"referral_code"`
	ShareURL     string `json:"share_url"`

	IsActive         bool `gorm:"default:true" json:"is_active"`
	IsPaymentCurrent bool `gorm:"default:true" json:"is_payment_current"` // mirrors external invoice status

	// ReferredByID points at the client that referred this one (nil = organic signup).
	ReferredByID *string `gorm:"type:uuid;index" json:"referred_by_id,omitempty"`

	Timestamps
}

// Timestamps adds GORM auto-times plus soft delete (reconciliation never hard-deletes)
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
