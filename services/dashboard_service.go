package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"referral-program-service/models"
)

// ReferredClientView is one referred client on a referrer's dashboard.
type ReferredClientView struct {
	ClientID         string `json:"client_id"`
	ExternalID       string `json:"external_id"`
	Name             string `json:"name"`
	IsActive         bool   `json:"is_active"`
	IsPaymentCurrent bool   `json:"is_payment_current"`

	TotalEarned   float64  `json:"total_earned"`
	CommissionIDs []string `json:"commission_ids"`
}

// ReferrerSummary is the dashboard projection for one referrer: flat totals
// plus ordered lists of referrals and commissions, ready for serialization.
type ReferrerSummary struct {
	ReferrerID   string `json:"referrer_id"`
	ReferralCode string `json:"referral_code"`
	ShareURL     string `json:"share_url"`
	Currency     string `json:"currency,omitempty"`

	TotalEarned     float64 `json:"total_earned"`  // EARNED + APPLIED
	TotalApplied    float64 `json:"total_applied"` // APPLIED only
	ActiveReferrals int     `json:"active_referrals"`

	Referrals   []ReferredClientView `json:"referrals"`
	Commissions []models.Commission  `json:"commissions"`
}

type DashboardService struct {
	DB *gorm.DB
}

func NewDashboardService(db *gorm.DB) *DashboardService {
	return &DashboardService{DB: db}
}

// Summary computes the referrer's dashboard inside a single read
// transaction. Each commission lands in exactly one bucket: APPLIED rows
// count toward both totals by definition (earned = EARNED + APPLIED), but a
// row is never summed twice within a bucket.
func (s *DashboardService) Summary(ctx context.Context, referrerID string) (*ReferrerSummary, error) {
	var summary *ReferrerSummary

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var referrer models.Client
		if err := tx.First(&referrer, "id = ?", referrerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: client %s", ErrNotFound, referrerID)
			}
			return err
		}

		var referred []models.Client
		if err := tx.Where("referred_by_id = ?", referrerID).
			Order("created_at ASC").
			Find(&referred).Error; err != nil {
			return err
		}

		var commissions []models.Commission
		if err := tx.Where("referrer_id = ?", referrerID).
			Order("earned_at DESC").
			Find(&commissions).Error; err != nil {
			return err
		}

		summary = &ReferrerSummary{
			ReferrerID:   referrer.ID,
			ReferralCode: referrer.ReferralCode,
			ShareURL:     referrer.ShareURL,
			Referrals:    make([]ReferredClientView, 0, len(referred)),
			Commissions:  commissions,
		}

		perReferred := make(map[string]*ReferredClientView, len(referred))
		for _, client := range referred {
			view := ReferredClientView{
				ClientID:         client.ID,
				ExternalID:       client.ExternalID,
				Name:             client.Name,
				IsActive:         client.IsActive,
				IsPaymentCurrent: client.IsPaymentCurrent,
				CommissionIDs:    []string{},
			}
			summary.Referrals = append(summary.Referrals, view)
			perReferred[client.ID] = &summary.Referrals[len(summary.Referrals)-1]
			if client.IsActive {
				summary.ActiveReferrals++
			}
		}

		for _, commission := range commissions {
			if summary.Currency == "" {
				summary.Currency = commission.Currency
			}
			switch commission.Status {
			case models.CommissionStatusEarned:
				summary.TotalEarned += commission.Amount
			case models.CommissionStatusApplied:
				summary.TotalEarned += commission.Amount
				summary.TotalApplied += commission.Amount
			}
			if view, ok := perReferred[commission.ReferredID]; ok {
				view.CommissionIDs = append(view.CommissionIDs, commission.ID)
				if commission.Status == models.CommissionStatusEarned || commission.Status == models.CommissionStatusApplied {
					view.TotalEarned += commission.Amount
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}
