package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"referral-program-service/models"
)

const (
	// pendingWindow is how long a PENDING monthly commission waits for the
	// referred client's invoice to come current before it is cancelled.
	pendingWindow = 60 * 24 * time.Hour

	// monthlyCycleInterval is the minimum age of the previous period's
	// commission before the scheduler accrues the next one.
	monthlyCycleInterval = 30 * 24 * time.Hour
)

type CommissionService struct {
	DB *gorm.DB
}

func NewCommissionService(db *gorm.DB) *CommissionService {
	return &CommissionService{DB: db}
}

// RecordInstallation handles the billing system's installation-completed
// event for a referred subscriber. The installation bonus is created
// directly EARNED with the amount frozen from the current settings snapshot.
// Exactly one installation commission exists per (referrer, referred) pair;
// re-fired events return the existing row.
func (s *CommissionService) RecordInstallation(ctx context.Context, referredExternalID string) (*models.Commission, error) {
	return s.recordCommission(ctx, referredExternalID, models.CommissionTypeInstallation, 0)
}

// RecordMonthlyCycle handles one recurring cycle becoming due for a referred
// subscriber. The commission is EARNED when the referred client's invoice is
// current at evaluation time, PENDING otherwise. periodIndex runs 1..N where
// N is the configured months-to-earn; anything outside that range is
// rejected, so a seventh cycle can never accrue on a six-month program.
func (s *CommissionService) RecordMonthlyCycle(ctx context.Context, referredExternalID string, periodIndex int) (*models.Commission, error) {
	if periodIndex < 1 {
		return nil, fmt.Errorf("%w: monthly period index must be >= 1, got %d", ErrValidation, periodIndex)
	}
	return s.recordCommission(ctx, referredExternalID, models.CommissionTypeMonthly, periodIndex)
}

func (s *CommissionService) recordCommission(ctx context.Context, referredExternalID string, kind models.CommissionType, periodIndex int) (*models.Commission, error) {
	var commission models.Commission

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var referred models.Client
		if err := tx.First(&referred, "external_id = ?", referredExternalID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: client with external_id %s", ErrNotFound, referredExternalID)
			}
			return err
		}
		if referred.ReferredByID == nil {
			return fmt.Errorf("%w: client %s was not referred by anyone", ErrValidation, referredExternalID)
		}
		referrerID := *referred.ReferredByID

		settings, err := settingsSnapshot(tx)
		if err != nil {
			return err
		}
		if kind == models.CommissionTypeMonthly && periodIndex > settings.MonthsToEarn {
			return fmt.Errorf("%w: period %d exceeds the %d eligible months", ErrValidation, periodIndex, settings.MonthsToEarn)
		}

		// Idempotency fast path: the event was already processed.
		err = tx.Where("referrer_id = ? AND referred_id = ? AND type = ? AND period_index = ?",
			referrerID, referred.ID, kind, periodIndex).First(&commission).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		amount := settings.InstallAmount
		status := models.CommissionStatusEarned
		if kind == models.CommissionTypeMonthly {
			amount = settings.MonthlyAmount
			if !referred.IsPaymentCurrent {
				status = models.CommissionStatusPending
			}
		}

		commission = models.Commission{
			ID:          uuid.NewString(),
			ReferrerID:  referrerID,
			ReferredID:  referred.ID,
			Type:        kind,
			PeriodIndex: periodIndex,
			Amount:      amount,
			Currency:    settings.Currency,
			Status:      status,
			EarnedAt:    time.Now(),
		}
		return tx.Create(&commission).Error
	})
	if err != nil {
		// A concurrent duplicate of the same event lost the insert race;
		// the row it wanted already exists.
		if isUniqueViolation(err) {
			return s.findByPeriod(ctx, referredExternalID, kind, periodIndex)
		}
		return nil, err
	}
	return &commission, nil
}

func (s *CommissionService) findByPeriod(ctx context.Context, referredExternalID string, kind models.CommissionType, periodIndex int) (*models.Commission, error) {
	var commission models.Commission
	err := s.DB.WithContext(ctx).
		Joins("JOIN clients ON clients.id = commissions.referred_id").
		Where("clients.external_id = ? AND commissions.type = ? AND commissions.period_index = ?",
			referredExternalID, kind, periodIndex).
		First(&commission).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s commission for %s period %d", ErrNotFound, kind, referredExternalID, periodIndex)
		}
		return nil, err
	}
	return &commission, nil
}

// ApplyCommission credits an EARNED commission against an external invoice.
// The transition is a guarded single-statement update: concurrent callers
// cannot both apply the same commission — the loser sees zero rows updated
// and gets ErrInvalidState.
func (s *CommissionService) ApplyCommission(ctx context.Context, id, invoiceRef string) (*models.Commission, error) {
	if invoiceRef == "" {
		return nil, fmt.Errorf("%w: invoice reference is required", ErrValidation)
	}

	now := time.Now()
	res := s.DB.WithContext(ctx).Model(&models.Commission{}).
		Where("id = ? AND status = ?", id, models.CommissionStatusEarned).
		Updates(map[string]interface{}{
			"status":      models.CommissionStatusApplied,
			"applied_at":  now,
			"invoice_ref": invoiceRef,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		var existing models.Commission
		if err := s.DB.WithContext(ctx).First(&existing, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: commission %s", ErrNotFound, id)
			}
			return nil, err
		}
		return nil, fmt.Errorf("%w: commission %s is %s, only earned commissions can be applied", ErrInvalidState, id, existing.Status)
	}

	var commission models.Commission
	if err := s.DB.WithContext(ctx).First(&commission, "id = ?", id).Error; err != nil {
		return nil, err
	}
	log.Printf("[COMMISSIONS] ✅ applied %s (%s %.2f) against invoice %s", id, commission.Currency, commission.Amount, invoiceRef)
	return &commission, nil
}

// CommissionPatch is a manual correction. Nil fields are left untouched.
type CommissionPatch struct {
	Amount *float64                 `json:"amount"`
	Status *models.CommissionStatus `json:"status"`
	Notes  *string                  `json:"notes"`
}

// UpdateCommission applies a manual correction. Corrections are permitted
// only while the commission is non-terminal; APPLIED and CANCELLED rows are
// immutable. Setting status to cancelled here is the administrative
// non-terminal→CANCELLED override.
func (s *CommissionService) UpdateCommission(ctx context.Context, id string, patch CommissionPatch) (*models.Commission, error) {
	var commission models.Commission
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&commission, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: commission %s", ErrNotFound, id)
			}
			return err
		}
		if commission.Status.IsTerminal() {
			return fmt.Errorf("%w: commission %s is %s and can no longer be edited", ErrInvalidState, id, commission.Status)
		}
		if patch.Amount != nil {
			if *patch.Amount < 0 {
				return fmt.Errorf("%w: amount must not be negative", ErrValidation)
			}
			commission.Amount = *patch.Amount
		}
		if patch.Status != nil {
			if !patch.Status.IsValid() {
				return fmt.Errorf("%w: unknown commission status %q", ErrValidation, *patch.Status)
			}
			commission.Status = *patch.Status
		}
		if patch.Notes != nil {
			commission.Notes = *patch.Notes
		}
		return tx.Save(&commission).Error
	})
	if err != nil {
		return nil, err
	}
	return &commission, nil
}

// DeleteCommission hard-deletes a commission in any state. This is a
// destructive operator override, not a lifecycle transition; it is logged as
// such and gated to administrators at the route layer.
func (s *CommissionService) DeleteCommission(ctx context.Context, id string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var commission models.Commission
		if err := tx.First(&commission, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: commission %s", ErrNotFound, id)
			}
			return err
		}
		log.Printf("⚠️  [COMMISSIONS] destructive delete of %s (referrer=%s referred=%s type=%s status=%s amount=%.2f)",
			commission.ID, commission.ReferrerID, commission.ReferredID, commission.Type, commission.Status, commission.Amount)
		return tx.Delete(&commission).Error
	})
}

// GetCommission fetches a single commission.
func (s *CommissionService) GetCommission(ctx context.Context, id string) (*models.Commission, error) {
	var commission models.Commission
	if err := s.DB.WithContext(ctx).First(&commission, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: commission %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &commission, nil
}

// ListCommissions returns commissions newest-first, optionally filtered by
// status.
func (s *CommissionService) ListCommissions(ctx context.Context, status models.CommissionStatus, limit, offset int) ([]models.Commission, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := s.DB.WithContext(ctx).Model(&models.Commission{})
	if status != "" {
		if !status.IsValid() {
			return nil, fmt.Errorf("%w: unknown commission status %q", ErrValidation, status)
		}
		query = query.Where("status = ?", status)
	}
	var commissions []models.Commission
	err := query.Order("earned_at DESC").Limit(limit).Offset(offset).Find(&commissions).Error
	return commissions, err
}

// ResolvePending sweeps PENDING commissions: promotes the ones whose
// referred client's invoice came current inside the window, cancels the ones
// whose referred client was deactivated or whose window lapsed. Each
// transition is a guarded update so a concurrent manual edit wins cleanly.
func (s *CommissionService) ResolvePending(ctx context.Context, now time.Time) (promoted, cancelled int, err error) {
	var pending []models.Commission
	if err := s.DB.WithContext(ctx).
		Where("status = ?", models.CommissionStatusPending).
		Find(&pending).Error; err != nil {
		return 0, 0, err
	}

	for _, commission := range pending {
		if ctx.Err() != nil {
			return promoted, cancelled, ctx.Err()
		}
		var referred models.Client
		if err := s.DB.WithContext(ctx).First(&referred, "id = ?", commission.ReferredID).Error; err != nil {
			log.Printf("[COMMISSIONS] skipping pending %s: referred client lookup failed: %v", commission.ID, err)
			continue
		}

		switch {
		case !referred.IsActive:
			if s.cancelPending(ctx, commission.ID, "referred client deactivated before payment") {
				cancelled++
			}
		case now.Sub(commission.CreatedAt) > pendingWindow:
			if s.cancelPending(ctx, commission.ID, "eligibility window lapsed without payment") {
				cancelled++
			}
		case referred.IsPaymentCurrent:
			res := s.DB.WithContext(ctx).Model(&models.Commission{}).
				Where("id = ? AND status = ?", commission.ID, models.CommissionStatusPending).
				Updates(map[string]interface{}{
					"status":    models.CommissionStatusEarned,
					"earned_at": now,
				})
			if res.Error == nil && res.RowsAffected > 0 {
				promoted++
			}
		}
	}
	if promoted > 0 || cancelled > 0 {
		log.Printf("[COMMISSIONS] pending sweep: %d promoted, %d cancelled", promoted, cancelled)
	}
	return promoted, cancelled, nil
}

func (s *CommissionService) cancelPending(ctx context.Context, id, reason string) bool {
	res := s.DB.WithContext(ctx).Model(&models.Commission{}).
		Where("id = ? AND status = ?", id, models.CommissionStatusPending).
		Updates(map[string]interface{}{
			"status": models.CommissionStatusCancelled,
			"notes":  reason,
		})
	return res.Error == nil && res.RowsAffected > 0
}

// AccrueMonthlyCycles creates the next due monthly commission for every
// active referred client with an active referrer. The installation
// commission anchors the cadence; accrual stops at the configured
// months-to-earn. Deactivated referrers are skipped, so their referrals stop
// accruing without touching existing rows.
func (s *CommissionService) AccrueMonthlyCycles(ctx context.Context, now time.Time) (created int, err error) {
	var referred []models.Client
	if err := s.DB.WithContext(ctx).
		Where("referred_by_id IS NOT NULL AND is_active = ?", true).
		Find(&referred).Error; err != nil {
		return 0, err
	}

	for _, client := range referred {
		if ctx.Err() != nil {
			return created, ctx.Err()
		}
		var referrer models.Client
		if err := s.DB.WithContext(ctx).First(&referrer, "id = ?", *client.ReferredByID).Error; err != nil {
			continue
		}
		if !referrer.IsActive {
			continue
		}

		// The program starts at installation; no anchor means the
		// installation event has not arrived yet.
		var last models.Commission
		err := s.DB.WithContext(ctx).
			Where("referrer_id = ? AND referred_id = ?", referrer.ID, client.ID).
			Order("period_index DESC").
			First(&last).Error
		if err != nil {
			continue
		}
		if now.Sub(last.EarnedAt) < monthlyCycleInterval {
			continue
		}

		commission, err := s.RecordMonthlyCycle(ctx, client.ExternalID, last.PeriodIndex+1)
		if err != nil {
			if !errors.Is(err, ErrValidation) { // past months-to-earn is the normal stop
				log.Printf("[COMMISSIONS] accrual failed for %s period %d: %v", client.ExternalID, last.PeriodIndex+1, err)
			}
			continue
		}
		created++
		log.Printf("[COMMISSIONS] accrued monthly period %d for %s (%s)", commission.PeriodIndex, client.ExternalID, commission.Status)
	}
	return created, nil
}
