package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referral-program-service/models"
)

func TestInstallationCreatesSingleEarnedCommission(t *testing.T) {
	db := newTestDB(t)
	seedSettings(t, db, 200, 50, 6)
	referrer, referred := seedReferralPair(t, db)
	engine := NewCommissionService(db)
	ctx := context.Background()

	first, err := engine.RecordInstallation(ctx, referred.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, models.CommissionStatusEarned, first.Status)
	assert.Equal(t, models.CommissionTypeInstallation, first.Type)
	assert.Equal(t, 200.0, first.Amount)
	assert.Equal(t, "EUR", first.Currency)
	assert.Equal(t, referrer.ID, first.ReferrerID)

	// Re-fired event: same row, no duplicate.
	second, err := engine.RecordInstallation(ctx, referred.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&models.Commission{}).
		Where("type = ?", models.CommissionTypeInstallation).
		Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestInstallationRequiresReferredClient(t *testing.T) {
	db := newTestDB(t)
	seedSettings(t, db, 200, 50, 6)
	engine := NewCommissionService(db)
	ctx := context.Background()

	// Organic client, nobody referred it.
	_, _, err := NewClientService(db).UpsertByExternalID(ctx, UpsertClientInput{ExternalID: "solo-1", Name: "Solo Client"})
	require.NoError(t, err)

	_, err = engine.RecordInstallation(ctx, "solo-1")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = engine.RecordInstallation(ctx, "no-such-subscriber")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMonthlyCycleStatusFollowsPaymentFlag(t *testing.T) {
	db := newTestDB(t)
	seedSettings(t, db, 200, 50, 6)
	_, referred := seedReferralPair(t, db)
	engine := NewCommissionService(db)
	ctx := context.Background()

	earned, err := engine.RecordMonthlyCycle(ctx, referred.ExternalID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.CommissionStatusEarned, earned.Status)
	assert.Equal(t, 50.0, earned.Amount)

	// Invoice falls behind: the next cycle waits as PENDING.
	require.NoError(t, db.Model(&models.Client{}).
		Where("id = ?", referred.ID).
		Update("is_payment_current", false).Error)

	pending, err := engine.RecordMonthlyCycle(ctx, referred.ExternalID, 2)
	require.NoError(t, err)
	assert.Equal(t, models.CommissionStatusPending, pending.Status)
}

func TestMonthlyCycleCapAtMonthsToEarn(t *testing.T) {
	db := newTestDB(t)
	seedSettings(t, db, 200, 50, 6)
	_, referred := seedReferralPair(t, db)
	engine := NewCommissionService(db)
	ctx := context.Background()

	for period := 1; period <= 6; period++ {
		_, err := engine.RecordMonthlyCycle(ctx, referred.ExternalID, period)
		require.NoError(t, err)
	}

	// The seventh cycle never accrues on a six-month program.
	_, err := engine.RecordMonthlyCycle(ctx, referred.ExternalID, 7)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = engine.RecordMonthlyCycle(ctx, referred.ExternalID, 0)
	assert.ErrorIs(t, err, ErrValidation)

	var count int64
	require.NoError(t, db.Model(&models.Commission{}).
		Where("type = ?", models.CommissionTypeMonthly).
		Count(&count).Error)
	assert.EqualValues(t, 6, count)
}

func TestCommissionAmountFrozenAtCreation(t *testing.T) {
	db := newTestDB(t)
	seedSettings(t, db, 200, 50, 6)
	_, referred := seedReferralPair(t, db)
	engine := NewCommissionService(db)
	ctx := context.Background()

	before, err := engine.RecordMonthlyCycle(ctx, referred.ExternalID, 1)
	require.NoError(t, err)
	require.Equal(t, 50.0, before.Amount)

	// Repricing the program must not rewrite history.
	seedSettings(t, db, 300, 75, 6)

	reloaded, err := engine.GetCommission(ctx, before.ID)
	require.NoError(t, err)
	assert.Equal(t, 50.0, reloaded.Amount)

	after, err := engine.RecordMonthlyCycle(ctx, referred.ExternalID, 2)
	require.NoError(t, err)
	assert.Equal(t, 75.0, after.Amount)
}

func TestApplyCommission(t *testing.T) {
	db := newTestDB(t)
	seedSettings(t, db, 200, 50, 6)
	_, referred := seedReferralPair(t, db)
	engine := NewCommissionService(db)
	ctx := context.Background()

	earned, err := engine.RecordInstallation(ctx, referred.ExternalID)
	require.NoError(t, err)

	applied, err := engine.ApplyCommission(ctx, earned.ID, "INV-2026-0042")
	require.NoError(t, err)
	assert.Equal(t, models.CommissionStatusApplied, applied.Status)
	require.NotNil(t, applied.AppliedAt)
	require.NotNil(t, applied.InvoiceRef)
	assert.Equal(t, "INV-2026-0042", *applied.InvoiceRef)
}

func TestApplyCommissionTwiceFails(t *testing.T) {
	db := newTestDB(t)
	seedSettings(t, db, 200, 50, 6)
	_, referred := seedReferralPair(t, db)
	engine := NewCommissionService(db)
	ctx := context.Background()

	earned, err := engine.RecordInstallation(ctx, referred.ExternalID)
	require.NoError(t, err)
	applied, err := engine.ApplyCommission(ctx, earned.ID, "INV-1")
	require.NoError(t, err)

	_, err = engine.ApplyCommission(ctx, earned.ID, "INV-2")
	assert.ErrorIs(t, err, ErrInvalidState)

	// The first application stands untouched.
	reloaded, err := engine.GetCommission(ctx, earned.ID)
	require.NoError(t, err)
	assert.Equal(t, "INV-1", *reloaded.InvoiceRef)
	assert.Equal(t, applied.AppliedAt.Unix(), reloaded.AppliedAt.Unix())
}

func TestApplyCommissionGuards(t *testing.T) {
	db := newTestDB(t)
	seedSettings(t, db, 200, 50, 6)
	_, referred := seedReferralPair(t, db)
	engine := NewCommissionService(db)
	ctx := context.Background()

	require.NoError(t, db.Model(&models.Client{}).
		Where("id = ?", referred.ID).
		Update("is_payment_current", false).Error)
	pending, err := engine.RecordMonthlyCycle(ctx, referred.ExternalID, 1)
	require.NoError(t, err)
	require.Equal(t, models.CommissionStatusPending, pending.Status)

	// PENDING is not applicable; the row must stay unchanged.
	_, err = engine.ApplyCommission(ctx, pending.ID, "INV-1")
	assert.ErrorIs(t, err, ErrInvalidState)
	reloaded, err := engine.GetCommission(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CommissionStatusPending, reloaded.Status)
	assert.Nil(t, reloaded.AppliedAt)
	assert.Nil(t, reloaded.InvoiceRef)

	_, err = engine.ApplyCommission(ctx, "missing-id", "INV-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = engine.ApplyCommission(ctx, pending.ID, "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdateCommission(t *testing.T) {
	db := newTestDB(t)
	seedSettings(t, db, 200, 50, 6)
	_, referred := seedReferralPair(t, db)
	engine := NewCommissionService(db)
	ctx := context.Background()

	commission, err := engine.RecordInstallation(ctx, referred.ExternalID)
	require.NoError(t, err)

	amount := 180.0
	notes := "manual correction after partial refund"
	updated, err := engine.UpdateCommission(ctx, commission.ID, CommissionPatch{Amount: &amount, Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, 180.0, updated.Amount)
	assert.Equal(t, notes, updated.Notes)

	// Administrative override: cancel a non-terminal commission.
	cancelled := models.CommissionStatusCancelled
	updated, err = engine.UpdateCommission(ctx, commission.ID, CommissionPatch{Status: &cancelled})
	require.NoError(t, err)
	assert.Equal(t, models.CommissionStatusCancelled, updated.Status)

	// Terminal rows are immutable.
	_, err = engine.UpdateCommission(ctx, commission.ID, CommissionPatch{Notes: &notes})
	assert.ErrorIs(t, err, ErrInvalidState)

	bogus := models.CommissionStatus("refunded")
	fresh, err := engine.RecordMonthlyCycle(ctx, referred.ExternalID, 1)
	require.NoError(t, err)
	_, err = engine.UpdateCommission(ctx, fresh.ID, CommissionPatch{Status: &bogus})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDeleteCommission(t *testing.T) {
	db := newTestDB(t)
	seedSettings(t, db, 200, 50, 6)
	_, referred := seedReferralPair(t, db)
	engine := NewCommissionService(db)
	ctx := context.Background()

	commission, err := engine.RecordInstallation(ctx, referred.ExternalID)
	require.NoError(t, err)

	require.NoError(t, engine.DeleteCommission(ctx, commission.ID))
	_, err = engine.GetCommission(ctx, commission.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, engine.DeleteCommission(ctx, commission.ID), ErrNotFound)
}

func TestResolvePendingPromotesWhenPaymentRecovers(t *testing.T) {
	db := newTestDB(t)
	seedSettings(t, db, 200, 50, 6)
	_, referred := seedReferralPair(t, db)
	engine := NewCommissionService(db)
	ctx := context.Background()

	require.NoError(t, db.Model(&models.Client{}).
		Where("id = ?", referred.ID).
		Update("is_payment_current", false).Error)
	pending, err := engine.RecordMonthlyCycle(ctx, referred.ExternalID, 1)
	require.NoError(t, err)

	// Invoice comes current inside the window.
	require.NoError(t, db.Model(&models.Client{}).
		Where("id = ?", referred.ID).
		Update("is_payment_current", true).Error)

	promoted, cancelled, err := engine.ResolvePending(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)
	assert.Equal(t, 0, cancelled)

	reloaded, err := engine.GetCommission(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CommissionStatusEarned, reloaded.Status)
}

func TestResolvePendingCancelsOnDeactivation(t *testing.T) {
	db := newTestDB(t)
	seedSettings(t, db, 200, 50, 6)
	_, referred := seedReferralPair(t, db)
	engine := NewCommissionService(db)
	ctx := context.Background()

	require.NoError(t, db.Model(&models.Client{}).
		Where("id = ?", referred.ID).
		Update("is_payment_current", false).Error)
	pending, err := engine.RecordMonthlyCycle(ctx, referred.ExternalID, 1)
	require.NoError(t, err)

	require.NoError(t, NewClientService(db).Deactivate(ctx, referred.ID))

	promoted, cancelled, err := engine.ResolvePending(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, promoted)
	assert.Equal(t, 1, cancelled)

	reloaded, err := engine.GetCommission(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CommissionStatusCancelled, reloaded.Status)
}

func TestResolvePendingCancelsWhenWindowLapses(t *testing.T) {
	db := newTestDB(t)
	seedSettings(t, db, 200, 50, 6)
	_, referred := seedReferralPair(t, db)
	engine := NewCommissionService(db)
	ctx := context.Background()

	require.NoError(t, db.Model(&models.Client{}).
		Where("id = ?", referred.ID).
		Update("is_payment_current", false).Error)
	pending, err := engine.RecordMonthlyCycle(ctx, referred.ExternalID, 1)
	require.NoError(t, err)

	// Sweep well past the window; the invoice never came current.
	promoted, cancelled, err := engine.ResolvePending(ctx, time.Now().Add(pendingWindow+24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, promoted)
	assert.Equal(t, 1, cancelled)

	reloaded, err := engine.GetCommission(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CommissionStatusCancelled, reloaded.Status)
}

func TestAccrueMonthlyCycles(t *testing.T) {
	db := newTestDB(t)
	seedSettings(t, db, 200, 50, 2)
	referrer, referred := seedReferralPair(t, db)
	engine := NewCommissionService(db)
	ctx := context.Background()

	install, err := engine.RecordInstallation(ctx, referred.ExternalID)
	require.NoError(t, err)

	// Too soon after installation: nothing accrues yet.
	created, err := engine.AccrueMonthlyCycles(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	// One cycle elapsed.
	require.NoError(t, db.Model(&models.Commission{}).
		Where("id = ?", install.ID).
		Update("earned_at", time.Now().Add(-31*24*time.Hour)).Error)
	created, err = engine.AccrueMonthlyCycles(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	// Age the monthly row too and exhaust the program: period 2 accrues,
	// then the cap holds.
	require.NoError(t, db.Model(&models.Commission{}).
		Where("type = ?", models.CommissionTypeMonthly).
		Update("earned_at", time.Now().Add(-31*24*time.Hour)).Error)
	created, err = engine.AccrueMonthlyCycles(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	require.NoError(t, db.Model(&models.Commission{}).
		Where("type = ?", models.CommissionTypeMonthly).
		Update("earned_at", time.Now().Add(-31*24*time.Hour)).Error)
	created, err = engine.AccrueMonthlyCycles(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	var count int64
	require.NoError(t, db.Model(&models.Commission{}).
		Where("referrer_id = ? AND type = ?", referrer.ID, models.CommissionTypeMonthly).
		Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestAccrueSkipsDeactivatedReferrer(t *testing.T) {
	db := newTestDB(t)
	seedSettings(t, db, 200, 50, 6)
	referrer, referred := seedReferralPair(t, db)
	engine := NewCommissionService(db)
	ctx := context.Background()

	install, err := engine.RecordInstallation(ctx, referred.ExternalID)
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Commission{}).
		Where("id = ?", install.ID).
		Update("earned_at", time.Now().Add(-31*24*time.Hour)).Error)

	require.NoError(t, NewClientService(db).Deactivate(ctx, referrer.ID))

	created, err := engine.AccrueMonthlyCycles(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, created)
}

func TestPeriodLookupWrapsNotFound(t *testing.T) {
	db := newTestDB(t)
	seedSettings(t, db, 200, 50, 6)
	_, referred := seedReferralPair(t, db)
	engine := NewCommissionService(db)
	ctx := context.Background()

	_, err := engine.findByPeriod(ctx, referred.ExternalID, models.CommissionTypeInstallation, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	install, err := engine.RecordInstallation(ctx, referred.ExternalID)
	require.NoError(t, err)
	found, err := engine.findByPeriod(ctx, referred.ExternalID, models.CommissionTypeInstallation, 0)
	require.NoError(t, err)
	assert.Equal(t, install.ID, found.ID)
}
