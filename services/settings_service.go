package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"referral-program-service/models"
)

type SettingsService struct {
	DB *gorm.DB
}

func NewSettingsService(db *gorm.DB) *SettingsService {
	return &SettingsService{DB: db}
}

// Get returns the active pricing configuration. A missing or malformed
// singleton is a configuration error, not a not-found: the program cannot
// price commissions without it.
func (s *SettingsService) Get(ctx context.Context) (*models.ReferralSettings, error) {
	var settings models.ReferralSettings
	if err := s.DB.WithContext(ctx).First(&settings, "id = ?", models.SettingsID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: referral settings row %q is missing", ErrConfiguration, models.SettingsID)
		}
		return nil, err
	}
	if err := validateSettings(&settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// Save upserts the full settings record on the fixed key. No history is
// retained; existing commissions keep their frozen amounts.
func (s *SettingsService) Save(ctx context.Context, settings *models.ReferralSettings) error {
	settings.ID = models.SettingsID
	if err := validateSettings(settings); err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(settings).Error
}

func validateSettings(settings *models.ReferralSettings) error {
	if settings.InstallAmount < 0 || settings.MonthlyAmount < 0 {
		return fmt.Errorf("%w: bonus amounts must not be negative", ErrConfiguration)
	}
	if settings.MonthsToEarn <= 0 {
		return fmt.Errorf("%w: months_to_earn must be positive", ErrConfiguration)
	}
	if settings.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrConfiguration)
	}
	return nil
}

// settingsSnapshot is the in-transaction read used at commission-creation
// time so the amount is fixed from the configuration in effect at that
// moment.
func settingsSnapshot(tx *gorm.DB) (*models.ReferralSettings, error) {
	var settings models.ReferralSettings
	if err := tx.First(&settings, "id = ?", models.SettingsID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: referral settings row %q is missing", ErrConfiguration, models.SettingsID)
		}
		return nil, err
	}
	if err := validateSettings(&settings); err != nil {
		return nil, err
	}
	return &settings, nil
}
