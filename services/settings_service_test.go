package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referral-program-service/models"
)

func TestSettingsGetMissing(t *testing.T) {
	db := newTestDB(t)

	_, err := NewSettingsService(db).Get(context.Background())
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestSettingsSaveAndGet(t *testing.T) {
	db := newTestDB(t)
	settings := NewSettingsService(db)
	ctx := context.Background()

	require.NoError(t, settings.Save(ctx, &models.ReferralSettings{
		InstallAmount: 200,
		MonthlyAmount: 50,
		MonthsToEarn:  6,
		Currency:      "EUR",
		ShareBaseURL:  "https://my.netlink.example",
		CompanyName:   "NetLink",
		SupportEmail:  "support@netlink.example",
	}))

	got, err := settings.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SettingsID, got.ID)
	assert.Equal(t, 200.0, got.InstallAmount)
	assert.Equal(t, 50.0, got.MonthlyAmount)
	assert.Equal(t, 6, got.MonthsToEarn)
	assert.Equal(t, "EUR", got.Currency)
	assert.Equal(t, "NetLink", got.CompanyName)
}

func TestSettingsSaveOverwritesSingleton(t *testing.T) {
	db := newTestDB(t)
	settings := NewSettingsService(db)
	ctx := context.Background()

	seedSettings(t, db, 200, 50, 6)
	require.NoError(t, settings.Save(ctx, &models.ReferralSettings{
		InstallAmount: 150,
		MonthlyAmount: 75,
		MonthsToEarn:  12,
		Currency:      "USD",
	}))

	got, err := settings.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 150.0, got.InstallAmount)
	assert.Equal(t, 12, got.MonthsToEarn)
	assert.Equal(t, "USD", got.Currency)

	var count int64
	require.NoError(t, db.Model(&models.ReferralSettings{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestSettingsValidation(t *testing.T) {
	db := newTestDB(t)
	settings := NewSettingsService(db)
	ctx := context.Background()

	cases := []struct {
		name string
		in   models.ReferralSettings
	}{
		{"negative install amount", models.ReferralSettings{InstallAmount: -1, MonthlyAmount: 50, MonthsToEarn: 6, Currency: "EUR"}},
		{"negative monthly amount", models.ReferralSettings{InstallAmount: 200, MonthlyAmount: -5, MonthsToEarn: 6, Currency: "EUR"}},
		{"zero months to earn", models.ReferralSettings{InstallAmount: 200, MonthlyAmount: 50, Currency: "EUR"}},
		{"missing currency", models.ReferralSettings{InstallAmount: 200, MonthlyAmount: 50, MonthsToEarn: 6}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := tc.in
			assert.ErrorIs(t, settings.Save(ctx, &in), ErrConfiguration)
		})
	}
}
