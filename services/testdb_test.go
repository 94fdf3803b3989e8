package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"referral-program-service/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Client{},
		&models.Commission{},
		&models.ReferralSettings{},
	))
	return db
}

func seedSettings(t *testing.T, db *gorm.DB, install, monthly float64, months int) {
	t.Helper()
	require.NoError(t, NewSettingsService(db).Save(context.Background(), &models.ReferralSettings{
		InstallAmount: install,
		MonthlyAmount: monthly,
		MonthsToEarn:  months,
		Currency:      "EUR",
		ShareBaseURL:  "https://my.netlink.example",
	}))
}

// seedReferralPair creates a referrer and a referred client attributed to it.
func seedReferralPair(t *testing.T, db *gorm.DB) (referrer, referred *models.Client) {
	t.Helper()
	ctx := context.Background()
	clients := NewClientService(db)

	referrer, _, err := clients.UpsertByExternalID(ctx, UpsertClientInput{
		ExternalID: "ref-1000",
		Name:       "Maria Ortiz",
		Email:      "maria@example.com",
	})
	require.NoError(t, err)

	referred, err = clients.SignupWithReferralCode(ctx, SignupInput{
		ReferralCode: referrer.ReferralCode,
		ExternalID:   "sub-2000",
		Name:         "Pavel Novak",
		Email:        "pavel@example.com",
	})
	require.NoError(t, err)
	return referrer, referred
}
