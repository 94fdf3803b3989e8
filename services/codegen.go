package services

import (
	"crypto/rand"
	"fmt"
	"log"
	"strings"

	"gorm.io/gorm"

	"referral-program-service/models"
)

const (
	// codeAlphabet is the fixed alphabet referral codes are drawn from.
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// codePrefix is the constant program tag every code carries.
	codePrefix = "NET-"
	// codeLength is the number of random characters after the prefix.
	codeLength = 8
	// codeAttempts bounds the regenerate-on-collision loop. Exhausting it
	// means the code space is too small for the current client cardinality.
	codeAttempts = 10
)

// GenerateReferralCode produces a unique, human-shareable referral code.
// The existence check runs inside the caller's transaction; the unique index
// on clients.referral_code is the final arbiter under concurrent creation —
// a duplicate-key error on insert sends the caller back here for a fresh
// candidate.
func GenerateReferralCode(tx *gorm.DB) (string, error) {
	for attempt := 1; attempt <= codeAttempts; attempt++ {
		code, err := randomCode()
		if err != nil {
			return "", err
		}

		var count int64
		if err := tx.Model(&models.Client{}).Where("referral_code = ?", code).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return code, nil
		}
		log.Printf("[CODEGEN] collision on %s, regenerating (%d/%d)", code, attempt, codeAttempts)
	}
	return "", fmt.Errorf("%w: referral code space exhausted after %d attempts", ErrConfiguration, codeAttempts)
}

func randomCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	var sb strings.Builder
	sb.WriteString(codePrefix)
	for _, b := range buf {
		sb.WriteByte(codeAlphabet[int(b)%len(codeAlphabet)])
	}
	return sb.String(), nil
}

// isUniqueViolation reports whether err is a uniqueness-constraint error from
// the store (Postgres in production, SQLite in tests).
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
