package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"referral-program-service/models"
)

const (
	// defaultShareBaseURL is used until an administrator saves settings with
	// a real public site URL.
	defaultShareBaseURL = "https://my.netlink.example"

	// maxReferralDepth bounds the walk up the referrer chain when attaching
	// a referrer. A chain longer than this is treated as a cycle.
	maxReferralDepth = 10

	// upsertRetries bounds the retry loop around unique-violation races
	// (two concurrent creators for the same external id, or a referral-code
	// collision slipping past the in-transaction check).
	upsertRetries = 3
)

type ClientService struct {
	DB *gorm.DB
}

func NewClientService(db *gorm.DB) *ClientService {
	return &ClientService{DB: db}
}

// UpsertClientInput carries the merge-able subscriber attributes. Empty
// strings and nil pointers mean "no new value — preserve what is stored".
type UpsertClientInput struct {
	ExternalID string
	Name       string
	Email      string
	Phone      string
	Username   string

	IsActive         *bool
	IsPaymentCurrent *bool
}

// UpsertByExternalID creates or refreshes the client identified by the
// billing system's subscriber id. Identity fields (external id, referral
// code, referrer linkage) are never touched by the merge; a fresh referral
// code and share URL are assigned on first sighting. Safe to call repeatedly
// with the same external id.
func (s *ClientService) UpsertByExternalID(ctx context.Context, in UpsertClientInput) (*models.Client, bool, error) {
	if in.ExternalID == "" {
		return nil, false, fmt.Errorf("%w: external id is required", ErrValidation)
	}
	if in.Name == "" {
		return nil, false, fmt.Errorf("%w: name is required", ErrValidation)
	}

	var (
		client  *models.Client
		created bool
		lastErr error
	)
	for attempt := 0; attempt < upsertRetries; attempt++ {
		client, created, lastErr = s.upsertOnce(ctx, in)
		if lastErr == nil {
			return client, created, nil
		}
		if !isUniqueViolation(lastErr) {
			return nil, false, lastErr
		}
		// Concurrent creator won the insert race — re-run; the retry will
		// find the existing row and merge into it (or draw a new code).
		log.Printf("[CLIENTS] upsert race on external_id=%s, retrying (%d/%d)", in.ExternalID, attempt+1, upsertRetries)
	}
	return nil, false, fmt.Errorf("%w: upsert for external_id=%s kept colliding: %v", ErrDuplicate, in.ExternalID, lastErr)
}

func (s *ClientService) upsertOnce(ctx context.Context, in UpsertClientInput) (*models.Client, bool, error) {
	var client models.Client
	created := false

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("external_id = ?", in.ExternalID).First(&client).Error
		if err == nil {
			mergeClient(&client, in)
			return tx.Save(&client).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		code, err := GenerateReferralCode(tx)
		if err != nil {
			return err
		}
		client = models.Client{
			ID:               uuid.NewString(),
			ExternalID:       in.ExternalID,
			Name:             in.Name,
			Email:            in.Email,
			Phone:            in.Phone,
			Username:         in.Username,
			ReferralCode:     code,
			ShareURL:         shareURLFor(tx, code),
			IsActive:         true,
			IsPaymentCurrent: true,
		}
		if in.IsActive != nil {
			client.IsActive = *in.IsActive
		}
		if in.IsPaymentCurrent != nil {
			client.IsPaymentCurrent = *in.IsPaymentCurrent
		}
		created = true
		return tx.Create(&client).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &client, created, nil
}

// mergeClient applies non-identity fields only: a present new value replaces,
// an absent one preserves the stored value.
func mergeClient(client *models.Client, in UpsertClientInput) {
	if in.Name != "" {
		client.Name = in.Name
	}
	if in.Email != "" {
		client.Email = in.Email
	}
	if in.Phone != "" {
		client.Phone = in.Phone
	}
	if in.Username != "" {
		client.Username = in.Username
	}
	if in.IsActive != nil {
		client.IsActive = *in.IsActive
	}
	if in.IsPaymentCurrent != nil {
		client.IsPaymentCurrent = *in.IsPaymentCurrent
	}
}

func shareURLFor(tx *gorm.DB, code string) string {
	base := defaultShareBaseURL
	var settings models.ReferralSettings
	if err := tx.First(&settings, "id = ?", models.SettingsID).Error; err == nil && settings.ShareBaseURL != "" {
		base = settings.ShareBaseURL
	}
	return fmt.Sprintf("%s/join/%s", base, code)
}

// FindByReferralCode attributes a signup to its referrer. Codes of inactive
// clients are treated as unknown.
func (s *ClientService) FindByReferralCode(ctx context.Context, code string) (*models.Client, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: referral code is required", ErrValidation)
	}
	var client models.Client
	err := s.DB.WithContext(ctx).
		Where("referral_code = ? AND is_active = ?", code, true).
		First(&client).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no active client holds referral code %s", ErrNotFound, code)
		}
		return nil, err
	}
	return &client, nil
}

// GetByID fetches a single client.
func (s *ClientService) GetByID(ctx context.Context, id string) (*models.Client, error) {
	var client models.Client
	if err := s.DB.WithContext(ctx).First(&client, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: client %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &client, nil
}

// GetByExternalID fetches a client by the billing system's subscriber id.
func (s *ClientService) GetByExternalID(ctx context.Context, externalID string) (*models.Client, error) {
	var client models.Client
	if err := s.DB.WithContext(ctx).First(&client, "external_id = ?", externalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: client with external_id %s", ErrNotFound, externalID)
		}
		return nil, err
	}
	return &client, nil
}

// AttachReferrer sets the referrer parent pointer after rejecting
// self-referral and cycles (bounded walk up the chain).
func (s *ClientService) AttachReferrer(ctx context.Context, clientID, referrerID string) error {
	if clientID == referrerID {
		return fmt.Errorf("%w: a client cannot refer itself", ErrValidation)
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var client models.Client
		if err := tx.First(&client, "id = ?", clientID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: client %s", ErrNotFound, clientID)
			}
			return err
		}
		var referrer models.Client
		if err := tx.First(&referrer, "id = ?", referrerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: referrer %s", ErrNotFound, referrerID)
			}
			return err
		}

		// Walk up from the referrer; reaching the client means the new edge
		// would close a cycle. A chain still unresolved past the hop budget
		// is treated as corrupt and the attachment is refused — attaching
		// anyway could close a cycle deeper than the walk can see.
		current := referrer
		for hop := 0; ; hop++ {
			if current.ReferredByID == nil {
				break
			}
			if hop == maxReferralDepth {
				return fmt.Errorf("%w: referral chain exceeds %d ancestors", ErrValidation, maxReferralDepth)
			}
			if *current.ReferredByID == clientID {
				return fmt.Errorf("%w: referral chain would form a cycle", ErrValidation)
			}
			var next models.Client
			if err := tx.First(&next, "id = ?", *current.ReferredByID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					break
				}
				return err
			}
			current = next
		}

		client.ReferredByID = &referrerID
		return tx.Save(&client).Error
	})
}

// SignupInput is a new subscriber arriving through a referral link.
type SignupInput struct {
	ReferralCode string
	ExternalID   string
	Name         string
	Email        string
	Phone        string
}

// SignupWithReferralCode creates (or refreshes) the referred client and
// attributes it to the code owner. First attribution wins: a client that
// already has a referrer keeps it.
func (s *ClientService) SignupWithReferralCode(ctx context.Context, in SignupInput) (*models.Client, error) {
	referrer, err := s.FindByReferralCode(ctx, in.ReferralCode)
	if err != nil {
		return nil, err
	}
	client, created, err := s.UpsertByExternalID(ctx, UpsertClientInput{
		ExternalID: in.ExternalID,
		Name:       in.Name,
		Email:      in.Email,
		Phone:      in.Phone,
	})
	if err != nil {
		return nil, err
	}
	if client.ID == referrer.ID {
		return nil, fmt.Errorf("%w: a client cannot sign up with its own referral code", ErrValidation)
	}
	if client.ReferredByID == nil {
		if err := s.AttachReferrer(ctx, client.ID, referrer.ID); err != nil {
			return nil, err
		}
		client.ReferredByID = &referrer.ID
	}
	if created {
		log.Printf("[CLIENTS] ✅ new signup %s attributed to referrer %s via %s", client.ExternalID, referrer.ExternalID, in.ReferralCode)
	}
	return client, nil
}

// Deactivate marks the client inactive. Nothing is deleted; existing
// commissions are untouched, but future monthly-bonus evaluation treats the
// client's referrals as ineligible.
func (s *ClientService) Deactivate(ctx context.Context, id string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var client models.Client
		if err := tx.First(&client, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: client %s", ErrNotFound, id)
			}
			return err
		}
		client.IsActive = false
		return tx.Save(&client).Error
	})
}

// List returns clients newest-first with a bounded page size.
func (s *ClientService) List(ctx context.Context, limit, offset int) ([]models.Client, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var clients []models.Client
	err := s.DB.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&clients).Error
	return clients, err
}
