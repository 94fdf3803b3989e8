package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/gosimple/slug"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// importErrorSample caps how many per-record error descriptions a batch
// summary carries back; everything past the cap is still counted.
const importErrorSample = 20

// placeholderEmailDomain hosts synthesized addresses for subscribers whose
// billing record carries no email.
const placeholderEmailDomain = "noemail.local"

// Column-identity vocabulary for the loosely-typed billing exports. Each
// logical field lists its candidate keywords in priority order; the first
// keyword that matches any column (case-insensitive substring) wins.
var (
	externalIDKeywords = []string{"external", "contract", "account", "subscriber", "customer", "client_id"}
	nameKeywords       = []string{"name", "fio", "client", "title"}
	emailKeywords      = []string{"email", "mail"}
	phoneKeywords      = []string{"phone", "tel", "mobile"}
	usernameKeywords   = []string{"username", "login", "user"}
	paymentKeywords    = []string{"payment", "paid", "current", "balance"}
)

// SubscriberRecord is the typed intermediate a raw billing row resolves to.
type SubscriberRecord struct {
	ExternalID string
	Name       string
	Email      string
	Phone      string
	Username   string

	// PaymentCurrent stays nil when the export carries no recognizable
	// payment column; the registry then keeps (or defaults) the stored flag.
	PaymentCurrent *bool
}

// ImportSummary is the outcome of one reconciliation batch.
type ImportSummary struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`

	// TotalErrors counts every failure, including the ones past the sample
	// cap.
	TotalErrors int `json:"total_errors"`
}

type ImportService struct {
	Clients *ClientService
}

func NewImportService(clients *ClientService) *ImportService {
	return &ImportService{Clients: clients}
}

// ResolveSubscriberRecord maps a raw column-name→value record onto a typed
// subscriber record using the keyword vocabulary. External id and name are
// the minimum required set.
func ResolveSubscriberRecord(record map[string]string) (SubscriberRecord, error) {
	if len(record) == 0 {
		return SubscriberRecord{}, fmt.Errorf("%w: record provides no header mapping", ErrValidation)
	}

	// Deterministic column order so ties between matching columns do not
	// depend on map iteration.
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sub := SubscriberRecord{
		ExternalID: resolveColumn(record, keys, externalIDKeywords),
		Name:       resolveColumn(record, keys, nameKeywords),
		Email:      resolveColumn(record, keys, emailKeywords),
		Phone:      resolveColumn(record, keys, phoneKeywords),
		Username:   resolveColumn(record, keys, usernameKeywords),
	}
	if sub.ExternalID == "" {
		return SubscriberRecord{}, fmt.Errorf("%w: no external id column recognized", ErrValidation)
	}
	if sub.Name == "" {
		return SubscriberRecord{}, fmt.Errorf("%w: no name column recognized", ErrValidation)
	}
	if raw := resolveColumn(record, keys, paymentKeywords); raw != "" {
		sub.PaymentCurrent = parsePaymentFlag(raw)
	}
	return sub, nil
}

func resolveColumn(record map[string]string, sortedKeys, keywords []string) string {
	for _, keyword := range keywords {
		for _, key := range sortedKeys {
			if strings.Contains(strings.ToLower(key), keyword) {
				if value := strings.TrimSpace(record[key]); value != "" {
					return value
				}
			}
		}
	}
	return ""
}

// parsePaymentFlag interprets the billing export's payment-status column.
// Unrecognized values resolve to nil (preserve the stored flag).
func parsePaymentFlag(raw string) *bool {
	truthy := func(v bool) *bool { return &v }
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "paid", "current", "active", "ok":
		return truthy(true)
	case "false", "0", "no", "unpaid", "overdue", "debt", "blocked":
		return truthy(false)
	}
	return nil
}

var nameCaser = cases.Title(language.Und)

// normalizeName fixes the ALL-CAPS display names billing exports arrive with.
func normalizeName(name string) string {
	return nameCaser.String(strings.ToLower(strings.TrimSpace(name)))
}

// PlaceholderEmail derives a synthetic address for a record without one.
func PlaceholderEmail(name, externalID string) string {
	return fmt.Sprintf("%s.%s@%s", slug.Make(name), externalID, placeholderEmailDomain)
}

// ImportBatch applies a batch of raw billing records through the client
// registry. Per-record failures are isolated — skipped and counted, never
// fatal to the batch. The batch is interruptible between records; because
// every record routes through the idempotent upsert, a cut-off batch can be
// re-run from scratch safely.
func (s *ImportService) ImportBatch(ctx context.Context, records []map[string]string) ImportSummary {
	var summary ImportSummary

	for i, record := range records {
		if ctx.Err() != nil {
			summary.addError(fmt.Sprintf("import interrupted at record %d: %v", i+1, ctx.Err()))
			break
		}

		sub, err := ResolveSubscriberRecord(record)
		if err != nil {
			summary.Skipped++
			summary.addError(fmt.Sprintf("record %d: %v", i+1, err))
			continue
		}

		email := sub.Email
		if email == "" {
			email = PlaceholderEmail(sub.Name, sub.ExternalID)
		}
		_, created, err := s.Clients.UpsertByExternalID(ctx, UpsertClientInput{
			ExternalID:       sub.ExternalID,
			Name:             normalizeName(sub.Name),
			Email:            email,
			Phone:            sub.Phone,
			Username:         sub.Username,
			IsPaymentCurrent: sub.PaymentCurrent,
		})
		if err != nil {
			summary.Skipped++
			summary.addError(fmt.Sprintf("record %d (external_id=%s): %v", i+1, sub.ExternalID, err))
			continue
		}
		if created {
			summary.Created++
		} else {
			summary.Updated++
		}
	}

	log.Printf("[IMPORT] batch done: %d created, %d updated, %d skipped, %d errors",
		summary.Created, summary.Updated, summary.Skipped, summary.TotalErrors)
	return summary
}

func (s *ImportSummary) addError(msg string) {
	s.TotalErrors++
	if len(s.Errors) < importErrorSample {
		s.Errors = append(s.Errors, msg)
	}
}
