// workers/billing_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"referral-program-service/services"
)

// BillingSyncWorker pulls subscriber snapshots from the billing system's
// export endpoint and reconciles them through the import service. Records
// arrive loosely typed (column name → string value); the importer's keyword
// matching sorts out which column is which.
type BillingSyncWorker struct {
	imports      *services.ImportService
	interval     time.Duration
	baseURL      string // e.g., "http://billing.internal:8600"
	endpointPath string // e.g., "/api/v1/export/subscribers"
	serviceToken string
	httpClient   *http.Client
}

func NewBillingSyncWorker(imports *services.ImportService) *BillingSyncWorker {
	baseURL := os.Getenv("BILLING_SYNC_URL")
	if baseURL == "" {
		log.Fatal("BILLING_SYNC_URL environment variable is required")
	}
	token := os.Getenv("BILLING_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("BILLING_SERVICE_TOKEN environment variable is required for billing sync")
	}

	return &BillingSyncWorker{
		imports:      imports,
		interval:     15 * time.Minute,
		baseURL:      baseURL,
		endpointPath: "/api/v1/export/subscribers",
		serviceToken: token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (w *BillingSyncWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Billing Sync Worker (billing export → clients)…")
	go w.run(ctx)
}

func (w *BillingSyncWorker) run(ctx context.Context) {
	// Initial full sync; the idempotent upsert makes re-processing cheap.
	lastSyncTime := time.Time{}
	if next, err := w.syncBatch(ctx, lastSyncTime); err != nil {
		log.Printf("⚠️ Initial billing sync failed: %v", err)
	} else {
		lastSyncTime = next
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			next, err := w.syncBatch(ctx, lastSyncTime)
			if err != nil {
				// Watermark stays put — the same window is retried next tick.
				log.Printf("❌ Billing sync batch failed: %v", err)
				continue
			}
			lastSyncTime = next
		case <-ctx.Done():
			log.Println("⏹️ Billing Sync Worker stopped")
			return
		}
	}
}

// syncBatch fetches subscriber changes since the watermark and reconciles
// them. Returns the new watermark on success.
func (w *BillingSyncWorker) syncBatch(ctx context.Context, since time.Time) (time.Time, error) {
	batchStart := time.Now().UTC()
	sinceStr := since.UTC().Format(time.RFC3339)

	base, err := url.Parse(w.baseURL)
	if err != nil {
		return since, fmt.Errorf("invalid billing sync URL '%s': %w", w.baseURL, err)
	}
	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", sinceStr)
	endpointURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", endpointURL.String(), nil)
	if err != nil {
		return since, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return since, fmt.Errorf("HTTP request to billing system failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return since, fmt.Errorf("billing system returned %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Subscribers []map[string]string `json:"subscribers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return since, fmt.Errorf("failed to decode billing export: %w", err)
	}

	if len(response.Subscribers) == 0 {
		return batchStart, nil
	}

	log.Printf("[SYNC] 📥 Reconciling %d subscriber record(s) since %s…", len(response.Subscribers), sinceStr)
	summary := w.imports.ImportBatch(ctx, response.Subscribers)
	log.Printf("[SYNC] ✅ Reconciled: %d created, %d updated, %d skipped, %d errors",
		summary.Created, summary.Updated, summary.Skipped, summary.TotalErrors)

	if ctx.Err() != nil {
		// Cut-off batch: keep the old watermark, already-applied upserts stand.
		return since, ctx.Err()
	}
	return batchStart, nil
}
