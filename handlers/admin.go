// handlers/admin.go
package handlers

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"referral-program-service/middleware"
	"referral-program-service/models"
	"referral-program-service/services"
	"referral-program-service/utils"

	"github.com/gofiber/fiber/v2"
)

// SetupEventRoutes registers the billing-system event sink. The billing
// gateway fires these when an installation completes or a monthly cycle
// becomes due; delivery is at-least-once, the engine dedupes.
func SetupEventRoutes(app *fiber.App, commissions *services.CommissionService) {
	app.Post("/events/installation", func(c *fiber.Ctx) error {
		var req struct {
			ExternalID string `json:"external_id"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		commission, err := commissions.RecordInstallation(c.Context(), req.ExternalID)
		if err != nil {
			return c.Status(services.StatusForError(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusCreated).JSON(commission)
	})

	app.Post("/events/monthly-cycle", func(c *fiber.Ctx) error {
		var req struct {
			ExternalID  string `json:"external_id"`
			PeriodIndex int    `json:"period_index"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		commission, err := commissions.RecordMonthlyCycle(c.Context(), req.ExternalID, req.PeriodIndex)
		if err != nil {
			return c.Status(services.StatusForError(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusCreated).JSON(commission)
	})
}

// SetupAdminRoutes registers staff operations. Supervisors read dashboards
// and manage commission lifecycle; settings mutation, imports, client
// deactivation and the destructive commission delete are administrator-only.
func SetupAdminRoutes(
	app *fiber.App,
	clients *services.ClientService,
	commissions *services.CommissionService,
	imports *services.ImportService,
	settings *services.SettingsService,
	dashboards *services.DashboardService,
) {
	staff := app.Group("/s/staff",
		middleware.UserContextMiddleware(),
		middleware.RequireRoles(middleware.RoleAdministrator, middleware.RoleSupervisor),
	)

	staff.Get("/referrers/:id/dashboard", func(c *fiber.Ctx) error {
		summary, err := dashboards.Summary(c.Context(), c.Params("id"))
		if err != nil {
			return c.Status(services.StatusForError(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(summary)
	})

	staff.Get("/clients", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit"))
		offset, _ := strconv.Atoi(c.Query("offset"))
		list, err := clients.List(c.Context(), limit, offset)
		if err != nil {
			return c.Status(services.StatusForError(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(list)
	})

	staff.Get("/commissions", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit"))
		offset, _ := strconv.Atoi(c.Query("offset"))
		list, err := commissions.ListCommissions(c.Context(), models.CommissionStatus(c.Query("status")), limit, offset)
		if err != nil {
			return c.Status(services.StatusForError(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(list)
	})

	staff.Get("/commissions/:id", func(c *fiber.Ctx) error {
		commission, err := commissions.GetCommission(c.Context(), c.Params("id"))
		if err != nil {
			return c.Status(services.StatusForError(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(commission)
	})

	staff.Post("/commissions/:id/apply", func(c *fiber.Ctx) error {
		var req struct {
			InvoiceRef string `json:"invoice_ref"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		commission, err := commissions.ApplyCommission(c.Context(), c.Params("id"), req.InvoiceRef)
		if err != nil {
			return c.Status(services.StatusForError(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(commission)
	})

	staff.Patch("/commissions/:id", func(c *fiber.Ctx) error {
		var patch services.CommissionPatch
		if err := c.BodyParser(&patch); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		commission, err := commissions.UpdateCommission(c.Context(), c.Params("id"), patch)
		if err != nil {
			return c.Status(services.StatusForError(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(commission)
	})

	staff.Get("/settings", func(c *fiber.Ctx) error {
		current, err := settings.Get(c.Context())
		if err != nil {
			return c.Status(services.StatusForError(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(current)
	})

	admin := app.Group("/s/admin",
		middleware.UserContextMiddleware(),
		middleware.RequireRoles(middleware.RoleAdministrator),
	)

	admin.Put("/settings", func(c *fiber.Ctx) error {
		var req models.ReferralSettings
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if err := settings.Save(c.Context(), &req); err != nil {
			return c.Status(services.StatusForError(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(req)
	})

	admin.Delete("/commissions/:id", func(c *fiber.Ctx) error {
		if err := commissions.DeleteCommission(c.Context(), c.Params("id")); err != nil {
			return c.Status(services.StatusForError(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"message": "commission deleted"})
	})

	admin.Post("/clients/:id/deactivate", func(c *fiber.Ctx) error {
		if err := clients.Deactivate(c.Context(), c.Params("id")); err != nil {
			return c.Status(services.StatusForError(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"message": "client deactivated"})
	})

	// Bulk reconciliation: delimited export uploaded by an operator.
	admin.Post("/imports/clients", func(c *fiber.Ctx) error {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file is required"})
		}
		file, err := fileHeader.Open()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "failed to open uploaded file"})
		}
		defer file.Close()

		raw, err := io.ReadAll(file)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "failed to read uploaded file"})
		}

		// Stage a local copy in the spool before parsing.
		spoolPath := utils.GetImportPath(fmt.Sprintf("%d_%s", time.Now().Unix(), fileHeader.Filename))
		if err := os.WriteFile(spoolPath, raw, 0o644); err != nil {
			log.Printf("⚠️  [IMPORT] failed to spool %s: %v", spoolPath, err)
		}

		records, err := parseDelimitedRecords(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		summary := imports.ImportBatch(c.Context(), records)

		// Archive the raw file for audit; the import result stands either way.
		key := fmt.Sprintf("imports/%s/%s", time.Now().UTC().Format("2006-01-02"), fileHeader.Filename)
		if err := utils.ArchiveImportFile(c.Context(), key, raw); err != nil {
			log.Printf("⚠️  [IMPORT] failed to archive %s: %v", key, err)
		}

		return c.JSON(summary)
	})
}

// parseDelimitedRecords turns a CSV export into the loosely-typed records
// the importer consumes. Short rows are padded so a ragged export still
// yields per-record results instead of aborting the batch.
func parseDelimitedRecords(raw []byte) ([]map[string]string, error) {
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}

	var records []map[string]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Keep going: a malformed line must not abort the batch.
			continue
		}
		record := make(map[string]string, len(header))
		for i, column := range header {
			if i < len(row) {
				record[column] = row[i]
			}
		}
		records = append(records, record)
	}
	return records, nil
}
