package api

import (
	"bytes"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Mercury0/talon/internal/store"
)

// defaultListLimit bounds unqualified listing requests.
const defaultListLimit = 100

// AlertHandler serves read-only requests against the local alert cache.
type AlertHandler struct {
	alertStore store.AlertStore
	logger     *slog.Logger
}

// NewAlertHandler creates a new alert handler.
func NewAlertHandler(alertStore store.AlertStore, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{
		alertStore: alertStore,
		logger:     logger,
	}
}

// List handles GET /v1/alerts
// Returns cached alerts newest-first, up to ?limit= entries.
func (h *AlertHandler) List(c *fiber.Ctx) error {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil || l < 0 {
			return BadRequest(c, "limit must be a non-negative integer")
		}
		limit = l
	}

	rows, err := h.alertStore.ListRecent(c.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list alerts", "error", err)
		return InternalError(c, "failed to list alerts")
	}

	return Success(c, rows)
}

// GetByID handles GET /v1/alerts/:id
// Returns a single cached alert by its display id, including the
// complete original record.
func (h *AlertHandler) GetByID(c *fiber.Ctx) error {
	displayID := c.Params("id")
	if displayID == "" {
		return BadRequest(c, "id is required")
	}

	stored, err := h.alertStore.GetByDisplayID(c.Context(), displayID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFound(c, "alert not found")
		}
		h.logger.Error("failed to get alert", "displayID", displayID, "error", err)
		return InternalError(c, "failed to get alert")
	}

	return Success(c, stored)
}

// GetStats handles GET /v1/stats
// Returns cache aggregates, restricted to one UTC day when ?date= is
// given as YYYY-MM-DD.
func (h *AlertHandler) GetStats(c *fiber.Ctx) error {
	date := c.Query("date")
	if date != "" {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return BadRequest(c, "date must be YYYY-MM-DD")
		}
	}

	stats, err := h.alertStore.Stats(c.Context(), date)
	if err != nil {
		h.logger.Error("failed to compute stats", "date", date, "error", err)
		return InternalError(c, "failed to compute stats")
	}

	return Success(c, stats)
}

// ExportCSV handles GET /v1/export/csv
// Streams the full cache as a CSV download.
func (h *AlertHandler) ExportCSV(c *fiber.Ctx) error {
	var buf bytes.Buffer
	count, err := h.alertStore.ExportCSV(c.Context(), &buf)
	if err != nil {
		h.logger.Error("failed to export csv", "error", err)
		return InternalError(c, "failed to export alerts")
	}

	h.logger.Info("served csv export", "alerts", count)
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="db.csv"`)
	return c.Send(buf.Bytes())
}

// ExportJSON handles GET /v1/export/json
// Streams the complete original records as a JSON array download.
func (h *AlertHandler) ExportJSON(c *fiber.Ctx) error {
	var buf bytes.Buffer
	count, err := h.alertStore.ExportJSON(c.Context(), &buf)
	if err != nil {
		h.logger.Error("failed to export json", "error", err)
		return InternalError(c, "failed to export alerts")
	}

	h.logger.Info("served json export", "alerts", count)
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="db.json"`)
	return c.Send(buf.Bytes())
}
