package api

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/roombus/roombus-server/internal/httputil"
	"github.com/roombus/roombus-server/internal/usage"
)

// usageDayLookback bounds how many daily buckets Report scans backwards from today before truncating to the
// newest 30 non-empty entries the response contract promises.
const usageDayLookback = 30

// UsageHandler serves GET /usage.
type UsageHandler struct {
	counter *usage.Counter
}

// NewUsageHandler returns a UsageHandler backed by counter.
func NewUsageHandler(counter *usage.Counter) *UsageHandler {
	return &UsageHandler{counter: counter}
}

// Report handles GET /usage?projectId=P.
func (h *UsageHandler) Report(c fiber.Ctx) error {
	projectID := c.Query("projectId")
	if projectID == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "missing projectId")
	}

	report, err := h.counter.Report(c.Context(), projectID, time.Now(), usageDayLookback)
	if err != nil {
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "failed to read usage")
	}
	return httputil.Success(c, report)
}
