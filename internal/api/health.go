package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"

	"github.com/roombus/roombus-server/internal/config"
	"github.com/roombus/roombus-server/internal/credential"
	"github.com/roombus/roombus-server/internal/httputil"
	"github.com/roombus/roombus-server/internal/room"
)

// HealthHandler serves the worker-level liveness probe and the per-Room health/status endpoints. The worker-level
// and per-Room health checks share the /health path and are distinguished only by the presence of a projectId query
// parameter; the per-Room snapshot is served on /status.
type HealthHandler struct {
	rdb         *redis.Client
	registry    *room.Registry
	credentials *credential.Service
	cfg         *config.Config
}

// NewHealthHandler returns a HealthHandler backed by rdb and registry.
func NewHealthHandler(rdb *redis.Client, registry *room.Registry, credentials *credential.Service, cfg *config.Config) *HealthHandler {
	return &HealthHandler{rdb: rdb, registry: registry, credentials: credentials, cfg: cfg}
}

// Health answers GET /health. With no projectId it reports worker-level liveness. With a projectId it falls into
// the Front Router's catch-all gate (format + apiKey validation) before reporting that Room's liveness, creating
// the Room on first access the same way any other Room-bound request would.
func (h *HealthHandler) Health(c fiber.Ctx) error {
	if c.Query("projectId") == "" {
		return h.workerHealth(c)
	}

	projectID, err := requireProject(c, h.cfg, h.credentials)
	if err != nil {
		return err
	}

	rm := h.registry.GetOrCreate(projectID)
	snap := rm.Status()
	return httputil.Success(c, fiber.Map{
		"status":    "healthy",
		"projectId": snap.ProjectID,
		"timestamp": time.Now().UnixMilli(),
	})
}

func (h *HealthHandler) workerHealth(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	storeStatus := "ok"
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		storeStatus = "unavailable"
	}

	status := fiber.StatusOK
	overall := "healthy"
	if storeStatus != "ok" {
		status = fiber.StatusServiceUnavailable
		overall = "degraded"
	}

	return httputil.SuccessStatus(c, status, fiber.Map{
		"status":    overall,
		"store":     storeStatus,
		"rooms":     h.registry.Count(),
		"timestamp": time.Now().UnixMilli(),
	})
}

// Status answers GET /status?projectId=P with a connection snapshot of the Room, subject to the same format and
// apiKey gate as every other projectId-bound route.
func (h *HealthHandler) Status(c fiber.Ctx) error {
	projectID, err := requireProject(c, h.cfg, h.credentials)
	if err != nil {
		return err
	}
	rm := h.registry.GetOrCreate(projectID)
	return httputil.Success(c, rm.Status())
}
