package api

import (
	"github.com/gofiber/fiber/v3"

	"github.com/roombus/roombus-server/internal/config"
	"github.com/roombus/roombus-server/internal/credential"
	"github.com/roombus/roombus-server/internal/httputil"
	"github.com/roombus/roombus-server/internal/wire"
)

// requireProject implements the Front Router's catch-all decision rule shared by every route that takes a
// projectId: require the query parameter, validate it against the id format, and require a valid apiKey unless the
// project is in the configured bypass set. Returns the projectId on success; on failure it has already written the
// response and the caller must return the error as-is.
func requireProject(c fiber.Ctx, cfg *config.Config, credentials *credential.Service) (string, error) {
	projectID := c.Query("projectId")
	if projectID == "" {
		return "", httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, wire.ErrMissingProjectID.Error())
	}
	if !credential.ValidProjectID(projectID) {
		return "", httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, wire.ErrInvalidProjectID.Error())
	}

	if !cfg.BypassesKeyCheck(projectID) {
		apiKey := c.Query("apiKey")
		if apiKey == "" {
			apiKey = c.Get("x-api-key")
		}
		if apiKey == "" {
			return "", httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, wire.ErrMissingAPIKey.Error())
		}
		if !credentials.Validate(c.Context(), projectID, apiKey) {
			return "", httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, wire.ErrInvalidAPIKey.Error())
		}
	}

	return projectID, nil
}
