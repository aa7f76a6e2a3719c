package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/roombus/roombus-server/internal/credential"
	"github.com/roombus/roombus-server/internal/httputil"
)

// ApiKeysHandler serves the credential gateway's CRUD endpoints under /api-keys. Callers are expected to sit
// behind httputil.RequireServiceKey.
type ApiKeysHandler struct {
	svc *credential.Service
}

// NewApiKeysHandler returns an ApiKeysHandler backed by svc.
func NewApiKeysHandler(svc *credential.Service) *ApiKeysHandler {
	return &ApiKeysHandler{svc: svc}
}

type createKeyRequest struct {
	ProjectID   string `json:"projectId"`
	Description string `json:"description"`
	CreatedBy   string `json:"createdBy"`
}

// Create handles POST /api-keys. The plaintext key is returned exactly once, in this response.
func (h *ApiKeysHandler) Create(c fiber.Ctx) error {
	var req createKeyRequest
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "invalid request body")
	}

	key, plaintext, err := h.svc.Create(c.Context(), credential.CreateParams{
		ProjectID:   req.ProjectID,
		CreatedBy:   req.CreatedBy,
		Description: req.Description,
	})
	if err != nil {
		switch {
		case errors.Is(err, credential.ErrInvalidProjectID):
			return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, err.Error())
		case errors.Is(err, credential.ErrAlreadyActive):
			return httputil.Fail(c, fiber.StatusConflict, httputil.CodeConflict, err.Error())
		default:
			return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "failed to create api key")
		}
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, fiber.Map{
		"id":          key.ID,
		"projectId":   key.ProjectID,
		"apiKey":      plaintext,
		"keyPrefix":   key.KeyPrefix,
		"createdAt":   key.CreatedAt,
		"createdBy":   key.CreatedBy,
		"description": key.Description,
	})
}

// List handles GET /api-keys.
func (h *ApiKeysHandler) List(c fiber.Ctx) error {
	keys, err := h.svc.List(c.Context())
	if err != nil {
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "failed to list api keys")
	}
	return httputil.Success(c, toSummaries(keys))
}

// Get handles GET /api-keys/:projectId.
func (h *ApiKeysHandler) Get(c fiber.Ctx) error {
	projectID := c.Params("projectId")
	key, err := h.svc.Describe(c.Context(), projectID)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "api key not found")
		}
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "failed to describe api key")
	}
	return httputil.Success(c, summaryOf(*key))
}

// Revoke handles DELETE /api-keys/:projectId.
func (h *ApiKeysHandler) Revoke(c fiber.Ctx) error {
	projectID := c.Params("projectId")
	if err := h.svc.Revoke(c.Context(), projectID); err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "api key not found")
		}
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "failed to revoke api key")
	}
	return httputil.Success(c, fiber.Map{"projectId": projectID, "revoked": true})
}

// keySummary is the public projection of an ApiKey row; the hash is never exposed over HTTP.
type keySummary struct {
	ID          int64      `json:"id"`
	ProjectID   string     `json:"projectId"`
	KeyPrefix   string     `json:"keyPrefix"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
	IsActive    bool       `json:"isActive"`
	CreatedBy   string     `json:"createdBy,omitempty"`
	Description string     `json:"description,omitempty"`
}

func summaryOf(k credential.ApiKey) keySummary {
	return keySummary{
		ID:          k.ID,
		ProjectID:   k.ProjectID,
		KeyPrefix:   k.KeyPrefix,
		CreatedAt:   k.CreatedAt,
		LastUsedAt:  k.LastUsedAt,
		IsActive:    k.IsActive,
		CreatedBy:   k.CreatedBy,
		Description: k.Description,
	}
}

func toSummaries(keys []credential.ApiKey) []keySummary {
	out := make([]keySummary, len(keys))
	for i, k := range keys {
		out[i] = summaryOf(k)
	}
	return out
}
